package choke

import (
	"testing"

	"github.com/Elegant996/bitsyd/core/peerconn"
)

func TestQueueCycleUnchokesTopRanked(t *testing.T) {
	q := NewQueue(UploadLeech)
	var choked, unchoked []*peerconn.Info
	q.OnConnection = func(c *peerconn.Info, choke bool) bool {
		if choke {
			choked = append(choked, c)
		} else {
			unchoked = append(unchoked, c)
		}
		return true
	}

	fast := &peerconn.Info{Interested: true, UploadRate: 100}
	slow := &peerconn.Info{Interested: true, UploadRate: 10}
	notInterested := &peerconn.Info{Interested: false, UploadRate: 1000}

	q.Insert(fast)
	q.Insert(slow)
	q.Insert(notInterested)

	delta := q.Cycle(1)
	if delta != 1 {
		t.Fatalf("Cycle(1) delta = %d, want 1", delta)
	}
	if q.SizeUnchoked() != 1 {
		t.Fatalf("SizeUnchoked() = %d, want 1", q.SizeUnchoked())
	}
	if len(unchoked) != 1 || unchoked[0] != fast {
		t.Fatalf("unchoked = %v, want [fast]", unchoked)
	}
}

func TestQueueCycleReshufflesOnNarrowerQuota(t *testing.T) {
	q := NewQueue(UploadLeech)
	a := &peerconn.Info{Interested: true, UploadRate: 10}
	b := &peerconn.Info{Interested: true, UploadRate: 20}
	q.Insert(a)
	q.Insert(b)

	q.Cycle(2)
	if q.SizeUnchoked() != 2 {
		t.Fatalf("SizeUnchoked() = %d, want 2", q.SizeUnchoked())
	}

	delta := q.Cycle(1)
	if delta != -1 {
		t.Fatalf("Cycle(1) delta = %d, want -1", delta)
	}
	if !q.unchoked[b] {
		t.Fatal("higher-rate peer should remain unchoked when quota shrinks")
	}
}

func TestQueueCycleUnlimited(t *testing.T) {
	q := NewQueue(DownloadLeech)
	for i := 0; i < 5; i++ {
		q.Insert(&peerconn.Info{Interesting: true, DownloadRate: int64(i)})
	}

	delta := q.Cycle(Unlimited)
	if delta != 5 {
		t.Fatalf("Cycle(Unlimited) delta = %d, want 5", delta)
	}
	if q.Requested() != 0 {
		t.Fatalf("Requested() = %d, want 0 once everyone eligible is unchoked", q.Requested())
	}
}

func TestQueueEraseUnchokedFiresCallback(t *testing.T) {
	q := NewQueue(UploadLeech)
	var deltas []int
	q.OnUnchoke = func(d int) { deltas = append(deltas, d) }

	c := &peerconn.Info{Interested: true}
	q.Insert(c)
	q.Cycle(Unlimited)

	q.Erase(c)
	if len(deltas) != 1 || deltas[0] != -1 {
		t.Fatalf("deltas = %v, want [-1]", deltas)
	}
}

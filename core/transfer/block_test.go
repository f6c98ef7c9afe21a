package transfer

import (
	"testing"

	"github.com/Elegant996/bitsyd/core/peerconn"
)

func TestBlockRequestAndComplete(t *testing.T) {
	b := newBlock(Piece{Index: 0, Length: 16}, span{0, 16})
	p1 := &peerconn.Info{ID: [20]byte{1}}
	p2 := &peerconn.Info{ID: [20]byte{2}}

	t1 := b.Request(p1)
	t2 := b.Request(p2)
	if b.State() != Outstanding {
		t.Fatalf("State() = %v, want Outstanding", b.State())
	}

	if !b.Complete(t1) {
		t.Fatal("Complete(t1) = false, want true")
	}
	if b.State() != Finished {
		t.Fatalf("State() = %v, want Finished", b.State())
	}
	if t1.IsValid() != true {
		t.Fatal("leader transfer should remain valid")
	}
	if t2.IsValid() {
		t.Fatal("non-leader transfer should be invalidated")
	}

	// Completing an already-finished block is a caller error.
	if b.Complete(t2) {
		t.Fatal("Complete on a finished block should return false")
	}
}

func TestBlockUpdateFailedPromotion(t *testing.T) {
	b := newBlock(Piece{Index: 0, Length: 16}, span{0, 16})

	alpha := []byte("alpha-variant-16")
	beta := []byte("beta--variant-16")

	if promoted := b.updateFailed(alpha); promoted {
		t.Fatal("first-ever variant should never be 'promoted'")
	}
	if promoted := b.updateFailed(beta); promoted {
		t.Fatal("second distinct variant should not be 'promoted' either")
	}
	// alpha gets a second vote (1 -> 2); alpha was already the leading
	// variant (earliest of the 1-1 tie), so this is not a promotion.
	if promoted := b.updateFailed(alpha); promoted {
		t.Fatal("bumping the already-leading variant should not count as promoted")
	}
	// beta gets a second vote (1 -> 2), tying alpha, the previous leader.
	if promoted := b.updateFailed(beta); !promoted {
		t.Fatal("bumping beta to tie the prior max should count as promoted")
	}

	if got := b.mostPopularIndex(); b.failed[got].refs != 2 {
		t.Fatalf("mostPopularIndex refs = %d, want 2", b.failed[got].refs)
	}
}

func TestBlockReset(t *testing.T) {
	b := newBlock(Piece{Index: 0, Length: 16}, span{0, 16})
	p := &peerconn.Info{ID: [20]byte{1}}
	tr := b.Request(p)
	b.Complete(tr)
	b.updateFailed([]byte("some-bytes-here!"))

	b.Reset()

	if b.State() != Idle {
		t.Fatalf("State() after Reset = %v, want Idle", b.State())
	}
	if b.Leader() != nil {
		t.Fatal("Reset should clear the leader")
	}
	if len(b.failed) != 0 {
		t.Fatal("Reset should clear failed-variant history")
	}
	if tr.IsValid() {
		t.Fatal("Reset should invalidate the prior leader transfer")
	}
}

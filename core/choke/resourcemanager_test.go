package choke

import (
	"testing"

	"github.com/Elegant996/bitsyd/core/peerconn"
	"github.com/Elegant996/bitsyd/engineerr"
)

func TestPushGroupRejectsDuplicateAndEmptyNames(t *testing.T) {
	rm := New(0, 0)
	if _, err := rm.PushGroup("default"); err != nil {
		t.Fatal(err)
	}
	if _, err := rm.PushGroup("default"); engineerr.KindOf(err) != engineerr.BadArgument {
		t.Fatalf("duplicate name err kind = %v, want BadArgument", engineerr.KindOf(err))
	}
	if _, err := rm.PushGroup(""); engineerr.KindOf(err) != engineerr.BadArgument {
		t.Fatalf("empty name err kind = %v, want BadArgument", engineerr.KindOf(err))
	}
}

func TestInsertErasePartitionsByGroup(t *testing.T) {
	rm := New(0, 0)
	rm.PushGroup("a")
	rm.PushGroup("b")

	e1 := NewEntry("dl1")
	e2 := NewEntry("dl2")
	e3 := NewEntry("dl3")

	if err := rm.Insert(e1, 0); err != nil {
		t.Fatal(err)
	}
	if err := rm.Insert(e2, 1); err != nil {
		t.Fatal(err)
	}
	if err := rm.Insert(e3, 0); err != nil {
		t.Fatal(err)
	}

	ga, _ := rm.GroupAt(0)
	gb, _ := rm.GroupAt(1)
	if ga.Size() != 2 {
		t.Fatalf("group a size = %d, want 2", ga.Size())
	}
	if gb.Size() != 1 {
		t.Fatalf("group b size = %d, want 1", gb.Size())
	}

	if err := rm.validateGroupIterators(); err != nil {
		t.Fatal(err)
	}

	if err := rm.Erase(e1); err != nil {
		t.Fatal(err)
	}
	if ga.Size() != 1 {
		t.Fatalf("group a size after erase = %d, want 1", ga.Size())
	}
	if err := rm.validateGroupIterators(); err != nil {
		t.Fatal(err)
	}
}

func TestSetGroupMovesEntry(t *testing.T) {
	rm := New(0, 0)
	rm.PushGroup("a")
	rm.PushGroup("b")

	e := NewEntry("dl1")
	rm.Insert(e, 0)

	if err := rm.SetGroup(e, 1); err != nil {
		t.Fatal(err)
	}
	if e.Group() != 1 {
		t.Fatalf("Group() = %d, want 1", e.Group())
	}

	ga, _ := rm.GroupAt(0)
	gb, _ := rm.GroupAt(1)
	if ga.Size() != 0 || gb.Size() != 1 {
		t.Fatalf("sizes = %d,%d want 0,1", ga.Size(), gb.Size())
	}
	if err := rm.validateGroupIterators(); err != nil {
		t.Fatal(err)
	}
}

func TestSetPriorityRange(t *testing.T) {
	rm := New(0, 0)
	rm.PushGroup("a")
	e := NewEntry("dl1")
	rm.Insert(e, 0)

	if err := rm.SetPriority(e, MaxPriority); err != nil {
		t.Fatal(err)
	}
	if err := rm.SetPriority(e, MaxPriority+1); engineerr.KindOf(err) != engineerr.BadArgument {
		t.Fatalf("err kind = %v, want BadArgument", engineerr.KindOf(err))
	}
	if err := rm.SetPriority(e, -1); engineerr.KindOf(err) != engineerr.BadArgument {
		t.Fatalf("err kind = %v, want BadArgument", engineerr.KindOf(err))
	}
}

func TestReceiveUploadUnchokeRejectsNegative(t *testing.T) {
	rm := New(0, 0)
	if err := rm.ReceiveUploadUnchoke(-1); engineerr.KindOf(err) != engineerr.Internal {
		t.Fatalf("err kind = %v, want Internal", engineerr.KindOf(err))
	}
}

func TestCanUnchokeUnlimitedWhenMaxZero(t *testing.T) {
	rm := New(0, 0)
	if rm.CanUnchokeUpload() <= 0 {
		t.Fatal("CanUnchokeUpload() should report an effectively unlimited budget")
	}
}

func TestReceiveTickBalancesAcrossGroups(t *testing.T) {
	rm := New(2, 0)
	ga, _ := rm.PushGroup("a")
	gb, _ := rm.PushGroup("b")

	// Group a requests fewer slots than group b, so it should be
	// serviced first and leave its surplus for group b.
	a1 := &peerconn.Info{Interested: true, UploadRate: 1}
	ga.Up.Insert(a1)

	b1 := &peerconn.Info{Interested: true, UploadRate: 5}
	b2 := &peerconn.Info{Interested: true, UploadRate: 4}
	gb.Up.Insert(b1)
	gb.Up.Insert(b2)

	ea := NewEntry("a-download")
	eb := NewEntry("b-download")
	rm.Insert(ea, 0)
	rm.Insert(eb, 1)

	if err := rm.ReceiveTick(); err != nil {
		t.Fatal(err)
	}

	if ga.Up.SizeUnchoked()+gb.Up.SizeUnchoked() != 2 {
		t.Fatalf("total unchoked = %d, want 2", ga.Up.SizeUnchoked()+gb.Up.SizeUnchoked())
	}
}

func TestReceiveTickUnlimitedRunsUncappedPerGroup(t *testing.T) {
	rm := New(0, 0)
	g, _ := rm.PushGroup("a")
	for i := 0; i < 3; i++ {
		g.Up.Insert(&peerconn.Info{Interested: true, UploadRate: int64(i)})
	}

	e := NewEntry("dl")
	rm.Insert(e, 0)

	if err := rm.ReceiveTick(); err != nil {
		t.Fatal(err)
	}
	if g.Up.SizeUnchoked() != 3 {
		t.Fatalf("SizeUnchoked() = %d, want 3", g.Up.SizeUnchoked())
	}
}

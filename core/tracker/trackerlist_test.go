package tracker

import (
	"errors"
	"testing"
)

var errNegativeUnchoke = errors.New("fake tracker send failure")

type fakeTracker struct {
	base
	sendErr error
	calls   int
}

func newFakeTracker(parent *TrackerList, url string, group int) *fakeTracker {
	return &fakeTracker{base: newBase(parent, url, group, FlagEnabled)}
}

func (f *fakeTracker) IsBusy() bool { return false }
func (f *fakeTracker) SendState(event Event, stats Stats) error {
	f.calls++
	if f.sendErr != nil {
		f.parent.receiveFailed(f, f.sendErr)
		return f.sendErr
	}
	f.parent.receiveSuccess(f, Result{})
	return nil
}
func (f *fakeTracker) SendScrape(infoHash [20]byte) error { return nil }
func (f *fakeTracker) Close()                             {}
func (f *fakeTracker) Disown()                            {}

func TestInsertURLDispatchesByScheme(t *testing.T) {
	tl := New([20]byte{}, [20]byte{})

	httpT, err := tl.InsertURL("http://a.example.com/announce", 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := httpT.(*HTTPTracker); !ok {
		t.Fatalf("expected *HTTPTracker, got %T", httpT)
	}

	udpT, err := tl.InsertURL("udp://b.example.com:6969/announce", 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := udpT.(*UDPTracker); !ok {
		t.Fatalf("expected *UDPTracker, got %T", udpT)
	}

	if _, err := tl.InsertURL("ftp://c.example.com", 0); err == nil {
		t.Fatal("expected unsupported scheme to fail")
	}
}

func TestFindNextToRequestSkipsDisabled(t *testing.T) {
	tl := New([20]byte{}, [20]byte{})
	a := newFakeTracker(tl, "http://a", 0)
	a.flags &^= FlagEnabled
	b := newFakeTracker(tl, "http://b", 0)

	tl.groups = [][]*entry{{{t: a}, {t: b}}}

	got, ok := tl.FindNextToRequest(0)
	if !ok || got != b {
		t.Fatalf("FindNextToRequest = %v,%v want b,true", got, ok)
	}
}

func TestCycleGroupRotatesFront(t *testing.T) {
	tl := New([20]byte{}, [20]byte{})
	a := newFakeTracker(tl, "http://a", 0)
	b := newFakeTracker(tl, "http://b", 0)
	tl.groups = [][]*entry{{{t: a}, {t: b}}}

	tl.CycleGroup(0)
	if tl.groups[0][0].t != b || tl.groups[0][1].t != a {
		t.Fatalf("order after cycle = %v", tl.groups[0])
	}
}

func TestPromoteMovesSuccessfulTrackerToFront(t *testing.T) {
	tl := New([20]byte{}, [20]byte{})
	a := newFakeTracker(tl, "http://a", 0)
	b := newFakeTracker(tl, "http://b", 0)
	c := newFakeTracker(tl, "http://c", 0)
	tl.groups = [][]*entry{{{t: a}, {t: b}, {t: c}}}

	tl.Promote(c)
	if tl.groups[0][0].t != c || tl.groups[0][1].t != b || tl.groups[0][2].t != a {
		t.Fatalf("order after promote = %v, want [c,b,a]", tl.groups[0])
	}
}

func TestReceiveFailedDisablesAfterThreshold(t *testing.T) {
	tl := New([20]byte{}, [20]byte{})
	a := newFakeTracker(tl, "http://a", 0)
	tl.groups = [][]*entry{{{t: a}}}

	for i := 0; i < disableAfterFailures; i++ {
		tl.receiveFailed(a, errNegativeUnchoke)
	}
	if a.IsUsable() {
		t.Fatal("tracker should be disabled after repeated failures")
	}
}

func TestReceiveSuccessResetsFailureStreak(t *testing.T) {
	tl := New([20]byte{}, [20]byte{})
	a := newFakeTracker(tl, "http://a", 0)
	tl.groups = [][]*entry{{{t: a}}}

	tl.receiveFailed(a, errNegativeUnchoke)
	tl.receiveFailed(a, errNegativeUnchoke)
	tl.receiveSuccess(a, Result{})

	e := tl.findEntry(a)
	if e.consecutiveFail != 0 {
		t.Fatalf("consecutiveFail = %d, want 0", e.consecutiveFail)
	}
}

func TestRandomizeGroupEntriesAppliesPermutation(t *testing.T) {
	tl := New([20]byte{}, [20]byte{})
	a := newFakeTracker(tl, "http://a", 0)
	b := newFakeTracker(tl, "http://b", 0)
	tl.groups = [][]*entry{{{t: a}, {t: b}}}

	if err := tl.RandomizeGroupEntries(0, []int{1, 0}); err != nil {
		t.Fatal(err)
	}
	if tl.groups[0][0].t != b || tl.groups[0][1].t != a {
		t.Fatalf("order = %v", tl.groups[0])
	}
}

func TestSendStateFailsOverAcrossGroups(t *testing.T) {
	tl := New([20]byte{}, [20]byte{})
	a := newFakeTracker(tl, "http://a", 0)
	a.sendErr = errNegativeUnchoke
	b := newFakeTracker(tl, "http://b", 1)
	tl.groups = [][]*entry{{{t: a}}, {{t: b}}}

	if err := tl.SendState(EventStarted, 6881, 0, 0, 0); err != nil {
		t.Fatal(err)
	}
	if a.calls != 1 || b.calls != 1 {
		t.Fatalf("calls a=%d b=%d, want 1,1", a.calls, b.calls)
	}
}

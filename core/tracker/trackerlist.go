package tracker

import (
	"net/url"
	"strings"
	"time"

	"github.com/Elegant996/bitsyd/engineerr"
)

const disableAfterFailures = 4

// entry pairs a Tracker with the failure streak TrackerList uses to
// decide when to stop trying it.
type entry struct {
	t               Tracker
	consecutiveFail int
}

// TrackerList owns every Tracker for one torrent, partitioned into
// BEP-12 announce-list tiers ("groups"), and implements failover:
// within a group the next usable tracker is requested first, and a
// tracker promoted to the front of its group after a success stays
// there until it fails.
type TrackerList struct {
	InfoHash [20]byte
	PeerID   [20]byte

	groups [][]*entry

	OnSuccess func(t Tracker, result Result)
	OnFailed  func(t Tracker, err error)
}

// New returns an empty TrackerList for the given torrent identity.
func New(infoHash, peerID [20]byte) *TrackerList {
	return &TrackerList{InfoHash: infoHash, PeerID: peerID}
}

// InsertURL adds rawURL to group, creating the group (and any empty
// groups before it) if needed. The URL's scheme selects the Tracker
// implementation.
func (tl *TrackerList) InsertURL(rawURL string, group int) (Tracker, error) {
	const op engineerr.Op = "tracker.TrackerList.InsertURL"

	if group < 0 {
		return nil, engineerr.Wrap(engineerr.New("group must be >= 0"), op, engineerr.BadArgument)
	}
	for len(tl.groups) <= group {
		tl.groups = append(tl.groups, nil)
	}

	t, err := tl.newTracker(rawURL, group)
	if err != nil {
		return nil, engineerr.Wrap(err, op, engineerr.BadArgument)
	}

	tl.groups[group] = append(tl.groups[group], &entry{t: t})
	return t, nil
}

func (tl *TrackerList) newTracker(rawURL string, group int) (Tracker, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}

	flags := FlagEnabled
	if group > 0 {
		flags |= FlagExtraTracker
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return NewHTTPTracker(tl, rawURL, group, flags), nil
	case "udp":
		return NewUDPTracker(tl, rawURL, group, flags), nil
	default:
		return nil, engineerr.Newf("tracker: unsupported scheme %q", u.Scheme)
	}
}

// FindNextToRequest picks the tracker in group that should be asked to
// announce next. The first usable, non-busy tracker wins outright if
// it has never failed; otherwise later usable trackers are compared by
// failedTimeNext (earliest wins), and a tracker that has never failed
// only takes over if its successTimeNext beats the best failedTimeNext
// so far, after which the scan stops.
func (tl *TrackerList) FindNextToRequest(group int) (Tracker, bool) {
	if group < 0 || group >= len(tl.groups) {
		return nil, false
	}
	g := tl.groups[group]

	i := 0
	for i < len(g) && !canRequestState(g[i].t) {
		i++
	}
	if i >= len(g) {
		return nil, false
	}

	preferred := g[i].t
	if preferred.FailedCounter() == 0 {
		return preferred, true
	}

	for j := i + 1; j < len(g); j++ {
		t := g[j].t
		if !canRequestState(t) {
			continue
		}

		if t.FailedCounter() != 0 {
			if failedTimeNext(t).Before(failedTimeNext(preferred)) {
				preferred = t
			}
		} else {
			if successTimeNext(t).Before(failedTimeNext(preferred)) {
				preferred = t
			}
			break
		}
	}

	return preferred, true
}

func canRequestState(t Tracker) bool {
	return t.IsUsable() && !t.IsBusy()
}

// failedTimeNext is when t becomes eligible for its next retry after a
// failed announce: its min interval after the last failure.
func failedTimeNext(t Tracker) time.Time {
	return t.FailedTimeLast().Add(t.MinInterval())
}

// successTimeNext is when t's next regular announce falls due: its
// normal interval after the last success.
func successTimeNext(t Tracker) time.Time {
	return t.SuccessTimeLast().Add(t.NormalInterval())
}

// CycleGroup rotates group's first entry to the back, used after a
// tracker in front has been given its chance and failed; the next
// call to FindNextToRequest then tries the one behind it.
func (tl *TrackerList) CycleGroup(group int) {
	if group < 0 || group >= len(tl.groups) || len(tl.groups[group]) < 2 {
		return
	}
	g := tl.groups[group]
	tl.groups[group] = append(g[1:], g[0])
}

// Promote swaps t with the first entry of its group. The original
// calls this on every receive_success so that a tracker which just
// answered is tried first next time; it is a single swap
// (std::swap(*first, *itr)), not a rotation of the entries between.
func (tl *TrackerList) Promote(t Tracker) {
	group := t.Group()
	if group < 0 || group >= len(tl.groups) {
		return
	}
	g := tl.groups[group]
	for i, e := range g {
		if e.t == t {
			g[0], g[i] = g[i], g[0]
			return
		}
	}
}

// RandomizeGroupEntries shuffles group's order using the supplied
// permutation (order must be a permutation of [0,len)); this repo
// leaves the actual randomness source to the caller rather than
// reaching for math/rand's global state from library code.
func (tl *TrackerList) RandomizeGroupEntries(group int, order []int) error {
	const op engineerr.Op = "tracker.TrackerList.RandomizeGroupEntries"

	if group < 0 || group >= len(tl.groups) {
		return engineerr.Wrap(engineerr.New("group not found"), op, engineerr.BadArgument)
	}
	g := tl.groups[group]
	if len(order) != len(g) {
		return engineerr.Wrap(engineerr.New("order length mismatch"), op, engineerr.BadArgument)
	}

	out := make([]*entry, len(g))
	seen := make([]bool, len(g))
	for dst, src := range order {
		if src < 0 || src >= len(g) || seen[src] {
			return engineerr.Wrap(engineerr.New("order is not a permutation"), op, engineerr.BadArgument)
		}
		seen[src] = true
		out[dst] = g[src]
	}
	tl.groups[group] = out
	return nil
}

// SendState announces event to the next usable tracker in each group
// in turn, stopping at the first group whose announce succeeds —
// BitTorrent's tiered announce-list semantics.
func (tl *TrackerList) SendState(event Event, localPort uint16, uploaded, downloaded, left int64) error {
	const op engineerr.Op = "tracker.TrackerList.SendState"

	stats := Stats{
		InfoHash:   tl.InfoHash,
		PeerID:     tl.PeerID,
		Port:       localPort,
		Uploaded:   uploaded,
		Downloaded: downloaded,
		Left:       left,
		NumWant:    50,
	}

	var lastErr error
	for group := range tl.groups {
		t, ok := tl.FindNextToRequest(group)
		if !ok {
			continue
		}
		if err := t.SendState(event, stats); err != nil {
			lastErr = err
			continue
		}
		return nil
	}

	if lastErr != nil {
		return engineerr.Wrap(lastErr, op, engineerr.Internal)
	}
	return engineerr.Wrap(engineerr.New("no usable tracker"), op, engineerr.Internal)
}

// SendScrape requests scrape data from every tracker across every
// group that supports it.
func (tl *TrackerList) SendScrape() error {
	const op engineerr.Op = "tracker.TrackerList.SendScrape"

	var lastErr error
	attempted := false
	for _, g := range tl.groups {
		for _, e := range g {
			if !e.t.CanScrape() {
				continue
			}
			attempted = true
			if err := e.t.SendScrape(tl.InfoHash); err != nil {
				lastErr = err
			}
		}
	}
	if !attempted {
		return nil
	}
	if lastErr != nil {
		return engineerr.Wrap(lastErr, op, engineerr.Internal)
	}
	return nil
}

// receiveSuccess resets t's failure streak, promotes it to the front
// of its group, and forwards the result upstream.
func (tl *TrackerList) receiveSuccess(t Tracker, result Result) {
	if e := tl.findEntry(t); e != nil {
		e.consecutiveFail = 0
	}
	tl.Promote(t)
	if tl.OnSuccess != nil {
		tl.OnSuccess(t, result)
	}
}

// receiveFailed records a failure against t and disables it once it
// has failed disableAfterFailures times in a row, mirroring the
// original's policy of giving up on a persistently dead tracker.
func (tl *TrackerList) receiveFailed(t Tracker, cause error) {
	if e := tl.findEntry(t); e != nil {
		e.consecutiveFail++
		if e.consecutiveFail >= disableAfterFailures {
			disableTracker(t)
		}
	}
	tl.CycleGroup(t.Group())
	if tl.OnFailed != nil {
		tl.OnFailed(t, cause)
	}
}

func (tl *TrackerList) findEntry(t Tracker) *entry {
	group := t.Group()
	if group < 0 || group >= len(tl.groups) {
		return nil
	}
	for _, e := range tl.groups[group] {
		if e.t == t {
			return e
		}
	}
	return nil
}

func disableTracker(t Tracker) {
	if d, ok := t.(interface{ disable() }); ok {
		d.disable()
	}
}

// CloseAll closes every tracker in the list, e.g. when the torrent
// stops.
func (tl *TrackerList) CloseAll() {
	for _, g := range tl.groups {
		for _, e := range g {
			e.t.Close()
		}
	}
}

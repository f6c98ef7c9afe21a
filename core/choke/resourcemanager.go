package choke

import (
	"math"
	"sort"

	"github.com/Elegant996/bitsyd/engineerr"
)

// MaxPriority is the upper bound SetPriority accepts. §4.3's operation
// contract documents 0..65536, matching the original's uint16_t
// priority field and its analogous "0 to 2^16" bound on
// set_max_*_unchoked; §3's data-model prose gives a rounder (and
// narrower) 1024, which this repo treats as descriptive shorthand
// rather than the enforced limit.
const MaxPriority = 65536

// Entry is one download's membership record: which group it belongs
// to and how much weight it carries within that group.
type Entry struct {
	Handle   interface{}
	group    int
	priority int
}

// Group returns the index of the choke group this entry belongs to (-1
// until it is inserted); Priority returns its scheduling priority.
func (e *Entry) Group() int    { return e.group }
func (e *Entry) Priority() int { return e.priority }

// NewEntry returns an Entry for handle, initially unassigned to any
// group (callers must Insert it before it participates in ticks).
func NewEntry(handle interface{}) *Entry {
	return &Entry{Handle: handle, group: -1}
}

// ResourceManager is the global tick that budgets upload/download
// unchoke slots across groups. It exclusively owns its Groups and its
// entry array.
type ResourceManager struct {
	entries []*Entry
	groups  []*Group

	currentUploadUnchoked   int
	currentDownloadUnchoked int
	maxUploadUnchoked       int
	maxDownloadUnchoked     int
}

// New returns an empty ResourceManager. A maxUnchoked of 0 means
// unlimited for that direction.
func New(maxUploadUnchoked, maxDownloadUnchoked int) *ResourceManager {
	return &ResourceManager{
		maxUploadUnchoked:   maxUploadUnchoked,
		maxDownloadUnchoked: maxDownloadUnchoked,
	}
}

// PushGroup appends a new, empty group named name. The name must be
// unique and non-empty.
func (rm *ResourceManager) PushGroup(name string) (*Group, error) {
	const op engineerr.Op = "choke.PushGroup"

	if name == "" {
		return nil, engineerr.Wrap(engineerr.New("choke group name must not be empty"), op, engineerr.BadArgument)
	}
	for _, g := range rm.groups {
		if g.Name == name {
			return nil, engineerr.Wrap(engineerr.Newf("duplicate choke group name %q", name), op, engineerr.BadArgument)
		}
	}

	g := newGroup(name)
	g.First = len(rm.entries)
	g.Last = len(rm.entries)

	g.Up.OnUnchoke = func(delta int) { rm.ReceiveUploadUnchoke(delta) }
	g.Down.OnUnchoke = func(delta int) { rm.ReceiveDownloadUnchoke(delta) }

	rm.groups = append(rm.groups, g)
	return g, nil
}

// GroupAt returns the group at index i.
func (rm *ResourceManager) GroupAt(i int) (*Group, error) {
	const op engineerr.Op = "choke.GroupAt"
	if i < 0 || i >= len(rm.groups) {
		return nil, engineerr.Wrap(engineerr.New("choke group not found"), op, engineerr.BadArgument)
	}
	return rm.groups[i], nil
}

// GroupIndexOf returns the index of the group named name.
func (rm *ResourceManager) GroupIndexOf(name string) (int, error) {
	const op engineerr.Op = "choke.GroupIndexOf"
	for i, g := range rm.groups {
		if g.Name == name {
			return i, nil
		}
	}
	return 0, engineerr.Wrap(engineerr.New("choke group not found"), op, engineerr.BadArgument)
}

// Insert places entry at the end of its group's partition. The
// caller is responsible for moving the entry's peer connections into
// the destination group's Up/Down queues (ResourceManager tracks
// group membership and slot budgets, not which connections belong to
// which download — that link lives in the engine layer).
func (rm *ResourceManager) Insert(entry *Entry, group int) error {
	const op engineerr.Op = "choke.Insert"

	if _, err := rm.GroupAt(group); err != nil {
		return engineerr.Wrap(err, op)
	}

	entry.group = group

	pos := len(rm.entries)
	for i, e := range rm.entries {
		if e.group > group {
			pos = i
			break
		}
	}
	rm.entries = append(rm.entries, nil)
	copy(rm.entries[pos+1:], rm.entries[pos:])
	rm.entries[pos] = entry

	for i := group; i < len(rm.groups); i++ {
		if i == group {
			rm.groups[i].Last++
		} else {
			rm.groups[i].First++
			rm.groups[i].Last++
		}
	}

	return nil
}

// Erase removes entry from its group's partition.
func (rm *ResourceManager) Erase(entry *Entry) error {
	const op engineerr.Op = "choke.Erase"

	pos := -1
	for i, e := range rm.entries {
		if e == entry {
			pos = i
			break
		}
	}
	if pos == -1 {
		return engineerr.Wrap(engineerr.New("entry not found in resource manager"), op, engineerr.Internal)
	}

	group := entry.group
	rm.entries = append(rm.entries[:pos], rm.entries[pos+1:]...)

	for i := group; i < len(rm.groups); i++ {
		if i == group {
			rm.groups[i].Last--
		} else {
			rm.groups[i].First--
			rm.groups[i].Last--
		}
	}

	return nil
}

// SetGroup moves entry from its current group into newGroup. As with
// Insert, migrating the entry's peer connections between queues is
// the caller's responsibility.
func (rm *ResourceManager) SetGroup(entry *Entry, newGroup int) error {
	const op engineerr.Op = "choke.SetGroup"

	if entry.group == newGroup {
		return nil
	}
	if _, err := rm.GroupAt(newGroup); err != nil {
		return engineerr.Wrap(err, op)
	}

	if err := rm.Erase(entry); err != nil {
		return engineerr.Wrap(err, op)
	}
	return rm.Insert(entry, newGroup)
}

// SetPriority sets entry's weight within its group. p must be in
// [0, MaxPriority].
func (rm *ResourceManager) SetPriority(entry *Entry, p int) error {
	const op engineerr.Op = "choke.SetPriority"
	if p < 0 || p > MaxPriority {
		return engineerr.Wrap(engineerr.Newf("priority %d out of range [0,%d]", p, MaxPriority), op, engineerr.BadArgument)
	}
	entry.priority = p
	return nil
}

// ReceiveUploadUnchoke adjusts the global upload-unchoked counter by
// delta, used when a queue unilaterally changes an unchoke state
// between ticks. A result below zero is fatal.
func (rm *ResourceManager) ReceiveUploadUnchoke(delta int) error {
	const op engineerr.Op = "choke.ReceiveUploadUnchoke"
	if rm.currentUploadUnchoked+delta < 0 {
		return engineerr.Wrap(errNegativeUnchoke, op, engineerr.Internal)
	}
	rm.currentUploadUnchoked += delta
	return nil
}

// ReceiveDownloadUnchoke is ReceiveUploadUnchoke's download-direction
// counterpart.
func (rm *ResourceManager) ReceiveDownloadUnchoke(delta int) error {
	const op engineerr.Op = "choke.ReceiveDownloadUnchoke"
	if rm.currentDownloadUnchoked+delta < 0 {
		return engineerr.Wrap(errNegativeUnchoke, op, engineerr.Internal)
	}
	rm.currentDownloadUnchoked += delta
	return nil
}

// CanUnchokeUpload returns how many more uploads could be unchoked
// right now (unbounded, reported as math.MaxInt32, when
// maxUploadUnchoked is 0).
func (rm *ResourceManager) CanUnchokeUpload() int {
	if rm.maxUploadUnchoked == 0 {
		return math.MaxInt32
	}
	return rm.maxUploadUnchoked - rm.currentUploadUnchoked
}

// CanUnchokeDownload is CanUnchokeUpload's download-direction
// counterpart.
func (rm *ResourceManager) CanUnchokeDownload() int {
	if rm.maxDownloadUnchoked == 0 {
		return math.MaxInt32
	}
	return rm.maxDownloadUnchoked - rm.currentDownloadUnchoked
}

// ReceiveTick runs the slot-balancing algorithm for both directions
// and verifies the result against each group's reported unchoked
// count.
func (rm *ResourceManager) ReceiveTick() error {
	const op engineerr.Op = "choke.ReceiveTick"

	if err := rm.validateGroupIterators(); err != nil {
		return engineerr.Wrap(err, op)
	}

	upDelta, err := rm.balanceUnchoked(rm.maxUploadUnchoked, true)
	if err != nil {
		return engineerr.Wrap(err, op)
	}
	rm.currentUploadUnchoked += upDelta

	downDelta, err := rm.balanceUnchoked(rm.maxDownloadUnchoked, false)
	if err != nil {
		return engineerr.Wrap(err, op)
	}
	rm.currentDownloadUnchoked += downDelta

	var upSum, downSum int
	for _, g := range rm.groups {
		upSum += g.Up.SizeUnchoked()
		downSum += g.Down.SizeUnchoked()
	}

	if upSum != rm.currentUploadUnchoked {
		return engineerr.Wrap(engineerr.Newf(
			"currentUploadUnchoked (%d) != sum of group counts (%d)", rm.currentUploadUnchoked, upSum),
			op, engineerr.Internal)
	}
	if downSum != rm.currentDownloadUnchoked {
		return engineerr.Wrap(engineerr.Newf(
			"currentDownloadUnchoked (%d) != sum of group counts (%d)", rm.currentDownloadUnchoked, downSum),
			op, engineerr.Internal)
	}

	return nil
}

// balanceUnchoked runs one direction's slot-balancing pass: groups
// asking for the fewest slots go first so that later, hungrier groups
// absorb whatever quota the earlier groups left unused.
func (rm *ResourceManager) balanceUnchoked(maxUnchoked int, isUp bool) (int, error) {
	const op engineerr.Op = "choke.balanceUnchoked"

	change := 0

	if maxUnchoked == 0 {
		for _, g := range rm.groups {
			q := g.Down
			if isUp {
				q = g.Up
			}
			change += q.Cycle(Unlimited)
		}
		return change, nil
	}

	ordered := make([]*Group, len(rm.groups))
	copy(ordered, rm.groups)
	sort.SliceStable(ordered, func(i, j int) bool {
		ri, rj := ordered[i].Down.Requested(), ordered[j].Down.Requested()
		if isUp {
			ri, rj = ordered[i].Up.Requested(), ordered[j].Up.Requested()
		}
		return ri < rj
	})

	quota := maxUnchoked
	weight := len(ordered)

	for _, g := range ordered {
		q := g.Down
		if isUp {
			q = g.Up
		}

		share := 0
		if weight != 0 {
			share = quota / weight
		}

		change += q.Cycle(share)
		quota -= q.SizeUnchoked()
		weight--
	}

	if weight != 0 {
		return 0, engineerr.Wrap(engineerr.New("balanceUnchoked: weight did not reach zero"), op, engineerr.Internal)
	}

	return change, nil
}

// validateGroupIterators recomputes every group's cursor range from a
// fresh scan and fails if the incrementally-maintained cursors have
// drifted from it.
func (rm *ResourceManager) validateGroupIterators() error {
	const op engineerr.Op = "choke.validateGroupIterators"
	for i, g := range rm.groups {
		if err := g.validate(rm.entries, i); err != nil {
			return engineerr.Wrap(err, op)
		}
	}
	return nil
}

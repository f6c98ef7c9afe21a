package choke

import "github.com/Elegant996/bitsyd/engineerr"

// Group owns one up queue and one down queue, plus the half-open
// cursor range [First, Last) into the ResourceManager's entry slice
// that belongs to this group. The cursors are maintained incrementally
// on every insert/erase/move and re-validated against a fresh scan
// each tick.
type Group struct {
	Name string
	Up   *Queue
	Down *Queue

	First, Last int
}

func newGroup(name string) *Group {
	g := &Group{Name: name, Up: NewQueue(UploadLeech), Down: NewQueue(DownloadLeech)}
	return g
}

// Size returns how many ResourceManager entries currently belong to
// this group.
func (g *Group) Size() int { return g.Last - g.First }

// Validate recomputes [First, Last) against a fresh scan of entries
// (sorted by group index, as the ResourceManager invariant requires)
// and fails if the incrementally-maintained cursors have drifted.
func (g *Group) validate(entries []*Entry, groupIndex int) error {
	const op engineerr.Op = "choke.Group.validate"

	first, last := -1, -1
	for i, e := range entries {
		if e.group == groupIndex {
			if first == -1 {
				first = i
			}
			last = i + 1
		}
	}
	drifted := g.First != first || g.Last != last
	if first == -1 {
		// No entries: an empty group keeps the position its cursors
		// last had, so only its size can be checked.
		first, last = 0, 0
		drifted = g.Size() != 0
	}

	if drifted {
		return engineerr.Wrap(
			engineerr.Newf("group %q cursor mismatch: have [%d,%d) want [%d,%d)",
				g.Name, g.First, g.Last, first, last),
			op, engineerr.Internal)
	}

	return nil
}

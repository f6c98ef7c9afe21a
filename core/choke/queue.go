// Package choke implements the unchoke-slot scheduler: a ChokeQueue
// ranks the connections in one group's upload or download queue and
// decides who gets unchoked given a slot quota, and a ResourceManager
// ticks every group's queues in a fair, weighted order.
package choke

import (
	"sort"

	"github.com/Elegant996/bitsyd/core/peerconn"
	"github.com/Elegant996/bitsyd/engineerr"
)

// Heuristic selects how a Queue ranks its candidates for unchoking.
type Heuristic int

const (
	// UploadLeech ranks peers that are interested in us by how fast
	// we're currently sending them data, so productive relationships
	// keep their slot.
	UploadLeech Heuristic = iota
	// DownloadLeech ranks peers that have pieces we want by how fast
	// they're currently sending us data.
	DownloadLeech
)

// Unlimited is passed to Cycle to request an uncapped heuristic pass:
// every eligible connection is unchoked, with no quota ceiling.
const Unlimited = -1

// Queue is a polymorphic scheduler over one group's connections in
// one direction (upload or download). Exactly one heuristic is active
// for the life of a Queue.
type Queue struct {
	heuristic Heuristic
	conns     []*peerconn.Info
	unchoked  map[*peerconn.Info]bool

	// OnUnchoke is invoked when this queue unilaterally changes its
	// unchoked count between ticks (e.g. a connection it had unchoked
	// disconnects). It is not invoked by Cycle itself — Cycle's return
	// value already reports the delta to whoever drove the cycle.
	OnUnchoke func(delta int)
	// OnConnection applies a choke/unchoke decision to a connection
	// and reports whether the connection accepted the change.
	OnConnection func(conn *peerconn.Info, choke bool) bool
}

// NewQueue returns an empty queue using the given heuristic.
func NewQueue(h Heuristic) *Queue {
	return &Queue{heuristic: h, unchoked: make(map[*peerconn.Info]bool)}
}

// Insert adds conn to the queue, initially choked.
func (q *Queue) Insert(conn *peerconn.Info) {
	q.conns = append(q.conns, conn)
}

// Erase removes conn from the queue. If it was unchoked, the caller's
// OnUnchoke is invoked with -1.
func (q *Queue) Erase(conn *peerconn.Info) {
	for i, c := range q.conns {
		if c == conn {
			q.conns = append(q.conns[:i], q.conns[i+1:]...)
			break
		}
	}
	if q.unchoked[conn] {
		delete(q.unchoked, conn)
		if q.OnUnchoke != nil {
			q.OnUnchoke(-1)
		}
	}
}

// SizeUnchoked returns how many of this queue's connections are
// currently unchoked.
func (q *Queue) SizeUnchoked() int { return len(q.unchoked) }

// eligible returns the connections this queue's heuristic would ever
// consider unchoking: peers interested in receiving from us (upload
// side) or peers we're interested in receiving from (download side).
func (q *Queue) eligible() []*peerconn.Info {
	var out []*peerconn.Info
	for _, c := range q.conns {
		switch q.heuristic {
		case UploadLeech:
			if c.Interested {
				out = append(out, c)
			}
		case DownloadLeech:
			if c.Interesting {
				out = append(out, c)
			}
		}
	}
	return out
}

// Requested reports how many additional slots this queue could put
// to use right now: eligible connections not already unchoked.
func (q *Queue) Requested() int {
	n := 0
	for _, c := range q.eligible() {
		if !q.unchoked[c] {
			n++
		}
	}
	return n
}

// ranked returns this queue's eligible connections sorted
// most-deserving-of-a-slot first.
func (q *Queue) ranked() []*peerconn.Info {
	out := q.eligible()
	switch q.heuristic {
	case UploadLeech:
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].UploadRate > out[j].UploadRate
		})
	case DownloadLeech:
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].DownloadRate > out[j].DownloadRate
		})
	}
	return out
}

// Cycle reshuffles the queue's connection set, unchoking up to
// maxUnchoked eligible connections (or every eligible connection, with
// no cap, if maxUnchoked is Unlimited) and choking the rest. It
// returns the signed change in SizeUnchoked.
func (q *Queue) Cycle(maxUnchoked int) int {
	ranked := q.ranked()

	keep := len(ranked)
	if maxUnchoked != Unlimited && maxUnchoked < keep {
		keep = maxUnchoked
	}
	if keep < 0 {
		keep = 0
	}

	before := len(q.unchoked)
	wantUnchoked := make(map[*peerconn.Info]bool, keep)
	for i := 0; i < keep; i++ {
		wantUnchoked[ranked[i]] = true
	}

	for c := range q.unchoked {
		if !wantUnchoked[c] {
			q.apply(c, true)
			delete(q.unchoked, c)
		}
	}
	for c := range wantUnchoked {
		if !q.unchoked[c] {
			q.apply(c, false)
			q.unchoked[c] = true
		}
	}

	return len(q.unchoked) - before
}

func (q *Queue) apply(conn *peerconn.Info, choke bool) {
	if q.OnConnection != nil {
		q.OnConnection(conn, choke)
	}
}

// errNegativeUnchoke is returned when a delta would drive an unchoke
// counter below zero — a programmer error, per spec.
var errNegativeUnchoke = engineerr.New("choke: unchoke counter would go negative")

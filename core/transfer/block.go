package transfer

import (
	"bytes"

	"github.com/Elegant996/bitsyd/core/peerconn"
	"github.com/Elegant996/bitsyd/engineerr"
)

// State is a Block's position in the request lifecycle.
type State int

const (
	Idle State = iota
	Outstanding
	Finished
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Outstanding:
		return "outstanding"
	case Finished:
		return "finished"
	default:
		return "unknown"
	}
}

// variant is one distinct byte sequence a peer has offered for a
// block, plus how many peers have offered exactly that sequence.
type variant struct {
	data []byte
	refs int
}

// noFailedIndex marks a BlockTransfer that has never been scored
// against a failed-variant list (the C++ original's ~uint32_t()
// sentinel).
const noFailedIndex = -1

// Block is a single ≤16 KiB slice of a piece, and the unit of peer
// request. Exactly one of its transfers may be "leader": only the
// leader's bytes are written to storage.
type Block struct {
	piece Piece
	span  span

	state State

	leader    *BlockTransfer
	transfers []*BlockTransfer

	failed        []*variant
	currentFailed int
}

func newBlock(piece Piece, s span) *Block {
	return &Block{
		piece:         piece,
		span:          s,
		state:         Idle,
		currentFailed: noFailedIndex,
	}
}

// State reports the block's current lifecycle state.
func (b *Block) State() State { return b.state }

// Len returns the block's length in bytes.
func (b *Block) Len() int { return b.span.Len() }

// IsFinished reports whether the block has been fully delivered.
func (b *Block) IsFinished() bool { return b.state == Finished }

// Leader returns the transfer whose bytes are authoritative for this
// block, or nil if none has been chosen yet.
func (b *Block) Leader() *BlockTransfer { return b.leader }

// Request creates a new transfer representing peer's promise to
// deliver this block. Multiple peers may have outstanding transfers
// for the same block (endgame / duplicate requests).
func (b *Block) Request(peer *peerconn.Info) *BlockTransfer {
	t := &BlockTransfer{
		peer:        peer,
		block:       b,
		valid:       true,
		failedIndex: noFailedIndex,
	}
	b.transfers = append(b.transfers, t)
	if b.state == Idle {
		b.state = Outstanding
	}
	return t
}

// Complete marks transfer as the block's leader and invalidates every
// other outstanding transfer for this block. The peer-transfer set
// itself is retained (not cleared) so that mark_failed_peers can later
// inspect which peers delivered which variant. Returns false if the
// block was already finished (caller error: checked upstream by
// TransferList.Finished, which is the only legal caller).
func (b *Block) Complete(transfer *BlockTransfer) bool {
	if b.state == Finished {
		return false
	}

	b.leader = transfer
	b.state = Finished

	for _, t := range b.transfers {
		if t != transfer {
			t.valid = false
		}
	}

	return true
}

// Reset returns the block to idle, discarding its leader, its
// transfer set, and any recorded failed variants without invoking
// callbacks (used by do_all_failed / retry-from-scratch, where the
// piece is re-requested from nothing).
func (b *Block) Reset() {
	for _, t := range b.transfers {
		t.valid = false
	}
	if b.leader != nil {
		b.leader.valid = false
	}
	b.leader = nil
	b.transfers = nil
	b.failed = nil
	b.currentFailed = noFailedIndex
	b.state = Idle
}

// updateFailed compares data (the bytes this block currently holds in
// the assembled chunk) against the block's known failed variants,
// creating a new variant or bumping an existing one's refcount. It
// reports whether the bump caused a tie with (but not a displacement
// of) the previous leading variant — the "promoted" signal
// TransferList.hashFailed uses to decide whether a retry is
// worthwhile.
func (b *Block) updateFailed(data []byte) (promoted bool) {
	idx := -1
	for i, v := range b.failed {
		if bytes.Equal(v.data, data) {
			idx = i
			break
		}
	}

	if idx == -1 {
		buf := make([]byte, len(data))
		copy(buf, data)
		b.failed = append(b.failed, &variant{data: buf, refs: 1})
		idx = len(b.failed) - 1
	} else {
		prevMax := b.maxVariantIndex()
		b.failed[idx].refs++
		if b.failed[idx].refs == b.failed[prevMax].refs && prevMax != idx {
			promoted = true
		}
	}

	b.currentFailed = idx
	if b.leader != nil {
		b.leader.failedIndex = idx
	}

	return promoted
}

// maxVariantIndex returns the index of the failed variant with the
// highest refcount, preferring the earliest on ties (matches the
// C++ original's std::max_element, which returns the first maximum).
func (b *Block) maxVariantIndex() int {
	best := 0
	for i, v := range b.failed {
		if v.refs > b.failed[best].refs {
			best = i
		}
	}
	return best
}

// mostPopularIndex returns the index of the failed variant with the
// highest refcount, preferring the latest on ties (matches the C++
// original's reverse_max_element, used only by retryMostPopular).
func (b *Block) mostPopularIndex() int {
	best := 0
	for i, v := range b.failed {
		if v.refs >= b.failed[best].refs {
			best = i
		}
	}
	return best
}

// setCurrentToMatching scans the failed-variant list for the variant
// matching data and sets it current, returning its index (or -1 if
// none matches — which should not happen once every block has at
// least one recorded variant).
func (b *Block) setCurrentToMatching(data []byte) int {
	for i, v := range b.failed {
		if bytes.Equal(v.data, data) {
			b.currentFailed = i
			return i
		}
	}
	return -1
}

// BlockTransfer is a promise that a specific peer is delivering a
// specific block. It weakly references its Block: once the block
// moves on (a new attempt, a reset, or completion by another
// transfer) this transfer becomes stale and must not mutate state.
type BlockTransfer struct {
	peer  *peerconn.Info
	block *Block

	valid       bool
	failedIndex int
}

// Peer returns the peer this transfer represents.
func (t *BlockTransfer) Peer() *peerconn.Info { return t.peer }

// Block returns the block this transfer is delivering.
func (t *BlockTransfer) Block() *Block { return t.block }

// IsValid reports whether the block this transfer points to still
// considers it live.
func (t *BlockTransfer) IsValid() bool { return t.valid }

// errInvalidTransfer is returned by operations that require a valid
// transfer and were handed a stale one.
var errInvalidTransfer = engineerr.New("transfer: stale transfer")

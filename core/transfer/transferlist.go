package transfer

import (
	"time"

	"github.com/Elegant996/bitsyd/core/peerconn"
	"github.com/Elegant996/bitsyd/engineerr"
)

// completedEntry records when a piece finished hashing successfully,
// for the bounded-age completedList consumed by a polling resume
// checkpoint (see CompletedSince).
type completedEntry struct {
	at    time.Time
	index int
}

// retention is the pruning law for completedList: entries are kept at
// least this long, and only swept out once the head is older than
// retentionSweep. A consumer polling every retention/2 is guaranteed
// to observe every completion at least once.
const (
	retention      = 30 * time.Minute
	retentionSweep = 60 * time.Minute
)

// Callbacks are fired synchronously, in program order, from the
// TransferList methods that trigger them. The caller (the engine's
// main loop) is expected to never call back into the TransferList
// from within a callback.
type Callbacks struct {
	// OnQueued fires when a piece is inserted into the list.
	OnQueued func(index int)
	// OnCompleted fires when every block of a piece has been
	// delivered, either by normal completion or by a successful
	// retry_most_popular repair.
	OnCompleted func(index int)
	// OnCanceled fires once per in-flight piece when Clear is called.
	OnCanceled func(index int)
	// OnCorrupt fires once per distinct peer identified as having
	// delivered bad data for a piece that ultimately hashed
	// successfully.
	OnCorrupt func(peer *peerconn.Info)
}

func (c Callbacks) queued(i int) {
	if c.OnQueued != nil {
		c.OnQueued(i)
	}
}

func (c Callbacks) completed(i int) {
	if c.OnCompleted != nil {
		c.OnCompleted(i)
	}
}

func (c Callbacks) canceled(i int) {
	if c.OnCanceled != nil {
		c.OnCanceled(i)
	}
}

func (c Callbacks) corrupt(p *peerconn.Info) {
	if c.OnCorrupt != nil {
		c.OnCorrupt(p)
	}
}

// TransferList is the ordered set of in-flight pieces (one BlockList
// per piece currently being downloaded), keyed by piece index. It
// drives the hash-succeeded/failed policy and runs the bad-peer vote
// when a piece's hash fails after peers disagreed on its content.
type TransferList struct {
	lists []*BlockList
	cb    Callbacks

	completed []completedEntry

	succeededCount int
	failedCount    int
}

// New returns an empty TransferList that invokes cb's callbacks as
// operations complete.
func New(cb Callbacks) *TransferList {
	return &TransferList{cb: cb}
}

// Find returns the BlockList tracking piece index, if any is
// in-flight.
func (tl *TransferList) Find(index int) (*BlockList, bool) {
	for _, bl := range tl.lists {
		if bl.Index() == index {
			return bl, true
		}
	}
	return nil, false
}

// Insert begins tracking piece, dividing it into blockSize-sized
// blocks. Returns a BadArgument error if the piece is already in the
// list.
func (tl *TransferList) Insert(piece Piece, blockSize int) (*BlockList, error) {
	const op engineerr.Op = "transfer.Insert"

	if _, ok := tl.Find(piece.Index); ok {
		return nil, engineerr.Wrap(
			engineerr.Newf("piece %d is already in the transfer list", piece.Index),
			op, engineerr.BadArgument)
	}

	bl := newBlockList(piece, blockSize)
	tl.lists = append(tl.lists, bl)
	tl.cb.queued(piece.Index)

	return bl, nil
}

// Erase removes bl from the list without firing any callback. The
// caller is responsible for ensuring bl has no live transfers.
func (tl *TransferList) Erase(bl *BlockList) error {
	const op engineerr.Op = "transfer.Erase"

	for i, l := range tl.lists {
		if l == bl {
			tl.lists = append(tl.lists[:i], tl.lists[i+1:]...)
			return nil
		}
	}
	return engineerr.Wrap(engineerr.New("block list not found"), op, engineerr.Internal)
}

// Finished is called when a peer has fully delivered one block.
// Fails with an Internal error if transfer is no longer valid. If this
// completes every block of the piece, fires OnCompleted.
func (tl *TransferList) Finished(transfer *BlockTransfer) error {
	const op engineerr.Op = "transfer.Finished"

	if !transfer.IsValid() {
		return engineerr.Wrap(errInvalidTransfer, op, engineerr.Internal)
	}

	block := transfer.Block()
	if !block.Complete(transfer) {
		return engineerr.Wrap(errInvalidTransfer, op, engineerr.Internal)
	}

	bl, ok := tl.Find(block.piece.Index)
	if !ok {
		return engineerr.Wrap(engineerr.New("finished block belongs to unknown piece"), op, engineerr.Internal)
	}

	if bl.allFinished() {
		tl.cb.completed(bl.Index())
	}

	return nil
}

// HashSucceeded is called by the hasher with the assembled bytes of
// the piece at index, once every block has reported finished.
func (tl *TransferList) HashSucceeded(index int, chunk []byte) error {
	const op engineerr.Op = "transfer.HashSucceeded"

	bl, ok := tl.Find(index)
	if !ok {
		return engineerr.Wrap(engineerr.Newf("unknown piece index %d", index), op, engineerr.Internal)
	}
	if !bl.allFinished() {
		return engineerr.Wrap(engineerr.New("HashSucceeded called with unfinished blocks"), op, engineerr.Internal)
	}

	if bl.Failed() != 0 {
		tl.markFailedPeers(bl, chunk)
	}

	now := time.Now()
	tl.completed = append(tl.completed, completedEntry{at: now, index: index})
	if len(tl.completed) > 0 && now.Sub(tl.completed[0].at) > retentionSweep {
		tl.pruneCompleted(now)
	}

	tl.succeededCount++
	return tl.Erase(bl)
}

// pruneCompleted drops every completedList entry older than the
// retention window, preserving the guarantee that a poll every
// retention/2 observes every completion at least once.
func (tl *TransferList) pruneCompleted(now time.Time) {
	i := 0
	for i < len(tl.completed) && now.Sub(tl.completed[i].at) > retention {
		i++
	}
	tl.completed = tl.completed[i:]
}

// CompletedSince returns every piece index whose HashSucceeded call
// was recorded at or after since, in order. It is the collaborator a
// 30-minute resume-checkpoint poll is expected to call.
func (tl *TransferList) CompletedSince(since time.Time) []int {
	var out []int
	for _, e := range tl.completed {
		if !e.at.Before(since) {
			out = append(out, e.index)
		}
	}
	return out
}

// SucceededCount returns the number of pieces that have hashed
// successfully over this TransferList's lifetime.
func (tl *TransferList) SucceededCount() int { return tl.succeededCount }

// FailedCount returns the number of hash failures recorded over this
// TransferList's lifetime (counting every failed attempt, not just
// distinct pieces).
func (tl *TransferList) FailedCount() int { return tl.failedCount }

// HashFailed is called by the hasher when the piece at index fails
// hash verification.
//
// On the first failure for a piece, every block's currently-held
// bytes are scored against that block's known failed variants
// (updateFailed). If scoring the whole piece promoted a variant to a
// tie for most-popular without already being the leader, and not
// every block already sits at its most-popular variant, the piece is
// repaired in place from the most popular variants and handed back to
// the hasher for a second attempt (retryMostPopular) rather than
// re-requested from peers.
//
// Otherwise (second failure, or no promotion gained) every block is
// reset to idle so the whole piece is requested again from scratch.
func (tl *TransferList) HashFailed(index int, chunk []byte) error {
	const op engineerr.Op = "transfer.HashFailed"

	bl, ok := tl.Find(index)
	if !ok {
		return engineerr.Wrap(engineerr.Newf("unknown piece index %d", index), op, engineerr.Internal)
	}
	if !bl.allFinished() {
		return engineerr.Wrap(engineerr.New("HashFailed called with unfinished blocks"), op, engineerr.Internal)
	}

	bl.failedCount++
	tl.failedCount++

	if bl.attempt == 0 {
		promoted := tl.updateFailed(bl, chunk)

		// The stricter of the two readings the original's ambiguous
		// `promoted > 0 || promoted < size()` check admits: a retry is
		// only worth it if something was actually promoted AND the
		// piece isn't already saturated at its ceiling.
		if promoted > 0 && promoted < bl.Size() {
			bl.attempt = 1
			tl.retryMostPopular(bl, chunk)
			return nil
		}
	}

	bl.doAllFailed()
	return nil
}

// updateFailed runs Block.updateFailed over every block in bl against
// the corresponding byte range of chunk, returning how many blocks'
// variant scoring promoted a tie.
func (tl *TransferList) updateFailed(bl *BlockList, chunk []byte) int {
	promoted := 0
	for _, b := range bl.blocks {
		data := chunk[b.span.Begin:b.span.End]
		if b.updateFailed(data) {
			promoted++
		}
	}
	return promoted
}

// retryMostPopular overwrites chunk's bytes, block by block, with
// each block's most-popular recorded variant, skipping blocks already
// holding that variant. It then behaves as though the piece completed
// normally, so the hasher re-verifies the repaired chunk.
func (tl *TransferList) retryMostPopular(bl *BlockList, chunk []byte) {
	for _, b := range bl.blocks {
		idx := b.mostPopularIndex()
		if idx == b.currentFailed {
			continue
		}

		v := b.failed[idx]
		copy(chunk[b.span.Begin:b.span.End], v.data)
		b.currentFailed = idx
	}

	tl.cb.completed(bl.Index())
}

// markFailedPeers attributes a hash failure that was ultimately
// repaired (bl.Failed() != 0, but HashSucceeded was still reached) to
// the peers who delivered the losing variant. For each block, the
// variant matching chunk's final, known-good bytes is set current;
// any transfer whose recorded failed-variant index differs from
// current — and was scored at all — names a peer that sent bad data.
func (tl *TransferList) markFailedPeers(bl *BlockList, chunk []byte) {
	bad := make(map[string]*peerconn.Info)

	for _, b := range bl.blocks {
		data := chunk[b.span.Begin:b.span.End]
		current := b.setCurrentToMatching(data)

		for _, t := range b.transfers {
			if t.failedIndex != current && t.failedIndex != noFailedIndex {
				if p := t.Peer(); p != nil {
					bad[p.Key()] = p
				}
			}
		}
	}

	for _, p := range bad {
		tl.cb.corrupt(p)
	}
}

// Clear cancels every in-flight piece, firing OnCanceled for each, in
// list order.
func (tl *TransferList) Clear() {
	for _, bl := range tl.lists {
		tl.cb.canceled(bl.Index())
	}
	tl.lists = nil
}

package transfer

import "github.com/Elegant996/bitsyd/core/peerconn"

// BlockList tracks one in-flight piece: its ordered blocks, the
// attempt counter (0 on first try, ≥1 after a hash failure), and how
// many hash failures it has accumulated.
type BlockList struct {
	piece  Piece
	blocks []*Block

	attempt     int
	failedCount int
}

// newBlockList builds a BlockList whose blocks tile piece.Length in
// blockSize-sized spans.
func newBlockList(piece Piece, blockSize int) *BlockList {
	spans := blockSpans(piece.Length, blockSize)
	blocks := make([]*Block, len(spans))
	for i, s := range spans {
		blocks[i] = newBlock(piece, s)
	}
	return &BlockList{piece: piece, blocks: blocks}
}

// Index returns the piece index this BlockList tracks.
func (bl *BlockList) Index() int { return bl.piece.Index }

// Piece returns the piece this BlockList tracks.
func (bl *BlockList) Piece() Piece { return bl.piece }

// Size returns the number of blocks in the list.
func (bl *BlockList) Size() int { return len(bl.blocks) }

// Attempt returns the current retry attempt (0 on first try).
func (bl *BlockList) Attempt() int { return bl.attempt }

// Failed returns how many hash failures this piece has accumulated.
func (bl *BlockList) Failed() int { return bl.failedCount }

// Blocks returns the list's blocks in order.
func (bl *BlockList) Blocks() []*Block { return bl.blocks }

// allFinished reports whether every block in the list is finished —
// the invariant hash_succeeded and hash_failed both require before
// doing anything else.
func (bl *BlockList) allFinished() bool {
	for _, b := range bl.blocks {
		if !b.IsFinished() {
			return false
		}
	}
	return true
}

// doAllFailed resets every block to idle so the caller re-requests
// from scratch, and resets attempt to 0 — invoked when a failure
// gains no promoted variant. This restores the BlockList invariant
// that attempt == 0 implies no block carries failed-variant history.
func (bl *BlockList) doAllFailed() {
	for _, b := range bl.blocks {
		b.Reset()
	}
	bl.attempt = 0
}

// request finds the block covering the given byte offset within the
// piece and requests it from peer. Returns nil if offset doesn't
// align with the start of any block.
func (bl *BlockList) request(offset int, peer *peerconn.Info) *BlockTransfer {
	for _, b := range bl.blocks {
		if b.span.Begin == offset {
			return b.Request(peer)
		}
	}
	return nil
}

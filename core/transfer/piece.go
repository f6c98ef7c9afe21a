// Package transfer implements the block-acquisition state machine:
// which piece is being downloaded, which blocks within it are
// outstanding, and the bad-peer voting procedure run when a completed
// piece fails hash verification.
package transfer

// Piece is an immutable description of one piece of a torrent: its
// index, its byte offset within the torrent, and its length.
type Piece struct {
	Index  int
	Offset int64
	Length int
}

// DefaultBlockSize is the block size used when a torrent's piece
// length isn't an exact multiple of 16 KiB at the caller's chosen
// granularity; block boundaries are still computed from whatever
// blockSize Insert is given.
const DefaultBlockSize = 16 * 1024

// span is a byte range [Begin, End) within a piece.
type span struct {
	Begin, End int
}

func (s span) Len() int { return s.End - s.Begin }

// blockSpans divides a piece of the given length into blockSize-sized
// spans, with a short final span if length isn't a multiple of
// blockSize.
func blockSpans(length, blockSize int) []span {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}

	var out []span
	for begin := 0; begin < length; begin += blockSize {
		end := begin + blockSize
		if end > length {
			end = length
		}
		out = append(out, span{Begin: begin, End: end})
	}
	return out
}

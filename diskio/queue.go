// Package diskio is the disk I/O and hashing collaborator the engine
// talks to across a channel boundary: it never touches core/transfer
// directly, and core/transfer never touches a filesystem. The engine's
// event loop is the only thing that bridges the two.
package diskio

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Elegant996/bitsyd/engineerr"
	"github.com/Elegant996/bitsyd/metainfo"
)

// Request is one unit of work submitted to the queue: either a block
// write (Data != nil) destined for Torrent/Index, or a whole-piece
// verify request once every block in that piece has landed.
type Request struct {
	Torrent *metainfo.Torrent
	Index   int

	// Offset and Data are set for a write; both are zero for a
	// verify-only request.
	Offset int64
	Data   []byte

	Verify bool
}

// Result is what Queue reports back once a Request has been handled.
// Verified and Data are only meaningful when the originating Request
// asked for verification: Data is the piece's full assembled bytes,
// handed back so the caller can feed them to
// core/transfer.TransferList's HashSucceeded/HashFailed (which need
// the actual chunk for bad-peer voting and in-place repair, not just a
// pass/fail bit).
type Result struct {
	Torrent  *metainfo.Torrent
	Index    int
	Err      error
	Verified bool
	Data     []byte
}

// Queue is a bounded worker pool that performs writes/reads against
// each torrent's backing files and hashes completed pieces off the main
// loop, replying asynchronously on Results. Its workers handle requests
// concurrently; requests for the same torrent are not ordered or
// serialized against each other. This mirrors the teacher's
// pieceManager but generalized from one ".part"-per-piece file into a
// proper multi-file byte-offset layout, and from a synchronous
// interface into an async queue the engine drains via its own event
// loop (spec's "never a direct cross-goroutine call" rule).
type Queue struct {
	baseDir string

	requests chan Request
	Results  chan Result

	mu    sync.Mutex
	files map[[20]byte]*fileSet

	wg sync.WaitGroup
}

// Config configures a Queue's backing storage and concurrency.
type Config struct {
	BaseDir string
	Workers int
	Depth   int
}

// New returns a Queue with its worker pool running. Call Close to
// stop it.
func New(cfg Config) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Depth <= 0 {
		cfg.Depth = 256
	}

	q := &Queue{
		baseDir:  cfg.BaseDir,
		requests: make(chan Request, cfg.Depth),
		Results:  make(chan Result, cfg.Depth),
		files:    make(map[[20]byte]*fileSet),
	}

	for i := 0; i < cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}

	return q
}

// Register opens (creating if necessary) the backing files for t at
// their full lengths, so later WriteAt calls never need to extend a
// file mid-write.
func (q *Queue) Register(t *metainfo.Torrent) error {
	const op engineerr.Op = "diskio.Register"

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.files[t.InfoHash()]; ok {
		return nil
	}

	fs, err := openFileSet(q.baseDir, t)
	if err != nil {
		return engineerr.Wrap(err, op, engineerr.IO)
	}
	q.files[t.InfoHash()] = fs
	return nil
}

// Submit enqueues req. It blocks if the queue is saturated, applying
// natural backpressure to the engine's event loop rather than an
// unbounded buffer.
func (q *Queue) Submit(req Request) {
	q.requests <- req
}

// Close stops accepting new requests and waits for in-flight work to
// drain.
func (q *Queue) Close() {
	close(q.requests)
	q.wg.Wait()
	close(q.Results)

	q.mu.Lock()
	defer q.mu.Unlock()
	for _, fs := range q.files {
		fs.close()
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for req := range q.requests {
		q.Results <- q.handle(req)
	}
}

func (q *Queue) handle(req Request) Result {
	q.mu.Lock()
	fs, ok := q.files[req.Torrent.InfoHash()]
	q.mu.Unlock()
	if !ok {
		return Result{Torrent: req.Torrent, Index: req.Index, Err: fmt.Errorf("diskio: torrent not registered")}
	}

	if req.Data != nil {
		if err := fs.writeAt(req.Torrent, req.Index, req.Offset, req.Data); err != nil {
			return Result{Torrent: req.Torrent, Index: req.Index, Err: err}
		}
	}

	if !req.Verify {
		return Result{Torrent: req.Torrent, Index: req.Index}
	}

	piece, err := fs.readPiece(req.Torrent, req.Index)
	if err != nil {
		return Result{Torrent: req.Torrent, Index: req.Index, Err: err}
	}

	verified := req.Torrent.VerifyPiece(req.Index, piece)
	if !verified {
		log.Warn().
			Str("hash", req.Torrent.HexHash()).
			Int("piece", req.Index).
			Msg("piece failed verification")
	}

	return Result{Torrent: req.Torrent, Index: req.Index, Verified: verified, Data: piece}
}

// fileSet is the set of backing files for one torrent, opened at
// registration time and addressed by absolute torrent-byte offset.
type fileSet struct {
	files []*os.File
	t     *metainfo.Torrent
}

func openFileSet(baseDir string, t *metainfo.Torrent) (*fileSet, error) {
	fs := &fileSet{t: t}
	for _, f := range t.Files() {
		full := filepath.Join(baseDir, t.HexHash(), f.Name)
		if err := os.MkdirAll(filepath.Dir(full), 0o777); err != nil {
			return nil, err
		}
		fh, err := os.OpenFile(full, os.O_RDWR|os.O_CREATE, 0o666)
		if err != nil {
			return nil, err
		}
		if err := fh.Truncate(int64(f.Length)); err != nil {
			return nil, err
		}
		fs.files = append(fs.files, fh)
	}
	return fs, nil
}

func (fs *fileSet) close() {
	for _, fh := range fs.files {
		fh.Close()
	}
}

// writeAt writes data at piece index's local offset, splitting across
// file boundaries when the piece straddles two entries in a
// multi-file torrent.
func (fs *fileSet) writeAt(t *metainfo.Torrent, index int, offset int64, data []byte) error {
	abs := int64(index)*int64(t.PieceLength()) + offset
	return fs.writeAbs(t, abs, data)
}

func (fs *fileSet) writeAbs(t *metainfo.Torrent, abs int64, data []byte) error {
	files := t.Files()
	for i, f := range files {
		fileStart := int64(f.Offset)
		fileEnd := fileStart + int64(f.Length)
		if abs >= fileEnd {
			continue
		}
		if abs < fileStart {
			return fmt.Errorf("diskio: write offset %d precedes file layout", abs)
		}

		localOff := abs - fileStart
		n := int64(len(data))
		if remaining := fileEnd - abs; n > remaining {
			n = remaining
		}

		if _, err := fs.files[i].WriteAt(data[:n], localOff); err != nil {
			return err
		}

		if n < int64(len(data)) {
			return fs.writeAbs(t, abs+n, data[n:])
		}
		return nil
	}
	return fmt.Errorf("diskio: write offset %d beyond torrent length", abs)
}

// readPiece reads a whole piece back for verification, stitching
// together file boundaries the same way writeAbs does.
func (fs *fileSet) readPiece(t *metainfo.Torrent, index int) ([]byte, error) {
	length := int(t.PieceLength())
	if remainder := int64(t.Length()) - int64(index)*int64(t.PieceLength()); remainder < int64(length) {
		length = int(remainder)
	}

	out := make([]byte, length)
	abs := int64(index) * int64(t.PieceLength())

	if err := fs.readAbs(t, abs, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (fs *fileSet) readAbs(t *metainfo.Torrent, abs int64, buf []byte) error {
	files := t.Files()
	for i, f := range files {
		fileStart := int64(f.Offset)
		fileEnd := fileStart + int64(f.Length)
		if abs >= fileEnd {
			continue
		}
		if abs < fileStart {
			return fmt.Errorf("diskio: read offset %d precedes file layout", abs)
		}

		localOff := abs - fileStart
		n := int64(len(buf))
		if remaining := fileEnd - abs; n > remaining {
			n = remaining
		}

		if _, err := fs.files[i].ReadAt(buf[:n], localOff); err != nil {
			return err
		}

		if n < int64(len(buf)) {
			return fs.readAbs(t, abs+n, buf[n:])
		}
		return nil
	}
	return fmt.Errorf("diskio: read offset %d beyond torrent length", abs)
}

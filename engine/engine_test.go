package engine

import (
	"crypto/sha1"
	"testing"

	"github.com/Elegant996/bitsyd/bencode"
	"github.com/Elegant996/bitsyd/metainfo"
)

// testTorrent builds a minimal single-file, two-piece in-memory
// torrent the same way metainfo's own tests do, since metainfo.Load
// needs a real file on disk and these tests only need valid geometry.
func testTorrent(t *testing.T) *metainfo.Torrent {
	t.Helper()

	pieceLen := 16
	piece0 := make([]byte, pieceLen)
	piece1 := make([]byte, pieceLen)
	for i := range piece0 {
		piece0[i] = byte(i)
		piece1[i] = byte(i + 1)
	}
	sum0 := sha1.Sum(piece0)
	sum1 := sha1.Sum(piece1)

	info := &bencode.Dict{}
	info.Set("name", bencode.Bytes("test.iso"))
	info.Set("piece length", bencode.Integer(int64(pieceLen)))
	info.Set("length", bencode.Integer(int64(pieceLen*2)))
	info.Set("pieces", bencode.Bytes(append(append([]byte{}, sum0[:]...), sum1[:]...)))

	root := &bencode.Dict{}
	root.Set("announce", bencode.Bytes("http://tracker.example/announce"))
	root.Set("info", info)

	tr, err := metainfo.FromDict(root)
	if err != nil {
		t.Fatalf("FromDict() error = %v", err)
	}
	return tr
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()

	dir := t.TempDir()
	e, err := New(Config{BaseDir: dir, DownloadDir: "downloads", DiskWorkers: 1})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := e.Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	t.Cleanup(func() { e.Cleanup() })
	return e
}

func TestNewAssignsDistinctPeerIDPrefix(t *testing.T) {
	e, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	id := e.PeerID()
	if string(id[:8]) != "-BS0001-" {
		t.Fatalf("PeerID() prefix = %q, want -BS0001-", id[:8])
	}
}

func TestAddTorrentRejectsDuplicate(t *testing.T) {
	e := newTestEngine(t)
	tr := testTorrent(t)

	if _, err := e.addTorrent(tr); err != nil {
		t.Fatalf("addTorrent() error = %v", err)
	}
	if _, err := e.addTorrent(tr); err == nil {
		t.Fatal("addTorrent() duplicate insert, want error")
	}
}

func TestFindByInfoHashAndRemoveTorrent(t *testing.T) {
	e := newTestEngine(t)
	tr := testTorrent(t)

	d, err := e.addTorrent(tr)
	if err != nil {
		t.Fatalf("addTorrent() error = %v", err)
	}

	got, ok := e.FindByInfoHash(tr.InfoHash())
	if !ok || got != d {
		t.Fatalf("FindByInfoHash() = %v, %v, want %v, true", got, ok, d)
	}

	if err := e.RemoveTorrent(tr.InfoHash()); err != nil {
		t.Fatalf("RemoveTorrent() error = %v", err)
	}
	if _, ok := e.FindByInfoHash(tr.InfoHash()); ok {
		t.Fatal("FindByInfoHash() found torrent after RemoveTorrent()")
	}
}

func TestSetPriorityRejectsOutOfRange(t *testing.T) {
	e := newTestEngine(t)
	tr := testTorrent(t)

	d, err := e.addTorrent(tr)
	if err != nil {
		t.Fatalf("addTorrent() error = %v", err)
	}

	if err := e.SetPriority(d, -1); err == nil {
		t.Fatal("SetPriority(-1) want error")
	}
}

func TestStatReportsAddedTorrent(t *testing.T) {
	e := newTestEngine(t)
	tr := testTorrent(t)

	if _, err := e.addTorrent(tr); err != nil {
		t.Fatalf("addTorrent() error = %v", err)
	}

	stats := e.Stat()
	torrents, ok := stats["torrents"].([]map[string]interface{})
	if !ok || len(torrents) != 1 {
		t.Fatalf("Stat()[\"torrents\"] = %v", stats["torrents"])
	}
}

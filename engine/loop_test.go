package engine

import (
	"testing"

	"github.com/Elegant996/bitsyd/core/peerconn"
	"github.com/Elegant996/bitsyd/core/transfer"
	"github.com/Elegant996/bitsyd/diskio"
)

func TestOnDiskResultIgnoresUnknownTorrent(t *testing.T) {
	e := newTestEngine(t)
	other := testTorrent(t)

	// Should not panic even though no download has been added yet.
	e.onDiskResult(diskio.Result{Torrent: other, Index: 0, Verified: true, Data: []byte("x")})
}

func TestOnDiskResultVerifiedMarksPieceHave(t *testing.T) {
	e := newTestEngine(t)
	tr := testTorrent(t)

	d, err := e.addTorrent(tr)
	if err != nil {
		t.Fatalf("addTorrent() error = %v", err)
	}

	piece := transfer.Piece{Index: 0, Offset: 0, Length: int(tr.PieceLength())}
	bl, err := d.Transfer.Insert(piece, int(tr.PieceLength()))
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	peer := &peerconn.Info{ID: [20]byte{1}}
	xfer := bl.Blocks()[0].Request(peer)
	if err := d.Transfer.Finished(xfer); err != nil {
		t.Fatalf("Finished() error = %v", err)
	}

	data := make([]byte, tr.PieceLength())
	for i := range data {
		data[i] = byte(i)
	}

	e.onDiskResult(diskio.Result{Torrent: tr, Index: 0, Verified: true, Data: data})

	if !d.Have.Has(0) {
		t.Fatal("Have.Has(0) = false after a verified HashSucceeded result")
	}
}

func TestOnDiskResultUnverifiedDoesNotMarkHave(t *testing.T) {
	e := newTestEngine(t)
	tr := testTorrent(t)

	d, err := e.addTorrent(tr)
	if err != nil {
		t.Fatalf("addTorrent() error = %v", err)
	}

	piece := transfer.Piece{Index: 0, Offset: 0, Length: int(tr.PieceLength())}
	bl, err := d.Transfer.Insert(piece, int(tr.PieceLength()))
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	peer := &peerconn.Info{ID: [20]byte{1}}
	xfer := bl.Blocks()[0].Request(peer)
	if err := d.Transfer.Finished(xfer); err != nil {
		t.Fatalf("Finished() error = %v", err)
	}

	e.onDiskResult(diskio.Result{Torrent: tr, Index: 0, Verified: false, Data: make([]byte, tr.PieceLength())})

	if d.Have.Has(0) {
		t.Fatal("Have.Has(0) = true after a failed-verification result")
	}
}

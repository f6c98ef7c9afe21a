package engine

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Elegant996/bitsyd/bitfield"
	"github.com/Elegant996/bitsyd/core/choke"
	"github.com/Elegant996/bitsyd/core/peerconn"
	"github.com/Elegant996/bitsyd/core/tracker"
	"github.com/Elegant996/bitsyd/core/transfer"
	"github.com/Elegant996/bitsyd/metainfo"
)

// Download is one torrent's engine-side state: its metainfo, the
// TransferList driving its block acquisition, its TrackerList, the
// ResourceManager entry that ties it into the choke scheduler, and the
// "have" bitfield handed to new peer connections — generalizing the
// teacher's per-torrent bundle of *swarm.Swarm + *tracker.TrackerGroup
// keyed by TorrentID into one value per download handle.
//
// Handle is an opaque random identifier, unrelated to the torrent's own
// identity, drawn each time the torrent is added: re-adding a torrent
// after RemoveTorrent gives its new Download a different Handle.
type Download struct {
	Handle uuid.UUID

	Torrent  *metainfo.Torrent
	Transfer *transfer.TransferList
	Trackers *tracker.TrackerList

	Have bitfield.Bitfield

	entry *choke.Entry

	observer Observer

	uploaded, downloaded int64

	lastAnnounce time.Time
	startedAt    time.Time
}

func newDownload(t *metainfo.Torrent, entry *choke.Entry, peerID [20]byte, observer Observer) *Download {
	if observer == nil {
		observer = noopObserver{}
	}

	d := &Download{
		Handle:    uuid.New(),
		Torrent:   t,
		Trackers:  tracker.New(t.InfoHash(), peerID),
		Have:      bitfield.New(t.NumPieces()),
		entry:     entry,
		observer:  observer,
		startedAt: time.Now(),
	}

	d.Transfer = transfer.New(transfer.Callbacks{
		OnCompleted: d.onPieceCompleted,
		OnCorrupt:   d.onCorruptPeer,
	})

	d.Trackers.OnSuccess = func(t tracker.Tracker, res tracker.Result) {
		log.Info().Str("torrent", d.Torrent.HexHash()).Int("peers", len(res.Peers)).Msg("tracker announce succeeded")
		d.observer.TrackerAnnounceSucceeded(d.Torrent.InfoHash())
	}
	d.Trackers.OnFailed = func(t tracker.Tracker, err error) {
		log.Warn().Str("torrent", d.Torrent.HexHash()).Err(err).Msg("tracker announce failed")
		d.observer.TrackerAnnounceFailed(d.Torrent.InfoHash())
	}

	return d
}

// onCorruptPeer is TransferList's OnCorrupt sink: the peer-connection
// subsystem (out of core scope) is expected to act on this, e.g. by
// disconnecting or banning the peer. The core only identifies it.
func (d *Download) onCorruptPeer(p *peerconn.Info) {
	log.Warn().Str("torrent", d.Torrent.HexHash()).Str("peer", p.String()).Msg("peer delivered corrupt piece data")
	d.observer.PeerCorrupt()
}

// onPieceCompleted marks the piece's bit in Have once HashSucceeded
// (which fires OnCompleted) has accepted it. The TransferList itself
// has already erased the BlockList by the time this fires.
func (d *Download) onPieceCompleted(index int) {
	d.Have.Set(index)
}

// Left returns the number of bytes remaining to download, the value
// the tracker announce's "left" parameter reports.
func (d *Download) Left() int64 {
	total := int64(d.Torrent.Length())
	have := int64(d.Have.Count()) * int64(d.Torrent.PieceLength())
	left := total - have
	if left < 0 {
		left = 0
	}
	return left
}

// Progress returns the fraction of pieces verified, in [0, 1].
func (d *Download) Progress() float64 {
	n := d.Torrent.NumPieces()
	if n == 0 {
		return 1
	}
	return float64(d.Have.Count()) / float64(n)
}

// IsComplete reports whether every piece has been verified.
func (d *Download) IsComplete() bool {
	return d.Have.Complete(d.Torrent.NumPieces())
}

// LastAnnounce returns the time of this download's most recent
// successful announce attempt, the zero value if none has happened
// yet.
func (d *Download) LastAnnounce() time.Time {
	return d.lastAnnounce
}

// RestoreHave overwrites d's have-bitfield and last-announce time from
// a previously persisted resume record, letting a restarted engine
// skip re-verifying pieces it already confirmed.
func (d *Download) RestoreHave(have bitfield.Bitfield, lastAnnounce time.Time) {
	if len(have) == len(d.Have) {
		d.Have = have
	}
	d.lastAnnounce = lastAnnounce
}

// Stat returns a JSON-marshalable snapshot of this download.
func (d *Download) Stat() map[string]interface{} {
	return map[string]interface{}{
		"handle":     d.Handle.String(),
		"name":       d.Torrent.Name(),
		"infoHash":   d.Torrent.HexHash(),
		"length":     uint64(d.Torrent.Length()),
		"pieces":     d.Torrent.NumPieces(),
		"have":       d.Have.Count(),
		"progress":   d.Progress(),
		"priority":   d.entry.Priority(),
		"uploaded":   d.uploaded,
		"downloaded": d.downloaded,
		"left":       d.Left(),
		"complete":   d.IsComplete(),
	}
}

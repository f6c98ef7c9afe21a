package engine

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Elegant996/bitsyd/core/tracker"
	"github.com/Elegant996/bitsyd/diskio"
)

// announceInterval is how long a download waits between unsolicited
// announces once it has one, the floor the teacher's TrackerGroup
// effectively enforces by only re-announcing on its own ticker.
const announceInterval = 5 * time.Minute

// tickLoop is the engine's single main-loop goroutine: the only
// reader of the disk queue's Results channel and the only caller of
// ResourceManager.ReceiveTick, matching spec.md §5's "core data
// structures are accessed from this loop only" rule. Grounded on the
// teacher's swarm.go listen() select loop.
func (e *Engine) tickLoop() {
	defer e.wg.Done()

	var diskResults <-chan diskio.Result
	if e.disk != nil {
		diskResults = e.disk.Results
	}

	for {
		select {
		case <-e.done:
			return

		case <-e.ticker.C:
			e.onTick()

		case res, ok := <-diskResults:
			if !ok {
				diskResults = nil
				continue
			}
			e.onDiskResult(res)
		}
	}
}

// onTick runs once per second: the ResourceManager's slot-balancing
// pass, then one announce attempt for every download whose interval
// has elapsed. receive_tick is atomic relative to other main-loop
// operations because nothing else touches these structures.
func (e *Engine) onTick() {
	e.mu.Lock()
	downloads := make([]*Download, 0, len(e.downloads))
	for _, d := range e.downloads {
		downloads = append(downloads, d)
	}
	e.mu.Unlock()

	if err := e.rm.ReceiveTick(); err != nil {
		log.Error().Err(err).Msg("resource manager tick failed")
	}

	now := time.Now()
	for _, d := range downloads {
		e.maybeAnnounce(d, now)
	}
}

func (e *Engine) maybeAnnounce(d *Download, now time.Time) {
	if !d.lastAnnounce.IsZero() && now.Sub(d.lastAnnounce) < announceInterval {
		return
	}

	event := tracker.EventNone
	if d.lastAnnounce.IsZero() {
		event = tracker.EventStarted
	} else if d.IsComplete() {
		event = tracker.EventCompleted
	}

	if err := d.Trackers.SendState(event, e.port, d.uploaded, d.downloaded, d.Left()); err != nil {
		log.Debug().Err(err).Str("torrent", d.Torrent.HexHash()).Msg("announce attempt failed")
		return
	}
	d.lastAnnounce = now
}

// onDiskResult delivers a diskio.Result into the owning download's
// TransferList, as a scheduled event on the main loop rather than a
// direct cross-goroutine call, per spec.md §5.
func (e *Engine) onDiskResult(res diskio.Result) {
	e.mu.RLock()
	d, ok := e.downloads[res.Torrent.InfoHash()]
	e.mu.RUnlock()
	if !ok {
		return
	}

	if res.Err != nil {
		log.Error().Err(res.Err).Int("piece", res.Index).Str("torrent", res.Torrent.HexHash()).Msg("disk I/O failed")
		return
	}
	if res.Data == nil {
		// A plain write with no verify request; nothing for
		// TransferList to do until the piece's last block lands.
		return
	}

	if _, ok := d.Transfer.Find(res.Index); !ok {
		return
	}

	if res.Verified {
		if err := d.Transfer.HashSucceeded(res.Index, res.Data); err != nil {
			log.Error().Err(err).Int("piece", res.Index).Msg("hash_succeeded invariant violation")
		}
		d.observer.PieceVerified()
		return
	}

	if err := d.Transfer.HashFailed(res.Index, res.Data); err != nil {
		log.Error().Err(err).Int("piece", res.Index).Msg("hash_failed invariant violation")
	}
	d.observer.PieceFailed()
}

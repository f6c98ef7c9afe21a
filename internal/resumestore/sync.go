package resumestore

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Elegant996/bitsyd/engine"
)

// SyncInterval is how often RunSync persists every tracked download's
// resume state, matching the 30-minute window spec.md §4.1 assigns the
// completed-piece log's retention sweep.
const SyncInterval = 30 * time.Minute

// SyncAll persists a resume record for every torrent eng is currently
// tracking.
func (s *Store) SyncAll(eng *engine.Engine) {
	for _, d := range eng.Torrents() {
		rec := Record{Have: d.Have, LastAnnounce: d.LastAnnounce()}
		if err := s.Save(d.Torrent.InfoHash(), rec); err != nil {
			log.Error().Err(err).Str("torrent", d.Torrent.HexHash()).Msg("resume sync failed")
		}
	}
}

// RunSync blocks, calling SyncAll every SyncInterval until done is
// closed.
func (s *Store) RunSync(eng *engine.Engine, done <-chan struct{}) {
	ticker := time.NewTicker(SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.SyncAll(eng)
		}
	}
}

// Restore loads any saved resume record for d's torrent and applies it, skipping
// re-verification of pieces already confirmed on a prior run.
func Restore(s *Store, d *engine.Download) {
	rec, ok, err := s.Load(d.Torrent.InfoHash())
	if err != nil {
		log.Error().Err(err).Str("torrent", d.Torrent.HexHash()).Msg("resume restore failed")
		return
	}
	if !ok {
		return
	}
	d.RestoreHave(rec.Have, rec.LastAnnounce)
}

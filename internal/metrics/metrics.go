// Package metrics exposes the engine's counters and gauges to
// Prometheus, promoting the teacher's indirect client_golang
// dependency into direct use the way internal/statsserver promotes
// gorilla/mux: the engine library itself stays free of metrics
// concerns, and cmd/bitsyd wires these collectors to engine callbacks
// at the composition root.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Elegant996/bitsyd/engine"
)

// Collectors implements engine.Observer, so it can be passed directly
// as engine.Config.Observer.
var _ engine.Observer = (*Collectors)(nil)

// Collectors groups every metric bitsyd reports, constructed once and
// registered against a single prometheus.Registerer (usually
// prometheus.DefaultRegisterer) at process start.
type Collectors struct {
	TrackerAnnounceSuccess *prometheus.CounterVec
	TrackerAnnounceFailure *prometheus.CounterVec
	TrackerScrape          *prometheus.CounterVec

	PeersCorrupt prometheus.Counter

	UploadUnchoked   prometheus.Gauge
	DownloadUnchoked prometheus.Gauge

	PiecesVerified prometheus.Counter
	PiecesFailed   prometheus.Counter

	BytesUploaded   prometheus.Counter
	BytesDownloaded prometheus.Counter
}

// New registers and returns bitsyd's metric collectors against reg.
func New(reg prometheus.Registerer) *Collectors {
	factory := promauto.With(reg)

	return &Collectors{
		TrackerAnnounceSuccess: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bitsyd",
			Subsystem: "tracker",
			Name:      "announce_success_total",
			Help:      "Successful tracker announces, by torrent info hash.",
		}, []string{"info_hash"}),

		TrackerAnnounceFailure: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bitsyd",
			Subsystem: "tracker",
			Name:      "announce_failure_total",
			Help:      "Failed tracker announces, by torrent info hash.",
		}, []string{"info_hash"}),

		TrackerScrape: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bitsyd",
			Subsystem: "tracker",
			Name:      "scrape_total",
			Help:      "Tracker scrape requests, by torrent info hash.",
		}, []string{"info_hash"}),

		PeersCorrupt: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "bitsyd",
			Subsystem: "transfer",
			Name:      "peers_corrupt_total",
			Help:      "Peers identified as having delivered corrupt piece data.",
		}),

		UploadUnchoked: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "bitsyd",
			Subsystem: "choke",
			Name:      "upload_unchoked",
			Help:      "Connections currently unchoked for upload.",
		}),

		DownloadUnchoked: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "bitsyd",
			Subsystem: "choke",
			Name:      "download_unchoked",
			Help:      "Connections currently unchoked for download.",
		}),

		PiecesVerified: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "bitsyd",
			Subsystem: "transfer",
			Name:      "pieces_verified_total",
			Help:      "Pieces that passed hash verification.",
		}),

		PiecesFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "bitsyd",
			Subsystem: "transfer",
			Name:      "pieces_failed_total",
			Help:      "Pieces that failed hash verification.",
		}),

		BytesUploaded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "bitsyd",
			Subsystem: "transfer",
			Name:      "bytes_uploaded_total",
			Help:      "Total bytes uploaded to peers.",
		}),

		BytesDownloaded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "bitsyd",
			Subsystem: "transfer",
			Name:      "bytes_downloaded_total",
			Help:      "Total bytes downloaded from peers.",
		}),
	}
}

func hexHash(infoHash [20]byte) string {
	return fmt.Sprintf("%x", infoHash)
}

// TrackerAnnounceSucceeded implements engine.Observer.
func (c *Collectors) TrackerAnnounceSucceeded(infoHash [20]byte) {
	c.TrackerAnnounceSuccess.WithLabelValues(hexHash(infoHash)).Inc()
}

// TrackerAnnounceFailed implements engine.Observer.
func (c *Collectors) TrackerAnnounceFailed(infoHash [20]byte) {
	c.TrackerAnnounceFailure.WithLabelValues(hexHash(infoHash)).Inc()
}

// PeerCorrupt implements engine.Observer.
func (c *Collectors) PeerCorrupt() { c.PeersCorrupt.Inc() }

// PieceVerified implements engine.Observer.
func (c *Collectors) PieceVerified() { c.PiecesVerified.Inc() }

// PieceFailed implements engine.Observer.
func (c *Collectors) PieceFailed() { c.PiecesFailed.Inc() }

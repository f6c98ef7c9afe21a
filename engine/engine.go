// Package engine is the embedder-visible façade spec.md §6 describes:
// lifecycle (Initialize/Cleanup), download handles, priority, and
// throttle accessors wired on top of core/transfer, core/choke, and
// core/tracker. It is the generalization of the teacher's session.go
// Session into the spec's named operations, threaded explicitly
// through a constructed Engine value rather than a package-level
// global.
package engine

import (
	"crypto/rand"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Elegant996/bitsyd/core/choke"
	"github.com/Elegant996/bitsyd/diskio"
	"github.com/Elegant996/bitsyd/engineerr"
	"github.com/Elegant996/bitsyd/internal/portmap"
	"github.com/Elegant996/bitsyd/metainfo"
	"github.com/Elegant996/bitsyd/netutil"
)

// defaultPorts mirrors the teacher's DEFAULTPORTS fallback list tried,
// in order, when NAT port-forwarding is requested.
var defaultPorts = []uint16{6881, 6882, 6883, 6884, 6885, 6886, 6887, 6888, 6889}

// Config configures an Engine, generalizing the teacher's
// client.Config/session.Config into the spec's named knobs.
type Config struct {
	BaseDir     string
	DownloadDir string
	IP          string
	Ports       []uint16

	MaxConnections      int
	MaxUploadUnchoked   int // 0 = unlimited
	MaxDownloadUnchoked int // 0 = unlimited

	// NAT enables UPnP port forwarding at Initialize time, the way the
	// teacher's client.Config.NatPMP flag does.
	NAT bool

	// DiskWorkers sizes the disk I/O / hashing worker pool.
	DiskWorkers int

	// Observer receives engine events for metrics/logging purposes. A
	// nil Observer means events are simply not reported anywhere beyond
	// the engine's own zerolog lines.
	Observer Observer
}

// Observer receives engine lifecycle events, letting an embedder wire
// counters (internal/metrics) or anything else without the engine
// itself depending on a metrics library.
type Observer interface {
	TrackerAnnounceSucceeded(infoHash [20]byte)
	TrackerAnnounceFailed(infoHash [20]byte)
	PeerCorrupt()
	PieceVerified()
	PieceFailed()
}

type noopObserver struct{}

func (noopObserver) TrackerAnnounceSucceeded(infoHash [20]byte) {}
func (noopObserver) TrackerAnnounceFailed(infoHash [20]byte)    {}
func (noopObserver) PeerCorrupt()                               {}
func (noopObserver) PieceVerified()                             {}
func (noopObserver) PieceFailed()                               {}

func (c Config) withDefaults() Config {
	if c.IP == "" {
		c.IP = "127.0.0.1"
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = 50
	}
	if len(c.Ports) == 0 {
		c.Ports = defaultPorts
	}
	if c.Observer == nil {
		c.Observer = noopObserver{}
	}
	return c
}

// Engine is the constructed-at-New, torn-down-at-Cleanup context object
// that owns every core subsystem. There is exactly one mutable global
// per spec.md §9's recommendation: none — every subcommand in
// cmd/bitsyd threads an *Engine explicitly.
type Engine struct {
	cfg    Config
	peerID [20]byte
	port   uint16

	mu        sync.RWMutex
	downloads map[[20]byte]*Download

	rm   *choke.ResourceManager
	disk *diskio.Queue
	net  *netutil.BoundedNet

	upThrottle   *Throttle
	downThrottle *Throttle

	startedAt     time.Time
	initialized   bool
	portMapClose  func()

	ticker *time.Ticker
	done   chan struct{}
	wg     sync.WaitGroup
}

// New constructs an Engine from cfg. The engine does nothing until
// Initialize is called.
func New(cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()

	peerID, err := newPeerID()
	if err != nil {
		return nil, engineerr.Wrap(err, "engine.New", engineerr.Internal)
	}

	rm := choke.New(cfg.MaxUploadUnchoked, cfg.MaxDownloadUnchoked)
	if _, err := rm.PushGroup("default"); err != nil {
		return nil, engineerr.Wrap(err, "engine.New")
	}

	e := &Engine{
		cfg:          cfg,
		peerID:       peerID,
		downloads:    make(map[[20]byte]*Download),
		rm:           rm,
		upThrottle:   NewThrottle(0),
		downThrottle: NewThrottle(0),
		done:         make(chan struct{}),
	}

	return e, nil
}

// newPeerID generates an Azureus-style peer ID, the idiomatic
// replacement for the teacher's hard-coded Transmission-borrowed
// constant (its own TODO asks for "a proper peerID").
func newPeerID() ([20]byte, error) {
	var id [20]byte
	copy(id[:], []byte("-BS0001-"))
	if _, err := rand.Read(id[8:]); err != nil {
		return id, err
	}
	return id, nil
}

// Initialize brings up the disk I/O queue, the connection budget, and
// (if configured) UPnP port forwarding, then starts the tick-driven
// main loop. Mirrors the teacher's Session.Init.
func (e *Engine) Initialize() error {
	const op engineerr.Op = "engine.Initialize"

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.initialized {
		return nil
	}

	e.startedAt = time.Now()

	e.disk = diskio.New(diskio.Config{
		BaseDir: path.Join(e.cfg.BaseDir, e.cfg.DownloadDir),
		Workers: e.cfg.DiskWorkers,
	})
	e.net = netutil.New(e.cfg.MaxConnections)

	port := pickPort(e.cfg.Ports)
	if e.cfg.NAT {
		closeFn, forwarded, err := portmap.Forward(e.cfg.Ports)
		if err != nil {
			log.Warn().Err(err).Msg("port forwarding unavailable, continuing without it")
		} else {
			port = forwarded
			e.portMapClose = closeFn
		}
	}
	e.port = port

	e.ticker = time.NewTicker(time.Second)
	e.wg.Add(1)
	go e.tickLoop()

	e.initialized = true
	return nil
}

// pickPort returns the first candidate port, matching the teacher's
// "try these in order" DEFAULTPORTS convention without actually
// needing to bind here (binding happens when a listener is opened).
func pickPort(ports []uint16) uint16 {
	if len(ports) == 0 {
		return defaultPorts[0]
	}
	return ports[0]
}

// IsInitialized reports whether Initialize has run.
func (e *Engine) IsInitialized() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.initialized
}

// IsInactive reports whether the engine is tracking zero torrents.
func (e *Engine) IsInactive() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.downloads) == 0
}

// Cleanup tears the engine down: stops the tick loop, closes the disk
// queue, releases any port mapping, and closes every tracker. Per
// spec.md §7's teardown carve-out, invariant violations encountered
// here are logged and do not block shutdown.
func (e *Engine) Cleanup() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return nil
	}

	close(e.done)
	e.ticker.Stop()
	e.wg.Wait()

	for _, d := range e.downloads {
		d.Trackers.CloseAll()
	}

	if e.disk != nil {
		e.disk.Close()
	}
	if e.net != nil {
		e.net.Stop()
	}
	if e.portMapClose != nil {
		e.portMapClose()
	}

	e.initialized = false
	return nil
}

// PeerID returns this engine's 20-byte peer identity.
func (e *Engine) PeerID() [20]byte { return e.peerID }

// Port returns the port this engine listens for peer connections on.
func (e *Engine) Port() uint16 { return e.port }

// ResourceManager returns the engine's global choke-slot scheduler.
func (e *Engine) ResourceManager() *choke.ResourceManager { return e.rm }

// UploadThrottle and DownloadThrottle expose the global rate-limit
// handles named in spec.md §6.
func (e *Engine) UploadThrottle() *Throttle   { return e.upThrottle }
func (e *Engine) DownloadThrottle() *Throttle { return e.downThrottle }

// AddTorrent parses the .torrent file at torrentPath, registers its
// backing files with the disk queue, and begins tracking it. Mirrors
// the teacher's Session.Register generalized into the spec's "add
// (from a parsed bencode metadata value)" operation.
func (e *Engine) AddTorrent(torrentPath string) (*Download, error) {
	const op engineerr.Op = "engine.AddTorrent"

	t, err := metainfo.Load(torrentPath)
	if err != nil {
		return nil, engineerr.Wrap(err, op, engineerr.BadArgument)
	}

	return e.addTorrent(t)
}

func (e *Engine) addTorrent(t *metainfo.Torrent) (*Download, error) {
	const op engineerr.Op = "engine.addTorrent"

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.downloads[t.InfoHash()]; ok {
		return nil, engineerr.Wrap(engineerr.Newf("torrent %s already added", t.HexHash()), op, engineerr.BadArgument)
	}

	entry := choke.NewEntry(t.InfoHash())
	if err := e.rm.Insert(entry, 0); err != nil {
		return nil, engineerr.Wrap(err, op)
	}

	d := newDownload(t, entry, e.peerID, e.cfg.Observer)

	for tier, urls := range t.AnnounceList() {
		for _, u := range urls {
			if _, err := d.Trackers.InsertURL(u, tier); err != nil {
				log.Warn().Err(err).Str("url", u).Msg("unsupported or invalid tracker url")
			}
		}
	}

	if e.disk != nil {
		if err := e.disk.Register(t); err != nil {
			return nil, engineerr.Wrap(err, op, engineerr.IO)
		}
	}

	e.downloads[t.InfoHash()] = d
	return d, nil
}

// RemoveTorrent stops tracking the torrent identified by infoHash,
// closing its trackers and removing its ResourceManager entry.
func (e *Engine) RemoveTorrent(infoHash [20]byte) error {
	const op engineerr.Op = "engine.RemoveTorrent"

	e.mu.Lock()
	defer e.mu.Unlock()

	d, ok := e.downloads[infoHash]
	if !ok {
		return engineerr.Wrap(engineerr.Newf("unknown torrent %x", infoHash), op, engineerr.BadArgument)
	}

	d.Trackers.CloseAll()
	if err := e.rm.Erase(d.entry); err != nil {
		return engineerr.Wrap(err, op)
	}

	delete(e.downloads, infoHash)
	return nil
}

// Torrents returns every download currently tracked, in no particular
// order.
func (e *Engine) Torrents() []*Download {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*Download, 0, len(e.downloads))
	for _, d := range e.downloads {
		out = append(out, d)
	}
	return out
}

// FindByInfoHash returns the download for infoHash, if tracked.
func (e *Engine) FindByInfoHash(infoHash [20]byte) (*Download, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	d, ok := e.downloads[infoHash]
	return d, ok
}

// Priority returns d's current weight within the ResourceManager.
func (e *Engine) Priority(d *Download) int {
	return d.entry.Priority()
}

// SetPriority sets d's weight within the ResourceManager, in
// [0, choke.MaxPriority].
func (e *Engine) SetPriority(d *Download, p int) error {
	const op engineerr.Op = "engine.SetPriority"
	if err := e.rm.SetPriority(d.entry, p); err != nil {
		return engineerr.Wrap(err, op)
	}
	return nil
}

// Stat returns a JSON-marshalable snapshot of the engine's state,
// generalizing the teacher's Session.Stat map-of-interface{} shape.
func (e *Engine) Stat() map[string]interface{} {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stats := make(map[string]interface{})
	stats["uptime"] = time.Since(e.startedAt).String()
	stats["port"] = e.port
	stats["peerId"] = fmt.Sprintf("%x", e.peerID)

	torrents := make([]map[string]interface{}, 0, len(e.downloads))
	for _, d := range e.downloads {
		torrents = append(torrents, d.Stat())
	}
	stats["torrents"] = torrents

	return stats
}

// submitBlock hands a finished leader transfer's bytes to the disk
// queue for writing, never calling into diskio directly from a peer
// goroutine — callers enqueue through this method so writes run on
// diskio's own worker pool.
func (e *Engine) submitBlock(t *metainfo.Torrent, index int, offset int64, data []byte, verify bool) {
	if e.disk == nil {
		return
	}
	e.disk.Submit(diskio.Request{Torrent: t, Index: index, Offset: offset, Data: data, Verify: verify})
}

package tracker

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/Elegant996/bitsyd/engineerr"
)

// udpProtocolID is the BEP-15 connect-request magic constant.
const udpProtocolID uint64 = 0x41727101980

const (
	actionConnect  uint32 = 0
	actionAnnounce uint32 = 1
	actionScrape   uint32 = 2
	actionError    uint32 = 3
)

const udpMaxTries = 2

// udpReadTimeout is the default per-attempt deadline for a connect or
// announce reply.
const udpReadTimeout = 15 * time.Second

// UDPTracker speaks the BEP-15 datagram announce protocol: connect to
// obtain a connection_id, then announce using it. Every request is
// matched on transaction_id; a reply that doesn't match is ignored as
// if it never arrived.
type UDPTracker struct {
	base

	dial func(ctx context.Context, addr string) (net.Conn, error)

	connectionID    uint64
	haveConnection  bool
	transactionID   uint32
	tries           int
}

// NewUDPTracker returns a Tracker that announces to a udp:// URL.
func NewUDPTracker(parent *TrackerList, url string, group int, flags Flags) *UDPTracker {
	return &UDPTracker{
		base: newBase(parent, url, group, flags),
		dial: func(ctx context.Context, addr string) (net.Conn, error) {
			d := net.Dialer{}
			return d.DialContext(ctx, "udp", addr)
		},
	}
}

func (t *UDPTracker) IsBusy() bool { return t.state != stateIdle }

// SendState runs the connect+announce round trip synchronously. A
// production engine would drive this from its event loop instead of
// blocking the caller; the request/response framing below is what
// that loop would execute per wakeup.
func (t *UDPTracker) SendState(event Event, stats Stats) error {
	const op engineerr.Op = "tracker.UDPTracker.SendState"

	if t.IsBusy() {
		return engineerr.Wrap(engineerr.New("tracker busy"), op, engineerr.Internal)
	}

	host, err := parseUDPAddr(t.url)
	if err != nil {
		return engineerr.Wrap(err, op, engineerr.BadArgument)
	}

	t.state = stateConnecting
	t.latestEvent = event
	t.tries = udpMaxTries

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, err := t.dial(ctx, host)
	if err != nil {
		t.state = stateIdle
		return t.receiveFailed(err)
	}
	defer conn.Close()

	if err := t.roundTrip(conn, stats); err != nil {
		t.state = stateIdle
		return t.receiveFailed(err)
	}

	t.state = stateIdle
	return nil
}

func (t *UDPTracker) roundTrip(conn net.Conn, stats Stats) error {
	if err := t.connect(conn); err != nil {
		return err
	}
	return t.announce(conn, stats)
}

func (t *UDPTracker) connect(conn net.Conn) error {
	const op engineerr.Op = "tracker.UDPTracker.connect"

	for attempt := 0; attempt < t.tries; attempt++ {
		txID := t.nextTransactionID(attempt)
		req := prepareConnectInput(txID)
		if _, err := conn.Write(req); err != nil {
			return engineerr.Wrap(err, op, engineerr.Internal)
		}

		buf := make([]byte, 512)
		conn.SetReadDeadline(time.Now().Add(udpReadTimeout))
		n, err := conn.Read(buf)
		if err != nil {
			continue
		}

		connID, ok := processConnectOutput(buf[:n], txID)
		if ok {
			t.connectionID = connID
			t.haveConnection = true
			return nil
		}
		if reason, ok := processErrorOutput(buf[:n], txID); ok {
			return engineerr.Wrap(engineerr.Newf("udp connect: tracker error: %s", reason), op, engineerr.Internal)
		}
	}
	return engineerr.Wrap(engineerr.New("udp connect: no valid reply"), op, engineerr.Internal)
}

func (t *UDPTracker) announce(conn net.Conn, stats Stats) error {
	const op engineerr.Op = "tracker.UDPTracker.announce"

	if !t.haveConnection {
		return engineerr.Wrap(engineerr.New("udp announce without connection id"), op, engineerr.Internal)
	}

	for attempt := 0; attempt < t.tries; attempt++ {
		txID := t.nextTransactionID(attempt)
		req, err := prepareAnnounceInput(t.connectionID, txID, t.latestEvent, stats)
		if err != nil {
			return engineerr.Wrap(err, op, engineerr.Internal)
		}
		if _, err := conn.Write(req); err != nil {
			return engineerr.Wrap(err, op, engineerr.Internal)
		}

		buf := make([]byte, 2048)
		conn.SetReadDeadline(time.Now().Add(udpReadTimeout))
		n, err := conn.Read(buf)
		if err != nil {
			continue
		}

		result, interval, ok := processAnnounceOutput(buf[:n], txID)
		if !ok {
			if reason, ok := processErrorOutput(buf[:n], txID); ok {
				return engineerr.Wrap(engineerr.Newf("udp announce: tracker error: %s", reason), op, engineerr.Internal)
			}
			continue
		}

		t.setNormalInterval(interval)
		t.setMinInterval(defaultMinInterval)
		t.successCounter++
		t.successTimeLast = time.Now()
		if t.parent != nil {
			t.parent.receiveSuccess(t, result)
		}
		return nil
	}

	return engineerr.Wrap(engineerr.New("unable to connect to UDP tracker"), op, engineerr.Internal)
}

func (t *UDPTracker) receiveFailed(cause error) error {
	t.failedCounter++
	t.failedTimeLast = time.Now()
	if t.parent != nil {
		t.parent.receiveFailed(t, cause)
	}
	return cause
}

// SendScrape is not implemented for UDPTracker; BEP-15 scrape uses a
// different action and reply layout this repo doesn't wire up.
func (t *UDPTracker) SendScrape(infoHash [20]byte) error {
	const op engineerr.Op = "tracker.UDPTracker.SendScrape"
	return engineerr.Wrap(engineerr.New("udp scrape not supported"), op, engineerr.BadArgument)
}

func (t *UDPTracker) Close() {
	t.state = stateIdle
}

func (t *UDPTracker) Disown() {
	t.Close()
	t.parent = nil
}

func (t *UDPTracker) nextTransactionID(salt int) uint32 {
	t.transactionID = t.transactionID*2654435761 + uint32(salt) + 1
	if t.transactionID == 0 {
		t.transactionID = 1
	}
	return t.transactionID
}

// parseUDPAddr accepts udp://host:port and udp://[ipv6]:port, as the
// original's parse_udp_url does with its two sscanf patterns.
func parseUDPAddr(rawURL string) (string, error) {
	const prefix = "udp://"
	s := rawURL
	if len(s) >= len(prefix) && s[:len(prefix)] == prefix {
		s = s[len(prefix):]
	}
	if i := bytes.IndexByte([]byte(s), '/'); i >= 0 {
		s = s[:i]
	}
	if s == "" {
		return "", fmt.Errorf("tracker: invalid udp url %q", rawURL)
	}
	return s, nil
}

func prepareConnectInput(transactionID uint32) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[0:8], udpProtocolID)
	binary.BigEndian.PutUint32(buf[8:12], actionConnect)
	binary.BigEndian.PutUint32(buf[12:16], transactionID)
	return buf
}

func processConnectOutput(buf []byte, wantTxID uint32) (connectionID uint64, ok bool) {
	if len(buf) < 16 {
		return 0, false
	}
	action := binary.BigEndian.Uint32(buf[0:4])
	txID := binary.BigEndian.Uint32(buf[4:8])
	if action != actionConnect || txID != wantTxID {
		return 0, false
	}
	return binary.BigEndian.Uint64(buf[8:16]), true
}

// prepareAnnounceInput assembles the exact 98-byte BEP-15 announce
// packet.
func prepareAnnounceInput(connectionID uint64, transactionID uint32, event Event, stats Stats) ([]byte, error) {
	buf := make([]byte, 98)
	binary.BigEndian.PutUint64(buf[0:8], connectionID)
	binary.BigEndian.PutUint32(buf[8:12], actionAnnounce)
	binary.BigEndian.PutUint32(buf[12:16], transactionID)
	copy(buf[16:36], stats.InfoHash[:])
	copy(buf[36:56], stats.PeerID[:])
	binary.BigEndian.PutUint64(buf[56:64], uint64(stats.Downloaded))
	binary.BigEndian.PutUint64(buf[64:72], uint64(stats.Left))
	binary.BigEndian.PutUint64(buf[72:80], uint64(stats.Uploaded))
	binary.BigEndian.PutUint32(buf[80:84], udpEventCode(event))
	copy(buf[84:88], net.IPv4zero.To4())
	binary.BigEndian.PutUint32(buf[88:92], stats.Key)
	numWant := int32(stats.NumWant)
	if numWant == 0 {
		numWant = -1
	}
	binary.BigEndian.PutUint32(buf[92:96], uint32(numWant))
	binary.BigEndian.PutUint16(buf[96:98], stats.Port)

	if len(buf) != 98 {
		return nil, engineerr.New("tracker: assembled announce packet is not 98 bytes")
	}
	return buf, nil
}

func udpEventCode(e Event) uint32 {
	switch e {
	case EventCompleted:
		return 1
	case EventStarted:
		return 2
	case EventStopped:
		return 3
	default:
		return 0
	}
}

// processAnnounceOutput parses an announce reply: interval, leecher
// and seeder counts, then a run of 6-byte compact IPv4 peers.
func processAnnounceOutput(buf []byte, wantTxID uint32) (Result, time.Duration, bool) {
	if len(buf) < 20 {
		return Result{}, 0, false
	}
	action := binary.BigEndian.Uint32(buf[0:4])
	txID := binary.BigEndian.Uint32(buf[4:8])
	if action != actionAnnounce || txID != wantTxID {
		return Result{}, 0, false
	}

	interval := binary.BigEndian.Uint32(buf[8:12])
	rest := buf[20:]

	var peers []Peer
	for len(rest) >= 6 {
		ip := net.IPv4(rest[0], rest[1], rest[2], rest[3])
		port := binary.BigEndian.Uint16(rest[4:6])
		peers = append(peers, Peer{IP: ip.String(), Port: port})
		rest = rest[6:]
	}

	return Result{Peers: peers}, time.Duration(interval) * time.Second, true
}

// processErrorOutput extracts the human-readable reason from an
// action=3 reply.
func processErrorOutput(buf []byte, wantTxID uint32) (string, bool) {
	if len(buf) < 8 {
		return "", false
	}
	action := binary.BigEndian.Uint32(buf[0:4])
	txID := binary.BigEndian.Uint32(buf[4:8])
	if action != actionError || txID != wantTxID {
		return "", false
	}
	return string(buf[8:]), true
}

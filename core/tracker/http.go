package tracker

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	resty "gopkg.in/resty.v1"

	"github.com/Elegant996/bitsyd/bencode"
	"github.com/Elegant996/bitsyd/engineerr"
)

// HTTPTracker speaks the classic GET-request announce protocol.
// Capability to scrape is derived once, from the URL shape, the way
// the original detects it from the trailing "/announce" path
// segment.
type HTTPTracker struct {
	base

	client *resty.Client
	busy   bool
}

// NewHTTPTracker returns a Tracker that announces to an http(s):// URL.
func NewHTTPTracker(parent *TrackerList, rawURL string, group int, flags Flags) *HTTPTracker {
	if canScrapeURL(rawURL) {
		flags |= FlagCanScrape
	}
	return &HTTPTracker{
		base:   newBase(parent, rawURL, group, flags),
		client: resty.New().SetTimeout(120 * time.Second),
	}
}

func (t *HTTPTracker) IsBusy() bool { return t.busy }

// canScrapeURL reports whether rawURL's last path segment is
// "announce", the only shape the protocol lets a client rewrite into
// a scrape URL.
func canScrapeURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	segs := strings.Split(strings.TrimRight(u.Path, "/"), "/")
	return len(segs) > 0 && segs[len(segs)-1] == "announce"
}

// scrapeURL rewrites an announce URL's trailing "announce" segment to
// "scrape".
func scrapeURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	idx := strings.LastIndex(u.Path, "announce")
	if idx < 0 {
		return "", fmt.Errorf("tracker: url %q cannot be scraped", rawURL)
	}
	u.Path = u.Path[:idx] + "scrape" + u.Path[idx+len("announce"):]
	return u.String(), nil
}

func (t *HTTPTracker) SendState(event Event, stats Stats) error {
	const op engineerr.Op = "tracker.HTTPTracker.SendState"

	if t.busy {
		return engineerr.Wrap(engineerr.New("tracker busy"), op, engineerr.Internal)
	}
	t.busy = true
	t.state = stateAnnouncing
	defer func() { t.busy = false; t.state = stateIdle }()

	params := t.requestParams(event, stats)

	resp, err := t.client.R().SetQueryParams(params).Get(t.url)
	if err != nil {
		return t.receiveFailed(engineerr.Wrap(err, op, engineerr.Internal))
	}
	if resp.StatusCode() >= 400 {
		err := engineerr.Newf("tracker http status %d", resp.StatusCode())
		return t.receiveFailed(engineerr.Wrap(err, op, engineerr.Internal))
	}

	return t.processResponse(resp.Body())
}

// requestParams assembles the query-string parameters the original's
// send_state builds: info_hash and peer_id always, key/trackerid when
// known, a local-address hint, and the numeric counters.
func (t *HTTPTracker) requestParams(event Event, stats Stats) map[string]string {
	params := map[string]string{
		"info_hash":  string(stats.InfoHash[:]),
		"peer_id":    string(stats.PeerID[:]),
		"uploaded":   strconv.FormatInt(stats.Uploaded, 10),
		"downloaded": strconv.FormatInt(stats.Downloaded, 10),
		"left":       strconv.FormatInt(stats.Left, 10),
		"port":       strconv.Itoa(int(stats.Port)),
		"compact":    "1",
	}

	if stats.Key != 0 {
		params["key"] = fmt.Sprintf("%08x", stats.Key)
	}
	if t.trackerID != "" {
		params["trackerid"] = t.trackerID
	}
	if stats.NumWant > 0 {
		params["numwant"] = strconv.Itoa(stats.NumWant)
	}
	if stats.IP != "" {
		if ip := net.ParseIP(stats.IP); ip != nil {
			if ip.To4() != nil {
				params["ipv4"] = stats.IP
			} else {
				params["ipv6"] = stats.IP
			}
			params["ip"] = stats.IP
		}
	}
	if event != EventNone {
		params["event"] = event.String()
	}

	return params
}

func (t *HTTPTracker) receiveFailed(err error) error {
	t.failedCounter++
	t.failedTimeLast = time.Now()
	if t.parent != nil {
		t.parent.receiveFailed(t, err)
	}
	return err
}

// processResponse decodes a bencoded announce reply and applies the
// original's process_success rules, including the fixed
// normal/min-interval assignment in the branch that historically read
// the wrong setter.
func (t *HTTPTracker) processResponse(body []byte) error {
	const op engineerr.Op = "tracker.HTTPTracker.processResponse"

	v, err := bencode.Unmarshal(body)
	if err != nil {
		return t.receiveFailed(engineerr.Wrap(err, op, engineerr.Internal))
	}
	d, ok := v.AsDict()
	if !ok {
		return t.receiveFailed(engineerr.Wrap(engineerr.New("tracker: response is not a dict"), op, engineerr.Internal))
	}

	if reason, ok := d.GetString("failure reason"); ok {
		return t.processFailure(reason)
	}

	return t.processSuccess(d)
}

func (t *HTTPTracker) processFailure(reason string) error {
	t.failedCounter++
	t.failedTimeLast = time.Now()
	err := engineerr.Newf("tracker: announce failed: %s", reason)
	if t.parent != nil {
		t.parent.receiveFailed(t, err)
	}
	return err
}

func (t *HTTPTracker) processSuccess(d *bencode.Dict) error {
	if interval, ok := d.GetInt("interval"); ok {
		t.setNormalInterval(time.Duration(interval) * time.Second)
	}
	if minInterval, ok := d.GetInt("min interval"); ok {
		t.setMinInterval(time.Duration(minInterval) * time.Second)
	} else {
		// The original's else-branch here called
		// set_normal_interval(default_min_interval), clobbering the
		// normal interval it had just set above. There is no
		// corresponding bug for the min interval: absent an explicit
		// value, it falls back to its own default.
		t.setMinInterval(defaultMinInterval)
	}
	if trackerID, ok := d.GetString("tracker id"); ok {
		t.trackerID = trackerID
	}

	result, err := parsePeers(d)
	if err != nil {
		return err
	}

	t.successCounter++
	t.successTimeLast = time.Now()
	if t.parent != nil {
		t.parent.receiveSuccess(t, result)
	}
	return nil
}

// parsePeers handles both the compact ("peers" as a binary blob of
// 6-byte IPv4 tuples) and non-compact ("peers" as a list of dicts)
// reply shapes.
func parsePeers(d *bencode.Dict) (Result, error) {
	v, ok := d.Get("peers")
	if !ok {
		return Result{}, nil
	}

	if b, ok := v.AsBytes(); ok {
		var peers []Peer
		for len(b) >= 6 {
			ip := net.IPv4(b[0], b[1], b[2], b[3])
			port := uint16(b[4])<<8 | uint16(b[5])
			peers = append(peers, Peer{IP: ip.String(), Port: port})
			b = b[6:]
		}
		return Result{Peers: peers}, nil
	}

	if l, ok := v.AsList(); ok {
		var peers []Peer
		for _, item := range l {
			pd, ok := item.AsDict()
			if !ok {
				continue
			}
			ip, _ := pd.GetString("ip")
			port, _ := pd.GetInt("port")
			peers = append(peers, Peer{IP: ip, Port: uint16(port)})
		}
		return Result{Peers: peers}, nil
	}

	return Result{}, engineerr.New("tracker: peers field has unrecognized shape")
}

func (t *HTTPTracker) SendScrape(infoHash [20]byte) error {
	const op engineerr.Op = "tracker.HTTPTracker.SendScrape"

	if !t.CanScrape() {
		return engineerr.Wrap(engineerr.New("tracker does not support scrape"), op, engineerr.BadArgument)
	}
	if !t.canScrapeNow(time.Now()) {
		return engineerr.Wrap(engineerr.New("tracker scrape on cooldown"), op, engineerr.Internal)
	}

	su, err := scrapeURL(t.url)
	if err != nil {
		return engineerr.Wrap(err, op, engineerr.BadArgument)
	}

	resp, err := t.client.R().
		SetQueryParam("info_hash", string(infoHash[:])).
		Get(su)
	if err != nil {
		return engineerr.Wrap(err, op, engineerr.Internal)
	}
	if resp.StatusCode() >= 400 {
		return engineerr.Wrap(engineerr.Newf("scrape http status %d", resp.StatusCode()), op, engineerr.Internal)
	}

	t.scrapeCounter++
	t.scrapeTimeLast = time.Now()
	return nil
}

func (t *HTTPTracker) Close() {
	t.state = stateIdle
	t.busy = false
}

func (t *HTTPTracker) Disown() {
	t.Close()
	t.parent = nil
}

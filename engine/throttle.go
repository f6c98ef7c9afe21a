package engine

import "sync/atomic"

// Throttle is a global upload or download rate-limit handle, the
// "throttle handles... with a rate() view" spec.md §6 names. The
// actual token-bucket enforcement lives with whatever writes bytes to
// the wire (out of core scope); Throttle only holds the configured
// limit and the most recently observed rate.
type Throttle struct {
	limit int64 // bytes/sec, 0 = unlimited
	rate  int64 // bytes/sec, updated by whoever measures throughput
}

// NewThrottle returns a Throttle capped at limit bytes/sec (0 for
// unlimited).
func NewThrottle(limit int64) *Throttle {
	return &Throttle{limit: limit}
}

// Limit returns the configured cap, 0 meaning unlimited.
func (t *Throttle) Limit() int64 { return atomic.LoadInt64(&t.limit) }

// SetLimit changes the configured cap.
func (t *Throttle) SetLimit(bytesPerSec int64) { atomic.StoreInt64(&t.limit, bytesPerSec) }

// Rate returns the most recently observed throughput in bytes/sec.
func (t *Throttle) Rate() int64 { return atomic.LoadInt64(&t.rate) }

// observe records a new throughput sample; the peer-I/O subsystem
// (out of core scope) is expected to call this periodically.
func (t *Throttle) observe(bytesPerSec int64) { atomic.StoreInt64(&t.rate, bytesPerSec) }

// Package peerconn describes the remote-peer collaborator the core
// consumes but does not implement. Wire-protocol framing, handshakes,
// and message I/O are out of scope for the core (spec.md §1); this
// package only defines the identity and rate/interest state that
// TransferList's bad-peer voting and the choke scheduler's heuristics
// need a stable handle on.
package peerconn

import "time"

// Info identifies one remote peer and tracks the flags and rates the
// choke scheduler and transfer bookkeeping need. A real connection
// (handshake, message framing, piece I/O) lives outside the core and
// is expected to keep one of these up to date as traffic flows.
type Info struct {
	ID      [20]byte
	Address string

	// Choked is true when the local side has choked this peer's
	// upload (i.e. this peer may not request blocks from us).
	Choked bool
	// Blocking is true when this peer has choked us; we may not
	// request blocks from it.
	Blocking bool
	// Interested is true when this peer has signaled interest in a
	// piece we have.
	Interested bool
	// Interesting is true when this peer has a piece we want.
	Interesting bool

	UploadRate   int64
	DownloadRate int64
	Uploaded     int64
	Downloaded   int64

	LastMessage time.Time
}

// Key returns a stable map key for this peer, derived from its peer
// ID rather than its (reusable) network address.
func (i *Info) Key() string { return string(i.ID[:]) }

func (i *Info) String() string { return i.Address }

// Package portmap forwards a listening port through a UPnP-capable
// router, grounded on the teacher's conn.go forwardPorts helper (which
// the teacher's go.mod pulls gitlab.com/NebulousLabs/go-upnp in for but
// never actually wires into Session.Init — SPEC_FULL closes that gap).
package portmap

import (
	"fmt"

	"gitlab.com/NebulousLabs/go-upnp"

	"github.com/Elegant996/bitsyd/engineerr"
)

// Forward discovers a UPnP-capable router on the local network and
// forwards the first port in candidates that the router accepts.
// Returns a close function that un-forwards the port, the port that
// was actually mapped, and an error if no router was found or every
// candidate was rejected.
func Forward(candidates []uint16) (close func(), port uint16, err error) {
	const op engineerr.Op = "portmap.Forward"

	if len(candidates) == 0 {
		return nil, 0, engineerr.Wrap(engineerr.New("no candidate ports given"), op, engineerr.BadArgument)
	}

	d, err := upnp.Discover()
	if err != nil {
		return nil, 0, engineerr.Wrap(err, op, engineerr.Network)
	}

	for _, p := range candidates {
		if err := d.Forward(p, "bitsyd BitTorrent engine"); err != nil {
			continue
		}

		mapped := p
		closeFn := func() {
			if err := d.Clear(mapped); err != nil {
				// Best-effort: the lease will also expire on its own.
				_ = err
			}
		}
		return closeFn, mapped, nil
	}

	return nil, 0, engineerr.Wrap(
		fmt.Errorf("portmap: could not forward any of %d candidate ports", len(candidates)),
		op, engineerr.Network)
}

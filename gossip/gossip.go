// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package gossip implements the GossipRouter: given a unit to propagate
// and a channel roster, it fans the unit out to every member other than
// the publisher and the local peer.
package gossip

import (
	"context"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/propeller/iface"
	"github.com/luxfi/propeller/sharding"
	"github.com/luxfi/propeller/wire"
)

// Router submits single-recipient batches to every destination peer for a
// gossiped unit. Ordering across destinations is unspecified; Router
// submits them concurrently.
type Router struct {
	transport iface.Transport
	log       log.Logger
}

// New returns a Router sending through transport.
func New(transport iface.Transport, logger log.Logger) *Router {
	return &Router{transport: transport, log: logger}
}

// Send delivers unit to every member of roster except publisher and the
// local peer (transport.Self()). It returns once all sends have been
// attempted; per-destination failures are logged and do not stop delivery
// to the remaining peers.
func (r *Router) Send(ctx context.Context, roster []sharding.Member, publisher ids.NodeID, unit *wire.Unit) {
	self := r.transport.Self()
	frame := wire.EncodeFrame([]*wire.Unit{unit})

	destinations := make([]ids.NodeID, 0, len(roster))
	for _, m := range roster {
		if m.Peer == publisher || m.Peer == self {
			continue
		}
		destinations = append(destinations, m.Peer)
	}

	errCh := make(chan error, len(destinations))
	for _, peer := range destinations {
		peer := peer
		go func() {
			errCh <- r.transport.SendTo(ctx, peer, frame)
		}()
	}
	for range destinations {
		if err := <-errCh; err != nil {
			r.log.Debug("gossip send failed", "error", err)
		}
	}
}

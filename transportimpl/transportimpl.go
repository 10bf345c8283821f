// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package transportimpl wires iface.Transport onto a libp2p-style p2p
// sender, the way the teacher's engine/chain/block.VM wires its AppSender
// alias onto github.com/luxfi/p2p (see vm.go: "AppSender is an alias for
// p2p.Sender"). Propeller units travel as application-gossip payloads.
// The Transport records a protocol identifier (default "/propeller/1.0.0"),
// but SendTo does not pass it to the sender.
package transportimpl

import (
	"context"
	"fmt"

	"github.com/luxfi/ids"
	"github.com/luxfi/math/set"
	"github.com/luxfi/p2p"
)

// DefaultProtocolID is the protocol string the core exposes to the
// transport layer per spec §6.
const DefaultProtocolID = "/propeller/1.0.0"

// Transport adapts a p2p.Sender into the single-recipient, already-framed
// send the core needs. It implements iface.Transport.
type Transport struct {
	self     ids.NodeID
	sender   p2p.Sender
	protocol string
}

// New returns a Transport that sends through sender as self. protocol
// overrides DefaultProtocolID when non-empty.
func New(self ids.NodeID, sender p2p.Sender, protocol string) *Transport {
	if protocol == "" {
		protocol = DefaultProtocolID
	}
	return &Transport{self: self, sender: sender, protocol: protocol}
}

// Self returns this node's own peer id.
func (t *Transport) Self() ids.NodeID { return t.self }

// SendTo transmits one already-encoded PropellerUnitBatch frame to peer
// as an application gossip message. Failures are terminal for this send
// only; the core performs no retries (§7).
func (t *Transport) SendTo(ctx context.Context, peer ids.NodeID, frame []byte) error {
	dest := set.Of(peer)
	if err := t.sender.SendAppGossipSpecific(ctx, dest, frame); err != nil {
		return fmt.Errorf("transportimpl: send to %s: %w", peer, err)
	}
	return nil
}

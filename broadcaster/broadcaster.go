// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package broadcaster implements the publisher side of Propeller: pad and
// split a message, erasure-encode it, build its Merkle tree, sign the
// root, and distribute one unit per (peer, shard index) to the transport.
package broadcaster

import (
	"context"
	"errors"
	"fmt"

	"github.com/luxfi/ids"
	"github.com/luxfi/propeller/channel"
	"github.com/luxfi/propeller/erasure"
	"github.com/luxfi/propeller/iface"
	"github.com/luxfi/propeller/merkle"
	"github.com/luxfi/propeller/sharding"
	"github.com/luxfi/propeller/shardcodec"
	"github.com/luxfi/propeller/unitvalidator"
	"github.com/luxfi/propeller/wire"
)

// ErrNotMember is returned when the local peer is not a member of the
// target channel.
var ErrNotMember = errors.New("broadcaster: local peer not a channel member")

// Broadcaster drives §4.7: one call to Broadcast performs the entire
// publish pipeline and returns the MessageRoot.
type Broadcaster struct {
	crypto    iface.Crypto
	transport iface.Transport
	scheme    sharding.Scheme
	totalT    func(n int) int
	pad       bool
}

// New returns a Broadcaster. totalT computes the caller-chosen T for
// proportional schemes given the roster size n; fixed schemes ignore it.
// pad controls whether messages are length-prefixed and zero-padded
// before sharding (config.Config.Pad).
func New(crypto iface.Crypto, transport iface.Transport, scheme sharding.Scheme, totalT func(n int) int, pad bool) *Broadcaster {
	return &Broadcaster{crypto: crypto, transport: transport, scheme: scheme, totalT: totalT, pad: pad}
}

// Result is the product of one Broadcast call: the computed shard
// assignment (handed to the Engine so it can seed the local
// MessageProcessor) and the resulting MessageRoot.
type Result struct {
	Assignment *sharding.Assignment
	Root       merkle.Hash
	K          int
	M          int
}

// Broadcast runs the full publish pipeline for message over ch and returns
// its MessageRoot plus the assignment the Engine needs to seed local
// processor state.
func (b *Broadcaster) Broadcast(ctx context.Context, ch *channel.Channel, message []byte) (*Result, error) {
	local := b.transport.Self()
	if !ch.HasMember(local) {
		return nil, ErrNotMember
	}

	total := 0
	if b.totalT != nil {
		total = b.totalT(len(ch.Roster))
	}
	assignment, err := ch.Assignment(b.scheme, local, total)
	if err != nil {
		return nil, fmt.Errorf("broadcaster: assignment: %w", err)
	}

	k := assignment.DataShards()
	t := assignment.Total()
	m := t - k

	pieces, err := shardcodec.Split(message, k, b.pad)
	if err != nil {
		return nil, fmt.Errorf("broadcaster: split: %w", err)
	}
	coder, err := erasure.New(k, m)
	if err != nil {
		return nil, fmt.Errorf("broadcaster: erasure.New: %w", err)
	}
	parity, err := coder.Encode(pieces)
	if err != nil {
		return nil, fmt.Errorf("broadcaster: encode: %w", err)
	}
	allShards := append(append([][]byte{}, pieces...), parity...)

	tree, err := merkle.Build(allShards, merkle.DefaultHash)
	if err != nil {
		return nil, fmt.Errorf("broadcaster: merkle build: %w", err)
	}
	root := tree.Root()

	sig, err := b.crypto.Sign(append([]byte(unitvalidator.DomainSeparator), root[:]...))
	if err != nil {
		return nil, fmt.Errorf("broadcaster: sign: %w", err)
	}

	batches := make(map[ids.NodeID][]*wire.Unit)
	for idx := 0; idx < t; idx++ {
		owner, ok := assignment.Owner(idx)
		if !ok {
			continue
		}
		proof, err := tree.Prove(idx)
		if err != nil {
			return nil, fmt.Errorf("broadcaster: prove %d: %w", idx, err)
		}
		unit := &wire.Unit{
			Shard:     allShards[idx],
			Index:     uint64(idx),
			Root:      [32]byte(root),
			Proof:     toWireProof(proof),
			Publisher: local[:],
			Signature: sig,
			Channel:   uint32(ch.ID),
		}

		destinations := destinationsFor(ch, assignment, local, owner)
		for _, dst := range destinations {
			batches[dst] = append(batches[dst], unit)
		}
	}

	for peer, units := range batches {
		frame := wire.EncodeFrame(units)
		if err := b.transport.SendTo(ctx, peer, frame); err != nil {
			return nil, fmt.Errorf("broadcaster: send to %s: %w", peer, err)
		}
	}

	return &Result{Assignment: assignment, Root: root, K: k, M: m}, nil
}

// destinationsFor returns who the publisher must send a shard owned by
// owner to. For publisher-in-pool schemes the publisher sends its own
// shard(s) to every other member; otherwise it sends each receiver's
// shard once, to that receiver.
func destinationsFor(ch *channel.Channel, assignment *sharding.Assignment, local, owner ids.NodeID) []ids.NodeID {
	if owner == local {
		dests := make([]ids.NodeID, 0, len(ch.Roster)-1)
		for _, m := range ch.Roster {
			if m.Peer != local {
				dests = append(dests, m.Peer)
			}
		}
		return dests
	}
	return []ids.NodeID{owner}
}

func toWireProof(proof []merkle.Hash) [][32]byte {
	out := make([][32]byte, len(proof))
	for i, h := range proof {
		out[i] = [32]byte(h)
	}
	return out
}

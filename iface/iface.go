// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package iface defines the three external collaborators the Propeller
// core consumes but never implements: Transport, Crypto, and ComputePool.
// Concrete implementations are injected at Engine construction; see
// transportimpl and cryptoimpl for the default wiring.
package iface

import (
	"context"

	"github.com/luxfi/ids"
)

// Transport delivers length-prefixed framed PropellerUnitBatch payloads
// to and from named peers. The core only ever calls SendTo; inbound
// (sender, frame) events are pushed to the Engine through whatever
// mechanism the implementation chooses (a channel, a callback) and are
// not part of this interface.
type Transport interface {
	// SendTo transmits one already-encoded PropellerUnitBatch frame to a
	// single peer. Failures are terminal for that send only; the core
	// performs no retries.
	SendTo(ctx context.Context, peer ids.NodeID, frame []byte) error

	// Self returns this node's own peer id.
	Self() ids.NodeID
}

// Crypto exposes the signing, verification, and hashing primitives the
// core needs but does not implement itself.
type Crypto interface {
	// Sign produces a signature over msg using the local node's key.
	Sign(msg []byte) ([]byte, error)

	// Verify reports whether sig is a valid signature by peer over msg.
	Verify(peer ids.NodeID, msg, sig []byte) bool

	// Hash returns the 32-byte content hash of msg. SHA-256 unless the
	// provider overrides it.
	Hash(msg []byte) [32]byte
}

// ComputePool offloads CPU-bound work — Merkle proof verification,
// signature verification, Reed-Solomon encode/decode — off the
// single-threaded Engine and MessageProcessor loops.
type ComputePool interface {
	// Submit schedules job to run on the pool and returns a channel that
	// receives its single result. Implementations must not block Submit
	// itself on job completion.
	Submit(job func() (any, error)) <-chan Result
}

// Result is the outcome of one ComputePool job.
type Result struct {
	Value any
	Err   error
}

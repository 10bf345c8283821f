// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package unitvalidator implements UnitValidator, the per-message stateful
// shard validator: origin policy, Merkle proof checking, and signature
// caching against equivocation.
package unitvalidator

import (
	"errors"
	"sync"

	"github.com/luxfi/ids"
	"github.com/luxfi/propeller/iface"
	"github.com/luxfi/propeller/merkle"
	"github.com/luxfi/propeller/sharding"
	"github.com/luxfi/propeller/wire"
)

// DomainSeparator is prepended to the root before signing or verification.
const DomainSeparator = "libp2p-propeller:"

// Mode selects whether signature verification runs. None exists solely
// for fuzzing and testing; production channels must use Strict.
type Mode int

const (
	Strict Mode = iota
	None
)

var (
	// ErrDuplicate is returned when unit.Index has already been recorded.
	ErrDuplicate = errors.New("unitvalidator: duplicate index")
	// ErrUnexpectedSender is returned when sender fails the origin policy.
	ErrUnexpectedSender = errors.New("unitvalidator: unexpected sender")
	// ErrProofInvalid is returned when the Merkle proof does not verify.
	ErrProofInvalid = errors.New("unitvalidator: proof invalid")
	// ErrSignatureInvalid is returned when the signature fails
	// verification, or mismatches the cached first-seen signature.
	ErrSignatureInvalid = errors.New("unitvalidator: signature invalid")
)

// Validator is bound to exactly one MessageKey (channel, publisher, root).
// It is safe for concurrent use: the Engine runs Validate for several units
// of the same key on ComputePool workers at once, and a mutex serializes
// those calls.
type Validator struct {
	mu sync.Mutex

	crypto     iface.Crypto
	assignment *sharding.Assignment
	local      ids.NodeID
	publisher  ids.NodeID
	root       merkle.Hash
	mode       Mode

	received      map[uint64]struct{}
	cachedSig     []byte
	sigCacheReady bool
}

// New returns a Validator for one MessageKey, bound to local (the peer
// running this validator) so checkOrigin can tell "my own assigned shard"
// apart from "someone else's shard".
func New(crypto iface.Crypto, assignment *sharding.Assignment, local, publisher ids.NodeID, root merkle.Hash, mode Mode) *Validator {
	return &Validator{
		crypto:     crypto,
		assignment: assignment,
		local:      local,
		publisher:  publisher,
		root:       root,
		mode:       mode,
		received:   make(map[uint64]struct{}),
	}
}

// Validate checks unit, arrived from sender, against every rule in
// section 4.5: duplicate index, origin policy, Merkle proof, and
// signature caching. On success it records the index as received.
func (v *Validator) Validate(sender ids.NodeID, unit *wire.Unit) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.received[unit.Index]; ok {
		return ErrDuplicate
	}

	if err := v.checkOrigin(sender, unit.Index); err != nil {
		return err
	}

	if err := v.checkProof(unit); err != nil {
		return err
	}

	if v.mode == Strict {
		if err := v.checkSignature(unit); err != nil {
			return err
		}
	}

	v.received[unit.Index] = struct{}{}
	return nil
}

// checkOrigin enforces: if index is the local peer's own assigned shard,
// sender must be the publisher (the only peer entitled to hand a receiver
// its own shard directly); otherwise sender must be that shard's
// designated broadcaster. This accepts the reconstruction cascade — a
// unit from the owner of any shard it holds — while rejecting both
// transitive forwarding by any other peer and a Byzantine publisher
// handing out a shard it does not own under a false provenance (§4.6).
func (v *Validator) checkOrigin(sender ids.NodeID, index uint64) error {
	owner, ok := v.assignment.Owner(int(index))
	if !ok {
		return ErrUnexpectedSender
	}
	if owner == v.local {
		if sender == v.publisher {
			return nil
		}
		return ErrUnexpectedSender
	}
	if sender == owner {
		return nil
	}
	return ErrUnexpectedSender
}

func (v *Validator) checkProof(unit *wire.Unit) error {
	proof := make([]merkle.Hash, len(unit.Proof))
	for i, sib := range unit.Proof {
		proof[i] = merkle.Hash(sib)
	}
	if err := merkle.Verify(merkle.DefaultHash, unit.Shard, int(unit.Index), v.assignment.Total(), proof, v.root); err != nil {
		return ErrProofInvalid
	}
	return nil
}

func (v *Validator) checkSignature(unit *wire.Unit) error {
	msg := append([]byte(DomainSeparator), v.root[:]...)

	if !v.sigCacheReady {
		if !v.crypto.Verify(v.publisher, msg, unit.Signature) {
			return ErrSignatureInvalid
		}
		v.cachedSig = append([]byte(nil), unit.Signature...)
		v.sigCacheReady = true
		return nil
	}

	if !bytesEqual(v.cachedSig, unit.Signature) {
		return ErrSignatureInvalid
	}
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package cryptoimpl wires iface.Crypto onto github.com/luxfi/crypto's BLS
// signer, following the teacher's test helpers (see
// test/consensustest/context.go: "secretKey, err := localsigner.New()").
// The local node signs with its own localsigner.Signer; verification
// looks up the claimed peer's public key in a roster supplied at
// construction.
package cryptoimpl

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/luxfi/crypto/bls"
	"github.com/luxfi/crypto/bls/signer/localsigner"
	"github.com/luxfi/ids"
)

// ErrUnknownPeer names the case of a peer with no registered public key.
// Verify returns only a bool and reports false for such a peer; it does
// not return this error.
var ErrUnknownPeer = errors.New("cryptoimpl: unknown peer public key")

// Crypto implements iface.Crypto with BLS signing/verification and
// SHA-256 content hashing, matching spec §6's default hash function.
type Crypto struct {
	signer *localsigner.LocalSigner
	keys   map[ids.NodeID]*bls.PublicKey
}

// New returns a Crypto that signs with signer and verifies against the
// public keys in keys, keyed by peer id. The local node's own entry in
// keys should be signer.PublicKey().
func New(signer *localsigner.LocalSigner, keys map[ids.NodeID]*bls.PublicKey) *Crypto {
	return &Crypto{signer: signer, keys: keys}
}

// Sign produces a BLS signature over msg using the local node's key.
func (c *Crypto) Sign(msg []byte) ([]byte, error) {
	sig, err := c.signer.Sign(msg)
	if err != nil {
		return nil, fmt.Errorf("cryptoimpl: sign: %w", err)
	}
	return bls.SignatureToBytes(sig), nil
}

// Verify reports whether sig is peer's valid BLS signature over msg.
func (c *Crypto) Verify(peer ids.NodeID, msg, sig []byte) bool {
	pk, ok := c.keys[peer]
	if !ok {
		return false
	}
	parsed, err := bls.SignatureFromBytes(sig)
	if err != nil {
		return false
	}
	return bls.Verify(pk, parsed, msg)
}

// Hash returns msg's SHA-256 content hash.
func (c *Crypto) Hash(msg []byte) [32]byte {
	return sha256.Sum256(msg)
}

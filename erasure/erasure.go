// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package erasure wraps github.com/klauspost/reedsolomon to encode k data
// shards into n = k+m total shards over GF(2^8), and to decode any k of n
// back into the original data.
package erasure

import (
	"errors"
	"fmt"

	"github.com/klauspost/reedsolomon"
)

var (
	// ErrInsufficientShards is returned when decoding is attempted with
	// fewer than k distinct shard indices present.
	ErrInsufficientShards = errors.New("erasure: insufficient shards to decode")
	// ErrUnequalShardLengths is returned when supplied shards do not all
	// share the same length.
	ErrUnequalShardLengths = errors.New("erasure: shards have unequal lengths")
)

// Shard pairs a shard's position in [0, k+m) with its bytes.
type Shard struct {
	Index int
	Data  []byte
}

// Coder encodes/decodes one (k, m) erasure scheme. A Coder is safe for
// concurrent use; the underlying reedsolomon.Encoder holds no mutable state.
type Coder struct {
	k, m int
	enc  reedsolomon.Encoder
}

// New builds a Coder for k data shards and m coding shards.
func New(k, m int) (*Coder, error) {
	enc, err := reedsolomon.New(k, m)
	if err != nil {
		return nil, fmt.Errorf("erasure: %w", err)
	}
	return &Coder{k: k, m: m, enc: enc}, nil
}

// K returns the data shard count.
func (c *Coder) K() int { return c.k }

// M returns the coding (parity) shard count.
func (c *Coder) M() int { return c.m }

// T returns the total shard count, k+m.
func (c *Coder) T() int { return c.k + c.m }

// Encode produces the m parity shards for the k data shards. data must have
// exactly k entries of identical length.
func (c *Coder) Encode(data [][]byte) (parity [][]byte, err error) {
	if len(data) != c.k {
		return nil, fmt.Errorf("erasure: expected %d data shards, got %d", c.k, len(data))
	}
	shardLen, err := equalLen(data)
	if err != nil {
		return nil, err
	}

	all := make([][]byte, c.k+c.m)
	copy(all, data)
	for i := c.k; i < c.k+c.m; i++ {
		all[i] = make([]byte, shardLen)
	}
	if err := c.enc.Encode(all); err != nil {
		return nil, fmt.Errorf("erasure: encode: %w", err)
	}
	return all[c.k:], nil
}

// Decode recovers the k original data shards from any k of the k+m total
// shards. At least k distinct, validly-indexed shards must be present.
func (c *Coder) Decode(shards []Shard) ([][]byte, error) {
	all, present, err := c.scatter(shards)
	if err != nil {
		return nil, err
	}
	if present < c.k {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientShards, present, c.k)
	}
	if err := c.enc.Reconstruct(all); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInsufficientShards, err)
	}
	return all[:c.k], nil
}

// ReconstructAll recovers the k data shards and re-derives the full k+m
// shard set, so callers can re-verify a Merkle tree built over all T
// shards after a partial decode.
func (c *Coder) ReconstructAll(shards []Shard) ([][]byte, error) {
	all, present, err := c.scatter(shards)
	if err != nil {
		return nil, err
	}
	if present < c.k {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientShards, present, c.k)
	}
	if err := c.enc.ReconstructData(all); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInsufficientShards, err)
	}
	if err := c.enc.Encode(all); err != nil {
		return nil, fmt.Errorf("erasure: re-encode: %w", err)
	}
	return all, nil
}

func (c *Coder) scatter(shards []Shard) (all [][]byte, present int, err error) {
	all = make([][]byte, c.k+c.m)
	shardLen := -1
	for _, s := range shards {
		if s.Index < 0 || s.Index >= c.k+c.m {
			continue
		}
		if all[s.Index] != nil {
			continue // duplicate index, first one wins
		}
		if shardLen == -1 {
			shardLen = len(s.Data)
		} else if len(s.Data) != shardLen {
			return nil, 0, ErrUnequalShardLengths
		}
		all[s.Index] = s.Data
		present++
	}
	return all, present, nil
}

func equalLen(shards [][]byte) (int, error) {
	if len(shards) == 0 {
		return 0, ErrUnequalShardLengths
	}
	n := len(shards[0])
	for _, s := range shards[1:] {
		if len(s) != n {
			return 0, ErrUnequalShardLengths
		}
	}
	return n, nil
}

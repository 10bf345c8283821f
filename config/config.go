// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config holds the Propeller Engine's recognized options (§6),
// following the teacher's Parameters/Default pattern: a plain struct, a
// Default constructor with the documented defaults, and a Validate method
// returning a wrapped sentinel on out-of-range values.
package config

import (
	"time"

	"github.com/luxfi/propeller/sharding"
)

// ValidationMode selects whether per-unit signature verification runs.
// None exists solely for fuzzing and testing.
type ValidationMode int

const (
	Strict ValidationMode = iota
	None
)

// Config holds every Engine-wide option from spec §6. Per-channel options
// (ShardingScheme, TotalShardsT) are supplied at registration time;
// TotalShardsT defaults from here when a channel passes none.
type Config struct {
	// FinalizedMessageTTL is how long a finalized MessageKey suppresses
	// duplicate processing after delivery or failure.
	FinalizedMessageTTL time.Duration

	// ValidationMode selects whether signature verification runs.
	ValidationMode ValidationMode

	// MaxWireMessageSize bounds a decoded PropellerUnitBatch frame.
	MaxWireMessageSize uint32

	// Pad controls whether broadcast messages are length-prefixed and
	// zero-padded before sharding.
	Pad bool

	// TaskTimeout is the per-message MessageProcessor deadline.
	TaskTimeout time.Duration

	// ChannelCapacity bounds a MessageProcessor's validator queue.
	ChannelCapacity int

	// ShardingScheme is the scheme used for a channel id with no
	// registered options. RegisterChannel always takes a scheme explicitly.
	ShardingScheme sharding.Scheme

	// TotalShardsT computes the default T for proportional schemes given
	// a channel's roster size n. Default is max(n, 3n).
	TotalShardsT func(n int) int

	// PersistFinalizedCacheAcrossReregister resolves Open Question 3: by
	// default the finalized cache is dropped when a channel is
	// re-registered under the same id.
	PersistFinalizedCacheAcrossReregister bool
}

// Default returns a Config with the documented defaults from spec §6.
func Default() *Config {
	return &Config{
		FinalizedMessageTTL:                    120 * time.Second,
		ValidationMode:                         Strict,
		MaxWireMessageSize:                     1 << 30, // 1 GiB
		Pad:                                     true,
		TaskTimeout:                             120 * time.Second,
		ChannelCapacity:                         4096,
		ShardingScheme:                          sharding.StakePoolProp,
		TotalShardsT:                            defaultTotalShardsT,
		PersistFinalizedCacheAcrossReregister:  false,
	}
}

func defaultTotalShardsT(n int) int {
	t := 3 * n
	if t < n {
		t = n
	}
	return t
}

// Validate reports whether c's fields are within acceptable ranges,
// wrapped around ErrInvalidConfig.
func (c *Config) Validate() error {
	switch {
	case c.FinalizedMessageTTL <= 0:
		return wrapInvalid("finalized message TTL must be positive")
	case c.MaxWireMessageSize == 0:
		return wrapInvalid("max wire message size must be positive")
	case c.TaskTimeout <= 0:
		return wrapInvalid("task timeout must be positive")
	case c.ChannelCapacity <= 0:
		return wrapInvalid("channel capacity must be positive")
	case c.TotalShardsT == nil:
		return wrapInvalid("total shards function must be set")
	default:
		return nil
	}
}

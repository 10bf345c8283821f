// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package channel implements the Engine's ChannelRegistry: per-channel peer
// rosters, stakes, a cached shard assignment, and the finalized-message
// cache that suppresses duplicate processing after delivery.
package channel

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/luxfi/ids"
	"github.com/luxfi/propeller/sharding"
	"github.com/luxfi/propeller/utils/set"
)

var (
	// ErrAlreadyRegistered is returned by Registry.Register when the
	// channel id is already installed.
	ErrAlreadyRegistered = errors.New("channel: already registered")
	// ErrInvalidRoster is returned by Registry.Register when the roster
	// fails a precondition (empty, zero stake, duplicate peer, local peer
	// absent).
	ErrInvalidRoster = errors.New("channel: invalid roster")
	// ErrUnknownChannel is returned when a channel id has no registration.
	ErrUnknownChannel = errors.New("channel: unknown channel")
)

// ID is the 32-bit logical channel identifier.
type ID uint32

// Key is the process-wide index for one message instance: (channel,
// publisher, root). Built by callers once the root is known; the registry
// itself deals only in Channel/roster state.
type Key struct {
	Channel   ID
	Publisher ids.NodeID
	Root      [32]byte
}

func (k Key) String() string {
	return fmt.Sprintf("%d/%s/%x", k.Channel, k.Publisher, k.Root)
}

// Channel holds one registered channel's immutable roster and its derived
// shard assignment, plus the mutable finalized-message cache.
type Channel struct {
	ID         ID
	Roster     []sharding.Member
	TotalStake uint64
	Local      ids.NodeID

	assignments sync.Map // publisher ids.NodeID -> *sharding.Assignment

	mu        sync.Mutex
	finalized map[[32]byte]time.Time // root -> expiry; keyed by root alone, so equal roots from different publishers share one entry
}

// HasMember reports whether peer is a roster member of this channel.
func (c *Channel) HasMember(peer ids.NodeID) bool {
	for _, m := range c.Roster {
		if m.Peer == peer {
			return true
		}
	}
	return false
}

// StakeOf returns peer's registered stake, or 0 if it is not a member.
func (c *Channel) StakeOf(peer ids.NodeID) uint64 {
	for _, m := range c.Roster {
		if m.Peer == peer {
			return m.Stake
		}
	}
	return 0
}

// Assignment returns the shard assignment for publisher under scheme and
// total, building and caching it on first use. Roster and T together
// determine the result, so callers must pass a consistent total on every
// call for a given publisher.
func (c *Channel) Assignment(scheme sharding.Scheme, publisher ids.NodeID, total int) (*sharding.Assignment, error) {
	if cached, ok := c.assignments.Load(publisher); ok {
		return cached.(*sharding.Assignment), nil
	}
	a, err := sharding.Build(scheme, publisher, c.Roster, total)
	if err != nil {
		return nil, err
	}
	actual, _ := c.assignments.LoadOrStore(publisher, a)
	return actual.(*sharding.Assignment), nil
}

// MarkFinalized inserts root into the finalized cache with the given TTL.
func (c *Channel) MarkFinalized(root [32]byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finalized == nil {
		c.finalized = make(map[[32]byte]time.Time)
	}
	c.finalized[root] = time.Now().Add(ttl)
}

// IsFinalized reports whether root is present in the finalized cache and
// has not yet expired. Expired entries are lazily evicted.
func (c *Channel) IsFinalized(root [32]byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	exp, ok := c.finalized[root]
	if !ok {
		return false
	}
	if time.Now().After(exp) {
		delete(c.finalized, root)
		return false
	}
	return true
}

// sweep evicts all expired finalized entries. Intended to be called
// periodically by the Engine so the cache does not grow unbounded.
func (c *Channel) sweep(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for root, exp := range c.finalized {
		if now.After(exp) {
			delete(c.finalized, root)
		}
	}
}

// snapshotFinalized returns a copy of the finalized cache, expired entries
// included (IsFinalized evicts those lazily), for Registry.Deregister to
// carry forward across a re-Register under the same channel id.
func (c *Channel) snapshotFinalized() map[[32]byte]time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.finalized) == 0 {
		return nil
	}
	out := make(map[[32]byte]time.Time, len(c.finalized))
	for root, exp := range c.finalized {
		out[root] = exp
	}
	return out
}

// Registry is the Engine's exclusive owner of all registered channels. It
// is safe for concurrent reads (roster lookups, finalized-cache checks);
// registration is serialized under a single mutex.
type Registry struct {
	mu       sync.RWMutex
	channels map[ID]*Channel
	// retained holds finalized caches carried forward across a Deregister
	// called with keep=true, keyed by channel id, until the next Register
	// for that id consumes them. Resolves SPEC_FULL.md's Open Question 3.
	retained map[ID]map[[32]byte]time.Time
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{channels: make(map[ID]*Channel)}
}

// Register installs a new channel. local is this node's own peer id, used
// to validate that the node is itself a roster member. Stakes must all be
// positive and peer ids unique.
func (r *Registry) Register(id ID, local ids.NodeID, roster []sharding.Member) (*Channel, error) {
	if err := validateRoster(local, roster); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.channels[id]; exists {
		return nil, ErrAlreadyRegistered
	}

	var total uint64
	for _, m := range roster {
		total += m.Stake
	}
	ch := &Channel{
		ID:         id,
		Roster:     append([]sharding.Member(nil), roster...),
		TotalStake: total,
		Local:      local,
	}
	if retained, ok := r.retained[id]; ok {
		ch.finalized = retained
		delete(r.retained, id)
	}
	r.channels[id] = ch
	return ch, nil
}

// Deregister removes a channel's registration. Whether its finalized
// cache survives a subsequent re-Register under the same id is the
// caller's choice: pass keep=true to carry the outgoing *Channel's
// finalized cache forward so the next Register for this id seeds its new
// Channel from it, instead of starting empty.
func (r *Registry) Deregister(id ID, keep bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[id]
	if ok && keep {
		if snap := ch.snapshotFinalized(); snap != nil {
			if r.retained == nil {
				r.retained = make(map[ID]map[[32]byte]time.Time)
			}
			r.retained[id] = snap
		}
	}
	delete(r.channels, id)
}

// Get returns the registered Channel, or ErrUnknownChannel.
func (r *Registry) Get(id ID) (*Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[id]
	if !ok {
		return nil, ErrUnknownChannel
	}
	return ch, nil
}

// Sweep evicts expired finalized-cache entries across all channels. The
// Engine calls this on a periodic timer.
func (r *Registry) Sweep(now time.Time) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ch := range r.channels {
		ch.sweep(now)
	}
}

func validateRoster(local ids.NodeID, roster []sharding.Member) error {
	if len(roster) == 0 {
		return fmt.Errorf("%w: empty roster", ErrInvalidRoster)
	}
	seen := set.NewSet[ids.NodeID](len(roster))
	foundLocal := false
	for _, m := range roster {
		if m.Stake == 0 {
			return fmt.Errorf("%w: zero stake for %s", ErrInvalidRoster, m.Peer)
		}
		if seen.Contains(m.Peer) {
			return fmt.Errorf("%w: duplicate peer %s", ErrInvalidRoster, m.Peer)
		}
		seen.Add(m.Peer)
		if m.Peer == local {
			foundLocal = true
		}
	}
	if !foundLocal {
		return fmt.Errorf("%w: local peer not a member", ErrInvalidRoster)
	}
	return nil
}

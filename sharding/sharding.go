// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package sharding computes the per-peer shard assignment and the build /
// deliver stake thresholds for one message instance, under any of the five
// schemes in SPEC_FULL.md §4.4. The mapping is deterministic from the
// channel roster and the total shard count T; it does not depend on the
// message root.
package sharding

import (
	"errors"
	"fmt"
	"sort"

	"github.com/luxfi/ids"
)

// Scheme selects how shards are allocated to the roster and how the build
// and deliver thresholds are computed. StakePoolProp is the baseline.
type Scheme int

const (
	StakePoolProp Scheme = iota // baseline: proportional, publisher in pool
	StakePoolFixed
	StakeExclProp
	StakeExclFixed
	NodeCount
)

func (s Scheme) String() string {
	switch s {
	case StakePoolProp:
		return "stake-pool-prop"
	case StakePoolFixed:
		return "stake-pool-fixed"
	case StakeExclProp:
		return "stake-excl-prop"
	case StakeExclFixed:
		return "stake-excl-fixed"
	case NodeCount:
		return "node-count"
	default:
		return fmt.Sprintf("sharding.Scheme(%d)", int(s))
	}
}

var (
	// ErrNoMembers is returned when the roster (or its receiver subset)
	// is empty.
	ErrNoMembers = errors.New("sharding: roster has no members")
	// ErrPublisherAbsent is returned when the publisher is not a roster
	// member.
	ErrPublisherAbsent = errors.New("sharding: publisher not a roster member")
	// ErrInvalidTotal is returned when the caller-supplied T is smaller
	// than the number of shard-owning peers for the selected scheme.
	ErrInvalidTotal = errors.New("sharding: total shard count too small for roster")
)

// Member is one roster entry: a peer and its immutable stake.
type Member struct {
	Peer  ids.NodeID
	Stake uint64
}

// Thresholds are expressed in the same accounting units as Assignment's
// per-owner Weight: real stake for every scheme except NodeCount, where
// each owner counts as weight 1 (so the threshold is a shard count).
type Thresholds struct {
	Build   uint64
	Deliver uint64
}

// Assignment is the deterministic shard map produced by a Scheme for one
// (publisher, channel roster, T) instance. It does not depend on the
// message root, so it may be reused across messages from the same
// publisher as long as the roster and T are unchanged.
type Assignment struct {
	scheme     Scheme
	publisher  ids.NodeID
	total      int
	owners     []ids.NodeID
	byOwner    map[ids.NodeID][]int
	weight     map[ids.NodeID]uint64
	thresholds Thresholds
	pool       bool // true when the publisher is itself a shard owner
}

// Scheme returns the scheme used to build this assignment.
func (a *Assignment) Scheme() Scheme { return a.scheme }

// Total returns T, the total shard count.
func (a *Assignment) Total() int { return a.total }

// Publisher returns the publishing peer.
func (a *Assignment) Publisher() ids.NodeID { return a.publisher }

// PublisherInPool reports whether the publisher holds and must broadcast
// its own shard(s) (StakePool-* schemes).
func (a *Assignment) PublisherInPool() bool { return a.pool }

// Thresholds returns the build and deliver thresholds for this assignment.
func (a *Assignment) Thresholds() Thresholds { return a.thresholds }

// Owner returns the designated broadcaster for a shard index.
func (a *Assignment) Owner(index int) (ids.NodeID, bool) {
	if index < 0 || index >= len(a.owners) {
		return ids.NodeID{}, false
	}
	return a.owners[index], true
}

// ShardsOf returns the shard indices owned by peer, nil if it owns none.
func (a *Assignment) ShardsOf(peer ids.NodeID) []int {
	return a.byOwner[peer]
}

// Weight returns the accounting weight credited to peer's stake bucket
// once any of its owned shards is observed.
func (a *Assignment) Weight(peer ids.NodeID) uint64 {
	return a.weight[peer]
}

// DataShards derives k, the Reed-Solomon data-shard count, from the
// binding coalition: the smallest-cardinality set of highest-weight
// owners whose combined weight first reaches the build threshold. This is
// the count of shards those owners hold, which is what SPEC_FULL.md's
// num_data_shards formula approximates for proportional schemes and
// matches exactly for the three 1-shard-per-owner schemes.
func (a *Assignment) DataShards() int {
	type owStake struct {
		peer   ids.NodeID
		weight uint64
	}
	owners := make([]owStake, 0, len(a.weight))
	for p, w := range a.weight {
		owners = append(owners, owStake{p, w})
	}
	sort.Slice(owners, func(i, j int) bool {
		if owners[i].weight != owners[j].weight {
			return owners[i].weight > owners[j].weight
		}
		return owners[i].peer.String() < owners[j].peer.String()
	})

	var coalition uint64
	shards := 0
	for _, o := range owners {
		if coalition >= a.thresholds.Build {
			break
		}
		coalition += o.weight
		shards += len(a.byOwner[o.peer])
	}
	if shards < 1 {
		shards = 1
	}
	if shards >= a.total {
		shards = a.total - 1
	}
	if shards < 1 {
		shards = 1
	}
	return shards
}

// Build computes a shard assignment for scheme over roster, naming
// publisher as the message originator. total is the caller-chosen T for
// proportional schemes; fixed schemes (NodeCount, StakeExcl-Fixed,
// StakePool-Fixed) ignore it and derive T from the roster.
func Build(scheme Scheme, publisher ids.NodeID, roster []Member, total int) (*Assignment, error) {
	if len(roster) == 0 {
		return nil, ErrNoMembers
	}
	sorted := append([]Member(nil), roster...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Peer.String() < sorted[j].Peer.String() })

	var totalStake, publisherStake uint64
	havePublisher := false
	for _, m := range sorted {
		totalStake += m.Stake
		if m.Peer == publisher {
			havePublisher = true
			publisherStake = m.Stake
		}
	}
	if !havePublisher {
		return nil, ErrPublisherAbsent
	}

	switch scheme {
	case NodeCount:
		receivers := excluding(sorted, publisher)
		if len(receivers) == 0 {
			return nil, ErrNoMembers
		}
		n := uint64(len(receivers))
		build := n / 3
		return buildFixed(scheme, publisher, receivers, Thresholds{Build: build, Deliver: 2 * build}, false)

	case StakeExclFixed:
		receivers := excluding(sorted, publisher)
		if len(receivers) == 0 {
			return nil, ErrNoMembers
		}
		return buildFixed(scheme, publisher, receivers, stakeThresholds(scheme, totalStake, publisherStake), false)

	case StakePoolFixed:
		return buildFixed(scheme, publisher, sorted, stakeThresholds(scheme, totalStake, publisherStake), true)

	case StakeExclProp:
		receivers := excluding(sorted, publisher)
		if len(receivers) == 0 {
			return nil, ErrNoMembers
		}
		return buildProportional(scheme, publisher, receivers, stakeThresholds(scheme, totalStake, publisherStake), total, false)

	case StakePoolProp:
		return buildProportional(scheme, publisher, sorted, stakeThresholds(scheme, totalStake, publisherStake), total, true)

	default:
		return nil, fmt.Errorf("sharding: unknown scheme %d", scheme)
	}
}

func excluding(members []Member, peer ids.NodeID) []Member {
	out := make([]Member, 0, len(members))
	for _, m := range members {
		if m.Peer != peer {
			out = append(out, m)
		}
	}
	return out
}

func buildFixed(scheme Scheme, publisher ids.NodeID, members []Member, th Thresholds, pool bool) (*Assignment, error) {
	owners := make([]ids.NodeID, len(members))
	byOwner := make(map[ids.NodeID][]int, len(members))
	weight := make(map[ids.NodeID]uint64, len(members))
	for i, m := range members {
		owners[i] = m.Peer
		byOwner[m.Peer] = []int{i}
		if scheme == NodeCount {
			weight[m.Peer] = 1
		} else {
			weight[m.Peer] = m.Stake
		}
	}
	return &Assignment{
		scheme: scheme, publisher: publisher, total: len(members),
		owners: owners, byOwner: byOwner, weight: weight,
		thresholds: th, pool: pool,
	}, nil
}

// buildProportional allocates nᵢ = max(1, round(sᵢ·T/S)) shards per
// member, then reconciles any rounding drift against T by adjusting the
// largest-stake member (ties broken by lowest PeerId, i.e. members'
// existing sort order — Open Question 2 in SPEC_FULL.md).
func buildProportional(scheme Scheme, publisher ids.NodeID, members []Member, th Thresholds, total int, pool bool) (*Assignment, error) {
	n := len(members)
	if total < n {
		return nil, ErrInvalidTotal
	}
	var base uint64
	for _, m := range members {
		base += m.Stake
	}
	if base == 0 {
		return nil, ErrNoMembers
	}

	counts := make([]int, n)
	sum := 0
	maxIdx := 0
	for i, m := range members {
		c := roundRatio(m.Stake, uint64(total), base)
		if c < 1 {
			c = 1
		}
		counts[i] = c
		sum += c
		if m.Stake > members[maxIdx].Stake {
			maxIdx = i
		}
	}
	counts[maxIdx] += total - sum
	if counts[maxIdx] < 1 {
		counts[maxIdx] = 1
	}

	owners := make([]ids.NodeID, 0, total)
	byOwner := make(map[ids.NodeID][]int, n)
	weight := make(map[ids.NodeID]uint64, n)
	idx := 0
	for i, m := range members {
		indices := make([]int, 0, counts[i])
		for j := 0; j < counts[i]; j++ {
			owners = append(owners, m.Peer)
			indices = append(indices, idx)
			idx++
		}
		byOwner[m.Peer] = indices
		weight[m.Peer] = m.Stake
	}

	return &Assignment{
		scheme: scheme, publisher: publisher, total: idx,
		owners: owners, byOwner: byOwner, weight: weight,
		thresholds: th, pool: pool,
	}, nil
}

// roundRatio computes round(num*mul/den) without floating point, using
// round-half-up on the exact rational value.
func roundRatio(num, mul, den uint64) int {
	if den == 0 {
		return 0
	}
	n := num * mul
	return int((2*n + den) / (2 * den))
}

// ceilDivU64 computes ceil(num/den) for den > 0.
func ceilDivU64(num, den uint64) uint64 {
	if den == 0 {
		return 0
	}
	return (num + den - 1) / den
}

func stakeThresholds(scheme Scheme, totalStake, publisherStake uint64) Thresholds {
	switch scheme {
	case StakeExclFixed, StakeExclProp:
		receiverStake := totalStake - publisherStake
		build := ceilDivU64(receiverStake, 3)

		// deliver: ceil((2*S - 3*sp) / 3), floored at zero.
		twoS := 2 * totalStake
		threeSp := 3 * publisherStake
		var deliver uint64
		if twoS > threeSp {
			deliver = ceilDivU64(twoS-threeSp, 3)
		}
		return Thresholds{Build: build, Deliver: deliver}
	default: // StakePoolFixed, StakePoolProp
		return Thresholds{Build: ceilDivU64(totalStake, 3), Deliver: ceilDivU64(2*totalStake, 3)}
	}
}

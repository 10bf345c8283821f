// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package sharding

import (
	"testing"

	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"
)

func testRoster(n int) ([]Member, []ids.NodeID) {
	peers := make([]ids.NodeID, n)
	roster := make([]Member, n)
	for i := 0; i < n; i++ {
		peers[i] = ids.GenerateTestNodeID()
		roster[i] = Member{Peer: peers[i], Stake: uint64(10 * (i + 1))}
	}
	return roster, peers
}

func TestBuildDeterministic(t *testing.T) {
	roster, peers := testRoster(7)
	a1, err := Build(StakePoolProp, peers[0], roster, 10)
	require.NoError(t, err)
	a2, err := Build(StakePoolProp, peers[0], roster, 10)
	require.NoError(t, err)

	for i := 0; i < a1.Total(); i++ {
		o1, ok1 := a1.Owner(i)
		o2, ok2 := a2.Owner(i)
		require.True(t, ok1)
		require.True(t, ok2)
		require.Equal(t, o1, o2)
	}
}

func TestBuildPublisherAbsent(t *testing.T) {
	roster, _ := testRoster(3)
	stranger := ids.GenerateTestNodeID()
	_, err := Build(StakePoolProp, stranger, roster, 6)
	require.ErrorIs(t, err, ErrPublisherAbsent)
}

func TestBuildNoMembers(t *testing.T) {
	_, err := Build(StakePoolProp, ids.GenerateTestNodeID(), nil, 6)
	require.ErrorIs(t, err, ErrNoMembers)
}

func TestNodeCountExcludesPublisherAndUsesUnitWeight(t *testing.T) {
	roster, peers := testRoster(10)
	a, err := Build(NodeCount, peers[0], roster, 0)
	require.NoError(t, err)

	require.Equal(t, 9, a.Total())
	require.False(t, a.PublisherInPool())
	for _, p := range peers[1:] {
		require.Equal(t, uint64(1), a.Weight(p))
		require.Len(t, a.ShardsOf(p), 1)
	}
	require.Equal(t, uint64(9/3), a.Thresholds().Build)
	require.Equal(t, uint64(2*(9/3)), a.Thresholds().Deliver)
}

func TestStakePoolFixedIncludesPublisher(t *testing.T) {
	roster, peers := testRoster(4)
	a, err := Build(StakePoolFixed, peers[0], roster, 0)
	require.NoError(t, err)

	require.True(t, a.PublisherInPool())
	require.Equal(t, len(roster), a.Total())
	for _, m := range roster {
		require.Equal(t, m.Stake, a.Weight(m.Peer))
	}

	var total uint64
	for _, m := range roster {
		total += m.Stake
	}
	require.Equal(t, ceilDivU64(total, 3), a.Thresholds().Build)
	require.Equal(t, ceilDivU64(2*total, 3), a.Thresholds().Deliver)
}

func TestStakeExclFixedExcludesPublisherStake(t *testing.T) {
	roster, peers := testRoster(4)
	a, err := Build(StakeExclFixed, peers[0], roster, 0)
	require.NoError(t, err)

	require.False(t, a.PublisherInPool())
	require.Equal(t, len(roster)-1, a.Total())
	for _, idx := range a.owners {
		require.NotEqual(t, peers[0], idx)
	}
}

func TestStakePoolPropAllocatesShardsProportionally(t *testing.T) {
	roster, peers := testRoster(3) // stakes 10, 20, 30
	const total = 12
	a, err := Build(StakePoolProp, peers[0], roster, total)
	require.NoError(t, err)

	require.Equal(t, total, a.Total())
	sum := 0
	for _, m := range roster {
		n := len(a.ShardsOf(m.Peer))
		require.GreaterOrEqual(t, n, 1)
		sum += n
	}
	require.Equal(t, total, sum)

	// Highest-stake member should receive at least as many shards as the
	// lowest-stake member.
	require.GreaterOrEqual(t, len(a.ShardsOf(peers[2])), len(a.ShardsOf(peers[0])))
}

func TestStakeExclPropRejectsUndersizedTotal(t *testing.T) {
	roster, peers := testRoster(5)
	_, err := Build(StakeExclProp, peers[0], roster, 2)
	require.ErrorIs(t, err, ErrInvalidTotal)
}

func TestDataShardsWithinBounds(t *testing.T) {
	roster, peers := testRoster(9)
	for _, scheme := range []Scheme{StakePoolProp, StakePoolFixed, StakeExclProp, StakeExclFixed, NodeCount} {
		total := 0
		if scheme == StakeExclProp || scheme == StakePoolProp {
			total = 16
		}
		a, err := Build(scheme, peers[0], roster, total)
		require.NoError(t, err)

		k := a.DataShards()
		require.GreaterOrEqual(t, k, 1)
		require.Less(t, k, a.Total())
	}
}

func TestSchemeString(t *testing.T) {
	require.Equal(t, "stake-pool-prop", StakePoolProp.String())
	require.Equal(t, "node-count", NodeCount.String())
	require.Contains(t, Scheme(99).String(), "Scheme(99)")
}

// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package erasure

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleData(k, shardLen int) [][]byte {
	data := make([][]byte, k)
	for i := range data {
		data[i] = make([]byte, shardLen)
		for j := range data[i] {
			data[i][j] = byte(i*31 + j)
		}
	}
	return data
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	const k, m, shardLen = 4, 3, 16
	coder, err := New(k, m)
	require.NoError(t, err)

	data := sampleData(k, shardLen)
	parity, err := coder.Encode(data)
	require.NoError(t, err)
	require.Len(t, parity, m)

	all := append(append([][]byte{}, data...), parity...)

	// Any k of the k+m shards suffice.
	subsets := [][]int{
		{0, 1, 2, 3},
		{3, 4, 5, 6},
		{0, 2, 4, 6},
	}
	for _, idxs := range subsets {
		shards := make([]Shard, len(idxs))
		for i, idx := range idxs {
			shards[i] = Shard{Index: idx, Data: all[idx]}
		}
		recovered, err := coder.Decode(shards)
		require.NoError(t, err)
		require.Equal(t, data, recovered)
	}
}

func TestReconstructAllYieldsIdenticalFullSet(t *testing.T) {
	const k, m, shardLen = 3, 2, 8
	coder, err := New(k, m)
	require.NoError(t, err)

	data := sampleData(k, shardLen)
	parity, err := coder.Encode(data)
	require.NoError(t, err)
	all := append(append([][]byte{}, data...), parity...)

	shards := []Shard{
		{Index: 1, Data: all[1]},
		{Index: 2, Data: all[2]},
		{Index: 4, Data: all[4]},
	}
	full, err := coder.ReconstructAll(shards)
	require.NoError(t, err)
	require.Equal(t, all, full)
}

func TestDecodeInsufficientShards(t *testing.T) {
	coder, err := New(4, 2)
	require.NoError(t, err)
	data := sampleData(4, 8)
	parity, err := coder.Encode(data)
	require.NoError(t, err)

	_, err = coder.Decode([]Shard{
		{Index: 0, Data: data[0]},
		{Index: 1, Data: data[1]},
		{Index: 4, Data: parity[0]},
	})
	require.ErrorIs(t, err, ErrInsufficientShards)
}

func TestDecodeUnequalShardLengths(t *testing.T) {
	coder, err := New(3, 2)
	require.NoError(t, err)

	_, err = coder.Decode([]Shard{
		{Index: 0, Data: make([]byte, 8)},
		{Index: 1, Data: make([]byte, 4)},
		{Index: 2, Data: make([]byte, 8)},
	})
	require.ErrorIs(t, err, ErrUnequalShardLengths)
}

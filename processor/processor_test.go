// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package processor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/propeller/channel"
	"github.com/luxfi/propeller/erasure"
	"github.com/luxfi/propeller/event"
	"github.com/luxfi/propeller/iface"
	"github.com/luxfi/propeller/merkle"
	"github.com/luxfi/propeller/sharding"
	"github.com/luxfi/propeller/shardcodec"
	"github.com/luxfi/propeller/unitvalidator"
	"github.com/luxfi/propeller/wire"
	"github.com/stretchr/testify/require"
)

type harness struct {
	mu        sync.Mutex
	gossiped  []*wire.Unit
	events    []event.Event
	finalized []channel.Key
}

func (h *harness) gossip(u *wire.Unit) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.gossiped = append(h.gossiped, u)
}

func (h *harness) emit(ev event.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
}

func (h *harness) finalize(key channel.Key) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.finalized = append(h.finalized, key)
}

// buildMessage erasure-encodes message under assignment's (k, m) and
// returns the full T-shard set plus the Merkle tree over it.
func buildMessage(t *testing.T, message []byte, k, m int, pad bool) ([][]byte, *merkle.Tree) {
	t.Helper()
	pieces, err := shardcodec.Split(message, k, pad)
	require.NoError(t, err)
	coder, err := erasure.New(k, m)
	require.NoError(t, err)
	parity, err := coder.Encode(pieces)
	require.NoError(t, err)
	all := append(append([][]byte{}, pieces...), parity...)
	tree, err := merkle.Build(all, merkle.DefaultHash)
	require.NoError(t, err)
	return all, tree
}

func unitFor(tree *merkle.Tree, shards [][]byte, idx int, publisher ids.NodeID) *wire.Unit {
	proof, _ := tree.Prove(idx)
	return &wire.Unit{
		Shard:     shards[idx],
		Index:     uint64(idx),
		Root:      [32]byte(tree.Root()),
		Proof:     toWireProof(proof),
		Publisher: publisher[:],
	}
}

func TestHappyPathDeliversAfterEnoughStake(t *testing.T) {
	publisher := ids.GenerateTestNodeID()
	receivers := make([]ids.NodeID, 3)
	roster := make([]sharding.Member, 4)
	roster[0] = sharding.Member{Peer: publisher, Stake: 1}
	for i := range receivers {
		receivers[i] = ids.GenerateTestNodeID()
		roster[i+1] = sharding.Member{Peer: receivers[i], Stake: 1}
	}

	assignment, err := sharding.Build(sharding.NodeCount, publisher, roster, 0)
	require.NoError(t, err)
	require.Equal(t, 3, assignment.Total())
	require.Equal(t, uint64(1), assignment.Thresholds().Build)
	require.Equal(t, uint64(2), assignment.Thresholds().Deliver)

	k := assignment.DataShards()
	m := assignment.Total() - k

	message := make([]byte, 64)
	for i := range message {
		message[i] = byte(i)
	}
	shards, tree := buildMessage(t, message, k, m, true)

	local := receivers[0]
	key := channel.Key{Channel: 1, Publisher: publisher, Root: [32]byte(tree.Root())}
	pool := iface.NewWorkerPool(2, 4)
	defer pool.Close()

	v := unitvalidator.New(nil, assignment, local, publisher, tree.Root(), unitvalidator.None)
	h := &harness{}
	p := New(key, local, assignment, v, pool, k, m, true, 8, h.gossip, h.emit, h.finalize, log.NoLog{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx, 2*time.Second)

	// Deliver the receiver's own assigned shard first.
	ownIdx := assignment.ShardsOf(local)[0]
	require.True(t, p.SubmitValidatedUnit(publisher, unitFor(tree, shards, ownIdx, publisher)))

	// Then each other receiver's gossiped shard, crediting their stake.
	for _, r := range receivers[1:] {
		idx := assignment.ShardsOf(r)[0]
		require.True(t, p.SubmitValidatedUnit(r, unitFor(tree, shards, idx, publisher)))
	}

	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.events) > 0
	}, time.Second, 5*time.Millisecond)

	h.mu.Lock()
	defer h.mu.Unlock()
	require.Len(t, h.events, 1)
	require.Equal(t, event.KindMessageReceived, h.events[0].Kind)
	require.Equal(t, message, h.events[0].Message)
	require.NotEmpty(t, h.finalized)
}

func TestDeadlineEmitsTimeout(t *testing.T) {
	publisher := ids.GenerateTestNodeID()
	local := ids.GenerateTestNodeID()
	roster := []sharding.Member{{Peer: publisher, Stake: 1}, {Peer: local, Stake: 1}, {Peer: ids.GenerateTestNodeID(), Stake: 1}}
	assignment, err := sharding.Build(sharding.NodeCount, publisher, roster, 0)
	require.NoError(t, err)

	key := channel.Key{Channel: 1, Publisher: publisher}
	pool := iface.NewWorkerPool(1, 1)
	defer pool.Close()

	v := unitvalidator.New(nil, assignment, local, publisher, merkle.Hash{}, unitvalidator.None)
	h := &harness{}
	p := New(key, local, assignment, v, pool, 1, 1, true, 4, h.gossip, h.emit, h.finalize, log.NoLog{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Run(ctx, 5*time.Millisecond)

	require.Len(t, h.events, 1)
	require.Equal(t, event.KindMessageTimeout, h.events[0].Kind)
	require.Equal(t, Failed, p.State())
}

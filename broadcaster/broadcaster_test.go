// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package broadcaster

import (
	"context"
	"sync"
	"testing"

	"github.com/luxfi/ids"
	"github.com/luxfi/propeller/channel"
	"github.com/luxfi/propeller/merkle"
	"github.com/luxfi/propeller/sharding"
	"github.com/luxfi/propeller/wire"
	"github.com/stretchr/testify/require"
)

type recordingTransport struct {
	self ids.NodeID

	mu    sync.Mutex
	sent  map[ids.NodeID][][]byte
}

func newRecordingTransport(self ids.NodeID) *recordingTransport {
	return &recordingTransport{self: self, sent: make(map[ids.NodeID][][]byte)}
}

func (t *recordingTransport) Self() ids.NodeID { return t.self }

func (t *recordingTransport) SendTo(_ context.Context, peer ids.NodeID, frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent[peer] = append(t.sent[peer], frame)
	return nil
}

type fakeCrypto struct{}

func (fakeCrypto) Sign(msg []byte) ([]byte, error) { return append([]byte("sig:"), msg...), nil }
func (fakeCrypto) Verify(_ ids.NodeID, _ []byte, _ []byte) bool { return true }
func (fakeCrypto) Hash(msg []byte) [32]byte { return merkle.DefaultHash(msg) }

func TestBroadcastRejectsNonMemberPublisher(t *testing.T) {
	reg := channel.NewRegistry()
	local := ids.GenerateTestNodeID()
	other := ids.GenerateTestNodeID()
	ch, err := reg.Register(1, local, []sharding.Member{{Peer: local, Stake: 1}, {Peer: other, Stake: 1}})
	require.NoError(t, err)

	transport := newRecordingTransport(ids.GenerateTestNodeID()) // not a member
	b := New(fakeCrypto{}, transport, sharding.StakePoolFixed, nil, true)

	_, err = b.Broadcast(context.Background(), ch, []byte("hello"))
	require.ErrorIs(t, err, ErrNotMember)
}

func TestBroadcastDistributesToAllReceivers(t *testing.T) {
	reg := channel.NewRegistry()
	local := ids.GenerateTestNodeID()
	peer1 := ids.GenerateTestNodeID()
	peer2 := ids.GenerateTestNodeID()
	roster := []sharding.Member{{Peer: local, Stake: 1}, {Peer: peer1, Stake: 1}, {Peer: peer2, Stake: 1}}
	ch, err := reg.Register(1, local, roster)
	require.NoError(t, err)

	transport := newRecordingTransport(local)
	b := New(fakeCrypto{}, transport, sharding.StakePoolFixed, nil, true)

	result, err := b.Broadcast(context.Background(), ch, []byte("hello, propeller"))
	require.NoError(t, err)
	require.NotZero(t, result.Root)

	// Every non-local member must have received at least one frame: its
	// own shard, plus the publisher's own shard under StakePool-Fixed.
	require.NotEmpty(t, transport.sent[peer1])
	require.NotEmpty(t, transport.sent[peer2])

	units, _, err := wire.DecodeFrame(transport.sent[peer1][0], 1<<20)
	require.NoError(t, err)
	require.NotEmpty(t, units)
}

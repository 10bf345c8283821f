// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func sampleUnit() *Unit {
	var root, sib [32]byte
	root[0] = 0x11
	sib[0] = 0x22
	return &Unit{
		Shard:     []byte("shard-bytes"),
		Index:     7,
		Root:      root,
		Proof:     [][32]byte{sib, sib},
		Publisher: []byte("peer-id"),
		Signature: []byte("sig-bytes"),
		Channel:   42,
	}
}

func TestUnitRoundTrip(t *testing.T) {
	u := sampleUnit()
	encoded := EncodeUnit(u)
	got, err := DecodeUnit(encoded)
	require.NoError(t, err)
	require.Equal(t, u, got)
}

func TestBatchRoundTrip(t *testing.T) {
	units := []*Unit{sampleUnit(), sampleUnit()}
	units[1].Index = 8

	encoded := EncodeBatch(units)
	got, err := DecodeBatch(encoded)
	require.NoError(t, err)
	require.Equal(t, units, got)
}

func TestFrameRoundTrip(t *testing.T) {
	units := []*Unit{sampleUnit()}
	frame := EncodeFrame(units)

	got, consumed, err := DecodeFrame(frame, 1<<20)
	require.NoError(t, err)
	require.Equal(t, len(frame), consumed)
	require.Equal(t, units, got)
}

func TestFrameIncompleteReturnsZeroConsumed(t *testing.T) {
	units := []*Unit{sampleUnit()}
	frame := EncodeFrame(units)

	got, consumed, err := DecodeFrame(frame[:len(frame)-1], 1<<20)
	require.NoError(t, err)
	require.Zero(t, consumed)
	require.Nil(t, got)
}

func TestFrameTooLarge(t *testing.T) {
	units := []*Unit{sampleUnit()}
	frame := EncodeFrame(units)

	_, _, err := DecodeFrame(frame, 1)
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestDecodeUnitRejectsBadRootLength(t *testing.T) {
	// Corrupt by re-encoding a short root manually via a fresh buffer.
	encoded := protowire.AppendTag(nil, fieldRoot, protowire.BytesType)
	encoded = protowire.AppendBytes(encoded, []byte{1, 2, 3, 4, 5})
	_, err := DecodeUnit(encoded)
	require.ErrorIs(t, err, ErrDecodeError)
}

// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package merkle

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func leaves(n int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = []byte{byte(i), byte(i * 7), byte(i * 13)}
	}
	return out
}

func TestBuildEmpty(t *testing.T) {
	_, err := Build(nil, nil)
	require.ErrorIs(t, err, ErrEmptyTree)
}

func TestRoundTripAllSizes(t *testing.T) {
	for n := 1; n <= 9; n++ {
		n := n
		t.Run("", func(t *testing.T) {
			ls := leaves(n)
			tree, err := Build(ls, nil)
			require.NoError(t, err)
			require.Equal(t, n, tree.NumLeaves())

			for i := 0; i < n; i++ {
				proof, err := tree.Prove(i)
				require.NoError(t, err)
				require.Len(t, proof, ProofLen(n))
				require.NoError(t, Verify(nil, ls[i], i, n, proof, tree.Root()))
			}
		})
	}
}

func TestVerifyRejectsWrongLeaf(t *testing.T) {
	ls := leaves(5)
	tree, err := Build(ls, nil)
	require.NoError(t, err)

	proof, err := tree.Prove(2)
	require.NoError(t, err)
	err = Verify(nil, []byte("not the leaf"), 2, 5, proof, tree.Root())
	require.ErrorIs(t, err, ErrProofInvalid)
}

func TestVerifyRejectsWrongIndex(t *testing.T) {
	ls := leaves(6)
	tree, err := Build(ls, nil)
	require.NoError(t, err)

	proof, err := tree.Prove(3)
	require.NoError(t, err)
	err = Verify(nil, ls[3], 4, 6, proof, tree.Root())
	require.ErrorIs(t, err, ErrProofInvalid)
}

func TestOddLevelDuplicatesLastElement(t *testing.T) {
	// Three leaves: level 1 combines (0,1) and duplicates (2,2).
	ls := leaves(3)
	tree, err := Build(ls, nil)
	require.NoError(t, err)

	want := nodeHash(DefaultHash, leafHash(DefaultHash, ls[2]), leafHash(DefaultHash, ls[2]))
	got := tree.levels[1][1]
	require.Equal(t, want, got)
}

func TestProveOutOfRange(t *testing.T) {
	tree, err := Build(leaves(4), nil)
	require.NoError(t, err)
	_, err = tree.Prove(-1)
	require.Error(t, err)
	_, err = tree.Prove(4)
	require.Error(t, err)
}

func TestVerifyEmptyTotal(t *testing.T) {
	err := Verify(nil, []byte("x"), 0, 0, nil, Hash{})
	require.ErrorIs(t, err, ErrEmptyTree)
}

package merkle

import (
	"testing"

	"github.com/kuibu/transparent-company/pkg/canonical"
	"github.com/stretchr/testify/require"
)

func leafHashes(t *testing.T, n int) []string {
	t.Helper()
	out := make([]string, n)
	for i := 0; i < n; i++ {
		h, err := HashLeafPayload(canonical.Map{"i": i})
		require.NoError(t, err)
		out[i] = h
	}
	return out
}

func TestEmptyTreeRootIsEmptyRoot(t *testing.T) {
	tree := New(nil)
	require.Equal(t, EmptyRoot, tree.Root())
}

func TestSingleLeafRootEqualsLeaf(t *testing.T) {
	leaves := leafHashes(t, 1)
	tree := New(leaves)
	require.Equal(t, leaves[0], tree.Root())
}

func TestProofVerifiesForEveryLeaf(t *testing.T) {
	leaves := leafHashes(t, 5)
	tree := New(leaves)
	root := tree.Root()
	for i, leaf := range leaves {
		proof, err := tree.Proof(i)
		require.NoError(t, err)
		ok, err := VerifyProof(leaf, proof, root)
		require.NoError(t, err)
		require.True(t, ok, "leaf %d should verify", i)
	}
}

func TestProofFailsForWrongLeaf(t *testing.T) {
	leaves := leafHashes(t, 4)
	tree := New(leaves)
	proof, err := tree.Proof(0)
	require.NoError(t, err)
	ok, err := VerifyProof(leaves[1], proof, tree.Root())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestProofIndexOutOfRange(t *testing.T) {
	tree := New(leafHashes(t, 3))
	_, err := tree.Proof(3)
	require.Error(t, err)
}

func TestProofOnEmptyTree(t *testing.T) {
	tree := New(nil)
	_, err := tree.Proof(0)
	require.Error(t, err)
}

func TestRootStableAcrossRebuild(t *testing.T) {
	leaves := leafHashes(t, 7)
	r1 := New(leaves).Root()
	r2 := New(append([]string{}, leaves...)).Root()
	require.Equal(t, r1, r2)
}

package shared

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func genLeaves(n int) []Hash32 {
	leaves := make([]Hash32, n)
	for i := range leaves {
		leaves[i] = HashConcat([]byte("leaf"), U64(uint64(i)))
	}
	return leaves
}

func TestMerkleProofsVerify(t *testing.T) {
	t.Parallel()
	for n := 1; n <= 17; n++ {
		leaves := genLeaves(n)
		root, err := BuildMerkleRoot(leaves)
		require.NoError(t, err)

		for i := range leaves {
			proof, err := BuildMerkleProof(leaves, i)
			require.NoError(t, err)
			require.True(t, VerifyMerkleProof(root, leaves[i], proof), "n=%d i=%d", n, i)
		}
	}
}

func TestMerkleSingleLeafIsRoot(t *testing.T) {
	t.Parallel()
	leaves := genLeaves(1)
	root, err := BuildMerkleRoot(leaves)
	require.NoError(t, err)
	require.Equal(t, leaves[0], root)

	proof, err := BuildMerkleProof(leaves, 0)
	require.NoError(t, err)
	require.Empty(t, proof)
}

func TestMerkleOddLayerDuplicatesLastLeaf(t *testing.T) {
	t.Parallel()
	leaves := genLeaves(3)
	root, err := BuildMerkleRoot(leaves)
	require.NoError(t, err)

	expected := HashPair(HashPair(leaves[0], leaves[1]), HashPair(leaves[2], leaves[2]))
	require.Equal(t, expected, root)
}

func TestMerkleRejectsForeignLeaf(t *testing.T) {
	t.Parallel()
	leaves := genLeaves(8)
	root, err := BuildMerkleRoot(leaves)
	require.NoError(t, err)
	proof, err := BuildMerkleProof(leaves, 3)
	require.NoError(t, err)

	require.False(t, VerifyMerkleProof(root, HashConcat([]byte("other")), proof))
	require.False(t, VerifyMerkleProof(root, leaves[3], proof[1:]))
}

func TestHashPairIsOrderIndependent(t *testing.T) {
	t.Parallel()
	a, b := HashConcat([]byte("a")), HashConcat([]byte("b"))
	require.Equal(t, HashPair(a, b), HashPair(b, a))
}

func TestMerkleErrors(t *testing.T) {
	t.Parallel()
	_, err := BuildMerkleRoot(nil)
	require.ErrorIs(t, err, ErrNoLeaves)
	_, err = BuildMerkleProof(nil, 0)
	require.ErrorIs(t, err, ErrNoLeaves)
	_, err = BuildMerkleProof(genLeaves(2), 2)
	require.ErrorIs(t, err, ErrLeafIndexOutRange)
}

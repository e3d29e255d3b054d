package merkle

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// FuzzMerkleProofRoundTrip builds a tree from fuzzed leaves and checks that
// every proof verifies and that out-of-range indices yield no proof.
func FuzzMerkleProofRoundTrip(f *testing.F) {
	f.Add([]byte("abc"), uint8(3))
	f.Add([]byte{}, uint8(1))
	f.Add([]byte("hello world"), uint8(11))

	f.Fuzz(func(t *testing.T, data []byte, count uint8) {
		n := int(count)%64 + 1

		// Split data into n leaves, padding with the leaf position.
		leaves := make([][]byte, n)
		for i := 0; i < n; i++ {
			leaf := []byte{byte(i)}
			if len(data) > 0 {
				leaf = append(leaf, data[i%len(data):]...)
			}
			leaves[i] = leaf
		}

		tree, err := BuildMerkleTree(leaves)
		require.NoError(t, err)

		for i := 0; i < n; i++ {
			proof, ok := tree.GenerateProof(uint64(i))
			require.True(t, ok)
			require.LessOrEqual(t, len(proof.Steps), treeDepth(n))
			require.True(t, VerifyProof(proof, HashLeaf(leaves[i]), tree.Root))
		}

		proof, ok := tree.GenerateProof(uint64(n))
		require.False(t, ok)
		require.Nil(t, proof)
	})
}

package integration

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/merkle-verify-go/pkg/client"
	"github.com/Layr-Labs/merkle-verify-go/pkg/merkle"
	"github.com/Layr-Labs/merkle-verify-go/pkg/testutil"
)

// Test_LedgerIntegration drives every backend through the same flow and
// checks that they agree on roots and proofs.
func Test_LedgerIntegration(t *testing.T) {
	for _, hashType := range merkle.SupportedHashTypes() {
		t.Run(string(hashType), func(t *testing.T) {
			testLedgerFlow(t, hashType)
		})
	}
}

func testLedgerFlow(t *testing.T, hashType merkle.HashType) {
	ctx := context.Background()
	cluster := testutil.NewTestCluster(t, hashType)
	owners := cluster.OwnerClients()
	strangers := cluster.Clients(testutil.CreateTestSigner(t))

	hasher, err := merkle.NewHasher(hashType)
	require.NoError(t, err)

	initial := [][]byte{[]byte("a"), []byte("b"), []byte("c")}
	expected, err := merkle.BuildMerkleTreeWithHasher(hasher, initial)
	require.NoError(t, err)

	for _, c := range owners {
		account, err := c.Initialize(ctx, initial)
		require.NoError(t, err)
		require.Equal(t, cluster.Owner.Address(), account.Owner)
	}

	// Roots agree with a locally built tree
	for _, c := range owners {
		root, err := c.GetRoot(ctx)
		require.NoError(t, err)
		require.Equal(t, expected.Root, root.Root)
		require.Equal(t, hashType, root.HashType)
	}

	// Promoted leaf has a single step proof
	for _, c := range owners {
		proof, err := c.GetProof(ctx, 2)
		require.NoError(t, err)
		require.Len(t, proof.Proof.Steps, 1)

		valid, err := c.VerifyLeaf(ctx, 2, []byte("c"))
		require.NoError(t, err)
		require.True(t, valid)

		valid, err = c.VerifyLeaf(ctx, 2, []byte("x"))
		require.NoError(t, err)
		require.False(t, valid)
	}

	// Only the owner may append
	for i := range owners {
		_, err := strangers[i].AddLeaf(ctx, []byte("evil"))
		requireStatus(t, err, http.StatusForbidden)

		added, err := owners[i].AddLeaf(ctx, []byte("d"))
		require.NoError(t, err)
		require.Equal(t, uint64(3), added.Index)
	}

	withD, err := merkle.BuildMerkleTreeWithHasher(hasher, append(initial, []byte("d")))
	require.NoError(t, err)

	// Anyone may set the value with a valid proof, nobody without one
	for i := range owners {
		_, err := strangers[i].SetValue(ctx, 7, 3, hasher.HashLeaf([]byte("x")))
		requireStatus(t, err, http.StatusUnprocessableEntity)

		account, err := strangers[i].SetValue(ctx, 7, 3, hasher.HashLeaf([]byte("d")))
		require.NoError(t, err)
		require.Equal(t, uint64(7), account.Value)

		root, err := owners[i].GetRoot(ctx)
		require.NoError(t, err)
		require.Equal(t, withD.Root, root.Root)
		require.Equal(t, uint64(4), root.LeafCount)

		// Init, the append and the value update each consumed one nonce; rejected calls none
		account, err = owners[i].GetAccount(ctx)
		require.NoError(t, err)
		require.Equal(t, uint64(3), account.Nonce)
	}
}

func Test_LedgerIntegration_ReadOnlyClient(t *testing.T) {
	ctx := context.Background()
	cluster := testutil.NewTestCluster(t, merkle.DefaultHashType)

	readers := cluster.Clients(nil)
	for _, c := range readers {
		_, err := c.GetRoot(ctx)
		requireStatus(t, err, http.StatusNotFound)

		_, err = c.Initialize(ctx, testutil.CreateTestLeaves(2))
		require.ErrorIs(t, err, client.ErrNoSigner)

		require.NoError(t, c.Health(ctx))
	}
}

func requireStatus(t *testing.T, err error, status int) {
	t.Helper()
	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr), "expected APIError, got %v", err)
	require.Equal(t, status, apiErr.StatusCode)
}

// Package persistencetest holds the behavioural tests every
// IAccountPersistence backend must pass.
package persistencetest

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/merkle-verify-go/pkg/merkle"
	"github.com/Layr-Labs/merkle-verify-go/pkg/persistence"
	"github.com/Layr-Labs/merkle-verify-go/pkg/types"
)

// Factory returns a fresh, empty backend for one sub-test.
type Factory func(t *testing.T) persistence.IAccountPersistence

var testOwner = common.HexToAddress("0x1234567890123456789012345678901234567890")

// RunSuite runs the shared backend tests.
func RunSuite(t *testing.T, newStore Factory) {
	t.Run("LoadAccount_NotFound", func(t *testing.T) {
		store := newStore(t)
		defer func() { _ = store.Close() }()

		loaded, err := store.LoadAccount()
		require.NoError(t, err)
		assert.Nil(t, loaded)
	})

	t.Run("SaveAndLoadAccount", func(t *testing.T) {
		store := newStore(t)
		defer func() { _ = store.Close() }()

		account := &types.Account{
			Owner:    testOwner,
			Value:    42,
			Leaves:   [][]byte{[]byte("a"), []byte("b"), {}},
			Nonce:    3,
			HashType: merkle.HashTypeBlake3,
		}
		require.NoError(t, store.SaveAccount(account))

		loaded, err := store.LoadAccount()
		require.NoError(t, err)
		require.NotNil(t, loaded)
		assert.Equal(t, testOwner, loaded.Owner)
		assert.Equal(t, uint64(42), loaded.Value)
		assert.Equal(t, uint64(3), loaded.Nonce)
		assert.Equal(t, merkle.HashTypeBlake3, loaded.HashType)
		require.Len(t, loaded.Leaves, 3)
		assert.Equal(t, []byte("a"), loaded.Leaves[0])
		assert.Equal(t, []byte("b"), loaded.Leaves[1])
		assert.Empty(t, loaded.Leaves[2])
	})

	t.Run("SaveAccount_Nil", func(t *testing.T) {
		store := newStore(t)
		defer func() { _ = store.Close() }()

		err := store.SaveAccount(nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "nil Account")
	})

	t.Run("SaveAccount_Replaces", func(t *testing.T) {
		store := newStore(t)
		defer func() { _ = store.Close() }()

		require.NoError(t, store.SaveAccount(&types.Account{
			Owner:  testOwner,
			Leaves: [][]byte{[]byte("a"), []byte("b"), []byte("c")},
		}))
		require.NoError(t, store.SaveAccount(&types.Account{
			Owner:  testOwner,
			Value:  1,
			Leaves: [][]byte{[]byte("x")},
		}))

		loaded, err := store.LoadAccount()
		require.NoError(t, err)
		assert.Equal(t, [][]byte{[]byte("x")}, loaded.Leaves)
		assert.Equal(t, uint64(1), loaded.Value)
	})

	t.Run("AppendLeaf", func(t *testing.T) {
		store := newStore(t)
		defer func() { _ = store.Close() }()

		require.NoError(t, store.SaveAccount(&types.Account{Owner: testOwner}))

		for i := 0; i < 5; i++ {
			count, err := store.AppendLeaf(uint64(i), []byte(fmt.Sprintf("leaf-%d", i)))
			require.NoError(t, err)
			assert.Equal(t, uint64(i+1), count)
		}

		loaded, err := store.LoadAccount()
		require.NoError(t, err)
		require.Len(t, loaded.Leaves, 5)
		assert.Equal(t, uint64(5), loaded.Nonce)
		for i, leaf := range loaded.Leaves {
			assert.Equal(t, []byte(fmt.Sprintf("leaf-%d", i)), leaf)
		}
	})

	t.Run("AppendLeaf_NoAccount", func(t *testing.T) {
		store := newStore(t)
		defer func() { _ = store.Close() }()

		_, err := store.AppendLeaf(0, []byte("a"))
		require.ErrorIs(t, err, persistence.ErrAccountNotFound)
	})

	t.Run("AppendLeaf_NonceMismatch", func(t *testing.T) {
		store := newStore(t)
		defer func() { _ = store.Close() }()

		require.NoError(t, store.SaveAccount(&types.Account{Owner: testOwner, Nonce: 1}))

		_, err := store.AppendLeaf(0, []byte("stale"))
		require.ErrorIs(t, err, persistence.ErrNonceMismatch)
		_, err = store.AppendLeaf(2, []byte("future"))
		require.ErrorIs(t, err, persistence.ErrNonceMismatch)

		_, err = store.AppendLeaf(1, []byte("ok"))
		require.NoError(t, err)
		_, err = store.AppendLeaf(1, []byte("ok"))
		require.ErrorIs(t, err, persistence.ErrNonceMismatch)

		loaded, err := store.LoadAccount()
		require.NoError(t, err)
		assert.Equal(t, [][]byte{[]byte("ok")}, loaded.Leaves)
		assert.Equal(t, uint64(2), loaded.Nonce)
	})

	t.Run("AppendLeaf_DoesNotAliasInput", func(t *testing.T) {
		store := newStore(t)
		defer func() { _ = store.Close() }()

		require.NoError(t, store.SaveAccount(&types.Account{Owner: testOwner}))
		leaf := []byte("abc")
		_, err := store.AppendLeaf(0, leaf)
		require.NoError(t, err)
		leaf[0] = 'z'

		loaded, err := store.LoadAccount()
		require.NoError(t, err)
		assert.Equal(t, []byte("abc"), loaded.Leaves[0])
	})

	t.Run("SetValue", func(t *testing.T) {
		store := newStore(t)
		defer func() { _ = store.Close() }()

		require.NoError(t, store.SaveAccount(&types.Account{Owner: testOwner, Leaves: [][]byte{[]byte("a")}}))
		require.NoError(t, store.SetValue(0, ^uint64(0)))

		loaded, err := store.LoadAccount()
		require.NoError(t, err)
		assert.Equal(t, ^uint64(0), loaded.Value)
		assert.Equal(t, uint64(1), loaded.Nonce)
		assert.Len(t, loaded.Leaves, 1)
	})

	t.Run("SetValue_NonceMismatch", func(t *testing.T) {
		store := newStore(t)
		defer func() { _ = store.Close() }()

		require.NoError(t, store.SaveAccount(&types.Account{Owner: testOwner, Value: 5, Nonce: 4}))

		err := store.SetValue(3, 9)
		require.ErrorIs(t, err, persistence.ErrNonceMismatch)

		loaded, err := store.LoadAccount()
		require.NoError(t, err)
		assert.Equal(t, uint64(5), loaded.Value)
		assert.Equal(t, uint64(4), loaded.Nonce)
	})

	t.Run("HashTypeSurvivesMutations", func(t *testing.T) {
		store := newStore(t)
		defer func() { _ = store.Close() }()

		require.NoError(t, store.SaveAccount(&types.Account{Owner: testOwner, HashType: merkle.HashTypeSHA256}))
		_, err := store.AppendLeaf(0, []byte("a"))
		require.NoError(t, err)
		require.NoError(t, store.SetValue(1, 7))

		loaded, err := store.LoadAccount()
		require.NoError(t, err)
		assert.Equal(t, merkle.HashTypeSHA256, loaded.HashType)
	})

	t.Run("SetValue_NoAccount", func(t *testing.T) {
		store := newStore(t)
		defer func() { _ = store.Close() }()

		err := store.SetValue(0, 1)
		require.ErrorIs(t, err, persistence.ErrAccountNotFound)
	})

	t.Run("Close", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.HealthCheck())
		require.NoError(t, store.Close())

		// Operations after close should fail
		err := store.SaveAccount(&types.Account{Owner: testOwner})
		require.ErrorIs(t, err, persistence.ErrClosed)

		_, err = store.LoadAccount()
		require.ErrorIs(t, err, persistence.ErrClosed)

		_, err = store.AppendLeaf(0, []byte("a"))
		require.ErrorIs(t, err, persistence.ErrClosed)

		err = store.SetValue(0, 1)
		require.ErrorIs(t, err, persistence.ErrClosed)

		err = store.HealthCheck()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "closed")

		// Second close should also succeed
		require.NoError(t, store.Close())
	})

	t.Run("ThreadSafety", func(t *testing.T) {
		store := newStore(t)
		defer func() { _ = store.Close() }()

		require.NoError(t, store.SaveAccount(&types.Account{Owner: testOwner}))

		var wg sync.WaitGroup
		numGoroutines := 8
		numOperations := 25

		// Concurrent appends; losers of a nonce race reload and retry
		for i := 0; i < numGoroutines; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				for j := 0; j < numOperations; j++ {
					for {
						account, err := store.LoadAccount()
						if !assert.NoError(t, err) {
							return
						}
						_, err = store.AppendLeaf(account.Nonce, []byte(fmt.Sprintf("%d-%d", id, j)))
						if errors.Is(err, persistence.ErrNonceMismatch) {
							continue
						}
						assert.NoError(t, err)
						break
					}
				}
			}(i)
		}

		// Concurrent reads
		for i := 0; i < numGoroutines; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < numOperations; j++ {
					_, err := store.LoadAccount()
					assert.NoError(t, err)
				}
			}()
		}

		wg.Wait()

		loaded, err := store.LoadAccount()
		require.NoError(t, err)
		assert.Len(t, loaded.Leaves, numGoroutines*numOperations)
		assert.Equal(t, uint64(numGoroutines*numOperations), loaded.Nonce)
	})
}

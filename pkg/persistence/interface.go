package persistence

import "github.com/Layr-Labs/merkle-verify-go/pkg/types"

// IAccountPersistence stores the single ledger account: its owner, the stored
// value and the append-only leaf list.
// All implementations must be thread-safe.
//
// The interface supports:
// - Account creation and snapshot reads
// - Leaf appends (never removals) and value updates, each consuming one nonce
// - Lifecycle management (close, health check)
type IAccountPersistence interface {
	// Account Management

	// SaveAccount persists the whole account, replacing any existing one.
	SaveAccount(account *types.Account) error

	// LoadAccount returns a snapshot of the account.
	// Returns nil if no account exists, error only on storage failure.
	LoadAccount() (*types.Account, error)

	// AppendLeaf appends a leaf and returns the new leaf count. nonce must
	// equal the stored nonce, which is incremented in the same write.
	// Returns ErrAccountNotFound if the account has not been saved and
	// ErrNonceMismatch if nonce is not the stored one.
	AppendLeaf(nonce uint64, leaf []byte) (uint64, error)

	// SetValue overwrites the stored value under the same nonce rule as AppendLeaf.
	SetValue(nonce uint64, value uint64) error

	// Lifecycle Management

	// Close cleanly shuts down the persistence layer.
	// Idempotent - safe to call multiple times.
	// After Close(), all other operations return ErrClosed.
	Close() error

	// HealthCheck verifies the persistence layer is operational.
	HealthCheck() error
}

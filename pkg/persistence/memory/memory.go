package memory

import (
	"fmt"
	"sync"

	"github.com/Layr-Labs/merkle-verify-go/pkg/persistence"
	"github.com/Layr-Labs/merkle-verify-go/pkg/types"
)

// MemoryPersistence is an in-memory implementation of IAccountPersistence.
// This implementation is intended for TESTING and local development only.
//
// All data is lost when the process exits.
// Deep copies data to prevent external mutation.
type MemoryPersistence struct {
	mu sync.RWMutex

	account *types.Account

	closed bool
}

// NewMemoryPersistence creates a new in-memory persistence layer.
func NewMemoryPersistence() *MemoryPersistence {
	return &MemoryPersistence{}
}

// SaveAccount persists the account, replacing any existing one.
func (m *MemoryPersistence) SaveAccount(account *types.Account) error {
	if account == nil {
		return fmt.Errorf("cannot save nil Account")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return persistence.ErrClosed
	}

	m.account = account.Copy()
	return nil
}

// LoadAccount returns a copy of the account, or nil if none was saved.
func (m *MemoryPersistence) LoadAccount() (*types.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, persistence.ErrClosed
	}

	return m.account.Copy(), nil
}

// AppendLeaf appends a copy of leaf to the account.
func (m *MemoryPersistence) AppendLeaf(nonce uint64, leaf []byte) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, persistence.ErrClosed
	}
	if m.account == nil {
		return 0, persistence.ErrAccountNotFound
	}
	if m.account.Nonce != nonce {
		return 0, persistence.ErrNonceMismatch
	}

	m.account.Nonce++
	m.account.Leaves = append(m.account.Leaves, append([]byte{}, leaf...))
	return m.account.LeafCount(), nil
}

// SetValue overwrites the stored value.
func (m *MemoryPersistence) SetValue(nonce uint64, value uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return persistence.ErrClosed
	}
	if m.account == nil {
		return persistence.ErrAccountNotFound
	}
	if m.account.Nonce != nonce {
		return persistence.ErrNonceMismatch
	}

	m.account.Nonce++
	m.account.Value = value
	return nil
}

// Close marks the store closed. Idempotent.
func (m *MemoryPersistence) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

// HealthCheck reports whether the store is still open.
func (m *MemoryPersistence) HealthCheck() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return persistence.ErrClosed
	}
	return nil
}

package memory

import (
	"testing"

	"github.com/Layr-Labs/merkle-verify-go/pkg/persistence"
	"github.com/Layr-Labs/merkle-verify-go/pkg/persistence/persistencetest"
)

var _ persistence.IAccountPersistence = (*MemoryPersistence)(nil)

func TestMemoryPersistence(t *testing.T) {
	persistencetest.RunSuite(t, func(t *testing.T) persistence.IAccountPersistence {
		return NewMemoryPersistence()
	})
}

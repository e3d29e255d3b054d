package badger

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v3"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/Layr-Labs/merkle-verify-go/pkg/merkle"
	"github.com/Layr-Labs/merkle-verify-go/pkg/persistence"
	"github.com/Layr-Labs/merkle-verify-go/pkg/types"
)

// Key prefixes for namespacing
const (
	keyAccountMeta       = "account:meta"
	keyPrefixLeaf        = "account:leaf:"
	keySchemaVersion     = "metadata:schema_version"
	currentSchemaVersion = "v1"
)

// BadgerPersistence is a disk-backed IAccountPersistence using Badger.
// Leaves are stored one key per leaf under a zero-padded index so prefix
// iteration returns them in order.
type BadgerPersistence struct {
	db       *badgerdb.DB
	logger   *zap.Logger
	gcCancel context.CancelFunc
	gcWg     sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
}

// NewBadgerPersistence creates a new Badger-backed persistence layer.
// The database is opened at the specified path with SyncWrites enabled for durability.
// A background goroutine is started for garbage collection.
func NewBadgerPersistence(dataPath string, logger *zap.Logger) (*BadgerPersistence, error) {
	absPath, err := filepath.Abs(dataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	opts := badgerdb.DefaultOptions(absPath)
	opts.Logger = &badgerLoggerAdapter{logger: logger}
	opts.SyncWrites = true
	opts.CompactL0OnClose = true
	opts.NumVersionsToKeep = 1

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database at %s: %w", absPath, err)
	}

	bp := &BadgerPersistence{
		db:     db,
		logger: logger,
	}

	if err := bp.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	bp.gcCancel = cancel
	bp.gcWg.Add(1)
	go bp.runGC(ctx)

	logger.Sugar().Infow("Badger persistence initialized", "path", absPath)

	return bp, nil
}

// initSchema initializes or validates the schema version
func (b *BadgerPersistence) initSchema() error {
	return b.db.Update(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(keySchemaVersion))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return txn.Set([]byte(keySchemaVersion), []byte(currentSchemaVersion))
		}
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}

		var existingVersion string
		err = item.Value(func(val []byte) error {
			existingVersion = string(val)
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to read schema version value: %w", err)
		}

		if existingVersion != currentSchemaVersion {
			return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
		}

		return nil
	})
}

// runGC runs periodic value log garbage collection in the background
func (b *BadgerPersistence) runGC(ctx context.Context) {
	defer b.gcWg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := b.db.RunValueLogGC(0.5)
			if err != nil && !errors.Is(err, badgerdb.ErrNoRewrite) {
				b.logger.Sugar().Warnw("Badger GC error", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func leafKey(index uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", keyPrefixLeaf, index))
}

// loadMeta reads the account metadata; nil if the account does not exist
func loadMeta(txn *badgerdb.Txn) (*persistence.AccountMetadata, error) {
	item, err := txn.Get([]byte(keyAccountMeta))
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var data []byte
	err = item.Value(func(val []byte) error {
		data = append([]byte{}, val...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return persistence.UnmarshalAccountMetadata(data)
}

func saveMeta(txn *badgerdb.Txn, meta *persistence.AccountMetadata) error {
	data, err := persistence.MarshalAccountMetadata(meta)
	if err != nil {
		return err
	}
	return txn.Set([]byte(keyAccountMeta), data)
}

// SaveAccount persists the whole account, replacing existing leaves
func (b *BadgerPersistence) SaveAccount(account *types.Account) error {
	if account == nil {
		return fmt.Errorf("cannot save nil Account")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return persistence.ErrClosed
	}

	err := b.db.Update(func(txn *badgerdb.Txn) error {
		// Drop leaves from any previous account
		var staleKeys [][]byte
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefixLeaf)
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		for it.Rewind(); it.Valid(); it.Next() {
			staleKeys = append(staleKeys, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, key := range staleKeys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}

		for i, leaf := range account.Leaves {
			if err := txn.Set(leafKey(uint64(i)), append([]byte{}, leaf...)); err != nil {
				return err
			}
		}

		return saveMeta(txn, &persistence.AccountMetadata{
			Owner:     account.Owner.Hex(),
			Value:     account.Value,
			LeafCount: account.LeafCount(),
			Nonce:     account.Nonce,
			HashType:  string(account.HashType),
		})
	})
	if err != nil {
		return fmt.Errorf("failed to save Account: %w", err)
	}

	return nil
}

// LoadAccount returns a snapshot of the account
func (b *BadgerPersistence) LoadAccount() (*types.Account, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, persistence.ErrClosed
	}

	var account *types.Account

	err := b.db.View(func(txn *badgerdb.Txn) error {
		meta, err := loadMeta(txn)
		if err != nil || meta == nil {
			return err
		}

		leaves := make([][]byte, 0, meta.LeafCount)
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefixLeaf)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			leaf, err := it.Item().ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("failed to read leaf: %w", err)
			}
			leaves = append(leaves, leaf)
		}

		if uint64(len(leaves)) != meta.LeafCount {
			return fmt.Errorf("leaf count mismatch: metadata has %d, found %d", meta.LeafCount, len(leaves))
		}

		account = &types.Account{
			Owner:    common.HexToAddress(meta.Owner),
			Value:    meta.Value,
			Leaves:   leaves,
			Nonce:    meta.Nonce,
			HashType: merkle.HashType(meta.HashType),
		}
		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to load Account: %w", err)
	}

	return account, nil
}

// AppendLeaf appends a leaf under the next index and consumes nonce
func (b *BadgerPersistence) AppendLeaf(nonce uint64, leaf []byte) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, persistence.ErrClosed
	}

	var count uint64
	err := b.db.Update(func(txn *badgerdb.Txn) error {
		meta, err := loadMeta(txn)
		if err != nil {
			return err
		}
		if meta == nil {
			return persistence.ErrAccountNotFound
		}
		if meta.Nonce != nonce {
			return persistence.ErrNonceMismatch
		}

		if err := txn.Set(leafKey(meta.LeafCount), append([]byte{}, leaf...)); err != nil {
			return err
		}
		meta.LeafCount++
		meta.Nonce++
		count = meta.LeafCount

		return saveMeta(txn, meta)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to append leaf: %w", err)
	}

	return count, nil
}

// SetValue overwrites the stored value and consumes nonce
func (b *BadgerPersistence) SetValue(nonce uint64, value uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return persistence.ErrClosed
	}

	err := b.db.Update(func(txn *badgerdb.Txn) error {
		meta, err := loadMeta(txn)
		if err != nil {
			return err
		}
		if meta == nil {
			return persistence.ErrAccountNotFound
		}
		if meta.Nonce != nonce {
			return persistence.ErrNonceMismatch
		}

		meta.Value = value
		meta.Nonce++
		return saveMeta(txn, meta)
	})
	if err != nil {
		return fmt.Errorf("failed to set value: %w", err)
	}

	return nil
}

// Close shuts down the persistence layer
func (b *BadgerPersistence) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	if b.gcCancel != nil {
		b.gcCancel()
	}
	b.gcWg.Wait()

	if err := b.db.Close(); err != nil {
		return fmt.Errorf("failed to close badger database: %w", err)
	}

	b.logger.Sugar().Info("Badger persistence closed")
	return nil
}

// HealthCheck verifies the persistence layer is operational
func (b *BadgerPersistence) HealthCheck() error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return persistence.ErrClosed
	}

	return b.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get([]byte(keySchemaVersion))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return fmt.Errorf("schema version not found - database may be corrupted")
		}
		return err
	})
}

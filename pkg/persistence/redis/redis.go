package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Layr-Labs/merkle-verify-go/pkg/merkle"
	"github.com/Layr-Labs/merkle-verify-go/pkg/persistence"
	"github.com/Layr-Labs/merkle-verify-go/pkg/types"
)

// Key names. The account metadata is a hash, the leaves a list.
const (
	keyAccountMeta       = "merkle:account:meta"
	keyAccountLeaves     = "merkle:account:leaves"
	keySchemaVersion     = "merkle:metadata:schema_version"
	currentSchemaVersion = "v1"

	fieldOwner    = "owner"
	fieldValue    = "value"
	fieldNonce    = "nonce"
	fieldHashType = "hash_type"
)

const operationTimeout = 5 * time.Second

// RedisPersistence is an IAccountPersistence backed by Redis, suitable for
// deployments where the ledger process is stateless.
type RedisPersistence struct {
	client    *redis.Client
	logger    *zap.Logger
	keyPrefix string
	mu        sync.RWMutex
	closed    bool
}

// RedisConfig holds the configuration for connecting to Redis
type RedisConfig struct {
	// Address is the Redis server address (host:port)
	Address string
	// Password is the optional Redis password
	Password string
	// DB is the Redis database number (0-15)
	DB int
	// KeyPrefix is an optional prefix for all keys, e.g. "tenant-a:" gives
	// keys like "tenant-a:merkle:account:meta".
	KeyPrefix string
}

// NewRedisPersistence connects to Redis and validates the schema version.
func NewRedisPersistence(cfg *RedisConfig, logger *zap.Logger) (*RedisPersistence, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}

	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	rp := &RedisPersistence{
		client:    client,
		logger:    logger,
		keyPrefix: cfg.KeyPrefix,
	}

	if err := rp.initSchema(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Sugar().Infow("Redis persistence initialized",
		"address", cfg.Address,
		"db", cfg.DB,
		"key_prefix", cfg.KeyPrefix,
	)

	return rp, nil
}

// prefixKey adds the custom key prefix (if configured) to a key
func (r *RedisPersistence) prefixKey(key string) string {
	return r.keyPrefix + key
}

// initSchema initializes or validates the schema version
func (r *RedisPersistence) initSchema(ctx context.Context) error {
	schemaKey := r.prefixKey(keySchemaVersion)

	existingVersion, err := r.client.Get(ctx, schemaKey).Result()
	if errors.Is(err, redis.Nil) {
		return r.client.Set(ctx, schemaKey, currentSchemaVersion, 0).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if existingVersion != currentSchemaVersion {
		return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
	}

	return nil
}

// SaveAccount replaces the account in a single MULTI/EXEC transaction
func (r *RedisPersistence) SaveAccount(account *types.Account) error {
	if account == nil {
		return fmt.Errorf("cannot save nil Account")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return persistence.ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	metaKey := r.prefixKey(keyAccountMeta)
	leavesKey := r.prefixKey(keyAccountLeaves)

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, leavesKey)
		pipe.HSet(ctx, metaKey,
			fieldOwner, account.Owner.Hex(),
			fieldValue, strconv.FormatUint(account.Value, 10),
			fieldNonce, strconv.FormatUint(account.Nonce, 10),
			fieldHashType, string(account.HashType),
		)
		if len(account.Leaves) > 0 {
			values := make([]interface{}, len(account.Leaves))
			for i, leaf := range account.Leaves {
				values[i] = leaf
			}
			pipe.RPush(ctx, leavesKey, values...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save Account: %w", err)
	}

	return nil
}

// LoadAccount reads metadata and leaves in one transaction so the snapshot is consistent
func (r *RedisPersistence) LoadAccount() (*types.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, persistence.ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	var metaCmd *redis.MapStringStringCmd
	var leavesCmd *redis.StringSliceCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		metaCmd = pipe.HGetAll(ctx, r.prefixKey(keyAccountMeta))
		leavesCmd = pipe.LRange(ctx, r.prefixKey(keyAccountLeaves), 0, -1)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load Account: %w", err)
	}

	meta := metaCmd.Val()
	if len(meta) == 0 {
		return nil, nil
	}

	value, err := strconv.ParseUint(meta[fieldValue], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse stored value %q: %w", meta[fieldValue], err)
	}

	nonce, err := strconv.ParseUint(meta[fieldNonce], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse stored nonce %q: %w", meta[fieldNonce], err)
	}

	rawLeaves := leavesCmd.Val()
	leaves := make([][]byte, len(rawLeaves))
	for i, leaf := range rawLeaves {
		leaves[i] = []byte(leaf)
	}

	return &types.Account{
		Owner:    common.HexToAddress(meta[fieldOwner]),
		Value:    value,
		Leaves:   leaves,
		Nonce:    nonce,
		HashType: merkle.HashType(meta[fieldHashType]),
	}, nil
}

// AppendLeaf pushes a leaf onto the list and bumps the nonce in one
// WATCHed transaction, so a concurrent writer makes the append fail instead
// of reusing the nonce.
func (r *RedisPersistence) AppendLeaf(nonce uint64, leaf []byte) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, persistence.ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	metaKey := r.prefixKey(keyAccountMeta)
	var pushCmd *redis.IntCmd
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		if err := checkNonce(ctx, tx, metaKey, nonce); err != nil {
			return err
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pushCmd = pipe.RPush(ctx, r.prefixKey(keyAccountLeaves), leaf)
			pipe.HSet(ctx, metaKey, fieldNonce, strconv.FormatUint(nonce+1, 10))
			return nil
		})
		return err
	}, metaKey)
	if err != nil {
		return 0, fmt.Errorf("failed to append leaf: %w", err)
	}

	return uint64(pushCmd.Val()), nil
}

// SetValue overwrites the stored value and bumps the nonce
func (r *RedisPersistence) SetValue(nonce uint64, value uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return persistence.ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	metaKey := r.prefixKey(keyAccountMeta)
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		if err := checkNonce(ctx, tx, metaKey, nonce); err != nil {
			return err
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, metaKey,
				fieldValue, strconv.FormatUint(value, 10),
				fieldNonce, strconv.FormatUint(nonce+1, 10),
			)
			return nil
		})
		return err
	}, metaKey)
	if err != nil {
		return fmt.Errorf("failed to set value: %w", err)
	}

	return nil
}

// checkNonce runs inside a WATCH on metaKey
func checkNonce(ctx context.Context, tx *redis.Tx, metaKey string, nonce uint64) error {
	stored, err := tx.HGet(ctx, metaKey, fieldNonce).Result()
	if errors.Is(err, redis.Nil) {
		return persistence.ErrAccountNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read nonce: %w", err)
	}
	if stored != strconv.FormatUint(nonce, 10) {
		return persistence.ErrNonceMismatch
	}
	return nil
}

// Close shuts down the Redis client. Idempotent.
func (r *RedisPersistence) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if err := r.client.Close(); err != nil {
		return fmt.Errorf("failed to close Redis client: %w", err)
	}

	r.logger.Sugar().Info("Redis persistence closed")
	return nil
}

// HealthCheck pings Redis
func (r *RedisPersistence) HealthCheck() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return persistence.ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}

	return nil
}

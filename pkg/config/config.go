package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"k8s.io/apimachinery/pkg/util/validation/field"

	"github.com/Layr-Labs/merkle-verify-go/pkg/ledger"
	"github.com/Layr-Labs/merkle-verify-go/pkg/merkle"
	"github.com/Layr-Labs/merkle-verify-go/pkg/persistence"
)

// Environment variable names for merkle server configuration
const (
	EnvMerklePort            = "MERKLE_PORT"
	EnvMerkleHashType        = "MERKLE_HASH_TYPE"
	EnvMerklePersistenceType = "MERKLE_PERSISTENCE_TYPE"
	EnvMerkleDataPath        = "MERKLE_DATA_PATH"
	EnvMerkleRedisAddress    = "MERKLE_REDIS_ADDRESS"
	EnvMerkleRedisPassword   = "MERKLE_REDIS_PASSWORD"
	EnvMerkleRedisDB         = "MERKLE_REDIS_DB"
	EnvMerkleRedisKeyPrefix  = "MERKLE_REDIS_KEY_PREFIX"
	EnvMerkleRateLimit       = "MERKLE_RATE_LIMIT"
	EnvMerkleRateBurst       = "MERKLE_RATE_BURST"
	EnvMerkleMaxLeaves       = "MERKLE_MAX_LEAVES"
	EnvMerkleMaxLeafBytes    = "MERKLE_MAX_LEAF_BYTES"
	EnvMerkleDebug           = "MERKLE_DEBUG"
)

// Environment variable names for the merkle client
const (
	EnvMerkleServerURL  = "MERKLE_SERVER_URL"
	EnvMerklePrivateKey = "MERKLE_PRIVATE_KEY"
)

// RedisConfig holds the redis backend settings
type RedisConfig struct {
	Address   string `json:"address"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	KeyPrefix string `json:"key_prefix"`
}

// ServerConfig represents the complete configuration for a merkle server
type ServerConfig struct {
	Port     int             `json:"port"`
	HashType merkle.HashType `json:"hash_type"`

	// Persistence
	PersistenceType persistence.Type `json:"persistence_type"`
	DataPath        string           `json:"data_path"` // Badger directory
	Redis           RedisConfig      `json:"redis"`

	// Mutating requests per second and bucket size, 0 disables limiting
	RateLimit float64 `json:"rate_limit"`
	RateBurst int     `json:"rate_burst"`

	// Leaf list bounds, 0 takes the ledger defaults
	MaxLeaves    uint64 `json:"max_leaves"`
	MaxLeafBytes int    `json:"max_leaf_bytes"`

	Debug bool `json:"debug"`
}

// MaxLeafBytesCeiling keeps a hex-encoded leaf inside the node's request body limit
const MaxLeafBytesCeiling = 256 * 1024

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	var allErrors field.ErrorList

	if c.Port < 1 || c.Port > 65535 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("port"), c.Port, "port must be between 1-65535"))
	}

	if c.HashType == "" {
		c.HashType = merkle.DefaultHashType
	}
	if _, err := merkle.NewHasher(c.HashType); err != nil {
		allErrors = append(allErrors, field.NotSupported(field.NewPath("hashType"), c.HashType, hashTypeNames()))
	}

	switch c.PersistenceType {
	case "":
		c.PersistenceType = persistence.TypeMemory
	case persistence.TypeMemory:
	case persistence.TypeBadger:
		if c.DataPath == "" {
			allErrors = append(allErrors, field.Required(field.NewPath("dataPath"), "dataPath is required for badger persistence"))
		}
	case persistence.TypeRedis:
		if c.Redis.Address == "" {
			allErrors = append(allErrors, field.Required(field.NewPath("redis", "address"), "address is required for redis persistence"))
		}
		if c.Redis.DB < 0 {
			allErrors = append(allErrors, field.Invalid(field.NewPath("redis", "db"), c.Redis.DB, "db must not be negative"))
		}
	default:
		allErrors = append(allErrors, field.NotSupported(field.NewPath("persistenceType"), c.PersistenceType,
			[]string{string(persistence.TypeMemory), string(persistence.TypeBadger), string(persistence.TypeRedis)}))
	}

	if c.RateLimit < 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("rateLimit"), c.RateLimit, "rateLimit must not be negative"))
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("rateBurst"), c.RateBurst, "rateBurst must be at least 1 when rateLimit is set"))
	}

	if c.MaxLeaves == 0 {
		c.MaxLeaves = ledger.DefaultMaxLeaves
	}
	if c.MaxLeafBytes == 0 {
		c.MaxLeafBytes = ledger.DefaultMaxLeafBytes
	}
	if c.MaxLeafBytes < 0 || c.MaxLeafBytes > MaxLeafBytesCeiling {
		allErrors = append(allErrors, field.Invalid(field.NewPath("maxLeafBytes"), c.MaxLeafBytes,
			fmt.Sprintf("maxLeafBytes must be between 1-%d", MaxLeafBytesCeiling)))
	}

	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

// ClientConfig configures the merkle client CLI
type ClientConfig struct {
	ServerURL  string `json:"server_url"`
	PrivateKey string `json:"private_key"` // secp256k1 key, hex, optional for reads
}

// Validate validates the client configuration
func (c *ClientConfig) Validate(requireKey bool) error {
	var allErrors field.ErrorList

	if !strings.HasPrefix(c.ServerURL, "http://") && !strings.HasPrefix(c.ServerURL, "https://") {
		allErrors = append(allErrors, field.Invalid(field.NewPath("serverUrl"), c.ServerURL, "serverUrl must start with http:// or https://"))
	}

	if c.PrivateKey == "" {
		if requireKey {
			allErrors = append(allErrors, field.Required(field.NewPath("privateKey"), "privateKey is required for signed requests"))
		}
	} else if _, err := c.PrivateKeyBytes(); err != nil {
		allErrors = append(allErrors, field.Invalid(field.NewPath("privateKey"), "<redacted>", err.Error()))
	}

	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

// PrivateKeyBytes decodes the hex private key, with or without a 0x prefix
func (c *ClientConfig) PrivateKeyBytes() ([]byte, error) {
	key := c.PrivateKey
	if !strings.HasPrefix(key, "0x") {
		key = "0x" + key
	}
	keyBytes, err := hexutil.Decode(key)
	if err != nil {
		return nil, fmt.Errorf("invalid private key hex: %w", err)
	}
	if _, err := crypto.ToECDSA(keyBytes); err != nil {
		return nil, fmt.Errorf("invalid secp256k1 private key: %w", err)
	}
	return keyBytes, nil
}

func hashTypeNames() []string {
	types := merkle.SupportedHashTypes()
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return names
}

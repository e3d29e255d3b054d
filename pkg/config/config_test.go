package config

import (
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/merkle-verify-go/pkg/ledger"
	"github.com/Layr-Labs/merkle-verify-go/pkg/merkle"
	"github.com/Layr-Labs/merkle-verify-go/pkg/persistence"
)

func TestServerConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ServerConfig
		wantErr string
	}{
		{
			name: "defaults",
			cfg:  ServerConfig{Port: 8080},
		},
		{
			name: "badger with path",
			cfg:  ServerConfig{Port: 8080, PersistenceType: persistence.TypeBadger, DataPath: "/tmp/merkle"},
		},
		{
			name:    "badger without path",
			cfg:     ServerConfig{Port: 8080, PersistenceType: persistence.TypeBadger},
			wantErr: "dataPath",
		},
		{
			name:    "redis without address",
			cfg:     ServerConfig{Port: 8080, PersistenceType: persistence.TypeRedis},
			wantErr: "redis.address",
		},
		{
			name:    "unknown persistence",
			cfg:     ServerConfig{Port: 8080, PersistenceType: "postgres"},
			wantErr: "persistenceType",
		},
		{
			name:    "bad port",
			cfg:     ServerConfig{Port: 0},
			wantErr: "port",
		},
		{
			name:    "unknown hash",
			cfg:     ServerConfig{Port: 8080, HashType: "md5"},
			wantErr: "hashType",
		},
		{
			name:    "rate limit without burst",
			cfg:     ServerConfig{Port: 8080, RateLimit: 10},
			wantErr: "rateBurst",
		},
		{
			name:    "negative leaf size",
			cfg:     ServerConfig{Port: 8080, MaxLeafBytes: -1},
			wantErr: "maxLeafBytes",
		},
		{
			name:    "leaf size above request body limit",
			cfg:     ServerConfig{Port: 8080, MaxLeafBytes: MaxLeafBytesCeiling + 1},
			wantErr: "maxLeafBytes",
		},
		{
			name: "explicit leaf bounds",
			cfg:  ServerConfig{Port: 8080, MaxLeaves: 10, MaxLeafBytes: MaxLeafBytesCeiling},
		},
		{
			name:    "negative rate limit",
			cfg:     ServerConfig{Port: 8080, RateLimit: -1},
			wantErr: "rateLimit",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				require.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestServerConfig_ValidateFillsDefaults(t *testing.T) {
	cfg := ServerConfig{Port: 8080}
	require.NoError(t, cfg.Validate())
	require.Equal(t, merkle.DefaultHashType, cfg.HashType)
	require.Equal(t, persistence.TypeMemory, cfg.PersistenceType)
	require.Equal(t, uint64(ledger.DefaultMaxLeaves), cfg.MaxLeaves)
	require.Equal(t, ledger.DefaultMaxLeafBytes, cfg.MaxLeafBytes)
}

func TestServerConfig_ValidateAggregatesErrors(t *testing.T) {
	cfg := ServerConfig{Port: -1, HashType: "md5"}
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "port")
	require.Contains(t, err.Error(), "hashType")
}

func TestClientConfig_Validate(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	keyHex := hexutil.Encode(crypto.FromECDSA(key))

	require.NoError(t, (&ClientConfig{ServerURL: "http://localhost:8080"}).Validate(false))
	require.NoError(t, (&ClientConfig{ServerURL: "http://localhost:8080", PrivateKey: keyHex}).Validate(true))
	require.NoError(t, (&ClientConfig{ServerURL: "http://localhost:8080", PrivateKey: keyHex[2:]}).Validate(true))

	err = (&ClientConfig{ServerURL: "http://localhost:8080"}).Validate(true)
	require.Error(t, err)
	require.Contains(t, err.Error(), "privateKey")

	err = (&ClientConfig{ServerURL: "localhost:8080"}).Validate(false)
	require.Error(t, err)
	require.Contains(t, err.Error(), "serverUrl")

	err = (&ClientConfig{ServerURL: "http://localhost:8080", PrivateKey: "0xzz"}).Validate(true)
	require.Error(t, err)
	require.NotContains(t, err.Error(), "0xzz")
}

func TestClientConfig_PrivateKeyBytes(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	cfg := ClientConfig{PrivateKey: hexutil.Encode(crypto.FromECDSA(key))}
	keyBytes, err := cfg.PrivateKeyBytes()
	require.NoError(t, err)
	require.Equal(t, crypto.FromECDSA(key), keyBytes)
}

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/Layr-Labs/merkle-verify-go/pkg/config"
	"github.com/Layr-Labs/merkle-verify-go/pkg/ledger"
	"github.com/Layr-Labs/merkle-verify-go/pkg/logger"
	"github.com/Layr-Labs/merkle-verify-go/pkg/merkle"
	"github.com/Layr-Labs/merkle-verify-go/pkg/node"
	"github.com/Layr-Labs/merkle-verify-go/pkg/persistence"
	"github.com/Layr-Labs/merkle-verify-go/pkg/persistence/badger"
	"github.com/Layr-Labs/merkle-verify-go/pkg/persistence/memory"
	"github.com/Layr-Labs/merkle-verify-go/pkg/persistence/redis"
)

func main() {
	app := &cli.App{
		Name:  "merkle-server",
		Usage: "Merkle ledger node",
		Description: `Serves a single owner-controlled account whose value can only be updated
by proving that a leaf hash is part of the account's merkle tree.`,
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Value:   8000,
				Usage:   "HTTP server port",
				EnvVars: []string{config.EnvMerklePort},
			},
			&cli.StringFlag{
				Name:    "hash-type",
				Usage:   fmt.Sprintf("Hash function for leaves and nodes: %v", merkle.SupportedHashTypes()),
				Value:   string(merkle.DefaultHashType),
				EnvVars: []string{config.EnvMerkleHashType},
			},
			&cli.StringFlag{
				Name:    "persistence",
				Usage:   "Persistence backend: memory, badger or redis",
				Value:   string(persistence.TypeMemory),
				EnvVars: []string{config.EnvMerklePersistenceType},
			},
			&cli.StringFlag{
				Name:    "data-path",
				Usage:   "Badger data directory",
				EnvVars: []string{config.EnvMerkleDataPath},
			},
			&cli.StringFlag{
				Name:    "redis-address",
				Usage:   "Redis address (host:port)",
				Value:   "localhost:6379",
				EnvVars: []string{config.EnvMerkleRedisAddress},
			},
			&cli.StringFlag{
				Name:    "redis-password",
				Usage:   "Redis password",
				EnvVars: []string{config.EnvMerkleRedisPassword},
			},
			&cli.IntFlag{
				Name:    "redis-db",
				Usage:   "Redis database number",
				EnvVars: []string{config.EnvMerkleRedisDB},
			},
			&cli.StringFlag{
				Name:    "redis-key-prefix",
				Usage:   "Prefix for every redis key",
				EnvVars: []string{config.EnvMerkleRedisKeyPrefix},
			},
			&cli.Float64Flag{
				Name:    "rate-limit",
				Usage:   "Mutating requests per second (0 disables limiting)",
				Value:   50,
				EnvVars: []string{config.EnvMerkleRateLimit},
			},
			&cli.IntFlag{
				Name:    "rate-burst",
				Usage:   "Burst size for mutating requests",
				Value:   100,
				EnvVars: []string{config.EnvMerkleRateBurst},
			},
			&cli.Uint64Flag{
				Name:    "max-leaves",
				Usage:   "Maximum number of leaves in the account",
				Value:   ledger.DefaultMaxLeaves,
				EnvVars: []string{config.EnvMerkleMaxLeaves},
			},
			&cli.IntFlag{
				Name:    "max-leaf-bytes",
				Usage:   "Maximum size of a single leaf in bytes",
				Value:   ledger.DefaultMaxLeafBytes,
				EnvVars: []string{config.EnvMerkleMaxLeafBytes},
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Usage:   "Enable verbose logging",
				EnvVars: []string{config.EnvMerkleDebug},
			},
		},
		Action: runMerkleServer,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func runMerkleServer(c *cli.Context) error {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: c.Bool("verbose")})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = l.Sync() }()

	serverConfig := parseServerConfig(c)
	if err := serverConfig.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := newPersistence(serverConfig, l)
	if err != nil {
		return fmt.Errorf("failed to create persistence: %w", err)
	}

	n, err := node.NewNode(node.Config{
		Port:      serverConfig.Port,
		HashType:  serverConfig.HashType,
		RateLimit: serverConfig.RateLimit,
		RateBurst: serverConfig.RateBurst,

		MaxLeaves:    serverConfig.MaxLeaves,
		MaxLeafBytes: serverConfig.MaxLeafBytes,

		Logger: l,
	}, store)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("failed to create node: %w", err)
	}

	if err := n.Start(); err != nil {
		return fmt.Errorf("failed to start node: %w", err)
	}

	l.Sugar().Infow("Merkle server running",
		"port", serverConfig.Port,
		"hash_type", serverConfig.HashType,
		"persistence", serverConfig.PersistenceType,
	)
	l.Sugar().Info("Press Ctrl+C to stop")

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	l.Sugar().Infow("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return n.Stop(shutdownCtx)
}

func parseServerConfig(c *cli.Context) *config.ServerConfig {
	return &config.ServerConfig{
		Port:            c.Int("port"),
		HashType:        merkle.HashType(c.String("hash-type")),
		PersistenceType: persistence.Type(c.String("persistence")),
		DataPath:        c.String("data-path"),
		Redis: config.RedisConfig{
			Address:   c.String("redis-address"),
			Password:  c.String("redis-password"),
			DB:        c.Int("redis-db"),
			KeyPrefix: c.String("redis-key-prefix"),
		},
		RateLimit:    c.Float64("rate-limit"),
		RateBurst:    c.Int("rate-burst"),
		MaxLeaves:    c.Uint64("max-leaves"),
		MaxLeafBytes: c.Int("max-leaf-bytes"),
		Debug:        c.Bool("verbose"),
	}
}

func newPersistence(cfg *config.ServerConfig, l *zap.Logger) (persistence.IAccountPersistence, error) {
	switch cfg.PersistenceType {
	case persistence.TypeBadger:
		return badger.NewBadgerPersistence(cfg.DataPath, l)
	case persistence.TypeRedis:
		return redis.NewRedisPersistence(&redis.RedisConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		}, l)
	default:
		l.Sugar().Warnw("Using in-memory persistence, state is lost on restart")
		return memory.NewMemoryPersistence(), nil
	}
}

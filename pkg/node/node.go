package node

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Layr-Labs/merkle-verify-go/pkg/ledger"
	"github.com/Layr-Labs/merkle-verify-go/pkg/logger"
	"github.com/Layr-Labs/merkle-verify-go/pkg/merkle"
	"github.com/Layr-Labs/merkle-verify-go/pkg/persistence"
)

// Node serves one ledger over HTTP
type Node struct {
	Port     int
	HashType merkle.HashType

	// Dependencies
	ledger      *ledger.Ledger
	persistence persistence.IAccountPersistence
	server      *Server
	limiter     *rate.Limiter
	logger      *zap.Logger
}

// Config holds node configuration
type Config struct {
	Port      int
	HashType  merkle.HashType // Defaults to merkle.DefaultHashType
	RateLimit float64         // Mutating requests per second, <= 0 disables limiting
	RateBurst int

	// Leaf list bounds; zero takes the ledger defaults
	MaxLeaves    uint64
	MaxLeafBytes int

	Logger *zap.Logger // Optional logger, will create default if nil
}

// NewNode creates a new node instance with dependency injection
func NewNode(cfg Config, store persistence.IAccountPersistence) (*Node, error) {
	nodeLogger := cfg.Logger
	if nodeLogger == nil {
		var err error
		nodeLogger, err = logger.NewLogger(&logger.LoggerConfig{Debug: false})
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
	}

	if store == nil {
		return nil, fmt.Errorf("persistence cannot be nil")
	}

	hashType := cfg.HashType
	if hashType == "" {
		hashType = merkle.DefaultHashType
	}
	hasher, err := merkle.NewHasher(hashType)
	if err != nil {
		return nil, fmt.Errorf("failed to create hasher: %w", err)
	}

	limits := ledger.Limits{MaxLeaves: cfg.MaxLeaves, MaxLeafBytes: cfg.MaxLeafBytes}
	l, err := ledger.NewLedger(store, hasher, limits, nodeLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger: %w", err)
	}

	limit := rate.Inf
	burst := cfg.RateBurst
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
		if burst <= 0 {
			burst = 1
		}
	}

	n := &Node{
		Port:        cfg.Port,
		HashType:    hashType,
		ledger:      l,
		persistence: store,
		limiter:     rate.NewLimiter(limit, burst),
		logger:      nodeLogger,
	}
	n.server = NewServer(n, cfg.Port)

	return n, nil
}

// Start starts the node's HTTP server
func (n *Node) Start() error {
	return n.server.Start()
}

// Stop gracefully shuts down the HTTP server and closes persistence
func (n *Node) Stop(ctx context.Context) error {
	if err := n.server.Stop(ctx); err != nil {
		n.logger.Sugar().Warnw("Failed to stop HTTP server", "error", err)
	}
	if err := n.persistence.Close(); err != nil {
		return fmt.Errorf("failed to close persistence: %w", err)
	}
	n.logger.Sugar().Infow("Node stopped")
	return nil
}

// Ledger returns the ledger served by this node
func (n *Node) Ledger() *ledger.Ledger {
	return n.ledger
}

// GetServer returns the HTTP server (for testing)
func (n *Node) GetServer() *Server {
	return n.server
}

// Persistence returns the node's persistence layer
func (n *Node) Persistence() persistence.IAccountPersistence {
	return n.persistence
}

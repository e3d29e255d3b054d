package testutil

import (
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/Layr-Labs/merkle-verify-go/pkg/client"
	"github.com/Layr-Labs/merkle-verify-go/pkg/merkle"
	"github.com/Layr-Labs/merkle-verify-go/pkg/node"
	"github.com/Layr-Labs/merkle-verify-go/pkg/persistence"
	"github.com/Layr-Labs/merkle-verify-go/pkg/persistence/badger"
	"github.com/Layr-Labs/merkle-verify-go/pkg/persistence/memory"
	"github.com/Layr-Labs/merkle-verify-go/pkg/transportSigner/inMemoryTransportSigner"
)

// TestRetryConfig keeps client retries short in tests
var TestRetryConfig = client.RetryConfig{
	MaxAttempts:     3,
	InitialBackoff:  time.Millisecond,
	MaxBackoff:      10 * time.Millisecond,
	BackoffMultiple: 2.0,
}

// TestCluster is a set of independent merkle nodes, one per persistence
// backend, all served over httptest and driven by the same owner key.
type TestCluster struct {
	Nodes      []*node.Node
	Servers    []*httptest.Server
	ServerURLs []string
	Backends   []persistence.Type
	Owner      *inMemoryTransportSigner.InMemoryTransportSigner
	logger     *zap.Logger
}

// NewTestCluster starts one node per backend using hashType. Redis is not
// included since it needs an external server.
func NewTestCluster(t *testing.T, hashType merkle.HashType, backends ...persistence.Type) *TestCluster {
	if len(backends) == 0 {
		backends = []persistence.Type{persistence.TypeMemory, persistence.TypeBadger}
	}

	clusterLogger := zaptest.NewLogger(t)
	cluster := &TestCluster{
		Backends: backends,
		Owner:    CreateTestSigner(t),
		logger:   clusterLogger,
	}

	for _, backend := range backends {
		store := newTestPersistence(t, backend, clusterLogger)

		n, err := node.NewNode(node.Config{
			HashType: hashType,
			Logger:   clusterLogger,
		}, store)
		if err != nil {
			t.Fatalf("Failed to create %s node: %v", backend, err)
		}

		server := httptest.NewServer(n.GetServer().GetHandler())
		cluster.Nodes = append(cluster.Nodes, n)
		cluster.Servers = append(cluster.Servers, server)
		cluster.ServerURLs = append(cluster.ServerURLs, server.URL)
	}

	t.Cleanup(cluster.Close)
	return cluster
}

func newTestPersistence(t *testing.T, backend persistence.Type, l *zap.Logger) persistence.IAccountPersistence {
	switch backend {
	case persistence.TypeBadger:
		store, err := badger.NewBadgerPersistence(t.TempDir(), l)
		if err != nil {
			t.Fatalf("Failed to create badger persistence: %v", err)
		}
		return store
	case persistence.TypeMemory:
		return memory.NewMemoryPersistence()
	default:
		t.Fatalf("Unsupported test backend: %s", backend)
		return nil
	}
}

// OwnerClients returns one client per node, signing as the cluster owner
func (tc *TestCluster) OwnerClients() []*client.MerkleClient {
	return tc.Clients(tc.Owner)
}

// Clients returns one client per node signing with signer, which may be nil
func (tc *TestCluster) Clients(signer *inMemoryTransportSigner.InMemoryTransportSigner) []*client.MerkleClient {
	clients := make([]*client.MerkleClient, len(tc.ServerURLs))
	for i, url := range tc.ServerURLs {
		var c *client.MerkleClient
		if signer == nil {
			c = client.NewMerkleClient(url, nil, tc.logger)
		} else {
			c = client.NewMerkleClient(url, signer, tc.logger)
		}
		c.SetRetryConfig(TestRetryConfig)
		clients[i] = c
	}
	return clients
}

// GetServerURLs returns the base URL of every node
func (tc *TestCluster) GetServerURLs() []string {
	return tc.ServerURLs
}

// Close shuts down all servers and closes persistence
func (tc *TestCluster) Close() {
	for _, server := range tc.Servers {
		server.Close()
	}
	for _, n := range tc.Nodes {
		if err := n.Persistence().Close(); err != nil {
			tc.logger.Sugar().Warnw("Failed to close persistence", "error", err)
		}
	}
	tc.Servers = nil
	tc.Nodes = nil
}

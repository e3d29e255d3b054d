package testutil

import (
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap/zaptest"

	"github.com/Layr-Labs/merkle-verify-go/pkg/transportSigner/inMemoryTransportSigner"
)

// CreateTestSigner returns a transport signer over a fresh secp256k1 key
func CreateTestSigner(t *testing.T) *inMemoryTransportSigner.InMemoryTransportSigner {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	return inMemoryTransportSigner.NewInMemoryTransportSigner(key, zaptest.NewLogger(t))
}

// CreateTestLeaves returns n distinct leaves: "leaf-0", "leaf-1", ...
func CreateTestLeaves(n int) [][]byte {
	leaves := make([][]byte, n)
	for i := 0; i < n; i++ {
		leaves[i] = []byte(fmt.Sprintf("leaf-%d", i))
	}
	return leaves
}

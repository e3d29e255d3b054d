package inMemoryTransportSigner

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/Layr-Labs/merkle-verify-go/pkg/transportSigner"
)

type InMemoryTransportSigner struct {
	logger     *zap.Logger
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewECDSAInMemoryTransportSigner loads a raw 32-byte secp256k1 private key.
func NewECDSAInMemoryTransportSigner(
	privateKey []byte,
	logger *zap.Logger,
) (*InMemoryTransportSigner, error) {
	key, err := crypto.ToECDSA(privateKey)
	if err != nil {
		return nil, fmt.Errorf("error loading private key: %w", err)
	}

	return NewInMemoryTransportSigner(key, logger), nil
}

func NewInMemoryTransportSigner(
	key *ecdsa.PrivateKey,
	logger *zap.Logger,
) *InMemoryTransportSigner {
	address := crypto.PubkeyToAddress(key.PublicKey)
	logger.Sugar().Debugw("Loaded transport signer", "address", address.Hex())

	return &InMemoryTransportSigner{
		logger:     logger,
		privateKey: key,
		address:    address,
	}
}

// Address returns the address derived from the signing key
func (its *InMemoryTransportSigner) Address() common.Address {
	return its.address
}

// data is the raw message bytes to sign
func (its *InMemoryTransportSigner) SignMessage(data []byte) ([]byte, error) {
	hashedData := crypto.Keccak256Hash(data)
	return crypto.Sign(hashedData.Bytes(), its.privateKey)
}

func (its *InMemoryTransportSigner) CreateAuthenticatedMessage(data []byte) (*transportSigner.SignedMessage, error) {
	sigBytes, err := its.SignMessage(data)
	if err != nil {
		return nil, fmt.Errorf("failed to sign authenticated message: %w", err)
	}

	return &transportSigner.SignedMessage{
		Payload:   data,
		Signature: sigBytes,
		Hash:      crypto.Keccak256Hash(data),
	}, nil
}

package transportSigner

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrHashMismatch is returned when a message hash does not match its payload.
var ErrHashMismatch = errors.New("message hash does not match payload")

type SignedMessage struct {
	Payload   []byte      `json:"payload"`   // Raw request bytes
	Hash      common.Hash `json:"hash"`      // keccak256(payload)
	Signature []byte      `json:"signature"` // 65-byte secp256k1 signature over hash
}

type ITransportSigner interface {
	CreateAuthenticatedMessage(data []byte) (*SignedMessage, error)
	SignMessage(data []byte) ([]byte, error) // Sign raw message bytes, returns signature
	Address() common.Address
}

// RecoverSigner checks the message hash and returns the address that signed it.
func RecoverSigner(msg *SignedMessage) (common.Address, error) {
	if msg == nil {
		return common.Address{}, fmt.Errorf("signed message cannot be nil")
	}

	if crypto.Keccak256Hash(msg.Payload) != msg.Hash {
		return common.Address{}, ErrHashMismatch
	}

	if len(msg.Signature) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("invalid signature length: %d", len(msg.Signature))
	}

	pubKey, err := crypto.SigToPub(msg.Hash.Bytes(), msg.Signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}

	return crypto.PubkeyToAddress(*pubKey), nil
}

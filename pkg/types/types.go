package types

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/Layr-Labs/merkle-verify-go/pkg/merkle"
)

// Account is the single ledger account: an owner, a stored value and the
// ordered leaf list the merkle tree is rebuilt from.
type Account struct {
	Owner    common.Address  // Only the owner may append leaves
	Value    uint64          // Updated only after a successful proof verification
	Leaves   [][]byte        // Ordered leaves, append-only
	Nonce    uint64          // Next nonce a signed mutation must carry
	HashType merkle.HashType // Hash function the leaves were committed with
}

// LeafCount returns the number of leaves in the account
func (a *Account) LeafCount() uint64 {
	return uint64(len(a.Leaves))
}

// Copy returns a deep copy of the account
func (a *Account) Copy() *Account {
	if a == nil {
		return nil
	}
	leaves := make([][]byte, len(a.Leaves))
	for i, leaf := range a.Leaves {
		leaves[i] = append([]byte{}, leaf...)
	}
	return &Account{
		Owner:    a.Owner,
		Value:    a.Value,
		Leaves:   leaves,
		Nonce:    a.Nonce,
		HashType: a.HashType,
	}
}

// Actions name the mutating endpoint a SignedRequest is meant for.
const (
	ActionInitialize = "account/init"
	ActionAddLeaf    = "account/leaf"
	ActionSetValue   = "account/value"
)

// SignedRequest is the payload of every signed envelope. The action, nonce and
// expiry are covered by the signature together with the body, so an envelope
// is only accepted once, before Expiry, at the endpoint it names.
type SignedRequest struct {
	Action string          `json:"action"`
	Nonce  uint64          `json:"nonce"`
	Expiry int64           `json:"expiry"` // Unix seconds
	Body   json.RawMessage `json:"body"`
}

// InitializeRequest creates the account. The signer of the envelope becomes the owner.
type InitializeRequest struct {
	Leaves []hexutil.Bytes `json:"leaves"`
}

// AddLeafRequest appends a leaf. Must be signed by the owner.
type AddLeafRequest struct {
	Leaf hexutil.Bytes `json:"leaf"`
}

// SetValueRequest stores Value if Hash is proven to be the leaf at Index.
type SetValueRequest struct {
	Value uint64      `json:"value"`
	Index uint64      `json:"index"`
	Hash  merkle.Hash `json:"hash"`
}

// AddLeafResponse reports the position of the appended leaf
type AddLeafResponse struct {
	Index     uint64      `json:"index"`
	LeafCount uint64      `json:"leafCount"`
	Root      merkle.Hash `json:"root"`
	Nonce     uint64      `json:"nonce"`
}

// AccountResponse is the public view of the account
type AccountResponse struct {
	Owner     common.Address  `json:"owner"`
	Value     uint64          `json:"value"`
	Nonce     uint64          `json:"nonce"`
	LeafCount uint64          `json:"leafCount"`
	Leaves    []hexutil.Bytes `json:"leaves"`
}

// RootResponse returns the current root of the leaf list
type RootResponse struct {
	Root      merkle.Hash     `json:"root"`
	LeafCount uint64          `json:"leafCount"`
	HashType  merkle.HashType `json:"hashType"`
}

// ProofResponse carries an inclusion proof and the root it was extracted against
type ProofResponse struct {
	Root     merkle.Hash         `json:"root"`
	Leaf     merkle.Hash         `json:"leaf"`
	HashType merkle.HashType     `json:"hashType"`
	Proof    *merkle.MerkleProof `json:"proof"`
}

// VerifyRequest asks whether Hash is the leaf at Index
type VerifyRequest struct {
	Index uint64      `json:"index"`
	Hash  merkle.Hash `json:"hash"`
}

// VerifyResponse is the outcome of a VerifyRequest
type VerifyResponse struct {
	Valid bool        `json:"valid"`
	Root  merkle.Hash `json:"root"`
}

// ErrorResponse is written for every non-2xx reply
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

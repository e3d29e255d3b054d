package persistence

import "errors"

var (
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("persistence layer is closed")

	// ErrAccountNotFound is returned when mutating an account that was never saved.
	ErrAccountNotFound = errors.New("account not found")

	// ErrNonceMismatch is returned when a mutation carries a nonce other than
	// the stored one. Nothing is written.
	ErrNonceMismatch = errors.New("nonce does not match stored nonce")
)

// Type selects a persistence backend
type Type string

const (
	TypeMemory Type = "memory"
	TypeBadger Type = "badger"
	TypeRedis  Type = "redis"
)

// AccountMetadata is the fixed-size part of an account. Leaves are stored
// separately so appends do not rewrite the whole list.
type AccountMetadata struct {
	// Owner is the hex address allowed to append leaves
	Owner string `json:"owner"`

	// Value is the stored 64-bit value
	Value uint64 `json:"value"`

	// LeafCount is the number of leaves stored for the account
	LeafCount uint64 `json:"leafCount"`

	// Nonce is the nonce the next mutation must carry
	Nonce uint64 `json:"nonce"`

	// HashType is the hash function the account was initialized with
	HashType string `json:"hashType"`
}

package merkle

import (
	"crypto/sha256"
	"fmt"
	"hash"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/sha3"
)

// Domain separation prefixes. A leaf hash can never be replayed as an
// internal node hash and vice versa.
const (
	leafPrefix byte = 0x00
	nodePrefix byte = 0x01
)

// HashType names the digest used to build and verify a tree.
type HashType string

func (h HashType) String() string {
	return string(h)
}

const (
	HashTypeKeccak256 HashType = "keccak256"
	HashTypeSHA256    HashType = "sha256"
	HashTypeSHA3      HashType = "sha3-256"
	HashTypeBlake3    HashType = "blake3"
)

// DefaultHashType is used by the package-level helpers.
const DefaultHashType = HashTypeKeccak256

// Hasher turns leaves and child pairs into hashes. The same Hasher must be
// used to build a tree and to verify proofs against its root.
type Hasher interface {
	HashLeaf(leaf []byte) Hash
	HashNode(left, right Hash) Hash
	Type() HashType
}

// SupportedHashTypes lists every HashType NewHasher accepts
func SupportedHashTypes() []HashType {
	return []HashType{HashTypeKeccak256, HashTypeSHA256, HashTypeSHA3, HashTypeBlake3}
}

// NewHasher returns the Hasher for the given digest.
func NewHasher(hashType HashType) (Hasher, error) {
	switch hashType {
	case HashTypeKeccak256:
		return keccakHasher{}, nil
	case HashTypeSHA256:
		return &stdHasher{hashType: hashType, newHash: sha256.New}, nil
	case HashTypeSHA3:
		return &stdHasher{hashType: hashType, newHash: sha3.New256}, nil
	case HashTypeBlake3:
		return &stdHasher{hashType: hashType, newHash: func() hash.Hash { return blake3.New() }}, nil
	default:
		return nil, fmt.Errorf("unsupported hash type: %s", hashType)
	}
}

// DefaultHasher returns the keccak256 hasher
func DefaultHasher() Hasher {
	return keccakHasher{}
}

// HashLeaf hashes a raw leaf with the default hasher.
func HashLeaf(leaf []byte) Hash {
	return keccakHasher{}.HashLeaf(leaf)
}

// keccakHasher computes keccak256(prefix || data) for Solidity compatibility.
type keccakHasher struct{}

func (keccakHasher) HashLeaf(leaf []byte) Hash {
	return Hash(crypto.Keccak256Hash([]byte{leafPrefix}, leaf))
}

func (keccakHasher) HashNode(left, right Hash) Hash {
	return Hash(crypto.Keccak256Hash([]byte{nodePrefix}, left[:], right[:]))
}

func (keccakHasher) Type() HashType {
	return HashTypeKeccak256
}

// stdHasher adapts any hash.Hash constructor with a 32-byte output.
type stdHasher struct {
	hashType HashType
	newHash  func() hash.Hash
}

func (s *stdHasher) sum(prefix byte, parts ...[]byte) Hash {
	h := s.newHash()
	h.Write([]byte{prefix})
	for _, p := range parts {
		h.Write(p)
	}

	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

func (s *stdHasher) HashLeaf(leaf []byte) Hash {
	return s.sum(leafPrefix, leaf)
}

func (s *stdHasher) HashNode(left, right Hash) Hash {
	return s.sum(nodePrefix, left[:], right[:])
}

func (s *stdHasher) Type() HashType {
	return s.hashType
}

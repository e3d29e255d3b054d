package merkle

import (
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// HashLength is the width of every leaf, node and root hash.
const HashLength = 32

// Hash is a fixed-width digest of a leaf or an internal node.
type Hash [HashLength]byte

// Hex returns the 0x-prefixed hex encoding of the hash
func (h Hash) Hex() string {
	return hexutil.Encode(h[:])
}

func (h Hash) String() string {
	return h.Hex()
}

// MarshalText encodes the hash as 0x-prefixed hex so it reads well in JSON.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.Hex()), nil
}

// UnmarshalText decodes a 0x-prefixed hex hash.
func (h *Hash) UnmarshalText(input []byte) error {
	return hexutil.UnmarshalFixedText("Hash", input, h[:])
}

// HexToHash parses a 0x-prefixed hex string into a Hash.
func HexToHash(s string) (Hash, error) {
	var h Hash
	if err := h.UnmarshalText([]byte(s)); err != nil {
		return Hash{}, err
	}
	return h, nil
}

// MerkleTree represents a binary merkle tree built from an ordered list of leaves.
// Unpaired nodes are promoted unchanged to the next level.
type MerkleTree struct {
	// Leaves contains the leaf hashes in input order
	Leaves []Hash

	// Root is the merkle root hash
	Root Hash

	// levels stores all tree levels for proof generation
	// levels[0] = leaves, levels[len-1] = root
	levels [][]Hash

	hasher Hasher
}

// ProofStep is one sibling on the path from a leaf to the root.
type ProofStep struct {
	// Sibling is the hash combined with the running hash at this level
	Sibling Hash `json:"sibling" cbor:"1,keyasint"`

	// IsLeft is true when Sibling sits to the left of the running hash
	IsLeft bool `json:"isLeft" cbor:"2,keyasint"`
}

// MerkleProof represents a proof that a leaf is included in the tree.
// Levels where the path node was promoted contribute no step.
type MerkleProof struct {
	// LeafIndex is the position of the leaf the proof was extracted for
	LeafIndex uint64 `json:"leafIndex" cbor:"1,keyasint"`

	// Steps contains the sibling hashes from leaf level up to just below the root
	Steps []ProofStep `json:"steps" cbor:"2,keyasint"`
}

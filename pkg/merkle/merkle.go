package merkle

import (
	"errors"
	"fmt"
)

// ErrEmptyTree is returned when a tree is built from zero leaves.
var ErrEmptyTree = errors.New("cannot build merkle tree from empty leaf list")

// BuildMerkleTree creates a binary merkle tree from raw leaves using the
// default keccak256 hasher. Leaf order is significant.
func BuildMerkleTree(leaves [][]byte) (*MerkleTree, error) {
	return BuildMerkleTreeWithHasher(DefaultHasher(), leaves)
}

// BuildMerkleTreeWithHasher creates a binary merkle tree from raw leaves.
//
// Adjacent nodes are paired left to right and hashed as HashNode(left, right).
// If a level has an odd number of nodes, the last node is promoted to the next
// level unchanged.
func BuildMerkleTreeWithHasher(hasher Hasher, leaves [][]byte) (*MerkleTree, error) {
	if hasher == nil {
		return nil, fmt.Errorf("hasher cannot be nil")
	}
	if len(leaves) == 0 {
		return nil, ErrEmptyTree
	}

	// Hash all leaves
	leafHashes := make([]Hash, len(leaves))
	for i, leaf := range leaves {
		leafHashes[i] = hasher.HashLeaf(leaf)
	}

	// Build tree levels bottom-up
	levels := make([][]Hash, 0, treeDepth(len(leafHashes))+1)
	levels = append(levels, leafHashes)

	currentLevel := leafHashes
	for len(currentLevel) > 1 {
		nextLevel := make([]Hash, 0, (len(currentLevel)+1)/2)

		for i := 0; i < len(currentLevel); i += 2 {
			if i+1 == len(currentLevel) {
				nextLevel = append(nextLevel, currentLevel[i])
				continue
			}
			nextLevel = append(nextLevel, hasher.HashNode(currentLevel[i], currentLevel[i+1]))
		}

		levels = append(levels, nextLevel)
		currentLevel = nextLevel
	}

	return &MerkleTree{
		Leaves: leafHashes,
		Root:   currentLevel[0],
		levels: levels,
		hasher: hasher,
	}, nil
}

// LeafCount returns the number of leaves in the tree
func (mt *MerkleTree) LeafCount() uint64 {
	return uint64(len(mt.Leaves))
}

// Depth returns the number of levels above the leaves.
func (mt *MerkleTree) Depth() int {
	return len(mt.levels) - 1
}

// Hasher returns the hasher the tree was built with.
func (mt *MerkleTree) Hasher() Hasher {
	return mt.hasher
}

// GenerateProof creates a merkle proof for the leaf at the given index.
// It returns false when the index is out of range. A single-leaf tree yields
// an empty, valid proof.
func (mt *MerkleTree) GenerateProof(leafIndex uint64) (*MerkleProof, bool) {
	if leafIndex >= mt.LeafCount() {
		return nil, false
	}

	steps := make([]ProofStep, 0, mt.Depth())
	index := leafIndex

	for level := 0; level < len(mt.levels)-1; level++ {
		currentLevel := mt.levels[level]
		siblingIndex := index ^ 1

		// No sibling means this node was promoted
		if siblingIndex < uint64(len(currentLevel)) {
			steps = append(steps, ProofStep{
				Sibling: currentLevel[siblingIndex],
				IsLeft:  index%2 == 1,
			})
		}

		index /= 2
	}

	return &MerkleProof{
		LeafIndex: leafIndex,
		Steps:     steps,
	}, true
}

// VerifyProof checks a proof against root using the default hasher.
func VerifyProof(proof *MerkleProof, leaf Hash, root Hash) bool {
	return VerifyProofWithHasher(DefaultHasher(), proof, leaf, root)
}

// VerifyProofWithHasher recomputes the root from leaf and the proof steps and
// compares it with the expected root.
func VerifyProofWithHasher(hasher Hasher, proof *MerkleProof, leaf Hash, root Hash) bool {
	if proof == nil || hasher == nil {
		return false
	}

	current := leaf
	for _, step := range proof.Steps {
		if step.IsLeft {
			current = hasher.HashNode(step.Sibling, current)
		} else {
			current = hasher.HashNode(current, step.Sibling)
		}
	}

	return current == root
}

// treeDepth returns ceil(log2(n)) for n >= 1
func treeDepth(n int) int {
	depth := 0
	for width := 1; width < n; width <<= 1 {
		depth++
	}
	return depth
}

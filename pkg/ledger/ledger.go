// Package ledger owns the single merkle-backed account: an owner, a value and
// an append-only leaf list. The value only changes when the caller proves that
// a claimed leaf hash sits at a given index of the current tree.
package ledger

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Layr-Labs/merkle-verify-go/pkg/merkle"
	"github.com/Layr-Labs/merkle-verify-go/pkg/persistence"
	"github.com/Layr-Labs/merkle-verify-go/pkg/types"
)

var (
	ErrAlreadyInitialized = errors.New("account already initialized")
	ErrNotInitialized     = errors.New("account not initialized")
	ErrNotOwner           = errors.New("signer is not the account owner")
	ErrInvalidProof       = errors.New("invalid merkle proof")
	ErrIndexOutOfRange    = errors.New("leaf index out of range")
	ErrNonceMismatch      = errors.New("nonce does not match account nonce")
	ErrAccountFull        = errors.New("account leaf capacity exhausted")
	ErrLeafTooLarge       = errors.New("leaf exceeds maximum size")
	ErrHashTypeMismatch   = errors.New("account was initialized with a different hash type")
)

const (
	DefaultMaxLeaves    = 1024
	DefaultMaxLeafBytes = 1024
)

// Limits bounds the leaf list. Zero fields take the defaults.
type Limits struct {
	MaxLeaves    uint64
	MaxLeafBytes int
}

func (lim Limits) withDefaults() Limits {
	if lim.MaxLeaves == 0 {
		lim.MaxLeaves = DefaultMaxLeaves
	}
	if lim.MaxLeafBytes == 0 {
		lim.MaxLeafBytes = DefaultMaxLeafBytes
	}
	return lim
}

// Ledger applies account operations against a persistence backend with one hasher.
type Ledger struct {
	// mu serializes mutations with tree rebuilds so a proof is always
	// extracted and checked against one leaf snapshot.
	mu     sync.Mutex
	store  persistence.IAccountPersistence
	hasher merkle.Hasher
	limits Limits
	logger *zap.Logger
}

// ProofResult is a proof together with the root and leaf hash it proves against.
type ProofResult struct {
	Root  merkle.Hash
	Leaf  merkle.Hash
	Proof *merkle.MerkleProof
}

// AddLeafResult describes the tree right after an append.
type AddLeafResult struct {
	Index     uint64
	LeafCount uint64
	Root      merkle.Hash
	Nonce     uint64 // Nonce the next mutation must carry
}

// NewLedger returns a ledger over store, refusing a store whose account was committed with another hasher.
func NewLedger(store persistence.IAccountPersistence, hasher merkle.Hasher, limits Limits, logger *zap.Logger) (*Ledger, error) {
	if store == nil {
		return nil, errors.New("persistence cannot be nil")
	}
	if hasher == nil {
		hasher = merkle.DefaultHasher()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	existing, err := store.LoadAccount()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load account")
	}
	if existing != nil {
		stored := existing.HashType
		if stored == "" {
			stored = merkle.DefaultHashType
		}
		if stored != hasher.Type() {
			return nil, errors.Wrapf(ErrHashTypeMismatch, "stored %s, configured %s", stored, hasher.Type())
		}
	}

	return &Ledger{
		store:  store,
		hasher: hasher,
		limits: limits.withDefaults(),
		logger: logger,
	}, nil
}

// Hasher returns the hasher every tree of this ledger is built with
func (l *Ledger) Hasher() merkle.Hasher {
	return l.hasher
}

// Limits returns the effective leaf list bounds
func (l *Ledger) Limits() Limits {
	return l.limits
}

// Initialize creates the account with owner and the initial leaves. The value
// starts at zero. nonce must be 0; the account's next nonce is 1.
func (l *Ledger) Initialize(ctx context.Context, owner common.Address, nonce uint64, items [][]byte) (*types.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	existing, err := l.store.LoadAccount()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load account")
	}
	if existing != nil {
		return nil, ErrAlreadyInitialized
	}
	if nonce != 0 {
		return nil, ErrNonceMismatch
	}
	if uint64(len(items)) > l.limits.MaxLeaves {
		return nil, errors.Wrapf(ErrAccountFull, "%d leaves exceed the limit of %d", len(items), l.limits.MaxLeaves)
	}
	for i, item := range items {
		if err := l.checkLeafSize(item); err != nil {
			return nil, errors.Wrapf(err, "leaf %d", i)
		}
	}

	account := &types.Account{
		Owner:    owner,
		Value:    0,
		Leaves:   items,
		Nonce:    nonce + 1,
		HashType: l.hasher.Type(),
	}
	if account.Leaves == nil {
		account.Leaves = [][]byte{}
	}
	if err := l.store.SaveAccount(account); err != nil {
		return nil, errors.Wrap(err, "failed to save account")
	}

	l.logger.Sugar().Infow("Account initialized",
		"owner", owner.Hex(),
		"leaves", len(items),
		"hash_type", l.hasher.Type(),
	)
	return account.Copy(), nil
}

// AddLeaf appends item to the leaf list. Only the owner may append, and nonce
// must be the account's current nonce. The result is computed before the lock
// is released.
func (l *Ledger) AddLeaf(ctx context.Context, signer common.Address, nonce uint64, item []byte) (*AddLeafResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	account, err := l.loadAccount()
	if err != nil {
		return nil, err
	}
	if account.Owner != signer {
		l.logger.Sugar().Warnw("Rejected leaf from non-owner",
			"signer", signer.Hex(),
			"owner", account.Owner.Hex(),
		)
		return nil, ErrNotOwner
	}
	if account.Nonce != nonce {
		return nil, errors.Wrapf(ErrNonceMismatch, "got %d, expected %d", nonce, account.Nonce)
	}
	if account.LeafCount() >= l.limits.MaxLeaves {
		return nil, errors.Wrapf(ErrAccountFull, "limit is %d leaves", l.limits.MaxLeaves)
	}
	if err := l.checkLeafSize(item); err != nil {
		return nil, err
	}

	count, err := l.store.AppendLeaf(nonce, item)
	if err != nil {
		if errors.Is(err, persistence.ErrNonceMismatch) {
			return nil, ErrNonceMismatch
		}
		return nil, errors.Wrap(err, "failed to append leaf")
	}

	account.Leaves = append(account.Leaves, item)
	tree, err := merkle.BuildMerkleTreeWithHasher(l.hasher, account.Leaves)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build merkle tree")
	}

	result := &AddLeafResult{
		Index:     count - 1,
		LeafCount: count,
		Root:      tree.Root,
		Nonce:     nonce + 1,
	}
	l.logger.Sugar().Debugw("Leaf appended", "index", result.Index, "root", result.Root.Hex())
	return result, nil
}

// SetValue stores value if hash is the leaf hash at index of the current tree
// and returns the updated account. On any failure the stored value and nonce
// are left untouched.
func (l *Ledger) SetValue(ctx context.Context, nonce uint64, value uint64, index uint64, hash merkle.Hash) (*types.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	account, err := l.loadAccount()
	if err != nil {
		return nil, err
	}
	if account.Nonce != nonce {
		return nil, errors.Wrapf(ErrNonceMismatch, "got %d, expected %d", nonce, account.Nonce)
	}

	valid, _, err := l.verify(account, index, hash)
	if err != nil {
		return nil, err
	}
	if !valid {
		l.logger.Sugar().Infow("Proof verification failed",
			"index", index,
			"hash", hash.Hex(),
		)
		return nil, ErrInvalidProof
	}

	if err := l.store.SetValue(nonce, value); err != nil {
		if errors.Is(err, persistence.ErrNonceMismatch) {
			return nil, ErrNonceMismatch
		}
		return nil, errors.Wrap(err, "failed to store value")
	}

	account.Value = value
	account.Nonce = nonce + 1
	l.logger.Sugar().Infow("Value updated", "value", value, "index", index)
	return account, nil
}

// GetAccount returns a snapshot of the account
func (l *Ledger) GetAccount(ctx context.Context) (*types.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.loadAccount()
}

// Tree builds the merkle tree over the current leaves. An empty leaf list
// yields merkle.ErrEmptyTree.
func (l *Ledger) Tree(ctx context.Context) (*merkle.MerkleTree, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	account, err := l.loadAccount()
	if err != nil {
		return nil, err
	}
	return merkle.BuildMerkleTreeWithHasher(l.hasher, account.Leaves)
}

// Root returns the current root and leaf count
func (l *Ledger) Root(ctx context.Context) (merkle.Hash, uint64, error) {
	tree, err := l.Tree(ctx)
	if err != nil {
		return merkle.Hash{}, 0, err
	}
	return tree.Root, tree.LeafCount(), nil
}

// Proof extracts the inclusion proof for the leaf at index
func (l *Ledger) Proof(ctx context.Context, index uint64) (*ProofResult, error) {
	tree, err := l.Tree(ctx)
	if err != nil {
		if errors.Is(err, merkle.ErrEmptyTree) {
			return nil, ErrIndexOutOfRange
		}
		return nil, err
	}

	proof, ok := tree.GenerateProof(index)
	if !ok {
		return nil, ErrIndexOutOfRange
	}
	return &ProofResult{
		Root:  tree.Root,
		Leaf:  tree.Leaves[index],
		Proof: proof,
	}, nil
}

// Verify reports whether hash is the leaf hash at index without changing any state
func (l *Ledger) Verify(ctx context.Context, index uint64, hash merkle.Hash) (bool, merkle.Hash, error) {
	if err := ctx.Err(); err != nil {
		return false, merkle.Hash{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	account, err := l.loadAccount()
	if err != nil {
		return false, merkle.Hash{}, err
	}
	return l.verify(account, index, hash)
}

func (l *Ledger) checkLeafSize(item []byte) error {
	if len(item) > l.limits.MaxLeafBytes {
		return errors.Wrapf(ErrLeafTooLarge, "%d bytes, limit is %d", len(item), l.limits.MaxLeafBytes)
	}
	return nil
}

// verify must be called with mu held
func (l *Ledger) verify(account *types.Account, index uint64, hash merkle.Hash) (bool, merkle.Hash, error) {
	if len(account.Leaves) == 0 {
		return false, merkle.Hash{}, nil
	}

	tree, err := merkle.BuildMerkleTreeWithHasher(l.hasher, account.Leaves)
	if err != nil {
		return false, merkle.Hash{}, errors.Wrap(err, "failed to build merkle tree")
	}

	proof, ok := tree.GenerateProof(index)
	if !ok {
		return false, tree.Root, nil
	}
	return merkle.VerifyProofWithHasher(l.hasher, proof, hash, tree.Root), tree.Root, nil
}

// loadAccount must be called with mu held
func (l *Ledger) loadAccount() (*types.Account, error) {
	account, err := l.store.LoadAccount()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load account")
	}
	if account == nil {
		return nil, ErrNotInitialized
	}
	return account, nil
}

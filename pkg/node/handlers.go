package node

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/Layr-Labs/merkle-verify-go/pkg/ledger"
	"github.com/Layr-Labs/merkle-verify-go/pkg/merkle"
	"github.com/Layr-Labs/merkle-verify-go/pkg/transportSigner"
	"github.com/Layr-Labs/merkle-verify-go/pkg/types"
)

// handleInitialize creates the account owned by the envelope signer
func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, r, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req types.InitializeRequest
	signer, nonce, ok := s.decodeSigned(w, r, types.ActionInitialize, &req)
	if !ok {
		return
	}

	items := make([][]byte, len(req.Leaves))
	for i, leaf := range req.Leaves {
		items[i] = leaf
	}

	account, err := s.node.ledger.Initialize(r.Context(), signer, nonce, items)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}

	s.writeJSON(w, r, http.StatusCreated, accountResponse(account))
}

// handleAddLeaf appends a leaf on behalf of the owner
func (s *Server) handleAddLeaf(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, r, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req types.AddLeafRequest
	signer, nonce, ok := s.decodeSigned(w, r, types.ActionAddLeaf, &req)
	if !ok {
		return
	}

	result, err := s.node.ledger.AddLeaf(r.Context(), signer, nonce, req.Leaf)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}

	s.writeJSON(w, r, http.StatusOK, types.AddLeafResponse{
		Index:     result.Index,
		LeafCount: result.LeafCount,
		Root:      result.Root,
		Nonce:     result.Nonce,
	})
}

// handleSetValue stores a value after proving the claimed leaf hash
func (s *Server) handleSetValue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, r, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req types.SetValueRequest
	signer, nonce, ok := s.decodeSigned(w, r, types.ActionSetValue, &req)
	if !ok {
		return
	}

	account, err := s.node.ledger.SetValue(r.Context(), nonce, req.Value, req.Index, req.Hash)
	if err != nil {
		s.node.logger.Sugar().Infow("Set value rejected",
			"request_id", requestIDFromContext(r.Context()),
			"signer", signer.Hex(),
			"index", req.Index,
			"error", err,
		)
		s.writeLedgerError(w, r, err)
		return
	}

	s.writeJSON(w, r, http.StatusOK, accountResponse(account))
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, r, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	account, err := s.node.ledger.GetAccount(r.Context())
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}

	s.writeJSON(w, r, http.StatusOK, accountResponse(account))
}

func (s *Server) handleGetRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, r, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	root, count, err := s.node.ledger.Root(r.Context())
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}

	s.writeJSON(w, r, http.StatusOK, types.RootResponse{
		Root:      root,
		LeafCount: count,
		HashType:  s.node.HashType,
	})
}

func (s *Server) handleGetProof(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, r, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	index, err := strconv.ParseUint(r.URL.Query().Get("index"), 10, 64)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, "index must be a non-negative integer")
		return
	}

	result, err := s.node.ledger.Proof(r.Context(), index)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}

	s.writeJSON(w, r, http.StatusOK, types.ProofResponse{
		Root:     result.Root,
		Leaf:     result.Leaf,
		HashType: s.node.HashType,
		Proof:    result.Proof,
	})
}

func (s *Server) handleVerifyProof(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, r, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req types.VerifyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, fmt.Sprintf("Failed to parse request: %v", err))
		return
	}

	valid, root, err := s.node.ledger.Verify(r.Context(), req.Index, req.Hash)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}

	s.writeJSON(w, r, http.StatusOK, types.VerifyResponse{Valid: valid, Root: root})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, r, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err := s.node.persistence.HealthCheck(); err != nil {
		s.writeError(w, r, http.StatusServiceUnavailable, fmt.Sprintf("persistence unhealthy: %v", err))
		return
	}

	s.writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeSigned parses a SignedMessage, recovers its signer and checks that the
// signed request names action and has not expired. The body is decoded into
// out with unknown fields rejected. The nonce is checked by the ledger.
func (s *Server) decodeSigned(w http.ResponseWriter, r *http.Request, action string, out interface{}) (common.Address, uint64, bool) {
	var msg transportSigner.SignedMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)).Decode(&msg); err != nil {
		s.writeError(w, r, http.StatusBadRequest, fmt.Sprintf("Failed to parse signed message: %v", err))
		return common.Address{}, 0, false
	}

	signer, err := transportSigner.RecoverSigner(&msg)
	if err != nil {
		s.writeError(w, r, http.StatusUnauthorized, fmt.Sprintf("Invalid signature: %v", err))
		return common.Address{}, 0, false
	}

	var signed types.SignedRequest
	if err := json.Unmarshal(msg.Payload, &signed); err != nil {
		s.writeError(w, r, http.StatusBadRequest, fmt.Sprintf("Failed to parse signed request: %v", err))
		return common.Address{}, 0, false
	}
	if signed.Action != action {
		s.writeError(w, r, http.StatusUnauthorized, fmt.Sprintf("Signed request is for action %q, not %q", signed.Action, action))
		return common.Address{}, 0, false
	}

	now := s.now()
	expiry := time.Unix(signed.Expiry, 0)
	if !expiry.After(now) {
		s.writeError(w, r, http.StatusUnauthorized, "Signed request has expired")
		return common.Address{}, 0, false
	}
	if expiry.After(now.Add(MaxSignedRequestLifetime)) {
		s.writeError(w, r, http.StatusUnauthorized, fmt.Sprintf("Signed request expiry is more than %s ahead", MaxSignedRequestLifetime))
		return common.Address{}, 0, false
	}

	dec := json.NewDecoder(bytes.NewReader(signed.Body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		s.writeError(w, r, http.StatusBadRequest, fmt.Sprintf("Failed to parse request: %v", err))
		return common.Address{}, 0, false
	}

	return signer, signed.Nonce, true
}

// writeLedgerError maps ledger failures onto HTTP status codes
func (s *Server) writeLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ledger.ErrNotInitialized),
		errors.Is(err, ledger.ErrIndexOutOfRange),
		errors.Is(err, merkle.ErrEmptyTree):
		status = http.StatusNotFound
	case errors.Is(err, ledger.ErrAlreadyInitialized),
		errors.Is(err, ledger.ErrNonceMismatch):
		status = http.StatusConflict
	case errors.Is(err, ledger.ErrAccountFull),
		errors.Is(err, ledger.ErrLeafTooLarge):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, ledger.ErrNotOwner):
		status = http.StatusForbidden
	case errors.Is(err, ledger.ErrInvalidProof):
		status = http.StatusUnprocessableEntity
	}

	if status == http.StatusInternalServerError {
		s.node.logger.Sugar().Errorw("Ledger operation failed",
			"request_id", requestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
	}
	s.writeError(w, r, status, err.Error())
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	s.writeJSON(w, r, status, types.ErrorResponse{
		Error:     message,
		RequestID: requestIDFromContext(r.Context()),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.node.logger.Sugar().Warnw("Failed to encode response",
			"request_id", requestIDFromContext(r.Context()),
			"error", err,
		)
	}
}

func accountResponse(account *types.Account) types.AccountResponse {
	leaves := make([]hexutil.Bytes, len(account.Leaves))
	for i, leaf := range account.Leaves {
		leaves[i] = leaf
	}
	return types.AccountResponse{
		Owner:     account.Owner,
		Value:     account.Value,
		Nonce:     account.Nonce,
		LeafCount: account.LeafCount(),
		Leaves:    leaves,
	}
}

package node

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Layr-Labs/merkle-verify-go/pkg/ledger"
	"github.com/Layr-Labs/merkle-verify-go/pkg/merkle"
	"github.com/Layr-Labs/merkle-verify-go/pkg/persistence/memory"
	"github.com/Layr-Labs/merkle-verify-go/pkg/transportSigner/inMemoryTransportSigner"
	"github.com/Layr-Labs/merkle-verify-go/pkg/types"
)

func newTestNode(t *testing.T, cfg Config) *Node {
	cfg.Logger = zaptest.NewLogger(t)
	n, err := NewNode(cfg, memory.NewMemoryPersistence())
	require.NoError(t, err)
	return n
}

func newTestSigner(t *testing.T) *inMemoryTransportSigner.InMemoryTransportSigner {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return inMemoryTransportSigner.NewInMemoryTransportSigner(key, zaptest.NewLogger(t))
}

func signedBody(t *testing.T, signer *inMemoryTransportSigner.InMemoryTransportSigner, action string, nonce uint64, req interface{}) []byte {
	return signedBodyExpiring(t, signer, action, nonce, time.Now().Add(time.Minute), req)
}

func signedBodyExpiring(t *testing.T, signer *inMemoryTransportSigner.InMemoryTransportSigner, action string, nonce uint64, expiry time.Time, req interface{}) []byte {
	body, err := json.Marshal(req)
	require.NoError(t, err)
	payload, err := json.Marshal(types.SignedRequest{
		Action: action,
		Nonce:  nonce,
		Expiry: expiry.Unix(),
		Body:   body,
	})
	require.NoError(t, err)
	msg, err := signer.CreateAuthenticatedMessage(payload)
	require.NoError(t, err)
	envelope, err := json.Marshal(msg)
	require.NoError(t, err)
	return envelope
}

func do(t *testing.T, n *Node, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	w := httptest.NewRecorder()
	n.GetServer().GetHandler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
}

func initAccount(t *testing.T, n *Node, signer *inMemoryTransportSigner.InMemoryTransportSigner, items ...string) {
	leaves := make([]hexutil.Bytes, len(items))
	for i, item := range items {
		leaves[i] = []byte(item)
	}
	w := do(t, n, http.MethodPost, "/account/init", signedBody(t, signer, types.ActionInitialize, 0, types.InitializeRequest{Leaves: leaves}))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func accountLeaves(t *testing.T, n *Node) []hexutil.Bytes {
	w := do(t, n, http.MethodGet, "/account", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp types.AccountResponse
	decode(t, w, &resp)
	return resp.Leaves
}

func TestHandleInitialize(t *testing.T) {
	n := newTestNode(t, Config{})
	owner := newTestSigner(t)

	t.Run("Method not allowed", func(t *testing.T) {
		w := do(t, n, http.MethodGet, "/account/init", nil)
		require.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})

	t.Run("Invalid JSON", func(t *testing.T) {
		w := do(t, n, http.MethodPost, "/account/init", []byte("invalid json"))
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Signer becomes owner", func(t *testing.T) {
		initAccount(t, n, owner, "a", "b", "c")

		w := do(t, n, http.MethodGet, "/account", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp types.AccountResponse
		decode(t, w, &resp)
		require.Equal(t, owner.Address(), resp.Owner)
		require.Equal(t, uint64(0), resp.Value)
		require.Equal(t, uint64(3), resp.LeafCount)
		require.Equal(t, uint64(1), resp.Nonce)
		require.Equal(t, hexutil.Bytes("c"), resp.Leaves[2])
	})

	t.Run("Already initialized", func(t *testing.T) {
		w := do(t, n, http.MethodPost, "/account/init", signedBody(t, newTestSigner(t), types.ActionInitialize, 0, types.InitializeRequest{}))
		require.Equal(t, http.StatusConflict, w.Code)
	})
}

func TestHandleAddLeaf(t *testing.T) {
	n := newTestNode(t, Config{})
	owner := newTestSigner(t)
	initAccount(t, n, owner, "a")

	t.Run("Owner appends", func(t *testing.T) {
		w := do(t, n, http.MethodPost, "/account/leaf", signedBody(t, owner, types.ActionAddLeaf, 1, types.AddLeafRequest{Leaf: []byte("b")}))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var resp types.AddLeafResponse
		decode(t, w, &resp)
		require.Equal(t, uint64(1), resp.Index)
		require.Equal(t, uint64(2), resp.LeafCount)
		require.Equal(t, uint64(2), resp.Nonce)

		expected, err := merkle.BuildMerkleTree([][]byte{[]byte("a"), []byte("b")})
		require.NoError(t, err)
		require.Equal(t, expected.Root, resp.Root)
	})

	t.Run("Non-owner forbidden", func(t *testing.T) {
		w := do(t, n, http.MethodPost, "/account/leaf", signedBody(t, newTestSigner(t), types.ActionAddLeaf, 2, types.AddLeafRequest{Leaf: []byte("x")}))
		require.Equal(t, http.StatusForbidden, w.Code)

		var resp types.ErrorResponse
		decode(t, w, &resp)
		require.NotEmpty(t, resp.RequestID)
	})

	t.Run("Tampered payload unauthorized", func(t *testing.T) {
		var msg map[string]interface{}
		require.NoError(t, json.Unmarshal(signedBody(t, owner, types.ActionAddLeaf, 2, types.AddLeafRequest{Leaf: []byte("b")}), &msg))
		forged, err := json.Marshal(types.SignedRequest{
			Action: types.ActionAddLeaf,
			Nonce:  2,
			Expiry: time.Now().Add(time.Minute).Unix(),
			Body:   json.RawMessage(`{"leaf":"0xff"}`),
		})
		require.NoError(t, err)
		msg["payload"] = forged
		body, err := json.Marshal(msg)
		require.NoError(t, err)

		w := do(t, n, http.MethodPost, "/account/leaf", body)
		require.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestSignedRequestReplay(t *testing.T) {
	n := newTestNode(t, Config{})
	owner := newTestSigner(t)

	initBody := signedBody(t, owner, types.ActionInitialize, 0, types.InitializeRequest{Leaves: []hexutil.Bytes{[]byte("a")}})
	require.Equal(t, http.StatusCreated, do(t, n, http.MethodPost, "/account/init", initBody).Code)

	t.Run("Init envelope posted to another endpoint", func(t *testing.T) {
		w := do(t, n, http.MethodPost, "/account/leaf", initBody)
		require.Equal(t, http.StatusUnauthorized, w.Code, w.Body.String())

		w = do(t, n, http.MethodPost, "/account/value", initBody)
		require.Equal(t, http.StatusUnauthorized, w.Code, w.Body.String())

		require.Equal(t, []hexutil.Bytes{[]byte("a")}, accountLeaves(t, n))
	})

	t.Run("Same add-leaf envelope posted twice", func(t *testing.T) {
		body := signedBody(t, owner, types.ActionAddLeaf, 1, types.AddLeafRequest{Leaf: []byte("b")})
		require.Equal(t, http.StatusOK, do(t, n, http.MethodPost, "/account/leaf", body).Code)

		for i := 0; i < 3; i++ {
			w := do(t, n, http.MethodPost, "/account/leaf", body)
			require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
		}

		require.Equal(t, []hexutil.Bytes{[]byte("a"), []byte("b")}, accountLeaves(t, n))
	})

	t.Run("Set-value envelope replayed after a later update", func(t *testing.T) {
		first := signedBody(t, newTestSigner(t), types.ActionSetValue, 2, types.SetValueRequest{Value: 1, Index: 0, Hash: merkle.HashLeaf([]byte("a"))})
		require.Equal(t, http.StatusOK, do(t, n, http.MethodPost, "/account/value", first).Code)

		second := signedBody(t, newTestSigner(t), types.ActionSetValue, 3, types.SetValueRequest{Value: 2, Index: 0, Hash: merkle.HashLeaf([]byte("a"))})
		require.Equal(t, http.StatusOK, do(t, n, http.MethodPost, "/account/value", second).Code)

		require.Equal(t, http.StatusConflict, do(t, n, http.MethodPost, "/account/value", first).Code)

		var resp types.AccountResponse
		decode(t, do(t, n, http.MethodGet, "/account", nil), &resp)
		require.Equal(t, uint64(2), resp.Value)
	})

	t.Run("Expired envelope", func(t *testing.T) {
		body := signedBodyExpiring(t, owner, types.ActionAddLeaf, 4, time.Now().Add(-time.Second), types.AddLeafRequest{Leaf: []byte("c")})
		require.Equal(t, http.StatusUnauthorized, do(t, n, http.MethodPost, "/account/leaf", body).Code)
	})

	t.Run("Expiry too far ahead", func(t *testing.T) {
		body := signedBodyExpiring(t, owner, types.ActionAddLeaf, 4, time.Now().Add(2*MaxSignedRequestLifetime), types.AddLeafRequest{Leaf: []byte("c")})
		require.Equal(t, http.StatusUnauthorized, do(t, n, http.MethodPost, "/account/leaf", body).Code)
	})

	t.Run("Unknown body fields rejected", func(t *testing.T) {
		body := signedBody(t, owner, types.ActionAddLeaf, 4, types.InitializeRequest{Leaves: []hexutil.Bytes{[]byte("c")}})
		require.Equal(t, http.StatusBadRequest, do(t, n, http.MethodPost, "/account/leaf", body).Code)
	})

	require.Equal(t, []hexutil.Bytes{[]byte("a"), []byte("b")}, accountLeaves(t, n))
}

func TestAccountCapacity(t *testing.T) {
	n := newTestNode(t, Config{MaxLeaves: 2, MaxLeafBytes: 8})
	owner := newTestSigner(t)
	initAccount(t, n, owner, "a")

	w := do(t, n, http.MethodPost, "/account/leaf", signedBody(t, owner, types.ActionAddLeaf, 1, types.AddLeafRequest{Leaf: []byte("123456789")}))
	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code, w.Body.String())

	w = do(t, n, http.MethodPost, "/account/leaf", signedBody(t, owner, types.ActionAddLeaf, 1, types.AddLeafRequest{Leaf: []byte("b")}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, n, http.MethodPost, "/account/leaf", signedBody(t, owner, types.ActionAddLeaf, 2, types.AddLeafRequest{Leaf: []byte("c")}))
	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code, w.Body.String())

	require.Equal(t, []hexutil.Bytes{[]byte("a"), []byte("b")}, accountLeaves(t, n))
}

func TestHandleSetValue(t *testing.T) {
	n := newTestNode(t, Config{})
	owner := newTestSigner(t)
	initAccount(t, n, owner, "a", "b", "c")

	caller := newTestSigner(t)

	w := do(t, n, http.MethodPost, "/account/value", signedBody(t, caller, types.ActionSetValue, 1, types.SetValueRequest{
		Value: 42,
		Index: 2,
		Hash:  merkle.HashLeaf([]byte("x")),
	}))
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = do(t, n, http.MethodPost, "/account/value", signedBody(t, caller, types.ActionSetValue, 1, types.SetValueRequest{
		Value: 42,
		Index: 2,
		Hash:  merkle.HashLeaf([]byte("c")),
	}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp types.AccountResponse
	decode(t, w, &resp)
	require.Equal(t, uint64(42), resp.Value)
	require.Equal(t, uint64(2), resp.Nonce)
	require.Equal(t, uint64(3), resp.LeafCount)
}

func TestHandleReads(t *testing.T) {
	n := newTestNode(t, Config{})

	t.Run("Not initialized", func(t *testing.T) {
		require.Equal(t, http.StatusNotFound, do(t, n, http.MethodGet, "/account", nil).Code)
		require.Equal(t, http.StatusNotFound, do(t, n, http.MethodGet, "/root", nil).Code)
	})

	initAccount(t, n, newTestSigner(t), "a", "b", "c")
	expected, err := merkle.BuildMerkleTree([][]byte{[]byte("a"), []byte("b"), []byte("c")})
	require.NoError(t, err)

	t.Run("Root", func(t *testing.T) {
		w := do(t, n, http.MethodGet, "/root", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp types.RootResponse
		decode(t, w, &resp)
		require.Equal(t, expected.Root, resp.Root)
		require.Equal(t, uint64(3), resp.LeafCount)
		require.Equal(t, merkle.HashTypeKeccak256, resp.HashType)
	})

	t.Run("Proof", func(t *testing.T) {
		w := do(t, n, http.MethodGet, "/proof?index=2", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp types.ProofResponse
		decode(t, w, &resp)
		require.Len(t, resp.Proof.Steps, 1)
		require.True(t, merkle.VerifyProof(resp.Proof, merkle.HashLeaf([]byte("c")), resp.Root))
	})

	t.Run("Proof bad index", func(t *testing.T) {
		require.Equal(t, http.StatusBadRequest, do(t, n, http.MethodGet, "/proof?index=-1", nil).Code)
		require.Equal(t, http.StatusBadRequest, do(t, n, http.MethodGet, "/proof", nil).Code)
		require.Equal(t, http.StatusNotFound, do(t, n, http.MethodGet, "/proof?index=3", nil).Code)
	})

	t.Run("Verify", func(t *testing.T) {
		body, err := json.Marshal(types.VerifyRequest{Index: 1, Hash: merkle.HashLeaf([]byte("b"))})
		require.NoError(t, err)
		w := do(t, n, http.MethodPost, "/proof/verify", body)
		require.Equal(t, http.StatusOK, w.Code)

		var resp types.VerifyResponse
		decode(t, w, &resp)
		require.True(t, resp.Valid)
		require.Equal(t, expected.Root, resp.Root)

		body, err = json.Marshal(types.VerifyRequest{Index: 1, Hash: merkle.HashLeaf([]byte("a"))})
		require.NoError(t, err)
		decode(t, do(t, n, http.MethodPost, "/proof/verify", body), &resp)
		require.False(t, resp.Valid)
	})

	t.Run("Health", func(t *testing.T) {
		require.Equal(t, http.StatusOK, do(t, n, http.MethodGet, "/health", nil).Code)
	})
}

func TestHashTypeSelection(t *testing.T) {
	n := newTestNode(t, Config{HashType: merkle.HashTypeSHA256})
	initAccount(t, n, newTestSigner(t), "a", "b")

	hasher, err := merkle.NewHasher(merkle.HashTypeSHA256)
	require.NoError(t, err)
	expected, err := merkle.BuildMerkleTreeWithHasher(hasher, [][]byte{[]byte("a"), []byte("b")})
	require.NoError(t, err)

	var resp types.RootResponse
	decode(t, do(t, n, http.MethodGet, "/root", nil), &resp)
	require.Equal(t, expected.Root, resp.Root)
	require.Equal(t, merkle.HashTypeSHA256, resp.HashType)

	_, err = NewNode(Config{HashType: "md5", Logger: zaptest.NewLogger(t)}, memory.NewMemoryPersistence())
	require.Error(t, err)

	// The stored account pins the hash type
	_, err = NewNode(Config{HashType: merkle.HashTypeKeccak256, Logger: zaptest.NewLogger(t)}, n.Persistence())
	require.ErrorIs(t, err, ledger.ErrHashTypeMismatch)
	_, err = NewNode(Config{HashType: merkle.HashTypeSHA256, Logger: zaptest.NewLogger(t)}, n.Persistence())
	require.NoError(t, err)
}

func TestRateLimit(t *testing.T) {
	n := newTestNode(t, Config{RateLimit: 0.001, RateBurst: 1})
	owner := newTestSigner(t)
	initAccount(t, n, owner, "a")

	w := do(t, n, http.MethodPost, "/account/leaf", signedBody(t, owner, types.ActionAddLeaf, 1, types.AddLeafRequest{Leaf: []byte("b")}))
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	// Reads are not limited
	require.Equal(t, http.StatusOK, do(t, n, http.MethodGet, "/root", nil).Code)
}

func TestRequestID(t *testing.T) {
	n := newTestNode(t, Config{})

	w := do(t, n, http.MethodGet, "/health", nil)
	_, err := uuid.Parse(w.Header().Get(RequestIDHeader))
	require.NoError(t, err)

	id := uuid.New().String()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, id)
	rec := httptest.NewRecorder()
	n.GetServer().GetHandler().ServeHTTP(rec, req)
	require.Equal(t, id, rec.Header().Get(RequestIDHeader))
}

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"github.com/Layr-Labs/merkle-verify-go/pkg/merkle"
	"github.com/Layr-Labs/merkle-verify-go/pkg/transportSigner"
	"github.com/Layr-Labs/merkle-verify-go/pkg/types"
)

// RetryConfig configures retry behavior
type RetryConfig struct {
	MaxAttempts     int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	BackoffMultiple float64
}

// DefaultRetryConfig provides default retry settings
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:     5,
	InitialBackoff:  100 * time.Millisecond,
	MaxBackoff:      5 * time.Second,
	BackoffMultiple: 2.0,
}

const requestIDHeader = "X-Request-ID"

// DefaultSignedRequestTTL is how long a signed request stays valid after signing
const DefaultSignedRequestTTL = 2 * time.Minute

// ErrNoSigner is returned by mutating calls on a client built without a signer
var ErrNoSigner = errors.New("client has no transport signer")

// APIError is a non-2xx response from the server
type APIError struct {
	StatusCode int
	Message    string
	RequestID  string
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("server returned %d: %s (request %s)", e.StatusCode, e.Message, e.RequestID)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// retryable reports whether the request may be sent again. A signed mutation
// may have been applied before a 5xx, so only 429 is retried for those.
func (e *APIError) retryable(idempotent bool) bool {
	if e.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return idempotent && e.StatusCode >= http.StatusInternalServerError
}

// MerkleClient talks to a merkle ledger node
type MerkleClient struct {
	baseURL     string
	signer      transportSigner.ITransportSigner
	httpClient  *http.Client
	retryConfig RetryConfig
	signedTTL   time.Duration
	logger      *zap.Logger
}

// NewMerkleClient creates a client for the node at baseURL. signer may be nil
// for read-only use.
func NewMerkleClient(baseURL string, signer transportSigner.ITransportSigner, logger *zap.Logger) *MerkleClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MerkleClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		signer:      signer,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		retryConfig: DefaultRetryConfig,
		signedTTL:   DefaultSignedRequestTTL,
		logger:      logger,
	}
}

// SetRetryConfig overrides the retry settings
func (c *MerkleClient) SetRetryConfig(cfg RetryConfig) {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	c.retryConfig = cfg
}

// SetSignedRequestTTL overrides how long signed requests stay valid
func (c *MerkleClient) SetSignedRequestTTL(ttl time.Duration) {
	c.signedTTL = ttl
}

// SetHTTPClient overrides the underlying HTTP client
func (c *MerkleClient) SetHTTPClient(httpClient *http.Client) {
	c.httpClient = httpClient
}

// Initialize creates the account. The signer becomes the owner.
func (c *MerkleClient) Initialize(ctx context.Context, leaves [][]byte) (*types.AccountResponse, error) {
	req := types.InitializeRequest{Leaves: make([]hexutil.Bytes, len(leaves))}
	for i, leaf := range leaves {
		req.Leaves[i] = leaf
	}

	var resp types.AccountResponse
	if err := c.postSigned(ctx, "/account/init", types.ActionInitialize, 0, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AddLeaf appends a leaf. The signer must be the owner. The nonce is read from
// the node first; a concurrent mutation makes the call fail with 409.
func (c *MerkleClient) AddLeaf(ctx context.Context, leaf []byte) (*types.AddLeafResponse, error) {
	nonce, err := c.nextNonce(ctx)
	if err != nil {
		return nil, err
	}

	var resp types.AddLeafResponse
	if err := c.postSigned(ctx, "/account/leaf", types.ActionAddLeaf, nonce, types.AddLeafRequest{Leaf: leaf}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SetValue asks the node to store value if hash is the leaf hash at index
func (c *MerkleClient) SetValue(ctx context.Context, value uint64, index uint64, hash merkle.Hash) (*types.AccountResponse, error) {
	nonce, err := c.nextNonce(ctx)
	if err != nil {
		return nil, err
	}
	req := types.SetValueRequest{Value: value, Index: index, Hash: hash}

	var resp types.AccountResponse
	if err := c.postSigned(ctx, "/account/value", types.ActionSetValue, nonce, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *MerkleClient) nextNonce(ctx context.Context) (uint64, error) {
	if c.signer == nil {
		return 0, ErrNoSigner
	}
	account, err := c.GetAccount(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read account nonce: %w", err)
	}
	return account.Nonce, nil
}

func (c *MerkleClient) GetAccount(ctx context.Context) (*types.AccountResponse, error) {
	var resp types.AccountResponse
	if err := c.do(ctx, http.MethodGet, "/account", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *MerkleClient) GetRoot(ctx context.Context) (*types.RootResponse, error) {
	var resp types.RootResponse
	if err := c.do(ctx, http.MethodGet, "/root", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *MerkleClient) GetProof(ctx context.Context, index uint64) (*types.ProofResponse, error) {
	var resp types.ProofResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/proof?index=%d", index), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// VerifyRemote asks the node whether hash is the leaf hash at index
func (c *MerkleClient) VerifyRemote(ctx context.Context, index uint64, hash merkle.Hash) (*types.VerifyResponse, error) {
	body, err := json.Marshal(types.VerifyRequest{Index: index, Hash: hash})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var resp types.VerifyResponse
	if err := c.do(ctx, http.MethodPost, "/proof/verify", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// VerifyLeaf fetches the proof for index and checks leaf against it locally,
// using the hash function the node reports.
func (c *MerkleClient) VerifyLeaf(ctx context.Context, index uint64, leaf []byte) (bool, error) {
	proof, err := c.GetProof(ctx, index)
	if err != nil {
		return false, err
	}

	hasher, err := merkle.NewHasher(proof.HashType)
	if err != nil {
		return false, fmt.Errorf("node uses unknown hash type: %w", err)
	}

	return merkle.VerifyProofWithHasher(hasher, proof.Proof, hasher.HashLeaf(leaf), proof.Root), nil
}

// Health returns nil if the node and its persistence are healthy
func (c *MerkleClient) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *MerkleClient) postSigned(ctx context.Context, path, action string, nonce uint64, req interface{}, out interface{}) error {
	if c.signer == nil {
		return ErrNoSigner
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	payload, err := json.Marshal(types.SignedRequest{
		Action: action,
		Nonce:  nonce,
		Expiry: time.Now().Add(c.signedTTL).Unix(),
		Body:   body,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal signed request: %w", err)
	}

	authMsg, err := c.signer.CreateAuthenticatedMessage(payload)
	if err != nil {
		return fmt.Errorf("failed to create authenticated message: %w", err)
	}

	data, err := json.Marshal(authMsg)
	if err != nil {
		return fmt.Errorf("failed to marshal authenticated message: %w", err)
	}

	return c.send(ctx, http.MethodPost, path, data, out, false)
}

// do sends an idempotent request with retries on transport errors, 429 and 5xx
func (c *MerkleClient) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	return c.send(ctx, method, path, body, out, true)
}

// send retries non-idempotent requests only on 429, which the node answers
// before touching the ledger.
func (c *MerkleClient) send(ctx context.Context, method, path string, body []byte, out interface{}, idempotent bool) error {
	url := c.baseURL + path

	var lastErr error
	backoff := c.retryConfig.InitialBackoff
	for attempt := 0; attempt < c.retryConfig.MaxAttempts; attempt++ {
		lastErr = c.sendOnce(ctx, method, url, body, out)
		if lastErr == nil {
			return nil
		}

		var apiErr *APIError
		isAPIErr := errors.As(lastErr, &apiErr)
		if isAPIErr && !apiErr.retryable(idempotent) {
			return lastErr
		}
		if !isAPIErr && !idempotent {
			return lastErr
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if attempt < c.retryConfig.MaxAttempts-1 {
			c.logger.Sugar().Debugw("Retrying request",
				"method", method,
				"url", url,
				"attempt", attempt+1,
				"error", lastErr,
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff = time.Duration(float64(backoff) * c.retryConfig.BackoffMultiple)
			if backoff > c.retryConfig.MaxBackoff {
				backoff = c.retryConfig.MaxBackoff
			}
		}
	}

	return fmt.Errorf("request %s %s failed after %d attempts: %w", method, path, c.retryConfig.MaxAttempts, lastErr)
}

func (c *MerkleClient) sendOnce(ctx context.Context, method, url string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			RequestID:  resp.Header.Get(requestIDHeader),
		}
		var errResp types.ErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			apiErr.Message = errResp.Error
		} else {
			apiErr.Message = strings.TrimSpace(string(respBody))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

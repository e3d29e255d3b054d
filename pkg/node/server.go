package node

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

/*
Server exposes the ledger over HTTP.

Mutating endpoints take a transportSigner.SignedMessage whose payload is a
types.SignedRequest. Its action must name the endpoint, its expiry must lie
within MaxSignedRequestLifetime from now and its nonce must equal the
account nonce (0 for init). The recovered signer is the caller identity:
  POST /account/init:   body InitializeRequest, signer becomes the owner
  POST /account/leaf:   body AddLeafRequest, signer must be the owner
  POST /account/value:  body SetValueRequest, value stored only if the
                        claimed hash is proven at the index of the current tree

A stale or reused nonce answers 409, a full account 413.

Read endpoints:
  GET  /account         AccountResponse
  GET  /root            RootResponse
  GET  /proof?index=N   ProofResponse
  POST /proof/verify    VerifyRequest -> VerifyResponse, no state change
  GET  /health          persistence health

Mutating endpoints share one token bucket and answer 429 when it is empty.
Every response carries an X-Request-ID header.
*/

const (
	RequestIDHeader = "X-Request-ID"

	// MaxSignedRequestLifetime bounds how far ahead a signed request may expire
	MaxSignedRequestLifetime = 10 * time.Minute

	maxRequestBodyBytes = 1 << 20
	shutdownTimeout     = 5 * time.Second
)

type requestIDKey struct{}

// Server handles HTTP requests for the node
type Server struct {
	node       *Node
	httpServer *http.Server
	now        func() time.Time
}

// NewServer creates a new server instance
func NewServer(node *Node, port int) *Server {
	s := &Server{
		node: node,
		now:  time.Now,
	}

	mux := http.NewServeMux()

	// Signed mutations
	mux.HandleFunc("/account/init", s.rateLimited(s.handleInitialize))
	mux.HandleFunc("/account/leaf", s.rateLimited(s.handleAddLeaf))
	mux.HandleFunc("/account/value", s.rateLimited(s.handleSetValue))

	// Reads
	mux.HandleFunc("/account", s.handleGetAccount)
	mux.HandleFunc("/root", s.handleGetRoot)
	mux.HandleFunc("/proof", s.handleGetProof)
	mux.HandleFunc("/proof/verify", s.handleVerifyProof)
	mux.HandleFunc("/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.withRequestID(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	go func() {
		s.node.logger.Sugar().Infow("Starting HTTP server", "port", s.httpServer.Addr, "hash_type", s.node.HashType)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.node.logger.Sugar().Errorw("HTTP server error", "error", err)
		}
	}()
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
	}
	return s.httpServer.Shutdown(ctx)
}

// GetHandler returns the HTTP handler (for testing)
func (s *Server) GetHandler() http.Handler {
	return s.httpServer.Handler
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withRequestID tags every request with an ID and logs its outcome
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(requestID); err != nil {
			requestID = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, requestID)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, requestID)))

		s.node.logger.Sugar().Debugw("Handled request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.node.limiter.Allow() {
			s.writeError(w, r, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r)
	}
}

func requestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

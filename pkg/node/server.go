package node

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/umbra-labs/shieldpool-go/pkg/auth"
	"github.com/umbra-labs/shieldpool-go/pkg/pool"
)

/*
Server fronts the shielded pool service over HTTP.

Client Request Flow:
  POST /v1/deposit:
    - Request: { asset_id, commitment, depositor }
    - Admits the commitment, assigns the next leaf index, republishes the root
    - Response: { request_id, leaf_index, new_root }

  POST /v1/withdraw:
    - Request: { asset_id, proof, root, nullifier_hash, recipient, fee,
      refund, relayer, dest_chain_hash? }
    - Rebuilds the public statement, verifies the proof, commits atomically
    - Response: { request_id, nullifier_hash, recipient, amount, fee, refund }

  GET /v1/root?asset= | /v1/roots?asset=:
    - Current root (with leaf count) and the retained history, oldest first

  GET /v1/spent?asset=&nullifier=:
    - Nullifier freshness; relayers poll this before submitting

  GET /v1/path?asset=&index=:
    - Merkle membership path for a deposited leaf, as fed to the prover

  GET /v1/assets, GET /v1/healthz

Admin Flow (bearer JWT, enabled when a verifier is wired):
  POST /v1/admin/verifying-key: one-time Groth16 verifying key install
  POST /v1/admin/assets: register a new fixed-denomination asset

Rate limiting:
  - Mutating endpoints draw from a per-client token bucket; reads are
    not limited.

Every request is tagged with a UUID request id, carried through logs and
error envelopes.
*/

// Server handles HTTP requests for the node
type Server struct {
	service    *pool.Service
	adminAuth  *auth.Verifier
	logger     *zap.SugaredLogger
	httpServer *http.Server
	limits     *clientLimits
}

// ServerConfig carries the HTTP-facing settings.
type ServerConfig struct {
	Port           int
	RateLimitRPS   float64
	RateLimitBurst int
}

// NewServer creates a new server instance. A nil adminAuth disables the
// admin endpoints.
func NewServer(service *pool.Service, adminAuth *auth.Verifier, cfg *ServerConfig, logger *zap.Logger) (*Server, error) {
	if service == nil {
		return nil, fmt.Errorf("service cannot be nil")
	}
	if cfg == nil {
		return nil, fmt.Errorf("server config cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("port must be between 1-65535, got %d", cfg.Port)
	}

	s := &Server{
		service:   service,
		adminAuth: adminAuth,
		logger:    logger.Sugar().With("component", "http_server"),
	}
	if cfg.RateLimitRPS > 0 {
		s.limits = newClientLimits(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}

	mux := http.NewServeMux()

	// Pool endpoints
	mux.HandleFunc("/v1/deposit", s.handleDeposit)
	mux.HandleFunc("/v1/withdraw", s.handleWithdraw)

	// Read endpoints
	mux.HandleFunc("/v1/root", s.handleRoot)
	mux.HandleFunc("/v1/roots", s.handleRoots)
	mux.HandleFunc("/v1/spent", s.handleSpent)
	mux.HandleFunc("/v1/path", s.handlePath)
	mux.HandleFunc("/v1/assets", s.handleAssets)
	mux.HandleFunc("/v1/healthz", s.handleHealthz)

	// Admin endpoints
	mux.HandleFunc("/v1/admin/verifying-key", s.handleInstallVerifyingKey)
	mux.HandleFunc("/v1/admin/assets", s.handleRegisterAsset)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: mux,
	}

	return s, nil
}

// Start starts the HTTP server
func (s *Server) Start() error {
	go func() {
		s.logger.Infow("Starting HTTP server", "addr", s.httpServer.Addr, "admin_enabled", s.adminAuth != nil)
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Errorw("HTTP server error", "error", err)
		}
	}()
	return nil
}

// Stop drains in-flight requests and stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Infow("Stopping HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// GetHandler returns the HTTP handler (for testing)
func (s *Server) GetHandler() http.Handler {
	return s.httpServer.Handler
}

// Package server exposes the ledger over HTTP for a trusted gateway.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/marginpool/internal/domain"
	"github.com/alanyoungcy/marginpool/internal/server/handler"
	"github.com/alanyoungcy/marginpool/internal/server/middleware"
	"github.com/alanyoungcy/marginpool/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey is a comma-separated list of accepted gateway keys; empty
	// disables authentication.
	APIKey string
	// RateLimit is requests per client per RateWindow; zero disables it.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health *handler.HealthHandler
	Pools  *handler.PoolHandler
	Router *handler.RouterHandler
	Vaults *handler.VaultHandler
	Fees   *handler.FeeHandler
	Events *handler.EventHandler
	// Audit is nil without an audit store.
	Audit *handler.AuditHandler
}

// Server is the headless HTTP + WebSocket API server for the ledger.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (rate limit, auth, logging, CORS) and attaches the
// WebSocket hub. limiter and registry may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, registry *prometheus.Registry, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check and metrics (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	if registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	// Position ledger.
	mux.HandleFunc("GET /api/pools", handlers.Pools.ListPools)
	mux.HandleFunc("POST /api/pools/{pool}/open", handlers.Pools.Open)
	mux.HandleFunc("POST /api/pools/{pool}/open-and-stake", handlers.Pools.OpenAndStake)
	mux.HandleFunc("POST /api/pools/{pool}/close", handlers.Pools.Close)
	mux.HandleFunc("POST /api/pools/{pool}/liquidate", handlers.Pools.Liquidate)
	mux.HandleFunc("POST /api/pools/{pool}/claim", handlers.Pools.Claim)
	mux.HandleFunc("POST /api/pools/{pool}/stake", handlers.Pools.Stake)
	mux.HandleFunc("POST /api/pools/{pool}/add-collateral", handlers.Pools.AddCollateral)
	mux.HandleFunc("POST /api/pools/{pool}/migrate", handlers.Pools.Migrate)

	// Router.
	mux.HandleFunc("POST /api/router/open", handlers.Router.Open)
	mux.HandleFunc("POST /api/router/swap", handlers.Router.Swap)

	// Vaults.
	mux.HandleFunc("GET /api/vaults", handlers.Vaults.ListVaults)
	mux.HandleFunc("POST /api/vaults/{asset}/deposit", handlers.Vaults.Deposit)
	mux.HandleFunc("POST /api/vaults/{asset}/withdraw", handlers.Vaults.Withdraw)
	mux.HandleFunc("POST /api/vaults/{asset}/boost", handlers.Vaults.Boost)

	// Partner fees.
	mux.HandleFunc("POST /api/fees/claim", handlers.Fees.Claim)
	mux.HandleFunc("GET /api/fees/{partner}", handlers.Fees.Balances)

	// Event log.
	mux.HandleFunc("GET /api/events", handlers.Events.ListEvents)
	if handlers.Audit != nil {
		mux.HandleFunc("GET /api/audit", handlers.Audit.ListAudit)
	}

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateWindow
		if window <= 0 {
			window = time.Second
		}
		h = middleware.RateLimit(limiter, cfg.RateLimit, window, logger)(h)
	}

	// Apply auth middleware (skips if APIKey is empty).
	h = middleware.Auth(middleware.SplitKeys(cfg.APIKey), "/api/health", "/metrics")(h)

	// Apply request logging middleware.
	h = middleware.Logging(logger, "/api/health", "/metrics")(h)

	// Apply CORS middleware.
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

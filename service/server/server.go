package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/flashtrade/service/authority"
	"github.com/brojonat/flashtrade/service/config"
	"github.com/brojonat/flashtrade/service/db"
	"github.com/brojonat/flashtrade/service/metrics"
	"github.com/brojonat/flashtrade/service/temporal"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ExecutionStore is the read side of the execution history.
type ExecutionStore interface {
	GetExecution(ctx context.Context, id string) (*db.Execution, error)
	ListExecutions(ctx context.Context, params db.ListExecutionsParams) ([]*db.Execution, error)
	Ping(ctx context.Context) error
}

// TradeStarter starts trade workflows. *temporal.Client implements it.
type TradeStarter interface {
	StartTrade(ctx context.Context, executionID string, req temporal.TradeRequest) (workflowID, runID string, err error)
}

// Server represents the HTTP server for the trade service.
type Server struct {
	addr      string
	cfg       *config.Config
	store     ExecutionStore
	trades    TradeStarter
	authority authority.Authority
	metrics   *metrics.Metrics
	logger    *slog.Logger
	server    *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The metrics is optional - if nil, the metrics endpoint won't be available.
func New(addr string, cfg *config.Config, store ExecutionStore, trades TradeStarter, auth authority.Authority, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:      addr,
		cfg:       cfg,
		store:     store,
		trades:    trades,
		authority: auth,
		metrics:   m,
		logger:    logger,
	}
}

// Handler builds the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	route := func(pattern, name string, h http.Handler) {
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(s.metrics, name)(h))
	}

	// Trade routes
	route("POST /api/v1/trades", "/api/v1/trades", handleSubmitTrade(s.trades, s.cfg, s.logger))
	route("GET /api/v1/trades/{id}", "/api/v1/trades/{id}", handleGetTrade(s.store, s.logger))
	route("GET /api/v1/trades", "/api/v1/trades", handleListTrades(s.store, s.logger))
	route("GET /api/v1/authority", "/api/v1/authority", handleGetAuthority(s.authority, s.cfg))

	// Health check endpoint
	mux.Handle("GET /health", handleHealth(s.store, s.logger))

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return corsMiddleware(mux)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	if s.metrics != nil {
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server",
		"addr", s.addr,
		"loan_authority", s.authority.Address.String(),
	)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Package server hosts the HTTP API: inbound webhooks from the bank rail,
// the exchange and the custody watcher, read endpoints over the settlement
// records, Prometheus metrics and the WebSocket event stream.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/netzerhq/settler/internal/domain"
	"github.com/netzerhq/settler/internal/server/handler"
	"github.com/netzerhq/settler/internal/server/middleware"
	"github.com/netzerhq/settler/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// WebhookRateLimit caps webhook deliveries per client IP per minute.
	// Zero disables the limiter.
	WebhookRateLimit int
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health   *handler.HealthHandler
	Webhooks *handler.WebhookHandler
	Records  *handler.RecordsHandler
	Balances *handler.BalanceHandler
}

// Server is the HTTP + WebSocket API server for the settlement daemon.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth, webhook rate limiting) and
// attaches the WebSocket hub. limiter may be nil when rate limiting is off.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// --- Register routes ---

	// Health check and metrics (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Inbound webhooks. Rate limited per source IP when configured.
	var webhookWrap func(http.Handler) http.Handler
	if limiter != nil && cfg.WebhookRateLimit > 0 {
		webhookWrap = middleware.RateLimit(limiter, cfg.WebhookRateLimit, time.Minute)
	} else {
		webhookWrap = func(next http.Handler) http.Handler { return next }
	}
	webhook := func(fn http.HandlerFunc) http.Handler { return webhookWrap(fn) }

	mux.Handle("POST /webhooks/stitch", webhook(handlers.Webhooks.StitchDeposit))
	mux.Handle("POST /webhooks/valr/credit", webhook(handlers.Webhooks.ValrCredit))
	mux.Handle("POST /webhooks/valr/order", webhook(handlers.Webhooks.ValrOrder))
	mux.Handle("POST /webhooks/valr/withdrawal", webhook(handlers.Webhooks.ValrWithdrawal))
	mux.Handle("POST /webhooks/custody/deposit", webhook(handlers.Webhooks.CustodyDeposit))

	// Read endpoints over settlement records.
	mux.HandleFunc("GET /api/deposits", handlers.Records.ListDeposits)
	mux.HandleFunc("GET /api/deposits/{id}", handlers.Records.GetDeposit)
	mux.HandleFunc("GET /api/deposits/{id}/settlement", handlers.Records.GetDepositSettlement)
	mux.HandleFunc("GET /api/exchanges", handlers.Records.ListExchanges)
	mux.HandleFunc("GET /api/transfers", handlers.Records.ListTransfers)
	mux.HandleFunc("GET /api/credits/unmatched", handlers.Records.ListUnmatchedCredits)
	mux.HandleFunc("GET /api/audit", handlers.Records.ListAudit)

	// Venue balances.
	if handlers.Balances != nil {
		mux.HandleFunc("GET /api/valr/balances", handlers.Balances.ListBalances)
	}

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	// Apply auth middleware (skips if APIKey is empty).
	h = middleware.Auth(cfg.APIKey)(h)

	// Apply request logging middleware.
	h = middleware.Logging(logger)(h)

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

// Package api is the rally-sync HTTP server: authenticated row reads and
// writes per table plus a long-polling change feed.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/marcus/rally/internal/serverdb"
)

// Server is the HTTP API server for rally-sync.
type Server struct {
	config      Config
	http        *http.Server
	store       *serverdb.ServerDB
	metrics     *Metrics
	rateLimiter *RateLimiter
	cancel      context.CancelFunc
}

// NewServer creates a new Server with the given config and store.
func NewServer(cfg Config, store *serverdb.ServerDB) (*Server, error) {
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = 1000
	}
	s := &Server{
		config:      cfg,
		store:       store,
		metrics:     NewMetrics(),
		rateLimiter: NewRateLimiter(),
	}

	s.http = &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     s.routes(),
		ReadTimeout: 15 * time.Second,
		// Change feed requests block up to MaxFeedWait.
		WriteTimeout: cfg.MaxFeedWait + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Start begins listening for HTTP requests (non-blocking).
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("http server", "err", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("cleanup panic", "panic", r)
			}
		}()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.rateLimiter.Cleanup(); n > 0 {
					slog.Debug("dropped idle rate limit buckets", "count", n)
				}
			}
		}
	}()

	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	return s.http.Shutdown(ctx)
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// routes builds the HTTP handler with all routes and middleware.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Health & metrics
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /metricz", s.handleMetrics)

	mux.HandleFunc("GET /v1/me", s.requireAuth(s.withRateLimit(s.handleMe, s.config.RateLimitOther)))

	// Rows
	mux.HandleFunc("GET /v1/tables/{table}/rows", s.requireAuth(s.withRateLimit(s.handleQueryRows, s.config.RateLimitRead)))
	mux.HandleFunc("PUT /v1/tables/{table}/rows/{id}", s.requireAuth(s.withRateLimit(s.handlePutRow, s.config.RateLimitWrite)))
	mux.HandleFunc("DELETE /v1/tables/{table}/rows/{id}", s.requireAuth(s.withRateLimit(s.handleDeleteRow, s.config.RateLimitWrite)))
	mux.HandleFunc("GET /v1/tables/{table}/changes", s.requireAuth(s.withRateLimit(s.handleChanges, s.config.RateLimitRead)))

	return chain(mux, recoveryMiddleware, requestIDMiddleware, loggerMiddleware, metricsMiddleware(s.metrics), loggingMiddleware, maxBytesMiddleware(1<<20))
}

// handleHealth returns a health check response, pinging the server DB.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "detail": "db unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleMetrics returns a snapshot of server metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

// MeResponse identifies the caller.
type MeResponse struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user := getUserFromContext(r.Context())
	writeJSON(w, http.StatusOK, MeResponse{UserID: user.UserID, Email: user.Email})
}

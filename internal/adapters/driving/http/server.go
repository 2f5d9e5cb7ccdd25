package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/custodia-labs/sercha-retrieval/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-retrieval/internal/core/ports/driving"
)

// Pinger is a simple health check interface
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	router     *http.ServeMux
	version    string
	logger     *slog.Logger

	// Services
	authService      driving.AuthService
	retrievalService driving.RetrievalService
	syncService      driving.IndexSyncService

	// Infrastructure
	publisher driven.TaskPublisher // Optional: reindex requests go to the worker
	pingers   map[string]Pinger    // Readiness checks by dependency name
}

// Config holds server configuration
type Config struct {
	Host    string
	Port    int
	Version string
	Logger  *slog.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Host:    "0.0.0.0",
		Port:    8080,
		Version: "dev",
	}
}

// Services groups what the server drives
type Services struct {
	Auth      driving.AuthService
	Retrieval driving.RetrievalService
	Sync      driving.IndexSyncService
	Publisher driven.TaskPublisher
	Pingers   map[string]Pinger
}

// NewServer creates a new HTTP server
func NewServer(cfg Config, svc Services) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		router:           http.NewServeMux(),
		version:          cfg.Version,
		logger:           logger,
		authService:      svc.Auth,
		retrievalService: svc.Retrieval,
		syncService:      svc.Sync,
		publisher:        svc.Publisher,
		pingers:          svc.Pingers,
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.setupRoutes()
	return s
}

// Handler returns the router wrapped in the global middleware
func (s *Server) Handler() http.Handler {
	return NewRecoveryMiddleware(s.logger).Handler(
		NewCorrelationMiddleware(s.logger).Handler(s.router))
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	authMiddleware := NewAuthMiddleware(s.authService)

	// Health endpoints (no auth)
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /ready", s.handleReady)
	s.router.HandleFunc("GET /version", s.handleVersion)

	// Retrieval endpoints
	s.router.Handle("POST /api/v1/query",
		authMiddleware.Authenticate(http.HandlerFunc(s.handleQuery)))
	s.router.Handle("GET /api/v1/suggestions",
		authMiddleware.Authenticate(http.HandlerFunc(s.handleSuggestions)))
	s.router.Handle("POST /api/v1/conversations/{thread}",
		authMiddleware.Authenticate(http.HandlerFunc(s.handleStoreConversation)))

	// Sync endpoints
	s.router.Handle("GET /api/v1/sync/drift",
		authMiddleware.Authenticate(http.HandlerFunc(s.handleDrift)))
	s.router.Handle("POST /api/v1/sync/reindex",
		authMiddleware.Authenticate(http.HandlerFunc(s.handleReindex)))
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// Stop stops the server
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

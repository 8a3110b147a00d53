package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ignite/fan-automation/internal/auth"
	"github.com/ignite/fan-automation/internal/config"
)

// Server represents the API server
type Server struct {
	config      config.ServerConfig
	handler     http.Handler
	handlers    *Handlers
	server      *http.Server
	authManager *auth.AuthManager
}

// NewServer creates a new API server. health may be nil, in which case
// /health only reports liveness.
func NewServer(cfg config.ServerConfig, svc Services, authManager *auth.AuthManager, health *HealthChecker) *Server {
	handlers := NewHandlers(svc)
	router := SetupRoutes(handlers, authManager, health, cfg.AllowedOrigins)

	return &Server{
		config:      cfg,
		handler:     router,
		handlers:    handlers,
		authManager: authManager,
	}
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing
func (s *Server) Handler() http.Handler {
	return s.handler
}

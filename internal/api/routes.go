package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/fan-automation/internal/auth"
	"github.com/ignite/fan-automation/internal/config"
	"github.com/ignite/fan-automation/internal/metrics"
	"github.com/ignite/fan-automation/internal/pkg/httputil"
)

var defaultOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// SetupRoutes configures all API routes. Event ingestion and decisions are
// public; everything else under /api/v1 needs an authenticated actor.
func SetupRoutes(h *Handlers, authManager *auth.AuthManager, health *HealthChecker, origins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Timeout(30 * time.Second))

	if len(origins) == 0 {
		origins = defaultOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", VisitorHeader},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if health != nil {
		r.Get("/health", health.HandleHealth)
		r.Get("/health/live", health.HandleLiveness)
		r.Get("/health/ready", health.HandleReadiness)
	} else {
		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			httputil.OK(w, map[string]string{"status": "alive"})
		})
	}
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/events", h.HandleAppendEvent)
		r.Get("/decisions", h.HandleDecision)

		r.Group(func(r chi.Router) {
			if authManager == nil {
				authManager = auth.NewAuthManager(config.AuthConfig{})
			}
			r.Use(authManager.RequireAuth)

			r.Get("/events", h.HandleListEvents)
			r.Get("/stats/events", h.HandleEventStats)

			r.Route("/suppressions", func(r chi.Router) {
				r.Get("/", h.HandleListSuppressions)
				r.Get("/stats", h.HandleSuppressionStats)
				r.Post("/suppress", h.HandleSuppress)
				r.Post("/unsuppress", h.HandleUnsuppress)
				r.Get("/{recipient_id}", h.HandleSuppressionStatus)
			})

			r.Route("/actions", func(r chi.Router) {
				r.Get("/", h.HandleListActions)
				r.Get("/{id}", h.HandleGetAction)
			})
		})
	})

	return r
}

/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the bookkeeping UI
  5. RateLimit:  Token bucket per client IP (when enabled)
  6. Telemetry:  Span and RED metrics per route

ROUTE GROUPS:
  /api/rules/*          Rule validation and preview
  /api/series/*         Series lifecycle
  /api/obligations/*    Single obligations
  /api/runs/*           Generation journal
  /healthz              Liveness

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/Delmoro12/Elevalucro-BPO-sub001/observability"
)

// RouterOptions configures the middleware stack.
type RouterOptions struct {
	AllowedOrigins []string
	// RateLimiter is optional; nil disables rate limiting.
	RateLimiter *RateLimiter
}

// DefaultAllowedOrigins are the dev UI origins.
var DefaultAllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = DefaultAllowedOrigins
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		if opts.RateLimiter != nil {
			r.Use(opts.RateLimiter.Middleware)
		}
		r.Use(observability.Middleware())

		r.Route("/rules", func(r chi.Router) {
			r.Post("/validate", h.ValidateRule)
			r.Post("/preview", h.PreviewRule)
		})

		r.Route("/series", func(r chi.Router) {
			r.Post("/", h.CreateSeries)
			r.Get("/{id}", h.GetSeries)
			r.Patch("/{id}", h.UpdateSeries)
			r.Delete("/{id}", h.DeleteSeries)
			r.Get("/{id}/health", h.SeriesHealth)
			r.Post("/{id}/resume", h.ResumeSeries)
			r.Get("/{id}/calendar.ics", h.SeriesCalendar)
		})

		r.Route("/obligations", func(r chi.Router) {
			r.Get("/{id}", h.GetObligation)
			r.Post("/{id}/pay", h.PayObligation)
			r.Post("/{id}/cancel", h.CancelObligation)
		})

		r.Route("/runs", func(r chi.Router) {
			r.Get("/incomplete", h.ListIncompleteRuns)
		})
	})

	return r
}

/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for dashboards

ROUTE GROUPS:
  /api/kpis/*         Recomputation and stored results
  /api/insights       Rule-based insights
  /api/validation/*   Quality checks and their log
  /api/errors/*       Error log triage
  /api/pipeline/*     Validate-then-recompute
  /api/demo/*         Demo dataset (dev only)
  /metrics            Prometheus exposition
  /healthz            Liveness

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		// KPI routes
		r.Route("/kpis", func(r chi.Router) {
			r.Get("/", h.ListMetrics)
			r.Post("/recompute", h.RecomputeAll)
			r.Get("/{metric}", h.GetResults)
			r.Post("/{metric}/recompute", h.RecomputeMetric)
		})

		r.Get("/insights", h.GetInsights)

		// Validation routes
		r.Route("/validation", func(r chi.Router) {
			r.Post("/run", h.RunValidation)
			r.Post("/completeness", h.RunCompleteness)
			r.Get("/log", h.ListValidationLog)
		})

		// Error log routes
		r.Route("/errors", func(r chi.Router) {
			r.Get("/", h.ListErrors)
			r.Put("/{id}/status", h.UpdateErrorStatus)
		})

		r.Post("/pipeline/run", h.RunPipeline)
		r.Post("/demo/load", h.LoadDemo)
	})

	return r
}

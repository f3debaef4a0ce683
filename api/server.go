/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the dashboard frontend

ROUTE GROUPS:
  /api/ingest/*      Channel-typed batch ingestion
  /api/merge         Raw external sample merge
  /api/metrics/*     Canonical records and aggregates
  /api/anomalies/*   Anomaly list and verification
  /api/phases/*      Transitions, baselines, trends
  /api/sync/*        Connectivity, offline cache, replay
  /metrics           Prometheus scrape endpoint

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public; put
  this behind a gateway before exposing it outside the device mesh.

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
)

// NewRouter creates a new router with all routes configured. A nil
// metricsHandler skips the Prometheus scrape endpoint.
func NewRouter(h *Handler, metricsHandler http.Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Ingestion routes, one per channel
		r.Route("/ingest", func(r chi.Router) {
			r.Post("/products", h.IngestProducts)
			r.Post("/modalities", h.IngestModalities)
			r.Post("/inputs", h.IngestInputs)
			r.Post("/wearables", h.IngestWearables)
		})

		// Raw merge for external feeds
		r.Post("/merge", h.MergeExternal)

		// Metric query routes
		r.Route("/metrics", func(r chi.Router) {
			r.Get("/", h.ListMetrics)
			r.Post("/", h.IngestMetric)
			r.Get("/health-index", h.GetHealthIndex)
		})

		// Anomaly routes
		r.Route("/anomalies", func(r chi.Router) {
			r.Get("/", h.ListAnomalies)
			r.Post("/{id}/verify", h.VerifyAnomaly)
		})

		// Phase routes
		r.Route("/phases", func(r chi.Router) {
			r.Post("/transition", h.ProcessPhaseTransition)
			r.Get("/{id}/baseline", h.GetBaseline)
			r.Get("/{id}/trend", h.GetTrend)
		})

		// Sync and offline routes
		r.Route("/sync", func(r chi.Router) {
			r.Get("/status", h.SyncStatus)
			r.Get("/cache", h.ListCached)
			r.Post("/cache", h.CacheSamples)
			r.Post("/reconnect", h.Reconnect)
		})
	})

	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	return r
}

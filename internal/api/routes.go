// Package api assembles the HTTP surface over the cascade: synchronous
// single-address enrichment, asynchronous batch refresh, and job tracking.
package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/kestrelnet/cascade/internal/api/handlers"
	"github.com/kestrelnet/cascade/internal/api/middleware"
	"github.com/surrealdb/surrealdb.go"
	"go.uber.org/zap"
)

// SetupRoutes configures routes and middleware for the API server.
// enricher runs the cascade in-process; workflowURL is the durable
// workflow runtime's HTTP ingress used for asynchronous refresh batches.
func SetupRoutes(logger *zap.Logger, dbClient *surrealdb.DB, enricher handlers.Enricher, workflowURL string) *chi.Mux {
	r := chi.NewRouter()

	// Request ID first so every later log line carries one.
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", handlers.HealthHandler(logger, dbClient))

	// Enrichment hits external sources, so it gets a tighter per-client
	// budget than the read-only job endpoints.
	enrichRateLimiter := middleware.NewRateLimiter(60, logger)
	enrichRateLimiter.StartCleanupRoutine(10*time.Minute, 1*time.Hour)

	queryRateLimiter := middleware.NewRateLimiter(120, logger)
	queryRateLimiter.StartCleanupRoutine(10*time.Minute, 1*time.Hour)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/enrich", func(r chi.Router) {
			r.With(middleware.RateLimitMiddleware(enrichRateLimiter)).
				Post("/{ip}", handlers.EnrichHandler(logger, enricher))
		})

		r.Route("/refresh", func(r chi.Router) {
			r.With(middleware.RateLimitMiddleware(enrichRateLimiter)).
				Post("/", handlers.RefreshHandler(logger, dbClient, workflowURL))
		})

		r.Route("/jobs", func(r chi.Router) {
			r.Use(middleware.RateLimitMiddleware(queryRateLimiter))

			// GET /v1/jobs?limit=50&offset=0&kind=refresh&state=processing
			r.Get("/", handlers.ListJobsHandler(dbClient, logger))
			r.Get("/{job_id}", handlers.GetJobHandler(dbClient, logger))
		})
	})

	return r
}

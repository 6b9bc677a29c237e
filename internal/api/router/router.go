// Package router provides HTTP routing configuration using Chi.
package router

import (
	_ "embed"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/remiblancher/cmpctx/internal/api/handler"
	"github.com/remiblancher/cmpctx/internal/api/middleware"
	"github.com/remiblancher/cmpctx/internal/api/service"
)

//go:embed openapi.yaml
var openapiSpec []byte

// Config holds router configuration.
type Config struct {
	Version string

	// Contexts is the registry served by the API.
	Contexts *service.ContextService

	// AuditPath is the audit log exposed under /api/v1/audit. Empty
	// disables those endpoints.
	AuditPath string
}

// New creates a new Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.CORS)

	contexts := cfg.Contexts
	if contexts == nil {
		contexts = service.NewContextService()
	}

	// Health endpoints
	healthHandler := handler.NewHealthHandler(cfg.Version, contexts, cfg.AuditPath != "")
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// OpenAPI spec
	r.Get("/api/openapi.yaml", serveOpenAPISpec)

	contextHandler := handler.NewContextHandler(contexts)
	auditHandler := handler.NewAuditHandler(service.NewAuditService(cfg.AuditPath))

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/contexts", func(r chi.Router) {
			r.Post("/", contextHandler.Create)
			r.Get("/", contextHandler.List)
			r.Post("/restore", contextHandler.Restore)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", contextHandler.Get)
				r.Delete("/", contextHandler.Delete)
				r.Post("/reinit", contextHandler.Reinit)
				r.Get("/snapshot", contextHandler.Snapshot)
				r.Get("/options", contextHandler.Options)
				r.Get("/options/{name}", contextHandler.GetOption)
				r.Put("/options/{name}", contextHandler.SetOption)
			})
		})

		r.Route("/audit", func(r chi.Router) {
			r.Get("/logs", auditHandler.Logs)
			r.Post("/verify", auditHandler.Verify)
		})
	})

	return r
}

// serveOpenAPISpec serves the OpenAPI specification file.
func serveOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(openapiSpec)
}

package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// buildRouter constructs the chi mux with all routes wired.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID, g.instrument, middleware.Recoverer)

	// Public, no auth required.
	r.Get("/health", g.handleHealth())
	if g.metrics != nil {
		r.Method(http.MethodGet, "/metrics", g.metrics.Handler())
	}

	// Client API: API keys or the admin bearer token.
	r.Route("/v1", func(r chi.Router) {
		r.Use(g.clientAuth)
		r.Post("/chat/completions", g.handleChat())
		r.Post("/images/generations", g.handleImages())
		r.Post("/requests/{id}/cancel", g.handleCancel())
		r.Get("/chat/stream", g.handleStream())
	})

	// Admin endpoints. Not mounted if no auth configured.
	if g.config.Auth.IsConfigured() {
		r.Group(func(r chi.Router) {
			r.Use(g.adminAuth)
			r.Get("/status", g.handleStatus())
			r.Route("/api", func(r chi.Router) {
				r.Get("/arms", g.handleListArms())
				r.Put("/arms/{id}", g.handleUpdateArm())
				r.Get("/quota/{ledger}/{key}", g.handleGetQuota())
				r.Post("/quota/{ledger}/sync", g.handleSyncQuota())
				r.Get("/providers", g.handleProviders())
				r.Get("/modules", g.handleGetAllModules())
				r.Get("/config", g.handleGetConfig())
			})
		})
	}

	return r
}

package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter constructs the chi mux with all routes wired.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	// Public: no auth required.
	r.Get("/health", g.handleHealth())
	r.Handle("/metrics", promhttp.HandlerFor(g.gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		if g.config.Auth.IsConfigured() {
			// Browsers cannot set headers on websocket upgrades.
			r.Use(authMiddleware(g.config.Auth, g.audit, true))
		}
		r.Get("/ws/sessions/{session}", g.hub.ServeHTTP)
	})

	r.Group(func(r chi.Router) {
		if g.config.Auth.IsConfigured() {
			r.Use(authMiddleware(g.config.Auth, g.audit, false))
		}
		r.Get("/status", g.handleStatus())
		r.Route("/api/sessions/{session}", func(r chi.Router) {
			r.Post("/turns", g.handleTurn())
			r.Get("/rounds/{round}", g.handleGetRound())
			r.Post("/rounds/{round}/reparse", g.handleReparse())
			r.Delete("/", g.handleEndSession())
		})
	})

	return r
}

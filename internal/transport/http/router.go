// Package httptransport is the thin HTTP layer. Handlers decode, delegate to
// the domain services, and encode; no business logic lives here.
package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires the public endpoints.
func NewRouter(h *Handler, registry *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Post("/session", h.handleCreateSession)
	r.Post("/check", h.handleCheck)
	r.Post("/authorization", h.handleAuthorize)
	r.Post("/token", h.handleToken)
	r.Post("/credential/issue", h.handleIssueCredential)
	r.Post("/session/abort", h.handleAbort)

	r.Get("/healthcheck", h.handleHealthcheck)
	if registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}
	return r
}

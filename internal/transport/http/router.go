// Package httptransport assembles the HTTP router: middleware chain, health
// and metrics endpoints, and feature handler mounts.
package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chronicle/internal/platform/middleware"
	"chronicle/pkg/platform/httputil"
)

// Registrar is implemented by feature handlers that mount their own routes.
type Registrar interface {
	Register(r chi.Router)
}

// Deps carries everything the router needs. Handlers in Admin sit behind the
// admin token; handlers in Authed require an authenticated principal;
// handlers in Public do not.
type Deps struct {
	Public []Registrar
	Authed []Registrar
	Admin  []Registrar

	Validator      middleware.TokenValidator
	AdminTokenHash string
	Logger         *slog.Logger

	// Health reports readiness of backing stores; nil checks are skipped.
	Health func() error
}

// NewRouter builds the full router.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.Logging(deps.Logger))
	r.Use(middleware.ClientMetadata)
	r.Use(middleware.Principal(deps.Validator, deps.Logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if deps.Health != nil {
			if err := deps.Health(); err != nil {
				httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "unavailable",
				})
				return
			}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		for _, h := range deps.Public {
			h.Register(r)
		}
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(deps.Logger))
		for _, h := range deps.Authed {
			h.Register(r)
		}
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAdminToken(deps.AdminTokenHash, deps.Logger))
		for _, h := range deps.Admin {
			h.Register(r)
		}
	})

	return r
}

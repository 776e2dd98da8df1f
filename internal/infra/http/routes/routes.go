// Package routes maps the proxied application's URL space onto limiter
// classes and registers the gateway's own endpoints.
package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/closetmind/gateway/internal/infra/http/handler"
	"github.com/closetmind/gateway/internal/infra/http/middleware"
)

// Handlers holds everything route registration needs.
type Handlers struct {
	Health  *handler.HealthHandler
	Gateway *handler.GatewayHandler
	Proxy   *handler.ProxyHandler

	Guard   *middleware.Guard
	Uploads *middleware.UploadIntake
}

// Register wires all routes. Each proxied prefix is guarded by the limiter
// class that matches its sensitivity; anything unmatched falls through to the
// general api class. The block gate runs inside every guard, so route choice
// never bypasses it.
func Register(r chi.Router, h *Handlers) {
	// Gateway-owned endpoints, outside the protection stages.
	r.Get("/health", h.Health.Health)
	r.Get("/ready", h.Health.Ready)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.With(h.Guard.Protect("api")).Get("/gateway/stats", h.Gateway.Stats)

		r.Route("/auth", func(r chi.Router) {
			// Static segment wins over the wildcard, so password resets get
			// their own, stricter class.
			r.Route("/password-reset", func(r chi.Router) {
				r.Use(h.Guard.Protect("password_reset"))
				r.Handle("/", h.Proxy)
				r.Handle("/*", h.Proxy)
			})

			r.Group(func(r chi.Router) {
				r.Use(h.Guard.Protect("auth"))
				r.Handle("/", h.Proxy)
				r.Handle("/*", h.Proxy)
			})
		})

		r.Route("/uploads", func(r chi.Router) {
			r.Use(h.Guard.Protect("upload"))
			r.Use(h.Uploads.Inspect)
			r.Handle("/", h.Proxy)
			r.Handle("/*", h.Proxy)
		})

		r.Route("/ai", func(r chi.Router) {
			r.Use(h.Guard.Protect("ai"))
			r.Handle("/", h.Proxy)
			r.Handle("/*", h.Proxy)
		})

		r.Route("/weather", func(r chi.Router) {
			r.Use(h.Guard.Protect("weather"))
			r.Handle("/", h.Proxy)
			r.Handle("/*", h.Proxy)
		})

		// Everything else under /api/v1 rides the general class.
		r.Group(func(r chi.Router) {
			r.Use(h.Guard.Protect("api"))
			r.Handle("/*", h.Proxy)
		})
	})

	// Non-API paths (static assets, upstream pages) also get the general class.
	r.Group(func(r chi.Router) {
		r.Use(h.Guard.Protect("api"))
		r.Handle("/*", h.Proxy)
	})
}

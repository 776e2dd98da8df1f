// Package http assembles the gateway's HTTP server: the middleware chain,
// the protection stages, and the upstream proxy.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/closetmind/gateway/internal/config"
	"github.com/closetmind/gateway/internal/infra/http/handler"
	"github.com/closetmind/gateway/internal/infra/http/middleware"
	"github.com/closetmind/gateway/internal/infra/http/routes"
	"github.com/closetmind/gateway/internal/ratelimit"
	"github.com/closetmind/gateway/internal/upload"
	"github.com/closetmind/gateway/pkg/logger"
)

// Server represents the gateway HTTP server.
type Server struct {
	httpServer   *http.Server
	router       chi.Router
	config       *config.Config
	logger       *logger.Logger
	tracker      *ratelimit.Tracker
	cleanupFuncs []func() // cleanup functions to call on shutdown
}

// NewServer creates the gateway server: limiter, violation tracker, upload
// pipeline, proxy, and the global middleware chain, in the order the
// protection model requires.
func NewServer(cfg *config.Config, log *logger.Logger) (*Server, error) {
	s := &Server{
		config: cfg,
		logger: log,
	}

	limiter := ratelimit.NewLimiter(&cfg.RateLimit, log)
	s.cleanupFuncs = append(s.cleanupFuncs, limiter.Stop)

	s.tracker = ratelimit.NewTracker(&cfg.Blocklist, log)

	guard := middleware.NewGuard(limiter, s.tracker, log, cfg.RateLimit.Enabled)

	pipeline := upload.NewPipeline(
		upload.NewPolicy(&cfg.Upload),
		upload.NewSanitizer(&cfg.Sanitize),
		log,
	)

	proxy, err := handler.NewProxyHandler(cfg.Upstream.URL, log)
	if err != nil {
		return nil, fmt.Errorf("create upstream proxy: %w", err)
	}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.CleanPath)
	r.Use(chimw.StripSlashes)

	securityCfg := middleware.SecurityHeadersConfig{
		HSTSEnabled:           cfg.IsProduction(),
		HSTSMaxAge:            31536000, // 1 year
		HSTSIncludeSubdomains: true,
	}

	// Global middleware (order matters!)
	r.Use(middleware.Recovery(log, cfg.IsProduction()))
	r.Use(middleware.RequestID())
	r.Use(middleware.SecurityHeadersWithConfig(securityCfg))
	r.Use(middleware.CORS(&cfg.CORS))
	r.Use(middleware.Decompress(nil))
	r.Use(middleware.BodyLimit(cfg.Server.MaxBodySize))
	r.Use(middleware.Timeout(cfg.Upstream.Timeout))
	r.Use(middleware.Metrics())
	r.Use(middleware.Logger(log))

	routes.Register(r, &routes.Handlers{
		Health:  handler.NewHealthHandler(handler.WithUpstream(proxy)),
		Gateway: handler.NewGatewayHandler(limiter, s.tracker, cfg.RateLimit.Classes),
		Proxy:   proxy,
		Guard:   guard,
		Uploads: middleware.NewUploadIntake(pipeline, log),
	})

	s.router = r
	s.httpServer = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  time.Minute,
	}

	return s, nil
}

// Tracker returns the violation tracker so the caller can schedule sweeps.
func (s *Server) Tracker() *ratelimit.Tracker {
	return s.tracker
}

// Handler returns the assembled handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.config.Server.Addr())

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	for _, cleanup := range s.cleanupFuncs {
		cleanup()
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

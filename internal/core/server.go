// Package core is the HTTP chassis for planguard. It builds the chi router,
// applies the cross-cutting middleware (recovery, request ids, logging,
// metrics, service authentication) and provides the JSON response helpers
// used by the handler packages.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"planguard/internal/config"
)

// MetricsCollector records per-request telemetry. endpoint is the matched
// route pattern, never the raw path.
type MetricsCollector interface {
	RecordRequest(method, endpoint, status string, duration time.Duration)
}

// Server holds the dependencies shared by every route. Fields are set before
// MountRoutes is called and are not modified afterwards.
type Server struct {
	Config        *config.Config
	Logger        *slog.Logger
	Validator     *Validator
	Metrics       MetricsCollector
	Authenticator Authenticator

	// HealthProbes back GET /health.
	HealthProbes []HealthProbe
	// MetricsHandler is served at GET /metrics when set.
	MetricsHandler http.Handler

	// V1RouteRegistrars mount authenticated routes under /v1.
	// PublicRouteRegistrars mount routes at the root with no caller
	// authentication (gateway webhooks carry their own signature).
	V1RouteRegistrars     []func(chi.Router)
	PublicRouteRegistrars []func(chi.Router)

	// Closers are released in order by Shutdown.
	Closers []func()

	router *chi.Mux
}

// NewServer creates a Server with a service-token Authenticator built from
// cfg. Routes are mounted separately with MountRoutes.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	if cfg.Server.ServiceToken.IsEmpty() {
		return nil, fmt.Errorf("service token must be configured")
	}

	return &Server{
		Config:        cfg,
		Logger:        logger,
		Validator:     NewValidator(logger),
		Authenticator: NewServiceTokenAuthenticator(cfg.Server.ServiceToken),
		router:        chi.NewRouter(),
	}, nil
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown releases the registered closers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.InfoContext(ctx, "server shutdown initiated")
	for _, closeFn := range s.Closers {
		closeFn()
	}
	s.Logger.InfoContext(ctx, "server shutdown complete")
	return nil
}

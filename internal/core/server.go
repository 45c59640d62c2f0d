// Package core provides the API chassis for the OrderPulse service: a chi
// router with the cross-cutting middleware chain (recovery, timeouts, request
// IDs, structured logging), response envelopes, request validation, and the
// health endpoint. Domain handlers mount on top of it.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"orderpulse/internal/config"
)

// Server encapsulates the shared dependencies for the HTTP API, allowing
// injection during testing and distinct configuration per environment.
type Server struct {
	Config       *config.Config
	Logger       *slog.Logger
	Validator    *Validator
	HealthProbes []HealthProbe

	// V1RouteRegistrars are called by MountRoutes to register domain
	// handler routes under /v1. Populated by the application entry point
	// to avoid import cycles between core and handler packages.
	V1RouteRegistrars []func(chi.Router)

	// OnShutdown hooks run during Shutdown, in registration order. The
	// entry point registers pool and client cleanup here.
	OnShutdown []func(ctx context.Context) error

	router *chi.Mux
}

// NewServer initializes the chassis. The caller mounts routes afterwards via
// MountRoutes; the separation lets tests customize route registration.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the http.Handler interface for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown performs a graceful termination of server resources, running each
// registered hook. The first hook error is returned after all hooks have run.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")

	var firstErr error
	for _, hook := range s.OnShutdown {
		if err := hook(ctx); err != nil {
			s.Logger.Error("shutdown hook failed", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	s.Logger.Info("server shutdown complete")
	return firstErr
}

package core

import (
	"time"

	"github.com/go-chi/chi/v5"
)

// defaultRequestTimeout is the soft deadline applied to request contexts.
const defaultRequestTimeout = 29 * time.Second

// MountRoutes registers the global middleware chain, the /v1 route group,
// and the health endpoint.
//
// Middleware ordering:
//  1. Recoverer       catches panics, so it wraps everything else.
//  2. ContextTimeout  sets the soft deadline before any work starts.
//  3. RequestID       correlation ID for all downstream logging.
//  4. RequestLogger   structured request logs with the request ID present.
func (s *Server) MountRoutes() {
	s.router.Use(s.Recoverer)
	s.router.Use(ContextTimeoutMiddleware(defaultRequestTimeout))
	s.router.Use(RequestIDMiddleware)
	s.router.Use(RequestLogger(s.Logger))

	s.router.Route("/v1", func(r chi.Router) {
		for _, registrar := range s.V1RouteRegistrars {
			registrar(r)
		}
	})

	s.router.Get("/health", s.HandleHealth)
}

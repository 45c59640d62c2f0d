package core

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// healthCheckTimeout is the maximum time allowed for all probes to complete.
const healthCheckTimeout = 2 * time.Second

// HealthProbe is a subsystem health check. Each probe represents a dependency
// (database, cache, queue) that must be reachable for the service to function.
type HealthProbe interface {
	// Name returns a human-readable identifier for the probe.
	Name() string

	// Check performs the health check. It must respect the context
	// deadline and return an error if the subsystem is unreachable.
	Check(ctx context.Context) error
}

type componentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Components map[string]componentStatus `json:"components,omitempty"`
}

// HandleHealth executes all registered probes concurrently under a shared
// deadline. Returns 200 when every probe reports healthy, 503 otherwise.
// This endpoint is public and mounted at GET /health.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	probes := s.HealthProbes
	if len(probes) == 0 {
		JSON(w, r, http.StatusOK, healthResponse{Status: "healthy"})
		return
	}

	results := make([]error, len(probes))
	var g errgroup.Group
	for i, probe := range probes {
		g.Go(func() error {
			defer func() {
				if rvr := recover(); rvr != nil {
					results[i] = fmt.Errorf("probe panicked: %v", rvr)
				}
			}()
			results[i] = probe.Check(ctx)
			return nil
		})
	}
	_ = g.Wait()

	components := make(map[string]componentStatus, len(probes))
	allHealthy := true
	for i, probe := range probes {
		if err := results[i]; err != nil {
			allHealthy = false
			components[probe.Name()] = componentStatus{
				Status:  "unhealthy",
				Message: err.Error(),
			}
		} else {
			components[probe.Name()] = componentStatus{Status: "healthy"}
		}
	}

	resp := healthResponse{Components: components}
	if allHealthy {
		resp.Status = "healthy"
		JSON(w, r, http.StatusOK, resp)
		return
	}
	resp.Status = "unhealthy"
	JSON(w, r, http.StatusServiceUnavailable, resp)
}

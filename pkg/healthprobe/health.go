// Package healthprobe provides liveness/readiness handlers plus per-component
// health tracking for the engine's subsystems (feeds, fabric, orchestrator).
package healthprobe

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
)

// ComponentStatus is one subsystem's self-reported health.
type ComponentStatus struct {
	Healthy bool      `json:"healthy"`
	Detail  string    `json:"detail,omitempty"`
	Updated time.Time `json:"updated"`
}

// HealthChecker aggregates readiness and per-component health.
type HealthChecker struct {
	startTime time.Time
	ready     atomic.Bool

	mu         sync.RWMutex
	components map[string]ComponentStatus
}

// New creates a HealthChecker.
func New() *HealthChecker {
	return &HealthChecker{
		startTime:  time.Now(),
		components: make(map[string]ComponentStatus),
	}
}

// SetReady marks the application as ready to serve traffic.
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

// SetComponent records a subsystem's health. Components report on state
// changes and on their periodic probes.
func (h *HealthChecker) SetComponent(name string, healthy bool, detail string) {
	h.mu.Lock()
	h.components[name] = ComponentStatus{Healthy: healthy, Detail: detail, Updated: time.Now()}
	h.mu.Unlock()
}

// Components returns a copy of the current component statuses.
func (h *HealthChecker) Components() map[string]ComponentStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[string]ComponentStatus, len(h.components))
	for k, v := range h.components {
		out[k] = v
	}
	return out
}

// HealthResponse is the health endpoint payload.
type HealthResponse struct {
	Status     string                     `json:"status"`
	Uptime     string                     `json:"uptime"`
	Components map[string]ComponentStatus `json:"components,omitempty"`
	Message    string                     `json:"message,omitempty"`
}

// Health returns an HTTP handler for liveness checks. Degraded components are
// reported but do not fail liveness.
func (h *HealthChecker) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:     "healthy",
			Uptime:     time.Since(h.startTime).String(),
			Components: h.Components(),
		}
		for _, c := range resp.Components {
			if !c.Healthy {
				resp.Status = "degraded"
				break
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// Ready returns an HTTP handler for readiness checks: 200 when ready, 503
// while starting or stopped.
func (h *HealthChecker) Ready() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if !h.ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(HealthResponse{
				Status:  "not_ready",
				Message: "application is starting",
			})
			return
		}

		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(HealthResponse{
			Status: "ready",
			Uptime: time.Since(h.startTime).String(),
		})
	}
}

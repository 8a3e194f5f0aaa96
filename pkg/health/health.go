// Package health aggregates named dependency probes into liveness and
// readiness HTTP handlers.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

const (
	defaultTimeout = 5 * time.Second

	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// CheckFunc probes one dependency; a non-nil error marks it unhealthy.
type CheckFunc func(ctx context.Context) error

// Checks is a map of named health check functions.
type Checks map[string]CheckFunc

// Response is the readiness payload.
type Response struct {
	Status string           `json:"status"`
	Checks map[string]Check `json:"checks,omitempty"`
}

// Check is the status of a single probe.
type Check struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// LivenessHandler responds OK while the process runs; no dependencies are
// probed.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, &Response{Status: StatusHealthy})
	}
}

// ReadinessHandler runs all checks in parallel and reports 503 when any
// fails. Each invocation is bounded by a shared timeout so a hung
// dependency cannot hang the probe.
func ReadinessHandler(checks Checks, opts ...Option) http.HandlerFunc {
	cfg := newConfig(opts...)

	return func(w http.ResponseWriter, r *http.Request) {
		resp := run(r.Context(), checks, cfg)
		status := http.StatusOK
		if resp.Status == StatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, resp)
	}
}

func run(ctx context.Context, checks Checks, cfg *config) *Response {
	if len(checks) == 0 {
		return &Response{Status: StatusHealthy}
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]Check, len(checks))
		failed  bool
	)
	for name, check := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()

			result := Check{Status: StatusHealthy}
			if err := check(ctx); err != nil {
				result = Check{Status: StatusUnhealthy, Error: err.Error()}
				cfg.log("health check failed", name, err)
			}

			mu.Lock()
			results[name] = result
			failed = failed || result.Status == StatusUnhealthy
			mu.Unlock()
		}()
	}
	wg.Wait()

	status := StatusHealthy
	if failed {
		status = StatusUnhealthy
	}
	return &Response{Status: status, Checks: results}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Package health provides HTTP health and readiness check handlers for the
// engagement server.
//
// The package exposes two endpoints:
//
//   - /healthz — liveness probe; always returns 200 OK.
//   - /readyz  — readiness probe; returns 200 only when all registered
//     [Checker] functions pass.
//
// Responses are JSON objects with a top-level "status" field ("ok" or "fail")
// and a "checks" map containing the result of each named checker. The
// elocute-specific checkers live here too: [Detector] fails when the landmark
// tier chain is exhausted and [Staleness] fails when a live session stops
// producing samples.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/elocute/elocute/internal/detector"
)

// checkTimeout is the maximum time a single readiness check may take before
// the context is cancelled.
const checkTimeout = 5 * time.Second

// Checker is a named health check function. The Check function should return
// nil when the dependency is healthy and a non-nil error describing the
// failure otherwise.
type Checker struct {
	// Name is a short, human-readable label for this check (e.g. "detector",
	// "session"). It appears as a key in the JSON response.
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// result is the JSON response body for health endpoints.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz endpoints. It is safe for concurrent
// use; the checker list is fixed at construction time.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] that evaluates the given checkers on each /readyz
// request. The checkers are evaluated sequentially in the order provided.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz is a liveness probe that always returns 200 OK. A running process
// that can serve HTTP is considered alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz is a readiness probe that returns 200 only when every registered
// [Checker] passes. Each checker is given a context with a [checkTimeout]
// deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	allOK := true

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			allOK = false
		} else {
			checks[c.Name] = "ok"
		}
	}

	res := result{
		Status: "ok",
		Checks: checks,
	}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, res)
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}

// Detector returns a checker that fails once the landmark tier chain is
// exhausted or was never initialized. A manager running on a fallback tier
// still counts as ready; only StateFailed and the pre-init states do not.
func Detector(m *detector.Manager) Checker {
	return Checker{
		Name: "detector",
		Check: func(_ context.Context) error {
			switch s := m.State(); s {
			case detector.StatePrimary, detector.StateFallback:
				return nil
			default:
				return fmt.Errorf("detector is %s", s)
			}
		},
	}
}

// Staleness returns a checker that fails when last reports an active pipeline
// whose most recent sample is older than maxAge. An inactive pipeline, or one
// that has not produced its first sample yet, passes. This catches a wedged
// capture loop that stops committing without the session ever ending.
func Staleness(name string, last func() (time.Time, bool), maxAge time.Duration) Checker {
	return Checker{
		Name: name,
		Check: func(_ context.Context) error {
			ts, active := last()
			if !active || ts.IsZero() {
				return nil
			}
			if age := time.Since(ts); age > maxAge {
				return fmt.Errorf("last sample is %s old (max %s)", age.Round(time.Millisecond), maxAge)
			}
			return nil
		},
	}
}

// Package health serves liveness and readiness probes for the account
// binaries.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jensholdgaard/event-sourced-account/internal/clock"
)

// DefaultCheckTimeout bounds a single readiness check.
const DefaultCheckTimeout = 5 * time.Second

// Report is the JSON body written by both probes.
type Report struct {
	Status    string                 `json:"status"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Timestamp string                 `json:"timestamp"`
}

// CheckResult is the outcome of one named check.
type CheckResult struct {
	OK       bool    `json:"ok"`
	Error    string  `json:"error,omitempty"`
	Duration float64 `json:"duration_ms"`
}

// Checker is a named dependency probe, typically a store ping.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Handler answers /healthz and /readyz.
type Handler struct {
	ready    atomic.Bool
	checkers []Checker
	clock    clock.Clock
	timeout  time.Duration
}

// NewHandler returns a Handler that reports not ready until SetReady(true).
func NewHandler(clk clock.Clock, checkers ...Checker) *Handler {
	return &Handler{checkers: checkers, clock: clk, timeout: DefaultCheckTimeout}
}

// WithTimeout overrides the per-check timeout.
func (h *Handler) WithTimeout(d time.Duration) *Handler {
	h.timeout = d
	return h
}

// SetReady flips the readiness gate.
func (h *Handler) SetReady(ready bool) { h.ready.Store(ready) }

// Register mounts both probes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.LivenessHandler())
	mux.HandleFunc("GET /readyz", h.ReadinessHandler())
}

// LivenessHandler always answers 200 while the process runs.
func (h *Handler) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, Report{Status: "ok", Timestamp: h.now()})
	}
}

// ReadinessHandler answers 200 only when the gate is open and every checker
// succeeds. Checks run concurrently.
func (h *Handler) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.ready.Load() {
			writeJSON(w, http.StatusServiceUnavailable, Report{Status: "not_ready", Timestamp: h.now()})
			return
		}

		results := h.run(r.Context())

		status, code := "ready", http.StatusOK
		for _, res := range results {
			if !res.OK {
				status, code = "not_ready", http.StatusServiceUnavailable
				break
			}
		}
		writeJSON(w, code, Report{Status: status, Checks: results, Timestamp: h.now()})
	}
}

func (h *Handler) run(ctx context.Context) map[string]CheckResult {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]CheckResult, len(h.checkers))
	)
	for _, c := range h.checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			err := c.Check(ctx)
			res := CheckResult{OK: err == nil, Duration: float64(time.Since(start).Microseconds()) / 1000}
			if err != nil {
				res.Error = err.Error()
			}
			mu.Lock()
			results[c.Name] = res
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}

func (h *Handler) now() string {
	return h.clock.Now().UTC().Format(time.RFC3339)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

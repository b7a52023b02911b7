// Package health serves the intake engine's ops probes.
//
//   - GET /healthz — liveness; a process that can answer is alive. Reports
//     uptime.
//   - GET /readyz  — readiness; passes only when every dependency probe
//     (event journal, checkpoint store, the engine itself) passes. Probes
//     run concurrently and each reports its latency, so a slow dependency
//     is visible before it becomes a failing one.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// probeTimeout caps one dependency probe. A probe slower than this counts
// as failed.
const probeTimeout = 5 * time.Second

// Checker probes one dependency. Check returns nil when the dependency can
// serve; it must respect ctx cancellation.
type Checker struct {
	// Name keys the probe in the /readyz response ("journal",
	// "checkpoints", "engine").
	Name string

	Check func(ctx context.Context) error
}

// Pinger is the probe surface the checkpoint stores and the event journal
// share.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker adapts a store's Ping method into a named [Checker].
func PingChecker(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

// probe is one dependency's outcome in the /readyz body.
type probe struct {
	Status    string  `json:"status"`
	Error     string  `json:"error,omitempty"`
	LatencyMS float64 `json:"latency_ms"`
}

// readiness is the /readyz response body.
type readiness struct {
	Status string           `json:"status"`
	Checks map[string]probe `json:"checks,omitempty"`
}

// liveness is the /healthz response body.
type liveness struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

// Handler serves the probe endpoints. Safe for concurrent use; the checker
// set is fixed at construction.
type Handler struct {
	checkers []Checker
	started  time.Time
}

// New builds a Handler over the given dependency probes.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c, started: time.Now()}
}

// Healthz answers the liveness probe. Always 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, liveness{
		Status: "ok",
		Uptime: time.Since(h.started).Round(time.Second).String(),
	})
}

// Readyz runs every probe concurrently and answers 200 only when all pass.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	probes := make([]probe, len(h.checkers))

	g, ctx := errgroup.WithContext(r.Context())
	for i, c := range h.checkers {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()

			start := time.Now()
			err := c.Check(pctx)
			p := probe{
				Status:    "ok",
				LatencyMS: float64(time.Since(start).Microseconds()) / 1000,
			}
			if err != nil {
				p.Status = "fail"
				p.Error = err.Error()
			}
			probes[i] = p
			return nil
		})
	}
	_ = g.Wait() // goroutines only record; they never error

	res := readiness{Status: "ok", Checks: make(map[string]probe, len(h.checkers))}
	status := http.StatusOK
	for i, c := range h.checkers {
		res.Checks[c.Name] = probes[i]
		if probes[i].Status != "ok" {
			res.Status = "fail"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, res)
}

// Register mounts the probe routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}

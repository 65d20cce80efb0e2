// Package health provides the local HTTP surface of the voice session
// service:
//
//   - /healthz — liveness probe; always returns 200 OK.
//   - /readyz  — readiness probe; returns 200 only when all registered
//     [Checker] functions pass.
//   - /statusz — the current engine snapshot (state, mode, connection).
//   - /metrics — Prometheus metrics.
//   - /control/{send,cancel,reset,mode} — POST endpoints driving the engine's
//     user actions.
//
// Responses are JSON objects with a top-level "status" field ("ok" or "fail").
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pkarolyi/coachvox/internal/engine"
)

// checkTimeout is the maximum time a single readiness check may take before
// the context is cancelled.
const checkTimeout = 5 * time.Second

// Checker is a named health check function. The Check function should return
// nil when the dependency is healthy and a non-nil error describing the
// failure otherwise.
type Checker struct {
	// Name is a short, human-readable label for this check (e.g.
	// "transport", "microphone"). It appears as a key in the JSON response.
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// StatusSource yields the current engine snapshot for /statusz. Satisfied by
// *engine.Engine.
type StatusSource interface {
	Status() engine.Snapshot
}

// Controller exposes the engine's user actions for the /control endpoints.
// Satisfied by *engine.Engine.
type Controller interface {
	Send() error
	Cancel() error
	SetMode(mode string) error
	Reset() error
}

// result is the JSON response body for health endpoints.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// statusBody is the JSON response body for /statusz.
type statusBody struct {
	State      string `json:"state"`
	Mode       string `json:"mode"`
	Detail     string `json:"detail"`
	Transcript string `json:"transcript,omitempty"`
	Permission string `json:"permission"`
	Connection string `json:"connection"`
}

// Handler serves the HTTP surface. It is safe for concurrent use; the
// checker list is fixed at construction time.
type Handler struct {
	source   StatusSource
	checkers []Checker
}

// New creates a [Handler] reporting on source. The checkers are evaluated
// sequentially on each /readyz request, in the order provided.
func New(source StatusSource, checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{source: source, checkers: c}
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

// Statusz reports the engine's current snapshot.
func (h *Handler) Statusz(w http.ResponseWriter, _ *http.Request) {
	snap := h.source.Status()
	writeJSON(w, http.StatusOK, statusBody{
		State:      snap.State.String(),
		Mode:       snap.Mode,
		Detail:     snap.Status,
		Transcript: snap.Transcript,
		Permission: snap.Permission.String(),
		Connection: snap.Conn.String(),
	})
}

// Register adds all routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	mux.HandleFunc("GET /statusz", h.Statusz)
	mux.Handle("GET /metrics", promhttp.Handler())
}

// RegisterControl adds the POST command routes driving ctrl to mux.
func (h *Handler) RegisterControl(mux *http.ServeMux, ctrl Controller) {
	mux.HandleFunc("POST /control/send", command(func(*http.Request) error { return ctrl.Send() }))
	mux.HandleFunc("POST /control/cancel", command(func(*http.Request) error { return ctrl.Cancel() }))
	mux.HandleFunc("POST /control/reset", command(func(*http.Request) error { return ctrl.Reset() }))
	mux.HandleFunc("POST /control/mode", command(func(r *http.Request) error {
		var body struct {
			Mode string `json:"mode"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return errBadRequest{"invalid request body"}
		}
		if body.Mode == "" {
			return errBadRequest{"mode must not be empty"}
		}
		return ctrl.SetMode(body.Mode)
	}))
}

// errBadRequest marks a command failure caused by the request itself rather
// than the engine's state.
type errBadRequest struct{ msg string }

func (e errBadRequest) Error() string { return e.msg }

// command wraps an engine action as an HTTP handler. Engine refusals (wrong
// state, unknown mode) map to 409, malformed requests to 400.
func command(fn func(*http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(r); err != nil {
			status := http.StatusConflict
			var bad errBadRequest
			if errors.As(err, &bad) {
				status = http.StatusBadRequest
			}
			writeJSON(w, status, result{Status: "fail", Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, result{Status: "ok"})
	}
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

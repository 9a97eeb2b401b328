// Package health serves the liveness, readiness and status endpoints.
//
//   - GET /healthz answers 200 while the process can serve HTTP.
//   - GET /readyz answers 200 only when every [Checker] passes. Checks run
//     concurrently, each bounded by its own timeout.
//   - GET /statusz returns whatever the registered [StatusFunc] reports, e.g.
//     the current source, sink and the last measurement.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness probe. Check returns nil when healthy.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// StatusFunc returns a JSON-encodable snapshot of the application state.
type StatusFunc func(ctx context.Context) any

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the health endpoints. The checker list is fixed at
// construction time.
type Handler struct {
	checkers []Checker
	status   StatusFunc
}

// New creates a [Handler] evaluating checkers on each /readyz request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// WithStatus sets the function answering /statusz and returns h.
func (h *Handler) WithStatus(fn StatusFunc) *Handler {
	h.status = fn
	return h
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz runs all checkers concurrently and answers 503 if any failed.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	var mu sync.Mutex

	// Failures are recorded, never returned to the group.
	var g errgroup.Group
	for _, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()

			state := "ok"
			if err := c.Check(ctx); err != nil {
				state = "fail: " + err.Error()
			}
			mu.Lock()
			checks[c.Name] = state
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	res := result{Status: "ok", Checks: checks}
	code := http.StatusOK
	for _, state := range checks {
		if state != "ok" {
			res.Status = "fail"
			code = http.StatusServiceUnavailable
			break
		}
	}
	writeJSON(w, code, res)
}

// Statusz encodes the value returned by the [StatusFunc], or 404 if none is
// registered.
func (h *Handler) Statusz(w http.ResponseWriter, r *http.Request) {
	if h.status == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, h.status(r.Context()))
}

// Register adds the health routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	mux.HandleFunc("GET /statusz", h.Statusz)
}

// Recent returns a check that fails unless last reports a time within maxAge
// of now. A zero time counts as never.
func Recent(what string, maxAge time.Duration, last func() time.Time) func(context.Context) error {
	return func(context.Context) error {
		t := last()
		if t.IsZero() {
			return &staleError{what: what}
		}
		if age := time.Since(t); age > maxAge {
			return &staleError{what: what, age: age}
		}
		return nil
	}
}

type staleError struct {
	what string
	age  time.Duration
}

func (e *staleError) Error() string {
	if e.age == 0 {
		return "no " + e.what + " yet"
	}
	return "last " + e.what + " " + e.age.Round(time.Millisecond).String() + " ago"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}

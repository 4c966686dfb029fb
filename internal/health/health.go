// Package health serves the gateway's probes.
//
//   - GET /healthz: liveness. Always 200 while the process serves HTTP; the
//     body reports the number of live voice sessions.
//   - GET /readyz: readiness. 200 only when every [Checker] passes and the
//     gateway is not draining.
//
// Readiness checks may be expensive (the tools check opens a tool session),
// so their outcome is cached for a short TTL and shared between concurrent
// probes.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultCacheTTL is how long a readiness evaluation is reused.
	DefaultCacheTTL = 2 * time.Second

	checkTimeout  = 5 * time.Second
	drainingCheck = "shutdown"
)

// Checker is one named readiness dependency. Check returns nil when the
// dependency is usable and must honour ctx cancellation.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Option configures a [Handler].
type Option func(*Handler)

// WithCacheTTL sets how long a readiness evaluation is reused. Zero or less
// disables caching.
func WithCacheTTL(d time.Duration) Option {
	return func(h *Handler) { h.ttl = d }
}

// WithSessionCount reports the live session count on /healthz.
func WithSessionCount(fn func() int) Option {
	return func(h *Handler) { h.sessions = fn }
}

// Handler serves /healthz and /readyz. It is safe for concurrent use.
type Handler struct {
	checkers []Checker
	ttl      time.Duration
	sessions func() int
	now      func() time.Time
	draining atomic.Bool

	mu      sync.Mutex
	cached  report
	checked time.Time
}

type report struct {
	ok     bool
	checks map[string]string
}

type liveness struct {
	Status   string `json:"status"`
	Sessions *int   `json:"sessions,omitempty"`
}

type readiness struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// New returns a Handler evaluating checkers on /readyz.
func New(checkers []Checker, opts ...Option) *Handler {
	h := &Handler{
		checkers: append([]Checker(nil), checkers...),
		ttl:      DefaultCacheTTL,
		now:      time.Now,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Drain fails every later readiness probe so load balancers stop sending new
// voice sessions while live ones finish.
func (h *Handler) Drain() {
	h.draining.Store(true)
}

// Register adds the probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Healthz always reports ok.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	body := liveness{Status: "ok"}
	if h.sessions != nil {
		n := h.sessions()
		body.Sessions = &n
	}
	writeJSON(w, http.StatusOK, body)
}

// Readyz reports every check result, failing while any check fails or the
// gateway drains.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := h.evaluate(r.Context())

	checks := make(map[string]string, len(rep.checks)+1)
	for k, v := range rep.checks {
		checks[k] = v
	}
	ok := rep.ok
	if h.draining.Load() {
		checks[drainingCheck] = "fail: draining"
		ok = false
	}

	body := readiness{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !ok {
		body.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, body)
}

// evaluate returns a cached report while it is fresh and runs all checkers
// concurrently otherwise. The lock is held while checking, so concurrent
// probes share one evaluation.
func (h *Handler) evaluate(ctx context.Context) report {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ttl > 0 && !h.checked.IsZero() && h.now().Sub(h.checked) < h.ttl {
		return h.cached
	}

	rep := report{ok: true, checks: make(map[string]string, len(h.checkers))}
	var mu sync.Mutex
	var g errgroup.Group
	for _, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			err := c.Check(cctx)
			cancel()

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				rep.checks[c.Name] = "fail: " + err.Error()
				rep.ok = false
			} else {
				rep.checks[c.Name] = "ok"
			}
			return nil
		})
	}
	_ = g.Wait()

	// A probe cut short by its caller says nothing about the dependencies.
	if ctx.Err() == nil {
		h.cached = rep
		h.checked = h.now()
	}
	return rep
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

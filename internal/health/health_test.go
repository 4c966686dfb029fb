package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func pass(context.Context) error { return nil }

func probe(t *testing.T, h *Handler, path string) (int, map[string]any) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return rec.Code, body
}

func checksOf(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	checks, _ := body["checks"].(map[string]any)
	return checks
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	t.Run("without session count", func(t *testing.T) {
		t.Parallel()
		code, body := probe(t, New(nil), "/healthz")
		if code != http.StatusOK || body["status"] != "ok" {
			t.Errorf("got %d %v, want 200 ok", code, body)
		}
		if _, ok := body["sessions"]; ok {
			t.Errorf("sessions reported without a counter: %v", body)
		}
	})

	t.Run("reports live sessions", func(t *testing.T) {
		t.Parallel()
		h := New(nil, WithSessionCount(func() int { return 3 }))
		_, body := probe(t, h, "/healthz")
		if body["sessions"] != float64(3) {
			t.Errorf("sessions = %v, want 3", body["sessions"])
		}
	})

	t.Run("unaffected by failing checks", func(t *testing.T) {
		t.Parallel()
		h := New([]Checker{{Name: "tools", Check: func(context.Context) error { return errors.New("refused") }}})
		h.Drain()
		if code, _ := probe(t, h, "/healthz"); code != http.StatusOK {
			t.Errorf("healthz = %d, want 200", code)
		}
	})
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	fail := func(msg string) func(context.Context) error {
		return func(context.Context) error { return errors.New(msg) }
	}

	tests := []struct {
		name       string
		checkers   []Checker
		wantStatus int
		wantChecks map[string]any
	}{
		{
			name:       "no checkers",
			wantStatus: http.StatusOK,
		},
		{
			name:       "model and tools pass",
			checkers:   []Checker{{Name: "model", Check: pass}, {Name: "tools", Check: pass}},
			wantStatus: http.StatusOK,
			wantChecks: map[string]any{"model": "ok", "tools": "ok"},
		},
		{
			name:       "tools unreachable",
			checkers:   []Checker{{Name: "model", Check: pass}, {Name: "tools", Check: fail("connection refused")}},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]any{"model": "ok", "tools": "fail: connection refused"},
		},
		{
			name:       "every endpoint down",
			checkers:   []Checker{{Name: "model", Check: fail("all model endpoints unavailable")}, {Name: "tools", Check: fail("refused")}},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]any{"model": "fail: all model endpoints unavailable", "tools": "fail: refused"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			code, body := probe(t, New(tc.checkers), "/readyz")
			if code != tc.wantStatus {
				t.Errorf("status = %d, want %d", code, tc.wantStatus)
			}
			wantStatus := "ok"
			if tc.wantStatus != http.StatusOK {
				wantStatus = "fail"
			}
			if body["status"] != wantStatus {
				t.Errorf("body status = %v, want %s", body["status"], wantStatus)
			}
			checks := checksOf(t, body)
			for name, want := range tc.wantChecks {
				if checks[name] != want {
					t.Errorf("check %s = %v, want %v", name, checks[name], want)
				}
			}
		})
	}
}

func TestReadyz_CachesWithinTTL(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	now := time.Unix(1_700_000_000, 0)
	h := New([]Checker{{Name: "tools", Check: func(context.Context) error {
		calls.Add(1)
		return nil
	}}}, WithCacheTTL(time.Second))
	h.now = func() time.Time { return now }

	probe(t, h, "/readyz")
	probe(t, h, "/readyz")
	if got := calls.Load(); got != 1 {
		t.Fatalf("checks run %d times within TTL, want 1", got)
	}

	now = now.Add(2 * time.Second)
	probe(t, h, "/readyz")
	if got := calls.Load(); got != 2 {
		t.Errorf("checks run %d times after TTL, want 2", got)
	}
}

func TestReadyz_CacheDisabled(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	h := New([]Checker{{Name: "model", Check: func(context.Context) error {
		calls.Add(1)
		return nil
	}}}, WithCacheTTL(0))

	for range 3 {
		probe(t, h, "/readyz")
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("checks run %d times, want 3", got)
	}
}

func TestReadyz_CancelledProbeIsNotCached(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	h := New([]Checker{{Name: "tools", Check: func(ctx context.Context) error {
		calls.Add(1)
		return ctx.Err()
	}}}, WithCacheTTL(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil).WithContext(ctx))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("cancelled probe = %d, want 503", rec.Code)
	}

	if code, _ := probe(t, h, "/readyz"); code != http.StatusOK {
		t.Errorf("next probe = %d, want 200", code)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("checks run %d times, want 2", got)
	}
}

func TestReadyz_FailsWhileDraining(t *testing.T) {
	t.Parallel()

	h := New([]Checker{{Name: "model", Check: pass}})
	if code, _ := probe(t, h, "/readyz"); code != http.StatusOK {
		t.Fatalf("status before Drain = %d, want 200", code)
	}

	h.Drain()
	code, body := probe(t, h, "/readyz")
	if code != http.StatusServiceUnavailable {
		t.Errorf("status after Drain = %d, want 503", code)
	}
	checks := checksOf(t, body)
	if checks[drainingCheck] != "fail: draining" {
		t.Errorf("shutdown check = %v", checks[drainingCheck])
	}
	if checks["model"] != "ok" {
		t.Errorf("model check = %v, want ok", checks["model"])
	}
}

package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/ipovoice/pkg/provider/s2s"
	s2smock "github.com/MrWong99/ipovoice/pkg/provider/s2s/mock"
)

func TestModelFallback_Connect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		primaryErr     error
		secondaryErr   error
		wantName       string
		wantErr        error
		wantSecondCall int
	}{
		{name: "primary accepts", wantName: "gemini-live"},
		{name: "primary refuses", primaryErr: errors.New("401"), wantName: "gemini-vertex", wantSecondCall: 1},
		{name: "both refuse", primaryErr: errors.New("401"), secondaryErr: errors.New("503"), wantErr: ErrAllFailed, wantSecondCall: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			primary := &s2smock.Provider{
				ConnectErr:           tt.primaryErr,
				ProviderCapabilities: s2s.Capabilities{InputSampleRate: 16000, OutputSampleRate: 24000},
			}
			secondary := &s2smock.Provider{ConnectErr: tt.secondaryErr}

			fb := NewModelFallback(primary, "gemini-live", FallbackConfig{
				CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
			})
			fb.AddFallback("gemini-vertex", secondary)

			cfg := s2s.SessionConfig{Voice: "Alnilam", Instructions: "be brief"}
			h, name, err := fb.ConnectNamed(context.Background(), cfg)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
			} else {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if h == nil {
					t.Fatal("nil session handle")
				}
				if name != tt.wantName {
					t.Errorf("served by %q, want %q", name, tt.wantName)
				}
				_ = h.Close()
			}

			if got := len(primary.Calls()); got != 1 {
				t.Errorf("primary Connect calls = %d, want 1", got)
			}
			if got := len(secondary.Calls()); got != tt.wantSecondCall {
				t.Errorf("secondary Connect calls = %d, want %d", got, tt.wantSecondCall)
			}
			if calls := primary.Calls(); calls[0].Cfg.Voice != "Alnilam" {
				t.Errorf("session config not forwarded: %+v", calls[0].Cfg)
			}
			if got := fb.Capabilities().OutputSampleRate; got != 24000 {
				t.Errorf("Capabilities().OutputSampleRate = %d, want primary's 24000", got)
			}
		})
	}
}

func TestModelFallback_Available(t *testing.T) {
	t.Parallel()
	primary := &s2smock.Provider{ConnectErr: errors.New("down")}
	fb := NewModelFallback(primary, "gemini-live", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1},
	})
	if !fb.Available() {
		t.Fatal("Available() = false before any failure")
	}
	if _, err := fb.Connect(context.Background(), s2s.SessionConfig{}); err == nil {
		t.Fatal("expected connect error")
	}
	if fb.Available() {
		t.Error("Available() = true after breaker opened")
	}
	if st := fb.Status(); len(st) != 1 || st[0].State != StateOpen {
		t.Errorf("Status() = %+v", st)
	}
}

package resilience

import (
	"context"

	"github.com/MrWong99/ipovoice/pkg/provider/s2s"
)

// ModelFallback implements [s2s.Provider] with connect-time failover across
// several speech-model endpoints. Only session establishment is guarded; a
// session that fails mid-stream is not migrated.
type ModelFallback struct {
	group *FallbackGroup[s2s.Provider]
}

var _ s2s.Provider = (*ModelFallback)(nil)

// NewModelFallback creates a [ModelFallback] with primary as the preferred
// endpoint.
func NewModelFallback(primary s2s.Provider, primaryName string, cfg FallbackConfig) *ModelFallback {
	return &ModelFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another endpoint tried when every earlier one fails.
func (f *ModelFallback) AddFallback(name string, p s2s.Provider) {
	f.group.AddFallback(name, p)
}

// Connect opens a session on the first endpoint that accepts it.
func (f *ModelFallback) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	h, _, err := f.ConnectNamed(ctx, cfg)
	return h, err
}

// ConnectNamed is Connect that also reports which endpoint served the session.
func (f *ModelFallback) ConnectNamed(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, string, error) {
	return ExecuteWithResult(ctx, f.group, func(p s2s.Provider) (s2s.SessionHandle, error) {
		return p.Connect(ctx, cfg)
	})
}

// Capabilities returns the primary endpoint's capabilities.
func (f *ModelFallback) Capabilities() s2s.Capabilities {
	return f.group.Primary().Capabilities()
}

// Status reports the breaker state of every endpoint.
func (f *ModelFallback) Status() []EntryStatus {
	return f.group.Status()
}

// Available reports whether any endpoint would currently accept a connect.
func (f *ModelFallback) Available() bool {
	return f.group.Available()
}

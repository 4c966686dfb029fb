// Package mock provides test doubles for the s2s package interfaces.
//
// Use Provider to verify Connect calls and feed controlled S2S sessions.
// Use Session to drive the model's event stream and inspect which methods were
// invoked by the gateway.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, cfg)
//	sess.Emit(s2s.Event{Type: s2s.EventAudio, Audio: pcm})
//	sess.End(nil)
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/ipovoice/pkg/provider/s2s"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg s2s.SessionConfig
}

// Provider is a mock implementation of s2s.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by Connect. If nil, Connect returns
	// a new default Session.
	Session s2s.SessionHandle

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ProviderCapabilities is returned by Capabilities.
	ProviderCapabilities s2s.Capabilities

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(), nil
}

// Capabilities returns ProviderCapabilities.
func (p *Provider) Capabilities() s2s.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ProviderCapabilities
}

// Calls returns a copy of the recorded Connect calls.
func (p *Provider) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.ConnectCalls)
}

// Ensure Provider implements s2s.Provider at compile time.
var _ s2s.Provider = (*Provider)(nil)

// SendTextCall records a single invocation of Session.SendText.
type SendTextCall struct {
	Text      string
	EndOfTurn bool
}

// Session is a mock implementation of s2s.SessionHandle. Create it with
// [NewSession]; drive the event stream with Emit and End.
type Session struct {
	mu sync.Mutex

	events  chan s2s.Event
	ended   bool
	endErr  error
	closed  bool
	endOnce sync.Once

	// SendAudioErr, SendTextErr, and SendToolResponsesErr are returned by the
	// corresponding methods when non-nil.
	SendAudioErr         error
	SendTextErr          error
	SendToolResponsesErr error

	audio         [][]byte
	texts         []SendTextCall
	toolResponses []s2s.ToolResponse
	closeCount    int
}

// NewSession returns a Session with a buffered event channel.
func NewSession() *Session {
	return &Session{events: make(chan s2s.Event, 64)}
}

// Emit pushes ev to the event stream. It is a no-op after End or Close.
func (s *Session) Emit(ev s2s.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.events <- ev
}

// End closes the event stream with err as the value later reported by Err.
func (s *Session) End(err error) {
	s.endOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.ended = true
		s.endErr = err
		close(s.events)
	})
}

// SendAudio implements s2s.SessionHandle.
func (s *Session) SendAudio(_ context.Context, chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s2s.ErrSessionClosed
	}
	if s.SendAudioErr != nil {
		return s.SendAudioErr
	}
	s.audio = append(s.audio, slices.Clone(chunk))
	return nil
}

// SendText implements s2s.SessionHandle.
func (s *Session) SendText(_ context.Context, text string, endOfTurn bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s2s.ErrSessionClosed
	}
	if s.SendTextErr != nil {
		return s.SendTextErr
	}
	s.texts = append(s.texts, SendTextCall{Text: text, EndOfTurn: endOfTurn})
	return nil
}

// SendToolResponses implements s2s.SessionHandle.
func (s *Session) SendToolResponses(_ context.Context, responses ...s2s.ToolResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s2s.ErrSessionClosed
	}
	if s.SendToolResponsesErr != nil {
		return s.SendToolResponsesErr
	}
	s.toolResponses = append(s.toolResponses, responses...)
	return nil
}

// Events implements s2s.SessionHandle.
func (s *Session) Events() <-chan s2s.Event { return s.events }

// Err implements s2s.SessionHandle.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endErr
}

// Close implements s2s.SessionHandle. It ends the event stream cleanly if it
// is still open.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.closeCount++
	s.mu.Unlock()
	s.End(nil)
	return nil
}

// Audio returns copies of the chunks passed to SendAudio.
func (s *Session) Audio() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.audio)
}

// Texts returns the recorded SendText calls.
func (s *Session) Texts() []SendTextCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.texts)
}

// ToolResponses returns every response passed to SendToolResponses.
func (s *Session) ToolResponses() []s2s.ToolResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.toolResponses)
}

// CloseCount returns how many times Close was called.
func (s *Session) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCount
}

// Ensure Session implements s2s.SessionHandle at compile time.
var _ s2s.SessionHandle = (*Session)(nil)

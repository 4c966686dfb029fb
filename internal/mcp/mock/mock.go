// Package mock provides an in-memory test double for [bridge.Session].
//
// [Tools] records every method call for assertion in tests and exposes
// exported fields that control what the mock returns. It is safe for
// concurrent use via an internal [sync.Mutex].
//
// Typical usage:
//
//	tools := &mock.Tools{
//	    Operations: []bridge.Operation{{Name: "get_active_ipos"}},
//	    Results:    map[string]bridge.Result{"get_active_ipos": {Payload: `{"active_ipos":[]}`}},
//	}
//
//	// inject tools into the system under test …
//
//	if got := tools.CallCount("Invoke"); got != 1 {
//	    t.Errorf("expected 1 Invoke call, got %d", got)
//	}
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/ipovoice/internal/mcp/bridge"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// Tools is a configurable test double for [bridge.Session].
type Tools struct {
	mu sync.Mutex

	calls []Call

	// Operations is returned by [Tools.ListOperations].
	Operations []bridge.Operation

	// ListErr is returned by [Tools.ListOperations] when non-nil.
	ListErr error

	// Results maps a tool name to the result returned by [Tools.Invoke].
	// Names that are absent resolve to [bridge.ErrUnknownOperation].
	Results map[string]bridge.Result

	// InvokeFunc, when set, replaces the Results lookup. It is called without
	// the mutex held so it may block.
	InvokeFunc func(ctx context.Context, name string, args map[string]any) bridge.Result

	// Documents is returned by [Tools.ReadDocuments] when DocumentsErr is nil.
	Documents []string

	// DocumentsErr is returned by [Tools.ReadDocuments] when non-nil.
	DocumentsErr error

	// CloseErr is returned by [Tools.Close] when non-nil.
	CloseErr error
}

// Calls returns a copy of all recorded method invocations.
func (m *Tools) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (m *Tools) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

func (m *Tools) record(method string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: method, Args: args})
}

// ListOperations implements [bridge.Session].
func (m *Tools) ListOperations(context.Context) ([]bridge.Operation, error) {
	m.record("ListOperations")
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	out := make([]bridge.Operation, len(m.Operations))
	copy(out, m.Operations)
	return out, nil
}

// Invoke implements [bridge.Session].
func (m *Tools) Invoke(ctx context.Context, name string, args map[string]any) bridge.Result {
	m.record("Invoke", name, args)
	if m.InvokeFunc != nil {
		return m.InvokeFunc(ctx, name, args)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.Results[name]; ok {
		return r
	}
	return bridge.Result{Err: fmt.Errorf("%w: %q", bridge.ErrUnknownOperation, name)}
}

// ReadDocuments implements [bridge.Session].
func (m *Tools) ReadDocuments(_ context.Context, uris []string) ([]string, error) {
	m.record("ReadDocuments", uris)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DocumentsErr != nil {
		return nil, m.DocumentsErr
	}
	out := make([]string, len(m.Documents))
	copy(out, m.Documents)
	return out, nil
}

// Close implements [bridge.Session].
func (m *Tools) Close() error {
	m.record("Close")
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CloseErr
}

var _ bridge.Session = (*Tools)(nil)

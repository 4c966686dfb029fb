// Package mock scripts voice-activity classifiers for segmenter and gateway
// tests.
//
//	cls := &mock.Session{Probabilities: []float64{0, 0.9, 0.9, 0.1}}
//	eng := &mock.Engine{Session: cls}
package mock

import (
	"slices"
	"sync"

	"github.com/MrWong99/ipovoice/pkg/provider/vad"
)

// Engine hands out Session (or a fresh silent one) and remembers each Config
// it was asked for.
type Engine struct {
	Session vad.SessionHandle
	Err     error

	mu      sync.Mutex
	configs []vad.Config
}

var _ vad.Engine = (*Engine)(nil)

func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	e.configs = append(e.configs, cfg)
	e.mu.Unlock()
	switch {
	case e.Err != nil:
		return nil, e.Err
	case e.Session != nil:
		return e.Session, nil
	}
	return &Session{}, nil
}

// Configs lists the configs passed to NewSession, oldest first.
func (e *Engine) Configs() []vad.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.configs)
}

// Session replays Probabilities one block at a time and then keeps answering
// Default. Errs fails the block with that zero-based index.
type Session struct {
	Probabilities []float64
	Default       float64
	Errs          map[int]error

	// Blocks holds a copy of every classified block.
	Blocks         [][]float32
	ResetCallCount int
	Closed         bool

	mu     sync.Mutex
	scored int
}

var _ vad.SessionHandle = (*Session)(nil)

func (s *Session) Probability(block []float32) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := len(s.Blocks)
	s.Blocks = append(s.Blocks, slices.Clone(block))
	if err := s.Errs[idx]; err != nil {
		return 0, err
	}
	if s.scored >= len(s.Probabilities) {
		return s.Default, nil
	}
	p := s.Probabilities[s.scored]
	s.scored++
	return p, nil
}

func (s *Session) Reset() {
	s.mu.Lock()
	s.ResetCallCount++
	s.mu.Unlock()
}

func (s *Session) Close() error {
	s.mu.Lock()
	s.Closed = true
	s.mu.Unlock()
	return nil
}

// BlockCount is the number of blocks classified so far.
func (s *Session) BlockCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Blocks)
}

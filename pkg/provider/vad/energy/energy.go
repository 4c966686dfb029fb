// Package energy implements a pure-Go vad.Engine that scores blocks by their
// RMS energy.
//
// The score is the exponentially smoothed RMS of the block mapped linearly from
// [MinRMS, MaxRMS] onto [0, 1]. It needs no model files and no cgo, which makes
// it the default classifier for the gateway; a neural engine can be swapped in
// through the same interface.
package energy

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/MrWong99/ipovoice/pkg/provider/vad"
)

var _ vad.Engine = (*Engine)(nil)

const (
	defaultAlpha  = 0.3
	defaultMinRMS = 0.01
	defaultMaxRMS = 0.1
)

// ErrClosed is returned by Probability after the session has been closed.
var ErrClosed = errors.New("energy: session closed")

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithSmoothing sets the exponential smoothing factor in (0, 1]. A value of 1
// disables smoothing.
func WithSmoothing(alpha float64) Option {
	return func(e *Engine) { e.alpha = alpha }
}

// WithRange sets the RMS levels that map to probability 0 and 1 respectively.
func WithRange(minRMS, maxRMS float64) Option {
	return func(e *Engine) {
		e.minRMS = minRMS
		e.maxRMS = maxRMS
	}
}

// Engine creates energy classifier sessions. It holds no per-stream state and
// is safe for concurrent use.
type Engine struct {
	alpha  float64
	minRMS float64
	maxRMS float64
}

// New returns an Engine configured with opts. Invalid settings are reported by
// NewSession rather than here so that the engine can be built from config
// before validation runs.
func New(opts ...Option) *Engine {
	e := &Engine{
		alpha:  defaultAlpha,
		minRMS: defaultMinRMS,
		maxRMS: defaultMaxRMS,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// NewSession returns a fresh classifier session.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	cfg = cfg.WithDefaults()
	if e.alpha <= 0 || e.alpha > 1 {
		return nil, fmt.Errorf("energy: smoothing %.2f out of range (0, 1]", e.alpha)
	}
	if e.minRMS < 0 || e.maxRMS <= e.minRMS {
		return nil, fmt.Errorf("energy: invalid rms range [%.3f, %.3f]", e.minRMS, e.maxRMS)
	}
	return &session{
		blockSize: cfg.BlockSize,
		alpha:     e.alpha,
		minRMS:    e.minRMS,
		maxRMS:    e.maxRMS,
	}, nil
}

type session struct {
	blockSize int
	alpha     float64
	minRMS    float64
	maxRMS    float64

	mu       sync.Mutex
	smoothed float64
	closed   bool
}

func (s *session) Probability(block []float32) (float64, error) {
	if len(block) != s.blockSize {
		return 0, fmt.Errorf("energy: block has %d samples, want %d", len(block), s.blockSize)
	}

	var sum float64
	for _, v := range block {
		sum += float64(v) * float64(v)
	}
	rms := math.Sqrt(sum / float64(len(block)))

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrClosed
	}
	s.smoothed = s.alpha*rms + (1-s.alpha)*s.smoothed
	level := s.smoothed
	s.mu.Unlock()

	return s.toProbability(level), nil
}

func (s *session) toProbability(level float64) float64 {
	if level <= s.minRMS {
		return 0
	}
	p := (level - s.minRMS) / (s.maxRMS - s.minRMS)
	return min(p, 1)
}

func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.smoothed = 0
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

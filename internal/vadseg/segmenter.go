// Package vadseg turns an arbitrarily chunked stream of normalized samples into
// speech-start and speech-end events.
//
// Samples are carried in a remainder buffer and classified in fixed blocks
// (512 samples at 16 kHz by default). Each block is classified exactly once, in
// arrival order; after every [Segmenter.Push] the remainder holds fewer samples
// than one block. Boundary detection follows the Silero iterator rules: a block
// at or above the threshold starts speech, and speech ends once the score has
// stayed below threshold-0.15 for at least the minimum silence duration.
package vadseg

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/MrWong99/ipovoice/pkg/provider/vad"
)

// negativeOffset is subtracted from the threshold to obtain the level a block
// must fall below to count towards end-of-speech silence.
const negativeOffset = 0.15

// EventType distinguishes the two boundary kinds.
type EventType int

const (
	// SpeechStart marks the beginning of a speech segment.
	SpeechStart EventType = iota

	// SpeechEnd marks the end of a speech segment.
	SpeechEnd
)

// String returns the lower-case name of the event type.
func (t EventType) String() string {
	switch t {
	case SpeechStart:
		return "start"
	case SpeechEnd:
		return "end"
	default:
		return "unknown"
	}
}

// Event is a single speech boundary.
type Event struct {
	Type EventType

	// Sample is the boundary position in samples since the last Reset,
	// including speech padding.
	Sample int64

	// Seconds is Sample converted to seconds and rounded to one decimal.
	Seconds float64
}

// Config controls boundary detection. Zero fields take the defaults noted on
// each field.
type Config struct {
	// Threshold is the speech probability at or above which a block is speech.
	// Default: 0.5.
	Threshold float64

	// MinSilence is how long the score must stay low before speech ends.
	// Default: 100ms.
	MinSilence time.Duration

	// SpeechPad widens every segment on both sides. Default: 30ms.
	SpeechPad time.Duration

	// SampleRate of the pushed samples in Hz. Default: 16000.
	SampleRate int

	// BlockSize is the classifier block length in samples. Default: 512.
	BlockSize int
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = 0.5
	}
	if c.MinSilence <= 0 {
		c.MinSilence = 100 * time.Millisecond
	}
	if c.SpeechPad < 0 {
		c.SpeechPad = 0
	} else if c.SpeechPad == 0 {
		c.SpeechPad = 30 * time.Millisecond
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.BlockSize <= 0 {
		c.BlockSize = vad.DefaultBlockSize
	}
	return c
}

// Option is a functional option for a Segmenter.
type Option func(*Segmenter)

// WithErrorHandler registers fn to be called whenever the classifier fails on
// a block. The block is dropped either way.
func WithErrorHandler(fn func(error)) Option {
	return func(s *Segmenter) { s.onError = fn }
}

// WithLogger sets the logger used for classifier diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Segmenter) { s.log = l }
}

// Segmenter is the per-session streaming speech detector. It is not safe for
// concurrent use; the inbound audio loop owns it exclusively.
type Segmenter struct {
	cls vad.SessionHandle
	cfg Config

	minSilenceSamples int64
	padSamples        int64

	remainder []float32
	current   int64
	triggered bool
	tempEnd   int64
	processed int64
	failed    int64

	onError func(error)
	log     *slog.Logger
}

// New returns a Segmenter that classifies blocks with cls. The caller must call
// [Segmenter.Reset] once before the first Push of a session.
func New(cls vad.SessionHandle, cfg Config, opts ...Option) *Segmenter {
	cfg = cfg.withDefaults()
	s := &Segmenter{
		cls:               cls,
		cfg:               cfg,
		minSilenceSamples: durationToSamples(cfg.MinSilence, cfg.SampleRate),
		padSamples:        durationToSamples(cfg.SpeechPad, cfg.SampleRate),
		remainder:         make([]float32, 0, cfg.BlockSize*2),
		log:               slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Config returns the effective configuration after defaults were applied.
func (s *Segmenter) Config() Config { return s.cfg }

// Push appends samples to the remainder and classifies every complete block.
// It returns the boundary events in order; the slice is nil when no boundary
// was crossed.
func (s *Segmenter) Push(samples []float32) []Event {
	s.remainder = append(s.remainder, samples...)

	var events []Event
	bs := s.cfg.BlockSize
	consumed := 0
	for len(s.remainder)-consumed >= bs {
		block := s.remainder[consumed : consumed+bs]
		consumed += bs
		if ev, ok := s.classify(block); ok {
			events = append(events, ev)
		}
	}

	if consumed > 0 {
		n := copy(s.remainder, s.remainder[consumed:])
		s.remainder = s.remainder[:n]
	}
	return events
}

// classify runs one block through the classifier and the boundary rules.
func (s *Segmenter) classify(block []float32) (Event, bool) {
	bs := int64(s.cfg.BlockSize)
	s.current += bs

	prob, err := s.cls.Probability(block)
	if err != nil {
		s.failed++
		s.log.Warn("vadseg: classifier failed, dropping block",
			"sample", s.current-bs,
			"err", err,
		)
		if s.onError != nil {
			s.onError(fmt.Errorf("vadseg: classify block at sample %d: %w", s.current-bs, err))
		}
		return Event{}, false
	}
	s.processed++

	th := s.cfg.Threshold
	if prob >= th && s.tempEnd != 0 {
		s.tempEnd = 0
	}

	if prob >= th && !s.triggered {
		s.triggered = true
		start := max(0, s.current-s.padSamples-bs)
		return s.event(SpeechStart, start), true
	}

	if prob < th-negativeOffset && s.triggered {
		if s.tempEnd == 0 {
			s.tempEnd = s.current
		}
		if s.current-s.tempEnd < s.minSilenceSamples {
			return Event{}, false
		}
		end := s.tempEnd + s.padSamples - bs
		s.tempEnd = 0
		s.triggered = false
		return s.event(SpeechEnd, end), true
	}

	return Event{}, false
}

func (s *Segmenter) event(t EventType, sample int64) Event {
	secs := float64(sample) / float64(s.cfg.SampleRate)
	return Event{Type: t, Sample: sample, Seconds: math.Round(secs*10) / 10}
}

// Reset clears the remainder, the sample clock, the boundary state, and the
// classifier's own state.
func (s *Segmenter) Reset() {
	s.remainder = s.remainder[:0]
	s.current = 0
	s.triggered = false
	s.tempEnd = 0
	s.processed = 0
	s.failed = 0
	s.cls.Reset()
}

// Pending returns the number of samples waiting for a complete block.
func (s *Segmenter) Pending() int { return len(s.remainder) }

// Processed returns the number of blocks successfully classified since Reset.
func (s *Segmenter) Processed() int64 { return s.processed }

// Failed returns the number of blocks dropped because the classifier failed.
func (s *Segmenter) Failed() int64 { return s.failed }

// InSpeech reports whether a speech segment is currently open.
func (s *Segmenter) InSpeech() bool { return s.triggered }

func durationToSamples(d time.Duration, rate int) int64 {
	return int64(d) * int64(rate) / int64(time.Second)
}

// Package vad defines the Engine interface for voice-activity classifiers.
//
// A classifier scores fixed-size blocks of normalized float samples with a
// speech probability. Turning those scores into speech-start and speech-end
// boundaries is the job of the segmenter (see internal/vadseg); engines only
// answer "how likely is this block to be speech".
//
// Engines are process-wide factories created once at startup. Each audio stream
// gets its own SessionHandle so that per-stream state (smoothing history,
// recurrent model state) never leaks between connections.
package vad

// DefaultBlockSize is the number of samples per classifier block at 16 kHz.
const DefaultBlockSize = 512

// Config holds the parameters for a classifier session.
type Config struct {
	// SampleRate is the audio sample rate in Hz of the blocks passed to
	// Probability. Default: 16000.
	SampleRate int

	// BlockSize is the number of samples in every block. Probability returns an
	// error if a block of any other length is supplied. Default: 512.
	BlockSize int
}

// WithDefaults returns a copy of c with zero fields replaced by defaults.
func (c Config) WithDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.BlockSize <= 0 {
		c.BlockSize = DefaultBlockSize
	}
	return c
}

// SessionHandle classifies the blocks of a single audio stream.
//
// A SessionHandle should not be shared between goroutines unless the
// implementation explicitly guarantees concurrent safety.
type SessionHandle interface {
	// Probability returns the speech probability of block in [0, 1]. The block
	// must hold exactly Config.BlockSize samples normalized to [-1, 1].
	//
	// This method is called synchronously from the inbound audio loop; it must
	// not block.
	Probability(block []float32) (float64, error)

	// Reset clears accumulated classifier state without closing the session.
	Reset()

	// Close releases all resources associated with the session. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Engine is the factory for classifier sessions.
//
// Implementations must be safe for concurrent use: multiple goroutines may call
// NewSession simultaneously to create independent sessions.
type Engine interface {
	// NewSession creates a classifier session for cfg. Returns an error if the
	// configuration is unsupported by the engine.
	NewSession(cfg Config) (SessionHandle, error)
}

// Package s2s defines the Provider interface for speech-to-speech (S2S) model
// backends.
//
// An S2S provider wraps a realtime voice model that accepts raw PCM input and
// returns synthesised audio in a single stateful session. Besides audio the
// session carries the tool-calling protocol: the model emits [ToolCall]
// batches and the caller answers each call with a [ToolResponse] carrying the
// same ID.
//
// The central abstraction is [SessionHandle]. Its receive side is a single
// ordered [Event] channel, so a consumer sees audio, tool calls, and turn
// boundaries in the order the model produced them. Sessions are configured
// once at [Provider.Connect] time; voice, instructions, and tool declarations
// are fixed for the session's lifetime.
//
// All implementations must be safe for concurrent use.
package s2s

import (
	"context"
	"errors"
)

// ErrSessionClosed is returned by send methods after the session has been
// closed locally or its stream has ended.
var ErrSessionClosed = errors.New("s2s: session closed")

// EventType discriminates the payload of an [Event].
type EventType int

const (
	// EventAudio carries a chunk of synthesised PCM in [Event.Audio].
	EventAudio EventType = iota + 1

	// EventToolCall carries one or more tool requests in [Event.ToolCalls].
	EventToolCall

	// EventToolCallCancellation lists call IDs the model no longer needs in
	// [Event.CancelledIDs].
	EventToolCallCancellation

	// EventTurnComplete marks the end of a model turn.
	EventTurnComplete

	// EventInterrupted reports that the model stopped speaking because the
	// user barged in.
	EventInterrupted

	// EventInputTranscript carries the model's transcription of user speech in
	// [Event.Text].
	EventInputTranscript

	// EventOutputTranscript carries the text of the model's own speech in
	// [Event.Text].
	EventOutputTranscript
)

// String returns a short name for the event type.
func (t EventType) String() string {
	switch t {
	case EventAudio:
		return "audio"
	case EventToolCall:
		return "tool_call"
	case EventToolCallCancellation:
		return "tool_call_cancellation"
	case EventTurnComplete:
		return "turn_complete"
	case EventInterrupted:
		return "interrupted"
	case EventInputTranscript:
		return "input_transcript"
	case EventOutputTranscript:
		return "output_transcript"
	default:
		return "unknown"
	}
}

// Event is one item received from the model.
type Event struct {
	Type EventType

	// Audio is raw PCM for [EventAudio]. The sample rate is reported by
	// [Capabilities.OutputSampleRate].
	Audio []byte

	// ToolCalls is the batch for [EventToolCall].
	ToolCalls []ToolCall

	// CancelledIDs is set for [EventToolCallCancellation].
	CancelledIDs []string

	// Text is set for the transcript events.
	Text string
}

// ToolCall is a single function invocation requested by the model.
type ToolCall struct {
	// ID is the model-assigned correlation ID. The matching [ToolResponse]
	// must carry the same value.
	ID   string
	Name string
	Args map[string]any
}

// ToolResponse answers a [ToolCall].
type ToolResponse struct {
	ID       string
	Name     string
	Response map[string]any
}

// ToolDeclaration describes one function the model may call.
type ToolDeclaration struct {
	Name        string
	Description string

	// Parameters is a JSON Schema object describing the arguments.
	Parameters map[string]any
}

// SessionConfig is the fixed configuration of a new S2S session.
type SessionConfig struct {
	// Voice is the provider-specific prebuilt voice name. Empty selects the
	// provider default.
	Voice string

	// Instructions is the system-level prompt.
	Instructions string

	// Tools is the set of functions the model may call during the session.
	Tools []ToolDeclaration
}

// Capabilities describes static properties of a provider.
type Capabilities struct {
	// InputSampleRate is the PCM rate expected by SendAudio.
	InputSampleRate int

	// OutputSampleRate is the PCM rate of [EventAudio] payloads.
	OutputSampleRate int

	// MaxSessionDurationMs is the provider-imposed session limit in
	// milliseconds. Zero means no documented limit.
	MaxSessionDurationMs int

	// Voices lists the prebuilt voice names the provider accepts.
	Voices []string
}

// SessionHandle represents an open S2S session. It is an interface so that test
// code can supply mock implementations without a live provider connection.
//
// Send methods may be called concurrently with each other and with the
// consumer of Events. Callers must call Close when the session is no longer
// needed.
type SessionHandle interface {
	// SendAudio streams a raw PCM chunk to the model. The chunk must match
	// [Capabilities.InputSampleRate]. Returns [ErrSessionClosed] after Close.
	SendAudio(ctx context.Context, chunk []byte) error

	// SendText sends a user text turn. When endOfTurn is true the model starts
	// responding immediately.
	SendText(ctx context.Context, text string, endOfTurn bool) error

	// SendToolResponses answers one or more tool calls in a single message.
	SendToolResponses(ctx context.Context, responses ...ToolResponse) error

	// Events returns the ordered stream of model output. The channel is closed
	// when the session ends for any reason; call Err afterwards to learn
	// whether it ended cleanly.
	Events() <-chan Event

	// Err returns the error that ended the event stream, or nil if the session
	// was closed locally or the model closed it normally.
	Err() error

	// Close terminates the session and closes the Events channel once the
	// receiver has stopped. Calling Close more than once is safe and returns
	// nil.
	Close() error
}

// Provider is the abstraction over any S2S backend.
//
// Implementations must be safe for concurrent use; the gateway opens one
// session per client connection.
type Provider interface {
	// Connect establishes a new session and returns once the model has
	// acknowledged the configuration. The caller owns the returned handle and
	// must Close it.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)

	// Capabilities returns static metadata about the provider's model.
	Capabilities() Capabilities
}

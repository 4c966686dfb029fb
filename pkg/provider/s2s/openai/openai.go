// Package openai connects voice sessions to the OpenAI Realtime API, used as a
// fallback model endpoint.
//
// It establishes a bidirectional WebSocket connection to the Realtime endpoint
// and exchanges JSON events according to the Realtime protocol. The endpoint
// speaks 24 kHz PCM16 in both directions; the session upsamples the gateway's
// 16 kHz input before sending so it can stand in for any other s2s backend.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/ipovoice/pkg/audio"
	"github.com/MrWong99/ipovoice/pkg/provider/s2s"
)

var (
	_ s2s.Provider      = (*Provider)(nil)
	_ s2s.SessionHandle = (*session)(nil)
)

const (
	defaultModel   = "gpt-4o-realtime-preview"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"

	inputSampleRate = 16000
	wireSampleRate  = 24000

	transcriptionModel = "whisper-1"

	defaultSetupTimeout = 10 * time.Second
	keepaliveInterval   = 20 * time.Second
	keepaliveTimeout    = 5 * time.Second
	eventBuffer         = 64
)

var voices = []string{"alloy", "ash", "ballad", "coral", "echo", "sage", "shimmer", "verse"}

// ── Options ────────────────────────────────────────────────────────────────────

// Option configures a Provider.
type Option func(*Provider)

// WithModel selects the realtime model. Empty keeps the default.
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithBaseURL points the provider at another websocket endpoint. Empty keeps
// the default.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		if url != "" {
			p.baseURL = url
		}
	}
}

// WithSetupTimeout bounds how long Connect waits for the session.updated
// acknowledgement.
func WithSetupTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.setupTimeout = d
		}
	}
}

// WithTranscription enables input transcription. The model's own transcript
// is always delivered.
func WithTranscription(enabled bool) Option {
	return func(p *Provider) { p.transcribe = enabled }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider opens OpenAI Realtime sessions.
type Provider struct {
	apiKey       string
	model        string
	baseURL      string
	setupTimeout time.Duration
	transcribe   bool
}

// New returns a Provider authenticating with apiKey.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		baseURL:      defaultBaseURL,
		setupTimeout: defaultSetupTimeout,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Capabilities reports the 16 kHz input the gateway sends and the 24 kHz
// output the API returns.
func (p *Provider) Capabilities() s2s.Capabilities {
	return s2s.Capabilities{
		InputSampleRate:      inputSampleRate,
		OutputSampleRate:     wireSampleRate,
		MaxSessionDurationMs: 30 * 60 * 1000,
		Voices:               slices.Clone(voices),
	}
}

// Connect dials the Realtime endpoint, sends session.update, and waits for
// session.updated before returning.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	wsURL := p.baseURL + "?model=" + url.QueryEscape(p.model)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + p.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: dial: %w", err)
	}
	conn.SetReadLimit(-1)

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:   conn,
		events: make(chan s2s.Event, eventBuffer),
		done:   make(chan struct{}),
		ctx:    sessCtx,
		cancel: sessCancel,
	}

	if err := sess.writeJSON(ctx, p.sessionUpdate(cfg)); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("openai: session update: %w", err)
	}
	if err := sess.awaitSessionUpdated(ctx, p.setupTimeout); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("openai: session update: %w", err)
	}

	go sess.receiveLoop()
	go sess.keepaliveLoop()

	return sess, nil
}

// sessionUpdate builds the session.update event for cfg. Voices the endpoint
// does not know are left to the server default.
func (p *Provider) sessionUpdate(cfg s2s.SessionConfig) sessionUpdateMessage {
	params := sessionParams{
		Modalities:        []string{"audio", "text"},
		Instructions:      cfg.Instructions,
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		TurnDetection:     &turnDetection{Type: "server_vad"},
	}
	if cfg.Voice != "" {
		if slices.Contains(voices, cfg.Voice) {
			params.Voice = cfg.Voice
		} else {
			slog.Debug("openai: unsupported voice, using server default", "voice", cfg.Voice)
		}
	}
	if len(cfg.Tools) > 0 {
		params.Tools = make([]oaiTool, len(cfg.Tools))
		for i, t := range cfg.Tools {
			params.Tools[i] = oaiTool{
				Type:        "function",
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			}
		}
		params.ToolChoice = "auto"
	}
	if p.transcribe {
		params.InputAudioTranscription = &inputTranscription{Model: transcriptionModel}
	}
	return sessionUpdateMessage{Type: "session.update", Session: params}
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Modalities              []string            `json:"modalities,omitempty"`
	Voice                   string              `json:"voice,omitempty"`
	Instructions            string              `json:"instructions,omitempty"`
	Tools                   []oaiTool           `json:"tools,omitempty"`
	ToolChoice              string              `json:"tool_choice,omitempty"`
	InputAudioFormat        string              `json:"input_audio_format"`
	OutputAudioFormat       string              `json:"output_audio_format"`
	InputAudioTranscription *inputTranscription `json:"input_audio_transcription,omitempty"`
	TurnDetection           *turnDetection      `json:"turn_detection,omitempty"`
}

type oaiTool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type inputTranscription struct {
	Model string `json:"model"`
}

type turnDetection struct {
	Type string `json:"type"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

type createConversationItemMessage struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

type conversationItem struct {
	Type    string             `json:"type"`
	Role    string             `json:"role,omitempty"`
	Content []conversationPart `json:"content,omitempty"`
	CallID  string             `json:"call_id,omitempty"`
	Output  string             `json:"output,omitempty"`
}

type conversationPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type typedMessage struct {
	Type string `json:"type"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

// serverErrorDetail is the nested error object of an "error" event.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *serverErrorDetail) err() error {
	msg := e.Message
	if msg == "" {
		msg = "unknown error"
	}
	if e.Code != "" {
		return fmt.Errorf("openai: server error %s: %s", e.Code, msg)
	}
	return fmt.Errorf("openai: server error: %s", msg)
}

type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta
	Delta string `json:"delta,omitempty"`

	// response.audio_transcript.done and
	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`

	// response.function_call_arguments.done
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	CallID    string `json:"call_id,omitempty"`

	Error *serverErrorDetail `json:"error,omitempty"`
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn   *websocket.Conn
	events chan s2s.Event

	mu     sync.Mutex
	errVal error
	done   chan struct{}
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
}

// awaitSessionUpdated reads events until the server confirms the session
// configuration.
func (s *session) awaitSessionUpdated(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("await session.updated: %w", err)
		}
		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}
		switch evt.Type {
		case "error":
			if evt.Error == nil {
				evt.Error = &serverErrorDetail{}
			}
			return evt.Error.err()
		case "session.updated":
			return nil
		}
	}
}

// writeJSON sends v as one text frame.
func (s *session) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai: marshal: %w", err)
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// send writes each message in order unless the session is closed. Writes are
// bounded by both ctx and the session lifetime.
func (s *session) send(ctx context.Context, msgs ...any) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return s2s.ErrSessionClosed
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	for _, v := range msgs {
		if err := s.writeJSON(ctx, v); err != nil {
			if s.ctx.Err() != nil {
				return s2s.ErrSessionClosed
			}
			return fmt.Errorf("openai: write: %w", err)
		}
	}
	return nil
}

// receiveLoop reads events from the WebSocket and converts them to s2s events.
// It owns the events channel and closes it when it exits.
func (s *session) receiveLoop() {
	defer close(s.events)

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return
			}
			s.setErr(fmt.Errorf("openai: read: %w", err))
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			slog.Warn("openai: undecodable server event", "err", err, "bytes", len(data))
			continue
		}
		if !s.dispatch(&evt) {
			return
		}
	}
}

// dispatch emits the event carried by evt. It returns false when the loop must
// stop.
func (s *session) dispatch(evt *serverEvent) bool {
	switch evt.Type {
	case "response.audio.delta":
		pcm, err := base64.StdEncoding.DecodeString(evt.Delta)
		if err != nil || len(pcm) == 0 {
			return true
		}
		return s.emit(s2s.Event{Type: s2s.EventAudio, Audio: pcm})

	case "response.audio_transcript.done":
		if evt.Transcript == "" {
			return true
		}
		return s.emit(s2s.Event{Type: s2s.EventOutputTranscript, Text: evt.Transcript})

	case "conversation.item.input_audio_transcription.completed":
		if evt.Transcript == "" {
			return true
		}
		return s.emit(s2s.Event{Type: s2s.EventInputTranscript, Text: evt.Transcript})

	case "input_audio_buffer.speech_started":
		return s.emit(s2s.Event{Type: s2s.EventInterrupted})

	case "response.function_call_arguments.done":
		var args map[string]any
		if evt.Arguments != "" {
			if err := json.Unmarshal([]byte(evt.Arguments), &args); err != nil {
				slog.Warn("openai: malformed tool call arguments", "tool", evt.Name, "call_id", evt.CallID, "err", err)
			}
		}
		if args == nil {
			args = map[string]any{}
		}
		return s.emit(s2s.Event{
			Type:      s2s.EventToolCall,
			ToolCalls: []s2s.ToolCall{{ID: evt.CallID, Name: evt.Name, Args: args}},
		})

	case "response.done":
		return s.emit(s2s.Event{Type: s2s.EventTurnComplete})

	case "error":
		// Realtime error events describe a rejected client event; the session
		// itself stays usable.
		msg := "unknown error"
		if evt.Error != nil && evt.Error.Message != "" {
			msg = evt.Error.Message
		}
		slog.Warn("openai: server reported an error", "err", msg)
	}
	return true
}

func (s *session) emit(ev s2s.Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// keepaliveLoop sends WebSocket pings so idle sessions survive proxies.
func (s *session) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(s.ctx, keepaliveTimeout)
			_ = s.conn.Ping(pingCtx)
			cancel()
		}
	}
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

// ── SessionHandle methods ──────────────────────────────────────────────────────

// SendAudio delivers a 16 kHz PCM16 chunk to the model, upsampled to the
// endpoint's 24 kHz.
func (s *session) SendAudio(ctx context.Context, chunk []byte) error {
	pcm := audio.ResampleMono16(chunk, inputSampleRate, wireSampleRate)
	return s.send(ctx, appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(pcm),
	})
}

// SendText adds a user message to the conversation and, when endOfTurn is
// set, requests a response.
func (s *session) SendText(ctx context.Context, text string, endOfTurn bool) error {
	msgs := []any{createConversationItemMessage{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type:    "message",
			Role:    "user",
			Content: []conversationPart{{Type: "input_text", Text: text}},
		},
	}}
	if endOfTurn {
		msgs = append(msgs, typedMessage{Type: "response.create"})
	}
	return s.send(ctx, msgs...)
}

// SendToolResponses adds one function_call_output item per response and then
// asks the model to continue. Calling it with no responses is a no-op.
func (s *session) SendToolResponses(ctx context.Context, responses ...s2s.ToolResponse) error {
	if len(responses) == 0 {
		return nil
	}
	msgs := make([]any, 0, len(responses)+1)
	for _, r := range responses {
		resp := r.Response
		if resp == nil {
			resp = map[string]any{}
		}
		out, err := json.Marshal(resp)
		if err != nil {
			return fmt.Errorf("openai: marshal tool response %q: %w", r.ID, err)
		}
		msgs = append(msgs, createConversationItemMessage{
			Type: "conversation.item.create",
			Item: conversationItem{
				Type:   "function_call_output",
				CallID: r.ID,
				Output: string(out),
			},
		})
	}
	msgs = append(msgs, typedMessage{Type: "response.create"})
	return s.send(ctx, msgs...)
}

// Events returns the channel on which model output arrives.
func (s *session) Events() <-chan s2s.Event { return s.events }

// Err is the error that ended the session, or nil after a clean close.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close ends the session. Later calls return nil.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	close(s.done)
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}

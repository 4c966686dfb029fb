// Package gemini implements the s2s.Provider interface for Google's Gemini Live
// API, either through the Generative Language endpoint (API key) or through
// Vertex AI (project, location, and Application Default Credentials).
//
// It establishes a bidirectional WebSocket connection and exchanges JSON
// messages according to the BidiGenerateContent protocol. Audio is transmitted
// as base64-encoded PCM chunks; everything the model sends back is surfaced as
// an ordered stream of s2s.Event values.
package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/MrWong99/ipovoice/pkg/provider/s2s"
)

var (
	_ s2s.Provider      = (*Provider)(nil)
	_ s2s.SessionHandle = (*session)(nil)
)

const (
	defaultModel       = "gemini-2.0-flash-live-001"
	defaultVertexModel = "gemini-live-2.5-flash-native-audio"
	defaultBaseURL     = "wss://generativelanguage.googleapis.com/ws"
	defaultLocation    = "us-central1"

	apiKeyPath = "/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
	vertexPath = "/google.cloud.aiplatform.v1beta1.LlmBidiService/BidiGenerateContent"

	cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

	inputSampleRate  = 16000
	outputSampleRate = 24000
	inputMIMEType    = "audio/pcm;rate=16000"

	defaultSetupTimeout = 10 * time.Second
	keepaliveInterval   = 20 * time.Second
	keepaliveTimeout    = 5 * time.Second
	eventBuffer         = 64
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option configures a Provider.
type Option func(*Provider)

// WithModel selects the Live model. Empty keeps the default.
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

// WithTokenSource sets the OAuth2 token source used in Vertex mode instead of
// Application Default Credentials.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(p *Provider) { p.tokens = ts }
}

// WithSetupTimeout bounds how long Connect waits for the model to acknowledge
// the session configuration.
func WithSetupTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.setupTimeout = d
		}
	}
}

// WithTranscription asks the model to transcribe both the user's speech and
// its own. Transcripts arrive as input and output transcript events.
func WithTranscription(enabled bool) Option {
	return func(p *Provider) { p.transcribe = enabled }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider opens Gemini Live sessions.
type Provider struct {
	apiKey       string
	model        string
	baseURL      string
	setupTimeout time.Duration
	transcribe   bool

	// Vertex mode.
	vertex   bool
	project  string
	location string
	tokens   oauth2.TokenSource

	tokensOnce sync.Once
	tokensErr  error
}

// New creates a Provider for the Generative Language Live endpoint
// authenticated with apiKey.
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

// NewVertex creates a Provider for the Vertex AI Live endpoint of project in
// location. Unless [WithTokenSource] is given, credentials are resolved from
// the environment on first Connect.
func NewVertex(project, location string, opts ...Option) *Provider {
	if location == "" {
		location = defaultLocation
	}
	p := &Provider{
		model:        defaultVertexModel,
		baseURL:      fmt.Sprintf("wss://%s-aiplatform.googleapis.com/ws", location),
		setupTimeout: defaultSetupTimeout,
		vertex:       true,
		project:      project,
		location:     location,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Capabilities reports the Live API audio formats and session limit.
func (p *Provider) Capabilities() s2s.Capabilities {
	return s2s.Capabilities{
		InputSampleRate:      inputSampleRate,
		OutputSampleRate:     outputSampleRate,
		MaxSessionDurationMs: 15 * 60 * 1000,
		Voices:               []string{"Alnilam", "Aoede", "Charon", "Fenrir", "Kore", "Puck"},
	}
}

// Connect dials the Live endpoint, sends the setup message, and waits for the
// model's setupComplete acknowledgement before returning.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	endpoint, header, err := p.endpoint()
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, fmt.Errorf("gemini: dial: %w", err)
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

	if err := sess.writeJSON(ctx, p.setup(cfg)); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("gemini: setup: %w", err)
	}
	if err := sess.awaitSetupComplete(ctx, p.setupTimeout); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("gemini: setup: %w", err)
	}

	go sess.receiveLoop()
	go sess.keepaliveLoop()

	return sess, nil
}

// endpoint returns the dial URL and headers for the configured mode.
func (p *Provider) endpoint() (string, http.Header, error) {
	header := http.Header{"Content-Type": []string{"application/json"}}
	if !p.vertex {
		return p.baseURL + apiKeyPath + "?key=" + url.QueryEscape(p.apiKey), header, nil
	}

	ts, err := p.tokenSource()
	if err != nil {
		return "", nil, err
	}
	tok, err := ts.Token()
	if err != nil {
		return "", nil, fmt.Errorf("gemini: vertex token: %w", err)
	}
	header.Set("Authorization", "Bearer "+tok.AccessToken)
	return p.baseURL + vertexPath, header, nil
}

func (p *Provider) tokenSource() (oauth2.TokenSource, error) {
	p.tokensOnce.Do(func() {
		if p.tokens != nil {
			return
		}
		ts, err := google.DefaultTokenSource(context.Background(), cloudPlatformScope)
		if err != nil {
			p.tokensErr = fmt.Errorf("gemini: default credentials: %w", err)
			return
		}
		p.tokens = ts
	})
	return p.tokens, p.tokensErr
}

func (p *Provider) modelName() string {
	if p.vertex {
		return fmt.Sprintf("projects/%s/locations/%s/publishers/google/models/%s", p.project, p.location, p.model)
	}
	return "models/" + p.model
}

// setup builds the BidiGenerateContent setup message for cfg.
func (p *Provider) setup(cfg s2s.SessionConfig) setupMessage {
	msg := setupMessage{
		Setup: setupConfig{
			Model: p.modelName(),
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"AUDIO"},
			},
		},
	}

	if cfg.Instructions != "" {
		msg.Setup.SystemInstruction = &content{
			Parts: []part{{Text: cfg.Instructions}},
		}
	}

	if cfg.Voice != "" {
		msg.Setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{
				PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}

	if len(cfg.Tools) > 0 {
		decls := make([]functionDeclaration, len(cfg.Tools))
		for i, t := range cfg.Tools {
			decls[i] = functionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  sanitizeParameters(t.Parameters),
			}
		}
		msg.Setup.Tools = []geminiTool{{FunctionDeclarations: decls}}
	}

	if p.transcribe {
		msg.Setup.InputAudioTranscription = &struct{}{}
		msg.Setup.OutputAudioTranscription = &struct{}{}
	}
	return msg
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model                    string           `json:"model"`
	GenerationConfig         generationConfig `json:"generationConfig"`
	SystemInstruction        *content         `json:"systemInstruction,omitempty"`
	Tools                    []geminiTool     `json:"tools,omitempty"`
	InputAudioTranscription  *struct{}        `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}        `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type geminiTool struct {
	FunctionDeclarations []functionDeclaration `json:"functionDeclarations,omitempty"`
}

type functionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []inlineData `json:"mediaChunks"`
}

type clientContentMessage struct {
	ClientContent clientContent `json:"clientContent"`
}

type clientContent struct {
	Turns        []content `json:"turns"`
	TurnComplete bool      `json:"turnComplete"`
}

type toolResponseMessage struct {
	ToolResponse toolResponse `json:"toolResponse"`
}

type toolResponse struct {
	FunctionResponses []functionResponse `json:"functionResponses"`
}

type functionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverMessage struct {
	SetupComplete        *json.RawMessage      `json:"setupComplete,omitempty"`
	ServerContent        *serverContent        `json:"serverContent,omitempty"`
	ToolCall             *toolCallMsg          `json:"toolCall,omitempty"`
	ToolCallCancellation *toolCallCancellation `json:"toolCallCancellation,omitempty"`
	GoAway               *goAway               `json:"goAway,omitempty"`
	Error                *geminiError          `json:"error,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

func (e *geminiError) err() error {
	msg := e.Message
	if msg == "" {
		msg = "unknown error"
	}
	return fmt.Errorf("gemini: server error %d: %s", e.Code, msg)
}

type serverContent struct {
	ModelTurn           *content       `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type transcription struct {
	Text string `json:"text"`
}

type toolCallMsg struct {
	FunctionCalls []functionCall `json:"functionCalls"`
}

type functionCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type toolCallCancellation struct {
	IDs []string `json:"ids"`
}

type goAway struct {
	TimeLeft string `json:"timeLeft"`
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

// awaitSetupComplete reads frames until the model acknowledges the setup.
func (s *session) awaitSetupComplete(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("await setupComplete: %w", err)
		}
		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("gemini: undecodable server message", "err", err, "bytes", len(data))
			continue
		}
		if msg.Error != nil {
			return msg.Error.err()
		}
		if msg.SetupComplete != nil {
			return nil
		}
	}
}

// writeJSON sends v as one text frame.
func (s *session) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gemini: marshal: %w", err)
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// send writes v unless the session is closed. The write is bounded by both
// ctx and the session lifetime.
func (s *session) send(ctx context.Context, v any) error {
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

	if err := s.writeJSON(ctx, v); err != nil {
		if s.ctx.Err() != nil {
			return s2s.ErrSessionClosed
		}
		return fmt.Errorf("gemini: write: %w", err)
	}
	return nil
}

// receiveLoop reads messages from the WebSocket and converts them to events.
// It owns the events channel and closes it when it exits.
func (s *session) receiveLoop() {
	defer close(s.events)

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			// Local close or a normal close from the model is a clean end.
			if s.ctx.Err() != nil || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return
			}
			s.setErr(fmt.Errorf("gemini: read: %w", err))
			return
		}

		// Undecodable frames are skipped; the stream continues.
		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("gemini: undecodable server message", "err", err, "bytes", len(data))
			continue
		}

		if !s.dispatch(&msg) {
			return
		}
	}
}

// dispatch emits the events carried by msg. It returns false when the loop
// must stop.
func (s *session) dispatch(msg *serverMessage) bool {
	if msg.Error != nil {
		s.setErr(msg.Error.err())
		return false
	}
	if msg.GoAway != nil {
		slog.Warn("gemini: server will close the session soon", "time_left", msg.GoAway.TimeLeft)
	}
	if sc := msg.ServerContent; sc != nil {
		if sc.ModelTurn != nil {
			for _, p := range sc.ModelTurn.Parts {
				if p.InlineData == nil {
					continue
				}
				pcm, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
				if err != nil || len(pcm) == 0 {
					continue
				}
				if !s.emit(s2s.Event{Type: s2s.EventAudio, Audio: pcm}) {
					return false
				}
			}
		}
		if t := sc.InputTranscription; t != nil && t.Text != "" {
			if !s.emit(s2s.Event{Type: s2s.EventInputTranscript, Text: t.Text}) {
				return false
			}
		}
		if t := sc.OutputTranscription; t != nil && t.Text != "" {
			if !s.emit(s2s.Event{Type: s2s.EventOutputTranscript, Text: t.Text}) {
				return false
			}
		}
		if sc.Interrupted && !s.emit(s2s.Event{Type: s2s.EventInterrupted}) {
			return false
		}
		if sc.TurnComplete && !s.emit(s2s.Event{Type: s2s.EventTurnComplete}) {
			return false
		}
	}
	if tc := msg.ToolCall; tc != nil && len(tc.FunctionCalls) > 0 {
		calls := make([]s2s.ToolCall, len(tc.FunctionCalls))
		for i, fc := range tc.FunctionCalls {
			calls[i] = s2s.ToolCall{ID: fc.ID, Name: fc.Name, Args: fc.Args}
		}
		if !s.emit(s2s.Event{Type: s2s.EventToolCall, ToolCalls: calls}) {
			return false
		}
	}
	if c := msg.ToolCallCancellation; c != nil && len(c.IDs) > 0 {
		if !s.emit(s2s.Event{Type: s2s.EventToolCallCancellation, CancelledIDs: c.IDs}) {
			return false
		}
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

// keepaliveLoop pings until the session ends.
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

// SendAudio streams one 16 kHz mono PCM16 chunk as realtime input.
func (s *session) SendAudio(ctx context.Context, chunk []byte) error {
	return s.send(ctx, realtimeInputMessage{
		RealtimeInput: realtimeInput{
			MediaChunks: []inlineData{
				{MIMEType: inputMIMEType, Data: base64.StdEncoding.EncodeToString(chunk)},
			},
		},
	})
}

// SendText sends a single user text turn.
func (s *session) SendText(ctx context.Context, text string, endOfTurn bool) error {
	return s.send(ctx, clientContentMessage{
		ClientContent: clientContent{
			Turns:        []content{{Role: "user", Parts: []part{{Text: text}}}},
			TurnComplete: endOfTurn,
		},
	})
}

// SendToolResponses answers tool calls. Calling it with no responses is a
// no-op.
func (s *session) SendToolResponses(ctx context.Context, responses ...s2s.ToolResponse) error {
	if len(responses) == 0 {
		return nil
	}
	frs := make([]functionResponse, len(responses))
	for i, r := range responses {
		resp := r.Response
		if resp == nil {
			resp = map[string]any{}
		}
		frs[i] = functionResponse{ID: r.ID, Name: r.Name, Response: resp}
	}
	return s.send(ctx, toolResponseMessage{ToolResponse: toolResponse{FunctionResponses: frs}})
}

// Events returns the channel on which model output arrives.
func (s *session) Events() <-chan s2s.Event { return s.events }

// Err returns the first error that caused the session to terminate.
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

// Package gateway is the streaming session orchestrator. [Handler] upgrades
// each browser connection to a websocket and runs one [Session] for it: the
// session dials the tool server, configures a speech-model session with the
// advertised tools and the assembled system prompt, then relays audio in
// both directions while resolving the model's tool calls.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/ipovoice/internal/mcp/bridge"
	"github.com/MrWong99/ipovoice/internal/observe"
	"github.com/MrWong99/ipovoice/internal/vadseg"
	"github.com/MrWong99/ipovoice/pkg/provider/s2s"
	"github.com/MrWong99/ipovoice/pkg/provider/vad"
)

var (
	// ErrClientDisconnect ends a session when the browser goes away. It is the
	// expected way for a session to finish.
	ErrClientDisconnect = errors.New("gateway: client disconnected")

	// ErrModelConnection reports that the speech-model session could not be
	// opened or failed while running. It is always fatal to the session.
	ErrModelConnection = errors.New("gateway: model connection failed")

	// ErrShuttingDown is returned for connections arriving after Shutdown.
	ErrShuttingDown = errors.New("gateway: shutting down")
)

// defaultReadLimit bounds a single client message, about 24 s of base64
// encoded 16 kHz PCM16.
const defaultReadLimit = 1 << 20

// ToolDialer opens a tool session for one gateway session.
type ToolDialer func(ctx context.Context) (bridge.Session, error)

// Settings are the per-session conversational parameters. A session keeps
// the Settings it started with; [Handler.UpdateSettings] only affects new
// sessions.
type Settings struct {
	// Voice is the model's prebuilt voice.
	Voice string

	// Greeting is sent as a complete user turn right after the model session
	// opens so the assistant speaks first. Empty disables it.
	Greeting string

	// Persona is the system prompt template. Empty selects [DefaultPersona].
	Persona string

	// InputSampleRate is the rate of inbound client PCM. Zero means 16 kHz.
	InputSampleRate int

	// VAD tunes the local speech segmenter.
	VAD vadseg.Config
}

// Option configures a [Handler].
type Option func(*Handler)

// WithVAD sets the classifier engine used for local segmentation. Without
// one, sessions relay audio without segmenting it.
func WithVAD(e vad.Engine) Option {
	return func(h *Handler) { h.vad = e }
}

// WithMetrics overrides the metric instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithSettings sets the initial session settings.
func WithSettings(s Settings) Option {
	return func(h *Handler) { h.settings.Store(&s) }
}

// WithProviderName labels model metrics and logs. Providers that report the
// serving endpoint themselves override it per session.
func WithProviderName(name string) Option {
	return func(h *Handler) { h.providerName = name }
}

// WithOriginPatterns allows cross-origin browser clients matching the given
// host patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Handler) { h.originPatterns = patterns }
}

// WithContextURIs sets the resources read into the system prompt.
func WithContextURIs(uris ...string) Option {
	return func(h *Handler) { h.contextURIs = uris }
}

// Handler accepts browser websocket connections and runs one [Session] per
// connection. It is safe for concurrent use.
type Handler struct {
	provider       s2s.Provider
	dialTools      ToolDialer
	vad            vad.Engine
	metrics        *observe.Metrics
	providerName   string
	originPatterns []string
	contextURIs    []string

	settings atomic.Pointer[Settings]

	baseCtx  context.Context
	shutdown context.CancelFunc
	active   atomic.Int64

	// mu orders wg.Add against Shutdown's Wait.
	mu       sync.Mutex
	draining bool
	wg       sync.WaitGroup
}

// NewHandler creates a [Handler] that opens model sessions on provider and
// tool sessions through dialTools.
func NewHandler(provider s2s.Provider, dialTools ToolDialer, opts ...Option) *Handler {
	h := &Handler{
		provider:     provider,
		dialTools:    dialTools,
		metrics:      observe.DefaultMetrics(),
		providerName: "s2s",
	}
	h.settings.Store(&Settings{})
	for _, o := range opts {
		o(h)
	}
	h.baseCtx, h.shutdown = context.WithCancel(context.Background())
	return h
}

// UpdateSettings replaces the settings used by sessions started from now on.
// An invalid persona template is rejected and the old settings stay.
func (h *Handler) UpdateSettings(s Settings) error {
	if _, err := ParsePersona(s.Persona); err != nil {
		return err
	}
	h.settings.Store(&s)
	return nil
}

// Settings returns the settings new sessions will use.
func (h *Handler) Settings() Settings {
	return *h.settings.Load()
}

// ActiveSessions returns the number of running sessions.
func (h *Handler) ActiveSessions() int {
	return int(h.active.Load())
}

// ServeHTTP upgrades the request to a websocket and blocks until the
// session ends.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.draining {
		h.mu.Unlock()
		http.Error(w, ErrShuttingDown.Error(), http.StatusServiceUnavailable)
		return
	}
	h.wg.Add(1)
	h.mu.Unlock()
	defer h.wg.Done()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		slog.Warn("gateway: websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	conn.SetReadLimit(defaultReadLimit)

	// Server shutdown does not cancel hijacked request contexts; baseCtx
	// carries Shutdown to the session.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(h.baseCtx, cancel)
	defer stop()

	sess := h.newSession(conn)
	if err := sess.Run(ctx); err != nil {
		sess.log.Debug("session finished", "err", err)
	}
}

func (h *Handler) newSession(conn *websocket.Conn) *Session {
	id := uuid.NewString()
	return &Session{
		id:           id,
		conn:         conn,
		settings:     h.Settings(),
		provider:     h.provider,
		providerName: h.providerName,
		dialTools:    h.dialTools,
		vad:          h.vad,
		metrics:      h.metrics,
		contextURIs:  h.contextURIs,
		active:       &h.active,
		pending:      make(map[string]pendingCall),
		log:          slog.Default().With("session_id", id),
	}
}

// Shutdown stops accepting sessions, ends every running session, and waits
// for them to finish or for ctx to expire.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.draining = true
	h.mu.Unlock()
	h.shutdown()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("gateway: shutdown: %d sessions still running: %w", h.ActiveSessions(), ctx.Err())
	}
}

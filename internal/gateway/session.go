package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/ipovoice/internal/ipodata"
	"github.com/MrWong99/ipovoice/internal/mcp/bridge"
	"github.com/MrWong99/ipovoice/internal/observe"
	"github.com/MrWong99/ipovoice/internal/vadseg"
	"github.com/MrWong99/ipovoice/pkg/audio"
	"github.com/MrWong99/ipovoice/pkg/provider/s2s"
	"github.com/MrWong99/ipovoice/pkg/provider/vad"
)

// State is a session's lifecycle phase. Transitions only move forward:
// CONNECTING, ACTIVE, CLOSING, CLOSED. A setup failure skips ACTIVE.
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateClosing
	StateClosed
)

// String returns the upper-case name of the state.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateActive:
		return "ACTIVE"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// writeTimeout bounds one outbound client frame.
const writeTimeout = 10 * time.Second

// errModelEnded marks a model stream that finished without an error.
var errModelEnded = errors.New("gateway: model ended the session")

// Session outcome labels for metrics.
const (
	outcomeClientClosed = "client_closed"
	outcomeModelClosed  = "model_closed"
	outcomeModelError   = "model_error"
	outcomeSetupFailed  = "setup_failed"
	outcomeShutdown     = "shutdown"
)

// namedConnector is implemented by providers that pick one of several
// endpoints per session and report which one served it.
type namedConnector interface {
	ConnectNamed(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, string, error)
}

// Session is one browser connection and the model and tool sessions opened
// for it.
type Session struct {
	id           string
	conn         *websocket.Conn
	settings     Settings
	provider     s2s.Provider
	providerName string
	dialTools    ToolDialer
	vad          vad.Engine
	metrics      *observe.Metrics
	contextURIs  []string
	active       *atomic.Int64
	log          *slog.Logger

	state atomic.Int32

	model s2s.SessionHandle
	tools bridge.Session
	seg   *vadseg.Segmenter
	cls   vad.SessionHandle
	conv  *audio.InputConverter

	// pending is the set of tool calls awaiting a response. It is the only
	// state shared between the model pump and the tool goroutines.
	mu      sync.Mutex
	pending map[string]pendingCall
	unnamed uint64
	toolWG  sync.WaitGroup

	// stopErr is the first error that ended a pump. Guarded by mu.
	stopErr error
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle phase.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) {
	prev := State(s.state.Swap(int32(st)))
	if prev != st {
		s.log.Debug("session state", "from", prev.String(), "to", st.String())
	}
}

// Run drives the session from CONNECTING to CLOSED and returns the reason it
// ended. A client disconnect yields [ErrClientDisconnect]; setup and model
// failures wrap [ErrModelConnection] or the tool error that caused them.
func (s *Session) Run(ctx context.Context) error {
	ctx, span, log := observe.StartSession(ctx, s.id)
	defer span.End()
	s.log = log

	start := time.Now()
	s.active.Add(1)
	s.metrics.SessionStarted(ctx)
	s.log.Info("client connected")

	s.setState(StateConnecting)
	if err := s.setup(ctx); err != nil {
		s.setState(StateClosing)
		s.log.Error("session setup failed", "err", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "setup failed")
		s.release()
		_ = s.conn.Close(websocket.StatusInternalError, "session setup failed")
		s.finish(ctx, outcomeSetupFailed, start)
		return err
	}

	s.setState(StateActive)
	err := s.runPumps(ctx)
	outcome := s.outcome(ctx, err)
	if outcome == outcomeModelError {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	s.finish(ctx, outcome, start)
	return err
}

func (s *Session) finish(ctx context.Context, outcome string, start time.Time) {
	s.setState(StateClosed)
	s.active.Add(-1)
	lifetime := time.Since(start)
	s.metrics.SessionEnded(ctx, outcome, lifetime)
	s.log.Info("session closed", "outcome", outcome, "duration", lifetime.Round(time.Millisecond))
}

func (s *Session) outcome(ctx context.Context, err error) string {
	switch {
	case ctx.Err() != nil && !errors.Is(err, ErrClientDisconnect):
		return outcomeShutdown
	case errors.Is(err, ErrClientDisconnect):
		return outcomeClientClosed
	case errors.Is(err, errModelEnded):
		return outcomeModelClosed
	default:
		return outcomeModelError
	}
}

// setup performs the CONNECTING phase. Only the reference documents may
// fail softly; everything else aborts the session.
func (s *Session) setup(ctx context.Context) error {
	tmpl, err := ParsePersona(s.settings.Persona)
	if err != nil {
		return err
	}

	tools, err := s.dialTools(ctx)
	if err != nil {
		return fmt.Errorf("gateway: dial tools: %w", err)
	}
	s.tools = tools

	ops, err := tools.ListOperations(ctx)
	if err != nil {
		return fmt.Errorf("gateway: list tools: %w", err)
	}

	uris := s.contextURIs
	if len(uris) == 0 {
		uris = ipodata.ContextURIs
	}
	contextText := ContextFallback
	if docs, err := tools.ReadDocuments(ctx, uris); err != nil {
		s.log.Warn("reference documents unavailable, using fallback", "err", err)
	} else {
		contextText = BuildContext(docs)
	}
	instructions, err := RenderInstructions(tmpl, contextText)
	if err != nil {
		return err
	}

	cfg := s2s.SessionConfig{
		Voice:        s.settings.Voice,
		Instructions: instructions,
		Tools:        declarations(ops),
	}
	model, err := s.connectModel(ctx, cfg)
	if err != nil {
		return err
	}
	s.model = model

	s.startSegmenter()
	s.conv = &audio.InputConverter{SourceRate: s.settings.InputSampleRate}
	s.log.Info("session active", "tools", len(ops), "provider", s.providerName)
	return nil
}

func (s *Session) connectModel(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	start := time.Now()
	var (
		h   s2s.SessionHandle
		err error
	)
	if nc, ok := s.provider.(namedConnector); ok {
		var name string
		h, name, err = nc.ConnectNamed(ctx, cfg)
		if name != "" {
			s.providerName = name
		}
	} else {
		h, err = s.provider.Connect(ctx, cfg)
	}
	if err != nil {
		s.metrics.RecordModelConnect(ctx, s.providerName, "error", time.Since(start))
		s.metrics.RecordProviderError(ctx, s.providerName, "connect")
		return nil, fmt.Errorf("%w: %w", ErrModelConnection, err)
	}
	s.metrics.RecordModelConnect(ctx, s.providerName, "ok", time.Since(start))
	return h, nil
}

// startSegmenter opens a per-session classifier. Segmentation only feeds
// logs and metrics, so a missing or failing engine disables it.
func (s *Session) startSegmenter() {
	if s.vad == nil {
		return
	}
	cfg := s.settings.VAD
	cls, err := s.vad.NewSession(vad.Config{SampleRate: audio.ModelSampleRate, BlockSize: cfg.BlockSize})
	if err != nil {
		s.log.Warn("speech segmentation disabled", "err", err)
		return
	}
	s.cls = cls
	s.seg = vadseg.New(cls, cfg,
		vadseg.WithLogger(s.log),
		vadseg.WithErrorHandler(func(error) {
			s.metrics.RecordVADFailure(context.Background())
		}),
	)
	s.seg.Reset()
}

// runPumps runs the ACTIVE phase. Whichever pump stops first cancels the
// other; the cause decides how the client socket is closed.
func (s *Session) runPumps(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	closed := make(chan struct{})
	stop := context.AfterFunc(gctx, func() {
		defer close(closed)
		s.setState(StateClosing)
		s.mu.Lock()
		cause := s.stopErr
		s.mu.Unlock()
		s.closeClient(ctx, cause)
	})

	// Cancelling a read or write context makes the websocket library drop the
	// connection without a close frame, so socket I/O runs uncancelled and
	// closeClient unblocks it.
	ioCtx := context.WithoutCancel(ctx)
	g.Go(func() error { return s.stop(s.clientPump(ioCtx, gctx)) })
	g.Go(func() error { return s.stop(s.modelPump(ioCtx, gctx)) })

	err := g.Wait()
	if !stop() {
		<-closed
	}
	s.toolWG.Wait()
	s.release()
	return err
}

// stop records the first pump error. It runs before the group cancels, so
// closeClient always sees the cause.
func (s *Session) stop(err error) error {
	if err != nil {
		s.mu.Lock()
		if s.stopErr == nil {
			s.stopErr = err
		}
		s.mu.Unlock()
	}
	return err
}

// closeClient ends the browser connection with a status matching cause.
func (s *Session) closeClient(parent context.Context, cause error) {
	switch {
	case errors.Is(cause, ErrClientDisconnect):
		_ = s.conn.CloseNow()
	case parent.Err() != nil:
		_ = s.conn.Close(websocket.StatusGoingAway, "server shutting down")
	case errors.Is(cause, errModelEnded):
		_ = s.conn.Close(websocket.StatusNormalClosure, "session ended")
	default:
		_ = s.conn.Close(websocket.StatusInternalError, "model connection lost")
	}
}

// release closes the model, classifier, and tool sessions. Safe to call with
// any of them unset.
func (s *Session) release() {
	if s.model != nil {
		if err := s.model.Close(); err != nil {
			s.log.Warn("close model session", "err", err)
		}
		audio.Drain(s.model.Events())
	}
	if s.cls != nil {
		_ = s.cls.Close()
	}
	if s.tools != nil {
		if err := s.tools.Close(); err != nil {
			s.log.Warn("close tool session", "err", err)
		}
	}
}

// clientPump relays browser audio to the model.
func (s *Session) clientPump(ioCtx, ctx context.Context) error {
	if g := s.settings.Greeting; g != "" {
		if err := s.model.SendText(ctx, g, true); err != nil {
			return s.sendErr(ctx, "greeting", err)
		}
	}

	for {
		typ, data, err := s.conn.Read(ioCtx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: %w", ErrClientDisconnect, err)
		}
		if typ != websocket.MessageText {
			s.drop(ctx, "binary")
			continue
		}

		var env audio.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.drop(ctx, "json")
			continue
		}
		if env.Type != audio.TypeAudio {
			continue
		}
		pcm, err := audio.DecodeInbound(env)
		if err != nil {
			s.log.Debug("skipping malformed frame", "err", err)
			s.drop(ctx, "malformed")
			continue
		}
		if pcm = s.conv.Convert(pcm); len(pcm) == 0 {
			continue
		}
		s.metrics.RecordAudio(ctx, "inbound", len(pcm))

		s.segment(ctx, pcm)

		if err := s.model.SendAudio(ctx, pcm); err != nil {
			return s.sendErr(ctx, "audio", err)
		}
	}
}

func (s *Session) writeClient(ctx context.Context, env audio.Envelope) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, s.conn, env)
}

func (s *Session) segment(ctx context.Context, pcm []byte) {
	if s.seg == nil {
		return
	}
	for _, ev := range s.seg.Push(audio.ToNormalizedFloat(pcm)) {
		s.metrics.RecordVADEvent(ctx, ev.Type.String())
		s.log.Info("speech boundary", "type", ev.Type.String(), "at", ev.Seconds)
	}
}

func (s *Session) drop(ctx context.Context, reason string) {
	s.metrics.RecordDroppedFrame(ctx, reason)
}

func (s *Session) sendErr(ctx context.Context, what string, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	s.metrics.RecordProviderError(ctx, s.providerName, "send")
	return fmt.Errorf("%w: send %s: %w", ErrModelConnection, what, err)
}

// modelPump relays model output to the browser and dispatches tool calls.
func (s *Session) modelPump(ioCtx, ctx context.Context) error {
	events := s.model.Events()
	for {
		var (
			ev s2s.Event
			ok bool
		)
		select {
		case <-ctx.Done():
			return nil
		case ev, ok = <-events:
		}
		if !ok {
			if err := s.model.Err(); err != nil {
				s.metrics.RecordProviderError(ctx, s.providerName, "receive")
				return fmt.Errorf("%w: %w", ErrModelConnection, err)
			}
			return errModelEnded
		}

		switch ev.Type {
		case s2s.EventAudio:
			if err := s.writeClient(ioCtx, audio.EncodeOutbound(ev.Audio)); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("%w: %w", ErrClientDisconnect, err)
			}
			s.metrics.RecordAudio(ctx, "outbound", len(ev.Audio))
		case s2s.EventToolCall:
			s.dispatch(ctx, ev.ToolCalls)
		case s2s.EventToolCallCancellation:
			s.log.Info("model cancelled tool calls", "ids", ev.CancelledIDs)
		case s2s.EventInterrupted:
			s.log.Debug("model output interrupted")
		case s2s.EventTurnComplete:
			s.log.Debug("model turn complete")
		case s2s.EventInputTranscript:
			s.log.Info("user said", "text", ev.Text)
		case s2s.EventOutputTranscript:
			s.log.Info("assistant said", "text", ev.Text)
		}
	}
}

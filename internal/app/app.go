// Package app wires the gateway's subsystems into a running HTTP server.
//
// The App struct owns the full lifecycle: New builds the tool server, the
// per-session tool dialer, the websocket gateway, and the health and metrics
// endpoints; Run serves HTTP until its context ends; Shutdown drains live
// sessions and tears everything down in order.
//
// For testing, inject test doubles via functional options (WithToolDialer,
// WithMetrics). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/ipovoice/internal/config"
	"github.com/MrWong99/ipovoice/internal/gateway"
	"github.com/MrWong99/ipovoice/internal/health"
	"github.com/MrWong99/ipovoice/internal/ipodata"
	"github.com/MrWong99/ipovoice/internal/mcp/bridge"
	"github.com/MrWong99/ipovoice/internal/observe"
	"github.com/MrWong99/ipovoice/internal/vadseg"
	"github.com/MrWong99/ipovoice/pkg/audio"
	"github.com/MrWong99/ipovoice/pkg/provider/s2s"
	"github.com/MrWong99/ipovoice/pkg/provider/vad"
)

// StreamPath is the websocket endpoint browsers connect to.
const StreamPath = "/ws/stream"

// MCPPath serves the built-in tool server over streamable HTTP when
// tools.serve_http is set.
const MCPPath = "/mcp"

// Providers holds one interface value per provider slot. Nil VAD disables
// segmentation. Populated by main.go via the config registry.
type Providers struct {
	Model s2s.Provider
	VAD   vad.Engine
}

// availability is implemented by model providers that can report an open
// circuit breaker.
type availability interface {
	Available() bool
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	version   string

	level     *slog.LevelVar
	metrics   *observe.Metrics
	catalogue *ipodata.Catalogue
	toolSrv   *mcpsdk.Server
	dialTools gateway.ToolDialer

	gateway *gateway.Handler
	health  *health.Handler
	mux     *http.ServeMux
	server  *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithToolDialer replaces the tool dialer built from tools config.
func WithToolDialer(d gateway.ToolDialer) Option {
	return func(a *App) { a.dialTools = d }
}

// WithMetrics overrides the metric instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel sets the level variable adjusted on config reloads.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithVersion sets the version announced by the tool server.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// WithCatalogue injects the IPO catalogue instead of loading tools.catalogue.
func WithCatalogue(c *ipodata.Catalogue) Option {
	return func(a *App) { a.catalogue = c }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Model == nil {
		return nil, errors.New("app: a model provider is required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		version:   "dev",
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.level == nil {
		a.level = new(slog.LevelVar)
		a.level.Set(cfg.Server.LogLevel.SlogLevel())
	}

	if err := a.initTools(); err != nil {
		return nil, fmt.Errorf("app: init tools: %w", err)
	}
	a.initGateway()
	a.initHealth()
	a.initHTTP()
	return a, nil
}

// initTools builds the in-process tool server and, unless one was injected,
// the per-session dialer for the configured transport.
func (a *App) initTools() error {
	if a.catalogue == nil {
		cat := ipodata.Default()
		if path := a.cfg.Tools.Catalogue; path != "" {
			loaded, err := ipodata.Load(path)
			if err != nil {
				return err
			}
			cat = loaded
			slog.Info("loaded ipo catalogue", "path", path)
		}
		a.catalogue = cat
	}
	a.toolSrv = ipodata.NewServer(a.catalogue, a.version)

	if a.dialTools != nil {
		return nil
	}
	server := a.cfg.Tools.MCPServer()
	if err := server.Validate(); err != nil {
		return err
	}
	d := bridge.NewDialer(server,
		bridge.WithTimeout(a.cfg.Tools.Timeout),
		bridge.WithServer(a.toolSrv),
		bridge.WithClientName("ipovoice-gateway", a.version),
	)
	a.dialTools = func(ctx context.Context) (bridge.Session, error) {
		b, err := d.Dial(ctx)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	slog.Info("tool transport configured", "transport", server.Transport)
	return nil
}

func (a *App) initGateway() {
	opts := []gateway.Option{
		gateway.WithMetrics(a.metrics),
		gateway.WithSettings(SettingsFromConfig(a.cfg)),
		gateway.WithProviderName(a.cfg.Model.Name),
	}
	if a.providers.VAD != nil {
		opts = append(opts, gateway.WithVAD(a.providers.VAD))
	}
	a.gateway = gateway.NewHandler(a.providers.Model, a.dialTools, opts...)
}

func (a *App) initHealth() {
	a.health = health.New([]health.Checker{
		{Name: "model", Check: a.checkModel},
		{Name: "tools", Check: a.checkTools},
	}, health.WithSessionCount(a.gateway.ActiveSessions))
}

// checkModel fails while every model endpoint's circuit breaker is open.
func (a *App) checkModel(context.Context) error {
	if av, ok := a.providers.Model.(availability); ok && !av.Available() {
		return errors.New("all model endpoints unavailable")
	}
	return nil
}

// checkTools opens a tool session and lists the catalogue.
func (a *App) checkTools(ctx context.Context) error {
	sess, err := a.dialTools(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()
	ops, err := sess.ListOperations(ctx)
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		return errors.New("tool server lists no operations")
	}
	return nil
}

func (a *App) initHTTP() {
	mux := http.NewServeMux()
	mux.Handle(StreamPath, a.gateway)
	if a.cfg.Tools.ServeHTTP {
		mux.Handle(MCPPath, ipodata.HTTPHandler(a.toolSrv))
	}
	a.health.Register(mux)
	mux.Handle("/metrics", promhttp.Handler())
	a.mux = mux

	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.server.Handler }

// Gateway returns the websocket handler.
func (a *App) Gateway() *gateway.Handler { return a.gateway }

// Run listens on the configured address and serves until ctx is cancelled.
// It returns ctx.Err() on a normal stop.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve serves HTTP on ln until ctx is cancelled.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.Serve(ln)
		}
		errCh <- err
	}()

	slog.Info("gateway listening", "addr", ln.Addr().String(), "stream", StreamPath, "mcp_http", a.cfg.Tools.ServeHTTP)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// Reload applies a changed configuration. Log level and session settings
// take effect for new sessions; other changes are logged as requiring a
// restart.
func (a *App) Reload(old, updated *config.Config) {
	d := config.Diff(old, updated)
	if d.LogLevelChanged {
		a.level.Set(d.NewLogLevel.SlogLevel())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.AssistantChanged || d.VADChanged || d.AudioChanged {
		if err := a.gateway.UpdateSettings(SettingsFromConfig(updated)); err != nil {
			slog.Warn("config reload rejected", "err", err)
		} else {
			slog.Info("session settings updated", "assistant", d.AssistantChanged, "vad", d.VADChanged, "audio", d.AudioChanged)
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}
}

// Shutdown fails readiness, ends every live session, stops the HTTP server,
// and runs the remaining closers. It respects the context deadline: if ctx
// expires before all closers finish, the remaining ones are skipped and the
// context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "active_sessions", a.gateway.ActiveSessions())
		a.health.Drain()

		if err := a.gateway.Shutdown(ctx); err != nil {
			slog.Warn("gateway shutdown incomplete", "err", err)
			shutdownErr = err
		}
		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown error", "err", err)
			shutdownErr = errors.Join(shutdownErr, err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = errors.Join(shutdownErr, ctx.Err())
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// AddCloser registers fn to run at the end of Shutdown.
func (a *App) AddCloser(fn func() error) {
	a.closers = append(a.closers, fn)
}

// SettingsFromConfig derives the per-session gateway settings.
func SettingsFromConfig(cfg *config.Config) gateway.Settings {
	return gateway.Settings{
		Voice:           cfg.Model.Voice,
		Greeting:        cfg.Assistant.Greeting,
		Persona:         cfg.Assistant.Persona,
		InputSampleRate: cfg.Audio.InputSampleRate,
		VAD: vadseg.Config{
			Threshold:  cfg.VAD.Threshold,
			MinSilence: time.Duration(cfg.VAD.MinSilenceMs) * time.Millisecond,
			SpeechPad:  time.Duration(cfg.VAD.SpeechPadMs) * time.Millisecond,
			SampleRate: audio.ModelSampleRate,
		},
	}
}

// Package config provides the configuration schema, loader, hot-reload
// watcher, and provider registry for the ipovoice gateway.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/ipovoice/internal/mcp"
)

// LogLevel controls log verbosity for the gateway.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l to its [slog.Level]. Unknown or empty levels map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Model      ModelConfig      `yaml:"model"`
	Fallbacks  []ModelConfig    `yaml:"fallbacks"`
	Assistant  AssistantConfig  `yaml:"assistant"`
	Audio      AudioConfig      `yaml:"audio"`
	VAD        VADConfig        `yaml:"vad"`
	Tools      ToolsConfig      `yaml:"tools"`
	Resilience ResilienceConfig `yaml:"resilience"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	// The PORT environment variable replaces the port.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// ShutdownTimeout bounds graceful shutdown. Default: 10s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// TLS enables HTTPS when set.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ModelConfig selects and configures a speech-to-speech model endpoint. The
// Name field is the key looked up in the [Registry].
type ModelConfig struct {
	// Name selects the registered provider ("gemini-live", "gemini-vertex" or
	// "openai-realtime").
	Name string `yaml:"name"`

	// APIKey authenticates against the API-key endpoint. Filled from
	// GEMINI_API_KEY or GOOGLE_API_KEY when empty (OPENAI_API_KEY for
	// openai-realtime).
	APIKey string `yaml:"api_key"`

	// Model overrides the provider's default model.
	Model string `yaml:"model"`

	// BaseURL overrides the provider's websocket endpoint.
	BaseURL string `yaml:"base_url"`

	// Project and Location address Vertex AI. Filled from
	// GOOGLE_CLOUD_PROJECT and GOOGLE_CLOUD_LOCATION when empty.
	Project  string `yaml:"project"`
	Location string `yaml:"location"`

	// Voice is the prebuilt voice name. Default: Alnilam, or alloy for
	// openai-realtime.
	Voice string `yaml:"voice"`

	// Transcription asks the model to transcribe both directions. Transcripts
	// are logged, never stored.
	Transcription bool `yaml:"transcription"`
}

// AssistantConfig holds the conversational settings applied to each new
// session. Hot-reloadable; live sessions keep what they started with.
type AssistantConfig struct {
	// Greeting is sent as the first user turn to make the model speak first.
	// Default: "Hello. Introduce yourself."
	Greeting string `yaml:"greeting"`

	// Persona replaces the built-in system prompt template when set. It may
	// reference {{.Context}}.
	Persona string `yaml:"persona"`
}

// AudioConfig describes the inbound client audio.
type AudioConfig struct {
	// InputSampleRate is the rate the browser sends. Frames are resampled to
	// 16 kHz when it differs. Default: 16000.
	InputSampleRate int `yaml:"input_sample_rate"`
}

// VADConfig configures local voice-activity segmentation.
type VADConfig struct {
	// Engine selects the registered classifier. Default: "energy".
	Engine string `yaml:"engine"`

	// Threshold is the speech probability cutoff in (0, 1). Default: 0.5.
	Threshold float64 `yaml:"threshold"`

	// MinSilenceMs is how long silence must last to end speech. Default: 100.
	MinSilenceMs int `yaml:"min_silence_ms"`

	// SpeechPadMs widens segment boundaries. Default: 30.
	SpeechPadMs int `yaml:"speech_pad_ms"`
}

// ToolsConfig describes how sessions reach the IPO data tool server.
type ToolsConfig struct {
	// Transport is inmemory (default), stdio, or streamable-http.
	Transport mcp.Transport `yaml:"transport"`

	// Command launches the stdio server.
	Command string `yaml:"command"`

	// Env adds environment variables to the stdio server.
	Env map[string]string `yaml:"env"`

	// URL is the streamable-http endpoint.
	URL string `yaml:"url"`

	// Timeout bounds each tool invocation. Default: 30s.
	Timeout time.Duration `yaml:"timeout"`

	// Catalogue is an optional YAML file replacing the built-in IPO data
	// served by the in-process tool server.
	Catalogue string `yaml:"catalogue"`

	// ServeHTTP exposes the in-process tool server at /mcp.
	ServeHTTP bool `yaml:"serve_http"`
}

// MCPServer converts the transport settings into an [mcp.ServerConfig].
func (t ToolsConfig) MCPServer() mcp.ServerConfig {
	return mcp.ServerConfig{
		Transport: t.Transport,
		Command:   t.Command,
		Env:       t.Env,
		URL:       t.URL,
	}
}

// ResilienceConfig tunes the per-endpoint circuit breaker on model connects.
type ResilienceConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

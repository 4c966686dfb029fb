package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"slices"
	"time"

	"github.com/MrWong99/ipovoice/internal/mcp"
	"gopkg.in/yaml.v3"
)

// Provider registry keys understood by the gateway.
const (
	ProviderGeminiLive   = "gemini-live"
	ProviderGeminiVertex = "gemini-vertex"
	ProviderOpenAI       = "openai-realtime"
	VADEnergy            = "energy"

	// VADNone disables local speech segmentation.
	VADNone = "none"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"s2s": {ProviderGeminiLive, ProviderGeminiVertex, ProviderOpenAI},
	"vad": {VADEnergy, VADNone},
}

// DefaultGreeting makes the model open the conversation.
const DefaultGreeting = "Hello. Introduce yourself."

// Default returns a configuration holding every default value. It still
// needs an API key (or a Vertex project) before it validates.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// Load reads the YAML file at path, applies environment overrides and
// defaults, and validates the result. An empty path loads [Default] plus the
// environment.
func Load(path string) (*Config, error) {
	if path == "" {
		return finish(&Config{}, os.LookupEnv)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := parse(data, os.LookupEnv)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. The environment is not consulted, which keeps tests
// hermetic.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, err
	}
	return finish(cfg, nil)
}

func parse(data []byte, lookup func(string) (string, bool)) (*Config, error) {
	cfg, err := decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return finish(cfg, lookup)
}

func decode(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

func finish(cfg *Config, lookup func(string) (string, bool)) (*Config, error) {
	if lookup != nil {
		ApplyEnv(cfg, lookup)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv fills cfg from the process environment through lookup. PORT
// replaces the listen port; the credential variables only fill empty fields.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	env := func(keys ...string) string {
		for _, k := range keys {
			if v, ok := lookup(k); ok && v != "" {
				return v
			}
		}
		return ""
	}

	if port := env("PORT"); port != "" {
		host, _, err := net.SplitHostPort(cfg.Server.ListenAddr)
		if err != nil {
			host = ""
		}
		cfg.Server.ListenAddr = net.JoinHostPort(host, port)
	}

	fill := func(m *ModelConfig) {
		if m.APIKey == "" {
			if m.Name == ProviderOpenAI {
				m.APIKey = env("OPENAI_API_KEY")
			} else {
				m.APIKey = env("GEMINI_API_KEY", "GOOGLE_API_KEY")
			}
		}
		if m.Project == "" {
			m.Project = env("GOOGLE_CLOUD_PROJECT")
		}
		if m.Location == "" {
			m.Location = env("GOOGLE_CLOUD_LOCATION")
		}
	}
	fill(&cfg.Model)
	for i := range cfg.Fallbacks {
		fill(&cfg.Fallbacks[i])
	}
}

// ApplyDefaults replaces zero values in cfg with their documented defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Model.Name == "" {
		cfg.Model.Name = ProviderGeminiLive
	}
	modelDefaults(&cfg.Model)
	for i := range cfg.Fallbacks {
		modelDefaults(&cfg.Fallbacks[i])
	}

	if cfg.Assistant.Greeting == "" {
		cfg.Assistant.Greeting = DefaultGreeting
	}
	if cfg.Audio.InputSampleRate == 0 {
		cfg.Audio.InputSampleRate = 16000
	}

	if cfg.VAD.Engine == "" {
		cfg.VAD.Engine = VADEnergy
	}
	if cfg.VAD.Threshold == 0 {
		cfg.VAD.Threshold = 0.5
	}
	if cfg.VAD.MinSilenceMs == 0 {
		cfg.VAD.MinSilenceMs = 100
	}
	if cfg.VAD.SpeechPadMs == 0 {
		cfg.VAD.SpeechPadMs = 30
	}

	if cfg.Tools.Transport == "" {
		cfg.Tools.Transport = mcp.TransportInMemory
	}
	if cfg.Tools.Timeout <= 0 {
		cfg.Tools.Timeout = 30 * time.Second
	}

	if cfg.Resilience.MaxFailures <= 0 {
		cfg.Resilience.MaxFailures = 5
	}
	if cfg.Resilience.ResetTimeout <= 0 {
		cfg.Resilience.ResetTimeout = 30 * time.Second
	}
}

func modelDefaults(m *ModelConfig) {
	if m.Voice == "" {
		m.Voice = "Alnilam"
		if m.Name == ProviderOpenAI {
			m.Voice = "alloy"
		}
	}
	if m.Name == ProviderGeminiVertex && m.Location == "" {
		m.Location = "us-central1"
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	errs = append(errs, validateModel("model", cfg.Model)...)
	for i, fb := range cfg.Fallbacks {
		errs = append(errs, validateModel(fmt.Sprintf("fallbacks[%d]", i), fb)...)
	}

	if r := cfg.Audio.InputSampleRate; r < 8000 || r > 48000 {
		errs = append(errs, fmt.Errorf("audio.input_sample_rate %d is out of range [8000, 48000]", r))
	}

	validateProviderName("vad", cfg.VAD.Engine)
	if t := cfg.VAD.Threshold; t <= 0 || t >= 1 {
		errs = append(errs, fmt.Errorf("vad.threshold %.2f is out of range (0, 1)", t))
	}
	if cfg.VAD.MinSilenceMs < 0 {
		errs = append(errs, fmt.Errorf("vad.min_silence_ms %d must not be negative", cfg.VAD.MinSilenceMs))
	}

	if err := cfg.Tools.MCPServer().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("tools: %w", err))
	}
	if cfg.Tools.Catalogue != "" && cfg.Tools.Transport != mcp.TransportInMemory && !cfg.Tools.ServeHTTP {
		slog.Warn("tools.catalogue only affects the in-process tool server", "transport", cfg.Tools.Transport)
	}

	return errors.Join(errs...)
}

func validateModel(prefix string, m ModelConfig) []error {
	var errs []error
	validateProviderName("s2s", m.Name)
	switch m.Name {
	case "":
		errs = append(errs, fmt.Errorf("%s.name is required", prefix))
	case ProviderGeminiLive:
		if m.APIKey == "" {
			errs = append(errs, fmt.Errorf("%s: %s requires api_key (or GEMINI_API_KEY)", prefix, m.Name))
		}
	case ProviderOpenAI:
		if m.APIKey == "" {
			errs = append(errs, fmt.Errorf("%s: %s requires api_key (or OPENAI_API_KEY)", prefix, m.Name))
		}
	case ProviderGeminiVertex:
		if m.Project == "" {
			errs = append(errs, fmt.Errorf("%s: %s requires project (or GOOGLE_CLOUD_PROJECT)", prefix, m.Name))
		}
		if m.Location == "" {
			errs = append(errs, fmt.Errorf("%s: %s requires location", prefix, m.Name))
		}
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

package main

import (
	"log/slog"

	"github.com/MrWong99/ipovoice/internal/config"
	"github.com/MrWong99/ipovoice/pkg/provider/s2s"
	"github.com/MrWong99/ipovoice/pkg/provider/s2s/gemini"
	"github.com/MrWong99/ipovoice/pkg/provider/s2s/openai"
	"github.com/MrWong99/ipovoice/pkg/provider/vad"
	"github.com/MrWong99/ipovoice/pkg/provider/vad/energy"
)

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── S2S ───────────────────────────────────────────────────────────────────

	reg.RegisterS2S(config.ProviderGeminiLive, func(m config.ModelConfig) (s2s.Provider, error) {
		return gemini.New(m.APIKey, geminiOptions(m)...), nil
	})

	reg.RegisterS2S(config.ProviderGeminiVertex, func(m config.ModelConfig) (s2s.Provider, error) {
		return gemini.NewVertex(m.Project, m.Location, geminiOptions(m)...), nil
	})

	reg.RegisterS2S(config.ProviderOpenAI, func(m config.ModelConfig) (s2s.Provider, error) {
		opts := []openai.Option{
			openai.WithModel(m.Model),
			openai.WithBaseURL(m.BaseURL),
			openai.WithTranscription(m.Transcription),
		}
		return openai.New(m.APIKey, opts...), nil
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD(config.VADEnergy, func(config.VADConfig) (vad.Engine, error) {
		return energy.New(), nil
	})

	for _, name := range reg.S2SNames() {
		slog.Debug("registered provider", "kind", "s2s", "name", name)
	}
}

func geminiOptions(m config.ModelConfig) []gemini.Option {
	var opts []gemini.Option
	if m.Model != "" {
		opts = append(opts, gemini.WithModel(m.Model))
	}
	if m.BaseURL != "" {
		opts = append(opts, gemini.WithBaseURL(m.BaseURL))
	}
	if m.Transcription {
		opts = append(opts, gemini.WithTranscription(true))
	}
	return opts
}

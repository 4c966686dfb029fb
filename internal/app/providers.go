package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/MrWong99/ipovoice/internal/config"
	"github.com/MrWong99/ipovoice/internal/resilience"
)

// BuildProviders instantiates the providers named in cfg using the registry.
// The model provider is always a [resilience.ModelFallback] over the primary
// endpoint and any configured fallbacks, each behind its own circuit breaker.
func BuildProviders(cfg *config.Config, reg *config.Registry) (*Providers, error) {
	primary, err := reg.CreateS2S(cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("create model provider %q: %w", cfg.Model.Name, err)
	}
	slog.Info("provider created", "kind", "s2s", "name", cfg.Model.Name, "model", cfg.Model.Model)

	fbCfg := resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:   cfg.Resilience.MaxFailures,
			ResetTimeout:  cfg.Resilience.ResetTimeout,
			OnStateChange: logBreakerChange,
		},
	}
	model := resilience.NewModelFallback(primary, cfg.Model.Name, fbCfg)

	used := map[string]bool{cfg.Model.Name: true}
	for i, fb := range cfg.Fallbacks {
		p, err := reg.CreateS2S(fb)
		if err != nil {
			return nil, fmt.Errorf("create fallback provider %d (%q): %w", i, fb.Name, err)
		}
		name := fb.Name
		if used[name] {
			name += "-" + strconv.Itoa(i+2)
		}
		used[name] = true
		model.AddFallback(name, p)
		slog.Info("provider created", "kind", "s2s", "name", name, "model", fb.Model, "fallback", true)
	}

	ps := &Providers{Model: model}

	if name := cfg.VAD.Engine; name != "" && name != config.VADNone {
		e, err := reg.CreateVAD(cfg.VAD)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("vad engine not available, segmentation disabled", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create vad engine %q: %w", name, err)
		} else {
			ps.VAD = e
			slog.Info("provider created", "kind", "vad", "name", name)
		}
	}
	return ps, nil
}

func logBreakerChange(name string, from, to resilience.State) {
	lvl := slog.LevelInfo
	if to == resilience.StateOpen {
		lvl = slog.LevelWarn
	}
	slog.Log(context.Background(), lvl, "model circuit breaker changed state", "endpoint", name, "from", from.String(), "to", to.String())
}

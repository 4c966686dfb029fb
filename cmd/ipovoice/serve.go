package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MrWong99/ipovoice/internal/app"
	"github.com/MrWong99/ipovoice/internal/config"
	"github.com/MrWong99/ipovoice/internal/observe"
)

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the voice gateway",
		Long: "Run the websocket gateway on server.listen_addr. Without --config the " +
			"gateway starts from built-in defaults and the environment (PORT, GEMINI_API_KEY, " +
			"GOOGLE_CLOUD_PROJECT, GOOGLE_CLOUD_LOCATION).",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the YAML configuration file")
	return cmd
}

func serve(parent context.Context, configPath string) error {
	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file %q not found: %w", configPath, err)
		}
		return err
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := levelVar(cfg.Server.LogLevel)
	slog.SetDefault(newLogger(level))

	slog.Info("ipovoice starting",
		"version", version,
		"config", configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"model", cfg.Model.Name,
		"tools", cfg.Tools.Transport,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.Setup(observe.TelemetryConfig{ServiceVersion: version})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	providers, err := app.BuildProviders(cfg, reg)
	if err != nil {
		return err
	}

	application, err := app.New(cfg, providers,
		app.WithLogLevel(level),
		app.WithVersion(version),
	)
	if err != nil {
		return err
	}
	application.AddCloser(func() error { return telemetry.Shutdown(context.Background()) })

	// ── Hot reload ────────────────────────────────────────────────────────────
	if configPath != "" {
		w, err := config.NewWatcher(configPath, application.Reload)
		if err != nil {
			slog.Warn("config hot reload disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	slog.Info("server ready, press Ctrl+C to shut down")
	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("goodbye")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

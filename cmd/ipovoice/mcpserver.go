package main

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MrWong99/ipovoice/internal/config"
	"github.com/MrWong99/ipovoice/internal/ipodata"
)

func newMCPServerCmd() *cobra.Command {
	var (
		cataloguePath string
		logLevel      string
	)
	cmd := &cobra.Command{
		Use:   "mcp-server",
		Short: "Serve the IPO catalogue as an MCP tool server on stdin/stdout",
		Long: "Serve the IPO data tools and procedure documents over the MCP stdio " +
			"transport. Point tools.transport=stdio at this command to run the tool " +
			"server as a subprocess of the gateway.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			lvl := config.LogLevel(logLevel)
			if !lvl.IsValid() {
				return errors.New("invalid --log-level; valid values: debug, info, warn, error")
			}
			// stdout carries the protocol; logs go to stderr.
			slog.SetDefault(newLogger(levelVar(lvl)))

			cat := ipodata.Default()
			if cataloguePath != "" {
				loaded, err := ipodata.Load(cataloguePath)
				if err != nil {
					return err
				}
				cat = loaded
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			slog.Info("mcp tool server starting", "transport", "stdio", "version", version)
			err := ipodata.ServeStdio(ctx, ipodata.NewServer(cat, version))
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&cataloguePath, "catalogue", "", "YAML file overriding the built-in IPO catalogue")
	cmd.Flags().StringVar(&logLevel, "log-level", string(config.LogInfo), "log level (debug, info, warn, error)")
	return cmd
}

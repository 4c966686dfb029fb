// Command ipovoice is the entry point for the IPO voice-assistant gateway.
//
// Subcommands:
//
//	ipovoice serve       run the websocket gateway
//	ipovoice mcp-server  serve the IPO catalogue as an MCP tool server on stdio
//	ipovoice version     print the build version
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/ipovoice/internal/config"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "ipovoice",
		Short:        "Realtime IPO voice assistant gateway",
		Long:         "ipovoice relays browser audio to a realtime speech model and answers the model's questions about IPOs through an MCP tool server.",
		SilenceUsage: true,
	}
	root.AddCommand(
		newServeCmd(),
		newMCPServerCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := cmd.OutOrStdout().Write([]byte(version + "\n"))
			return err
		},
	}
}

// newLogger installs a text handler on stderr whose level follows lv.
func newLogger(lv *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv}))
}

func levelVar(level config.LogLevel) *slog.LevelVar {
	lv := new(slog.LevelVar)
	lv.Set(level.SlogLevel())
	return lv
}

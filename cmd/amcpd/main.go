// Package main provides the amcpd CLI entry point.
//
// amcpd runs the agent-control-plane server described by SPEC_FULL.md: it
// wires the event bus, tool registry, permission engine, hook pipeline,
// queue manager, agent loop, and session manager into one process and
// exposes them over HTTP/WebSocket/SSE.
//
// Usage:
//
//	amcpd serve --port 8080
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "amcpd",
		Short:        "amcpd - agent control plane daemon",
		Version:      version,
		SilenceUsage: true,
	}
	rootCmd.AddCommand(buildServeCmd(), buildVersionCmd())
	return rootCmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("amcpd " + version)
		},
	}
}

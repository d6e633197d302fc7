package main

import (
	"github.com/spf13/cobra"
)

// buildServeCmd creates the "serve" command that wires and starts the
// full agent-control-plane process, grounded on cmd/nexus/commands_serve.go's
// buildServeCmd shape.
func buildServeCmd() *cobra.Command {
	var (
		host          string
		port          int
		workspace     string
		configPath    string
		anthropicKey  string
		anthropicURL  string
		debug         bool
		transcriptDir string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the amcpd HTTP/WebSocket/SSE server",
		Long: `Start amcpd: the event bus, tool registry, permission engine, hook
pipeline, queue manager, agent loop, and session manager are constructed
and exposed over HTTP, WebSocket, and SSE.

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, serveOptions{
				Host:          host,
				Port:          port,
				Workspace:     workspace,
				ConfigPath:    configPath,
				AnthropicKey:  anthropicKey,
				AnthropicURL:  anthropicURL,
				Debug:         debug,
				TranscriptDir: transcriptDir,
			})
		},
	}

	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "Bind address")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP server port")
	cmd.Flags().StringVarP(&workspace, "workspace", "w", ".", "Workspace root for file/patch/bash/grep tools")
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config.toml (optional)")
	cmd.Flags().StringVar(&anthropicKey, "anthropic-api-key", "", "Anthropic API key (falls back to ANTHROPIC_API_KEY)")
	cmd.Flags().StringVar(&anthropicURL, "anthropic-base-url", "", "Override the Anthropic API base URL")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	cmd.Flags().StringVar(&transcriptDir, "transcript-dir", "", "Directory for best-effort session transcript persistence")

	return cmd
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/amcp-dev/amcp/internal/agentloop"
	"github.com/amcp-dev/amcp/internal/compactor"
	"github.com/amcp-dev/amcp/internal/eventbus"
	"github.com/amcp-dev/amcp/internal/hookpipe"
	"github.com/amcp-dev/amcp/internal/httpserver"
	"github.com/amcp-dev/amcp/internal/llm"
	"github.com/amcp-dev/amcp/internal/patch"
	"github.com/amcp-dev/amcp/internal/permission"
	"github.com/amcp-dev/amcp/internal/queue"
	"github.com/amcp-dev/amcp/internal/registry"
	"github.com/amcp-dev/amcp/internal/session"
	"github.com/amcp-dev/amcp/internal/tools/builtin"
	"github.com/amcp-dev/amcp/internal/tools/files"
	"github.com/amcp-dev/amcp/pkg/model"
)

type serveOptions struct {
	Host          string
	Port          int
	Workspace     string
	ConfigPath    string
	AnthropicKey  string
	AnthropicURL  string
	Debug         bool
	TranscriptDir string
}

// fileConfig is the optional config.toml overlay (spec §6.6, ambient
// "Configuration" stack in SPEC_FULL §10). A value set here applies when
// the matching flag was not given on the command line; explicit flags take
// precedence, and fields left at their zero value are ignored.
type fileConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	Workspace    string `toml:"workspace"`
	AnthropicKey string `toml:"anthropic_api_key"`
}

func loadFileConfig(path string) (fileConfig, error) {
	var cfg fileConfig
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return fileConfig{}, fmt.Errorf("amcpd: load config %s: %w", path, err)
	}
	return cfg, nil
}

// runServe wires every SPEC_FULL.md component into a single running
// process and blocks until SIGINT/SIGTERM, grounded on
// cmd/nexus/handlers_serve.go's runServe shape.
func runServe(cmd *cobra.Command, opts serveOptions) error {
	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	fileCfg, err := loadFileConfig(opts.ConfigPath)
	if err != nil {
		return err
	}
	if fileCfg.Host != "" && !cmd.Flags().Changed("host") {
		opts.Host = fileCfg.Host
	}
	if fileCfg.Port != 0 && !cmd.Flags().Changed("port") {
		opts.Port = fileCfg.Port
	}
	if fileCfg.Workspace != "" && opts.Workspace == "." {
		opts.Workspace = fileCfg.Workspace
	}
	if opts.AnthropicKey == "" {
		opts.AnthropicKey = fileCfg.AnthropicKey
	}
	if opts.AnthropicKey == "" {
		opts.AnthropicKey = os.Getenv("ANTHROPIC_API_KEY")
	}

	bus := eventbus.New(logger)

	reg := registry.New()
	if err := registerBuiltinTools(reg, opts.Workspace); err != nil {
		return fmt.Errorf("amcpd: register tools: %w", err)
	}

	perm := permission.New()
	perm.SetLayer(permission.LayerProcessDefaults, []model.PermissionRule{
		{Pattern: "read_file", Decision: model.DecisionAllow},
		{Pattern: "grep", Decision: model.DecisionAllow},
		{Pattern: "think", Decision: model.DecisionAllow},
		{Pattern: "todo", Decision: model.DecisionAllow},
		{Pattern: "write_file", Decision: model.DecisionAsk},
		{Pattern: "edit_file", Decision: model.DecisionAsk},
		{Pattern: "apply_patch", Decision: model.DecisionAsk},
		{Pattern: "bash", Decision: model.DecisionAsk},
		{Pattern: "task", Decision: model.DecisionAllow},
	})

	hooks := hookpipe.New()

	provider, err := newProvider(opts)
	if err != nil {
		return err
	}

	agents := defaultAgents()

	loop := &agentloop.Loop{
		Bus:             bus,
		Registry:        reg,
		Permission:      perm,
		Hooks:           hooks,
		Provider:        provider,
		Guard:           agentloop.DefaultResultGuard(),
		CompactorConfig: compactor.DefaultConfig(),
	}

	tracker := agentloop.NewSubagentTracker()
	if err := reg.Register(builtin.NewTaskTool(loop, tracker, agents)); err != nil {
		return fmt.Errorf("amcpd: register task tool: %w", err)
	}

	q := queue.New(bus)
	sessions := session.New(loop, q, bus, agents)
	sessions.Logger = logger
	sessions.TranscriptDir = opts.TranscriptDir

	srv := httpserver.New(httpserver.Config{
		Host:          opts.Host,
		Port:          opts.Port,
		ShutdownGrace: 10 * time.Second,
	}, sessions, reg, bus, agents, logger)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("amcpd: start server: %w", err)
	}

	logger.Info("amcpd listening", "host", opts.Host, "port", opts.Port, "workspace", opts.Workspace)

	<-ctx.Done()
	logger.Info("shutdown signal received, draining")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("amcpd: shutdown: %w", err)
	}
	bus.Close()
	logger.Info("amcpd stopped gracefully")
	return nil
}

// registerBuiltinTools wires eight of the nine built-in tools named in spec §4.B
// (read_file, write_file, edit_file, apply_patch, think, todo, grep,
// bash — task is registered separately in runServe since it needs the
// loop itself, which does not exist yet at this point in construction).
func registerBuiltinTools(reg *registry.Registry, workspace string) error {
	fileCfg := files.Config{Workspace: workspace}
	tools := []registry.Tool{
		files.NewReadTool(fileCfg),
		files.NewWriteTool(fileCfg),
		files.NewEditTool(fileCfg),
		patch.NewTool(workspace),
		builtin.NewThinkTool(),
		builtin.NewTodoTool(),
		builtin.NewGrepTool(workspace),
		builtin.NewBashTool(workspace),
	}
	for _, t := range tools {
		if err := reg.Register(t); err != nil {
			return fmt.Errorf("register %s: %w", t.Name(), err)
		}
	}
	return nil
}

func newProvider(opts serveOptions) (agentloop.LLMProvider, error) {
	if opts.AnthropicKey == "" {
		return nil, fmt.Errorf("amcpd: anthropic API key is required (--anthropic-api-key or ANTHROPIC_API_KEY)")
	}
	return llm.NewAnthropicProvider(llm.AnthropicConfig{
		APIKey:  opts.AnthropicKey,
		BaseURL: opts.AnthropicURL,
	})
}

func defaultAgents() map[string]model.AgentSpec {
	return map[string]model.AgentSpec{
		"default": {
			Name:        "default",
			Mode:        model.AgentPrimary,
			Description: "General-purpose coding agent with full tool access.",
			MaxSteps:    40,
			ModelID:     "claude-sonnet-4-20250514",
			CanDelegate: true,
		},
		"subagent": {
			Name:        "subagent",
			Mode:        model.AgentSubagent,
			Description: "Delegated sub-agent spawned by the task tool.",
			MaxSteps:    20,
			ModelID:     "claude-sonnet-4-20250514",
			CanDelegate: false,
		},
	}
}

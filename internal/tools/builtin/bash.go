package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"time"

	"github.com/amcp-dev/amcp/internal/tools/files"
	"github.com/amcp-dev/amcp/pkg/model"
)

const (
	bashDefaultTimeout = 2 * time.Minute
	bashMaxOutputBytes = 64000 // matches the teacher's Manager.maxOutput
)

// BashParams mirrors internal/tools/exec/manager.go's RunCommand inputs,
// trimmed to the synchronous case (spec §4.B's built-in roster has no
// background-process variant).
type BashParams struct {
	Command string `json:"command" jsonschema:"required,description=Shell command to run via /bin/sh -c"`
	Cwd     string `json:"cwd,omitempty" jsonschema:"description=Working directory, relative to the workspace"`
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
}

// BashTool runs a shell command synchronously, scoped to workspace and
// bounded by context cancellation. Grounded on
// internal/tools/exec/manager.go's buildCommand/runSync: /bin/sh -c
// wrapping, workspace-relative cwd resolution via the shared
// files.Resolver, and a capped output buffer. Unlike the teacher's
// Manager it has no background-process bookkeeping — spec §9 resolves
// force-cancel as "close the per-tool-call context", which
// exec.CommandContext already turns into a process kill, so there is no
// separate cancel-by-id path to implement.
type BashTool struct {
	resolver files.Resolver
}

// NewBashTool returns a bash tool scoped to workspace.
func NewBashTool(workspace string) *BashTool {
	return &BashTool{resolver: files.Resolver{Root: workspace}}
}

func (t *BashTool) Name() string        { return "bash" }
func (t *BashTool) Description() string { return "Run a shell command in the workspace and return its output." }
func (t *BashTool) Source() model.ToolSource { return model.ToolSourceBuiltin }

func (t *BashTool) Schema() model.ToolParamSchema {
	return cachedSchemaFor("bash", &BashParams{})
}

func (t *BashTool) Execute(ctx context.Context, args json.RawMessage) model.ToolResult {
	var p BashParams
	if err := json.Unmarshal(args, &p); err != nil {
		return fail("invalid parameters: " + err.Error())
	}
	if p.Command == "" {
		return fail("command is required")
	}

	dir := "."
	if p.Cwd != "" {
		dir = p.Cwd
	}
	resolvedDir, err := t.resolver.Resolve(dir)
	if err != nil {
		return fail(err.Error())
	}

	runCtx := ctx
	var cancel context.CancelFunc
	timeout := bashDefaultTimeout
	if p.TimeoutSeconds > 0 {
		timeout = time.Duration(p.TimeoutSeconds) * time.Second
	}
	runCtx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", p.Command)
	cmd.Dir = resolvedDir
	cmd.Env = os.Environ()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitWriter{buf: &stdout, limit: bashMaxOutputBytes}
	cmd.Stderr = &limitWriter{buf: &stderr, limit: bashMaxOutputBytes}

	runErr := cmd.Run()

	result := map[string]any{
		"command":   p.Command,
		"cwd":       dir,
		"stdout":    stdout.String(),
		"stderr":    stderr.String(),
		"exit_code": exitCode(runErr),
	}
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fail("encode result: " + err.Error())
	}

	if runCtx.Err() != nil {
		return model.ToolResult{Success: false, Content: string(payload), ErrorCode: string(model.ErrTimeout)}
	}
	// exit code is reported in the payload either way; command-level
	// nonzero exit is not itself a tool-level failure (spec §4.B: only
	// programming errors are Go errors, everything else is data).
	return ok(string(payload))
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// limitWriter caps how much of a command's output is retained, matching
// internal/tools/exec/manager.go's limitedBuffer behavior.
type limitWriter struct {
	buf   *bytes.Buffer
	limit int
}

func (w *limitWriter) Write(p []byte) (int, error) {
	remaining := w.limit - w.buf.Len()
	if remaining <= 0 {
		return len(p), nil
	}
	if len(p) > remaining {
		w.buf.Write(p[:remaining])
	} else {
		w.buf.Write(p)
	}
	return len(p), nil
}

// Package hookpipe runs AMCP's external-process hook pipeline (spec §4.D):
// for a given lifecycle event, every configured handler matching the event
// kind and name-regex is spawned as a subprocess, fed a JSON document on
// stdin, and classified by its exit code.
//
// Grounded on internal/tools/exec/manager.go's external-process execution
// pattern from the teacher codebase (exec.CommandContext, StdinPipe,
// capped output buffers, exit-code-based classification) — not on
// internal/hooks/*, which is an in-process callback registry and instead
// grounds internal/eventbus (spec §4.A) and the permission engine's ask
// suspension (spec §4.C). See SPEC_FULL.md §4.D.
package hookpipe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"sync"
	"time"

	"github.com/amcp-dev/amcp/pkg/model"
)

const (
	defaultTimeout  = 30 * time.Second
	maxOutputBytes  = 1 << 20 // 1MiB, matches exec/manager.go's limitedBuffer cap order of magnitude
)

// Input is the JSON document spec §4.D sends on every handler's stdin.
type Input struct {
	SessionID     string          `json:"session_id"`
	HookEventName model.HookEventKind `json:"hook_event_name"`
	Cwd           string          `json:"cwd"`
	ToolName      string          `json:"tool_name,omitempty"`
	ToolInput     json.RawMessage `json:"tool_input,omitempty"`
	ToolResponse  json.RawMessage `json:"tool_response,omitempty"`
	Prompt        string          `json:"prompt,omitempty"`
}

// Output is the optional JSON document a handler may print to stdout.
type Output struct {
	Continue          *bool           `json:"continue,omitempty"`
	Feedback          string          `json:"feedback,omitempty"`
	SystemMessage     string          `json:"systemMessage,omitempty"`
	HookSpecificOutput *HookSpecific  `json:"hookSpecificOutput,omitempty"`
}

// HookSpecific carries the permission-decision / input-rewrite / response-
// rewrite fields a hook may return.
type HookSpecific struct {
	PermissionDecision model.Decision  `json:"permissionDecision,omitempty"`
	UpdatedInput       json.RawMessage `json:"updatedInput,omitempty"`
	UpdatedResponse    json.RawMessage `json:"updatedResponse,omitempty"`
}

// Result is the outcome of running every handler for one event kind.
type Result struct {
	Blocked      bool   // exit code 2 on any handler
	DenialReason string // stderr of the blocking handler
	Output       Output // merged optional fields; a later handler's field overrides an earlier one's
}

// Pipeline runs configured handlers for each hook event kind.
type Pipeline struct {
	mu       sync.RWMutex
	handlers map[model.HookEventKind][]model.HookHandler
}

// New returns an empty Pipeline.
func New() *Pipeline {
	return &Pipeline{handlers: make(map[model.HookEventKind][]model.HookHandler)}
}

// SetHandlers replaces the handler list for kind, in configured order.
func (p *Pipeline) SetHandlers(kind model.HookEventKind, handlers []model.HookHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[kind] = handlers
}

// Run executes every enabled, name-matching handler for input.HookEventName
// in configured order. The first blocking (exit 2) handler stops the chain
// and is reported in Result.Blocked/DenialReason — later handlers are
// still not run, matching spec §4.D's "the tool call is refused."
// Non-blocking errors (any other non-zero exit, or timeout) are logged by
// the caller via the returned per-handler errs slice and otherwise
// ignored, per "on timeout the pipeline behaves as a non-blocking error."
func (p *Pipeline) Run(ctx context.Context, input Input) (Result, []error) {
	p.mu.RLock()
	handlers := append([]model.HookHandler(nil), p.handlers[input.HookEventName]...)
	p.mu.RUnlock()

	var result Result
	var errs []error

	for _, h := range handlers {
		if !h.Enabled {
			continue
		}
		if h.NameRegex != "" && input.ToolName != "" {
			matched, err := regexp.MatchString(h.NameRegex, input.ToolName)
			if err != nil || !matched {
				continue
			}
		}

		out, blocked, reason, err := p.runOne(ctx, h, input)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if blocked {
			result.Blocked = true
			result.DenialReason = reason
			return result, errs
		}
		mergeOutput(&result.Output, out)
	}
	return result, errs
}

func (p *Pipeline) runOne(ctx context.Context, h model.HookHandler, input Input) (Output, bool, string, error) {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", h.Command)
	cmd.Env = append(os.Environ(),
		"AMCP_PROJECT_DIR="+input.Cwd,
		"AMCP_SESSION_ID="+input.SessionID,
		"AMCP_HOOK_EVENT="+string(input.HookEventName),
		"AMCP_TOOL_NAME="+input.ToolName,
	)

	stdin, err := json.Marshal(input)
	if err != nil {
		return Output{}, false, "", fmt.Errorf("hookpipe: marshal input: %w", err)
	}
	cmd.Stdin = bytes.NewReader(stdin)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitedWriter{buf: &stdout, max: maxOutputBytes}
	cmd.Stderr = &limitedWriter{buf: &stderr, max: maxOutputBytes}

	runErr := cmd.Run()

	if runCtx.Err() == context.DeadlineExceeded {
		// Timeout degrades to non-blocking error (spec §4.D).
		return Output{}, false, "", fmt.Errorf("hookpipe: handler %q timed out after %s", h.Command, timeout)
	}

	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return Output{}, false, "", fmt.Errorf("hookpipe: handler %q failed to start: %w", h.Command, runErr)
		}
	}

	switch {
	case exitCode == 0:
		if stdout.Len() == 0 {
			return Output{}, false, "", nil
		}
		var out Output
		if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
			return Output{}, false, "", fmt.Errorf("hookpipe: handler %q produced invalid JSON: %w", h.Command, err)
		}
		return out, false, "", nil
	case exitCode == 2:
		return Output{}, true, stderr.String(), nil
	default:
		return Output{}, false, "", fmt.Errorf("hookpipe: handler %q exited %d: %s", h.Command, exitCode, stderr.String())
	}
}

func mergeOutput(dst *Output, src Output) {
	if src.Continue != nil {
		dst.Continue = src.Continue
	}
	if src.Feedback != "" {
		dst.Feedback = src.Feedback
	}
	if src.SystemMessage != "" {
		dst.SystemMessage = src.SystemMessage
	}
	if src.HookSpecificOutput != nil {
		dst.HookSpecificOutput = src.HookSpecificOutput
	}
}

// limitedWriter caps the number of bytes retained, matching
// exec/manager.go's limitedBuffer from the teacher codebase.
type limitedWriter struct {
	buf *bytes.Buffer
	max int
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	remaining := w.max - w.buf.Len()
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

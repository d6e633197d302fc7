// Package agentloop runs AMCP's core agent loop (spec §4.H): append the
// user message, run UserPromptSubmit hooks, compact if over threshold,
// then step the model and its tool calls until a tool-free turn, max
// steps, or cancellation.
//
// Grounded almost 1:1 on internal/agent/loop.go's AgenticLoop/LoopState
// phase state machine (Init→Stream→ExecuteTools→Continue→Complete) from
// the teacher codebase. Rewritten: tool execution now always routes
// through PreToolUse hooks → permission engine → dispatch → PostToolUse
// hooks in that fixed order (the teacher checks policy before an explicit
// pre-hook stage); tool calls within one turn run sequentially, not via
// the teacher's parallel Executor (spec §9 Open Question (b)); task-tool
// delegation is grounded on internal/multiagent/{subagent_registry,
// handoff_tool,orchestrator}.go. See SPEC_FULL.md §4.H.
package agentloop

import (
	"context"
	"time"

	"github.com/amcp-dev/amcp/pkg/model"
)

// CompletionRequest is what the loop sends the model each step.
type CompletionRequest struct {
	Model     string
	System    string
	Messages  []model.Message
	Tools     []model.ToolDescriptor
	MaxTokens int
}

// CompletionChunk is one piece of a streamed model response.
type CompletionChunk struct {
	Text     string
	ToolCall *model.ToolCall
	Error    error
}

// LLMProvider is the minimal interface the loop depends on; the HTTP
// clients behind it are out of scope (spec §1) and live in internal/llm.
type LLMProvider interface {
	Complete(ctx context.Context, req CompletionRequest) (<-chan CompletionChunk, error)
}

// ApprovalResponder resolves a permission engine "ask" suspension from a
// tool name and rendered args. It is not assignable to
// permission.ApprovalResponder, which takes a permission.Request.
type ApprovalResponder = func(ctx context.Context, toolName, argsText string) (model.Decision, error)

// ResponseChunk is one item of the stream Run returns to its caller.
type ResponseChunk struct {
	Kind       model.EventKind
	Text       string
	ToolCall   *model.ToolCall
	ToolResult *model.ToolResult
	Err        *LoopError
}

// LoopError carries the spec §6.5 error code for a terminal loop failure.
type LoopError struct {
	Code    model.ErrorCode
	Message string
}

func (e *LoopError) Error() string { return e.Message }

// RunOptions carries the per-run overrides spec §4.H's run(prompt, options)
// accepts.
type RunOptions struct {
	Priority       model.Priority
	MaxSteps       int // overrides AgentSpec.MaxSteps when > 0
	ToolTimeout    time.Duration
	SystemFeedback string // not read by Run, which applies UserPromptSubmit hook feedback itself
}

const (
	defaultMaxSteps    = 20
	defaultToolTimeout = 120 * time.Second
)

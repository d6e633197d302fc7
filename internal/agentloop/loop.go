package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/amcp-dev/amcp/internal/compactor"
	"github.com/amcp-dev/amcp/internal/eventbus"
	"github.com/amcp-dev/amcp/internal/hookpipe"
	"github.com/amcp-dev/amcp/internal/permission"
	"github.com/amcp-dev/amcp/internal/registry"
	"github.com/amcp-dev/amcp/pkg/model"
	"github.com/google/uuid"
)

// Loop ties together every other component spec §4.H's algorithm touches:
// the event bus, tool registry, permission engine, hook pipeline, and
// compactor. One Loop is shared process-wide; Run is safe to call
// concurrently for different sessions (spec §5: "different sessions run
// in parallel").
type Loop struct {
	Bus        *eventbus.Bus
	Registry   *registry.Registry
	Permission *permission.Engine
	Hooks      *hookpipe.Pipeline
	Provider   LLMProvider
	Guard      ResultGuard

	CompactorConfig compactor.Config
}

// Run executes spec §4.H's algorithm against session, mutating its
// History in place. The caller (internal/session) owns exclusive access
// to session for the run's duration.
func (l *Loop) Run(ctx context.Context, session *model.Session, prompt string, opts RunOptions) (<-chan ResponseChunk, error) {
	if l.Provider == nil {
		return nil, fmt.Errorf("agentloop: no LLMProvider configured")
	}
	out := make(chan ResponseChunk, 64)

	go func() {
		defer close(out)
		l.run(ctx, session, prompt, opts, out)
	}()
	return out, nil
}

func (l *Loop) run(ctx context.Context, session *model.Session, prompt string, opts RunOptions, out chan<- ResponseChunk) {
	maxSteps := session.Agent.MaxSteps
	if opts.MaxSteps > 0 {
		maxSteps = opts.MaxSteps
	}
	if maxSteps <= 0 {
		maxSteps = defaultMaxSteps
	}
	toolTimeout := opts.ToolTimeout
	if toolTimeout <= 0 {
		toolTimeout = defaultToolTimeout
	}

	// Step 1: append user message, emit message.start.
	userMsg := model.Message{ID: uuid.NewString(), SessionID: session.ID, Role: model.RoleUser, Content: prompt, CreatedAt: time.Now()}
	session.History = append(session.History, userMsg)
	l.emit(model.EventMessageStart, session.ID, map[string]any{"message_id": userMsg.ID})

	if l.cancelled(ctx, session, out) {
		return
	}

	// Step 2: UserPromptSubmit hooks may attach feedback as system context.
	hookResult, _ := l.Hooks.Run(ctx, hookpipe.Input{
		SessionID: session.ID, HookEventName: model.HookUserPromptSubmit, Cwd: session.Cwd, Prompt: prompt,
	})
	if hookResult.Output.Feedback != "" {
		session.History = append(session.History, model.Message{
			ID: uuid.NewString(), SessionID: session.ID, Role: model.RoleSystem,
			Content: hookResult.Output.Feedback, CreatedAt: time.Now(),
		})
	}

	// Step 3: compact if over threshold.
	if l.CompactorConfig.Estimator != nil && compactor.ShouldCompact(session.History, l.CompactorConfig) {
		result, err := compactor.Compact(ctx, session.History, l.CompactorConfig)
		if err == nil {
			session.History = result.History
			l.emit(model.EventContextCompacted, session.ID, map[string]any{
				"original_tokens":  result.OriginalTokens,
				"compacted_tokens": result.CompactedTokens,
				"strategy":         string(result.Strategy),
				"model":            result.Model,
			})
		}
	}

	var lastAssistantText string

	for step := 1; step <= maxSteps; step++ {
		if l.cancelled(ctx, session, out) {
			return
		}

		req := CompletionRequest{
			Model:    session.Agent.ModelID,
			Messages: append([]model.Message(nil), session.History...),
			Tools:    l.schemaForAgent(session.Agent),
		}

		chunks, err := l.Provider.Complete(ctx, req)
		if err != nil {
			l.fail(out, session, model.ErrLLM, err.Error())
			return
		}

		var text strings.Builder
		var toolCalls []model.ToolCall
		for chunk := range chunks {
			if chunk.Error != nil {
				l.fail(out, session, model.ErrLLM, chunk.Error.Error())
				return
			}
			if chunk.Text != "" {
				text.WriteString(chunk.Text)
				out <- ResponseChunk{Kind: model.EventMessageChunk, Text: chunk.Text}
				l.emit(model.EventMessageChunk, session.ID, map[string]any{"text": chunk.Text})
			}
			if chunk.ToolCall != nil {
				toolCalls = append(toolCalls, *chunk.ToolCall)
			}
		}
		lastAssistantText = text.String()

		assistantMsg := model.Message{
			ID: uuid.NewString(), SessionID: session.ID, Role: model.RoleAssistant,
			Content: lastAssistantText, ToolCalls: toolCalls, CreatedAt: time.Now(),
		}
		session.History = append(session.History, assistantMsg)

		if len(toolCalls) == 0 {
			l.emit(model.EventMessageComplete, session.ID, map[string]any{"message_id": assistantMsg.ID})
			out <- ResponseChunk{Kind: model.EventMessageComplete, Text: lastAssistantText}
			return
		}

		for _, tc := range toolCalls {
			if l.cancelled(ctx, session, out) {
				return
			}
			result := l.runToolCall(ctx, session, tc, toolTimeout, out)
			session.History = append(session.History, model.Message{
				ID: uuid.NewString(), SessionID: session.ID, Role: model.RoleTool,
				ToolCallID: tc.ID, Content: result.Content, CreatedAt: time.Now(),
			})
		}
	}

	// Step 5: max_steps reached without a tool-free turn.
	l.emit(model.EventMessageError, session.ID, map[string]any{"code": string(model.ErrStepLimit)})
	out <- ResponseChunk{Err: &LoopError{Code: model.ErrStepLimit, Message: "reached max steps without a final answer"}, Text: lastAssistantText}
}

// runToolCall implements step 4.d's fixed PreToolUse → permission →
// dispatch → PostToolUse ordering for one tool call.
func (l *Loop) runToolCall(ctx context.Context, session *model.Session, tc model.ToolCall, timeout time.Duration, out chan<- ResponseChunk) model.ToolResult {
	l.emit(model.EventToolCallStart, session.ID, map[string]any{"tool_call_id": tc.ID, "tool_name": tc.Name})
	out <- ResponseChunk{Kind: model.EventToolCallStart, ToolCall: &tc}

	pre, _ := l.Hooks.Run(ctx, hookpipe.Input{
		SessionID: session.ID, HookEventName: model.HookPreToolUse, Cwd: session.Cwd,
		ToolName: tc.Name, ToolInput: tc.Input,
	})
	if pre.Blocked {
		return l.denyResult(session, tc, pre.DenialReason, out)
	}
	if pre.Output.HookSpecificOutput != nil && len(pre.Output.HookSpecificOutput.UpdatedInput) > 0 {
		tc.Input = pre.Output.HookSpecificOutput.UpdatedInput
	}

	decision, _, err := l.Permission.Evaluate(ctx, permission.Request{
		ToolName: tc.Name, ArgsText: string(tc.Input), SessionID: session.ID, SessionMode: sessionMode(session), Cwd: session.Cwd,
	})
	if err != nil {
		return l.denyResult(session, tc, err.Error(), out)
	}
	if decision != model.DecisionAllow {
		return l.denyResult(session, tc, fmt.Sprintf("permission denied (%s)", decision), out)
	}

	result := l.Registry.Execute(ContextWithSession(ctx, session), tc.ID, tc.Name, tc.Input, timeout)

	post, _ := l.Hooks.Run(ctx, hookpipe.Input{
		SessionID: session.ID, HookEventName: model.HookPostToolUse, Cwd: session.Cwd,
		ToolName: tc.Name, ToolInput: tc.Input, ToolResponse: json.RawMessage(quoteJSON(result.Content)),
	})
	if post.Output.HookSpecificOutput != nil && len(post.Output.HookSpecificOutput.UpdatedResponse) > 0 {
		var updated string
		if json.Unmarshal(post.Output.HookSpecificOutput.UpdatedResponse, &updated) == nil {
			result.Content = updated
		}
	}

	result.Content = l.Guard.Redact(result.Content)

	if result.Success {
		l.emit(model.EventToolCallComplete, session.ID, map[string]any{"tool_call_id": tc.ID, "tool_name": tc.Name})
		out <- ResponseChunk{Kind: model.EventToolCallComplete, ToolResult: &result}
	} else {
		l.emit(model.EventToolCallError, session.ID, map[string]any{"tool_call_id": tc.ID, "tool_name": tc.Name, "error_code": result.ErrorCode})
		out <- ResponseChunk{Kind: model.EventToolCallError, ToolResult: &result}
	}
	return result
}

func (l *Loop) denyResult(session *model.Session, tc model.ToolCall, reason string, out chan<- ResponseChunk) model.ToolResult {
	result := model.ToolResult{ToolCallID: tc.ID, Success: false, Content: reason, ErrorCode: string(model.ErrForbidden)}
	l.emit(model.EventToolCallError, session.ID, map[string]any{"tool_call_id": tc.ID, "tool_name": tc.Name, "reason": reason})
	out <- ResponseChunk{Kind: model.EventToolCallError, ToolResult: &result}
	return result
}

func (l *Loop) schemaForAgent(spec model.AgentSpec) []model.ToolDescriptor {
	return l.Registry.SchemaForModel(spec)
}

func (l *Loop) fail(out chan<- ResponseChunk, session *model.Session, code model.ErrorCode, msg string) {
	l.emit(model.EventMessageError, session.ID, map[string]any{"code": string(code), "message": msg})
	out <- ResponseChunk{Err: &LoopError{Code: code, Message: msg}}
}

func (l *Loop) emit(kind model.EventKind, sessionID string, payload map[string]any) {
	if l.Bus == nil {
		return
	}
	l.Bus.Emit(model.Event{Kind: kind, SessionID: sessionID, Timestamp: time.Now().UnixNano(), Payload: payload})
}

// cancelled checks ctx at a suspension point; on cancellation it emits
// message.error{CANCELLED} and sends a CANCELLED error chunk on out
// (spec §4.H, §5).
func (l *Loop) cancelled(ctx context.Context, session *model.Session, out chan<- ResponseChunk) bool {
	select {
	case <-ctx.Done():
		l.emit(model.EventMessageError, session.ID, map[string]any{"code": string(model.ErrCancelled), "message": ctx.Err().Error()})
		out <- ResponseChunk{Err: &LoopError{Code: model.ErrCancelled, Message: ctx.Err().Error()}}
		return true
	default:
		return false
	}
}

func sessionMode(session *model.Session) model.SessionMode {
	// Session-scoped mode is not part of model.Session's persisted fields
	// (spec §4.C's mode is a per-run override); default to normal unless
	// a future field carries it explicitly.
	return model.ModeNormal
}

func quoteJSON(s string) []byte {
	b, err := json.Marshal(s)
	if err != nil {
		return []byte(`""`)
	}
	return b
}

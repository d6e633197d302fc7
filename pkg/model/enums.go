// Package model holds the wire and in-process data shapes shared by every
// AMCP subsystem: sessions, messages, tools, permission rules, hooks and
// events. Types here are exported because both internal/session and
// internal/protocol (and, eventually, an external Go SDK) need identical
// shapes.
package model

// SessionStatus is the lifecycle state of a Session.
type SessionStatus string

const (
	SessionIdle      SessionStatus = "idle"
	SessionBusy      SessionStatus = "busy"
	SessionCancelled SessionStatus = "cancelled"
	SessionError     SessionStatus = "error"
)

// Role identifies who produced a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Priority orders QueuedMessages within a session.
type Priority int

const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 1
	PriorityHigh   Priority = 2
	PriorityUrgent Priority = 3
)

// AgentMode distinguishes a top-level agent from a delegated sub-agent.
type AgentMode string

const (
	AgentPrimary  AgentMode = "primary"
	AgentSubagent AgentMode = "subagent"
)

// ToolSource tags where a Tool came from.
type ToolSource string

const (
	ToolSourceBuiltin ToolSource = "builtin"
	ToolSourceMCP     ToolSource = "mcp"
)

// Decision is the outcome of evaluating a PermissionRule.
type Decision string

const (
	DecisionAllow    Decision = "allow"
	DecisionAsk      Decision = "ask"
	DecisionDeny     Decision = "deny"
	DecisionDelegate Decision = "delegate"
)

// SessionMode is a session-scoped override applied atop rule decisions.
type SessionMode string

const (
	ModeNormal SessionMode = "normal"
	ModeYolo   SessionMode = "yolo"
	ModeStrict SessionMode = "strict"
)

// HookEventKind is the closed set of lifecycle points hooks attach to.
type HookEventKind string

const (
	HookPreToolUse        HookEventKind = "PreToolUse"
	HookPostToolUse       HookEventKind = "PostToolUse"
	HookUserPromptSubmit  HookEventKind = "UserPromptSubmit"
	HookSessionStart      HookEventKind = "SessionStart"
	HookSessionEnd        HookEventKind = "SessionEnd"
	HookStop              HookEventKind = "Stop"
	HookPreCompact        HookEventKind = "PreCompact"
)

// HookType is how a HookHandler is invoked.
type HookType string

const (
	HookTypeCommand  HookType = "command"
	HookTypeScript   HookType = "script"
	HookTypeFunction HookType = "function"
)

// ConflictStrategy is how enqueue behaves when a session is already busy.
type ConflictStrategy string

const (
	ConflictQueue  ConflictStrategy = "queue"
	ConflictReject ConflictStrategy = "reject"
)

// EventKind is the closed taxonomy from spec §6.3.
type EventKind string

const (
	EventSessionCreated       EventKind = "session.created"
	EventSessionDeleted       EventKind = "session.deleted"
	EventSessionStatusChanged EventKind = "session.status_changed"
	EventMessageStart         EventKind = "message.start"
	EventMessageChunk         EventKind = "message.chunk"
	EventMessageComplete      EventKind = "message.complete"
	EventMessageError         EventKind = "message.error"
	EventToolCallStart        EventKind = "tool.call_start"
	EventToolCallComplete     EventKind = "tool.call_complete"
	EventToolCallError        EventKind = "tool.call_error"
	EventAgentThinking        EventKind = "agent.thinking"
	EventAgentIdle            EventKind = "agent.idle"
	EventPromptReceived       EventKind = "prompt.received"
	EventPromptStarted        EventKind = "prompt.started"
	EventPromptQueued         EventKind = "prompt.queued"
	EventPromptRejected       EventKind = "prompt.rejected"
	EventContextCompacted     EventKind = "context.compacted"
	EventShutdown             EventKind = "SHUTDOWN"
)

// Priority classes for event-bus handler dispatch ordering.
type HandlerPriority int

const (
	PriorityCritical HandlerPriority = 3
	PriorityHighH    HandlerPriority = 2
	PriorityNormalH  HandlerPriority = 1
	PriorityLowH     HandlerPriority = 0
)

// ErrorCode is the closed set of API-facing error identifiers (spec §6.5).
type ErrorCode string

const (
	ErrBadRequest       ErrorCode = "BAD_REQUEST"
	ErrValidation       ErrorCode = "VALIDATION_ERROR"
	ErrInvalidJSON      ErrorCode = "INVALID_JSON"
	ErrUnauthorized     ErrorCode = "UNAUTHORIZED"
	ErrForbidden        ErrorCode = "FORBIDDEN"
	ErrNotFound         ErrorCode = "NOT_FOUND"
	ErrSessionNotFound  ErrorCode = "SESSION_NOT_FOUND"
	ErrToolNotFound     ErrorCode = "TOOL_NOT_FOUND"
	ErrAgentNotFound    ErrorCode = "AGENT_NOT_FOUND"
	ErrConflict         ErrorCode = "CONFLICT"
	ErrSessionBusy      ErrorCode = "SESSION_BUSY"
	ErrRateLimited      ErrorCode = "RATE_LIMITED"
	ErrInternal         ErrorCode = "INTERNAL_ERROR"
	ErrLLM              ErrorCode = "LLM_ERROR"
	ErrTool             ErrorCode = "TOOL_ERROR"
	ErrMCP              ErrorCode = "MCP_ERROR"
	ErrTimeout          ErrorCode = "TIMEOUT"
	ErrCancelled        ErrorCode = "CANCELLED"
	ErrStepLimit        ErrorCode = "STEP_LIMIT"
)

// HTTPStatus returns the status code spec §6.5 assigns to code.
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case ErrBadRequest, ErrValidation, ErrInvalidJSON:
		return 400
	case ErrUnauthorized:
		return 401
	case ErrForbidden:
		return 403
	case ErrNotFound, ErrSessionNotFound, ErrToolNotFound, ErrAgentNotFound:
		return 404
	case ErrConflict, ErrSessionBusy:
		return 409
	case ErrRateLimited:
		return 429
	case ErrTimeout:
		return 504
	case ErrInternal, ErrLLM, ErrTool, ErrMCP:
		return 500
	default:
		return 500
	}
}

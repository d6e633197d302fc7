package model

import (
	"encoding/json"
	"time"
)

// Attachment is a file or blob carried alongside a Message or QueuedMessage.
type Attachment struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	URL      string `json:"url,omitempty"`
	Filename string `json:"filename,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// ToolCall is a single tool invocation requested by an assistant turn.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult is the outcome of executing a Tool, always a total result —
// execute() never raises, so every failure mode lands here with
// Success=false (spec §4.B's execution contract).
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Success    bool   `json:"success"`
	Content    string `json:"content"`
	ErrorCode  string `json:"error_code,omitempty"`
}

// Message is one turn of conversation history. Messages are append-only
// within a session except for compaction, which replaces a prefix with a
// summary message.
type Message struct {
	ID          string       `json:"id"`
	SessionID   string       `json:"session_id"`
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolCallID  string       `json:"tool_call_id,omitempty"` // set when Role == RoleTool
	Attachments []Attachment `json:"attachments,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// AgentSpec configures one agent's behavior within a session.
type AgentSpec struct {
	Name              string    `json:"name"`
	Mode              AgentMode `json:"mode"`
	Description       string    `json:"description,omitempty"`
	SystemPromptRef   string    `json:"system_prompt_ref,omitempty"`
	AllowedTools      []string  `json:"allowed_tools,omitempty"` // empty = all
	ExcludedTools     []string  `json:"excluded_tools,omitempty"`
	MaxSteps          int       `json:"max_steps"`
	ModelID           string    `json:"model_id"`
	BaseURL           string    `json:"base_url,omitempty"`
	CanDelegate       bool      `json:"can_delegate"`
}

// TokenUsage is a session's rolling token counters (supplemented feature,
// grounded on internal/usage and internal/status/cost.go).
type TokenUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// Session is the durable stateful scope of a conversation. Owned exclusively
// by the session manager; destroyed on explicit delete or process shutdown.
type Session struct {
	ID               string        `json:"id"`
	Cwd              string        `json:"cwd"`
	Agent            AgentSpec     `json:"agent"`
	History          []Message     `json:"history"`
	Status           SessionStatus `json:"status"`
	Usage            TokenUsage    `json:"token_usage"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
	QueuedCount      int           `json:"queued_count"`
	ConnectedClients int           `json:"connected_clients"`
}

// QueuedMessage is a prompt waiting for its session to become idle.
type QueuedMessage struct {
	ID          string            `json:"id"`
	SessionID   string            `json:"session_id"`
	Content     string            `json:"content"`
	Attachments []Attachment      `json:"attachments,omitempty"`
	Priority    Priority          `json:"priority"`
	EnqueuedAt  time.Time         `json:"enqueued_at"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// ToolParamSchema is the JSON-schema document advertised to the model for
// one tool (spec §4.B schema_for_model).
type ToolParamSchema = json.RawMessage

// ToolDescriptor is the name/description/schema triple returned by
// schema_for_model, independent of the executable behind it.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  ToolParamSchema `json:"parameters"`
	Source      ToolSource     `json:"source"`
}

// PermissionRule is one entry in a permission layer. Rules are ordered
// most-general to most-specific; the last matching rule wins.
type PermissionRule struct {
	Pattern        string   `json:"pattern"`
	ArgPattern     string   `json:"arg_pattern,omitempty"`
	Decision       Decision `json:"decision"`
	DelegateCmd    string   `json:"delegate_cmd,omitempty"`
}

// HookHandler configures one external-process hook.
type HookHandler struct {
	Event      HookEventKind `json:"event"`
	NameRegex  string        `json:"name_regex,omitempty"`
	Type       HookType      `json:"type"`
	Command    string        `json:"command"`
	Timeout    time.Duration `json:"timeout"`
	Enabled    bool          `json:"enabled"`
}

// Event is a single bus message. Kind comes from the closed taxonomy in
// spec §6.3; Payload shape depends on Kind.
type Event struct {
	Kind      EventKind      `json:"kind"`
	SourceID  string         `json:"source_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Timestamp int64          `json:"timestamp"` // unix nanos, monotonic within process
	Payload   map[string]any `json:"payload,omitempty"`
}

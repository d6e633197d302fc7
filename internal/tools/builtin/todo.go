package builtin

import (
	"context"
	"encoding/json"

	"github.com/amcp-dev/amcp/pkg/model"
)

// TodoItem is one entry in a todo tool call.
type TodoItem struct {
	Content  string `json:"content" jsonschema:"required,minLength=1"`
	Status   string `json:"status" jsonschema:"enum=pending,enum=in_progress,enum=completed"`
	ActiveForm string `json:"active_form,omitempty"`
}

// TodoParams replaces the model's entire todo list with Items on every
// call — the tool has no server-side state of its own; the session's
// message history is the list's only durable record, matching
// spec §9's "process-global mutable singletons become explicit services"
// principle applied to tool state as well (no hidden list to desync).
type TodoParams struct {
	Items []TodoItem `json:"items"`
}

// TodoTool validates and echoes back a structured task list so the model
// can track multi-step plans in its own transcript.
type TodoTool struct{}

func NewTodoTool() *TodoTool { return &TodoTool{} }

func (t *TodoTool) Name() string        { return "todo" }
func (t *TodoTool) Description() string { return "Replace the current task checklist with the given items." }
func (t *TodoTool) Source() model.ToolSource { return model.ToolSourceBuiltin }

func (t *TodoTool) Schema() model.ToolParamSchema {
	return cachedSchemaFor("todo", &TodoParams{})
}

func (t *TodoTool) Execute(ctx context.Context, args json.RawMessage) model.ToolResult {
	var p TodoParams
	if err := json.Unmarshal(args, &p); err != nil {
		return fail("invalid parameters: " + err.Error())
	}
	for i, item := range p.Items {
		if item.Content == "" {
			return fail("items[].content is required")
		}
		switch item.Status {
		case "pending", "in_progress", "completed":
		default:
			return fail("items[].status must be one of pending, in_progress, completed")
		}
		_ = i
	}
	payload, err := json.Marshal(map[string]any{"items": p.Items, "count": len(p.Items)})
	if err != nil {
		return fail("encode result: " + err.Error())
	}
	return ok(string(payload))
}

package builtin

import (
	"context"
	"encoding/json"

	"github.com/amcp-dev/amcp/pkg/model"
)

// ThinkParams is think's sole argument: free-form scratch reasoning the
// model writes out before acting. Grounded on the common "thinking tool"
// pattern used by agent harnesses to force deliberate reasoning steps
// into the transcript without those steps counting as a real side effect.
type ThinkParams struct {
	Thought string `json:"thought" jsonschema:"description=The reasoning to record before continuing,minLength=1"`
}

// ThinkTool is a pure no-op: it records the thought in the tool-result
// transcript (so it shows up in session history) and changes nothing
// else. Useful for forcing an explicit reasoning step between tool calls.
type ThinkTool struct{}

func NewThinkTool() *ThinkTool { return &ThinkTool{} }

func (t *ThinkTool) Name() string        { return "think" }
func (t *ThinkTool) Description() string { return "Record a reasoning step without taking any action." }
func (t *ThinkTool) Source() model.ToolSource { return model.ToolSourceBuiltin }

func (t *ThinkTool) Schema() model.ToolParamSchema {
	return cachedSchemaFor("think", &ThinkParams{})
}

func (t *ThinkTool) Execute(ctx context.Context, args json.RawMessage) model.ToolResult {
	var p ThinkParams
	if err := json.Unmarshal(args, &p); err != nil {
		return fail("invalid parameters: " + err.Error())
	}
	if p.Thought == "" {
		return fail("thought is required")
	}
	return ok(p.Thought)
}

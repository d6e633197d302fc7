package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/amcp-dev/amcp/internal/agentloop"
	"github.com/amcp-dev/amcp/pkg/model"
)

// TaskParams names which registered sub-agent spec to delegate to and the
// task description it should receive as its own first prompt.
type TaskParams struct {
	AgentName string `json:"agent_name" jsonschema:"required,description=Name of a registered subagent AgentSpec to delegate to"`
	Task      string `json:"task" jsonschema:"required,minLength=1,description=The task description the subagent should work on"`
}

// TaskTool implements spec §4.H's delegation built-in: "when can_delegate,
// the agent can spawn a sub-agent with a restricted AgentSpec ... results
// return as the task tool's result." Grounded on
// internal/multiagent/orchestrator.go's handoff shape via
// agentloop.Loop.RunSubagent, which already does the session-spawning
// work; this tool is the thin registry.Tool adapter around it.
//
// Execute needs the calling session (RunSubagent delegates relative to
// its cwd, bus, and can_delegate flag) which registry.Tool's interface
// doesn't pass directly, so it is recovered from ctx via
// agentloop.ContextWithSession, set by the loop around every tool call.
type TaskTool struct {
	Loop    *agentloop.Loop
	Tracker *agentloop.SubagentTracker
	Agents  map[string]model.AgentSpec
}

// NewTaskTool returns a task tool that delegates through loop, tracking
// runs in tracker and resolving agent_name against agents.
func NewTaskTool(loop *agentloop.Loop, tracker *agentloop.SubagentTracker, agents map[string]model.AgentSpec) *TaskTool {
	return &TaskTool{Loop: loop, Tracker: tracker, Agents: agents}
}

func (t *TaskTool) Name() string        { return "task" }
func (t *TaskTool) Description() string { return "Delegate a task to a named subagent and return its final answer." }
func (t *TaskTool) Source() model.ToolSource { return model.ToolSourceBuiltin }

func (t *TaskTool) Schema() model.ToolParamSchema {
	return cachedSchemaFor("task", &TaskParams{})
}

func (t *TaskTool) Execute(ctx context.Context, args json.RawMessage) model.ToolResult {
	var p TaskParams
	if err := json.Unmarshal(args, &p); err != nil {
		return fail("invalid parameters: " + err.Error())
	}
	if p.AgentName == "" || p.Task == "" {
		return fail("agent_name and task are required")
	}

	spec, known := t.Agents[p.AgentName]
	if !known {
		return fail(fmt.Sprintf("unknown subagent %q", p.AgentName))
	}

	parent, found := agentloop.SessionFromContext(ctx)
	if !found {
		return fail("task tool has no parent session in context")
	}

	result, err := t.Loop.RunSubagent(ctx, parent, spec, p.Task, t.Tracker)
	if err != nil {
		return fail(err.Error())
	}
	return ok(result)
}

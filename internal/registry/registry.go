// Package registry implements AMCP's tool registry (spec §4.B): a
// name→tool map with built-ins and MCP-proxied tools, schema export
// filtered by an AgentSpec's allow/exclude lists, and total execution.
//
// Grounded on internal/agent/tool_registry.go (name→tool map, schema
// export) and internal/tools/policy/{groups,resolver}.go (allow/exclude
// filtering shape) from the teacher codebase.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/amcp-dev/amcp/pkg/model"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

var nameRE = regexp.MustCompile(`^[A-Za-z0-9_.:-]+$`)

// Registry holds every registered tool. Read-mostly: writes only occur at
// MCP connect/disconnect, so Snapshot lets callers read a consistent view
// for the lifetime of a single prompt (spec §5's "readers must tolerate
// concurrent schema changes by snapshotting at prompt start").
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool. Returns an error if the name does not
// match the required pattern [A-Za-z0-9_.:-]+.
func (r *Registry) Register(tool Tool) error {
	if !nameRE.MatchString(tool.Name()) {
		return fmt.Errorf("registry: invalid tool name %q", tool.Name())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
	return nil
}

// RegisterMCPTool registers server's tool under the namespaced form
// mcp.<server>.<tool>, per spec §4.B. The mcp.Tool value carries the
// upstream schema/description; exec performs the actual dispatch (the MCP
// stdio transport itself is out of scope for this spec — see SPEC_FULL.md
// §4.B — so callers supply their own exec implementation). The schema is
// compiled once here; args that fail it return a VALIDATION_ERROR result
// without calling exec.
func (r *Registry) RegisterMCPTool(server string, tool mcp.Tool, exec func(ctx context.Context, args json.RawMessage) model.ToolResult) error {
	name := fmt.Sprintf("mcp.%s.%s", server, tool.Name)
	schema, err := json.Marshal(tool.InputSchema)
	if err != nil {
		return fmt.Errorf("registry: marshal mcp schema for %s: %w", name, err)
	}
	compiled, err := jsonschema.CompileString(name, string(schema))
	if err != nil {
		return fmt.Errorf("registry: compile mcp schema for %s: %w", name, err)
	}
	validated := func(ctx context.Context, args json.RawMessage) model.ToolResult {
		var v any
		err := json.Unmarshal(args, &v)
		if err == nil {
			err = compiled.Validate(v)
		}
		if err != nil {
			return model.ToolResult{Success: false, Content: fmt.Sprintf("invalid arguments for %s: %v", name, err), ErrorCode: string(model.ErrValidation)}
		}
		return exec(ctx, args)
	}
	return r.Register(NewFunc(name, tool.Description, schema, model.ToolSourceMCP, validated))
}

// Unregister removes a tool by name. No-op if it doesn't exist.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns the tool named name, or ok=false.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns every registered tool, sorted by name for deterministic
// output.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// SchemaForModel returns the {name, description, parameters} triples for
// every tool an AgentSpec permits: AllowedTools empty means all tools are
// candidates, then ExcludedTools is subtracted.
func (r *Registry) SchemaForModel(spec model.AgentSpec) []model.ToolDescriptor {
	allowed := toSet(spec.AllowedTools)
	excluded := toSet(spec.ExcludedTools)

	var out []model.ToolDescriptor
	for _, t := range r.List() {
		if len(allowed) > 0 && !allowed[t.Name()] {
			continue
		}
		if excluded[t.Name()] {
			continue
		}
		out = append(out, model.ToolDescriptor{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Schema(),
			Source:      t.Source(),
		})
	}
	return out
}

// Execute dispatches name with args. It never returns a Go error: any
// failure (unknown tool, panic during execution, context already
// cancelled) is folded into ToolResult{Success:false}, matching spec §4.B's
// "execute is a total function — it never raises."
func (r *Registry) Execute(ctx context.Context, toolCallID, name string, args json.RawMessage, timeout time.Duration) model.ToolResult {
	tool, ok := r.Get(name)
	if !ok {
		return model.ToolResult{ToolCallID: toolCallID, Success: false, Content: fmt.Sprintf("unknown tool %q", name), ErrorCode: string(model.ErrToolNotFound)}
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result := make(chan model.ToolResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				result <- model.ToolResult{ToolCallID: toolCallID, Success: false, Content: fmt.Sprintf("tool panicked: %v", p), ErrorCode: string(model.ErrTool)}
			}
		}()
		result <- tool.Execute(callCtx, args)
	}()

	select {
	case r := <-result:
		r.ToolCallID = toolCallID
		return r
	case <-callCtx.Done():
		return model.ToolResult{ToolCallID: toolCallID, Success: false, Content: "tool call timed out", ErrorCode: string(model.ErrTimeout)}
	}
}

func toSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	m := make(map[string]bool, len(items))
	for _, i := range items {
		m[i] = true
	}
	return m
}

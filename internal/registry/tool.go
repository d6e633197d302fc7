package registry

import (
	"context"
	"encoding/json"

	"github.com/amcp-dev/amcp/pkg/model"
)

// Tool is a named side-effectful operation with a JSON-schema argument
// contract (spec §3's Tool). Execute is a total function with no error
// return: every failure mode, a cancelled context included, is encoded in
// the returned ToolResult.
type Tool interface {
	Name() string
	Description() string
	Schema() model.ToolParamSchema
	Source() model.ToolSource
	Execute(ctx context.Context, args json.RawMessage) model.ToolResult
}

// ToolFunc adapts a plain function to the Tool interface for the generic
// MCP-proxy variant (spec §9: "a generic MCP-proxy variant, with MCP args
// still validated by JSON-schema").
type ToolFunc struct {
	name        string
	description string
	schema      model.ToolParamSchema
	source      model.ToolSource
	fn          func(ctx context.Context, args json.RawMessage) model.ToolResult
}

// NewFunc builds a Tool from a plain function and a pre-built schema.
func NewFunc(name, description string, schema model.ToolParamSchema, source model.ToolSource, fn func(ctx context.Context, args json.RawMessage) model.ToolResult) *ToolFunc {
	return &ToolFunc{name: name, description: description, schema: schema, source: source, fn: fn}
}

func (t *ToolFunc) Name() string                      { return t.name }
func (t *ToolFunc) Description() string                { return t.description }
func (t *ToolFunc) Schema() model.ToolParamSchema      { return t.schema }
func (t *ToolFunc) Source() model.ToolSource           { return t.source }
func (t *ToolFunc) Execute(ctx context.Context, args json.RawMessage) model.ToolResult {
	return t.fn(ctx, args)
}

// Package builtin implements the remainder of spec §4.B's assumed
// built-in tool roster that isn't already covered by internal/tools/files
// (read_file/write_file/edit_file) or internal/patch (apply_patch):
// grep, bash, think, todo, and task.
package builtin

import (
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"

	"github.com/amcp-dev/amcp/pkg/model"
)

// schemaFor reflects v's JSON tags into a flat parameter schema, grounded
// on internal/config/schema.go's JSONSchema helper from the teacher
// codebase (same Reflector/MarshalIndent shape, json tags instead of
// yaml since these are tool-call argument structs, not config files).
func schemaFor(v any) model.ToolParamSchema {
	r := &jsonschema.Reflector{DoNotReference: true}
	schema := r.Reflect(v)
	payload, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

var schemaCache sync.Map // map[reflect.Type-ish key]model.ToolParamSchema, keyed by a caller-supplied string

// cachedSchemaFor memoizes schemaFor under key, since Reflect does work on
// every call and a tool's schema never changes after construction.
func cachedSchemaFor(key string, v any) model.ToolParamSchema {
	if cached, ok := schemaCache.Load(key); ok {
		return cached.(model.ToolParamSchema)
	}
	s := schemaFor(v)
	schemaCache.Store(key, s)
	return s
}

func fail(reason string) model.ToolResult {
	return model.ToolResult{Success: false, Content: reason, ErrorCode: string(model.ErrTool)}
}

func ok(content string) model.ToolResult {
	return model.ToolResult{Success: true, Content: content}
}

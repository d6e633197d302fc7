package patch

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/amcp-dev/amcp/pkg/model"
)

// Tool implements registry.Tool for apply_patch (spec §4.F / built-in tool
// list in §4.B). It is a total function: every failure mode, including a
// malformed patch or an ApplyError, is encoded in the returned
// model.ToolResult rather than a Go error.
type Tool struct {
	resolver Resolver
}

// NewTool returns an apply_patch tool scoped to workspace root.
func NewTool(workspaceRoot string) *Tool {
	return &Tool{resolver: Resolver{Root: workspaceRoot}}
}

func (t *Tool) Name() string                { return "apply_patch" }
func (t *Tool) Description() string {
	return "Apply a patch in the \"*** Begin Patch\" format to add, delete, update, or move files in the workspace."
}
func (t *Tool) Source() model.ToolSource { return model.ToolSourceBuiltin }

func (t *Tool) Schema() model.ToolParamSchema {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"patch": {
				"type": "string",
				"description": "A patch document framed by *** Begin Patch / *** End Patch."
			}
		},
		"required": ["patch"]
	}`)
}

func (t *Tool) Execute(ctx context.Context, args json.RawMessage) model.ToolResult {
	var input struct {
		Patch string `json:"patch"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return fail(fmt.Sprintf("invalid parameters: %v", err))
	}
	if input.Patch == "" {
		return fail("patch is required")
	}

	parsed, err := Parse(input.Patch)
	if err != nil {
		return fail(err.Error())
	}

	for _, op := range parsed.Ops {
		if _, err := t.resolver.Resolve(op.Path); err != nil {
			return fail(err.Error())
		}
		if op.MoveTo != "" {
			if _, err := t.resolver.Resolve(op.MoveTo); err != nil {
				return fail(err.Error())
			}
		}
	}

	writes, err := Apply(parsed, func(path string) (string, error) {
		abs, rerr := t.resolver.Resolve(path)
		if rerr != nil {
			return "", rerr
		}
		data, rerr := os.ReadFile(abs)
		if rerr != nil {
			return "", rerr
		}
		return string(data), nil
	})
	if err != nil {
		return fail(err.Error())
	}

	// Commit: only reached once every op above has validated, so no
	// partial write is ever persisted for a rejected patch.
	summaries := make([]map[string]any, 0, len(writes))
	for _, w := range writes {
		abs, rerr := t.resolver.Resolve(w.Path)
		if rerr != nil {
			return fail(rerr.Error())
		}
		switch {
		case w.Delete:
			if rerr := os.Remove(abs); rerr != nil {
				return fail(fmt.Sprintf("remove %q: %v", w.Path, rerr))
			}
			summaries = append(summaries, map[string]any{"path": w.Path, "action": "deleted"})
		case w.OldPath != "":
			if rerr := os.MkdirAll(filepath.Dir(abs), 0o755); rerr != nil {
				return fail(fmt.Sprintf("create directories for %q: %v", w.Path, rerr))
			}
			if rerr := os.WriteFile(abs, []byte(w.Content), 0o644); rerr != nil {
				return fail(fmt.Sprintf("write %q: %v", w.Path, rerr))
			}
			oldAbs, _ := t.resolver.Resolve(w.OldPath)
			if rerr := os.Remove(oldAbs); rerr != nil {
				return fail(fmt.Sprintf("remove moved-from %q: %v", w.OldPath, rerr))
			}
			summaries = append(summaries, map[string]any{"path": w.Path, "action": "moved", "from": w.OldPath})
		default:
			if rerr := os.MkdirAll(filepath.Dir(abs), 0o755); rerr != nil {
				return fail(fmt.Sprintf("create directories for %q: %v", w.Path, rerr))
			}
			if rerr := os.WriteFile(abs, []byte(w.Content), 0o644); rerr != nil {
				return fail(fmt.Sprintf("write %q: %v", w.Path, rerr))
			}
			summaries = append(summaries, map[string]any{"path": w.Path, "action": "written"})
		}
	}

	payload, _ := json.Marshal(map[string]any{"applied": summaries})
	return model.ToolResult{Success: true, Content: string(payload)}
}

func fail(reason string) model.ToolResult {
	return model.ToolResult{Success: false, Content: reason, ErrorCode: string(model.ErrTool)}
}

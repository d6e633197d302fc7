package files

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestResolverRejectsEscape(t *testing.T) {
	root := t.TempDir()
	resolver := Resolver{Root: root}
	_, err := resolver.Resolve("../outside.txt")
	if err == nil {
		t.Fatal("expected escape to be rejected")
	}
}

func TestReadWriteEdit(t *testing.T) {
	root := t.TempDir()
	cfg := Config{Workspace: root, MaxReadBytes: 10}

	writeTool := NewWriteTool(cfg)
	readTool := NewReadTool(cfg)
	editTool := NewEditTool(cfg)

	writeParams, _ := json.Marshal(map[string]interface{}{
		"path":    "notes.txt",
		"content": "hello world",
	})
	if res := writeTool.Execute(context.Background(), writeParams); !res.Success {
		t.Fatalf("write failed: %s", res.Content)
	}

	readParams, _ := json.Marshal(map[string]interface{}{
		"path": "notes.txt",
	})
	result := readTool.Execute(context.Background(), readParams)
	if !result.Success {
		t.Fatalf("read failed: %s", result.Content)
	}
	if !strings.Contains(result.Content, "hello") {
		t.Fatalf("expected content, got %s", result.Content)
	}

	editParams, _ := json.Marshal(map[string]interface{}{
		"path": "notes.txt",
		"edits": []map[string]interface{}{
			{
				"old_text": "world",
				"new_text": "nexus",
			},
		},
	})
	if res := editTool.Execute(context.Background(), editParams); !res.Success {
		t.Fatalf("edit failed: %s", res.Content)
	}

	data, err := os.ReadFile(filepath.Join(root, "notes.txt"))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if string(data) != "hello nexus" {
		t.Fatalf("unexpected content: %s", string(data))
	}
}

func TestReadToolIsBuiltinTool(t *testing.T) {
	root := t.TempDir()
	cfg := Config{Workspace: root}
	if name := NewReadTool(cfg).Name(); name != "read_file" {
		t.Fatalf("expected name read_file, got %s", name)
	}
	if src := NewWriteTool(cfg).Source(); src != "builtin" {
		t.Fatalf("expected builtin source, got %s", src)
	}
}

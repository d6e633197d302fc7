package builtin

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/amcp-dev/amcp/internal/agentloop"
	"github.com/amcp-dev/amcp/internal/eventbus"
	"github.com/amcp-dev/amcp/internal/hookpipe"
	"github.com/amcp-dev/amcp/internal/permission"
	"github.com/amcp-dev/amcp/internal/registry"
	"github.com/amcp-dev/amcp/pkg/model"
)

func TestThinkToolEchoesThought(t *testing.T) {
	tool := NewThinkTool()
	args, _ := json.Marshal(ThinkParams{Thought: "considering the approach"})
	res := tool.Execute(context.Background(), args)
	if !res.Success || res.Content != "considering the approach" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestThinkToolRejectsEmpty(t *testing.T) {
	tool := NewThinkTool()
	args, _ := json.Marshal(ThinkParams{})
	if res := tool.Execute(context.Background(), args); res.Success {
		t.Fatal("expected failure for empty thought")
	}
}

func TestTodoToolValidatesStatus(t *testing.T) {
	tool := NewTodoTool()
	args, _ := json.Marshal(TodoParams{Items: []TodoItem{{Content: "write tests", Status: "bogus"}}})
	if res := tool.Execute(context.Background(), args); res.Success {
		t.Fatal("expected failure for invalid status")
	}

	args, _ = json.Marshal(TodoParams{Items: []TodoItem{{Content: "write tests", Status: "in_progress"}}})
	res := tool.Execute(context.Background(), args)
	if !res.Success {
		t.Fatalf("expected success, got %s", res.Content)
	}
}

func TestGrepToolFindsMatches(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello\nworld\nhello again\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	tool := NewGrepTool(dir)
	args, _ := json.Marshal(GrepParams{Pattern: "hello"})
	res := tool.Execute(context.Background(), args)
	if !res.Success {
		t.Fatalf("grep failed: %s", res.Content)
	}
	var decoded struct {
		Matches []grepMatch `json:"matches"`
	}
	if err := json.Unmarshal([]byte(res.Content), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded.Matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(decoded.Matches))
	}
}

func TestGrepToolRejectsBadPattern(t *testing.T) {
	tool := NewGrepTool(t.TempDir())
	args, _ := json.Marshal(GrepParams{Pattern: "("})
	if res := tool.Execute(context.Background(), args); res.Success {
		t.Fatal("expected failure for invalid regex")
	}
}

func TestBashToolRunsCommand(t *testing.T) {
	tool := NewBashTool(t.TempDir())
	args, _ := json.Marshal(BashParams{Command: "echo hi"})
	res := tool.Execute(context.Background(), args)
	if !res.Success {
		t.Fatalf("bash failed: %s", res.Content)
	}
	var decoded struct {
		Stdout   string `json:"stdout"`
		ExitCode int    `json:"exit_code"`
	}
	if err := json.Unmarshal([]byte(res.Content), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.ExitCode != 0 {
		t.Fatalf("expected exit 0, got %d", decoded.ExitCode)
	}
}

func TestBashToolReportsNonzeroExit(t *testing.T) {
	tool := NewBashTool(t.TempDir())
	args, _ := json.Marshal(BashParams{Command: "exit 3"})
	res := tool.Execute(context.Background(), args)
	if !res.Success {
		t.Fatalf("nonzero exit should still be a successful tool call: %s", res.Content)
	}
	var decoded struct {
		ExitCode int `json:"exit_code"`
	}
	json.Unmarshal([]byte(res.Content), &decoded)
	if decoded.ExitCode != 3 {
		t.Fatalf("expected exit 3, got %d", decoded.ExitCode)
	}
}

type taskFakeProvider struct{ text string }

func (p *taskFakeProvider) Complete(ctx context.Context, req agentloop.CompletionRequest) (<-chan agentloop.CompletionChunk, error) {
	out := make(chan agentloop.CompletionChunk, 1)
	out <- agentloop.CompletionChunk{Text: p.text}
	close(out)
	return out, nil
}

func TestTaskToolDelegatesToSubagent(t *testing.T) {
	perm := permission.New()
	perm.SetLayer(permission.LayerProcessDefaults, []model.PermissionRule{{Pattern: "*", Decision: model.DecisionAllow}})
	loop := &agentloop.Loop{
		Bus:        eventbus.New(nil),
		Registry:   registry.New(),
		Permission: perm,
		Hooks:      hookpipe.New(),
		Provider:   &taskFakeProvider{text: "delegated answer"},
		Guard:      agentloop.DefaultResultGuard(),
	}
	agents := map[string]model.AgentSpec{
		"researcher": {Name: "researcher", Mode: model.AgentSubagent, MaxSteps: 3, ModelID: "test-model"},
	}
	tool := NewTaskTool(loop, agentloop.NewSubagentTracker(), agents)

	parent := &model.Session{ID: "parent-1", Agent: model.AgentSpec{CanDelegate: true}}
	ctx := agentloop.ContextWithSession(context.Background(), parent)

	args, _ := json.Marshal(TaskParams{AgentName: "researcher", Task: "look into it"})
	res := tool.Execute(ctx, args)
	if !res.Success {
		t.Fatalf("task delegation failed: %s", res.Content)
	}
	if res.Content != "delegated answer" {
		t.Fatalf("unexpected delegation result: %s", res.Content)
	}
}

func TestTaskToolRejectsUnknownAgent(t *testing.T) {
	loop := &agentloop.Loop{}
	tool := NewTaskTool(loop, agentloop.NewSubagentTracker(), map[string]model.AgentSpec{})
	parent := &model.Session{ID: "parent-1", Agent: model.AgentSpec{CanDelegate: true}}
	ctx := agentloop.ContextWithSession(context.Background(), parent)

	args, _ := json.Marshal(TaskParams{AgentName: "nope", Task: "x"})
	if res := tool.Execute(ctx, args); res.Success {
		t.Fatal("expected failure for unknown agent")
	}
}

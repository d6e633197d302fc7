package session

import (
	"context"
	"testing"
	"time"

	"github.com/amcp-dev/amcp/internal/agentloop"
	"github.com/amcp-dev/amcp/internal/eventbus"
	"github.com/amcp-dev/amcp/internal/hookpipe"
	"github.com/amcp-dev/amcp/internal/permission"
	"github.com/amcp-dev/amcp/internal/queue"
	"github.com/amcp-dev/amcp/internal/registry"
	"github.com/amcp-dev/amcp/pkg/model"
)

type scriptedProvider struct {
	text string
}

func (p *scriptedProvider) Complete(ctx context.Context, req agentloop.CompletionRequest) (<-chan agentloop.CompletionChunk, error) {
	out := make(chan agentloop.CompletionChunk, 1)
	out <- agentloop.CompletionChunk{Text: p.text}
	close(out)
	return out, nil
}

func newTestManager(t *testing.T, text string) *Manager {
	t.Helper()
	perm := permission.New()
	perm.SetLayer(permission.LayerProcessDefaults, []model.PermissionRule{
		{Pattern: "*", Decision: model.DecisionAllow},
	})
	loop := &agentloop.Loop{
		Bus:        eventbus.New(nil),
		Registry:   registry.New(),
		Permission: perm,
		Hooks:      hookpipe.New(),
		Provider:   &scriptedProvider{text: text},
		Guard:      agentloop.DefaultResultGuard(),
	}
	agents := map[string]model.AgentSpec{
		"default": {Name: "default", MaxSteps: 5, ModelID: "test-model"},
	}
	return New(loop, queue.New(nil), loop.Bus, agents)
}

func TestCreateAndGet(t *testing.T) {
	m := newTestManager(t, "hi")
	s, err := m.Create("/tmp", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != s.ID || got.Agent.Name != "default" {
		t.Fatalf("unexpected session %+v", got)
	}
}

func TestCreateUnknownAgentErrors(t *testing.T) {
	m := newTestManager(t, "hi")
	if _, err := m.Create("/tmp", "nonexistent"); err == nil {
		t.Fatal("expected error for unknown agent name")
	}
}

func TestGetUnknownSessionErrors(t *testing.T) {
	m := newTestManager(t, "hi")
	if _, err := m.Get("nope"); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestPromptRunsAndUpdatesHistory(t *testing.T) {
	m := newTestManager(t, "the answer")
	s, _ := m.Create("/tmp", "")

	result, err := m.Prompt(context.Background(), s.ID, "question", model.PriorityNormal, nil, ConflictQueue)
	if err != nil {
		t.Fatalf("Prompt: %v", err)
	}
	if result.Queued {
		t.Fatal("expected the first prompt on an idle session to run immediately")
	}

	var gotComplete bool
	for c := range result.Chunks {
		if c.Kind == model.EventMessageComplete {
			gotComplete = true
		}
	}
	if !gotComplete {
		t.Fatal("expected message.complete from the run")
	}

	got, _ := m.Get(s.ID)
	if len(got.History) != 2 {
		t.Fatalf("expected 2 history messages, got %d", len(got.History))
	}
}

func TestPromptRejectStrategyFailsWhenBusy(t *testing.T) {
	m := newTestManager(t, "slow")
	s, _ := m.Create("/tmp", "")

	// Acquire the session directly via the queue to simulate an in-flight run.
	m.queue.Acquire(s.ID, "other-owner")

	_, err := m.Prompt(context.Background(), s.ID, "question", model.PriorityNormal, nil, ConflictReject)
	if err == nil {
		t.Fatal("expected reject strategy to fail while busy")
	}
}

func TestPromptQueueStrategyQueuesWhenBusy(t *testing.T) {
	m := newTestManager(t, "slow")
	s, _ := m.Create("/tmp", "")
	m.queue.Acquire(s.ID, "other-owner")

	result, err := m.Prompt(context.Background(), s.ID, "question", model.PriorityNormal, nil, ConflictQueue)
	if err != nil {
		t.Fatalf("Prompt: %v", err)
	}
	if !result.Queued {
		t.Fatal("expected the prompt to queue behind the busy session")
	}
}

func TestDeleteRemovesSession(t *testing.T) {
	m := newTestManager(t, "hi")
	s, _ := m.Create("/tmp", "")
	if err := m.Delete(s.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := m.Get(s.ID); err != ErrSessionNotFound {
		t.Fatal("expected session to be gone after Delete")
	}
}

func TestCancelWithNoInFlightRunErrors(t *testing.T) {
	m := newTestManager(t, "hi")
	s, _ := m.Create("/tmp", "")
	if err := m.Cancel(s.ID, false); err == nil {
		t.Fatal("expected Cancel to fail with no in-flight run")
	}
}

func TestListReturnsIndependentClones(t *testing.T) {
	m := newTestManager(t, "hi")
	s, _ := m.Create("/tmp", "")
	_, _ = m.Prompt(context.Background(), s.ID, "q", model.PriorityNormal, nil, ConflictQueue)
	// Give the background goroutine a moment to finish draining.
	time.Sleep(10 * time.Millisecond)

	list := m.List()
	if len(list) != 1 {
		t.Fatalf("expected 1 session, got %d", len(list))
	}
	list[0].History = append(list[0].History, model.Message{Content: "mutated"})

	got, _ := m.Get(s.ID)
	for _, msg := range got.History {
		if msg.Content == "mutated" {
			t.Fatal("List's clone mutation leaked into the manager's canonical session")
		}
	}
}

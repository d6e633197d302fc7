package agentloop

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/amcp-dev/amcp/pkg/model"
	"github.com/google/uuid"
)

// SubagentStatus mirrors a delegated run's lifecycle.
//
// Grounded on internal/multiagent/subagent_registry.go's
// SubagentRunStatus/SubagentRunRecord from the teacher codebase, trimmed
// to what the task tool's synchronous result needs — the teacher's async
// job store (cleanup policy, archive timestamps) has no equivalent here
// since delegation blocks the caller until the sub-agent finishes.
type SubagentStatus string

const (
	SubagentPending   SubagentStatus = "pending"
	SubagentRunning   SubagentStatus = "running"
	SubagentCompleted SubagentStatus = "completed"
	SubagentError     SubagentStatus = "error"
)

// SubagentRun records one delegation for observability (spec §12's
// supplemented "sub-agent events carry parent session id + sub-agent
// tag").
type SubagentRun struct {
	RunID           string
	ParentSessionID string
	ChildSessionID  string
	Task            string
	Status          SubagentStatus
	Result          string
	Error           string
	StartedAt       time.Time
	EndedAt         time.Time
}

// SubagentTracker records in-flight and completed delegations.
type SubagentTracker struct {
	mu   sync.RWMutex
	runs map[string]*SubagentRun
}

func NewSubagentTracker() *SubagentTracker {
	return &SubagentTracker{runs: make(map[string]*SubagentRun)}
}

func (t *SubagentTracker) start(run *SubagentRun) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runs[run.RunID] = run
}

func (t *SubagentTracker) finish(runID string, result string, runErr error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	run, ok := t.runs[runID]
	if !ok {
		return
	}
	run.EndedAt = time.Now()
	if runErr != nil {
		run.Status = SubagentError
		run.Error = runErr.Error()
		return
	}
	run.Status = SubagentCompleted
	run.Result = result
}

// Get returns the recorded run, if any.
func (t *SubagentTracker) Get(runID string) (SubagentRun, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	run, ok := t.runs[runID]
	if !ok {
		return SubagentRun{}, false
	}
	return *run, true
}

// sessionCtxKey threads the in-flight session through to the task tool's
// Execute, which otherwise only receives (ctx, args) per registry.Tool.
type sessionCtxKey struct{}

// ContextWithSession attaches session so a registry.Tool's Execute can
// recover the session it's running under (the task tool's only use:
// RunSubagent needs the parent session, which registry.Tool's interface
// doesn't otherwise carry).
func ContextWithSession(ctx context.Context, session *model.Session) context.Context {
	return context.WithValue(ctx, sessionCtxKey{}, session)
}

// SessionFromContext recovers the session attached by ContextWithSession.
func SessionFromContext(ctx context.Context) (*model.Session, bool) {
	session, ok := ctx.Value(sessionCtxKey{}).(*model.Session)
	return session, ok
}

// RunSubagent spawns a restricted child session sharing parent's cwd and
// event bus, runs it to completion against task, and returns its final
// assistant text. The child maintains its own History, independent of
// parent's — spec §4.H's "task tool" delegation.
//
// Grounded on internal/multiagent/orchestrator.go's agent-to-agent
// handoff flow, adapted from an async job-queue dispatch to a direct
// synchronous call: the task tool's result IS the sub-agent's final
// answer, so there is nothing to poll for.
func (l *Loop) RunSubagent(ctx context.Context, parent *model.Session, spec model.AgentSpec, task string, tracker *SubagentTracker) (string, error) {
	if !parent.Agent.CanDelegate {
		return "", fmt.Errorf("agentloop: session %s's agent cannot delegate", parent.ID)
	}

	child := &model.Session{
		ID:        uuid.NewString(),
		Cwd:       parent.Cwd,
		Agent:     spec,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	run := &SubagentRun{
		RunID:           uuid.NewString(),
		ParentSessionID: parent.ID,
		ChildSessionID:  child.ID,
		Task:            task,
		Status:          SubagentRunning,
		StartedAt:       time.Now(),
	}
	if tracker != nil {
		tracker.start(run)
	}

	l.emit(model.EventKind("subagent.start"), parent.ID, map[string]any{
		"run_id": run.RunID, "child_session_id": child.ID, "task": task,
	})

	chunks, err := l.Run(ctx, child, task, RunOptions{})
	if err != nil {
		if tracker != nil {
			tracker.finish(run.RunID, "", err)
		}
		return "", err
	}

	var result string
	var runErr error
	for chunk := range chunks {
		if chunk.Err != nil {
			runErr = chunk.Err
			continue
		}
		if chunk.Kind == model.EventMessageComplete {
			result = chunk.Text
		}
	}

	if tracker != nil {
		tracker.finish(run.RunID, result, runErr)
	}
	l.emit(model.EventKind("subagent.end"), parent.ID, map[string]any{
		"run_id": run.RunID, "child_session_id": child.ID, "success": runErr == nil,
	})

	if runErr != nil {
		return "", runErr
	}
	return result, nil
}

// Package session implements AMCP's session manager (spec §4.I): session
// CRUD, lazy per-session agent instantiation, the prompt/cancel entry
// points that drive internal/agentloop through internal/queue. The
// manager publishes no events itself; the agent loop and the queue stamp
// theirs with the session id.
//
// Grounded on internal/sessions/memory.go's in-memory store (deep-clone
// on read/write, create/get/list/delete) and internal/sessions/locker.go's
// per-session locking shape, adapted: the teacher's Store and Locker are
// separate types composed by callers; here the Manager owns both concerns
// directly since session ownership and the single-flight run lock are the
// same invariant in this spec ("every session processes messages
// sequentially").
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/amcp-dev/amcp/internal/agentloop"
	"github.com/amcp-dev/amcp/internal/eventbus"
	"github.com/amcp-dev/amcp/internal/queue"
	"github.com/amcp-dev/amcp/pkg/model"
	"github.com/google/uuid"
)

// ConflictStrategy names how Prompt behaves when a session is already busy.
type ConflictStrategy string

const (
	ConflictQueue  ConflictStrategy = "queue"
	ConflictReject ConflictStrategy = "reject"
)

// PromptResult is what Prompt returns to its caller.
type PromptResult struct {
	// Chunks streams the run this call triggered. Nil if Queued is true —
	// the prompt was enqueued behind a busy session and will run later;
	// watch the session's event stream instead.
	Chunks <-chan agentloop.ResponseChunk
	Queued bool
}

var ErrSessionNotFound = fmt.Errorf("session not found")

// Manager owns every live session, the agent loop that runs them, and the
// queue that serializes prompts per session.
type Manager struct {
	mu        sync.RWMutex
	sessions  map[string]*model.Session
	cancels   map[string]context.CancelFunc
	persisted map[string]int // messages already written to each session's transcript file

	loop   *agentloop.Loop
	queue  *queue.Manager
	bus    *eventbus.Bus
	agents map[string]model.AgentSpec

	// TranscriptDir, if non-empty, makes the manager best-effort append
	// each session's new messages to <TranscriptDir>/<id>.jsonl after
	// every run (spec §6.6's persisted state layout). A write failure is
	// logged and otherwise ignored — the in-memory session remains
	// authoritative.
	TranscriptDir string
	Logger        *slog.Logger
}

// New constructs a Manager. agents maps an agent_name (as passed to
// create) to its AgentSpec; "default" should normally be present.
func New(loop *agentloop.Loop, q *queue.Manager, bus *eventbus.Bus, agents map[string]model.AgentSpec) *Manager {
	return &Manager{
		sessions:  make(map[string]*model.Session),
		cancels:   make(map[string]context.CancelFunc),
		persisted: make(map[string]int),
		loop:      loop,
		queue:     q,
		bus:       bus,
		agents:    agents,
		Logger:    slog.Default(),
	}
}

// Create instantiates a new session for cwd under agentName (falling back
// to "default"). The agent itself is lazily driven on the first Prompt —
// nothing here starts a model call.
func (m *Manager) Create(cwd, agentName string) (*model.Session, error) {
	if agentName == "" {
		agentName = "default"
	}
	spec, ok := m.agents[agentName]
	if !ok {
		return nil, fmt.Errorf("session: unknown agent %q", agentName)
	}

	session := &model.Session{
		ID:        uuid.NewString(),
		Cwd:       cwd,
		Agent:     spec,
		Status:    model.SessionIdle,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	m.mu.Lock()
	m.sessions[session.ID] = session
	m.mu.Unlock()

	return cloneSession(session), nil
}

// Get returns a deep clone of the session named id, so callers can read it
// without racing the agent loop's in-place mutation.
func (m *Manager) Get(id string) (*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return cloneSession(session), nil
}

// List returns a deep clone of every known session.
func (m *Manager) List() []*model.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, cloneSession(s))
	}
	return out
}

// Delete removes a session and its queue state. Returns ErrSessionNotFound
// if it doesn't exist.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(m.sessions, id)
	delete(m.cancels, id)
	delete(m.persisted, id)
	m.queue.Clear(id)
	return nil
}

// Prompt implements spec §4.I's prompt(id, content, priority, stream,
// conflict_strategy). It enqueues content, attempts to acquire the
// session, and — if it wins — dispatches the run and returns its output
// stream. If the session is already busy under the "queue" strategy, the
// message waits and Prompt reports Queued=true; under "reject" it returns
// a SESSION_BUSY error instead of enqueuing at all.
func (m *Manager) Prompt(ctx context.Context, id, content string, priority model.Priority, attachments []model.Attachment, strategy ConflictStrategy) (PromptResult, error) {
	session, err := m.live(id)
	if err != nil {
		return PromptResult{}, err
	}

	var msg model.QueuedMessage
	if strategy == ConflictReject {
		msg, err = m.queue.EnqueueOrReject(id, content, priority, attachments)
		if err != nil {
			return PromptResult{}, fmt.Errorf("session: %w", err)
		}
	} else {
		msg = m.queue.Enqueue(id, content, priority, attachments)
	}

	if m.queue.Acquire(id, msg.ID) == queue.Busy {
		return PromptResult{Queued: true}, nil
	}

	next, ok := m.queue.Dequeue(id)
	if !ok {
		// Acquire raced an empty queue (another Release re-acquired and
		// drained it first); nothing to run right now.
		m.queue.Release(id)
		return PromptResult{Queued: true}, nil
	}

	chunks := m.dispatch(ctx, session, next)
	return PromptResult{Chunks: chunks}, nil
}

// dispatch runs one message through the agent loop and returns its output
// stream to the caller. Once that run finishes it hands off to drainQueue,
// which runs any messages that queued up in the meantime; those later
// runs are observable only through the event bus, not through the channel
// this call returns.
func (m *Manager) dispatch(ctx context.Context, session *model.Session, msg model.QueuedMessage) <-chan agentloop.ResponseChunk {
	out := make(chan agentloop.ResponseChunk, 64)

	raw, err := m.runOne(ctx, session, msg)
	if err != nil {
		close(out)
		return out
	}

	go func() {
		defer close(out)
		for chunk := range raw {
			out <- chunk
		}
		m.finishRun(session.ID)
		m.persistTranscript(session)
		m.drainQueue(session)
	}()
	return out
}

// runOne starts one agent-loop run for msg, registering its cancel func.
func (m *Manager) runOne(ctx context.Context, session *model.Session, msg model.QueuedMessage) (<-chan agentloop.ResponseChunk, error) {
	runCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancels[session.ID] = cancel
	m.mu.Unlock()

	session.Status = model.SessionBusy
	raw, err := m.loop.Run(runCtx, session, msg.Content, agentloop.RunOptions{Priority: msg.Priority})
	if err != nil {
		cancel()
		m.finishRun(session.ID)
		return nil, err
	}
	return raw, nil
}

// drainQueue runs every message that queued up behind the session's
// previous run, one at a time, until the queue is empty. Background work:
// nothing reads these runs' chunks directly, only the event bus.
func (m *Manager) drainQueue(session *model.Session) {
	for {
		next, ok := m.queue.Release(session.ID)
		if !ok {
			session.Status = model.SessionIdle
			return
		}
		raw, err := m.runOne(context.Background(), session, next)
		if err != nil {
			continue
		}
		for range raw {
		}
		m.finishRun(session.ID)
		m.persistTranscript(session)
	}
}

func (m *Manager) finishRun(id string) {
	m.mu.Lock()
	cancel, ok := m.cancels[id]
	delete(m.cancels, id)
	m.mu.Unlock()
	if ok {
		cancel()
	}
}

// Cancel stops the in-flight run for id, if any. force is accepted for
// parity with spec §6.1's request body; both values cancel the same
// context today since the loop has no distinction between a graceful and
// forced stop once cancellation is observed.
func (m *Manager) Cancel(id string, force bool) error {
	m.mu.RLock()
	cancel, ok := m.cancels[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("session: %s has no in-flight run", id)
	}
	cancel()
	return nil
}

func (m *Manager) live(id string) (*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

func (m *Manager) persistTranscript(session *model.Session) {
	if m.TranscriptDir == "" {
		return
	}
	path := filepath.Join(m.TranscriptDir, session.ID+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		m.Logger.Warn("session: transcript open failed", "session_id", session.ID, "err", err)
		return
	}
	defer f.Close()

	snapshot := cloneSession(session)

	m.mu.Lock()
	from := m.persisted[session.ID]
	m.persisted[session.ID] = len(snapshot.History)
	m.mu.Unlock()
	if from > len(snapshot.History) {
		from = 0
	}

	for _, msg := range snapshot.History[from:] {
		line, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		f.Write(line)
		f.Write([]byte("\n"))
	}
}

func cloneSession(s *model.Session) *model.Session {
	clone := *s
	clone.History = append([]model.Message(nil), s.History...)
	for i, msg := range clone.History {
		msg.ToolCalls = append([]model.ToolCall(nil), msg.ToolCalls...)
		msg.Attachments = append([]model.Attachment(nil), msg.Attachments...)
		clone.History[i] = msg
	}
	clone.Agent.AllowedTools = append([]string(nil), s.Agent.AllowedTools...)
	clone.Agent.ExcludedTools = append([]string(nil), s.Agent.ExcludedTools...)
	return &clone
}

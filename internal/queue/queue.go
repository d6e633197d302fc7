// Package queue implements AMCP's per-session message queue (spec §4.G):
// a min-heap of pending prompts keyed by (-priority, enqueue_ts), a busy
// flag, and acquire/release/enqueue/clear/status operations.
//
// Grounded on internal/infra/semaphore.go's named-pool-of-per-key-state
// pattern (SemaphorePool.Get: RLock fast path, double-checked Lock to
// create) for Manager's per-session lookup, and internal/infra/queue.go's
// mutex-guarded lane state for the shape of a per-session struct guarding
// its own heap. container/heap backs the priority ordering itself, which
// neither teacher file needed since both operate on a plain FIFO slice.
package queue

import (
	"container/heap"
	"fmt"
	"sync"
	"time"

	"github.com/amcp-dev/amcp/internal/eventbus"
	"github.com/amcp-dev/amcp/pkg/model"
	"github.com/google/uuid"
)

// AcquireResult is the outcome of Acquire.
type AcquireResult int

const (
	Acquired AcquireResult = iota
	Busy
)

// entry is one heap element. priorityHeap.Less puts the higher
// model.Priority first and, within a tie, the earlier EnqueuedAt first
// (spec §4.G's FIFO tiebreak).
type entry struct {
	msg   model.QueuedMessage
	index int
}

type priorityHeap []*entry

func (h priorityHeap) Len() int { return len(h) }
func (h priorityHeap) Less(i, j int) bool {
	if h[i].msg.Priority != h[j].msg.Priority {
		return h[i].msg.Priority > h[j].msg.Priority // higher priority first
	}
	return h[i].msg.EnqueuedAt.Before(h[j].msg.EnqueuedAt) // FIFO tiebreak
}
func (h priorityHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *priorityHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// sessionQueue is the mutex-guarded state for one session: its pending
// heap, busy flag, and current owner token.
type sessionQueue struct {
	mu    sync.Mutex
	heap  priorityHeap
	busy  bool
	owner string
}

// Manager owns one sessionQueue per session id, created lazily.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*sessionQueue
	bus      *eventbus.Bus
}

// New returns a Manager that emits prompt/session lifecycle events on bus.
func New(bus *eventbus.Bus) *Manager {
	return &Manager{sessions: make(map[string]*sessionQueue), bus: bus}
}

func (m *Manager) get(sessionID string) *sessionQueue {
	m.mu.RLock()
	q, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if ok {
		return q
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok := m.sessions[sessionID]; ok {
		return q
	}
	q = &sessionQueue{}
	m.sessions[sessionID] = q
	return q
}

// Enqueue adds msg to session's heap regardless of busy state, per the
// default "queue" conflict strategy. It emits prompt.queued and returns
// the generated message id.
func (m *Manager) Enqueue(sessionID string, content string, priority model.Priority, attachments []model.Attachment) model.QueuedMessage {
	q := m.get(sessionID)
	msg := model.QueuedMessage{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		Content:     content,
		Attachments: attachments,
		Priority:    priority,
		EnqueuedAt: time.Now(),
	}

	q.mu.Lock()
	heap.Push(&q.heap, &entry{msg: msg})
	q.mu.Unlock()

	m.emit(model.EventPromptQueued, sessionID, map[string]any{"message_id": msg.ID, "priority": priority})
	return msg
}

// EnqueueOrReject implements the "reject" conflict strategy: if the
// session is currently busy, it fails immediately with SESSION_BUSY
// instead of enqueuing.
func (m *Manager) EnqueueOrReject(sessionID, content string, priority model.Priority, attachments []model.Attachment) (model.QueuedMessage, error) {
	q := m.get(sessionID)
	q.mu.Lock()
	busy := q.busy
	q.mu.Unlock()
	if busy {
		m.emit(model.EventPromptRejected, sessionID, map[string]any{"reason": string(model.ErrSessionBusy)})
		return model.QueuedMessage{}, fmt.Errorf("queue: session %s is busy: %w", sessionID, errSessionBusy)
	}
	return m.Enqueue(sessionID, content, priority, attachments), nil
}

var errSessionBusy = fmt.Errorf("session busy")

// Acquire atomically compare-and-sets busy=true for sessionID, returning
// Acquired on success or Busy if another owner already holds it.
func (m *Manager) Acquire(sessionID, owner string) AcquireResult {
	q := m.get(sessionID)
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.busy {
		return Busy
	}
	q.busy = true
	q.owner = owner
	m.emit(model.EventSessionStatusChanged, sessionID, map[string]any{"status": string(model.SessionBusy)})
	return Acquired
}

// Release clears busy for sessionID. If messages remain queued, it
// atomically re-acquires on behalf of the next waiting caller and pops the
// highest-priority message, returning it; otherwise it emits
// agent.idle and returns ok=false.
func (m *Manager) Release(sessionID string) (model.QueuedMessage, bool) {
	q := m.get(sessionID)
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.heap.Len() == 0 {
		q.busy = false
		q.owner = ""
		m.emit(model.EventAgentIdle, sessionID, nil)
		return model.QueuedMessage{}, false
	}

	next := heap.Pop(&q.heap).(*entry).msg
	// busy stays true: ownership transfers directly to the next message
	// rather than round-tripping through idle.
	m.emit(model.EventSessionStatusChanged, sessionID, map[string]any{"status": string(model.SessionBusy)})
	return next, true
}

// Dequeue pops the highest-priority pending message for sessionID without
// touching busy state. Callers that have already won Acquire use this to
// fetch the message they're about to run — Acquire itself never pops, since
// a session can be acquired with an empty queue (the direct, unqueued
// prompt path).
func (m *Manager) Dequeue(sessionID string) (model.QueuedMessage, bool) {
	q := m.get(sessionID)
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.heap.Len() == 0 {
		return model.QueuedMessage{}, false
	}
	return heap.Pop(&q.heap).(*entry).msg, true
}

// Clear empties sessionID's pending heap without affecting busy state,
// returning the number of messages discarded.
func (m *Manager) Clear(sessionID string) int {
	q := m.get(sessionID)
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.heap.Len()
	q.heap = nil
	return n
}

// Status reports the current pending count and busy state for sessionID.
type Status struct {
	Pending int
	Busy    bool
	Owner   string
}

func (m *Manager) Status(sessionID string) Status {
	q := m.get(sessionID)
	q.mu.Lock()
	defer q.mu.Unlock()
	return Status{Pending: q.heap.Len(), Busy: q.busy, Owner: q.owner}
}

func (m *Manager) emit(kind model.EventKind, sessionID string, payload map[string]any) {
	if m.bus == nil {
		return
	}
	m.bus.Emit(model.Event{Kind: kind, SessionID: sessionID, Timestamp: time.Now().UnixNano(), Payload: payload})
}

// Package eventbus implements AMCP's typed pub/sub event bus (spec §4.A):
// priority-ordered handlers, per-session filtering, one-shot subscriptions,
// and exception isolation between handlers. Grounded on
// internal/hooks/registry.go's Registry.Trigger from the teacher codebase,
// generalized from a name-keyed handler map to one keyed by model.EventKind
// with typed priority classes and a session filter.
package eventbus

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/amcp-dev/amcp/pkg/model"
	"github.com/google/uuid"
)

// Handler receives an emitted event. A non-nil error is logged; it never
// aborts dispatch to the remaining handlers.
type Handler func(event model.Event) error

// Subscription describes one registered handler.
type Subscription struct {
	ID            string
	Kind          model.EventKind
	Priority      model.HandlerPriority
	SessionFilter string // empty = no filter
	Once          bool
	handler       Handler
	seq           int64 // insertion order, for stable sort within a priority class
}

// Bus is the process-wide event bus. There is exactly one per process,
// constructed explicitly at startup and passed through — spec §9's
// "process-global singletons become explicit services."
type Bus struct {
	mu       sync.RWMutex
	handlers map[model.EventKind][]*Subscription
	seq      int64
	async    chan model.Event
	logger   *slog.Logger
	closeOnce sync.Once
	done     chan struct{}
}

// New constructs a Bus and starts its background emit_sync worker.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		handlers: make(map[model.EventKind][]*Subscription),
		async:    make(chan model.Event, 256),
		logger:   logger,
		done:     make(chan struct{}),
	}
	go b.asyncLoop()
	return b
}

// Subscribe registers handler for kind, returning an opaque handler id that
// Unsubscribe accepts. sessionFilter, if non-empty, skips events that carry
// a different SessionID; events with an empty SessionID are delivered
// regardless of the filter.
func (b *Bus) Subscribe(kind model.EventKind, handler Handler, priority model.HandlerPriority, sessionFilter string, once bool) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	sub := &Subscription{
		ID:            uuid.NewString(),
		Kind:          kind,
		Priority:      priority,
		SessionFilter: sessionFilter,
		Once:          once,
		handler:       handler,
		seq:           b.seq,
	}
	b.handlers[kind] = append(b.handlers[kind], sub)
	sortSubsLocked(b.handlers[kind])
	return sub.ID
}

// Unsubscribe removes a handler by id. There is no id index: it scans the
// handler slices of every kind, so its cost grows with the number of
// registered handlers rather than being O(1).
func (b *Bus) Unsubscribe(handlerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for kind, subs := range b.handlers {
		for i, s := range subs {
			if s.ID == handlerID {
				b.handlers[kind] = append(subs[:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Emit dispatches event synchronously to every matching handler in
// descending priority order (CRITICAL > HIGH > NORMAL > LOW), preserving
// insertion order within a priority class. A handler's error is logged and
// does not prevent later handlers from running. once handlers are removed
// before their callback returns, even if the callback errors or panics.
func (b *Bus) Emit(event model.Event) {
	b.mu.RLock()
	subs := append([]*Subscription(nil), b.handlers[event.Kind]...)
	b.mu.RUnlock()

	for _, sub := range subs {
		if sub.SessionFilter != "" && event.SessionID != "" && sub.SessionFilter != event.SessionID {
			continue
		}
		if sub.Once {
			b.Unsubscribe(sub.ID)
		}
		b.callHandler(sub, event)
	}
}

// EmitSync is the fire-and-forget variant: it schedules handlers on the
// background worker without the caller waiting for them to run. Despite the
// name (kept to match spec §4.A's operation name), it does not wait for
// handlers; it blocks only while the 256-event buffer is full. Emit is the
// one that awaits handlers.
func (b *Bus) EmitSync(event model.Event) {
	select {
	case b.async <- event:
	case <-b.done:
	}
}

func (b *Bus) asyncLoop() {
	for {
		select {
		case event := <-b.async:
			b.Emit(event)
		case <-b.done:
			return
		}
	}
}

// Close stops the background worker. Safe to call multiple times.
func (b *Bus) Close() {
	b.closeOnce.Do(func() { close(b.done) })
}

func (b *Bus) callHandler(sub *Subscription, event model.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("eventbus handler panicked", "kind", event.Kind, "handler_id", sub.ID, "panic", r)
		}
	}()
	if err := sub.handler(event); err != nil {
		b.logger.Warn("eventbus handler error", "kind", event.Kind, "handler_id", sub.ID, "error", err)
	}
}

func sortSubsLocked(subs []*Subscription) {
	sort.SliceStable(subs, func(i, j int) bool {
		if subs[i].Priority != subs[j].Priority {
			return subs[i].Priority > subs[j].Priority // descending: CRITICAL first
		}
		return subs[i].seq < subs[j].seq
	})
}

package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/amcp-dev/amcp/pkg/model"
)

func TestEmitOrdersByPriorityThenInsertion(t *testing.T) {
	bus := New(nil)
	defer bus.Close()

	var mu sync.Mutex
	var order []string

	record := func(name string) Handler {
		return func(model.Event) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	bus.Subscribe(model.EventToolCallStart, record("normal-1"), model.PriorityNormalH, "", false)
	bus.Subscribe(model.EventToolCallStart, record("critical"), model.PriorityCritical, "", false)
	bus.Subscribe(model.EventToolCallStart, record("normal-2"), model.PriorityNormalH, "", false)
	bus.Subscribe(model.EventToolCallStart, record("low"), model.PriorityLowH, "", false)

	bus.Emit(model.Event{Kind: model.EventToolCallStart})

	want := []string{"critical", "normal-1", "normal-2", "low"}
	mu.Lock()
	defer mu.Unlock()
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestOnceHandlerRemovedAfterFirstCall(t *testing.T) {
	bus := New(nil)
	defer bus.Close()

	var calls int
	bus.Subscribe(model.EventSessionCreated, func(model.Event) error {
		calls++
		return nil
	}, model.PriorityNormalH, "", true)

	bus.Emit(model.Event{Kind: model.EventSessionCreated})
	bus.Emit(model.Event{Kind: model.EventSessionCreated})

	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestSessionFilterSkipsNonMatchingEvents(t *testing.T) {
	bus := New(nil)
	defer bus.Close()

	var calls int
	bus.Subscribe(model.EventMessageChunk, func(model.Event) error {
		calls++
		return nil
	}, model.PriorityNormalH, "session-a", false)

	bus.Emit(model.Event{Kind: model.EventMessageChunk, SessionID: "session-b"})
	if calls != 0 {
		t.Fatalf("calls = %d, want 0 for non-matching session", calls)
	}

	bus.Emit(model.Event{Kind: model.EventMessageChunk, SessionID: "session-a"})
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 for matching session", calls)
	}
}

func TestHandlerErrorDoesNotStopOthers(t *testing.T) {
	bus := New(nil)
	defer bus.Close()

	var secondCalled bool
	bus.Subscribe(model.EventToolCallError, func(model.Event) error {
		panic("boom")
	}, model.PriorityCritical, "", false)
	bus.Subscribe(model.EventToolCallError, func(model.Event) error {
		secondCalled = true
		return nil
	}, model.PriorityNormalH, "", false)

	bus.Emit(model.Event{Kind: model.EventToolCallError})

	if !secondCalled {
		t.Fatal("second handler should run despite first handler panicking")
	}
}

func TestEmitSyncDoesNotBlockCaller(t *testing.T) {
	bus := New(nil)
	defer bus.Close()

	done := make(chan struct{})
	bus.Subscribe(model.EventAgentIdle, func(model.Event) error {
		close(done)
		return nil
	}, model.PriorityNormalH, "", false)

	bus.EmitSync(model.Event{Kind: model.EventAgentIdle})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("emit_sync handler never ran")
	}
}

func TestUnsubscribeStopsFutureDelivery(t *testing.T) {
	bus := New(nil)
	defer bus.Close()

	var calls int
	id := bus.Subscribe(model.EventPromptQueued, func(model.Event) error {
		calls++
		return nil
	}, model.PriorityNormalH, "", false)

	bus.Emit(model.Event{Kind: model.EventPromptQueued})
	bus.Unsubscribe(id)
	bus.Emit(model.Event{Kind: model.EventPromptQueued})

	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

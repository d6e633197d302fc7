package protocol

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/amcp-dev/amcp/pkg/model"
)

func TestSSEFrameRendersEventAndData(t *testing.T) {
	evt := ServerEvent{Kind: model.EventMessageChunk, SessionID: "s1", Timestamp: 1, Payload: map[string]any{"text": "hi"}}
	raw, err := SSEFrame(evt)
	if err != nil {
		t.Fatal(err)
	}
	s := string(raw)
	if !strings.HasPrefix(s, "event: message.chunk\n") {
		t.Fatalf("unexpected sse prefix: %q", s)
	}
	if !strings.Contains(s, `"text":"hi"`) {
		t.Fatalf("expected payload in data line: %q", s)
	}
	if !strings.HasSuffix(s, "\n\n") {
		t.Fatalf("sse frame must end with a blank line: %q", s)
	}
}

func TestWSEventFrameRoundTrips(t *testing.T) {
	evt := ServerEvent{Kind: model.EventToolCallStart, SessionID: "s1", Timestamp: 2}
	frame, err := WSEventFrame(evt)
	if err != nil {
		t.Fatal(err)
	}
	if frame.Type != FrameEvent {
		t.Fatalf("expected event frame type, got %q", frame.Type)
	}
	var decoded ServerEvent
	if err := json.Unmarshal(frame.Payload, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Kind != model.EventToolCallStart {
		t.Fatalf("round trip lost kind: %+v", decoded)
	}
}

func TestValidateClientFramePrompt(t *testing.T) {
	raw := []byte(`{"type":"event","payload":{"action":"prompt","content":"hello"}}`)
	action, err := ValidateClientFrame(raw)
	if err != nil {
		t.Fatal(err)
	}
	if action.Action != "prompt" || action.Content != "hello" {
		t.Fatalf("unexpected action: %+v", action)
	}
}

func TestValidateClientFrameRejectsEmptyPrompt(t *testing.T) {
	raw := []byte(`{"type":"event","payload":{"action":"prompt","content":""}}`)
	if _, err := ValidateClientFrame(raw); err == nil {
		t.Fatal("expected validation error for empty content")
	}
}

func TestValidateClientFrameCancel(t *testing.T) {
	raw := []byte(`{"type":"event","payload":{"action":"cancel","force":true}}`)
	action, err := ValidateClientFrame(raw)
	if err != nil {
		t.Fatal(err)
	}
	if action.Action != "cancel" || !action.Force {
		t.Fatalf("unexpected action: %+v", action)
	}
}

func TestValidateClientFrameRejectsUnknownAction(t *testing.T) {
	raw := []byte(`{"type":"event","payload":{"action":"teleport"}}`)
	if _, err := ValidateClientFrame(raw); err == nil {
		t.Fatal("expected error for unknown action")
	}
}

func TestMapACPUpdateAgentMessage(t *testing.T) {
	evt, err := MapACPUpdate(ACPSessionUpdate{Kind: ACPAgentMessage, SessionID: "s1", Text: "partial"}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if evt.Kind != model.EventMessageChunk || evt.Payload["text"] != "partial" {
		t.Fatalf("unexpected event: %+v", evt)
	}
}

func TestMapACPUpdateCurrentMode(t *testing.T) {
	evt, err := MapACPUpdate(ACPSessionUpdate{Kind: ACPCurrentModeUpdate, SessionID: "s1", Mode: "yolo"}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if evt.Kind != model.EventSessionStatusChanged || evt.Payload["mode"] != "yolo" {
		t.Fatalf("unexpected event: %+v", evt)
	}
}

func TestMapACPUpdateRejectsUnknownKind(t *testing.T) {
	if _, err := MapACPUpdate(ACPSessionUpdate{Kind: "bogus"}, 0); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

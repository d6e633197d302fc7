// Package protocol implements AMCP's wire-level adapter (spec §4.J): the
// translation from a model.Event / agentloop.ResponseChunk into each of
// the three wire forms internal/httpserver exposes (prompt streaming
// body, WebSocket frame, SSE frame), plus the inbound WebSocket envelope
// shape and its JSON-schema validation.
//
// Grounded on internal/gateway/ws_schema.go's compiled-once
// santhosh-tekuri/jsonschema/v5 validation pattern for the envelope, and
// internal/gateway/streaming.go's chunk-to-wire idea for the renderers —
// trimmed to spec §6.2's much simpler {type, id, timestamp, payload}
// frame instead of the teacher's RPC-style wsFrame.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/amcp-dev/amcp/pkg/model"
)

// FrameType is the closed set of WebSocket frame discriminators (spec §6.2).
type FrameType string

const (
	FrameEvent FrameType = "event"
	FramePing  FrameType = "ping"
	FramePong  FrameType = "pong"
	FrameError FrameType = "error"
)

// WSFrame is the envelope exchanged over /ws?session_id=... in both
// directions. Outbound frames set Type=event and carry a ServerEvent in
// Payload; inbound frames carry a ClientAction.
type WSFrame struct {
	Type      FrameType       `json:"type"`
	ID        string          `json:"id,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ClientAction is the inbound payload shape for payload.action in {prompt,
// cancel} (spec §6.2).
type ClientAction struct {
	Action      string              `json:"action"`
	Content     string              `json:"content,omitempty"`
	Priority    model.Priority      `json:"priority,omitempty"`
	Attachments []model.Attachment  `json:"attachments,omitempty"`
	Force       bool                `json:"force,omitempty"`
}

// ServerEvent is the canonical outward-facing event shape, carried as the
// payload of an SSE frame and of a WS event frame (a prompt's HTTP
// streaming body carries StreamFrame lines instead). It is model.Event
// reshaped for wire consumption: Kind becomes the SSE "event:" line and
// the WS "kind" field.
type ServerEvent struct {
	Kind      model.EventKind `json:"kind"`
	SessionID string          `json:"session_id,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Payload   map[string]any  `json:"payload,omitempty"`
}

// StreamKind is spec §6.2's server->client payload.kind for a prompt's
// streamed response body, distinct from the broader EventKind taxonomy
// used on /events and /ws.
type StreamKind string

const (
	StreamText       StreamKind = "text"
	StreamToolCall   StreamKind = "tool_call"
	StreamToolResult StreamKind = "tool_result"
	StreamComplete   StreamKind = "complete"
	StreamError      StreamKind = "error"
)

// StreamFrame is one line of a POST /sessions/{id}/prompt streaming body.
type StreamFrame struct {
	Kind       StreamKind       `json:"kind"`
	Text       string           `json:"text,omitempty"`
	ToolCall   *model.ToolCall  `json:"tool_call,omitempty"`
	ToolResult *model.ToolResult `json:"tool_result,omitempty"`
	Error      *WireError       `json:"error,omitempty"`
}

// WireError is the body of a StreamFrame/WSFrame error payload, matching
// spec §6.5's {code, message} envelope.
type WireError struct {
	Code    model.ErrorCode `json:"code"`
	Message string          `json:"message"`
}

// EventFromModel converts a bus event into its wire representation.
func EventFromModel(e model.Event) ServerEvent {
	return ServerEvent{Kind: e.Kind, SessionID: e.SessionID, Timestamp: e.Timestamp, Payload: e.Payload}
}

// SSEFrame renders a ServerEvent as one SSE message: "event: <dotted
// kind>\ndata: <json>\n\n", per spec §6.1's GET /events and
// GET /sessions/{id}/events.
func SSEFrame(evt ServerEvent) ([]byte, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal sse event: %w", err)
	}
	out := make([]byte, 0, len(data)+32)
	out = append(out, "event: "...)
	out = append(out, string(evt.Kind)...)
	out = append(out, '\n')
	out = append(out, "data: "...)
	out = append(out, data...)
	out = append(out, '\n', '\n')
	return out, nil
}

// WSEventFrame wraps a ServerEvent in the outbound WSFrame envelope.
func WSEventFrame(evt ServerEvent) (WSFrame, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return WSFrame{}, fmt.Errorf("protocol: marshal ws event: %w", err)
	}
	return WSFrame{Type: FrameEvent, Timestamp: time.Now().UnixNano(), Payload: payload}, nil
}

// WSErrorFrame builds an outbound error frame for a failed client action.
func WSErrorFrame(id string, code model.ErrorCode, message string) (WSFrame, error) {
	payload, err := json.Marshal(WireError{Code: code, Message: message})
	if err != nil {
		return WSFrame{}, fmt.Errorf("protocol: marshal ws error: %w", err)
	}
	return WSFrame{Type: FrameError, ID: id, Timestamp: time.Now().UnixNano(), Payload: payload}, nil
}

// StreamFrameFromChunk converts one agentloop response chunk into the wire
// shape a prompt's HTTP response body emits. It returns only the frame and
// publishes nothing on the event bus.
func StreamFrameFromChunk(kind model.EventKind, text string, tc *model.ToolCall, tr *model.ToolResult, loopErr error, errCode model.ErrorCode) StreamFrame {
	switch kind {
	case model.EventToolCallStart:
		return StreamFrame{Kind: StreamToolCall, ToolCall: tc}
	case model.EventToolCallComplete, model.EventToolCallError:
		return StreamFrame{Kind: StreamToolResult, ToolResult: tr}
	case model.EventMessageComplete:
		return StreamFrame{Kind: StreamComplete, Text: text}
	default:
		if loopErr != nil {
			return StreamFrame{Kind: StreamError, Error: &WireError{Code: errCode, Message: loopErr.Error()}}
		}
		return StreamFrame{Kind: StreamText, Text: text}
	}
}

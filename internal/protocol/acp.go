package protocol

import (
	"fmt"

	"github.com/amcp-dev/amcp/pkg/model"
)

// ACPUpdateKind is the inbound session_update.kind values this adapter
// recognizes, shaped after a2aproject/a2a-go's event/message types — AMCP
// does not implement an A2A transport, only this mapping table from that
// shape to model.Event (spec §6.4).
type ACPUpdateKind string

const (
	ACPAgentMessage      ACPUpdateKind = "agent_message"
	ACPAgentResponse     ACPUpdateKind = "agent_response"
	ACPAgentThought      ACPUpdateKind = "agent_thought"
	ACPToolCallStart     ACPUpdateKind = "tool_call_start"
	ACPToolCallUpdate    ACPUpdateKind = "tool_call_update"
	ACPCurrentModeUpdate ACPUpdateKind = "current_mode_update"
	ACPPlan              ACPUpdateKind = "plan"
)

// ACPSessionUpdate is the inbound shape this adapter ingests: an A2A-style
// session_update envelope, trimmed to the fields spec §6.4's mapping table
// actually reads.
type ACPSessionUpdate struct {
	Kind      ACPUpdateKind  `json:"kind"`
	SessionID string         `json:"session_id"`
	Text      string         `json:"text,omitempty"`
	ToolName  string         `json:"tool_name,omitempty"`
	ToolInput map[string]any `json:"tool_input,omitempty"`
	Mode      string         `json:"mode,omitempty"`
	Plan      string         `json:"plan,omitempty"`
}

// acpKindMapping is spec §6.4's table, kept as data so MapACPUpdate stays a
// straight lookup plus a payload shaping step per kind.
var acpKindMapping = map[ACPUpdateKind]model.EventKind{
	ACPAgentMessage:      model.EventMessageChunk,
	ACPAgentResponse:     model.EventMessageComplete,
	ACPAgentThought:      model.EventAgentThinking,
	ACPToolCallStart:     model.EventToolCallStart,
	ACPToolCallUpdate:    model.EventToolCallComplete,
	ACPCurrentModeUpdate: model.EventSessionStatusChanged,
	ACPPlan:              model.EventAgentThinking,
}

// MapACPUpdate converts an inbound ACP session_update into the
// model.Event AMCP publishes on its own bus, per spec §6.4's mapping
// table. ts is the unix-nano timestamp to stamp the resulting event with.
func MapACPUpdate(update ACPSessionUpdate, ts int64) (model.Event, error) {
	kind, known := acpKindMapping[update.Kind]
	if !known {
		return model.Event{}, fmt.Errorf("protocol: unrecognized acp update kind %q", update.Kind)
	}

	payload := map[string]any{}
	switch update.Kind {
	case ACPAgentMessage, ACPAgentResponse, ACPAgentThought:
		payload["text"] = update.Text
	case ACPToolCallStart, ACPToolCallUpdate:
		payload["tool_name"] = update.ToolName
		payload["tool_input"] = update.ToolInput
	case ACPCurrentModeUpdate:
		payload["mode"] = update.Mode
	case ACPPlan:
		payload["plan"] = update.Plan
	}

	return model.Event{
		Kind:      kind,
		SessionID: update.SessionID,
		Timestamp: ts,
		Payload:   payload,
	}, nil
}

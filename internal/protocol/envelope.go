package protocol

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// envelopeSchemas mirrors internal/gateway/ws_schema.go's wsSchemaRegistry:
// schemas are compiled once, lazily, the first time a frame needs
// validating.
type envelopeSchemas struct {
	once    sync.Once
	initErr error
	frame   *jsonschema.Schema
	actions map[string]*jsonschema.Schema
}

var wsSchemas envelopeSchemas

func initEnvelopeSchemas() error {
	wsSchemas.once.Do(func() {
		frame, err := jsonschema.CompileString("ws_frame", wsFrameSchema)
		if err != nil {
			wsSchemas.initErr = err
			return
		}
		wsSchemas.frame = frame

		actions := map[string]string{
			"prompt": wsPromptActionSchema,
			"cancel": wsCancelActionSchema,
		}
		wsSchemas.actions = make(map[string]*jsonschema.Schema, len(actions))
		for name, schema := range actions {
			compiled, err := jsonschema.CompileString("ws_action_"+name, schema)
			if err != nil {
				wsSchemas.initErr = err
				return
			}
			wsSchemas.actions[name] = compiled
		}
	})
	return wsSchemas.initErr
}

// ValidateClientFrame checks raw against the WSFrame envelope schema, then
// (if the frame carries a recognized payload.action) against that
// action's own parameter schema. It returns the decoded action on success.
func ValidateClientFrame(raw []byte) (ClientAction, error) {
	if err := initEnvelopeSchemas(); err != nil {
		return ClientAction{}, fmt.Errorf("protocol: schema init: %w", err)
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return ClientAction{}, fmt.Errorf("protocol: invalid json: %w", err)
	}
	if err := wsSchemas.frame.Validate(generic); err != nil {
		return ClientAction{}, fmt.Errorf("protocol: frame does not match envelope: %w", err)
	}

	var frame WSFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return ClientAction{}, fmt.Errorf("protocol: decode frame: %w", err)
	}

	var action ClientAction
	if err := json.Unmarshal(frame.Payload, &action); err != nil {
		return ClientAction{}, fmt.Errorf("protocol: decode payload: %w", err)
	}

	if schema := wsSchemas.actions[action.Action]; schema != nil {
		var payload any
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			return ClientAction{}, fmt.Errorf("protocol: decode action payload: %w", err)
		}
		if err := schema.Validate(payload); err != nil {
			return ClientAction{}, fmt.Errorf("protocol: payload does not match %q schema: %w", action.Action, err)
		}
	} else {
		return ClientAction{}, fmt.Errorf("protocol: unknown action %q", action.Action)
	}

	return action, nil
}

const wsFrameSchema = `{
  "type": "object",
  "required": ["type", "payload"],
  "properties": {
    "type": { "const": "event" },
    "id": { "type": "string" },
    "timestamp": { "type": "integer" },
    "payload": {}
  },
  "additionalProperties": true
}`

const wsPromptActionSchema = `{
  "type": "object",
  "required": ["action", "content"],
  "properties": {
    "action": { "const": "prompt" },
    "content": { "type": "string", "minLength": 1 },
    "priority": { "type": "integer" },
    "attachments": {
      "type": "array",
      "items": { "type": "object" }
    }
  },
  "additionalProperties": true
}`

const wsCancelActionSchema = `{
  "type": "object",
  "required": ["action"],
  "properties": {
    "action": { "const": "cancel" },
    "force": { "type": "boolean" }
  },
  "additionalProperties": true
}`

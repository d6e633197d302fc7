// Package llm implements the agentloop.LLMProvider adapters plugged into
// cmd/amcpd. agentloop deliberately depends only on the LLMProvider
// interface (spec §1: "the HTTP clients behind it are out of scope");
// this package is where that scope lives.
//
// Grounded on internal/agent/providers/anthropic.go's streaming shape,
// trimmed to what agentloop.CompletionRequest/CompletionChunk need: no
// beta computer-use tools, no vision attachment conversion, no
// token-count estimator (internal/compactor already owns that via
// tiktoken-go). Retries are left to the SDK client, which is given
// MaxRetries and applies its own backoff; RetryDelay is stored but not
// read.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/amcp-dev/amcp/internal/agentloop"
	"github.com/amcp-dev/amcp/pkg/model"
)

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string
	MaxTokens    int
}

// AnthropicProvider implements agentloop.LLMProvider against Claude's
// Messages API.
type AnthropicProvider struct {
	client       anthropic.Client
	maxRetries   int
	retryDelay   time.Duration
	defaultModel string
	maxTokens    int
}

// NewAnthropicProvider builds a provider from cfg, applying the same
// defaults as the teacher's AnthropicConfig.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm: anthropic API key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(cfg.MaxRetries)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		defaultModel: cfg.DefaultModel,
		maxTokens:    cfg.MaxTokens,
	}, nil
}

// Complete implements agentloop.LLMProvider.
func (p *AnthropicProvider) Complete(ctx context.Context, req agentloop.CompletionRequest) (<-chan agentloop.CompletionChunk, error) {
	out := make(chan agentloop.CompletionChunk)

	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	go func() {
		defer close(out)
		stream := p.client.Messages.NewStreaming(ctx, params)
		p.processStream(stream, out)
	}()

	return out, nil
}

func (p *AnthropicProvider) buildParams(req agentloop.CompletionRequest) (anthropic.MessageNewParams, error) {
	messages, err := p.convertMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("llm: convert messages: %w", err)
	}

	modelID := req.Model
	if modelID == "" {
		modelID = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(modelID),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := p.convertTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, fmt.Errorf("llm: convert tools: %w", err)
		}
		params.Tools = tools
	}
	return params, nil
}

// convertMessages maps model.Message (role user/assistant/tool) onto
// Anthropic's content-block message shape, folding tool-role messages
// into a tool_result block on the following user turn per the API's
// "tool results ride inside a user message" requirement.
func (p *AnthropicProvider) convertMessages(messages []model.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			continue
		case model.RoleTool:
			result = append(result, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false),
			))
		case model.RoleAssistant:
			var content []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				content = append(content, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				var input map[string]any
				if len(tc.Input) > 0 {
					if err := json.Unmarshal(tc.Input, &input); err != nil {
						return nil, fmt.Errorf("tool call %s input: %w", tc.ID, err)
					}
				}
				content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			result = append(result, anthropic.NewAssistantMessage(content...))
		default:
			result = append(result, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	return result, nil
}

func (p *AnthropicProvider) convertTools(tools []model.ToolDescriptor) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(t.Parameters, &schema); err != nil {
			return nil, fmt.Errorf("tool %s schema: %w", t.Name, err)
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("tool %s: missing tool definition", t.Name)
		}
		toolParam.OfTool.Description = anthropic.String(t.Description)
		result = append(result, toolParam)
	}
	return result, nil
}

func (p *AnthropicProvider) processStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], out chan<- agentloop.CompletionChunk) {
	var toolCall *model.ToolCall
	var toolInput strings.Builder

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				use := block.AsToolUse()
				toolCall = &model.ToolCall{ID: use.ID, Name: use.Name}
				toolInput.Reset()
			}
		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					out <- agentloop.CompletionChunk{Text: delta.Text}
				}
			case "input_json_delta":
				toolInput.WriteString(delta.PartialJSON)
			}
		case "content_block_stop":
			if toolCall != nil {
				toolCall.Input = json.RawMessage(toolInput.String())
				out <- agentloop.CompletionChunk{ToolCall: toolCall}
				toolCall = nil
			}
		case "message_stop":
			return
		case "error":
			out <- agentloop.CompletionChunk{Error: errors.New("llm: anthropic stream error")}
			return
		}
	}
	if err := stream.Err(); err != nil {
		out <- agentloop.CompletionChunk{Error: fmt.Errorf("llm: anthropic: %w", err)}
	}
}

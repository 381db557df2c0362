package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/zeroclaw-labs/zeroclaw/internal/agent"
	"github.com/zeroclaw-labs/zeroclaw/pkg/models"
)

const defaultAnthropicModel = "claude-sonnet-4-20250514"

// AnthropicProvider implements agent.LLMProvider over the Anthropic
// Messages API. Like the OpenAI provider it is single-shot; the
// reliability router owns retry and failover.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
}

// AnthropicOptions configure an AnthropicProvider.
type AnthropicOptions struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// NewAnthropicProvider creates an Anthropic provider.
func NewAnthropicProvider(opts AnthropicOptions) (*AnthropicProvider, error) {
	if opts.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	clientOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if strings.TrimSpace(opts.BaseURL) != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}
	model := opts.DefaultModel
	if model == "" {
		model = defaultAnthropicModel
	}
	return &AnthropicProvider{
		client:       anthropic.NewClient(clientOpts...),
		defaultModel: model,
	}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Models() []agent.Model {
	return []agent.Model{
		{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", ContextSize: 200000, SupportsVision: true},
		{ID: "claude-opus-4-20250514", Name: "Claude Opus 4", ContextSize: 200000, SupportsVision: true},
		{ID: "claude-3-5-sonnet-20241022", Name: "Claude 3.5 Sonnet", ContextSize: 200000, SupportsVision: true},
		{ID: "claude-3-haiku-20240307", Name: "Claude 3 Haiku", ContextSize: 200000, SupportsVision: true},
	}
}

func (p *AnthropicProvider) SupportsTools() bool  { return true }
func (p *AnthropicProvider) SupportsVision() bool { return true }

// Complete sends one streaming Messages request.
func (p *AnthropicProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	messages, err := p.convertMessages(req.Messages)
	if err != nil {
		return nil, &Error{Class: FailureInvalidRequest, Provider: "anthropic", Model: model, Message: err.Error(), Cause: err}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if len(req.Tools) > 0 {
		tools, err := p.convertTools(req.Tools)
		if err != nil {
			return nil, &Error{Class: FailureInvalidRequest, Provider: "anthropic", Model: model, Message: err.Error(), Cause: err}
		}
		params.Tools = tools
	}

	stream := p.client.Messages.NewStreaming(ctx, params)

	chunks := make(chan *agent.CompletionChunk)
	go p.processStream(stream, model, chunks)
	return chunks, nil
}

// maxEmptyStreamEvents bounds consecutive unproductive SSE events before
// the stream is declared malformed.
const maxEmptyStreamEvents = 300

func (p *AnthropicProvider) processStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], model string, chunks chan<- *agent.CompletionChunk) {
	defer close(chunks)

	var currentToolCall *models.ToolCall
	var currentToolInput strings.Builder
	emptyEvents := 0

	var inputTokens, outputTokens int

	for stream.Next() {
		event := stream.Current()
		processed := false

		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			if start.Message.Usage.InputTokens > 0 {
				inputTokens = int(start.Message.Usage.InputTokens)
			}
			processed = true

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				currentToolCall = &models.ToolCall{ID: toolUse.ID, Name: toolUse.Name}
				currentToolInput.Reset()
				processed = true
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					chunks <- &agent.CompletionChunk{Text: delta.Text}
					processed = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					currentToolInput.WriteString(delta.PartialJSON)
					processed = true
				}
			}

		case "content_block_stop":
			if currentToolCall != nil {
				currentToolCall.Input = json.RawMessage(currentToolInput.String())
				chunks <- &agent.CompletionChunk{ToolCall: currentToolCall}
				currentToolCall = nil
				processed = true
			}

		case "message_delta":
			delta := event.AsMessageDelta()
			if delta.Usage.OutputTokens > 0 {
				outputTokens = int(delta.Usage.OutputTokens)
			}
			processed = true

		case "message_stop":
			chunks <- &agent.CompletionChunk{
				Done:         true,
				InputTokens:  inputTokens,
				OutputTokens: outputTokens,
			}
			return

		case "error":
			chunks <- &agent.CompletionChunk{Error: NewError("anthropic", model, errors.New("anthropic stream error")), Done: true}
			return
		}

		if processed {
			emptyEvents = 0
		} else {
			emptyEvents++
			if emptyEvents >= maxEmptyStreamEvents {
				chunks <- &agent.CompletionChunk{
					Error: NewError("anthropic", model,
						fmt.Errorf("stream appears malformed: %d consecutive empty events", emptyEvents)),
					Done: true,
				}
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		chunks <- &agent.CompletionChunk{Error: NewError("anthropic", model, err), Done: true}
	}
}

// convertMessages translates to Anthropic's content-block format. System
// messages are handled separately via params.System; tool results become
// user-role tool_result blocks.
func (p *AnthropicProvider) convertMessages(messages []agent.CompletionMessage) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam

	for _, msg := range messages {
		if msg.Role == "system" {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, tr := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
		}
		for _, tc := range msg.ToolCalls {
			var input map[string]any
			if err := json.Unmarshal(tc.Input, &input); err != nil {
				return nil, fmt.Errorf("invalid tool call input: %w", err)
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}
		if len(content) == 0 {
			continue
		}

		if msg.Role == "assistant" {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

func (p *AnthropicProvider) convertTools(tools []agent.ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Schema, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", tool.Name)
		}
		param.OfTool.Description = anthropic.String(tool.Description)
		result = append(result, param)
	}
	return result, nil
}

package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/zeroclaw-labs/zeroclaw/internal/agent"
	"github.com/zeroclaw-labs/zeroclaw/pkg/models"
)

// OpenAIProvider implements agent.LLMProvider over the OpenAI chat
// completions API. It also backs every OpenAI-compatible endpoint
// (openrouter, groq, mistral, deepseek, xai, ollama, custom base URLs):
// those differ only in name, base URL, and model catalog.
//
// The provider is single-shot: retry, backoff, and failover decisions
// belong to the reliability router. Failures come back classified so the
// router can tell a rate limit from a bad key.
type OpenAIProvider struct {
	client       *openai.Client
	name         string
	defaultModel string
	models       []agent.Model
	vision       bool
}

// OpenAIOptions configure an OpenAIProvider.
type OpenAIOptions struct {
	// APIKey authenticates requests. Empty is allowed for endpoints that
	// need no key (local ollama).
	APIKey string

	// BaseURL overrides the API endpoint for compatible providers.
	BaseURL string

	// Name is the provider id used in routing and logs ("openai" when
	// empty).
	Name string

	// DefaultModel is used when a request does not name a model.
	DefaultModel string

	// Models overrides the advertised model catalog.
	Models []agent.Model

	// SupportsVision marks the endpoint as accepting image input.
	SupportsVision bool
}

// NewOpenAIProvider creates a provider for OpenAI or any compatible
// endpoint.
func NewOpenAIProvider(opts OpenAIOptions) *OpenAIProvider {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}

	name := opts.Name
	if name == "" {
		name = "openai"
	}
	p := &OpenAIProvider{
		client:       openai.NewClientWithConfig(cfg),
		name:         name,
		defaultModel: opts.DefaultModel,
		models:       opts.Models,
		vision:       opts.SupportsVision,
	}
	if p.defaultModel == "" && name == "openai" {
		p.defaultModel = "gpt-4o"
	}
	if p.models == nil && name == "openai" {
		p.models = []agent.Model{
			{ID: "gpt-4o", Name: "GPT-4o", ContextSize: 128000, SupportsVision: true},
			{ID: "gpt-4o-mini", Name: "GPT-4o mini", ContextSize: 128000, SupportsVision: true},
			{ID: "gpt-4-turbo", Name: "GPT-4 Turbo", ContextSize: 128000, SupportsVision: true},
			{ID: "gpt-3.5-turbo", Name: "GPT-3.5 Turbo", ContextSize: 16385, SupportsVision: false},
		}
		p.vision = true
	}
	return p
}

func (p *OpenAIProvider) Name() string          { return p.name }
func (p *OpenAIProvider) Models() []agent.Model { return p.models }
func (p *OpenAIProvider) SupportsTools() bool   { return true }
func (p *OpenAIProvider) SupportsVision() bool  { return p.vision }

// Complete sends one streaming chat completion request.
func (p *OpenAIProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	if model == "" {
		return nil, &Error{Class: FailureInvalidRequest, Provider: p.name, Message: "no model specified and no default configured"}
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: p.convertMessages(req.Messages, req.System),
		Stream:   true,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		chatReq.Temperature = float32(req.Temperature)
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = p.convertTools(req.Tools)
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, NewError(p.name, model, err)
	}

	chunks := make(chan *agent.CompletionChunk)
	go p.processStream(ctx, stream, model, chunks)
	return chunks, nil
}

// processStream drains the SSE stream, accumulating incremental tool-call
// fragments until they are complete.
func (p *OpenAIProvider) processStream(ctx context.Context, stream *openai.ChatCompletionStream, model string, chunks chan<- *agent.CompletionChunk) {
	defer close(chunks)
	defer stream.Close()

	// Tool calls arrive fragmented; the index tracks parallel calls.
	toolCalls := make(map[int]*models.ToolCall)
	flush := func() {
		for _, tc := range toolCalls {
			if tc.ID != "" && tc.Name != "" {
				chunks <- &agent.CompletionChunk{ToolCall: tc}
			}
		}
		toolCalls = make(map[int]*models.ToolCall)
	}

	for {
		select {
		case <-ctx.Done():
			chunks <- &agent.CompletionChunk{Error: NewError(p.name, model, ctx.Err()), Done: true}
			return
		default:
		}

		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				flush()
				chunks <- &agent.CompletionChunk{Done: true}
				return
			}
			chunks <- &agent.CompletionChunk{Error: NewError(p.name, model, err), Done: true}
			return
		}
		if len(response.Choices) == 0 {
			continue
		}

		delta := response.Choices[0].Delta
		if delta.Content != "" {
			chunks <- &agent.CompletionChunk{Text: delta.Content}
		}
		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if toolCalls[index] == nil {
				toolCalls[index] = &models.ToolCall{}
			}
			if tc.ID != "" {
				toolCalls[index].ID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[index].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				toolCalls[index].Input = append(toolCalls[index].Input, tc.Function.Arguments...)
			}
		}

		if response.Choices[0].FinishReason == openai.FinishReasonToolCalls {
			flush()
		}
	}
}

func (p *OpenAIProvider) convertMessages(messages []agent.CompletionMessage, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)

	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		switch msg.Role {
		case "tool":
			// One message per result; ToolCallID links it to the call.
			for _, tr := range msg.ToolResults {
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Content,
					ToolCallID: tr.ToolCallID,
				})
			}

		case "assistant":
			m := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			if len(msg.ToolCalls) > 0 {
				m.ToolCalls = make([]openai.ToolCall, len(msg.ToolCalls))
				for i, tc := range msg.ToolCalls {
					m.ToolCalls[i] = openai.ToolCall{
						ID:   tc.ID,
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      tc.Name,
							Arguments: string(tc.Input),
						},
					}
				}
			}
			result = append(result, m)

		default:
			result = append(result, p.convertUserMessage(msg))
		}
	}
	return result
}

func (p *OpenAIProvider) convertUserMessage(msg agent.CompletionMessage) openai.ChatCompletionMessage {
	m := openai.ChatCompletionMessage{Role: msg.Role}

	hasImages := false
	for _, att := range msg.Attachments {
		if att.Type == models.AttachmentImage {
			hasImages = true
			break
		}
	}
	if !hasImages {
		m.Content = msg.Content
		return m
	}

	parts := make([]openai.ChatMessagePart, 0, len(msg.Attachments)+1)
	if msg.Content != "" {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeText,
			Text: msg.Content,
		})
	}
	for _, att := range msg.Attachments {
		if att.Type != models.AttachmentImage {
			continue
		}
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    att.URL,
				Detail: openai.ImageURLDetailAuto,
			},
		})
	}
	m.MultiContent = parts
	return m
}

func (p *OpenAIProvider) convertTools(tools []agent.ToolDefinition) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		var schema map[string]any
		if err := json.Unmarshal(tool.Schema, &schema); err != nil {
			// A broken schema on one tool must not kill the whole call.
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schema,
			},
		}
	}
	return result
}

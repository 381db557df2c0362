package agent

import (
	"context"
	"encoding/json"

	"github.com/zeroclaw-labs/zeroclaw/pkg/models"
)

// LLMProvider defines the interface for model backends.
//
// Implementations handle the wire specifics of one provider API while
// presenting a unified streaming interface to the turn executor. The
// reliability router itself implements LLMProvider, so the executor does
// not know whether it talks to one backend or a failover chain.
//
// Implementations must be safe for concurrent use; multiple turns may call
// Complete simultaneously.
type LLMProvider interface {
	// Complete sends a request and returns a streaming response.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider id used in routing and logs.
	Name() string

	// Models returns available models.
	Models() []Model

	// SupportsTools reports whether the provider supports tool calling.
	SupportsTools() bool

	// SupportsVision reports whether the provider accepts image input.
	// The reliability router filters fallback candidates on this when the
	// request carries image attachments.
	SupportsVision() bool
}

// CompletionRequest contains all parameters for one model call.
type CompletionRequest struct {
	// Model is the concrete model id. Empty selects the provider default.
	Model string `json:"model"`

	// System is the system prompt, handled out of band of Messages.
	System string `json:"system,omitempty"`

	// Messages is the conversation history in chronological order.
	Messages []CompletionMessage `json:"messages"`

	// Tools lists the tools the model may request.
	Tools []ToolDefinition `json:"tools,omitempty"`

	// MaxTokens limits the response length. 0 uses the provider default.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature overrides sampling temperature when non-zero.
	Temperature float64 `json:"temperature,omitempty"`
}

// HasImages reports whether any message carries an image attachment.
func (r *CompletionRequest) HasImages() bool {
	for i := range r.Messages {
		for _, a := range r.Messages[i].Attachments {
			if a.Type == models.AttachmentImage {
				return true
			}
		}
	}
	return false
}

// CompletionMessage is a single role-tagged message in a conversation.
// Role values: "user", "assistant", "tool".
type CompletionMessage struct {
	Role        string              `json:"role"`
	Content     string              `json:"content,omitempty"`
	ToolCalls   []models.ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []models.ToolResult `json:"tool_results,omitempty"`
	Attachments []models.Attachment `json:"attachments,omitempty"`
}

// CompletionChunk is one chunk of a streaming model response.
type CompletionChunk struct {
	// Text contains partial response text.
	Text string `json:"text,omitempty"`

	// ToolCall contains a complete tool execution request.
	ToolCall *models.ToolCall `json:"tool_call,omitempty"`

	// Done is true when the stream completed successfully.
	Done bool `json:"done,omitempty"`

	// Error terminates the stream.
	Error error `json:"-"`

	// InputTokens and OutputTokens are populated on the final chunk.
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`

	// Provenance identifies the attempt that served this stream. The
	// reliability router sets it on the final chunk.
	Provenance *Provenance `json:"provenance,omitempty"`
}

// Model describes an available model and its capabilities.
type Model struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	ContextSize    int    `json:"context_size"`
	SupportsVision bool   `json:"supports_vision"`
}

// ToolDefinition is the schema advertised to the model for one tool.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema"`
}

// Tool is the uniform execution contract for agent tools. Tool
// implementations (shell, file I/O, HTTP, browser, hardware) are external
// collaborators; the runtime only sees this interface.
type Tool interface {
	// Name returns the tool name used for model function calling.
	Name() string

	// Description helps the model decide when to use the tool.
	Description() string

	// Schema returns the JSON Schema for the tool's parameters.
	Schema() json.RawMessage

	// Execute runs the tool with the given JSON parameters.
	Execute(ctx context.Context, params json.RawMessage) (*ToolOutput, error)
}

// ToolOutput is what a tool returns on success, or on a model-visible
// failure (IsError set).
type ToolOutput struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
	// CostCents is the cost this invocation reports toward the daily
	// autonomy budget.
	CostCents int64 `json:"cost_cents,omitempty"`
}

// ResponseChunk is one chunk of a turn's streamed output toward a channel.
type ResponseChunk struct {
	Text       string             `json:"text,omitempty"`
	ToolResult *models.ToolResult `json:"tool_result,omitempty"`

	// Approval is set when a tool call was gated and the turn ends with a
	// pending approval prompt.
	Approval *ApprovalPrompt `json:"approval,omitempty"`

	// Provenance reports which provider/model/attempt served the final
	// model call, populated on the closing chunk.
	Provenance *Provenance `json:"provenance,omitempty"`

	Error error `json:"-"`
}

// ApprovalPrompt tells the channel to ask the user for confirmation.
type ApprovalPrompt struct {
	RequestID string `json:"request_id"`
	ToolName  string `json:"tool_name"`
	Reason    string `json:"reason,omitempty"`
}

// Provenance identifies the attempt that served a model response.
type Provenance struct {
	Provider         string `json:"provider"`
	Model            string `json:"model"`
	Attempt          int    `json:"attempt"`
	CredentialSource string `json:"credential_source,omitempty"`
}

package models

import (
	"encoding/json"
	"time"
)

// ChannelType represents a messaging surface.
type ChannelType string

const (
	ChannelCLI      ChannelType = "cli"
	ChannelLoopback ChannelType = "loopback"
	ChannelTelegram ChannelType = "telegram"
	ChannelWebhook  ChannelType = "webhook"
)

// Direction indicates if a message is inbound or outbound.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is the unified message format across all channels.
type Message struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"session_id"`
	Channel     ChannelType    `json:"channel"`
	SenderID    string         `json:"sender_id"`
	ChatID      string         `json:"chat_id"`
	Direction   Direction      `json:"direction"`
	Role        Role           `json:"role"`
	Content     string         `json:"content"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	ToolCalls   []ToolCall     `json:"tool_calls,omitempty"`
	ToolResults []ToolResult   `json:"tool_results,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	// Interrupted marks a user message whose turn was cancelled by a newer
	// message before completing. The content stays in history for context.
	Interrupted bool      `json:"interrupted,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// HasImages reports whether the message carries image attachments. The
// reliability router uses this to skip non-vision providers.
func (m *Message) HasImages() bool {
	for _, a := range m.Attachments {
		if a.Type == AttachmentImage {
			return true
		}
	}
	return false
}

// Attachment types.
const (
	AttachmentImage    = "image"
	AttachmentAudio    = "audio"
	AttachmentDocument = "document"
)

// Attachment represents a file or media marker attached to a message.
// Channels deliver markers only; fetching bytes is the channel's concern.
type Attachment struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	URL      string `json:"url,omitempty"`
	Filename string `json:"filename,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// ToolCall represents a model's request to execute a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult represents the output of a tool execution.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
	// CostCents is the monetary cost the tool reports for this invocation,
	// counted against the daily autonomy budget.
	CostCents int64 `json:"cost_cents,omitempty"`
}

// Session represents one sender+chat conversation thread.
type Session struct {
	ID        string      `json:"id"`
	Channel   ChannelType `json:"channel"`
	SenderID  string      `json:"sender_id"`
	ChatID    string      `json:"chat_id"`
	Key       string      `json:"key"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Package models provides the domain types shared by every component of the
// agent execution core: messages, tool calls/results, agent events, turn
// state, and the memory/session records persisted by the long-term memory
// and checkpoint subsystems.
package models

import (
	"encoding/json"
	"time"
)

// Role identifies who produced a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single turn-level unit of conversation content.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`

	// ReasoningContent carries provider-supplied chain-of-thought/thinking
	// text that must not be sent back as ordinary content on the next turn.
	ReasoningContent string `json:"reasoning_content,omitempty"`

	// ToolCalls are present on assistant messages that invoked tools.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolResults are present on tool-role messages answering ToolCalls.
	ToolResults []ToolResult `json:"tool_results,omitempty"`

	// Attachments carries supplemental binary/file content (images, files)
	// referenced by a message, independent of the text content.
	Attachments []Attachment `json:"attachments,omitempty"`

	// Summary marks this message as a compaction-generated summary rather
	// than original conversation content. The context compressor sets it
	// on the summary message it prepends; the token counter counts such
	// messages like any other.
	Summary bool `json:"summary,omitempty"`
}

// Attachment is a supplemental file/image/blob referenced by a Message.
type Attachment struct {
	ID          string `json:"id"`
	ContentType string `json:"content_type"`
	URI         string `json:"uri,omitempty"`
	Data        []byte `json:"data,omitempty"`
	Name        string `json:"name,omitempty"`
}

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`

	// RawArguments preserves the provider's original JSON for tools whose
	// arguments must round-trip byte-for-byte (e.g. re-sent on retry).
	RawArguments json.RawMessage `json:"-"`
}

// ToolResult is the outcome of executing a ToolCall.
type ToolResult struct {
	ToolCallID string        `json:"tool_call_id"`
	Content    string        `json:"content"`
	IsError    bool          `json:"is_error,omitempty"`
	Error      string        `json:"error,omitempty"`
	DurationMS int64         `json:"duration_ms,omitempty"`
	Duration   time.Duration `json:"-"`
}

// NewToolResult builds a success ToolResult, recording elapsed time in both
// the duration and duration_ms fields.
func NewToolResult(callID, content string, elapsed time.Duration) ToolResult {
	return ToolResult{
		ToolCallID: callID,
		Content:    content,
		Duration:   elapsed,
		DurationMS: elapsed.Milliseconds(),
	}
}

// NewToolErrorResult builds a failed ToolResult from an error.
func NewToolErrorResult(callID string, err error, elapsed time.Duration) ToolResult {
	return ToolResult{
		ToolCallID: callID,
		IsError:    true,
		Error:      err.Error(),
		Duration:   elapsed,
		DurationMS: elapsed.Milliseconds(),
	}
}

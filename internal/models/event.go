package models

import "time"

// AgentEventType discriminates AgentEvent payloads.
type AgentEventType string

const (
	EventSessionCreated   AgentEventType = "session_created"
	EventThinking         AgentEventType = "thinking"
	EventToolCall         AgentEventType = "tool_call"
	EventToolResult       AgentEventType = "tool_result"
	EventText             AgentEventType = "text"
	EventTitleUpdated     AgentEventType = "title_updated"
	EventSessionRecreated AgentEventType = "session_recreated"
	EventDone             AgentEventType = "done"
	EventInterrupt        AgentEventType = "interrupt"
	EventError            AgentEventType = "error"
)

// ThinkingStatus values for Thinking payloads.
type ThinkingStatus string

const (
	ThinkingRecalling      ThinkingStatus = "recalling"
	ThinkingProcessing     ThinkingStatus = "processing"
	ThinkingExecutingTools ThinkingStatus = "executing_tools"
	ThinkingPersisting     ThinkingStatus = "persisting"
)

// AgentEvent is the single tagged-union event type streamed out of a turn.
// Exactly one payload field is non-nil for a given Type. The Sequence field
// is monotonic per turn so consumers can detect drops/reordering.
type AgentEvent struct {
	Type      AgentEventType `json:"type"`
	Time      time.Time      `json:"time"`
	Sequence  uint64         `json:"seq"`
	SessionID string         `json:"session_id,omitempty"`

	SessionCreated   *SessionCreatedPayload   `json:"session_created,omitempty"`
	Thinking         *ThinkingPayload         `json:"thinking,omitempty"`
	ToolCall         *ToolCallPayload         `json:"tool_call,omitempty"`
	ToolResult       *ToolResultPayload       `json:"tool_result,omitempty"`
	Text             *TextPayload             `json:"text,omitempty"`
	TitleUpdated     *TitleUpdatedPayload     `json:"title_updated,omitempty"`
	SessionRecreated *SessionRecreatedPayload `json:"session_recreated,omitempty"`
	Done             *DonePayload             `json:"done,omitempty"`
	Interrupt        *InterruptPayload        `json:"interrupt,omitempty"`
	Error            *ErrorPayload            `json:"error,omitempty"`
}

type SessionCreatedPayload struct {
	SessionID string `json:"session_id"`
}

type ThinkingPayload struct {
	Status    ThinkingStatus `json:"status"`
	Iteration int            `json:"iteration"`
	Content   string         `json:"content,omitempty"`
}

type ToolCallPayload struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type ToolResultPayload struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
}

type TextPayload struct {
	Content string `json:"content"`
}

type TitleUpdatedPayload struct {
	SessionID string `json:"session_id"`
	Title     string `json:"title"`
}

type SessionRecreatedPayload struct {
	PreviousState string `json:"previous_state,omitempty"`
}

type DonePayload struct {
	Content          string `json:"content"`
	ReasoningContent string `json:"reasoning_content,omitempty"`
	Iterations       int    `json:"iterations"`
	ToolIterations   int    `json:"tool_iterations"`
	TotalTokens      int    `json:"total_tokens"`
	Reason           string `json:"reason,omitempty"`
}

type InterruptPayload struct {
	Reason         string   `json:"reason"`
	PendingToolIDs []string `json:"pending_tool_ids,omitempty"`
}

type ErrorPayload struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
	Code      string `json:"code,omitempty"`
}

package models

import "time"

// TurnState is what the Checkpointer persists for a single session: enough
// to resume the Turn Orchestrator's loop exactly where it paused.
type TurnState struct {
	SessionID        string     `json:"session_id"`
	UserID           string     `json:"user_id"`
	Messages         []Message  `json:"messages"`
	Iteration        int        `json:"iteration"`
	ToolIteration    int        `json:"tool_iteration"`
	TotalTokens      int        `json:"total_tokens"`
	PendingToolCalls []ToolCall `json:"pending_tool_calls"`
	RecalledMemories []Memory   `json:"recalled_memories"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Clone returns a deep-enough copy for the Orchestrator to mutate locally
// before writing back via the Checkpointer.
func (t *TurnState) Clone() *TurnState {
	if t == nil {
		return nil
	}
	out := *t
	out.Messages = append([]Message(nil), t.Messages...)
	out.PendingToolCalls = append([]ToolCall(nil), t.PendingToolCalls...)
	out.RecalledMemories = append([]Memory(nil), t.RecalledMemories...)
	return &out
}

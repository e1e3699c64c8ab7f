package models

import "time"

// Memory is a single long-term memory record. It is stored jointly in the
// vector index (content + payload) and the document store (full record);
// the two must agree on ID.
type Memory struct {
	ID         string         `json:"id"`
	SessionID  string         `json:"session_id"`
	Type       string         `json:"type"`
	Content    string         `json:"content"`
	Importance float64        `json:"importance"` // in [1,10]
	CreatedAt  time.Time      `json:"created_at"`
	Metadata   map[string]any `json:"metadata,omitempty"`

	// Embedding is populated by the caller before Put and never round-tripped.
	Embedding []float32 `json:"-"`
}

// MemoryAtom is a unit of SimpleMem ingestion output: a compressed summary
// of one sliding-window of conversation.
type MemoryAtom struct {
	ID            string    `json:"id"`
	Content       string    `json:"content"`
	Entities      []string  `json:"entities"`
	Timestamp     time.Time `json:"timestamp"`
	SourceSession string    `json:"source_session"`
	Importance    float64   `json:"importance"`
	Tokens        int       `json:"tokens"`
}

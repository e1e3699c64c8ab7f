// Package checkpoint implements the Checkpointer (C9): durable persistence
// of TurnState keyed by session_id, grounded on the teacher's
// internal/sessions persistence discipline (append/durable-before-emit).
package checkpoint

import (
	"context"
	"encoding/json"

	"github.com/agentcore/agentcore/internal/docstore"
	"github.com/agentcore/agentcore/internal/models"
)

const namespace = "checkpoints"

// Checkpointer persists and loads TurnState.
type Checkpointer struct {
	docs docstore.Store
}

// New constructs a Checkpointer backed by the given Document Store.
func New(docs docstore.Store) *Checkpointer {
	return &Checkpointer{docs: docs}
}

// Save durably persists state, keyed by state.SessionID. Callers must
// complete Save before emitting a Done or Interrupt event.
func (c *Checkpointer) Save(ctx context.Context, state *models.TurnState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return models.NewError(models.KindStorageError, "failed to marshal turn state", err)
	}
	if err := c.docs.Put(ctx, namespace, state.SessionID, payload); err != nil {
		return models.NewError(models.KindStorageError, "failed to save checkpoint", err)
	}
	return nil
}

// Load returns the last successfully saved state for sessionID, or nil if
// none exists.
func (c *Checkpointer) Load(ctx context.Context, sessionID string) (*models.TurnState, error) {
	raw, err := c.docs.Get(ctx, namespace, sessionID)
	if err != nil {
		if err == docstore.ErrNotFound {
			return nil, nil
		}
		return nil, models.NewError(models.KindStorageError, "failed to load checkpoint", err)
	}
	var state models.TurnState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, models.NewError(models.KindStorageError, "failed to unmarshal checkpoint", err)
	}
	return &state, nil
}

// Diff summarizes the change between two TurnStates, used for observability
// and for deciding whether a resumed turn needs to re-run extraction.
type Diff struct {
	MessagesAdded  int
	TokensDelta    int
	IterationDelta int
	NewMessages    []models.Message
}

// ComputeDiff compares two checkpoints taken of the same session.
func ComputeDiff(a, b *models.TurnState) Diff {
	if a == nil {
		a = &models.TurnState{}
	}
	if b == nil {
		b = &models.TurnState{}
	}
	d := Diff{
		MessagesAdded:  len(b.Messages) - len(a.Messages),
		TokensDelta:    b.TotalTokens - a.TotalTokens,
		IterationDelta: b.Iteration - a.Iteration,
	}
	if len(b.Messages) > len(a.Messages) {
		d.NewMessages = append(d.NewMessages, b.Messages[len(a.Messages):]...)
	}
	return d
}

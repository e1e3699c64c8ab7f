package ltm

import (
	"context"
	"testing"

	"github.com/agentcore/agentcore/internal/docstore"
	"github.com/agentcore/agentcore/internal/vectorstore/sqlitevec"
)

// fakeEmbedder maps text to a deterministic low-dimensional embedding so
// near-duplicate strings score close together without a real model.
type fakeEmbedder struct{ dim int }

func (f fakeEmbedder) Dimension() int { return f.dim }

func (f fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out := make([]float32, f.dim)
	for i, r := range text {
		out[i%f.dim] += float32(r % 31)
	}
	return out, nil
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	vs, err := sqlitevec.New(sqlitevec.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("new sqlitevec: %v", err)
	}
	ds, err := docstore.New(docstore.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("new docstore: %v", err)
	}
	store := New(Config{Vectors: vs, Docs: ds, Embedder: fakeEmbedder{dim: 16}})
	if err := store.Setup(context.Background()); err != nil {
		t.Fatalf("setup: %v", err)
	}
	return store
}

func TestPutThenSearchReturnsResolvableMemory(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	id, err := store.Put(ctx, "sess-1", "fact", "the user prefers dark mode", 7, map[string]any{"tag": "ui"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if id == "" {
		t.Fatal("expected non-empty id")
	}

	results, err := store.Search(ctx, "sess-1", "dark mode preference", 5, "fact")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected at least one result")
	}
	for _, m := range results {
		if m.Content == "" {
			t.Fatal("every returned memory must have non-empty content")
		}
	}
}

func TestSearchIsolatesBySession(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if _, err := store.Put(ctx, "sess-a", "fact", "alpha secret", 5, nil); err != nil {
		t.Fatalf("put: %v", err)
	}
	results, err := store.Search(ctx, "sess-b", "alpha secret", 5, "fact")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no cross-session results, got %d", len(results))
	}
}

func TestResolveFallsBackWhenTypeUnknown(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if _, err := store.Put(ctx, "sess-1", "note", "remember to follow up", 4, nil); err != nil {
		t.Fatalf("put: %v", err)
	}

	// Search with a type that doesn't match what was stored — resolver must
	// still find it via the hit's own memory_type payload field.
	results, err := store.Search(ctx, "sess-1", "follow up", 5, "other")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected resolver fallback to find the memory")
	}
}

func TestDeleteRemovesMemoryFromRecall(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	id, err := store.Put(ctx, "sess-1", "fact", "ephemeral detail", 3, nil)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Delete(ctx, "sess-1", id, "fact"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	results, err := store.Search(ctx, "sess-1", "ephemeral detail", 5, "fact")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for _, m := range results {
		if m.ID == id {
			t.Fatal("deleted memory should not be returned")
		}
	}
}

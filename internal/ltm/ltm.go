// Package ltm implements the Long-Term Memory component (C6): a hybrid
// store wrapping the Vector Store (C4) and Document Store (C5), isolated
// per session, with a resolver fallback chain that prevents dangling
// vector hits from ever reaching a caller.
package ltm

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/agentcore/agentcore/internal/docstore"
	"github.com/agentcore/agentcore/internal/models"
	"github.com/agentcore/agentcore/internal/vectorstore"
)

// Embedder produces a dense embedding for a piece of text. Implementations
// typically call out to the LLM Gateway's embeddings endpoint.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

const collectionName = "memories"

// Store is the Long-Term Memory component.
type Store struct {
	vectors  vectorstore.Store
	docs     docstore.Store
	embedder Embedder
}

// Config configures the Long-Term Memory store.
type Config struct {
	Vectors  vectorstore.Store
	Docs     docstore.Store
	Embedder Embedder
}

// New constructs the Long-Term Memory store.
func New(cfg Config) *Store {
	return &Store{vectors: cfg.Vectors, docs: cfg.Docs, embedder: cfg.Embedder}
}

// Setup creates the backing vector collection at the configured embedding
// dimension. It is idempotent.
func (s *Store) Setup(ctx context.Context) error {
	return s.vectors.CreateCollection(ctx, collectionName, s.embedder.Dimension())
}

type docRecord struct {
	Content    string         `json:"content"`
	Type       string         `json:"type"`
	Importance float64        `json:"importance"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Put stores a memory, writing the document store first and then the
// vector index. A vector-index failure after a successful document write
// surfaces as a StorageError to the caller; the orphaned document row is
// harmless because Search treats the vector index as the source of truth
// for recall.
func (s *Store) Put(ctx context.Context, sessionID, memType, content string, importance float64, metadata map[string]any) (string, error) {
	if content == "" {
		return "", models.NewError(models.KindStorageError, "memory content must not be empty", nil)
	}
	id := uuid.New().String()
	rec := docRecord{Content: content, Type: memType, Importance: importance, Metadata: metadata, CreatedAt: time.Now()}
	payload, err := json.Marshal(rec)
	if err != nil {
		return "", models.NewError(models.KindStorageError, "failed to marshal memory", err)
	}

	ns := namespace(sessionID, memType)
	if err := s.docs.Put(ctx, ns, id, payload); err != nil {
		return "", models.NewError(models.KindStorageError, "failed to write memory document", err)
	}

	embedding, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return "", models.NewError(models.KindStorageError, "failed to embed memory content", err)
	}

	vecMeta := map[string]any{"session_id": sessionID, "memory_type": memType, "importance": importance}
	for k, v := range metadata {
		vecMeta[k] = v
	}
	err = s.vectors.Upsert(ctx, collectionName, []vectorstore.Record{{
		ID: id, Content: content, Embedding: embedding, Metadata: vecMeta,
	}})
	if err != nil {
		return "", models.NewError(models.KindStorageError, "failed to index memory vector", err)
	}
	return id, nil
}

// Search performs the vector-search-then-resolve algorithm described in
// the design: over-fetch 2*limit candidates, resolve each hit's document
// via a namespace fallback chain, rank by (score, importance), return the
// top `limit`. Hits with no resolvable document are skipped — a retrieval
// must never produce a dangling vector hit.
func (s *Store) Search(ctx context.Context, sessionID, query string, limit int, memType string) ([]models.Memory, error) {
	if limit <= 0 {
		limit = 10
	}
	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, models.NewError(models.KindStorageError, "failed to embed query", err)
	}

	hits, err := s.vectors.Search(ctx, collectionName, embedding, vectorstore.SearchOptions{
		Limit:  limit * 2,
		Filter: vectorstore.Filter{"session_id": sessionID},
	})
	if err != nil {
		return nil, models.NewError(models.KindStorageError, "vector search failed", err)
	}

	type candidate struct {
		mem   models.Memory
		score float64
	}
	var candidates []candidate
	for _, hit := range hits {
		hitType, _ := hit.Metadata["memory_type"].(string)
		rec, resolvedType, ok := s.resolve(ctx, sessionID, hit.ID, memType, hitType)
		if !ok {
			continue
		}
		if rec.Content == "" {
			continue
		}
		candidates = append(candidates, candidate{
			mem: models.Memory{
				ID:         hit.ID,
				SessionID:  sessionID,
				Type:       resolvedType,
				Content:    rec.Content,
				Importance: rec.Importance,
				CreatedAt:  rec.CreatedAt,
				Metadata:   rec.Metadata,
			},
			score: hit.Score,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].mem.Importance > candidates[j].mem.Importance
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]models.Memory, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.mem)
	}
	return out, nil
}

// resolve tries, in order: (session, memories, requestedType),
// (session, memories, hitType), (session, memories) — the first namespace
// that actually holds the id wins.
func (s *Store) resolve(ctx context.Context, sessionID, id, requestedType, hitType string) (docRecord, string, bool) {
	tryTypes := []string{}
	if requestedType != "" {
		tryTypes = append(tryTypes, requestedType)
	}
	if hitType != "" && hitType != requestedType {
		tryTypes = append(tryTypes, hitType)
	}
	for _, t := range tryTypes {
		if rec, ok := s.fetch(ctx, namespace(sessionID, t), id); ok {
			return rec, t, true
		}
	}
	if rec, ok := s.fetch(ctx, namespace(sessionID, ""), id); ok {
		return rec, rec.Type, true
	}
	return docRecord{}, "", false
}

func (s *Store) fetch(ctx context.Context, ns, id string) (docRecord, bool) {
	raw, err := s.docs.Get(ctx, ns, id)
	if err != nil {
		return docRecord{}, false
	}
	var rec docRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return docRecord{}, false
	}
	return rec, true
}

// Delete removes a memory from both stores. It tolerates the document
// already being gone (idempotent delete).
func (s *Store) Delete(ctx context.Context, sessionID, id, memType string) error {
	if err := s.vectors.Delete(ctx, collectionName, []string{id}); err != nil {
		return models.NewError(models.KindStorageError, "failed to delete memory vector", err)
	}
	ns := namespace(sessionID, memType)
	if err := s.docs.Delete(ctx, ns, id); err != nil {
		return models.NewError(models.KindStorageError, "failed to delete memory document", err)
	}
	return nil
}

func namespace(sessionID, memType string) string {
	if memType == "" {
		return fmt.Sprintf("session_%s:memories", sessionID)
	}
	return fmt.Sprintf("session_%s:memories:%s", sessionID, memType)
}

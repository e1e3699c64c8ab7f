// Package pgvector is an enrichment Vector Store backend for deployments
// with a shared Postgres instance carrying the pgvector extension. It
// implements the same vectorstore.Store contract as the embedded sqlite
// backend so the Long-Term Memory component (C6) is backend-agnostic.
package pgvector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/lib/pq"

	"github.com/agentcore/agentcore/internal/vectorstore"
)

// Backend is a vectorstore.Store backed by Postgres + pgvector.
type Backend struct {
	db *sql.DB
}

// Config configures the pgvector backend.
type Config struct {
	DSN string
}

// New opens a connection to Postgres. It does not issue DDL beyond what
// CreateCollection requires; the `vector` extension must already be
// installed on the target database.
func New(cfg Config) (*Backend, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return &Backend{db: db}, nil
}

func tableName(collection string) string {
	return "vec_" + sanitize(collection)
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

func (b *Backend) CreateCollection(ctx context.Context, name string, dim int) error {
	table := tableName(name)
	_, err := b.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			content TEXT,
			metadata JSONB,
			embedding VECTOR(%d)
		)`, table, dim))
	return err
}

func (b *Backend) Upsert(ctx context.Context, collection string, records []vectorstore.Record) error {
	if len(records) == 0 {
		return nil
	}
	table := tableName(collection)
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, content, metadata, embedding)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET content = EXCLUDED.content, metadata = EXCLUDED.metadata, embedding = EXCLUDED.embedding
	`, table))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, r.ID, r.Content, string(meta), vectorLiteral(r.Embedding)); err != nil {
			return fmt.Errorf("upsert %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

func (b *Backend) Search(ctx context.Context, collection string, query []float32, opts vectorstore.SearchOptions) ([]vectorstore.ScoredRecord, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	table := tableName(collection)

	sqlQuery := fmt.Sprintf(`
		SELECT id, content, metadata, 1 - (embedding <=> $1) AS score
		FROM %s
		ORDER BY embedding <=> $1
		LIMIT $2`, table)

	rows, err := b.db.QueryContext(ctx, sqlQuery, vectorLiteral(query), limit*4)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", table, err)
	}
	defer rows.Close()

	var results []vectorstore.ScoredRecord
	for rows.Next() {
		var id, content, metaJSON string
		var score float64
		if err := rows.Scan(&id, &content, &metaJSON, &score); err != nil {
			return nil, err
		}
		var meta map[string]any
		_ = json.Unmarshal([]byte(metaJSON), &meta)
		if opts.Filter != nil && !matches(meta, opts.Filter) {
			continue
		}
		if opts.Threshold > 0 && score < opts.Threshold {
			continue
		}
		results = append(results, vectorstore.ScoredRecord{
			Record: vectorstore.Record{ID: id, Content: content, Metadata: meta},
			Score:  score,
		})
		if len(results) >= limit {
			break
		}
	}
	return results, rows.Err()
}

func (b *Backend) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	table := tableName(collection)
	_, err := b.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ANY($1)`, table), idArray(ids))
	return err
}

func (b *Backend) Close() error { return b.db.Close() }

func matches(meta map[string]any, f vectorstore.Filter) bool {
	for k, v := range f {
		mv, ok := meta[k]
		if !ok {
			return false
		}
		s, ok := mv.(string)
		if !ok || s != v {
			return false
		}
	}
	return true
}

func vectorLiteral(v []float32) string {
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = fmt.Sprintf("%g", f)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func idArray(ids []string) string {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = fmt.Sprintf("%q", id)
	}
	return "{" + strings.Join(quoted, ",") + "}"
}

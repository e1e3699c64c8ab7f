// Package sqlitevec is the embedded Vector Store backend: a pure-Go SQLite
// database (no cgo, no vec0 extension) storing embeddings as BLOBs and
// scoring them in-process with cosine similarity, grounded on the teacher's
// internal/memory/backend/sqlitevec adapter.
package sqlitevec

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	_ "modernc.org/sqlite"

	"github.com/agentcore/agentcore/internal/vectorstore"
)

// Backend is a vectorstore.Store backed by modernc.org/sqlite.
type Backend struct {
	db *sql.DB
}

// Config configures the embedded backend.
type Config struct {
	// Path to the sqlite file, or ":memory:" for an ephemeral store.
	Path string
}

// New opens (creating if necessary) the embedded vector store.
func New(cfg Config) (*Backend, error) {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	b := &Backend{db: db}
	if err := b.init(); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

func (b *Backend) init() error {
	_, err := b.db.Exec(`
		CREATE TABLE IF NOT EXISTS collections (
			name TEXT PRIMARY KEY,
			dim  INTEGER NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("create collections table: %w", err)
	}
	_, err = b.db.Exec(`
		CREATE TABLE IF NOT EXISTS vectors (
			collection TEXT NOT NULL,
			id         TEXT NOT NULL,
			content    TEXT,
			metadata   TEXT,
			embedding  BLOB,
			PRIMARY KEY (collection, id)
		)`)
	if err != nil {
		return fmt.Errorf("create vectors table: %w", err)
	}
	_, err = b.db.Exec(`CREATE INDEX IF NOT EXISTS idx_vectors_collection ON vectors(collection)`)
	return err
}

func (b *Backend) CreateCollection(ctx context.Context, name string, dim int) error {
	_, err := b.db.ExecContext(ctx, `INSERT OR REPLACE INTO collections (name, dim) VALUES (?, ?)`, name, dim)
	return err
}

func (b *Backend) Upsert(ctx context.Context, collection string, records []vectorstore.Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO vectors (collection, id, content, metadata, embedding)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, collection, r.ID, r.Content, string(meta), encodeEmbedding(r.Embedding)); err != nil {
			return fmt.Errorf("upsert vector %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

func (b *Backend) Search(ctx context.Context, collection string, query []float32, opts vectorstore.SearchOptions) ([]vectorstore.ScoredRecord, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	rows, err := b.db.QueryContext(ctx, `SELECT id, content, metadata, embedding FROM vectors WHERE collection = ?`, collection)
	if err != nil {
		return nil, fmt.Errorf("query vectors: %w", err)
	}
	defer rows.Close()

	var results []vectorstore.ScoredRecord
	for rows.Next() {
		var id, content, metaJSON string
		var embBlob []byte
		if err := rows.Scan(&id, &content, &metaJSON, &embBlob); err != nil {
			return nil, fmt.Errorf("scan vector row: %w", err)
		}
		var meta map[string]any
		if metaJSON != "" {
			_ = json.Unmarshal([]byte(metaJSON), &meta)
		}
		if opts.Filter != nil && !metaMatchesFilter(meta, opts.Filter) {
			continue
		}
		emb := decodeEmbedding(embBlob)
		score := vectorstore.CosineSimilarity(query, emb)
		if opts.Threshold > 0 && score < opts.Threshold {
			continue
		}
		results = append(results, vectorstore.ScoredRecord{
			Record: vectorstore.Record{ID: id, Content: content, Embedding: emb, Metadata: meta},
			Score:  score,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (b *Backend) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, `DELETE FROM vectors WHERE collection = ? AND id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, collection, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (b *Backend) Close() error { return b.db.Close() }

func metaMatchesFilter(meta map[string]any, filter vectorstore.Filter) bool {
	for k, v := range filter {
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

func encodeEmbedding(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(buf []byte) []float32 {
	n := len(buf) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out
}

// Package docstore implements the Document Store (C5): a namespaced KV used
// for memory full-records and checkpoint payloads. The storage style
// mirrors the teacher's embedded-sqlite memory backend, with the namespace
// tuple encoded as a composite key.
package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by Get when (namespace, id) has no record.
var ErrNotFound = errors.New("docstore: not found")

// Store is the Document Store contract: Get / Put / Delete keyed by
// (namespace, id).
type Store interface {
	Put(ctx context.Context, namespace, id string, value []byte) error
	Get(ctx context.Context, namespace, id string) ([]byte, error)
	Delete(ctx context.Context, namespace, id string) error
	List(ctx context.Context, namespace string) ([]string, error)
}

// SQLiteStore is the embedded implementation of Store.
type SQLiteStore struct {
	db *sql.DB
}

// Config configures the embedded document store.
type Config struct {
	Path string
}

// New opens (creating if necessary) the embedded document store.
func New(cfg Config) (*SQLiteStore, error) {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS documents (
			namespace TEXT NOT NULL,
			id        TEXT NOT NULL,
			value     BLOB NOT NULL,
			PRIMARY KEY (namespace, id)
		)`)
	if err != nil {
		return fmt.Errorf("create documents table: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Put(ctx context.Context, namespace, id string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (namespace, id, value) VALUES (?, ?, ?)
		ON CONFLICT (namespace, id) DO UPDATE SET value = excluded.value`,
		namespace, id, value)
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, namespace, id string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM documents WHERE namespace = ? AND id = ?`, namespace, id).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, namespace, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE namespace = ? AND id = ?`, namespace, id)
	return err
}

func (s *SQLiteStore) List(ctx context.Context, namespace string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM documents WHERE namespace = ?`, namespace)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// Namespace builds a "sessionID:kind[:part...]" namespace key. The
// Long-Term Memory store (C6) and the Checkpointer (C9) build their own
// namespace strings and do not call it.
func Namespace(sessionID, kind string, parts ...string) string {
	ns := sessionID + ":" + kind
	for _, p := range parts {
		ns += ":" + p
	}
	return ns
}

// Package sqlitekv implements kv.Backend on a single SQLite database file.
package sqlitekv

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/jacentio/hashdoc/kv"
)

const schema = `
CREATE TABLE IF NOT EXISTS hd_fields (
	key   TEXT NOT NULL,
	name  TEXT NOT NULL,
	value TEXT NOT NULL,
	PRIMARY KEY (key, name)
);
CREATE TABLE IF NOT EXISTS hd_versions (
	key     TEXT PRIMARY KEY,
	version INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS hd_index (
	ikey   TEXT NOT NULL,
	member TEXT NOT NULL,
	score  REAL NOT NULL,
	PRIMARY KEY (ikey, member)
);
CREATE INDEX IF NOT EXISTS hd_index_rank ON hd_index (ikey, score, member);`

// Backend is a kv.Backend on SQLite. It is safe for concurrent use.
type Backend struct {
	mu sync.RWMutex
	db *sql.DB
}

var _ kv.Backend = (*Backend)(nil)

// Open opens (or creates) a SQLite-backed kv store.
// Use ":memory:" for an in-memory database.
func Open(path string) (*Backend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitekv: open %q: %w", path, err)
	}
	// One connection keeps ":memory:" databases shared and makes Commit's
	// version check and apply a single serialized step.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitekv: set WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitekv: create schema: %w", err)
	}
	return &Backend{db: db}, nil
}

// Close closes the database.
func (b *Backend) Close() error {
	return b.db.Close()
}

// ReadAllFields implements kv.Backend.
func (b *Backend) ReadAllFields(ctx context.Context, key string) (map[string]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rows, err := b.db.QueryContext(ctx, "SELECT name, value FROM hd_fields WHERE key = ?", key)
	if err != nil {
		return nil, fmt.Errorf("sqlitekv: read %q: %w", key, err)
	}
	defer rows.Close()

	fields := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		fields[name] = value
	}
	return fields, rows.Err()
}

// ListFieldNames implements kv.Backend.
func (b *Backend) ListFieldNames(ctx context.Context, key string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rows, err := b.db.QueryContext(ctx, "SELECT name FROM hd_fields WHERE key = ?", key)
	if err != nil {
		return nil, fmt.Errorf("sqlitekv: list %q: %w", key, err)
	}
	return scanStrings(rows)
}

// RangeQuery implements kv.Backend.
func (b *Backend) RangeQuery(ctx context.Context, indexKey string, start, stop int64, reverse bool) ([]string, error) {
	if start < 0 || stop < start {
		return nil, nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	q := "SELECT member FROM hd_index WHERE ikey = ? ORDER BY score ASC, member ASC LIMIT ? OFFSET ?"
	if reverse {
		q = "SELECT member FROM hd_index WHERE ikey = ? ORDER BY score DESC, member DESC LIMIT ? OFFSET ?"
	}
	rows, err := b.db.QueryContext(ctx, q, indexKey, stop-start+1, start)
	if err != nil {
		return nil, fmt.Errorf("sqlitekv: range %q: %w", indexKey, err)
	}
	return scanStrings(rows)
}

// IndexSize implements kv.Backend.
func (b *Backend) IndexSize(ctx context.Context, indexKey string) (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var n int64
	err := b.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM hd_index WHERE ikey = ?", indexKey).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlitekv: size %q: %w", indexKey, err)
	}
	return n, nil
}

// Watch implements kv.Backend.
func (b *Backend) Watch(ctx context.Context, keys ...string) (kv.Txn, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	watched := make(map[string]int64, len(keys))
	for _, key := range keys {
		v, err := version(ctx, b.db, key)
		if err != nil {
			return nil, err
		}
		watched[key] = v
	}
	return &txn{backend: b, watched: watched}, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func version(ctx context.Context, q queryer, key string) (int64, error) {
	var v int64
	err := q.QueryRowContext(ctx, "SELECT version FROM hd_versions WHERE key = ?", key).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("sqlitekv: version %q: %w", key, err)
	}
	return v, nil
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

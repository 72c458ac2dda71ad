package sqlitekv

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jacentio/hashdoc/kv"
)

type txn struct {
	kv.Queue
	backend *Backend
	watched map[string]int64
	done    bool
}

func (t *txn) Commit(ctx context.Context) error {
	if t.done {
		return kv.ErrTxnDone
	}
	t.done = true

	b := t.backend
	b.mu.Lock()
	defer b.mu.Unlock()

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlitekv: begin: %w", err)
	}
	defer tx.Rollback()

	for key, seen := range t.watched {
		cur, err := version(ctx, tx, key)
		if err != nil {
			return err
		}
		if cur != seen {
			return kv.ErrConflict
		}
	}

	for _, op := range t.Ops() {
		if err := apply(ctx, tx, op); err != nil {
			return fmt.Errorf("sqlitekv: %s %q: %w", op.Kind, op.Key, err)
		}
	}

	for _, key := range t.Keys() {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO hd_versions (key, version) VALUES (?, 1)
			 ON CONFLICT(key) DO UPDATE SET version = version + 1`, key)
		if err != nil {
			return fmt.Errorf("sqlitekv: bump version %q: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlitekv: commit: %w", err)
	}
	return nil
}

func (t *txn) Discard() {
	t.done = true
	t.Reset()
}

func apply(ctx context.Context, tx *sql.Tx, op kv.Op) error {
	switch op.Kind {
	case kv.OpSetFields:
		for name, value := range op.Fields {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO hd_fields (key, name, value) VALUES (?, ?, ?)
				 ON CONFLICT(key, name) DO UPDATE SET value = excluded.value`,
				op.Key, name, value)
			if err != nil {
				return err
			}
		}
	case kv.OpDeleteFields:
		for _, name := range op.Names {
			if _, err := tx.ExecContext(ctx, "DELETE FROM hd_fields WHERE key = ? AND name = ?", op.Key, name); err != nil {
				return err
			}
		}
	case kv.OpDeleteKey:
		if _, err := tx.ExecContext(ctx, "DELETE FROM hd_fields WHERE key = ?", op.Key); err != nil {
			return err
		}
	case kv.OpAddToIndex:
		_, err := tx.ExecContext(ctx,
			`INSERT INTO hd_index (ikey, member, score) VALUES (?, ?, ?)
			 ON CONFLICT(ikey, member) DO UPDATE SET score = excluded.score`,
			op.Key, op.Member, op.Score)
		if err != nil {
			return err
		}
	case kv.OpRemoveFromIndex:
		if _, err := tx.ExecContext(ctx, "DELETE FROM hd_index WHERE ikey = ? AND member = ?", op.Key, op.Member); err != nil {
			return err
		}
	}
	return nil
}

// Package kv defines the key-value capability hashdoc persists records in.
//
// A backend stores two kinds of object under string keys: hashes (a flat set
// of field/value strings) and ordered indexes (members ranked by a float
// score). Writes are queued on a [Txn] obtained from [Backend.Watch] and
// applied atomically by [Txn.Commit]. Commit fails with [ErrConflict] if any
// watched key was written by someone else between Watch and Commit.
//
// Implementations live in the pebblekv, sqlitekv and dynamokv subpackages.
// The kvtest subpackage holds a conformance suite they all run.
package kv

import (
	"context"
	"errors"
)

var (
	// ErrConflict is returned by Commit when a watched key changed after Watch.
	ErrConflict = errors.New("kv: watched key was modified")

	// ErrTxnDone is returned when a transaction is used after Commit or Discard.
	ErrTxnDone = errors.New("kv: transaction already finished")
)

// Backend is the narrow capability the store needs from a key-value system.
type Backend interface {
	// ReadAllFields returns every field of the hash at key.
	// A missing key yields an empty map and no error.
	ReadAllFields(ctx context.Context, key string) (map[string]string, error)

	// ListFieldNames returns the field names of the hash at key in no particular order.
	ListFieldNames(ctx context.Context, key string) ([]string, error)

	// RangeQuery returns the members of the index ranked start..stop inclusive,
	// ordered by ascending score, or descending when reverse is set.
	// Ties are broken by member, lexically.
	RangeQuery(ctx context.Context, indexKey string, start, stop int64, reverse bool) ([]string, error)

	// IndexSize returns the number of members in the index.
	IndexSize(ctx context.Context, indexKey string) (int64, error)

	// Watch begins an optimistic transaction guarded by the given keys.
	// Zero keys yields an unguarded atomic batch.
	Watch(ctx context.Context, keys ...string) (Txn, error)

	// Close releases the backend's resources.
	Close() error
}

// Txn queues writes and applies them atomically on Commit.
type Txn interface {
	SetFields(key string, fields map[string]string)
	DeleteFields(key string, names ...string)
	DeleteKey(key string)
	AddToIndex(indexKey string, score float64, member string)
	RemoveFromIndex(indexKey string, member string)

	// Commit applies the queued writes, or none of them.
	Commit(ctx context.Context) error

	// Discard abandons the transaction. It is safe to call after Commit.
	Discard()
}

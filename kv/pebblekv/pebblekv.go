// Package pebblekv implements kv.Backend on an embedded pebble database.
//
// Key layout (all keys are NUL-separated, so hash and index keys must not
// contain NUL):
//
//	f\x00<key>\x00<field>            -> field value
//	v\x00<key>                       -> 8-byte big-endian write version
//	m\x00<index>\x00<member>         -> 8-byte sortable score
//	s\x00<index>\x00<score><member>  -> empty, ordered by score then member
//
// Commits within one process are serialized; each re-reads the versions of
// its watched keys before applying its batch.
package pebblekv

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/jacentio/hashdoc/kv"
)

// ErrInvalidKey is returned for keys pebblekv cannot encode.
var ErrInvalidKey = errors.New("pebblekv: key must be non-empty and must not contain NUL")

// Options configures Open.
type Options struct {
	// Dir is the pebble data directory. Ignored when InMemory is set.
	Dir string

	// InMemory keeps all data in an in-memory filesystem.
	InMemory bool

	// Sync makes Commit wait for the write to reach stable storage.
	Sync bool
}

// Backend is a kv.Backend on pebble. It is safe for concurrent use.
type Backend struct {
	db        *pebble.DB
	writeOpts *pebble.WriteOptions

	// mu serializes commits: version check and batch apply happen as one step.
	mu sync.Mutex
}

var _ kv.Backend = (*Backend)(nil)

// Open opens or creates a pebble database.
func Open(opts Options) (*Backend, error) {
	popts := &pebble.Options{}
	dir := opts.Dir
	if opts.InMemory {
		popts.FS = vfs.NewMem()
		if dir == "" {
			dir = "hashdoc"
		}
	}
	if dir == "" {
		return nil, fmt.Errorf("pebblekv: Dir is required unless InMemory is set")
	}
	db, err := pebble.Open(dir, popts)
	if err != nil {
		return nil, fmt.Errorf("pebblekv: open %q: %w", dir, err)
	}
	wo := pebble.NoSync
	if opts.Sync {
		wo = pebble.Sync
	}
	return &Backend{db: db, writeOpts: wo}, nil
}

// Close closes the underlying database.
func (b *Backend) Close() error {
	return b.db.Close()
}

// ReadAllFields implements kv.Backend.
func (b *Backend) ReadAllFields(ctx context.Context, key string) (map[string]string, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	fields := make(map[string]string)
	prefix := fieldPrefix(key)
	err := b.scan(prefix, func(k, v []byte) {
		fields[string(k[len(prefix):])] = string(v)
	})
	if err != nil {
		return nil, err
	}
	return fields, nil
}

// ListFieldNames implements kv.Backend.
func (b *Backend) ListFieldNames(ctx context.Context, key string) ([]string, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	var names []string
	prefix := fieldPrefix(key)
	err := b.scan(prefix, func(k, _ []byte) {
		names = append(names, string(k[len(prefix):]))
	})
	return names, err
}

// RangeQuery implements kv.Backend.
func (b *Backend) RangeQuery(ctx context.Context, indexKey string, start, stop int64, reverse bool) ([]string, error) {
	if err := checkKey(indexKey); err != nil {
		return nil, err
	}
	if start < 0 || stop < start {
		return nil, nil
	}
	prefix := scorePrefix(indexKey)
	iter, err := b.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixEnd(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	first, next := iter.First, iter.Next
	if reverse {
		first, next = iter.Last, iter.Prev
	}

	var members []string
	var rank int64
	for ok := first(); ok; ok = next() {
		if rank > stop {
			break
		}
		if rank >= start {
			k := iter.Key()
			members = append(members, string(k[len(prefix)+8:]))
		}
		rank++
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return members, nil
}

// IndexSize implements kv.Backend.
func (b *Backend) IndexSize(ctx context.Context, indexKey string) (int64, error) {
	if err := checkKey(indexKey); err != nil {
		return 0, err
	}
	var n int64
	err := b.scan(memberPrefix(indexKey), func(_, _ []byte) { n++ })
	return n, err
}

// Watch implements kv.Backend.
func (b *Backend) Watch(ctx context.Context, keys ...string) (kv.Txn, error) {
	watched := make(map[string]uint64, len(keys))
	for _, key := range keys {
		if err := checkKey(key); err != nil {
			return nil, err
		}
		v, err := b.version(key)
		if err != nil {
			return nil, err
		}
		watched[key] = v
	}
	return &txn{backend: b, watched: watched}, nil
}

// scan calls fn for every key with the given prefix. fn must copy what it keeps.
func (b *Backend) scan(prefix []byte, fn func(k, v []byte)) error {
	iter, err := b.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixEnd(prefix),
	})
	if err != nil {
		return err
	}
	for ok := iter.First(); ok; ok = iter.Next() {
		fn(iter.Key(), iter.Value())
	}
	if err := iter.Error(); err != nil {
		iter.Close()
		return err
	}
	return iter.Close()
}

func (b *Backend) version(key string) (uint64, error) {
	return b.getUint64(versionKey(key))
}

func (b *Backend) getUint64(k []byte) (uint64, error) {
	v, closer, err := b.db.Get(k)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer closer.Close()
	if len(v) != 8 {
		return 0, fmt.Errorf("pebblekv: corrupt 8-byte value at %q", k)
	}
	return binary.BigEndian.Uint64(v), nil
}

func checkKey(key string) error {
	if key == "" || strings.IndexByte(key, 0) >= 0 {
		return ErrInvalidKey
	}
	return nil
}

func join(tag byte, parts ...string) []byte {
	n := 2
	for _, p := range parts {
		n += len(p) + 1
	}
	out := make([]byte, 0, n)
	out = append(out, tag, 0)
	for i, p := range parts {
		if i > 0 {
			out = append(out, 0)
		}
		out = append(out, p...)
	}
	return out
}

func fieldPrefix(key string) []byte {
	return append(join('f', key), 0)
}

func fieldKey(key, field string) []byte {
	return append(fieldPrefix(key), field...)
}

func versionKey(key string) []byte {
	return join('v', key)
}

func memberPrefix(indexKey string) []byte {
	return append(join('m', indexKey), 0)
}

func memberKey(indexKey, member string) []byte {
	return append(memberPrefix(indexKey), member...)
}

func scorePrefix(indexKey string) []byte {
	return append(join('s', indexKey), 0)
}

func scoreKey(indexKey string, score uint64, member string) []byte {
	k := scorePrefix(indexKey)
	k = binary.BigEndian.AppendUint64(k, score)
	return append(k, member...)
}

// prefixEnd returns the smallest key greater than every key with prefix.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

// sortableScore maps a float64 onto a uint64 whose unsigned order matches the
// float order.
func sortableScore(f float64) uint64 {
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		return ^bits
	}
	return bits | 1<<63
}

func uint64Bytes(v uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, v)
}

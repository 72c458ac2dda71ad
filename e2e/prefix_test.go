//go:build e2e

package e2e

import (
	"context"

	"github.com/jacentio/hashdoc/kv"
)

// prefixed namespaces every hash and index key of a shared backend, so
// conformance subtests do not see each other's data.
type prefixed struct {
	kv.Backend
	prefix string
}

func (p prefixed) ReadAllFields(ctx context.Context, key string) (map[string]string, error) {
	return p.Backend.ReadAllFields(ctx, p.prefix+key)
}

func (p prefixed) ListFieldNames(ctx context.Context, key string) ([]string, error) {
	return p.Backend.ListFieldNames(ctx, p.prefix+key)
}

func (p prefixed) RangeQuery(ctx context.Context, indexKey string, start, stop int64, reverse bool) ([]string, error) {
	return p.Backend.RangeQuery(ctx, p.prefix+indexKey, start, stop, reverse)
}

func (p prefixed) IndexSize(ctx context.Context, indexKey string) (int64, error) {
	return p.Backend.IndexSize(ctx, p.prefix+indexKey)
}

func (p prefixed) Watch(ctx context.Context, keys ...string) (kv.Txn, error) {
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = p.prefix + k
	}
	tx, err := p.Backend.Watch(ctx, full...)
	if err != nil {
		return nil, err
	}
	return prefixedTxn{Txn: tx, prefix: p.prefix}, nil
}

// Close leaves the shared backend open.
func (p prefixed) Close() error {
	return nil
}

type prefixedTxn struct {
	kv.Txn
	prefix string
}

func (t prefixedTxn) SetFields(key string, fields map[string]string) {
	t.Txn.SetFields(t.prefix+key, fields)
}

func (t prefixedTxn) DeleteFields(key string, names ...string) {
	t.Txn.DeleteFields(t.prefix+key, names...)
}

func (t prefixedTxn) DeleteKey(key string) {
	t.Txn.DeleteKey(t.prefix + key)
}

func (t prefixedTxn) AddToIndex(indexKey string, score float64, member string) {
	t.Txn.AddToIndex(t.prefix+indexKey, score, member)
}

func (t prefixedTxn) RemoveFromIndex(indexKey string, member string) {
	t.Txn.RemoveFromIndex(t.prefix+indexKey, member)
}

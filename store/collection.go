package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jacentio/hashdoc/kv"
)

// Collection is a named group of records sharing a key prefix and an
// ordered index. It is safe for concurrent use.
type Collection struct {
	name   string
	prefix string
	config CollectionConfig
	score  func(*Record) float64
	store  *Store
}

// Name returns the collection name, which is also its index key.
func (c *Collection) Name() string {
	return c.name
}

// Prefix returns the key prefix applied to every id: "<name>__".
func (c *Collection) Prefix() string {
	return c.prefix
}

// IDField returns the identity field name of mapping documents.
func (c *Collection) IDField() string {
	return c.config.IDField
}

// EnsurePrefix returns id with the collection prefix applied. Applying it to
// an already prefixed id returns the id unchanged.
func (c *Collection) EnsurePrefix(id string) (string, error) {
	if id == "" {
		return "", ErrInvalidID
	}
	return c.withPrefix(id), nil
}

func (c *Collection) withPrefix(id string) string {
	if strings.HasPrefix(id, c.prefix) {
		return id
	}
	return c.prefix + id
}

// FindOneByID loads the record stored under id. It returns ErrNotFound when
// the id has no fields.
func (c *Collection) FindOneByID(ctx context.Context, id string) (*Record, error) {
	start := time.Now()
	rec, err := c.load(ctx, id)
	c.store.config.Metrics.observe("find_one", start, err)
	return rec, err
}

func (c *Collection) load(ctx context.Context, id string) (*Record, error) {
	key, err := c.EnsurePrefix(id)
	if err != nil {
		return nil, err
	}
	fields, err := c.store.backend.ReadAllFields(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	doc, err := inflateRecord(fields, c.config.IDField)
	if err != nil {
		return nil, fmt.Errorf("hashdoc: load %s: %w", key, err)
	}
	return &Record{ID: key, Data: doc}, nil
}

// FindAll returns one page of the collection in index order, or in reverse
// index order with Reverse(). Page p of size n covers index ranks
// p*n through p*n+n-1. An empty or out-of-range page yields an empty slice.
// Index members whose record no longer exists are skipped.
func (c *Collection) FindAll(ctx context.Context, page, size int, opts ...FindOption) ([]*Record, error) {
	start := time.Now()
	records, err := c.findAll(ctx, page, size, opts)
	c.store.config.Metrics.observe("find_all", start, err)
	return records, err
}

func (c *Collection) findAll(ctx context.Context, page, size int, opts []FindOption) ([]*Record, error) {
	var o findOptions
	for _, opt := range opts {
		opt(&o)
	}

	records := []*Record{}
	if page < 0 || size < 1 {
		return records, nil
	}
	first := int64(page) * int64(size)
	last := first + int64(size) - 1

	keys, err := c.store.backend.RangeQuery(ctx, c.name, first, last, o.reverse)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return records, nil
	}

	loaded := make([]*Record, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.store.config.LoadConcurrency)
	for i, key := range keys {
		g.Go(func() error {
			rec, err := c.load(gctx, key)
			if errors.Is(err, ErrNotFound) {
				c.store.config.Logger.Warn("index member has no record",
					"collection", c.name,
					"id", key,
				)
				return nil
			}
			if err != nil {
				return err
			}
			loaded[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, rec := range loaded {
		if rec != nil {
			records = append(records, rec)
		}
	}
	return records, nil
}

// Count returns the number of members in the collection index.
func (c *Collection) Count(ctx context.Context) (int64, error) {
	start := time.Now()
	n, err := c.store.backend.IndexSize(ctx, c.name)
	c.store.config.Metrics.observe("count", start, err)
	return n, err
}

// DeleteByID removes the record stored under id and its index entry in one
// transaction. Deleting an id that does not exist is not an error.
func (c *Collection) DeleteByID(ctx context.Context, id string) error {
	start := time.Now()
	err := c.deleteByID(ctx, id)
	c.store.config.Metrics.observe("delete", start, err)
	return err
}

func (c *Collection) deleteByID(ctx context.Context, id string) error {
	key, err := c.EnsurePrefix(id)
	if err != nil {
		return err
	}
	tx, err := c.store.backend.Watch(ctx)
	if err != nil {
		return err
	}
	defer tx.Discard()

	tx.DeleteKey(key)
	tx.RemoveFromIndex(c.name, key)
	if err := c.commit(ctx, tx, key); err != nil {
		return err
	}
	c.store.config.Logger.Debug("record deleted", "collection", c.name, "id", key)
	return nil
}

// PruneIndex removes id from the collection index if no record is stored
// under it, and reports whether it did. A record that still exists is left
// indexed.
func (c *Collection) PruneIndex(ctx context.Context, id string) (bool, error) {
	key, err := c.EnsurePrefix(id)
	if err != nil {
		return false, err
	}
	tx, err := c.store.backend.Watch(ctx, key)
	if err != nil {
		return false, err
	}
	defer tx.Discard()

	names, err := c.store.backend.ListFieldNames(ctx, key)
	if err != nil {
		return false, err
	}
	if len(names) > 0 {
		return false, nil
	}
	tx.RemoveFromIndex(c.name, key)
	if err := c.commit(ctx, tx, key); err != nil {
		return false, err
	}
	return true, nil
}

// commit commits tx, translating a backend conflict into
// ErrConcurrentModification.
func (c *Collection) commit(ctx context.Context, tx kv.Txn, key string) error {
	err := tx.Commit(ctx)
	if errors.Is(err, kv.ErrConflict) {
		c.store.config.Metrics.conflict(c.name)
		c.store.config.Logger.Debug("write conflict", "collection", c.name, "id", key)
		return ErrConcurrentModification
	}
	return err
}

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jacentio/hashdoc/codec"
)

// Save writes rec as the complete new state of its record. Stored fields the
// document no longer has are deleted. A record without an id is new: it gets
// a generated, prefixed id and is added to the collection index.
//
// Save mutates rec: ID is set, and for mapping documents the id field and
// any audit fields are written into Data.
func (c *Collection) Save(ctx context.Context, rec *Record, opts ...WriteOption) error {
	start := time.Now()
	err := c.doSave(ctx, rec, opts, false)
	c.store.config.Metrics.observe("save", start, err)
	return err
}

// Upsert is Save with patch semantics: stored fields the document does not
// mention are kept. Stored fields a new field makes unreadable (see
// ShadowedFields) are still removed. With a validator configured, an existing
// record is validated as it will look after the merge.
func (c *Collection) Upsert(ctx context.Context, rec *Record, opts ...WriteOption) error {
	start := time.Now()
	err := c.doSave(ctx, rec, opts, true)
	c.store.config.Metrics.observe("upsert", start, err)
	return err
}

func (c *Collection) doSave(ctx context.Context, rec *Record, opts []WriteOption, patch bool) error {
	if rec == nil {
		return ErrInvalidDocument
	}
	var o writeOptions
	for _, opt := range opts {
		opt(&o)
	}

	m, err := checkDocument(rec.Data)
	if err != nil {
		return err
	}

	id, err := c.recordID(rec, m)
	if err != nil {
		return err
	}
	generated := id == ""
	isNew := generated || (c.config.EnableAudit && m != nil && absent(m[FieldCreatedAt]))
	if generated {
		id = c.config.IDGenerator(rec.Data)
	}
	key, err := c.EnsurePrefix(id)
	if err != nil {
		return err
	}

	rec.ID = key
	if m != nil {
		m[c.config.IDField] = key
	}

	backend := c.store.backend

	// A patch need not repeat createdAt; the stored record decides. Only a
	// new record watches the index.
	settle := patch && isNew && !generated
	if settle {
		names, err := backend.ListFieldNames(ctx, key)
		if err != nil {
			return err
		}
		isNew = !hasField(names, FieldCreatedAt)
	}

	validator := c.config.Validator
	var flat map[string]string
	if !patch {
		flat = c.prepare(rec, m, isNew, o.auditUser)
		if validator != nil {
			if err := c.check(validator, rec.Data, key); err != nil {
				return err
			}
		}
	}

	watch := []string{key}
	if isNew {
		watch = append(watch, c.name)
	}
	tx, err := backend.Watch(ctx, watch...)
	if err != nil {
		return err
	}
	defer tx.Discard()

	var (
		existing []string
		stored   map[string]string
	)
	switch {
	case patch && validator != nil:
		if stored, err = backend.ReadAllFields(ctx, key); err != nil {
			return err
		}
		for name := range stored {
			existing = append(existing, name)
		}
	case !generated:
		if existing, err = backend.ListFieldNames(ctx, key); err != nil {
			return err
		}
	}

	if settle && isNew == hasField(existing, FieldCreatedAt) {
		// The record was created or removed before the watch began.
		return ErrConcurrentModification
	}

	if patch {
		flat = c.prepare(rec, m, isNew, o.auditUser)
		if validator != nil {
			view := rec.Data
			if len(stored) > 0 {
				if view, err = mergedView(stored, flat, c.config.IDField); err != nil {
					return fmt.Errorf("hashdoc: merge %s: %w", key, err)
				}
			}
			if err := c.check(validator, view, key); err != nil {
				return err
			}
		}
	}

	var stale []string
	if !isNew && !patch {
		stale = MissingFields(existing, flat)
	} else {
		stale = ShadowedFields(existing, flat)
	}

	// A caller-supplied id is indexed on first write. The watch on key
	// guarantees nobody created the record in the meantime.
	indexed := isNew || len(existing) == 0
	tx.SetFields(key, flat)
	tx.DeleteFields(key, stale...)
	if indexed {
		tx.AddToIndex(c.name, c.score(rec), key)
	}
	if err := c.commit(ctx, tx, key); err != nil {
		return err
	}

	c.store.config.Logger.Debug("record saved",
		"collection", c.name,
		"id", key,
		"new", isNew,
		"patch", patch,
		"fields", len(flat),
		"deleted", len(stale),
	)
	return nil
}

// prepare stamps audit fields and flattens the document for writing.
func (c *Collection) prepare(rec *Record, m map[string]any, isNew bool, user string) map[string]string {
	if m != nil && c.config.EnableAudit {
		c.stamp(m, isNew, user)
	}
	flat := codec.Flatten(rec.Data)
	if m == nil {
		flat[sequenceIDField(c.config.IDField)] = rec.ID
	}
	return flat
}

func (c *Collection) check(v Validator, doc any, key string) error {
	violations := v.Validate(doc)
	if len(violations) == 0 {
		return nil
	}
	return &ValidationError{Collection: c.name, ID: key, Violations: violations}
}

// recordID returns the id rec already carries, or "" if it has none. For
// mapping documents the id field and rec.ID must agree.
func (c *Collection) recordID(rec *Record, m map[string]any) (string, error) {
	id := rec.ID
	if m == nil {
		return id, nil
	}
	switch v := m[c.config.IDField].(type) {
	case nil, codec.UndefinedValue:
	case string:
		if v == "" {
			break
		}
		if id != "" && c.withPrefix(id) != c.withPrefix(v) {
			return "", fmt.Errorf("%w: record id %q does not match field %q value %q",
				ErrInvalidID, id, c.config.IDField, v)
		}
		id = v
	default:
		return "", fmt.Errorf("%w: field %q holds %T", ErrInvalidID, c.config.IDField, v)
	}
	return id, nil
}

// stamp writes audit fields. updatedAt never moves backwards, so consecutive
// writes always carry strictly increasing timestamps.
func (c *Collection) stamp(m map[string]any, isNew bool, user string) {
	now := c.store.config.Now().UTC()
	if prev, ok := m[FieldUpdatedAt].(time.Time); ok && !now.After(prev) {
		now = prev.Add(time.Nanosecond)
	}
	if isNew {
		m[FieldCreatedAt] = now
		if user != "" {
			m[FieldCreatedBy] = user
		}
	}
	m[FieldUpdatedAt] = now
	if user != "" {
		m[FieldUpdatedBy] = user
	}
}

// checkDocument returns the document as a mapping, or nil for a sequence.
func checkDocument(data any) (map[string]any, error) {
	switch d := data.(type) {
	case map[string]any:
		if d == nil {
			return nil, ErrInvalidDocument
		}
		return d, nil
	case []any:
		if len(d) == 0 {
			return nil, ErrInvalidDocument
		}
		return nil, nil
	}
	return nil, ErrInvalidDocument
}

// hasField reports whether names holds a top-level field called field, under
// any tag.
func hasField(names []string, field string) bool {
	p := codec.FormatPath([]codec.Segment{codec.Key(field)})
	for _, name := range names {
		if codec.StripTag(name) == p {
			return true
		}
	}
	return false
}

func absent(v any) bool {
	switch x := v.(type) {
	case nil, codec.UndefinedValue:
		return true
	case string:
		return x == ""
	}
	return false
}

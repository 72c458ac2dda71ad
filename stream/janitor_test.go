package stream_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/hashdoc/kv"
	"github.com/jacentio/hashdoc/kv/pebblekv"
	"github.com/jacentio/hashdoc/store"
	"github.com/jacentio/hashdoc/stream"
)

type fixture struct {
	backend kv.Backend
	store   *store.Store
	users   *store.Collection
	handler *stream.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	b, err := pebblekv.Open(pebblekv.Options{InMemory: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { b.Close() })

	s := store.New(b, store.DefaultConfig())
	users, err := s.Collection("users", store.CollectionConfig{})
	if err != nil {
		t.Fatalf("collection: %v", err)
	}
	return &fixture{
		backend: b,
		store:   s,
		users:   users,
		handler: stream.NewHandler(s, slog.Default()),
	}
}

// expire deletes key directly, as a TTL expiry would.
func (f *fixture) expire(t *testing.T, key string) {
	t.Helper()
	ctx := context.Background()
	tx, err := f.backend.Watch(ctx)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	tx.DeleteKey(key)
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func (f *fixture) count(t *testing.T) int64 {
	t.Helper()
	n, err := f.users.Count(context.Background())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func removeEvent(keys ...string) events.DynamoDBEvent {
	var event events.DynamoDBEvent
	for _, key := range keys {
		event.Records = append(event.Records, events.DynamoDBEventRecord{
			EventID:   "evt-" + key,
			EventName: "REMOVE",
			Change: events.DynamoDBStreamRecord{
				Keys: map[string]events.DynamoDBAttributeValue{
					"pk": events.NewStringAttribute(key),
				},
				OldImage: map[string]events.DynamoDBAttributeValue{
					"pk":      events.NewStringAttribute(key),
					"version": events.NewNumberAttribute("3"),
				},
			},
		})
	}
	return event
}

func TestNewHandler(t *testing.T) {
	// Test with nil store and logger (should not panic)
	h := stream.NewHandler(nil, nil)
	if h == nil {
		t.Fatal("expected non-nil Handler")
	}
}

func TestHandleRecordRemoval_EmptyEvent(t *testing.T) {
	h := stream.NewHandler(nil, nil)
	if err := h.HandleRecordRemoval(context.Background(), events.DynamoDBEvent{}); err != nil {
		t.Errorf("expected no error for empty event, got %v", err)
	}
}

func TestHandleRecordRemoval_PrunesExpiredRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		rec := &store.Record{Data: map[string]any{"i": i}}
		if err := f.users.Save(ctx, rec); err != nil {
			t.Fatalf("save: %v", err)
		}
		ids = append(ids, rec.ID)
	}
	f.expire(t, ids[0])
	f.expire(t, ids[2])

	if err := f.handler.HandleRecordRemoval(ctx, removeEvent(ids[0], ids[2])); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if n := f.count(t); n != 1 {
		t.Errorf("expected 1 indexed record, got %d", n)
	}

	recs, err := f.users.FindAll(ctx, 0, 10)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != ids[1] {
		t.Errorf("expected only %s to remain, got %v", ids[1], recs)
	}
}

func TestHandleRecordRemoval_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec := &store.Record{Data: map[string]any{"a": 1}}
	if err := f.users.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}
	f.expire(t, rec.ID)

	event := removeEvent(rec.ID)
	for i := 0; i < 2; i++ {
		if err := f.handler.HandleRecordRemoval(ctx, event); err != nil {
			t.Fatalf("handle attempt %d: %v", i, err)
		}
	}
	if n := f.count(t); n != 0 {
		t.Errorf("expected empty index, got %d", n)
	}
}

func TestHandleRecordRemoval_KeepsRecreatedRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec := &store.Record{Data: map[string]any{"a": 1}}
	if err := f.users.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	// The stream lags: the record was removed and written again before the
	// event is processed.
	if err := f.handler.HandleRecordRemoval(ctx, removeEvent(rec.ID)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if n := f.count(t); n != 1 {
		t.Errorf("expected record to stay indexed, got %d", n)
	}
}

func TestHandleRecordRemoval_IgnoresForeignKeys(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec := &store.Record{Data: map[string]any{"a": 1}}
	if err := f.users.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	// "users" is the index key's own item; "groups__1" has no collection.
	if err := f.handler.HandleRecordRemoval(ctx, removeEvent("users", "groups__1")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if n := f.count(t); n != 1 {
		t.Errorf("expected index untouched, got %d", n)
	}
}

// failingBackend fails every read.
type failingBackend struct {
	kv.Backend
}

var errUnavailable = errors.New("backend unavailable")

func (failingBackend) Watch(context.Context, ...string) (kv.Txn, error) {
	return nil, errUnavailable
}

func TestHandleRecordRemoval_ReturnsErrorForRetry(t *testing.T) {
	s := store.New(failingBackend{}, store.DefaultConfig())
	if _, err := s.Collection("users", store.CollectionConfig{}); err != nil {
		t.Fatalf("collection: %v", err)
	}
	h := stream.NewHandler(s, nil)

	err := h.HandleRecordRemoval(context.Background(), removeEvent("users__1"))
	if !errors.Is(err, errUnavailable) {
		t.Errorf("expected errUnavailable, got %v", err)
	}
}

// Package kvtest is a conformance suite for kv.Backend implementations.
package kvtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"testing"

	"github.com/jacentio/hashdoc/kv"
)

// Factory returns a fresh, empty backend. Run closes it when the subtest ends.
type Factory func(t *testing.T) kv.Backend

// Run exercises every kv.Backend contract against backends from newBackend.
func Run(t *testing.T, newBackend Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, b kv.Backend)
	}{
		{"ReadMissingKey", testReadMissingKey},
		{"SetAndReadFields", testSetAndReadFields},
		{"DeleteFields", testDeleteFields},
		{"DeleteKey", testDeleteKey},
		{"IndexOrdering", testIndexOrdering},
		{"IndexRescoreAndRemove", testIndexRescoreAndRemove},
		{"IndexTiesAndNegativeScores", testIndexTiesAndNegativeScores},
		{"WatchConflict", testWatchConflict},
		{"WatchIndexConflict", testWatchIndexConflict},
		{"UnrelatedKeyDoesNotConflict", testUnrelatedKeyDoesNotConflict},
		{"TxnFinished", testTxnFinished},
		{"ConcurrentIncrements", testConcurrentIncrements},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBackend(t)
			defer b.Close()
			tt.fn(t, b)
		})
	}
}

func commit(t *testing.T, b kv.Backend, watch []string, fn func(tx kv.Txn)) {
	t.Helper()
	ctx := context.Background()
	tx, err := b.Watch(ctx, watch...)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	fn(tx)
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func readFields(t *testing.T, b kv.Backend, key string) map[string]string {
	t.Helper()
	fields, err := b.ReadAllFields(context.Background(), key)
	if err != nil {
		t.Fatalf("read %s: %v", key, err)
	}
	return fields
}

func rangeQuery(t *testing.T, b kv.Backend, index string, start, stop int64, reverse bool) []string {
	t.Helper()
	members, err := b.RangeQuery(context.Background(), index, start, stop, reverse)
	if err != nil {
		t.Fatalf("range %s: %v", index, err)
	}
	return members
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func testReadMissingKey(t *testing.T, b kv.Backend) {
	if fields := readFields(t, b, "missing"); len(fields) != 0 {
		t.Errorf("expected no fields, got %v", fields)
	}
	names, err := b.ListFieldNames(context.Background(), "missing")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("expected no names, got %v", names)
	}
}

func testSetAndReadFields(t *testing.T, b kv.Backend) {
	commit(t, b, []string{"rec"}, func(tx kv.Txn) {
		tx.SetFields("rec", map[string]string{"$.a:6": "x", "$.b:a": "1"})
		tx.SetFields("rec", map[string]string{"$.b:a": "2"})
	})

	fields := readFields(t, b, "rec")
	if len(fields) != 2 || fields["$.a:6"] != "x" || fields["$.b:a"] != "2" {
		t.Errorf("unexpected fields %v", fields)
	}

	names, err := b.ListFieldNames(context.Background(), "rec")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	sort.Strings(names)
	if !equalStrings(names, []string{"$.a:6", "$.b:a"}) {
		t.Errorf("unexpected names %v", names)
	}
}

func testDeleteFields(t *testing.T, b kv.Backend) {
	commit(t, b, nil, func(tx kv.Txn) {
		tx.SetFields("rec", map[string]string{"keep": "1", "drop": "2", "also": "3"})
	})
	commit(t, b, []string{"rec"}, func(tx kv.Txn) {
		tx.DeleteFields("rec", "drop", "also", "never-existed")
	})

	fields := readFields(t, b, "rec")
	if len(fields) != 1 || fields["keep"] != "1" {
		t.Errorf("expected only keep, got %v", fields)
	}
}

func testDeleteKey(t *testing.T, b kv.Backend) {
	commit(t, b, nil, func(tx kv.Txn) {
		tx.SetFields("rec", map[string]string{"a": "1", "b": "2"})
		tx.SetFields("rec2", map[string]string{"a": "1"})
	})
	commit(t, b, nil, func(tx kv.Txn) {
		tx.DeleteKey("rec")
	})

	if fields := readFields(t, b, "rec"); len(fields) != 0 {
		t.Errorf("expected rec to be gone, got %v", fields)
	}
	if fields := readFields(t, b, "rec2"); len(fields) != 1 {
		t.Errorf("expected rec2 untouched, got %v", fields)
	}

	// A key can be rewritten after deletion in the same transaction.
	commit(t, b, []string{"rec2"}, func(tx kv.Txn) {
		tx.DeleteKey("rec2")
		tx.SetFields("rec2", map[string]string{"fresh": "yes"})
	})
	fields := readFields(t, b, "rec2")
	if len(fields) != 1 || fields["fresh"] != "yes" {
		t.Errorf("expected only fresh, got %v", fields)
	}
}

func testIndexOrdering(t *testing.T, b kv.Backend) {
	commit(t, b, []string{"idx"}, func(tx kv.Txn) {
		tx.AddToIndex("idx", 3, "c")
		tx.AddToIndex("idx", 1, "a")
		tx.AddToIndex("idx", 2, "b")
		tx.AddToIndex("other", 0, "z")
	})

	tests := []struct {
		start, stop int64
		reverse     bool
		expected    []string
	}{
		{0, 2, false, []string{"a", "b", "c"}},
		{0, 2, true, []string{"c", "b", "a"}},
		{1, 1, false, []string{"b"}},
		{0, 0, true, []string{"c"}},
		{1, 10, false, []string{"b", "c"}},
		{3, 5, false, nil},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d-%d-%v", tt.start, tt.stop, tt.reverse), func(t *testing.T) {
			got := rangeQuery(t, b, "idx", tt.start, tt.stop, tt.reverse)
			if !equalStrings(got, tt.expected) {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}

	n, err := b.IndexSize(context.Background(), "idx")
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 members, got %d", n)
	}
}

func testIndexRescoreAndRemove(t *testing.T, b kv.Backend) {
	commit(t, b, nil, func(tx kv.Txn) {
		tx.AddToIndex("idx", 1, "a")
		tx.AddToIndex("idx", 2, "b")
		tx.AddToIndex("idx", 3, "c")
	})
	commit(t, b, nil, func(tx kv.Txn) {
		tx.AddToIndex("idx", 10, "a")
		tx.RemoveFromIndex("idx", "b")
		tx.RemoveFromIndex("idx", "never-added")
	})

	got := rangeQuery(t, b, "idx", 0, 10, false)
	if !equalStrings(got, []string{"c", "a"}) {
		t.Errorf("expected [c a], got %v", got)
	}
	n, err := b.IndexSize(context.Background(), "idx")
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 members, got %d", n)
	}
}

func testIndexTiesAndNegativeScores(t *testing.T, b kv.Backend) {
	commit(t, b, nil, func(tx kv.Txn) {
		tx.AddToIndex("idx", 0, "m2")
		tx.AddToIndex("idx", 0, "m1")
		tx.AddToIndex("idx", -5.5, "neg")
		tx.AddToIndex("idx", 1e15, "big")
	})

	got := rangeQuery(t, b, "idx", 0, 3, false)
	if !equalStrings(got, []string{"neg", "m1", "m2", "big"}) {
		t.Errorf("unexpected order %v", got)
	}
	got = rangeQuery(t, b, "idx", 0, 3, true)
	if !equalStrings(got, []string{"big", "m2", "m1", "neg"}) {
		t.Errorf("unexpected reverse order %v", got)
	}
}

func testWatchConflict(t *testing.T, b kv.Backend) {
	ctx := context.Background()
	commit(t, b, nil, func(tx kv.Txn) {
		tx.SetFields("rec", map[string]string{"v": "0"})
	})

	slow, err := b.Watch(ctx, "rec")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	commit(t, b, []string{"rec"}, func(tx kv.Txn) {
		tx.SetFields("rec", map[string]string{"v": "fast"})
	})

	slow.SetFields("rec", map[string]string{"v": "slow", "extra": "x"})
	slow.AddToIndex("idx", 1, "rec")
	if err := slow.Commit(ctx); !errors.Is(err, kv.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	fields := readFields(t, b, "rec")
	if fields["v"] != "fast" || len(fields) != 1 {
		t.Errorf("conflicting commit leaked writes: %v", fields)
	}
	if got := rangeQuery(t, b, "idx", 0, 10, false); len(got) != 0 {
		t.Errorf("conflicting commit leaked index entries: %v", got)
	}
}

func testWatchIndexConflict(t *testing.T, b kv.Backend) {
	ctx := context.Background()
	slow, err := b.Watch(ctx, "rec", "idx")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	commit(t, b, nil, func(tx kv.Txn) {
		tx.AddToIndex("idx", 1, "someone-else")
	})

	slow.SetFields("rec", map[string]string{"a": "1"})
	if err := slow.Commit(ctx); !errors.Is(err, kv.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func testUnrelatedKeyDoesNotConflict(t *testing.T, b kv.Backend) {
	ctx := context.Background()
	tx, err := b.Watch(ctx, "mine")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	commit(t, b, nil, func(other kv.Txn) {
		other.SetFields("theirs", map[string]string{"a": "1"})
	})

	tx.SetFields("mine", map[string]string{"a": "1"})
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("expected commit to succeed, got %v", err)
	}
}

func testTxnFinished(t *testing.T, b kv.Backend) {
	ctx := context.Background()
	tx, err := b.Watch(ctx, "rec")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	tx.SetFields("rec", map[string]string{"a": "1"})
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := tx.Commit(ctx); !errors.Is(err, kv.ErrTxnDone) {
		t.Errorf("expected ErrTxnDone on second commit, got %v", err)
	}
	tx.Discard()

	tx, err = b.Watch(ctx, "rec")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	tx.SetFields("rec", map[string]string{"a": "2"})
	tx.Discard()
	if err := tx.Commit(ctx); !errors.Is(err, kv.ErrTxnDone) {
		t.Errorf("expected ErrTxnDone after discard, got %v", err)
	}
	if fields := readFields(t, b, "rec"); fields["a"] != "1" {
		t.Errorf("discarded write was applied: %v", fields)
	}
}

func testConcurrentIncrements(t *testing.T, b kv.Backend) {
	const workers = 8
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				tx, err := b.Watch(ctx, "counter")
				if err != nil {
					errs <- err
					return
				}
				fields, err := b.ReadAllFields(ctx, "counter")
				if err != nil {
					tx.Discard()
					errs <- err
					return
				}
				n, _ := strconv.Atoi(fields["n"])
				tx.SetFields("counter", map[string]string{"n": strconv.Itoa(n + 1)})
				err = tx.Commit(ctx)
				if errors.Is(err, kv.ErrConflict) {
					continue
				}
				if err != nil {
					errs <- err
				}
				return
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("worker failed: %v", err)
	}

	if got := readFields(t, b, "counter")["n"]; got != strconv.Itoa(workers) {
		t.Errorf("expected counter %d, got %s", workers, got)
	}
}

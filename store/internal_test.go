package store

import (
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/jacentio/hashdoc/codec"
)

// --- Field Diffing ---

func TestMissingFields(t *testing.T) {
	tests := []struct {
		name     string
		existing []string
		flat     map[string]string
		expected []string
	}{
		{
			name:     "nothing stored",
			existing: nil,
			flat:     map[string]string{"$.a:6": "x"},
			expected: nil,
		},
		{
			name:     "dropped field",
			existing: []string{"$.keep:6", "$.del:6"},
			flat:     map[string]string{"$.keep:6": "foo", "$.add:6": "boop"},
			expected: []string{"$.del:6"},
		},
		{
			name:     "tag change is a different field",
			existing: []string{"$.n:3"},
			flat:     map[string]string{"$.n:a": "1"},
			expected: []string{"$.n:3"},
		},
		{
			name:     "sorted output",
			existing: []string{"$.c:6", "$.a:6", "$.b:6"},
			flat:     map[string]string{},
			expected: []string{"$.a:6", "$.b:6", "$.c:6"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MissingFields(tt.existing, tt.flat)
			if diff := cmp.Diff(tt.expected, got); diff != "" {
				t.Errorf("MissingFields mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestShadowedFields(t *testing.T) {
	tests := []struct {
		name     string
		existing []string
		doc      any
		expected []string
	}{
		{
			name:     "untouched siblings are kept",
			existing: []string{"$.a:6", "$.b:6"},
			doc:      map[string]any{"a": "new"},
			expected: nil,
		},
		{
			name:     "same path new tag",
			existing: []string{"$.a:6"},
			doc:      map[string]any{"a": 5},
			expected: []string{"$.a:6"},
		},
		{
			name:     "leaf becomes container",
			existing: []string{"$.a:6"},
			doc:      map[string]any{"a": map[string]any{"b": "x"}},
			expected: []string{"$.a:6"},
		},
		{
			name:     "container becomes leaf",
			existing: []string{"$.a.b:6", "$.a.c[0]:5"},
			doc:      map[string]any{"a": "flat"},
			expected: []string{"$.a.b:6", "$.a.c[0]:5"},
		},
		{
			name:     "object becomes array",
			existing: []string{"$.a.x:6", "$.b:6"},
			doc:      map[string]any{"a": []any{"y"}},
			expected: []string{"$.a.x:6"},
		},
		{
			name:     "array becomes object",
			existing: []string{"$.a[0]:6", "$.a[1]:6"},
			doc:      map[string]any{"a": map[string]any{"k": "v"}},
			expected: []string{"$.a[0]:6", "$.a[1]:6"},
		},
		{
			name:     "longer stored array keeps its tail",
			existing: []string{"$.a[0]:6", "$.a[1]:6"},
			doc:      map[string]any{"a": []any{"z"}},
			expected: nil,
		},
		{
			name:     "empty container marker replaced",
			existing: []string{"$.a:0"},
			doc:      map[string]any{"a": map[string]any{"k": "v"}},
			expected: []string{"$.a:0"},
		},
		{
			name:     "sequence root with identity field",
			existing: []string{"$[0]:6", "$[1]:6", "$.id:6"},
			doc:      []any{"x"},
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flat := codec.Flatten(tt.doc)
			if _, ok := tt.doc.([]any); ok {
				flat[sequenceIDField("id")] = "k"
			}
			got := ShadowedFields(tt.existing, flat)
			if diff := cmp.Diff(tt.expected, got); diff != "" {
				t.Errorf("ShadowedFields mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// --- Merged View ---

func TestMergedView(t *testing.T) {
	stored := codec.Flatten(map[string]any{"id": "c__1", "name": "bob", "tags": []any{"a"}})
	flat := codec.Flatten(map[string]any{"id": "c__1", "tags": "none", "age": 3})

	got, err := mergedView(stored, flat, "id")
	if err != nil {
		t.Fatalf("mergedView: %v", err)
	}
	expected := map[string]any{"id": "c__1", "name": "bob", "tags": "none", "age": float64(3)}
	if diff := cmp.Diff(expected, got); diff != "" {
		t.Errorf("merged view mismatch (-want +got):\n%s", diff)
	}
}

func TestInflateRecord_DropsSequenceIdentity(t *testing.T) {
	fields := codec.Flatten([]any{"a", "b"})
	fields[sequenceIDField("_key")] = "c__1"

	got, err := inflateRecord(fields, "_key")
	if err != nil {
		t.Fatalf("inflateRecord: %v", err)
	}
	if diff := cmp.Diff([]any{"a", "b"}, got); diff != "" {
		t.Errorf("inflate mismatch (-want +got):\n%s", diff)
	}
}

func TestSequenceIDField(t *testing.T) {
	if got := sequenceIDField("id"); got != "$.id:6" {
		t.Errorf("expected $.id:6, got %q", got)
	}
	if got := sequenceIDField("a.b"); got != "$.'a.b':6" {
		t.Errorf("expected quoted key, got %q", got)
	}
}

// --- Audit Stamping ---

func TestStamp(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := New(nil, Config{Now: func() time.Time { return now }})
	c := &Collection{name: "c", prefix: "c__", store: s}

	m := map[string]any{}
	c.stamp(m, true, "alice")
	expected := map[string]any{
		FieldCreatedAt: now,
		FieldCreatedBy: "alice",
		FieldUpdatedAt: now,
		FieldUpdatedBy: "alice",
	}
	if diff := cmp.Diff(expected, m); diff != "" {
		t.Errorf("stamp mismatch (-want +got):\n%s", diff)
	}

	m[FieldUpdatedAt] = now.Add(time.Hour)
	c.stamp(m, false, "")
	if want := now.Add(time.Hour + time.Nanosecond); !m[FieldUpdatedAt].(time.Time).Equal(want) {
		t.Errorf("expected updatedAt %v, got %v", want, m[FieldUpdatedAt])
	}
	if m[FieldUpdatedBy] != "alice" {
		t.Errorf("expected updatedBy kept without a user, got %v", m[FieldUpdatedBy])
	}
	if !m[FieldCreatedAt].(time.Time).Equal(now) {
		t.Errorf("expected createdAt unchanged, got %v", m[FieldCreatedAt])
	}
}

// --- Config ---

func TestConfigValidate_Defaults(t *testing.T) {
	c := Config{}
	c.validate()

	if c.Logger != slog.Default() {
		t.Error("expected default logger")
	}
	if c.LoadConcurrency != 8 {
		t.Errorf("expected LoadConcurrency 8, got %d", c.LoadConcurrency)
	}
	if c.Now == nil {
		t.Error("expected Now to be set")
	}
}

func TestConfigValidate_LoadConcurrencyBounds(t *testing.T) {
	tests := []struct {
		in, expected int
	}{
		{-3, 8},
		{0, 8},
		{1, 1},
		{256, 256},
		{1000, 256},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.in), func(t *testing.T) {
			c := Config{LoadConcurrency: tt.in}
			c.validate()
			if c.LoadConcurrency != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, c.LoadConcurrency)
			}
		})
	}
}

func TestCollectionConfigValidate_Defaults(t *testing.T) {
	c := CollectionConfig{}
	c.validate()

	if c.IDField != "id" {
		t.Errorf("expected IDField 'id', got %q", c.IDField)
	}
	if c.IDGenerator == nil {
		t.Error("expected IDGenerator to be set")
	}

	custom := CollectionConfig{IDField: "_key"}
	custom.validate()
	if custom.IDField != "_key" {
		t.Errorf("expected custom IDField kept, got %q", custom.IDField)
	}
}

// --- Metrics ---

func TestStatus(t *testing.T) {
	tests := []struct {
		err      error
		expected string
	}{
		{nil, statusSuccess},
		{ErrNotFound, statusNotFound},
		{ErrConcurrentModification, statusConflict},
		{&ValidationError{Violations: []Violation{{Rule: "required"}}}, statusInvalid},
		{fmt.Errorf("wrap: %w", ErrInvalidDocument), statusInvalid},
		{ErrInvalidID, statusInvalid},
		{errors.New("disk on fire"), statusError},
	}
	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := status(tt.err); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestMetrics_Observe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.observe("save", time.Now(), nil)
	m.observe("save", time.Now(), nil)
	m.observe("save", time.Now(), ErrConcurrentModification)
	m.conflict("users")

	if got := testutil.ToFloat64(m.operationsTotal.WithLabelValues("save", statusSuccess)); got != 2 {
		t.Errorf("expected 2 successful saves, got %v", got)
	}
	if got := testutil.ToFloat64(m.operationsTotal.WithLabelValues("save", statusConflict)); got != 1 {
		t.Errorf("expected 1 conflicted save, got %v", got)
	}
	if got := testutil.ToFloat64(m.writeConflicts.WithLabelValues("users")); got != 1 {
		t.Errorf("expected 1 conflict for users, got %v", got)
	}
	if n := testutil.CollectAndCount(m.operationDuration); n != 1 {
		t.Errorf("expected 1 duration series, got %d", n)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.observe("save", time.Now(), nil)
	m.conflict("users")
}

package store_test

import (
	"errors"
	"testing"

	"github.com/jacentio/hashdoc/store"
)

func newRegistryStore(t *testing.T, names ...string) *store.Store {
	t.Helper()
	s := store.New(newBackend(t), store.DefaultConfig())
	for _, name := range names {
		if _, err := s.Collection(name, store.CollectionConfig{}); err != nil {
			t.Fatalf("collection %q: %v", name, err)
		}
	}
	return s
}

func TestNewRegistry(t *testing.T) {
	r := store.NewRegistry()
	if r == nil {
		t.Fatal("expected non-nil Registry")
	}
	if len(r.All()) != 0 {
		t.Errorf("expected empty registry, got %d collections", len(r.All()))
	}
}

func TestRegistry_Lookup(t *testing.T) {
	s := newRegistryStore(t, "users", "groups")
	r := s.Registry()

	c, ok := r.Lookup("users")
	if !ok {
		t.Fatal("expected users to be registered")
	}
	if c.Name() != "users" {
		t.Errorf("expected name 'users', got %q", c.Name())
	}
	if c.Prefix() != "users__" {
		t.Errorf("expected prefix 'users__', got %q", c.Prefix())
	}
	if _, ok := r.Lookup("missing"); ok {
		t.Error("expected missing collection not to be found")
	}
	if !r.Has("groups") {
		t.Error("expected Has(groups) to be true")
	}
	if r.Has("") {
		t.Error("expected Has(\"\") to be false")
	}
}

func TestRegistry_All_Order(t *testing.T) {
	s := newRegistryStore(t, "c", "a", "b")

	all := s.Registry().All()
	if len(all) != 3 {
		t.Fatalf("expected 3 collections, got %d", len(all))
	}
	for i, name := range []string{"c", "a", "b"} {
		if all[i].Name() != name {
			t.Errorf("position %d: expected %q, got %q", i, name, all[i].Name())
		}
	}

	// The returned slice is a copy.
	all[0] = nil
	if s.Registry().All()[0] == nil {
		t.Error("expected All to return a copy")
	}
}

func TestRegistry_ForKey(t *testing.T) {
	s := newRegistryStore(t, "a", "a__b", "users")
	r := s.Registry()

	tests := []struct {
		key      string
		expected string
	}{
		{"users__123", "users"},
		{"a__1", "a"},
		{"a__b__1", "a__b"},
		{"a__b", "a"},
		{"users__", ""},
		{"users", ""},
		{"groups__1", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			c, ok := r.ForKey(tt.key)
			if tt.expected == "" {
				if ok {
					t.Errorf("expected no collection, got %q", c.Name())
				}
				return
			}
			if !ok {
				t.Fatalf("expected collection %q, got none", tt.expected)
			}
			if c.Name() != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, c.Name())
			}
		})
	}
}

func TestRegistry_DuplicateName(t *testing.T) {
	s := newRegistryStore(t, "users")

	_, err := s.Collection("users", store.CollectionConfig{EnableAudit: true})
	if !errors.Is(err, store.ErrInvalidCollection) {
		t.Errorf("expected ErrInvalidCollection, got %v", err)
	}
	if n := len(s.Registry().All()); n != 1 {
		t.Errorf("expected 1 collection, got %d", n)
	}
}

func TestRegistry_SpecialCharacters(t *testing.T) {
	s := newRegistryStore(t, "user-profiles", "日本")

	if c, ok := s.CollectionForKey("日本__x"); !ok || c.Name() != "日本" {
		t.Error("expected unicode collection to resolve")
	}
	if c, ok := s.CollectionForKey("user-profiles__x"); !ok || c.Name() != "user-profiles" {
		t.Error("expected hyphenated collection to resolve")
	}
}

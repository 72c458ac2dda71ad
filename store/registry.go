package store

import (
	"fmt"
	"strings"
	"sync"
)

// Registry holds every collection created from one Store, so that a raw
// record key can be traced back to the collection that owns it.
type Registry struct {
	mu          sync.RWMutex
	collections []*Collection
	byName      map[string]*Collection
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		collections: []*Collection{},
		byName:      make(map[string]*Collection),
	}
}

// Register adds a collection. Names are unique within a registry.
func (r *Registry) Register(c *Collection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[c.name]; exists {
		return fmt.Errorf("%w: %q is already registered", ErrInvalidCollection, c.name)
	}
	r.collections = append(r.collections, c)
	r.byName[c.name] = c
	return nil
}

// Lookup returns the collection with the given name.
func (r *Registry) Lookup(name string) (*Collection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byName[name]
	return c, ok
}

// ForKey returns the collection whose key prefix key carries. When prefixes
// nest ("a__" and "a__b__") the longest match wins.
func (r *Registry) ForKey(key string) (*Collection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *Collection
	for _, c := range r.collections {
		if strings.HasPrefix(key, c.prefix) && len(key) > len(c.prefix) {
			if best == nil || len(c.prefix) > len(best.prefix) {
				best = c
			}
		}
	}
	return best, best != nil
}

// All returns every registered collection in registration order.
func (r *Registry) All() []*Collection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Collection(nil), r.collections...)
}

// Has returns true if a collection with the given name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Lookup(name)
	return ok
}

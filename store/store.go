package store

import (
	"fmt"

	"github.com/jacentio/hashdoc/kv"
)

// Store maps documents onto a kv.Backend, one collection at a time.
type Store struct {
	backend  kv.Backend
	config   Config
	registry *Registry
}

// New creates a new Store instance.
func New(backend kv.Backend, config Config) *Store {
	config.validate()
	return &Store{
		backend:  backend,
		config:   config,
		registry: NewRegistry(),
	}
}

// Collection creates and registers a collection. The name doubles as the
// collection's index key and, suffixed with "__", as its record key prefix.
func (s *Store) Collection(name string, config CollectionConfig) (*Collection, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: name must be non-empty", ErrInvalidCollection)
	}
	config.validate()

	c := &Collection{
		name:   name,
		prefix: name + "__",
		config: config,
		store:  s,
	}
	c.score = config.Score
	if c.score == nil {
		c.score = func(*Record) float64 {
			return float64(s.config.Now().UnixMicro())
		}
	}

	if err := s.registry.Register(c); err != nil {
		return nil, err
	}
	return c, nil
}

// CollectionForKey resolves a record key to the registered collection that
// owns it.
func (s *Store) CollectionForKey(key string) (*Collection, bool) {
	return s.registry.ForKey(key)
}

// Registry returns the collection registry.
func (s *Store) Registry() *Registry {
	return s.registry
}

// Backend returns the underlying key-value backend.
func (s *Store) Backend() kv.Backend {
	return s.backend
}

// Package store persists nested documents as flat field sets in a key-value
// backend and reads them back unchanged.
//
// Each document is flattened by the codec package into tagged paths
// ("$.a.b[0]:6") and stored as one hash under a prefixed key. Each collection
// also keeps an ordered index of its keys for paging.
//
// # Key Features
//
//   - Lossless round trip of nested maps, slices and typed leaves
//   - Full-replace saves that delete fields the document dropped
//   - Patch upserts that keep fields the document does not mention
//   - Optimistic concurrency through the backend's watch/commit
//   - Optional audit fields and pluggable validation
//   - Paged listing in index order, forward or reverse
//
// # Collections
//
// Records live in collections created from a [Store]:
//
//	s := store.New(backend, store.DefaultConfig())
//	users, err := s.Collection("users", store.CollectionConfig{EnableAudit: true})
//
//	rec := &store.Record{Data: map[string]any{"name": "bob"}}
//	err = users.Save(ctx, rec, store.WithAuditUser("admin"))
//	// rec.ID == "users__<uuid>"
//
// # Configuration
//
// [Config] is shared by all collections of a store; [CollectionConfig] is
// fixed per collection when it is created. Zero values fall back to
// defaults: id field "id", UUID ids, insertion-time scores.
//
// # Errors
//
// The package defines domain-specific errors:
//
//   - [ErrNotFound] - no record under the id
//   - [ErrInvalidDocument] - data is not a map or a non-empty slice
//   - [ErrInvalidID] - empty or non-string id
//   - [ErrValidationFailed] - matched by [*ValidationError]
//   - [ErrConcurrentModification] - a watched key changed before commit
//   - [ErrInvalidCollection] - empty or duplicate collection name
//
// Errors from the codec (corrupt stored fields) and from the backend are
// returned as they are, possibly wrapped.
package store

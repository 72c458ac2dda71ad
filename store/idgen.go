package store

import (
	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
)

// IDGenerator returns an unprefixed id for a new record. It receives the
// record's data before the id is assigned.
type IDGenerator func(data any) string

// UUIDGenerator returns a random UUID.
func UUIDGenerator(any) string {
	return uuid.NewString()
}

// KSUIDGenerator returns a KSUID. KSUIDs sort by creation time, so they also
// make ordered ids across collections.
func KSUIDGenerator(any) string {
	return ksuid.New().String()
}

// ZeroScore indexes every record at score 0. Ties are ordered by key.
func ZeroScore(*Record) float64 {
	return 0
}

package store

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidDocument is returned when a record's data is not a mapping or
	// a non-empty sequence.
	ErrInvalidDocument = errors.New("hashdoc: document must be a map or a non-empty slice")

	// ErrInvalidID is returned for an empty or non-string identity.
	ErrInvalidID = errors.New("hashdoc: id must be a non-empty string")

	// ErrValidationFailed is matched by every *ValidationError.
	ErrValidationFailed = errors.New("hashdoc: document failed validation")

	// ErrConcurrentModification is returned when a watched key changed before commit.
	ErrConcurrentModification = errors.New("hashdoc: record was modified concurrently")

	// ErrNotFound is returned when no record is stored under an id.
	ErrNotFound = errors.New("hashdoc: record not found")

	// ErrInvalidCollection is returned for an empty or duplicate collection name.
	ErrInvalidCollection = errors.New("hashdoc: invalid collection")
)

// ValidationError carries the violations that rejected a write.
type ValidationError struct {
	Collection string
	ID         string
	Violations []Violation
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		msgs = append(msgs, v.String())
	}
	return fmt.Sprintf("hashdoc: record %s in collection %s is invalid: %s",
		e.ID, e.Collection, strings.Join(msgs, "; "))
}

// Is reports whether target is ErrValidationFailed.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}

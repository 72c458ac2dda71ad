package store

import (
	"fmt"

	"github.com/jacentio/hashdoc/codec"
)

// Violation is one rule a document broke.
type Violation struct {
	// Path is the $-rooted path of the offending value, "$" for the whole document.
	Path string

	// Rule identifies the rule that failed.
	Rule string

	// Params are the rule's parameters, for building messages.
	Params map[string]any

	// Message is a human-readable description.
	Message string
}

func (v Violation) String() string {
	if v.Message != "" {
		return fmt.Sprintf("%s: %s", v.Path, v.Message)
	}
	return fmt.Sprintf("%s: failed %s", v.Path, v.Rule)
}

// Validator checks a document before it is written. A nil or empty result
// means the document is valid.
type Validator interface {
	Validate(doc any) []Violation
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(doc any) []Violation

// Validate calls f(doc).
func (f ValidatorFunc) Validate(doc any) []Violation {
	return f(doc)
}

// mergedView rebuilds the document an upsert will leave behind: the stored
// fields it does not shadow, overlaid with the new fields.
func mergedView(stored, flat map[string]string, idField string) (any, error) {
	names := make([]string, 0, len(stored))
	for name := range stored {
		names = append(names, name)
	}
	merged := make(map[string]string, len(stored)+len(flat))
	for name, value := range stored {
		merged[name] = value
	}
	for _, name := range ShadowedFields(names, flat) {
		delete(merged, name)
	}
	for name, value := range flat {
		merged[name] = value
	}
	return inflateRecord(merged, idField)
}

// inflateRecord rebuilds a document from its stored fields. The identity
// field of a sequence document is dropped; the caller already knows the key.
func inflateRecord(fields map[string]string, idField string) (any, error) {
	idName := sequenceIDField(idField)
	if _, ok := fields[idName]; ok && isSequence(fields) {
		rest := make(map[string]string, len(fields)-1)
		for name, value := range fields {
			if name != idName {
				rest[name] = value
			}
		}
		fields = rest
	}
	return codec.Inflate(fields)
}

// sequenceIDField is the field a sequence document's identity is stored in.
func sequenceIDField(idField string) string {
	return codec.JoinTag(codec.FormatPath([]codec.Segment{codec.Key(idField)}), codec.KindString.Tag())
}

func isSequence(fields map[string]string) bool {
	for name := range fields {
		if len(name) > 1 && name[0] == '$' && name[1] == '[' {
			return true
		}
	}
	return false
}

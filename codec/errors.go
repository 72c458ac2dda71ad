package codec

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownTypeTag is returned when a field carries a tag outside the known set.
	ErrUnknownTypeTag = errors.New("codec: unknown type tag")

	// ErrDecode is returned when a stored field cannot be turned back into a value.
	ErrDecode = errors.New("codec: cannot decode field")
)

// UnknownTagError reports a tag byte that does not name a [Kind].
type UnknownTagError struct {
	Tag byte
}

func (e *UnknownTagError) Error() string {
	return fmt.Sprintf("codec: unknown type tag %q", e.Tag)
}

// Is reports whether target is ErrUnknownTypeTag.
func (e *UnknownTagError) Is(target error) bool {
	return target == ErrUnknownTypeTag
}

// DecodeError reports a stored field that could not be decoded.
type DecodeError struct {
	// Field is the tagged field name as stored. Deserialize leaves it empty.
	Field string

	// Reason describes what was wrong with the field.
	Reason string

	// Err is the underlying parse error, if any.
	Err error
}

func (e *DecodeError) Error() string {
	msg := "codec: decode"
	if e.Field != "" {
		msg += fmt.Sprintf(" field %q", e.Field)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrDecode.
func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

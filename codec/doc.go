// Package codec flattens nested documents into tagged path/value pairs and
// inflates them back.
//
// A document is a tree of map[string]any and []any containers whose leaves are
// one of a closed set of value kinds (see [Kind]). [Flatten] walks the tree
// depth-first and emits one pair per leaf:
//
//	{"name": "bob", "tags": ["a", ""], "meta": {}}
//
//	$.name:6    -> bob
//	$.tags[0]:6 -> a
//	$.tags[1]:2 -> ''
//	$.meta:0    -> {}
//
// The character after the final ':' is the kind tag. It is always the last
// byte of the field name, so the value kind is recoverable from the field
// name alone. This is what lets empty containers, empty strings, null and
// undefined survive a backend that only stores strings.
//
// [Inflate] reverses the transform. It is independent of the order in which
// pairs are supplied, and Inflate(Flatten(d)) is structurally equal to d for
// every document built from the recognized kinds.
package codec

package codec

import (
	"errors"
	"strconv"
)

// Flatten walks doc depth-first and returns one field per leaf, keyed by
// tagged path. Empty containers are leaves and produce exactly one field.
func Flatten(doc any) map[string]string {
	out := make(map[string]string)
	flattenInto(doc, "$", out)
	return out
}

func flattenInto(v any, path string, out map[string]string) {
	switch x := v.(type) {
	case []any:
		if len(x) > 0 {
			for i, e := range x {
				flattenInto(e, path+"["+strconv.Itoa(i)+"]", out)
			}
			return
		}
	case map[string]any:
		if len(x) > 0 {
			for k, e := range x {
				flattenInto(e, path+Key(k).String(), out)
			}
			return
		}
	}
	tag, form := Serialize(v)
	out[JoinTag(path, tag)] = form
}

// Inflate rebuilds a document from flattened fields. The result does not
// depend on map iteration order. Fields that disagree about the shape of a
// node, such as a leaf and a container at the same path, yield a *DecodeError.
// An empty field set inflates to nil.
func Inflate(fields map[string]string) (any, error) {
	root := &node{}
	for field, form := range fields {
		path, tag, err := SplitTag(field)
		if err != nil {
			return nil, err
		}
		segs, err := ParsePath(path)
		if err != nil {
			return nil, &DecodeError{Field: field, Reason: "malformed path", Err: err}
		}
		val, err := Deserialize(tag, form)
		if err != nil {
			var de *DecodeError
			if !errors.As(err, &de) {
				de = &DecodeError{Reason: "malformed value", Err: err}
			}
			de.Field = field
			return nil, de
		}
		if err := root.put(segs, val, len(fields)); err != nil {
			return nil, &DecodeError{Field: field, Reason: err.Error()}
		}
	}
	if root.empty() {
		return nil, nil
	}
	return root.build(), nil
}

// node is the intermediate tree Inflate assembles before materializing
// maps and slices. A node is exactly one of: unset, leaf, mapping, sequence.
type node struct {
	leaf  bool
	value any
	keys  map[string]*node
	items map[int]*node
}

type shapeError string

func (e shapeError) Error() string { return string(e) }

func (n *node) empty() bool {
	return !n.leaf && n.keys == nil && n.items == nil
}

// put places val at segs. Every element of a flattened sequence has at least
// one field, so an index of limit or more cannot have come from Flatten.
func (n *node) put(segs []Segment, val any, limit int) error {
	cur := n
	for _, s := range segs {
		if cur.leaf {
			return shapeError("path descends through a leaf value")
		}
		if s.IsIndex {
			if s.Index >= limit {
				return shapeError("sequence index out of range")
			}
			if cur.keys != nil {
				return shapeError("index segment on a mapping")
			}
			if cur.items == nil {
				cur.items = make(map[int]*node)
			}
			next, ok := cur.items[s.Index]
			if !ok {
				next = &node{}
				cur.items[s.Index] = next
			}
			cur = next
			continue
		}
		if cur.items != nil {
			return shapeError("key segment on a sequence")
		}
		if cur.keys == nil {
			cur.keys = make(map[string]*node)
		}
		next, ok := cur.keys[s.Key]
		if !ok {
			next = &node{}
			cur.keys[s.Key] = next
		}
		cur = next
	}
	if !cur.empty() {
		return shapeError("path is assigned more than once")
	}
	cur.leaf = true
	cur.value = val
	return nil
}

func (n *node) build() any {
	switch {
	case n.leaf:
		return n.value
	case n.keys != nil:
		m := make(map[string]any, len(n.keys))
		for k, c := range n.keys {
			m[k] = c.build()
		}
		return m
	case n.items != nil:
		size := 0
		for i := range n.items {
			if i+1 > size {
				size = i + 1
			}
		}
		s := make([]any, size)
		for i, c := range n.items {
			s[i] = c.build()
		}
		return s
	}
	return nil
}

package store

import (
	"sort"

	"github.com/jacentio/hashdoc/codec"
)

// MissingFields returns the stored field names a full save must delete:
// every name in existing that flat does not write. The result is sorted.
func MissingFields(existing []string, flat map[string]string) []string {
	var missing []string
	for _, name := range existing {
		if _, ok := flat[name]; !ok {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}

// ShadowedFields returns the stored field names a patch write would leave
// unreadable. A stored field is shadowed when a new field has the same path
// with another tag, when its path is a strict ancestor or descendant of a new
// path, or when it sits under a container the new fields index the other way
// (keys where the new fields use positions, or the reverse). The result is
// sorted.
func ShadowedFields(existing []string, flat map[string]string) []string {
	leaves := make(map[string]bool, len(flat))
	containers := make(map[string]childKinds)
	for name := range flat {
		p := codec.StripTag(name)
		leaves[p] = true
		segs, err := codec.ParsePath(p)
		if err != nil {
			continue
		}
		for i, seg := range segs {
			parent := codec.FormatPath(segs[:i])
			containers[parent] |= kindOf(seg)
		}
	}

	var shadowed []string
	for _, name := range existing {
		if _, ok := flat[name]; ok {
			continue
		}
		if isShadowed(codec.StripTag(name), leaves, containers) {
			shadowed = append(shadowed, name)
		}
	}
	sort.Strings(shadowed)
	return shadowed
}

// childKinds records which segment kinds a container's children use. A
// sequence root holds both: its positions and the identity key.
type childKinds uint8

const (
	keyChildren childKinds = 1 << iota
	indexChildren
)

func kindOf(seg codec.Segment) childKinds {
	if seg.IsIndex {
		return indexChildren
	}
	return keyChildren
}

func isShadowed(p string, leaves map[string]bool, containers map[string]childKinds) bool {
	if leaves[p] {
		return true
	}
	if _, ok := containers[p]; ok {
		return true
	}
	segs, err := codec.ParsePath(p)
	if err != nil {
		return false
	}
	for i, seg := range segs {
		parent := codec.FormatPath(segs[:i])
		if leaves[parent] {
			return true
		}
		if kinds, ok := containers[parent]; ok && kinds&kindOf(seg) == 0 {
			return true
		}
	}
	return false
}

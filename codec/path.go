package codec

import (
	"fmt"
	"strconv"
	"strings"
)

// TagDelimiter separates a path from its kind tag in a field name.
const TagDelimiter = ':'

// Segment is one step of a path: a mapping key or a sequence index.
type Segment struct {
	Key     string
	Index   int
	IsIndex bool
}

// Key returns a mapping segment.
func Key(k string) Segment {
	return Segment{Key: k}
}

// Index returns a sequence segment.
func Index(i int) Segment {
	return Segment{Index: i, IsIndex: true}
}

// String renders the segment as it appears in a path: .key, .'quoted.key' or [i].
func (s Segment) String() string {
	if s.IsIndex {
		return "[" + strconv.Itoa(s.Index) + "]"
	}
	if s.Key != "" && strings.IndexAny(s.Key, `'.*$[]\`) == -1 {
		return "." + s.Key
	}
	var b strings.Builder
	b.WriteString(".'")
	for i := 0; i < len(s.Key); i++ {
		c := s.Key[i]
		if c == '\'' || c == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}
	b.WriteByte('\'')
	return b.String()
}

// FormatPath renders segments as a $-rooted path.
func FormatPath(segs []Segment) string {
	var b strings.Builder
	b.WriteByte('$')
	for _, s := range segs {
		b.WriteString(s.String())
	}
	return b.String()
}

// ParsePath parses a $-rooted path produced by FormatPath.
func ParsePath(p string) ([]Segment, error) {
	if len(p) == 0 || p[0] != '$' {
		return nil, fmt.Errorf("path %q should start with '$'", p)
	}
	var segs []Segment
	rest := p[1:]
	for len(rest) > 0 {
		switch rest[0] {
		case '.':
			key, tail, err := parseKey(rest[1:])
			if err != nil {
				return nil, fmt.Errorf("path %q: %w", p, err)
			}
			segs = append(segs, Key(key))
			rest = tail
		case '[':
			end := strings.IndexByte(rest, ']')
			if end == -1 {
				return nil, fmt.Errorf("path %q: expected '[' <index> ']'", p)
			}
			i, err := strconv.Atoi(rest[1:end])
			if err != nil || i < 0 {
				return nil, fmt.Errorf("path %q: invalid index %q", p, rest[1:end])
			}
			segs = append(segs, Index(i))
			rest = rest[end+1:]
		default:
			return nil, fmt.Errorf("path %q: expected '.' or '['", p)
		}
	}
	return segs, nil
}

func parseKey(frag string) (key, rest string, err error) {
	if len(frag) == 0 {
		return "", "", fmt.Errorf("expected key at end of path")
	}
	if frag[0] != '\'' {
		i := strings.IndexAny(frag, ".[")
		if i == -1 {
			return frag, "", nil
		}
		if i == 0 {
			return "", "", fmt.Errorf("empty key")
		}
		return frag[:i], frag[i:], nil
	}
	escaped := false
	b := make([]byte, 0, len(frag))
	for i := 1; i < len(frag); i++ {
		c := frag[i]
		switch {
		case escaped:
			escaped = false
			b = append(b, c)
		case c == '\\':
			escaped = true
		case c == '\'':
			return string(b), frag[i+1:], nil
		default:
			b = append(b, c)
		}
	}
	return "", "", fmt.Errorf("unterminated quoted key")
}

// JoinTag appends the kind tag to a path, producing a field name.
func JoinTag(path string, tag byte) string {
	return path + string([]byte{TagDelimiter, tag})
}

// SplitTag separates a field name into its path and kind tag.
func SplitTag(field string) (string, byte, error) {
	n := len(field)
	if n < 3 || field[n-2] != TagDelimiter {
		return "", 0, &DecodeError{Field: field, Reason: "missing type tag"}
	}
	return field[:n-2], field[n-1], nil
}

// StripTag returns the path part of a field name, or the name unchanged when
// it carries no tag.
func StripTag(field string) string {
	if p, _, err := SplitTag(field); err == nil {
		return p
	}
	return field
}

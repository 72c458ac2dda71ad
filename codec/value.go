package codec

import (
	"encoding/json"
	"math/big"
	"time"
)

// Kind is a value category the codec can round-trip through a string store.
type Kind uint8

const (
	KindEmptyObject Kind = iota
	KindEmptyArray
	KindEmptyString
	KindNull
	KindUndefined
	KindBool
	KindString
	KindBigInt
	KindSymbol
	KindNumber
	KindTime
	KindCode
)

var kindTags = [...]byte{
	KindEmptyObject: '0',
	KindEmptyArray:  '1',
	KindEmptyString: '2',
	KindNull:        '3',
	KindUndefined:   '4',
	KindBool:        '5',
	KindString:      '6',
	KindBigInt:      '7',
	KindSymbol:      '8',
	KindNumber:      'a',
	KindTime:        'b',
	KindCode:        'c',
}

var kindNames = [...]string{
	KindEmptyObject: "emptyObject",
	KindEmptyArray:  "emptyArray",
	KindEmptyString: "emptyString",
	KindNull:        "null",
	KindUndefined:   "undefined",
	KindBool:        "boolean",
	KindString:      "string",
	KindBigInt:      "bigint",
	KindSymbol:      "symbol",
	KindNumber:      "number",
	KindTime:        "date",
	KindCode:        "code",
}

// Tag returns the one-byte tag written after the path delimiter.
func (k Kind) Tag() byte {
	if int(k) < len(kindTags) {
		return kindTags[k]
	}
	return kindTags[KindString]
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// KindForTag maps a tag byte back to its Kind.
func KindForTag(tag byte) (Kind, bool) {
	for k, t := range kindTags {
		if t == tag {
			return Kind(k), true
		}
	}
	return 0, false
}

// UndefinedValue marks a field that is present in the document but has no
// value. It is distinct from nil, which is stored as null.
type UndefinedValue struct{}

// Undefined is the single UndefinedValue.
var Undefined = UndefinedValue{}

// Symbol is an interned name. It is stored as Symbol(name).
type Symbol string

// Code is opaque source text. It is stored and loaded verbatim and never run.
type Code string

// KindOf reports the kind a leaf value is stored as. Values outside the
// recognized set report KindString and are stored via fmt.Sprint.
// Non-empty containers are walked by Flatten and never stored as leaves.
func KindOf(v any) Kind {
	switch x := v.(type) {
	case UndefinedValue:
		return KindUndefined
	case nil:
		return KindNull
	case string:
		if x == "" {
			return KindEmptyString
		}
		return KindString
	case []any:
		if len(x) == 0 {
			return KindEmptyArray
		}
		return KindString
	case map[string]any:
		if len(x) == 0 {
			return KindEmptyObject
		}
		return KindString
	case bool:
		return KindBool
	case *big.Int:
		if x == nil {
			return KindNull
		}
		return KindBigInt
	case Symbol:
		return KindSymbol
	case Code:
		return KindCode
	case time.Time:
		return KindTime
	case *time.Time:
		if x == nil {
			return KindNull
		}
		return KindTime
	}
	if _, ok := bigInt(v); ok {
		return KindBigInt
	}
	if _, ok := toFloat(v); ok {
		return KindNumber
	}
	return KindString
}

// maxExactInt is the largest magnitude a float64 holds without rounding.
var maxExactInt = big.NewInt(1 << 53)

// bigInt returns an integer too large for float64 as a *big.Int, so that it
// is stored as KindBigInt instead of being rounded.
func bigInt(v any) (*big.Int, bool) {
	var n *big.Int
	switch x := v.(type) {
	case int:
		n = big.NewInt(int64(x))
	case int64:
		n = big.NewInt(x)
	case uint:
		n = new(big.Int).SetUint64(uint64(x))
	case uint64:
		n = new(big.Int).SetUint64(x)
	case json.Number:
		var ok bool
		if n, ok = new(big.Int).SetString(string(x), 10); !ok {
			return nil, false
		}
	default:
		return nil, false
	}
	if n.CmpAbs(maxExactInt) <= 0 {
		return nil, false
	}
	return n, true
}

// toFloat widens every Go numeric kind to float64.
func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	}
	return 0, false
}

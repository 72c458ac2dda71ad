package codec

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"
)

// TimeFormat is the lexical form timestamps are stored in.
const TimeFormat = time.RFC3339Nano

const (
	emptyObjectForm = "{}"
	emptyArrayForm  = "[]"
	emptyStringForm = "''"
	nullForm        = "null"
	undefinedForm   = "undefined"
)

// Serialize encodes a leaf value as its kind tag and string form.
func Serialize(v any) (byte, string) {
	k := KindOf(v)
	return k.Tag(), format(k, v)
}

func format(k Kind, v any) string {
	switch k {
	case KindEmptyObject:
		return emptyObjectForm
	case KindEmptyArray:
		return emptyArrayForm
	case KindEmptyString:
		return emptyStringForm
	case KindNull:
		return nullForm
	case KindUndefined:
		return undefinedForm
	case KindBool:
		return strconv.FormatBool(v.(bool))
	case KindBigInt:
		if n, ok := bigInt(v); ok {
			return n.String()
		}
		return v.(*big.Int).String()
	case KindSymbol:
		return "Symbol(" + string(v.(Symbol)) + ")"
	case KindCode:
		return string(v.(Code))
	case KindNumber:
		f, _ := toFloat(v)
		return strconv.FormatFloat(f, 'g', -1, 64)
	case KindTime:
		var t time.Time
		switch x := v.(type) {
		case time.Time:
			t = x
		case *time.Time:
			t = *x
		}
		return t.UTC().Format(TimeFormat)
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Deserialize decodes a string form written under tag.
// Unknown tags return an *UnknownTagError; malformed forms return a
// *DecodeError.
func Deserialize(tag byte, form string) (any, error) {
	k, ok := KindForTag(tag)
	if !ok {
		return nil, &UnknownTagError{Tag: tag}
	}
	switch k {
	case KindEmptyObject:
		return map[string]any{}, nil
	case KindEmptyArray:
		return []any{}, nil
	case KindEmptyString:
		return "", nil
	case KindNull:
		return nil, nil
	case KindUndefined:
		return Undefined, nil
	case KindBool:
		switch form {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return nil, &DecodeError{Reason: fmt.Sprintf("invalid boolean %q", form)}
	case KindString:
		return form, nil
	case KindBigInt:
		n, ok := new(big.Int).SetString(form, 10)
		if !ok {
			return nil, &DecodeError{Reason: fmt.Sprintf("invalid big integer %q", form)}
		}
		return n, nil
	case KindSymbol:
		name := form
		if strings.HasPrefix(name, "Symbol(") && strings.HasSuffix(name, ")") {
			name = name[len("Symbol(") : len(name)-1]
		}
		return Symbol(name), nil
	case KindNumber:
		f, err := strconv.ParseFloat(form, 64)
		if err != nil {
			return nil, &DecodeError{Reason: "invalid number", Err: err}
		}
		return f, nil
	case KindTime:
		t, err := time.Parse(TimeFormat, form)
		if err != nil {
			return nil, &DecodeError{Reason: "invalid date", Err: err}
		}
		return t, nil
	case KindCode:
		return Code(form), nil
	}
	return nil, &UnknownTagError{Tag: tag}
}

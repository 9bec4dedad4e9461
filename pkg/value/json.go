package value

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// ErrUnsupportedType is returned by FromAny for Go values with no JSON form.
var ErrUnsupportedType = errors.New("value: unsupported type")

// Parse decodes a single JSON document into a Value. An empty input yields
// the absent value.
func Parse(data []byte) (Value, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Value{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decode(dec)
	if err != nil {
		return Value{}, fmt.Errorf("value: parse: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return Value{}, errors.New("value: parse: trailing data after document")
	}
	return v, nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// literals.
func MustParse(s string) Value {
	v, err := Parse([]byte(s))
	if err != nil {
		panic(err)
	}
	return v
}

func decode(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}
	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		f, err := strconv.ParseFloat(string(t), 64)
		if err != nil {
			return Value{}, err
		}
		return Number(f), nil
	case string:
		return String(t), nil
	case json.Delim:
		switch t {
		case '[':
			arr := []Value{}
			for dec.More() {
				elem, err := decode(dec)
				if err != nil {
					return Value{}, err
				}
				arr = append(arr, elem)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return Value{kind: KindArray, arr: arr}, nil
		case '{':
			obj := map[string]Value{}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Value{}, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return Value{}, fmt.Errorf("unexpected object key %v", keyTok)
				}
				member, err := decode(dec)
				if err != nil {
					return Value{}, err
				}
				obj[key] = member
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return Value{kind: KindObject, obj: obj}, nil
		}
	}
	return Value{}, fmt.Errorf("unexpected token %v", tok)
}

// FromAny converts data produced by encoding/json (or built by hand from
// maps, slices and scalars) into a Value.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Number(float64(t)), nil
	case int32:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case uint:
		return Number(float64(t)), nil
	case uint32:
		return Number(float64(t)), nil
	case uint64:
		return Number(float64(t)), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("value: number %q: %w", t, err)
		}
		return Number(f), nil
	case []any:
		arr := make([]Value, len(t))
		for i, e := range t {
			ev, err := FromAny(e)
			if err != nil {
				return Value{}, err
			}
			arr[i] = ev
		}
		return Array(arr...), nil
	case []string:
		arr := make([]Value, len(t))
		for i, e := range t {
			arr[i] = String(e)
		}
		return Array(arr...), nil
	case map[string]any:
		obj := make(map[string]Value, len(t))
		for k, e := range t {
			ev, err := FromAny(e)
			if err != nil {
				return Value{}, err
			}
			obj[k] = ev
		}
		return Object(obj), nil
	}
	return Value{}, fmt.Errorf("%w: %T", ErrUnsupportedType, x)
}

// Interface returns v as plain Go data (map[string]any, []any, float64,
// string, bool, nil), the shape encoding/json produces.
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindString:
		return v.s
	case KindArray:
		out := make([]any, len(v.arr))
		for i, e := range v.arr {
			out[i] = e.Interface()
		}
		return out
	case KindObject:
		out := make(map[string]any, len(v.obj))
		for k, e := range v.obj {
			out[k] = e.Interface()
		}
		return out
	default:
		return nil
	}
}

// MarshalJSON encodes v in canonical form. Absent encodes as null.
func (v Value) MarshalJSON() ([]byte, error) {
	return []byte(Canonicalize(v)), nil
}

// UnmarshalJSON decodes a JSON document into v.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ValueKind identifies which variant a Value holds.
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindString
	KindBool
	KindInteger
	KindNumber
	KindArray
	KindObject
)

func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindInteger:
		return "integer"
	case KindNumber:
		return "number"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is a free-form JSON value as produced by the analyzer or the LLM.
// Emission sites switch on Kind instead of type-asserting interface{}.
type Value struct {
	kind ValueKind
	str  string
	b    bool
	i    int64
	f    float64
	arr  []Value
	obj  map[string]Value
}

func String(s string) Value   { return Value{kind: KindString, str: s} }
func Bool(b bool) Value       { return Value{kind: KindBool, b: b} }
func Integer(i int64) Value   { return Value{kind: KindInteger, i: i} }
func Number(f float64) Value  { return Value{kind: KindNumber, f: f} }
func Array(vs ...Value) Value { return Value{kind: KindArray, arr: vs} }

func Object(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{kind: KindObject, obj: m}
}

func (v Value) Kind() ValueKind { return v.kind }

// Str returns the string and whether v holds one.
func (v Value) Str() (string, bool) { return v.str, v.kind == KindString }

func (v Value) BoolValue() (bool, bool) { return v.b, v.kind == KindBool }

func (v Value) Int() (int64, bool) { return v.i, v.kind == KindInteger }

func (v Value) Float() (float64, bool) {
	switch v.kind {
	case KindNumber:
		return v.f, true
	case KindInteger:
		return float64(v.i), true
	}
	return 0, false
}

func (v Value) Items() []Value { return v.arr }

func (v Value) Fields() map[string]Value { return v.obj }

// Scalar reports whether v is a string, bool or integer: the subset that
// is copied verbatim into parameter objects.
func (v Value) Scalar() bool {
	return v.kind == KindString || v.kind == KindBool || v.kind == KindInteger
}

// Interface converts v back into plain Go values suitable for encoding/json.
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindBool:
		return v.b
	case KindInteger:
		return v.i
	case KindNumber:
		return v.f
	case KindArray:
		out := make([]any, len(v.arr))
		for i, item := range v.arr {
			out[i] = item.Interface()
		}
		return out
	case KindObject:
		out := make(map[string]any, len(v.obj))
		for k, item := range v.obj {
			out[k] = item.Interface()
		}
		return out
	default:
		return nil
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*v = FromInterface(raw)
	return nil
}

// FromInterface converts a value decoded by encoding/json (with or without
// UseNumber) into a Value. Unknown Go types become null.
func FromInterface(raw any) Value {
	switch t := raw.(type) {
	case nil:
		return Value{}
	case string:
		return String(t)
	case bool:
		return Bool(t)
	case json.Number:
		if i, err := strconv.ParseInt(t.String(), 10, 64); err == nil {
			return Integer(i)
		}
		f, err := t.Float64()
		if err != nil {
			return String(t.String())
		}
		return Number(f)
	case float64:
		if t == float64(int64(t)) {
			return Integer(int64(t))
		}
		return Number(t)
	case int:
		return Integer(int64(t))
	case int64:
		return Integer(t)
	case []any:
		out := make([]Value, len(t))
		for i, item := range t {
			out[i] = FromInterface(item)
		}
		return Array(out...)
	case map[string]any:
		out := make(map[string]Value, len(t))
		for k, item := range t {
			out[k] = FromInterface(item)
		}
		return Object(out)
	default:
		return Value{}
	}
}

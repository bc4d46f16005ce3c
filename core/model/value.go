package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// Value is a schema-less structured value used for command parameters,
// command results, device metadata and sensor payloads. The zero Value is
// null.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	arr  []Value
	m    map[string]Value
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number wraps a number.
func Number(f float64) Value { return Value{kind: KindNumber, n: f} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Array wraps a list of values.
func Array(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindArray, arr: items}
}

// Map wraps a set of named values. A nil map yields an empty object.
func Map(fields map[string]Value) Value {
	if fields == nil {
		fields = map[string]Value{}
	}
	return Value{kind: KindMap, m: fields}
}

// Object is a convenience constructor building a map from alternating
// key/value pairs converted with FromAny. It panics on odd arguments or
// unsupported types and is meant for literals.
func Object(kv ...any) Value {
	if len(kv)%2 != 0 {
		panic("model.Object: odd number of arguments")
	}
	fields := make(map[string]Value, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			panic(fmt.Sprintf("model.Object: key %v is not a string", kv[i]))
		}
		v, err := FromAny(kv[i+1])
		if err != nil {
			panic(err)
		}
		fields[key] = v
	}
	return Map(fields)
}

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

// Float returns the numeric content. Numeric strings are accepted since
// some firmwares report ADC values as text.
func (v Value) Float() (float64, bool) {
	switch v.kind {
	case KindNumber:
		return v.n, true
	case KindString:
		f, err := strconv.ParseFloat(v.s, 64)
		return f, err == nil
	case KindBool:
		if v.b {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func (v Value) Str() (string, bool)   { return v.s, v.kind == KindString }
func (v Value) Boolean() (bool, bool) { return v.b, v.kind == KindBool }

// Items returns the elements of an array value.
func (v Value) Items() []Value {
	if v.kind != KindArray {
		return nil
	}
	return v.arr
}

// Fields returns the members of a map value.
func (v Value) Fields() map[string]Value {
	if v.kind != KindMap {
		return nil
	}
	return v.m
}

// Get looks up a member of a map value.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindMap {
		return Value{}, false
	}
	f, ok := v.m[key]
	return f, ok
}

// With returns a copy of the map value with key set. Non-map values are
// replaced by a new map.
func (v Value) With(key string, field Value) Value {
	out := make(map[string]Value, len(v.m)+1)
	if v.kind == KindMap {
		for k, f := range v.m {
			out[k] = f
		}
	}
	out[key] = field
	return Map(out)
}

// Equal reports deep equality.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindNumber:
		return v.n == o.n
	case KindString:
		return v.s == o.s
	case KindArray:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.m) != len(o.m) {
			return false
		}
		for k, f := range v.m {
			of, ok := o.m[k]
			if !ok || !f.Equal(of) {
				return false
			}
		}
		return true
	}
	return false
}

// ToAny converts the value into plain Go types (nil, bool, float64, string,
// []any, map[string]any).
func (v Value) ToAny() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindString:
		return v.s
	case KindArray:
		out := make([]any, len(v.arr))
		for i, item := range v.arr {
			out[i] = item.ToAny()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, f := range v.m {
			out[k] = f.ToAny()
		}
		return out
	default:
		return nil
	}
}

// FromAny converts plain Go values into a Value.
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
	case int64:
		return Number(float64(t)), nil
	case int32:
		return Number(float64(t)), nil
	case uint:
		return Number(float64(t)), nil
	case uint64:
		return Number(float64(t)), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("number %q: %w", t, err)
		}
		return Number(f), nil
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			v, err := FromAny(item)
			if err != nil {
				return Value{}, err
			}
			items[i] = v
		}
		return Array(items...), nil
	case []string:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = String(item)
		}
		return Array(items...), nil
	case map[string]any:
		fields := make(map[string]Value, len(t))
		for k, item := range t {
			v, err := FromAny(item)
			if err != nil {
				return Value{}, err
			}
			fields[k] = v
		}
		return Map(fields), nil
	case map[string]string:
		fields := make(map[string]Value, len(t))
		for k, item := range t {
			fields[k] = String(item)
		}
		return Map(fields), nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", x)
	}
}

// MarshalJSON implements json.Marshaler. Map keys are emitted sorted.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) encode(buf *bytes.Buffer) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case KindNumber:
		b, err := json.Marshal(v.n)
		if err != nil {
			return err
		}
		buf.Write(b)
	case KindString:
		b, err := json.Marshal(v.s)
		if err != nil {
			return err
		}
		buf.Write(b)
	case KindArray:
		buf.WriteByte('[')
		for i, item := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindMap:
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := v.m[k].encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unknown value kind %d", v.kind)
	}
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	parsed, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ParseValue decodes raw JSON into a Value. Empty input yields null.
func ParseValue(data []byte) (Value, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Null(), nil
	}
	var v Value
	if err := v.UnmarshalJSON(data); err != nil {
		return Value{}, err
	}
	return v, nil
}

// OrEmpty returns an empty map when v is null.
func (v Value) OrEmpty() Value {
	if v.kind == KindNull {
		return Map(nil)
	}
	return v
}

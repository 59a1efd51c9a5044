// Package value defines the closed structured-value type carried by trace
// records.
//
// A Value is one of null, bool, number, string, ordered map or list. Span
// fields and session metadata are converted into Values before they are
// sanitized and serialized, so the redactor and the JSON encoder only ever
// deal with these six shapes.
//
// Invariants:
// - The zero Value is null.
// - Map preserves insertion order; JSON output follows it.
// - Integers and floats are kept apart so 100 encodes as 100, not 100.0.
//
// Usage:
//
//	m := value.NewMap()
//	m.Set("model", value.String("gpt-4"))
//	m.Set("tokens", value.Int(100))
//	line, _ := m.MarshalJSON()
package value

import (
	"math"
)

// Kind identifies the shape of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindMap
	KindList
)

// String returns the kind name
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
	case KindMap:
		return "map"
	case KindList:
		return "list"
	default:
		return "unknown"
	}
}

// Markers substituted for values that cannot be represented faithfully.
const (
	Unserializable   = "[UNSERIALIZABLE]"
	MaxDepthExceeded = "[MAX_DEPTH_EXCEEDED]"
)

// Value is an immutable structured value.
type Value struct {
	kind  Kind
	b     bool
	isInt bool
	i     int64
	f     float64
	s     string
	m     *Map
	l     []Value
}

// Null returns the null value
func Null() Value { return Value{} }

// Bool returns a boolean value
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int returns an integer number value
func Int(i int64) Value { return Value{kind: KindNumber, isInt: true, i: i} }

// Float returns a floating point number value
func Float(f float64) Value { return Value{kind: KindNumber, f: f} }

// String returns a string value
func String(s string) Value { return Value{kind: KindString, s: s} }

// Object wraps a map. A nil map yields null.
func Object(m *Map) Value {
	if m == nil {
		return Null()
	}
	return Value{kind: KindMap, m: m}
}

// List returns a list value holding items in order.
func List(items ...Value) Value {
	l := make([]Value, len(items))
	copy(l, items)
	return Value{kind: KindList, l: l}
}

// Kind returns the shape of v
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean payload
func (v Value) AsBool() (bool, bool) {
	return v.b, v.kind == KindBool
}

// AsString returns the string payload
func (v Value) AsString() (string, bool) {
	return v.s, v.kind == KindString
}

// AsInt returns the integer payload. Floats with an integral value are
// accepted as well.
func (v Value) AsInt() (int64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	if v.isInt {
		return v.i, true
	}
	if v.f == math.Trunc(v.f) && !math.IsInf(v.f, 0) && math.Abs(v.f) < 1<<63 {
		return int64(v.f), true
	}
	return 0, false
}

// AsFloat returns the numeric payload as a float64
func (v Value) AsFloat() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	if v.isInt {
		return float64(v.i), true
	}
	return v.f, true
}

// IsInt reports whether v is a number stored as an integer
func (v Value) IsInt() bool { return v.kind == KindNumber && v.isInt }

// AsMap returns the map payload, or nil
func (v Value) AsMap() *Map {
	if v.kind != KindMap {
		return nil
	}
	return v.m
}

// AsList returns a copy of the list payload, or nil
func (v Value) AsList() []Value {
	if v.kind != KindList {
		return nil
	}
	out := make([]Value, len(v.l))
	copy(out, v.l)
	return out
}

// Len returns the number of entries of a map or list, zero otherwise
func (v Value) Len() int {
	switch v.kind {
	case KindMap:
		return v.m.Len()
	case KindList:
		return len(v.l)
	default:
		return 0
	}
}

// String renders v as JSON text
func (v Value) String() string {
	data, err := v.MarshalJSON()
	if err != nil {
		return Unserializable
	}
	return string(data)
}

// Equal reports deep equality. Map comparison is order sensitive because
// order is part of the serialized form.
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
		if v.isInt && o.isInt {
			return v.i == o.i
		}
		a, _ := v.AsFloat()
		b, _ := o.AsFloat()
		if math.IsNaN(a) && math.IsNaN(b) {
			return true
		}
		return a == b
	case KindString:
		return v.s == o.s
	case KindMap:
		return v.m.Equal(o.m)
	case KindList:
		if len(v.l) != len(o.l) {
			return false
		}
		for i := range v.l {
			if !v.l[i].Equal(o.l[i]) {
				return false
			}
		}
		return true
	}
	return false
}

package value

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"time"
)

// maxConvertDepth bounds recursion through self-referencing inputs such as
// a map[string]any that contains itself.
const maxConvertDepth = 64

// From converts an arbitrary Go value.
//
// Maps are emitted with sorted keys because Go map iteration order is
// random. Sets expressed as map[K]struct{} become lists. Values with no
// structured equivalent (structs, channels, funcs) are rendered with fmt;
// if rendering panics the result is the Unserializable marker.
func From(x any) Value {
	return fromAny(x, 0)
}

// FromMap converts a map[string]any into a Map with sorted keys
func FromMap(fields map[string]any) *Map {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	m := NewMap()
	for _, k := range keys {
		m.Set(k, fromAny(fields[k], 1))
	}
	return m
}

func fromAny(x any, depth int) (out Value) {
	defer func() {
		if r := recover(); r != nil {
			out = String(Unserializable)
		}
	}()

	if depth > maxConvertDepth {
		return String(MaxDepthExceeded)
	}

	switch t := x.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case *Map:
		if t == nil {
			return Null()
		}
		return Object(t.Clone())
	case bool:
		return Bool(t)
	case string:
		return String(t)
	case []byte:
		return String(string(t))
	case int:
		return Int(int64(t))
	case int8:
		return Int(int64(t))
	case int16:
		return Int(int64(t))
	case int32:
		return Int(int64(t))
	case int64:
		return Int(t)
	case uint8:
		return Int(int64(t))
	case uint16:
		return Int(int64(t))
	case uint32:
		return Int(int64(t))
	case uint:
		return fromUint(uint64(t))
	case uint64:
		return fromUint(t)
	case float32:
		return fromFloat(float64(t))
	case float64:
		return fromFloat(t)
	case json.Number:
		v, err := parseNumber(t)
		if err != nil {
			return String(t.String())
		}
		return v
	case time.Time:
		return String(t.UTC().Format(time.RFC3339Nano))
	case time.Duration:
		return String(t.String())
	case error:
		return String(t.Error())
	case fmt.Stringer:
		return String(t.String())
	}

	return fromReflect(reflect.ValueOf(x), depth)
}

func fromReflect(rv reflect.Value, depth int) Value {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Null()
		}
		return fromAny(rv.Elem().Interface(), depth+1)

	case reflect.Bool:
		return Bool(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return fromUint(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return fromFloat(rv.Float())
	case reflect.String:
		return String(rv.String())

	case reflect.Slice:
		if rv.IsNil() {
			return Null()
		}
		fallthrough
	case reflect.Array:
		items := make([]Value, rv.Len())
		for i := range items {
			items[i] = fromAny(rv.Index(i).Interface(), depth+1)
		}
		return Value{kind: KindList, l: items}

	case reflect.Map:
		if rv.IsNil() {
			return Null()
		}
		if isSet(rv.Type()) {
			return fromSet(rv, depth)
		}
		type entry struct {
			key string
			val reflect.Value
		}
		entries := make([]entry, 0, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			entries = append(entries, entry{key: mapKey(iter.Key()), val: iter.Value()})
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })

		m := NewMap()
		for _, e := range entries {
			m.Set(e.key, fromAny(e.val.Interface(), depth+1))
		}
		return Object(m)
	}

	return String(fmt.Sprintf("%+v", rv.Interface()))
}

// isSet reports whether t is a map used as a set (map[K]struct{})
func isSet(t reflect.Type) bool {
	elem := t.Elem()
	return elem.Kind() == reflect.Struct && elem.NumField() == 0
}

func fromSet(rv reflect.Value, depth int) Value {
	members := make([]Value, 0, rv.Len())
	keys := rv.MapKeys()
	sort.Slice(keys, func(i, j int) bool { return mapKey(keys[i]) < mapKey(keys[j]) })
	for _, k := range keys {
		members = append(members, fromAny(k.Interface(), depth+1))
	}
	return Value{kind: KindList, l: members}
}

func mapKey(k reflect.Value) string {
	if k.Kind() == reflect.String {
		return k.String()
	}
	return fmt.Sprint(k.Interface())
}

func fromUint(u uint64) Value {
	if u > math.MaxInt64 {
		return Float(float64(u))
	}
	return Int(int64(u))
}

func fromFloat(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return String(fmt.Sprint(f))
	}
	return Float(f)
}

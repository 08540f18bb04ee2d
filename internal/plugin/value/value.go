// Package value defines the tagged-variant type used to move data between
// plugin scripts and the host without exposing script-engine types.
package value

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// MaxDepth bounds nesting for every conversion in either direction.
const MaxDepth = 32

// ErrTooDeep is returned when a value nests deeper than MaxDepth.
var ErrTooDeep = errors.New("value: nesting exceeds maximum depth")

// Kind identifies which field of a Value is populated.
type Kind uint8

// Value kinds.
const (
	Null Kind = iota
	Bool
	Int
	Float
	String
	Array
	Map
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Bool:
		return "bool"
	case Int:
		return "int"
	case Float:
		return "float"
	case String:
		return "string"
	case Array:
		return "array"
	case Map:
		return "map"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is a script value. The zero Value is null.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	arr  []Value
	m    map[string]Value
}

// Nil is the null value.
var Nil = Value{}

// BoolOf returns a bool value.
func BoolOf(b bool) Value { return Value{kind: Bool, b: b} }

// IntOf returns an integer value.
func IntOf(i int64) Value { return Value{kind: Int, i: i} }

// FloatOf returns a float value.
func FloatOf(f float64) Value { return Value{kind: Float, f: f} }

// StringOf returns a string value.
func StringOf(s string) Value { return Value{kind: String, s: s} }

// ArrayOf returns an array value holding items.
func ArrayOf(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: Array, arr: items}
}

// MapOf returns a map value. A nil map yields an empty map.
func MapOf(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{kind: Map, m: m}
}

// Kind returns the kind of v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == Null }

// Bool returns the boolean payload.
func (v Value) Bool() (bool, bool) { return v.b, v.kind == Bool }

// Int returns the integer payload. Floats with no fractional part convert.
func (v Value) Int() (int64, bool) {
	switch v.kind {
	case Int:
		return v.i, true
	case Float:
		if v.f == math.Trunc(v.f) && !math.IsInf(v.f, 0) {
			return int64(v.f), true
		}
	}
	return 0, false
}

// Float returns the numeric payload as a float.
func (v Value) Float() (float64, bool) {
	switch v.kind {
	case Float:
		return v.f, true
	case Int:
		return float64(v.i), true
	}
	return 0, false
}

// Str returns the string payload.
func (v Value) Str() (string, bool) { return v.s, v.kind == String }

// Items returns the array payload.
func (v Value) Items() []Value {
	if v.kind != Array {
		return nil
	}
	return v.arr
}

// Fields returns the map payload.
func (v Value) Fields() map[string]Value {
	if v.kind != Map {
		return nil
	}
	return v.m
}

// Get returns a map field, or Nil.
func (v Value) Get(key string) Value {
	if v.kind != Map {
		return Nil
	}
	return v.m[key]
}

// Keys returns the sorted keys of a map value.
func (v Value) Keys() []string {
	if v.kind != Map {
		return nil
	}
	keys := make([]string, 0, len(v.m))
	for k := range v.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String renders v for messages and logs.
func (v Value) String() string {
	switch v.kind {
	case Null:
		return "nil"
	case Bool:
		return strconv.FormatBool(v.b)
	case Int:
		return strconv.FormatInt(v.i, 10)
	case Float:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case String:
		return v.s
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return "<" + v.kind.String() + ">"
		}
		return string(data)
	}
}

// Clone returns a deep copy of v.
func (v Value) Clone() Value {
	switch v.kind {
	case Array:
		out := make([]Value, len(v.arr))
		for i, item := range v.arr {
			out[i] = item.Clone()
		}
		return Value{kind: Array, arr: out}
	case Map:
		out := make(map[string]Value, len(v.m))
		for k, item := range v.m {
			out[k] = item.Clone()
		}
		return Value{kind: Map, m: out}
	default:
		return v
	}
}

// Equal reports deep equality. Int and Float compare numerically.
func (v Value) Equal(o Value) bool {
	if (v.kind == Int || v.kind == Float) && (o.kind == Int || o.kind == Float) {
		a, _ := v.Float()
		b, _ := o.Float()
		return a == b
	}
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case Null:
		return true
	case Bool:
		return v.b == o.b
	case String:
		return v.s == o.s
	case Array:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	case Map:
		if len(v.m) != len(o.m) {
			return false
		}
		for k, item := range v.m {
			other, ok := o.m[k]
			if !ok || !item.Equal(other) {
				return false
			}
		}
		return true
	}
	return false
}

// Merge overlays patch onto v. Map fields merge recursively; any other patch
// replaces v. A null field in patch deletes the key.
func (v Value) Merge(patch Value) Value {
	if v.kind != Map || patch.kind != Map {
		return patch.Clone()
	}
	out := v.Clone()
	for k, item := range patch.m {
		if item.kind == Null {
			delete(out.m, k)
			continue
		}
		if existing, ok := out.m[k]; ok {
			out.m[k] = existing.Merge(item)
			continue
		}
		out.m[k] = item.Clone()
	}
	return out
}

package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
)

// FromGo converts a plain Go value (as produced by encoding/json or typical
// host code) into a Value.
func FromGo(v any) (Value, error) {
	return fromGo(v, 0)
}

func fromGo(v any, depth int) (Value, error) {
	if depth > MaxDepth {
		return Nil, ErrTooDeep
	}
	switch x := v.(type) {
	case nil:
		return Nil, nil
	case Value:
		return x, nil
	case bool:
		return BoolOf(x), nil
	case int:
		return IntOf(int64(x)), nil
	case int32:
		return IntOf(int64(x)), nil
	case int64:
		return IntOf(x), nil
	case uint32:
		return IntOf(int64(x)), nil
	case float32:
		return FloatOf(float64(x)), nil
	case float64:
		return FloatOf(x), nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return IntOf(i), nil
		}
		f, err := x.Float64()
		if err != nil {
			return Nil, fmt.Errorf("value: invalid number %q", x)
		}
		return FloatOf(f), nil
	case string:
		return StringOf(x), nil
	case []byte:
		return StringOf(string(x)), nil
	case []string:
		items := make([]Value, len(x))
		for i, s := range x {
			items[i] = StringOf(s)
		}
		return ArrayOf(items...), nil
	case []any:
		items := make([]Value, len(x))
		for i, item := range x {
			cv, err := fromGo(item, depth+1)
			if err != nil {
				return Nil, err
			}
			items[i] = cv
		}
		return ArrayOf(items...), nil
	case map[string]string:
		m := make(map[string]Value, len(x))
		for k, s := range x {
			m[k] = StringOf(s)
		}
		return MapOf(m), nil
	case map[string]any:
		m := make(map[string]Value, len(x))
		for k, item := range x {
			cv, err := fromGo(item, depth+1)
			if err != nil {
				return Nil, err
			}
			m[k] = cv
		}
		return MapOf(m), nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16:
		return IntOf(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return FloatOf(float64(u)), nil
		}
		return IntOf(int64(u)), nil
	case reflect.Slice, reflect.Array:
		items := make([]Value, rv.Len())
		for i := range items {
			cv, err := fromGo(rv.Index(i).Interface(), depth+1)
			if err != nil {
				return Nil, err
			}
			items[i] = cv
		}
		return ArrayOf(items...), nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return Nil, fmt.Errorf("value: unsupported map key type %s", rv.Type().Key())
		}
		m := make(map[string]Value, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			cv, err := fromGo(iter.Value().Interface(), depth+1)
			if err != nil {
				return Nil, err
			}
			m[iter.Key().String()] = cv
		}
		return MapOf(m), nil
	case reflect.Ptr:
		if rv.IsNil() {
			return Nil, nil
		}
		return fromGo(rv.Elem().Interface(), depth)
	}
	return Nil, fmt.Errorf("value: unsupported type %T", v)
}

// ToGo converts v into plain Go values: nil, bool, int64, float64, string,
// []any and map[string]any.
func (v Value) ToGo() any {
	switch v.kind {
	case Bool:
		return v.b
	case Int:
		return v.i
	case Float:
		return v.f
	case String:
		return v.s
	case Array:
		out := make([]any, len(v.arr))
		for i, item := range v.arr {
			out[i] = item.ToGo()
		}
		return out
	case Map:
		out := make(map[string]any, len(v.m))
		for k, item := range v.m {
			out[k] = item.ToGo()
		}
		return out
	default:
		return nil
	}
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == Float && (math.IsNaN(v.f) || math.IsInf(v.f, 0)) {
		return []byte("null"), nil
	}
	return json.Marshal(v.ToGo())
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := ParseJSON(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ParseJSON decodes a JSON document into a Value, preserving integers.
func ParseJSON(data []byte) (Value, error) {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return Nil, fmt.Errorf("value: decode json: %w", err)
	}
	return FromGo(raw)
}

package lua

import (
	"fmt"
	"math"
	"strconv"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/blockhost/internal/plugin/value"
)

// ToValue converts a Lua value into a value.Value. Tables nested deeper than
// value.MaxDepth (which includes every cyclic table) are rejected.
func ToValue(lv lua.LValue) (value.Value, error) {
	return toValue(lv, 0)
}

func toValue(lv lua.LValue, depth int) (value.Value, error) {
	if depth > value.MaxDepth {
		return value.Nil, value.ErrTooDeep
	}
	switch v := lv.(type) {
	case nil, *lua.LNilType:
		return value.Nil, nil
	case lua.LBool:
		return value.BoolOf(bool(v)), nil
	case lua.LNumber:
		f := float64(v)
		if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
			return value.IntOf(int64(f)), nil
		}
		return value.FloatOf(f), nil
	case lua.LString:
		return value.StringOf(string(v)), nil
	case *lua.LTable:
		return tableToValue(v, depth)
	default:
		return value.Nil, fmt.Errorf("%w: %s", ErrNotConvertible, lv.Type())
	}
}

func tableToValue(t *lua.LTable, depth int) (value.Value, error) {
	n := t.Len()
	count := 0
	isArray := true
	t.ForEach(func(k, _ lua.LValue) {
		count++
		kn, ok := k.(lua.LNumber)
		if !ok || float64(kn) != math.Trunc(float64(kn)) || kn < 1 || int(kn) > n {
			isArray = false
		}
	})

	if isArray && count == n && n > 0 {
		items := make([]value.Value, n)
		for i := 1; i <= n; i++ {
			item, err := toValue(t.RawGetInt(i), depth+1)
			if err != nil {
				return value.Nil, err
			}
			items[i-1] = item
		}
		return value.ArrayOf(items...), nil
	}

	fields := make(map[string]value.Value, count)
	var convErr error
	t.ForEach(func(k, v lua.LValue) {
		if convErr != nil {
			return
		}
		var key string
		switch kv := k.(type) {
		case lua.LString:
			key = string(kv)
		case lua.LNumber:
			key = formatNumberKey(float64(kv))
		case lua.LBool:
			key = strconv.FormatBool(bool(kv))
		default:
			convErr = fmt.Errorf("%w: %s table key", ErrNotConvertible, k.Type())
			return
		}
		item, err := toValue(v, depth+1)
		if err != nil {
			convErr = err
			return
		}
		fields[key] = item
	})
	if convErr != nil {
		return value.Nil, convErr
	}
	return value.MapOf(fields), nil
}

func formatNumberKey(f float64) string {
	if f == math.Trunc(f) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// FromValue converts v into a Lua value owned by L.
func FromValue(L *lua.LState, v value.Value) (lua.LValue, error) {
	return fromValue(L, v, 0)
}

func fromValue(L *lua.LState, v value.Value, depth int) (lua.LValue, error) {
	if depth > value.MaxDepth {
		return lua.LNil, value.ErrTooDeep
	}
	switch v.Kind() {
	case value.Bool:
		b, _ := v.Bool()
		return lua.LBool(b), nil
	case value.Int:
		i, _ := v.Int()
		return lua.LNumber(i), nil
	case value.Float:
		f, _ := v.Float()
		return lua.LNumber(f), nil
	case value.String:
		s, _ := v.Str()
		return lua.LString(s), nil
	case value.Array:
		items := v.Items()
		t := L.CreateTable(len(items), 0)
		for i, item := range items {
			lv, err := fromValue(L, item, depth+1)
			if err != nil {
				return lua.LNil, err
			}
			t.RawSetInt(i+1, lv)
		}
		return t, nil
	case value.Map:
		fields := v.Fields()
		t := L.CreateTable(0, len(fields))
		for k, item := range fields {
			lv, err := fromValue(L, item, depth+1)
			if err != nil {
				return lua.LNil, err
			}
			t.RawSetString(k, lv)
		}
		return t, nil
	default:
		return lua.LNil, nil
	}
}

// PushValue converts v and pushes it, raising a script error on failure.
func PushValue(L *lua.LState, v value.Value) {
	lv, err := FromValue(L, v)
	if err != nil {
		L.RaiseError("%s", err.Error())
		return
	}
	L.Push(lv)
}

// CheckValue converts argument n, raising a script error on failure.
func CheckValue(L *lua.LState, n int) value.Value {
	v, err := ToValue(L.Get(n))
	if err != nil {
		L.ArgError(n, err.Error())
		return value.Nil
	}
	return v
}

// Args converts arguments from position start onward.
func Args(L *lua.LState, start int) ([]value.Value, error) {
	top := L.GetTop()
	if top < start {
		return nil, nil
	}
	out := make([]value.Value, 0, top-start+1)
	for i := start; i <= top; i++ {
		v, err := ToValue(L.Get(i))
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// StringMap reads a table of string fields, ignoring non-string values.
func StringMap(t *lua.LTable) map[string]string {
	if t == nil {
		return nil
	}
	out := make(map[string]string)
	t.ForEach(func(k, v lua.LValue) {
		ks, ok := k.(lua.LString)
		if !ok {
			return
		}
		switch vv := v.(type) {
		case lua.LString:
			out[string(ks)] = string(vv)
		case lua.LNumber, lua.LBool:
			out[string(ks)] = vv.String()
		}
	})
	return out
}

// StringList reads an array table of strings.
func StringList(t *lua.LTable) []string {
	if t == nil {
		return nil
	}
	out := make([]string, 0, t.Len())
	for i := 1; i <= t.Len(); i++ {
		out = append(out, lua.LVAsString(t.RawGetInt(i)))
	}
	return out
}

package api

import (
	"context"
	"errors"

	lua "github.com/yuin/gopher-lua"

	plua "github.com/dshills/blockhost/internal/plugin/lua"
	"github.com/dshills/blockhost/internal/plugin/security"
	"github.com/dshills/blockhost/internal/plugin/value"
)

// callContext returns the context attached to the running call.
func callContext(L *lua.LState) context.Context {
	if ctx := L.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// fail pushes nil and the error message, the convention for recoverable
// failures.
func fail(L *lua.LState, err error) int {
	L.Push(lua.LNil)
	L.Push(lua.LString(err.Error()))
	return 2
}

// failOrRaise raises validation and permission errors and returns the
// rest as nil, message.
func failOrRaise(L *lua.LState, err error) int {
	if errors.Is(err, security.ErrValidation) || errors.Is(err, security.ErrPermissionDenied) {
		L.RaiseError("%s", err.Error())
		return 0
	}
	return fail(L, err)
}

// pushValue pushes v and returns 1.
func pushValue(L *lua.LState, v value.Value) int {
	plua.PushValue(L, v)
	return 1
}

// optTable returns argument n as a table, or nil when absent.
func optTable(L *lua.LState, n int) *lua.LTable {
	if L.GetTop() < n || L.Get(n) == lua.LNil {
		return nil
	}
	return L.CheckTable(n)
}

// setFuncs registers fns on t.
func setFuncs(L *lua.LState, t *lua.LTable, fns map[string]lua.LGFunction) {
	for name, fn := range fns {
		t.RawSetString(name, L.NewFunction(fn))
	}
}

// stringField reads a string field, returning def when absent.
func stringField(t *lua.LTable, key, def string) string {
	if t == nil {
		return def
	}
	if s, ok := t.RawGetString(key).(lua.LString); ok {
		return string(s)
	}
	return def
}

// numberField reads a numeric field, returning def when absent.
func numberField(t *lua.LTable, key string, def float64) float64 {
	if t == nil {
		return def
	}
	if n, ok := t.RawGetString(key).(lua.LNumber); ok {
		return float64(n)
	}
	return def
}

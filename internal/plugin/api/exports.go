package api

import (
	"context"
	"errors"
	"sync"

	lua "github.com/yuin/gopher-lua"

	plua "github.com/dshills/blockhost/internal/plugin/lua"
	"github.com/dshills/blockhost/internal/plugin/security"
	"github.com/dshills/blockhost/internal/plugin/value"
)

var errNotFound = errors.New("not found")

// ExportsModule implements the api namespace through which plugins publish
// functions to each other.
type ExportsModule struct {
	ctx *Context
	env *Env

	mu    sync.Mutex
	local map[string]*lua.LFunction
}

// NewExportsModule creates the api module for env.
func NewExportsModule(ctx *Context, env *Env) *ExportsModule {
	return &ExportsModule{ctx: ctx, env: env, local: make(map[string]*lua.LFunction)}
}

// Name returns the module name.
func (m *ExportsModule) Name() string { return "api" }

// Permissions returns the permissions that unlock the module.
func (m *ExportsModule) Permissions() []security.Permission {
	return []security.Permission{security.PermAPI}
}

// Register builds the module table.
func (m *ExportsModule) Register(L *lua.LState) (lua.LValue, error) {
	mod := L.NewTable()
	setFuncs(L, mod, map[string]lua.LGFunction{
		"register":   m.register,
		"unregister": m.unregister,
		"call":       m.call,
		"has":        m.has,
		"list":       m.list,
	})
	return mod, nil
}

// Cleanup withdraws every function the plugin published.
func (m *ExportsModule) Cleanup() {
	m.ctx.Exports.RemoveOwner(m.env.PluginID)
	m.mu.Lock()
	m.local = make(map[string]*lua.LFunction)
	m.mu.Unlock()
}

// export runs a published function on the owner's state.
type export struct {
	state *plua.State
	fn    *lua.LFunction
}

func (e export) Call(ctx context.Context, args []value.Value) (value.Value, error) {
	return e.state.Call(ctx, e.fn, args)
}

// register(name, fn) -> true
func (m *ExportsModule) register(L *lua.LState) int {
	name := L.CheckString(1)
	fn := L.CheckFunction(2)
	if m.env.State == nil {
		L.RaiseError("api.register: plugin state is not available")
		return 0
	}
	if err := m.ctx.Exports.Register(m.env.PluginID, name, export{state: m.env.State, fn: fn}); err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}
	m.mu.Lock()
	m.local[name] = fn
	m.mu.Unlock()
	L.Push(lua.LTrue)
	return 1
}

// unregister(name) -> bool
func (m *ExportsModule) unregister(L *lua.LState) int {
	name := L.CheckString(1)
	m.mu.Lock()
	delete(m.local, name)
	m.mu.Unlock()
	L.Push(lua.LBool(m.ctx.Exports.Unregister(m.env.PluginID, name)))
	return 1
}

// call(pluginId, name, ...) -> result | nil, err
func (m *ExportsModule) call(L *lua.LState) int {
	owner := L.CheckString(1)
	name := L.CheckString(2)
	args, err := plua.Args(L, 3)
	if err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}

	// A plugin calling itself is already on its own goroutine.
	if owner == m.env.PluginID {
		m.mu.Lock()
		fn, ok := m.local[name]
		m.mu.Unlock()
		if !ok {
			return fail(L, errNotFound)
		}
		v, err := plua.CallFunction(L, fn, args)
		if err != nil {
			return fail(L, err)
		}
		return pushValue(L, v)
	}

	ctx, cancel := context.WithTimeout(callContext(L), m.ctx.Limits.APICallTimeout)
	defer cancel()
	v, found, err := m.ctx.Exports.Call(ctx, owner, name, args)
	if !found {
		return fail(L, errNotFound)
	}
	if err != nil {
		return fail(L, err)
	}
	return pushValue(L, v)
}

// has(pluginId, name) -> bool
func (m *ExportsModule) has(L *lua.LState) int {
	_, ok := m.ctx.Exports.Lookup(L.CheckString(1), L.CheckString(2))
	L.Push(lua.LBool(ok))
	return 1
}

// list(pluginId?) -> {names}
func (m *ExportsModule) list(L *lua.LState) int {
	owner := L.OptString(1, m.env.PluginID)
	return pushLines(L, m.ctx.Exports.Names(owner))
}

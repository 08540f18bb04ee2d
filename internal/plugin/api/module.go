package api

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/blockhost/internal/plugin/security"
)

// Module is one capability namespace exposed to scripts as a global table.
type Module interface {
	// Name returns the global the module is installed under.
	Name() string

	// Permissions returns the permissions that unlock the module. Any one of
	// them is enough. An empty list means the module is always installed.
	Permissions() []security.Permission

	// Register builds the module table. It runs on the state's goroutine.
	Register(L *lua.LState) (lua.LValue, error)
}

// Cleaner is implemented by modules holding resources that must be released
// when the runtime stops.
type Cleaner interface {
	Cleanup()
}

// Factory creates a module bound to one plugin.
type Factory func(ctx *Context, env *Env) Module

// DefaultModules returns the factories for every built-in namespace.
func DefaultModules() []Factory {
	return []Factory{
		func(c *Context, e *Env) Module { return NewLogModule(c, e) },
		func(c *Context, e *Env) Module { return NewFSModule(c, e) },
		func(c *Context, e *Env) Module { return NewHTTPModule(c, e) },
		func(c *Context, e *Env) Module { return NewStorageModule(c, e) },
		func(c *Context, e *Env) Module { return NewServerModule(c, e) },
		func(c *Context, e *Env) Module { return NewConsoleModule(c, e) },
		func(c *Context, e *Env) Module { return NewSystemModule(c, e) },
		func(c *Context, e *Env) Module { return NewExportsModule(c, e) },
		func(c *Context, e *Env) Module { return NewUIModule(c, e) },
		func(c *Context, e *Env) Module { return NewElementModule(c, e) },
		func(c *Context, e *Env) Module { return NewProcessModule(c, e) },
		func(c *Context, e *Env) Module { return NewI18nModule(c, e) },
		func(c *Context, e *Env) Module { return NewPluginModule(c, e) },
	}
}

// Builder installs capability namespaces into plugin states.
type Builder struct {
	ctx       *Context
	factories []Factory
}

// NewBuilder creates a builder. With no factories the default set is used.
func NewBuilder(ctx *Context, factories ...Factory) *Builder {
	if len(factories) == 0 {
		factories = DefaultModules()
	}
	return &Builder{ctx: ctx, factories: factories}
}

// Context returns the shared host context.
func (b *Builder) Context() *Context {
	return b.ctx
}

// Namespace is the set of modules installed into one state.
type Namespace struct {
	modules map[string]Module
	denied  []string
	order   []string
}

// Install creates every module for env and sets it as a global on L, or a
// denied stub when the plugin lacks the permission. It must run on L's
// goroutine. require("host") returns a table of all installed globals.
func (b *Builder) Install(L *lua.LState, env *Env) (*Namespace, error) {
	ns := &Namespace{modules: make(map[string]Module)}
	host := L.NewTable()

	for _, factory := range b.factories {
		mod := factory(b.ctx, env)
		name := mod.Name()

		if perm, ok := missing(env.Checker, mod.Permissions()); !ok {
			err := &security.PermissionError{PluginID: env.PluginID, Permission: perm}
			stub := deniedStub(L, err.Error())
			L.SetGlobal(name, stub)
			host.RawSetString(name, stub)
			ns.denied = append(ns.denied, name)
			continue
		}

		lv, err := mod.Register(L)
		if err != nil {
			ns.Cleanup()
			return nil, fmt.Errorf("register %s: %w", name, err)
		}
		L.SetGlobal(name, lv)
		host.RawSetString(name, lv)
		ns.modules[name] = mod
		ns.order = append(ns.order, name)
	}

	if env.State != nil {
		env.State.Sandbox().Preload("host", func(L *lua.LState) int {
			L.Push(host)
			return 1
		})
	}
	return ns, nil
}

// missing returns the first permission of perms when none of them is
// granted.
func missing(checker *security.PermissionChecker, perms []security.Permission) (security.Permission, bool) {
	if len(perms) == 0 {
		return "", true
	}
	for _, p := range perms {
		if checker != nil && checker.Has(p) {
			return "", true
		}
	}
	return perms[0], false
}

// deniedStub returns a table that raises msg on any field access, assignment
// or call.
func deniedStub(L *lua.LState, msg string) *lua.LTable {
	raise := L.NewFunction(func(L *lua.LState) int {
		L.RaiseError("%s", msg)
		return 0
	})
	stub := L.NewTable()
	meta := L.NewTable()
	meta.RawSetString("__index", raise)
	meta.RawSetString("__newindex", raise)
	meta.RawSetString("__call", raise)
	meta.RawSetString("__metatable", lua.LString("denied"))
	L.SetMetatable(stub, meta)
	return stub
}

// Module returns an installed module by global name.
func (ns *Namespace) Module(name string) (Module, bool) {
	m, ok := ns.modules[name]
	return m, ok
}

// Installed returns installed globals in install order.
func (ns *Namespace) Installed() []string {
	return append([]string(nil), ns.order...)
}

// Denied returns the globals replaced by stubs.
func (ns *Namespace) Denied() []string {
	return append([]string(nil), ns.denied...)
}

// UI returns the ui module when installed.
func (ns *Namespace) UI() (*UIModule, bool) {
	m, ok := ns.modules["ui"].(*UIModule)
	return m, ok
}

// Cleanup releases module resources in reverse install order.
func (ns *Namespace) Cleanup() {
	for i := len(ns.order) - 1; i >= 0; i-- {
		if c, ok := ns.modules[ns.order[i]].(Cleaner); ok {
			c.Cleanup()
		}
	}
}

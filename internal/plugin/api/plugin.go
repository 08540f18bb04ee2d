package api

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/blockhost/internal/plugin/security"
	"github.com/dshills/blockhost/internal/plugin/value"
)

// PluginModule implements the plugin namespace describing the running plugin.
type PluginModule struct {
	env *Env
}

// NewPluginModule creates the plugin module for env.
func NewPluginModule(_ *Context, env *Env) *PluginModule {
	return &PluginModule{env: env}
}

// Name returns the module name.
func (m *PluginModule) Name() string { return "plugin" }

// Permissions returns nil; plugin is always available.
func (m *PluginModule) Permissions() []security.Permission { return nil }

// Register builds the module table.
func (m *PluginModule) Register(L *lua.LState) (lua.LValue, error) {
	mod := L.NewTable()
	constant := func(s string) lua.LGFunction {
		return func(L *lua.LState) int {
			L.Push(lua.LString(s))
			return 1
		}
	}
	setFuncs(L, mod, map[string]lua.LGFunction{
		"id":       constant(m.env.PluginID),
		"name":     constant(m.env.Name),
		"version":  constant(m.env.Version),
		"settings": m.settings,
	})
	return mod, nil
}

func (m *PluginModule) settings(L *lua.LState) int {
	if m.env.Settings == nil {
		return pushValue(L, value.MapOf(nil))
	}
	return pushValue(L, m.env.Settings())
}

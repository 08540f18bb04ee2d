package api

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/blockhost/internal/plugin/security"
	"github.com/dshills/blockhost/internal/plugin/value"
	"github.com/dshills/blockhost/internal/uievent"
)

// ElementModule implements the element namespace. Reads are round trips to
// the observer correlated by request id; writes are live events.
type ElementModule struct {
	ctx *Context
	env *Env
}

// NewElementModule creates the element module for env.
func NewElementModule(ctx *Context, env *Env) *ElementModule {
	return &ElementModule{ctx: ctx, env: env}
}

// Name returns the module name.
func (m *ElementModule) Name() string { return "element" }

// Permissions returns the permissions that unlock the module.
func (m *ElementModule) Permissions() []security.Permission {
	return []security.Permission{security.PermElement}
}

// Register builds the module table.
func (m *ElementModule) Register(L *lua.LState) (lua.LValue, error) {
	mod := L.NewTable()
	setFuncs(L, mod, map[string]lua.LGFunction{
		"get_value":     m.getValue,
		"get_attribute": m.getAttribute,
		"set_value":     m.setValue,
		"set_attribute": m.setAttribute,
		"set_style":     m.setStyle,
		"click":         m.click,
	})
	return mod, nil
}

// read asks the observer for a property of selector and waits for the
// answer. Timeouts and a missing observer yield nil.
func (m *ElementModule) read(L *lua.LState, selector string, fields map[string]value.Value) int {
	v, ok := m.ctx.Broker.Request(callContext(L), m.ctx.Limits.ElementReadTimeout, func(id string) bool {
		data := make(map[string]value.Value, len(fields)+1)
		for k, f := range fields {
			data[k] = f
		}
		data["request_id"] = value.StringOf(id)
		return m.ctx.Bus.EmitLive(uievent.Event{
			PluginID:  m.env.PluginID,
			ElementID: selector,
			Kind:      uievent.KindElement,
			Action:    uievent.ActionRead,
			Data:      value.MapOf(data),
		})
	})
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	return pushValue(L, v)
}

func (m *ElementModule) write(selector string, fields map[string]value.Value) bool {
	return m.ctx.Bus.EmitLive(uievent.Event{
		PluginID:  m.env.PluginID,
		ElementID: selector,
		Kind:      uievent.KindElement,
		Action:    uievent.ActionWrite,
		Data:      value.MapOf(fields),
	})
}

// get_value(selector) -> string | nil
func (m *ElementModule) getValue(L *lua.LState) int {
	return m.read(L, L.CheckString(1), map[string]value.Value{
		"property": value.StringOf("value"),
	})
}

// get_attribute(selector, name) -> string | nil
func (m *ElementModule) getAttribute(L *lua.LState) int {
	sel := L.CheckString(1)
	return m.read(L, sel, map[string]value.Value{
		"property":  value.StringOf("attribute"),
		"attribute": value.StringOf(L.CheckString(2)),
	})
}

// set_value(selector, value) -> delivered
func (m *ElementModule) setValue(L *lua.LState) int {
	sel := L.CheckString(1)
	ok := m.write(sel, map[string]value.Value{
		"property": value.StringOf("value"),
		"value":    value.StringOf(L.ToStringMeta(L.Get(2)).String()),
	})
	L.Push(lua.LBool(ok))
	return 1
}

// set_attribute(selector, name, value) -> delivered
func (m *ElementModule) setAttribute(L *lua.LState) int {
	sel := L.CheckString(1)
	name := L.CheckString(2)
	ok := m.write(sel, map[string]value.Value{
		"property":  value.StringOf("attribute"),
		"attribute": value.StringOf(name),
		"value":     value.StringOf(L.ToStringMeta(L.Get(3)).String()),
	})
	L.Push(lua.LBool(ok))
	return 1
}

// set_style(selector, property, value) -> delivered
func (m *ElementModule) setStyle(L *lua.LState) int {
	sel := L.CheckString(1)
	prop := L.CheckString(2)
	ok := m.write(sel, map[string]value.Value{
		"property": value.StringOf("style"),
		"style":    value.StringOf(prop),
		"value":    value.StringOf(L.ToStringMeta(L.Get(3)).String()),
	})
	L.Push(lua.LBool(ok))
	return 1
}

// click(selector) -> delivered
func (m *ElementModule) click(L *lua.LState) int {
	ok := m.write(L.CheckString(1), map[string]value.Value{
		"property": value.StringOf("click"),
	})
	L.Push(lua.LBool(ok))
	return 1
}

package api

import (
	"context"
	"sync"

	lua "github.com/yuin/gopher-lua"

	plua "github.com/dshills/blockhost/internal/plugin/lua"
	"github.com/dshills/blockhost/internal/plugin/security"
	"github.com/dshills/blockhost/internal/plugin/value"
	"github.com/dshills/blockhost/internal/uievent"
)

// UIModule implements the ui namespace. Mutations are emitted on the bus;
// context menu handlers stay in the plugin state until the observer fires
// them through Invoke.
type UIModule struct {
	ctx *Context
	env *Env

	mu       sync.Mutex
	handlers map[string]*lua.LFunction
}

// NewUIModule creates the ui module for env.
func NewUIModule(ctx *Context, env *Env) *UIModule {
	return &UIModule{ctx: ctx, env: env, handlers: make(map[string]*lua.LFunction)}
}

// Name returns the module name.
func (m *UIModule) Name() string { return "ui" }

// Permissions returns the permissions that unlock the module.
func (m *UIModule) Permissions() []security.Permission {
	return []security.Permission{security.PermUI}
}

// Register builds the module table.
func (m *UIModule) Register(L *lua.LState) (lua.LValue, error) {
	mod := L.NewTable()
	setFuncs(L, mod, map[string]lua.LGFunction{
		"inject_html": m.injectHTML,
		"inject_css":  m.injectCSS,
		"remove":      m.remove,
		"remove_all":  m.removeAll,
		"notify":      m.notify,
	})

	sidebar := L.NewTable()
	setFuncs(L, sidebar, map[string]lua.LGFunction{
		"set":    m.mutate(uievent.KindSidebar, uievent.ActionSet),
		"update": m.mutate(uievent.KindSidebar, uievent.ActionUpdate),
		"remove": m.drop(uievent.KindSidebar, uievent.ActionRemove),
	})
	mod.RawSetString("sidebar", sidebar)

	menu := L.NewTable()
	setFuncs(L, menu, map[string]lua.LGFunction{
		"register":   m.registerMenu,
		"unregister": m.unregisterMenu,
	})
	mod.RawSetString("context_menu", menu)

	component := L.NewTable()
	setFuncs(L, component, map[string]lua.LGFunction{
		"create": m.mutate(uievent.KindComponent, uievent.ActionCreate),
		"update": m.mutate(uievent.KindComponent, uievent.ActionUpdate),
		"remove": m.drop(uievent.KindComponent, uievent.ActionRemove),
	})
	mod.RawSetString("component", component)
	return mod, nil
}

// Cleanup forgets menu handlers and prunes the plugin's buffered UI state.
func (m *UIModule) Cleanup() {
	m.mu.Lock()
	m.handlers = make(map[string]*lua.LFunction)
	m.mu.Unlock()
	m.ctx.Bus.ClearPlugin(m.env.PluginID)
}

func (m *UIModule) emit(kind uievent.Kind, action uievent.Action, id string, data value.Value) {
	m.ctx.Bus.Emit(uievent.Event{
		PluginID:  m.env.PluginID,
		ElementID: id,
		Kind:      kind,
		Action:    action,
		Data:      data,
	})
}

// injectHTML(id, html, opts?)
func (m *UIModule) injectHTML(L *lua.LState) int {
	id := L.CheckString(1)
	fields := map[string]value.Value{"html": value.StringOf(L.CheckString(2))}
	if opts := optTable(L, 3); opts != nil {
		if target := stringField(opts, "target", ""); target != "" {
			fields["target"] = value.StringOf(target)
		}
		if pos := stringField(opts, "position", ""); pos != "" {
			fields["position"] = value.StringOf(pos)
		}
	}
	m.emit(uievent.KindHTML, uievent.ActionInject, id, value.MapOf(fields))
	return 0
}

// injectCSS(id, css)
func (m *UIModule) injectCSS(L *lua.LState) int {
	id := L.CheckString(1)
	m.emit(uievent.KindCSS, uievent.ActionInject, id, value.MapOf(map[string]value.Value{
		"css": value.StringOf(L.CheckString(2)),
	}))
	return 0
}

// remove(id) drops injected html and css with that id.
func (m *UIModule) remove(L *lua.LState) int {
	id := L.CheckString(1)
	m.emit(uievent.KindHTML, uievent.ActionRemove, id, value.Nil)
	m.emit(uievent.KindCSS, uievent.ActionRemove, id, value.Nil)
	return 0
}

// removeAll() drops everything the plugin put on the page.
func (m *UIModule) removeAll(L *lua.LState) int {
	m.emit(uievent.KindPlugin, uievent.ActionRemoveAll, "", value.Nil)
	return 0
}

// notify(message, opts?) shows a transient notification.
func (m *UIModule) notify(L *lua.LState) int {
	fields := map[string]value.Value{
		"message": value.StringOf(L.CheckString(1)),
		"level":   value.StringOf("info"),
	}
	if opts := optTable(L, 2); opts != nil {
		fields["level"] = value.StringOf(stringField(opts, "level", "info"))
		if title := stringField(opts, "title", ""); title != "" {
			fields["title"] = value.StringOf(title)
		}
		if d := numberField(opts, "duration", 0); d > 0 {
			fields["duration"] = value.FloatOf(d)
		}
	}
	m.ctx.Bus.EmitLive(uievent.Event{
		PluginID: m.env.PluginID,
		Kind:     uievent.KindNotification,
		Action:   uievent.ActionShow,
		Data:     value.MapOf(fields),
	})
	return 0
}

// mutate returns a function (id, data) emitting kind/action.
func (m *UIModule) mutate(kind uievent.Kind, action uievent.Action) lua.LGFunction {
	return func(L *lua.LState) int {
		id := L.CheckString(1)
		data := plua.CheckValue(L, 2)
		m.emit(kind, action, id, data)
		return 0
	}
}

// drop returns a function (id) emitting a deletion.
func (m *UIModule) drop(kind uievent.Kind, action uievent.Action) lua.LGFunction {
	return func(L *lua.LState) int {
		m.emit(kind, action, L.CheckString(1), value.Nil)
		return 0
	}
}

// registerMenu(id, item, handler?)
func (m *UIModule) registerMenu(L *lua.LState) int {
	id := L.CheckString(1)
	item := plua.CheckValue(L, 2)
	if fn, ok := L.Get(3).(*lua.LFunction); ok {
		m.mu.Lock()
		m.handlers[id] = fn
		m.mu.Unlock()
	}
	m.emit(uievent.KindContextMenu, uievent.ActionCreate, id, item)
	return 0
}

// unregisterMenu(id)
func (m *UIModule) unregisterMenu(L *lua.LState) int {
	id := L.CheckString(1)
	m.mu.Lock()
	delete(m.handlers, id)
	m.mu.Unlock()
	m.emit(uievent.KindContextMenu, uievent.ActionUnregister, id, value.Nil)
	return 0
}

// Invoke runs the handler of context menu item id with payload. The second
// result is false when no handler is registered.
func (m *UIModule) Invoke(ctx context.Context, id string, payload value.Value) (value.Value, bool, error) {
	m.mu.Lock()
	fn, ok := m.handlers[id]
	m.mu.Unlock()
	if !ok || m.env.State == nil {
		return value.Nil, false, nil
	}
	v, err := m.env.State.Call(ctx, fn, []value.Value{payload})
	return v, true, err
}

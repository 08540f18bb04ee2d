package api

import (
	"strings"

	lua "github.com/yuin/gopher-lua"

	plua "github.com/dshills/blockhost/internal/plugin/lua"
	"github.com/dshills/blockhost/internal/plugin/security"
)

const defaultLocale = "en"

// I18nModule implements the i18n namespace. Translations are scoped to the
// registering plugin.
type I18nModule struct {
	ctx *Context
	env *Env
}

// NewI18nModule creates the i18n module for env.
func NewI18nModule(ctx *Context, env *Env) *I18nModule {
	return &I18nModule{ctx: ctx, env: env}
}

// Name returns the module name.
func (m *I18nModule) Name() string { return "i18n" }

// Permissions returns nil; i18n is always available.
func (m *I18nModule) Permissions() []security.Permission { return nil }

// Register builds the module table.
func (m *I18nModule) Register(L *lua.LState) (lua.LValue, error) {
	mod := L.NewTable()
	setFuncs(L, mod, map[string]lua.LGFunction{
		"locale":   m.locale,
		"register": m.register,
		"t":        m.translate,
	})
	return mod, nil
}

// Cleanup drops the plugin's translations.
func (m *I18nModule) Cleanup() {
	if m.ctx.Locale != nil {
		m.ctx.Locale.UnregisterTranslations(m.env.PluginID)
	}
}

func (m *I18nModule) locale(L *lua.LState) int {
	loc := defaultLocale
	if m.ctx.Locale != nil {
		loc = m.ctx.Locale.Locale()
	}
	L.Push(lua.LString(loc))
	return 1
}

// register(locale, table) flattens nested tables into dotted keys.
func (m *I18nModule) register(L *lua.LState) int {
	loc := L.CheckString(1)
	t := L.CheckTable(2)
	if m.ctx.Locale == nil {
		L.Push(lua.LFalse)
		return 1
	}
	entries := make(map[string]string)
	flatten(t, "", entries, 0)
	if err := m.ctx.Locale.RegisterTranslations(m.env.PluginID, loc, entries); err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}
	L.Push(lua.LTrue)
	return 1
}

// t(key, vars?) -> translated string, or key when missing.
func (m *I18nModule) translate(L *lua.LState) int {
	key := L.CheckString(1)
	var vars map[string]string
	if t := optTable(L, 2); t != nil {
		vars = plua.StringMap(t)
	}
	if m.ctx.Locale == nil {
		L.Push(lua.LString(key))
		return 1
	}
	L.Push(lua.LString(m.ctx.Locale.Translate(m.env.PluginID, key, vars)))
	return 1
}

func flatten(t *lua.LTable, prefix string, out map[string]string, depth int) {
	if depth > 16 {
		return
	}
	t.ForEach(func(k, v lua.LValue) {
		key := k.String()
		if prefix != "" {
			key = prefix + "." + key
		}
		switch vv := v.(type) {
		case *lua.LTable:
			flatten(vv, key, out, depth+1)
		case lua.LString, lua.LNumber, lua.LBool:
			out[key] = strings.TrimSpace(vv.String())
		}
	})
}

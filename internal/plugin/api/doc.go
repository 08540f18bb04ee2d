// Package api provides the capability namespaces exposed to plugin scripts.
//
// Each namespace is a Lua global (log, fs, http, storage, server, console,
// system, api, ui, element, process, i18n, plugin) and is also reachable as
// a field of require("host"). A namespace is installed only when the plugin
// holds one of its permissions; otherwise the global is a stub table whose
// every access raises
//
//	permission "<tag>" not granted to plugin "<id>"
//
// # Architecture
//
// Each namespace implements the Module interface:
//
//	type Module interface {
//	    Name() string
//	    Permissions() []security.Permission
//	    Register(L *lua.LState) (lua.LValue, error)
//	}
//
// Modules are created per plugin by a Builder from the shared host Context
// (event bus, export registry, network guard, server and locale providers)
// and the plugin's Env (identity, directories, permission checker, state).
// Modules holding per-plugin resources implement Cleaner and are released by
// Namespace.Cleanup when the plugin stops.
//
// # Conventions
//
// Invalid arguments and path violations raise script errors. Failures the
// script can reasonably handle (I/O, blocked or failed requests, quotas)
// return nil followed by a message.
//
// # Usage
//
//	b := api.NewBuilder(api.NewContext(api.Context{Bus: bus, Servers: servers}))
//	err := state.Do(ctx, func(L *lua.LState) error {
//	    ns, err = b.Install(L, env)
//	    return err
//	})
package api

// Package plugin provides the plugin host for blockhost.
//
// Plugins are directories holding a plugin.json manifest and a Lua entry
// script. Each enabled plugin runs in its own sandboxed Lua state and reaches
// the host only through capability namespaces granted by the permissions its
// manifest requests (see package api).
//
// # Quick Start
//
// The easiest way to use the plugin system is through the System type:
//
//	sys := plugin.NewSystem(plugin.SystemConfig{
//	    PluginsDir: "/var/lib/blockhost/plugins",
//	    DataDir:    "/var/lib/blockhost/plugin-data",
//	    Store:      plugin.NewFileStore("/var/lib/blockhost/enabled.json"),
//	    Log:        logger,
//	    Servers:    servers,
//	})
//	defer sys.Shutdown(context.Background())
//
//	// Discover plugins and re-enable the ones enabled last time
//	enabled, err := sys.Start(ctx)
//
// # Plugin Structure
//
//	plugins/
//	└── demo/
//	    ├── plugin.json      # Manifest
//	    ├── main.lua         # Entry point named by "entry"
//	    └── lang/            # Staged into the data dir via "include"
//
// # Manifest
//
//	{
//	  "id": "demo",
//	  "name": "Demo",
//	  "version": "1.2.0",
//	  "description": "Shows a sidebar",
//	  "author": {"name": "Alex"},
//	  "entry": "main.lua",
//	  "permissions": ["storage", "ui"],
//	  "dependencies": [{"id": "core-lib", "version": ">=1.0.0"}],
//	  "optionalDependencies": {"maps": "^2.0"}
//	}
//
// Dependencies may be an array of {id, version} objects or a map of id to
// requirement. Requirements use =, !=, >, >=, <, <=, ^ and ~, may be joined
// with commas, and "*" or "" accepts any version.
//
// # Lifecycle
//
// Scan discovers plugins (state Loaded, or Error for invalid manifests).
// Enable requires every dependency to be enabled already, then loads the
// entry script and calls onLoad and onEnable. Disable first disables every
// enabled plugin that requires the target, then calls onDisable and
// onUnload and releases processes, exports and UI state. Hooks are optional;
// each call is bounded by the hook timeout.
//
// Other hooks: onServerReady(serverId), onPageChanged(path),
// onLocaleChanged(locale) and onSettingsChanged(settings).
//
// # Thread Safety
//
// Registry and System are safe for concurrent use. Lifecycle operations are
// serialized; script code for one plugin always runs on that plugin's
// executor goroutine.
package plugin

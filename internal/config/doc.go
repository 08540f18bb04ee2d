// Package config loads the host configuration.
//
// Settings are resolved in three layers, later layers overriding earlier:
//
//  1. Built-in defaults (see Default)
//  2. The TOML file, blockhost.toml in the user config directory unless
//     another path is given. A file may pull in others with "@include".
//  3. BLOCKHOST_* environment variables, e.g. BLOCKHOST_LIMITS_HOOK_TIMEOUT
//     for limits.hookTimeout.
//
// Durations are Go duration strings ("750ms", "2m"). Sizes are either byte
// counts or human sizes ("16MiB", "5MB").
//
// Example file:
//
//	locale = "en"
//
//	[paths]
//	plugins = "~/blockhost/plugins"
//
//	[store]
//	backend = "sqlite"
//
//	[limits]
//	hookTimeout = "5s"
//	httpMaxBodySize = "2MiB"
//
//	[commands]
//	deny = ["stop", "op"]
package config

// Package security provides the guards that sit between plugin scripts and
// host resources.
//
// # Permissions
//
// Plugins request permission tags in their manifest. Tags are validated
// against a fixed registry; aliases ("http", legacy "fs") normalize to their
// canonical form. A PermissionChecker answers whether a runtime holds a tag
// and produces a PermissionError naming the plugin and the tag when not.
//
// # Paths
//
// A Scope confines relative paths to one root directory. Absolute paths and
// any ".." segment are rejected outright. The joined path is then checked
// again after symlink resolution of its nearest existing ancestor, so the
// check also holds for files that do not exist yet.
//
// # Network
//
// NetGuard rejects any URL that is not http or https, names localhost, or
// points (literally or after DNS resolution) at a loopback, private,
// link-local, unspecified or multicast address. Its DialContext repeats the
// address check at connect time.
//
// # Commands
//
// CommandPolicy sanitizes console commands and applies the host's
// allow and deny lists.
package security

package security

import "sort"

// PermissionChecker answers permission questions for one plugin. It is
// immutable after construction.
type PermissionChecker struct {
	pluginID string
	granted  map[Permission]bool
}

// NewPermissionChecker creates a checker granting perms to pluginID.
func NewPermissionChecker(pluginID string, perms []Permission) *PermissionChecker {
	granted := make(map[Permission]bool, len(perms))
	for _, p := range perms {
		granted[p] = true
	}
	return &PermissionChecker{pluginID: pluginID, granted: granted}
}

// PluginID returns the plugin this checker belongs to.
func (pc *PermissionChecker) PluginID() string {
	return pc.pluginID
}

// Has reports whether p is granted.
func (pc *PermissionChecker) Has(p Permission) bool {
	return pc.granted[p]
}

// Check returns a PermissionError when p is not granted.
func (pc *PermissionChecker) Check(p Permission, operation string) error {
	if pc.granted[p] {
		return nil
	}
	return &PermissionError{PluginID: pc.pluginID, Permission: p, Operation: operation}
}

// Granted returns the granted permissions in sorted order.
func (pc *PermissionChecker) Granted() []Permission {
	out := make([]Permission, 0, len(pc.granted))
	for p := range pc.granted {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

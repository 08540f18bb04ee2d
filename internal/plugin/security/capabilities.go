package security

import (
	"sort"
	"strings"
)

// Permission is a capability tag a plugin requests in its manifest.
type Permission string

// Known permissions.
const (
	PermLog                Permission = "log"
	PermFSData             Permission = "fs.data"
	PermFSServer           Permission = "fs.server"
	PermFSGlobal           Permission = "fs.global"
	PermNetwork            Permission = "network"
	PermStorage            Permission = "storage"
	PermUI                 Permission = "ui"
	PermElement            Permission = "element"
	PermServer             Permission = "server"
	PermConsole            Permission = "console"
	PermSystem             Permission = "system"
	PermAPI                Permission = "api"
	PermExecuteProgram     Permission = "execute_program"
	PermPluginFolderAccess Permission = "plugin_folder_access"
)

// aliases maps accepted spellings to canonical permissions.
var aliases = map[string]Permission{
	"http": PermNetwork,
	"fs":   PermFSData,
}

// RiskLevel indicates how much host access a permission grants.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
	RiskCritical
)

// String returns a string representation of the risk level.
func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	case RiskCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// PermissionInfo describes a permission for display and review.
type PermissionInfo struct {
	Name        Permission
	DisplayName string
	Description string
	RiskLevel   RiskLevel
}

var permissionRegistry = map[Permission]PermissionInfo{
	PermLog:                {PermLog, "Logging", "Write to the host log", RiskLow},
	PermFSData:             {PermFSData, "Plugin Data", "Read and write files in the plugin's data directory", RiskLow},
	PermFSServer:           {PermFSServer, "Server Files", "Read and write files in the shared server directory", RiskHigh},
	PermFSGlobal:           {PermFSGlobal, "Application Files", "Read and write files in the application directory", RiskHigh},
	PermNetwork:            {PermNetwork, "Network", "Make HTTP requests to public hosts", RiskMedium},
	PermStorage:            {PermStorage, "Storage", "Persist key-value data", RiskLow},
	PermUI:                 {PermUI, "User Interface", "Inject elements, styles, sidebar and menu entries", RiskLow},
	PermElement:            {PermElement, "Page Elements", "Read and modify page elements", RiskMedium},
	PermServer:             {PermServer, "Servers", "Inspect managed servers", RiskMedium},
	PermConsole:            {PermConsole, "Console", "Send commands to managed servers", RiskHigh},
	PermSystem:             {PermSystem, "System", "Read host system information", RiskLow},
	PermAPI:                {PermAPI, "Plugin API", "Expose and call functions between plugins", RiskLow},
	PermExecuteProgram:     {PermExecuteProgram, "Execute Programs", "Start child processes", RiskCritical},
	PermPluginFolderAccess: {PermPluginFolderAccess, "Plugin Folder", "Read files shipped with the plugin", RiskLow},
}

// ParsePermission normalizes a manifest tag. ok is false for unknown tags.
func ParsePermission(tag string) (Permission, bool) {
	tag = strings.TrimSpace(tag)
	if p, ok := aliases[tag]; ok {
		return p, true
	}
	p := Permission(tag)
	_, ok := permissionRegistry[p]
	return p, ok
}

// Info returns metadata about a permission.
func Info(p Permission) (PermissionInfo, bool) {
	info, ok := permissionRegistry[p]
	return info, ok
}

// AllPermissions returns every canonical permission in sorted order.
func AllPermissions() []Permission {
	out := make([]Permission, 0, len(permissionRegistry))
	for p := range permissionRegistry {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

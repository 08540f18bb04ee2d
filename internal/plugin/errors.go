package plugin

import (
	"errors"
	"fmt"
	"strings"
)

// Plugin system errors.
var (
	// ErrNotFound is returned when no plugin has the requested id.
	ErrNotFound = errors.New("plugin not found")

	// ErrInvalidManifest is returned when an operation needs a valid manifest.
	ErrInvalidManifest = errors.New("plugin manifest is invalid")

	// ErrEnabled is returned when an operation requires the plugin to be stopped.
	ErrEnabled = errors.New("plugin is enabled")

	// ErrDependency matches every DependencyError.
	ErrDependency = errors.New("plugin dependencies not satisfied")

	// ErrClosed is returned after Shutdown.
	ErrClosed = errors.New("plugin registry is closed")

	// ErrUnsafeArchive is returned for archives that would escape the staging
	// directory or exhaust resources.
	ErrUnsafeArchive = errors.New("unsafe plugin archive")
)

// DependencyIssue describes one unmet dependency.
type DependencyIssue struct {
	ID          string
	Requirement string
	Reason      string
}

func (d DependencyIssue) String() string {
	if d.Requirement != "" {
		return fmt.Sprintf("%s %s (%s)", d.ID, d.Requirement, d.Reason)
	}
	return fmt.Sprintf("%s (%s)", d.ID, d.Reason)
}

// DependencyError lists every required dependency blocking an enable.
type DependencyError struct {
	PluginID string
	Missing  []DependencyIssue
}

func (e *DependencyError) Error() string {
	parts := make([]string, len(e.Missing))
	for i, m := range e.Missing {
		parts[i] = m.String()
	}
	return fmt.Sprintf("plugin %q has unmet dependencies: %s", e.PluginID, strings.Join(parts, ", "))
}

// Is matches ErrDependency.
func (e *DependencyError) Is(target error) bool {
	return target == ErrDependency
}

// PluginError attaches the plugin id and operation to an error.
type PluginError struct {
	PluginID string
	Op       string
	Err      error
}

func (e *PluginError) Error() string {
	return fmt.Sprintf("plugin %q: %s: %v", e.PluginID, e.Op, e.Err)
}

func (e *PluginError) Unwrap() error {
	return e.Err
}

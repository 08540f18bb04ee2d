package security

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is matching.
var (
	ErrValidation       = errors.New("validation failed")
	ErrPermissionDenied = errors.New("permission denied")
	ErrLimitExceeded    = errors.New("resource limit exceeded")
	ErrBlocked          = errors.New("network request blocked")
)

// ValidationError reports bad input rejected before any side effect.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// PermissionError reports use of a capability the plugin was not granted.
type PermissionError struct {
	PluginID   string
	Permission Permission
	Operation  string
}

func (e *PermissionError) Error() string {
	msg := fmt.Sprintf("permission %q not granted to plugin %q", e.Permission, e.PluginID)
	if e.Operation != "" {
		msg += " (" + e.Operation + ")"
	}
	return msg
}

// Is matches ErrPermissionDenied.
func (e *PermissionError) Is(target error) bool {
	return target == ErrPermissionDenied
}

// LimitError reports a quota or size cap being exceeded.
type LimitError struct {
	Resource string
	Limit    int64
	Actual   int64
}

func (e *LimitError) Error() string {
	if e.Actual > 0 {
		return fmt.Sprintf("%s exceeds limit: %d > %d", e.Resource, e.Actual, e.Limit)
	}
	return fmt.Sprintf("%s exceeds limit of %d", e.Resource, e.Limit)
}

// Is matches ErrLimitExceeded.
func (e *LimitError) Is(target error) bool {
	return target == ErrLimitExceeded
}

// BlockedError reports a URL rejected by the network guard.
type BlockedError struct {
	URL    string
	Reason string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("request to %q blocked: %s", e.URL, e.Reason)
}

// Is matches ErrBlocked.
func (e *BlockedError) Is(target error) bool {
	return target == ErrBlocked
}

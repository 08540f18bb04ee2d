package plugin

// State represents the lifecycle state of a discovered plugin.
type State int

// Plugin states.
const (
	// StateLoaded - Manifest is valid and the plugin has never been enabled.
	StateLoaded State = iota

	// StateEnabled - A runtime exists and the plugin is running.
	StateEnabled

	// StateDisabled - The plugin was enabled and has been stopped.
	StateDisabled

	// StateError - The manifest is invalid or enabling failed.
	StateError
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateEnabled:
		return "enabled"
	case StateDisabled:
		return "disabled"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// IsEnabled reports whether the plugin is running.
func (s State) IsEnabled() bool {
	return s == StateEnabled
}

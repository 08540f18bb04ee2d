package lua

import "errors"

// Errors for Lua state operations.
var (
	// ErrStateClosed is returned when operating on a closed state.
	ErrStateClosed = errors.New("lua state is closed")

	// ErrExecutorClosed is returned when submitting work to a closed executor.
	ErrExecutorClosed = errors.New("lua executor is closed")

	// ErrNotConvertible is returned for values that cannot leave the script.
	ErrNotConvertible = errors.New("lua value cannot be converted")
)

// ScriptError wraps a failure raised while running script code.
type ScriptError struct {
	Op  string
	Err error
}

func (e *ScriptError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *ScriptError) Unwrap() error {
	return e.Err
}

package hooks

import (
	"errors"
	"fmt"
)

// Hook system errors.
var (
	// ErrHandlerNotFound is returned when a handler cannot be found by ID.
	ErrHandlerNotFound = errors.New("handler not found")

	// ErrHandlerExists is returned when trying to register a handler with an existing ID.
	ErrHandlerExists = errors.New("handler already registered")

	// ErrEventInvalid is returned when an unknown event is provided.
	ErrEventInvalid = errors.New("invalid hook event")

	// ErrHandlerPanic is returned when a handler panics during execution.
	ErrHandlerPanic = errors.New("handler panic")

	// ErrHookTimeout is returned when a hook exceeds its deadline.
	ErrHookTimeout = errors.New("hook timeout")

	// ErrDenied marks an operation rejected by a hook.
	ErrDenied = errors.New("denied by hook")
)

// ExitError reports a command hook that exited with an unexpected status.
type ExitError struct {
	Command string
	Code    int
	Stderr  string
}

func (e *ExitError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("hook %q exited with code %d: %s", e.Command, e.Code, e.Stderr)
	}
	return fmt.Sprintf("hook %q exited with code %d", e.Command, e.Code)
}

// DenialError wraps a denial reason so it can travel as an error.
type DenialError struct {
	Reason string
}

func (e *DenialError) Error() string {
	return "denied by hook: " + e.Reason
}

// Is reports whether target is ErrDenied.
func (e *DenialError) Is(target error) bool {
	return target == ErrDenied
}

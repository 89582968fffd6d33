package procmgr

import (
	"errors"
	"fmt"
)

var (
	// ErrSpawn indicates the shell could not be started.
	ErrSpawn = errors.New("procmgr: failed to start process")

	// ErrProcessNotFound indicates the id is unknown or its buffers expired.
	ErrProcessNotFound = errors.New("procmgr: process not found")

	// ErrTooManyProcesses indicates the background limit is reached.
	ErrTooManyProcesses = errors.New("procmgr: too many background processes")

	// ErrRegistryClosed indicates the registry no longer accepts processes.
	ErrRegistryClosed = errors.New("procmgr: registry closed")
)

// SpawnError wraps a failure to start a command.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to start %q: %v", e.Command, e.Err)
}

// Is reports whether target is ErrSpawn.
func (e *SpawnError) Is(target error) bool {
	return target == ErrSpawn
}

// Unwrap returns the underlying error.
func (e *SpawnError) Unwrap() error {
	return e.Err
}

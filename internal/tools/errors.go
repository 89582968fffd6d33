package tools

import (
	"errors"
	"fmt"
)

// Sentinel errors for the tools package.
var (
	// ErrToolNotFound is returned when a requested tool is not registered.
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolAlreadyExists is returned when a tool name is already registered.
	ErrToolAlreadyExists = errors.New("tool already exists")

	// ErrInvalidArgs is returned when tool arguments are invalid or malformed.
	ErrInvalidArgs = errors.New("invalid tool arguments")

	// ErrToolPanic is returned when a tool panics during execution.
	ErrToolPanic = errors.New("tool panic")
)

// ToolNotFoundError names the missing tool.
type ToolNotFoundError struct {
	Name string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("tool not found: %s", e.Name)
}

// Is allows errors.Is to match against ErrToolNotFound.
func (e *ToolNotFoundError) Is(target error) bool {
	return target == ErrToolNotFound
}

// ToolAlreadyExistsError names the duplicate tool.
type ToolAlreadyExistsError struct {
	Name string
}

func (e *ToolAlreadyExistsError) Error() string {
	return fmt.Sprintf("tool already exists: %s", e.Name)
}

// Is allows errors.Is to match against ErrToolAlreadyExists.
func (e *ToolAlreadyExistsError) Is(target error) bool {
	return target == ErrToolAlreadyExists
}

// InvalidArgsError provides detailed information about invalid arguments.
type InvalidArgsError struct {
	Tool    string
	Message string
	Cause   error
}

func (e *InvalidArgsError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("invalid arguments for tool %s: %s: %v", e.Tool, e.Message, e.Cause)
	}
	return fmt.Sprintf("invalid arguments for tool %s: %s", e.Tool, e.Message)
}

// Is allows errors.Is to match against ErrInvalidArgs.
func (e *InvalidArgsError) Is(target error) bool {
	return target == ErrInvalidArgs
}

// Unwrap returns the underlying cause.
func (e *InvalidArgsError) Unwrap() error {
	return e.Cause
}

// NewToolNotFoundError creates a ToolNotFoundError for the given tool name.
func NewToolNotFoundError(name string) error {
	return &ToolNotFoundError{Name: name}
}

// NewToolAlreadyExistsError creates a ToolAlreadyExistsError for the given tool name.
func NewToolAlreadyExistsError(name string) error {
	return &ToolAlreadyExistsError{Name: name}
}

// NewInvalidArgsError creates an InvalidArgsError with the given details.
func NewInvalidArgsError(tool, message string, cause error) error {
	return &InvalidArgsError{Tool: tool, Message: message, Cause: cause}
}

package runner

import "errors"

// Runner errors.
var (
	// ErrMaxIterations indicates the loop hit its iteration bound before the
	// model produced a final answer.
	ErrMaxIterations = errors.New("maximum iterations reached")

	// ErrNoProvider indicates no provider is configured.
	ErrNoProvider = errors.New("no provider configured")

	// ErrEmptyResponse indicates the model returned neither text nor tool calls.
	ErrEmptyResponse = errors.New("unexpected response: no tool calls and no content")

	// ErrAgentBusy indicates Run was called while the agent was already running.
	ErrAgentBusy = errors.New("agent is already running")
)

// Package scheduler owns session runs: one active run per session, a FIFO
// of follow-up messages, token accounting and checkpoint resumption.
package scheduler

import (
	"errors"
	"time"

	"agentcore/internal/storage"
)

// Sentinel errors for the scheduler package.
var (
	// ErrSessionNotFound is returned when a session is not found.
	ErrSessionNotFound = errors.New("session not found")

	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("orchestrator closed")

	// ErrNoFactory is returned when no agent factory was configured.
	ErrNoFactory = errors.New("no agent factory configured")
)

// RunState represents the state of a run.
type RunState string

const (
	// RunStateRunning indicates the run is currently being processed.
	RunStateRunning RunState = "running"

	// RunStateCompleted indicates the run finished successfully.
	RunStateCompleted RunState = "completed"

	// RunStateFailed indicates the run failed with an error.
	RunStateFailed RunState = "failed"

	// RunStateCancelled indicates the run was cancelled.
	RunStateCancelled RunState = "cancelled"
)

// Run records one agent run of a session.
type Run struct {
	ID        string   `json:"id"`
	SessionID string   `json:"session_id"`
	State     RunState `json:"state"`

	// Input is the message that started the run, queued messages joined.
	Input string `json:"input"`

	// Output is the final response from the agent.
	Output string `json:"output,omitempty"`

	// Error contains the error message if the run failed.
	Error string `json:"error,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// IsRunning returns true if the run is currently being processed.
func (r *Run) IsRunning() bool {
	return r.State == RunStateRunning
}

// IsCompleted returns true if the run finished (success, failure, or cancelled).
func (r *Run) IsCompleted() bool {
	return r.State == RunStateCompleted || r.State == RunStateFailed || r.State == RunStateCancelled
}

// SessionInfo is a snapshot of one session.
type SessionInfo struct {
	ID         string                `json:"id"`
	Running    bool                  `json:"running"`
	Pending    int                   `json:"pending"`
	Tokens     int64                 `json:"tokens"`
	AgentID    string                `json:"agent_id,omitempty"`
	Checkpoint storage.CheckpointRef `json:"checkpoint"`
	LastRun    *Run                  `json:"last_run,omitempty"`
}

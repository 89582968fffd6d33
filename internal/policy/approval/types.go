// Package approval serializes human approval of sensitive tool calls and
// questions per session.
package approval

import (
	"errors"
	"time"
)

// Kind tells presenters how to render a request.
type Kind string

const (
	KindWrite    Kind = "write"
	KindEdit     Kind = "edit"
	KindShell    Kind = "shell"
	KindGeneric  Kind = "generic"
	KindQuestion Kind = "question"
)

// Decision is the resolution of a request.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// Approved reports whether d allows the call.
func (d Decision) Approved() bool { return d == DecisionApproved }

var (
	// ErrRequestNotFound indicates the request is not pending.
	ErrRequestNotFound = errors.New("approval: request not found")

	// ErrGateClosed indicates the gate no longer accepts requests.
	ErrGateClosed = errors.New("approval: gate closed")
)

// Request is one approval or question request.
type Request struct {
	ID        string     `json:"id"`
	SessionID string     `json:"session_id"`
	Kind      Kind       `json:"kind"`
	ToolName  string     `json:"tool_name,omitempty"`
	Title     string     `json:"title"`
	Details   string     `json:"details,omitempty"`
	Payload   any        `json:"payload,omitempty"`
	Questions []Question `json:"questions,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Question is a single prompt in an ask request. Options may be empty for
// free-form answers.
type Question struct {
	ID      string   `json:"id"`
	Text    string   `json:"text"`
	Options []string `json:"options,omitempty"`
}

// Resolution is what a presenter learns when a request leaves the queue.
type Resolution struct {
	Decision Decision          `json:"decision"`
	Auto     bool              `json:"auto,omitempty"`
	Answers  map[string]string `json:"answers,omitempty"`
}

// Presenter shows the head request of a session to a human. Present must
// not block; the human's choice comes back through Gate.Resolve or
// Gate.Answer.
type Presenter interface {
	Present(req *Request)
	Resolved(req *Request, res Resolution)
}

// Logger records approval events for audit.
type Logger interface {
	LogRequest(req *Request) error
	LogDecision(req *Request, res Resolution) error
}

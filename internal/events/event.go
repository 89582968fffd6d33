package events

import (
	"sync"
	"time"
)

// Type names an Event on the wire.
type Type string

const (
	TypeText              Type = "text"
	TypeToolStarting      Type = "tool_starting"
	TypeToolOutput        Type = "tool_output"
	TypeToolCompleted     Type = "tool_completed"
	TypeSubToolStarting   Type = "subagent_tool_starting"
	TypeSubToolCompleted  Type = "subagent_tool_completed"
	TypeQueueResolved     Type = "queued_messages_resolved"
	TypeTokenUsage        Type = "token_usage"
	TypeCredits           Type = "credits"
	TypeRetry             Type = "retry"
	TypeClientException   Type = "client_exception"
	TypeRunCompleted      Type = "run_completed"
	TypeApprovalRequested Type = "approval_requested"
	TypeApprovalResolved  Type = "approval_resolved"
)

// Event is the serializable form of a Sink callback.
type Event struct {
	Type      Type      `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	ID        string    `json:"id,omitempty"`
	ParentID  string    `json:"parent_id,omitempty"`
	ToolName  string    `json:"tool_name,omitempty"`
	Args      any       `json:"args,omitempty"`
	Result    any       `json:"result,omitempty"`
	Text      string    `json:"text,omitempty"`
	Stderr    bool      `json:"stderr,omitempty"`
	Tokens    int64     `json:"tokens,omitempty"`
	Attempt   int       `json:"attempt,omitempty"`
	Max       int       `json:"max,omitempty"`
	Credits   *Credits  `json:"credits,omitempty"`
	Error     string    `json:"error,omitempty"`
	Time      time.Time `json:"time"`
}

// Emitter turns Sink callbacks into Events for a single session and hands
// them to a publish function.
type Emitter struct {
	SessionID string
	Publish   func(Event)
}

func (e *Emitter) emit(ev Event) {
	if e.Publish == nil {
		return
	}
	ev.SessionID = e.SessionID
	ev.Time = time.Now()
	e.Publish(ev)
}

func (e *Emitter) OnTextReceived(text string) { e.emit(Event{Type: TypeText, Text: text}) }

func (e *Emitter) OnToolStarting(id, name string, args any) {
	e.emit(Event{Type: TypeToolStarting, ID: id, ToolName: name, Args: args})
}

func (e *Emitter) OnToolOutput(id, line string, stderr bool) {
	e.emit(Event{Type: TypeToolOutput, ID: id, Text: line, Stderr: stderr})
}

func (e *Emitter) OnToolCompleted(id, name string, result any) {
	e.emit(Event{Type: TypeToolCompleted, ID: id, ToolName: name, Result: result})
}

func (e *Emitter) OnSubAgentToolStarting(parentID, childID, name string, args any) {
	e.emit(Event{Type: TypeSubToolStarting, ID: childID, ParentID: parentID, ToolName: name, Args: args})
}

func (e *Emitter) OnSubAgentToolCompleted(parentID, childID, name string, result any) {
	e.emit(Event{Type: TypeSubToolCompleted, ID: childID, ParentID: parentID, ToolName: name, Result: result})
}

func (e *Emitter) OnQueuedMessagesResolved() { e.emit(Event{Type: TypeQueueResolved}) }
func (e *Emitter) OnTokenUsage(total int64) { e.emit(Event{Type: TypeTokenUsage, Tokens: total}) }
func (e *Emitter) OnCredits(c Credits) { e.emit(Event{Type: TypeCredits, Credits: &c}) }

func (e *Emitter) OnRetry(attempt, maxAttempts int, reason string) {
	e.emit(Event{Type: TypeRetry, Attempt: attempt, Max: maxAttempts, Text: reason})
}

func (e *Emitter) OnClientException(err error) {
	e.emit(Event{Type: TypeClientException, Error: err.Error()})
}

func (e *Emitter) OnRunCompleted(output string) { e.emit(Event{Type: TypeRunCompleted, Text: output}) }

// Recorder is an in-memory Sink, handy for tests and for replaying a run.
type Recorder struct {
	Emitter
	mu     sync.Mutex
	events []Event
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	r := &Recorder{}
	r.Publish = func(ev Event) {
		r.mu.Lock()
		r.events = append(r.events, ev)
		r.mu.Unlock()
	}
	return r
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType filters recorded events.
func (r *Recorder) OfType(types ...Type) []Event {
	want := make(map[Type]bool, len(types))
	for _, t := range types {
		want[t] = true
	}
	var out []Event
	for _, ev := range r.Events() {
		if want[ev.Type] {
			out = append(out, ev)
		}
	}
	return out
}

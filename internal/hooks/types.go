// Package hooks runs user-configured interception points around tool calls,
// shell commands, file access and sub-agent lifecycle.
// A hook can deny the operation or rewrite its input and output.
package hooks

import (
	"context"
	"fmt"
)

// Event identifies the lifecycle point a hook is attached to.
type Event string

// Hook events.
const (
	EventBeforeToolUse        Event = "before_tool_use"
	EventAfterToolUse         Event = "after_tool_use"
	EventSubagentStart        Event = "subagent_start"
	EventSubagentStop         Event = "subagent_stop"
	EventBeforeShellExecution Event = "before_shell_execution"
	EventAfterShellExecution  Event = "after_shell_execution"
	EventBeforeReadFile       Event = "before_read_file"
	EventAfterFileEdit        Event = "after_file_edit"
	EventStop                 Event = "stop"
)

// AllEvents returns every supported event.
func AllEvents() []Event {
	return []Event{
		EventBeforeToolUse,
		EventAfterToolUse,
		EventSubagentStart,
		EventSubagentStop,
		EventBeforeShellExecution,
		EventAfterShellExecution,
		EventBeforeReadFile,
		EventAfterFileEdit,
		EventStop,
	}
}

// IsValidEvent reports whether e is a known event.
func IsValidEvent(e Event) bool {
	for _, known := range AllEvents() {
		if known == e {
			return true
		}
	}
	return false
}

// loopLimited reports whether loop limits apply to the event.
func (e Event) loopLimited() bool {
	return e == EventStop || e == EventSubagentStop
}

// Kind classifies a hook outcome.
type Kind string

const (
	KindSuccess Kind = "success"
	KindDenied  Kind = "denied"
	KindFailure Kind = "failure"
	KindTimeout Kind = "timeout"
)

// Well-known keys in a successful hook's output object.
const (
	KeyDecision      = "decision"
	KeyReason        = "reason"
	KeyUpdatedInput  = "updated_input"
	KeyUpdatedOutput = "updated_output"
)

// DefaultDenyReason is used when a denying hook gives no reason.
const DefaultDenyReason = "Hook denied execution"

// Outcome is the result of evaluating one hook.
type Outcome struct {
	Kind   Kind
	Output map[string]any
	Reason string
	Err    error
	// Source names the hook that produced the outcome.
	Source string
}

// Success builds a successful outcome. A nil output becomes an empty map.
func Success(output map[string]any) Outcome {
	if output == nil {
		output = map[string]any{}
	}
	return Outcome{Kind: KindSuccess, Output: output}
}

// Denied builds a denial. An empty reason becomes DefaultDenyReason.
func Denied(reason string) Outcome {
	if reason == "" {
		reason = DefaultDenyReason
	}
	return Outcome{Kind: KindDenied, Reason: reason}
}

// Failure builds a failed outcome.
func Failure(err error) Outcome {
	return Outcome{Kind: KindFailure, Err: err}
}

// Timeout builds a timed-out outcome.
func Timeout(err error) Outcome {
	return Outcome{Kind: KindTimeout, Err: err}
}

// UpdatedInput returns the replacement input a successful hook supplied.
func (o Outcome) UpdatedInput() (map[string]any, bool) {
	return o.objectField(KeyUpdatedInput)
}

// UpdatedOutput returns the replacement output a successful hook supplied.
func (o Outcome) UpdatedOutput() (map[string]any, bool) {
	return o.objectField(KeyUpdatedOutput)
}

func (o Outcome) objectField(key string) (map[string]any, bool) {
	if o.Kind != KindSuccess || o.Output == nil {
		return nil, false
	}
	m, ok := o.Output[key].(map[string]any)
	return m, ok
}

// denial returns the reason when the outcome forbids the operation.
func (o Outcome) denial() (string, bool) {
	switch o.Kind {
	case KindDenied:
		return o.Reason, true
	case KindSuccess:
		if d, _ := o.Output[KeyDecision].(string); d == "deny" {
			if r, _ := o.Output[KeyReason].(string); r != "" {
				return r, true
			}
			return DefaultDenyReason, true
		}
	}
	return "", false
}

func (o Outcome) String() string {
	switch o.Kind {
	case KindDenied:
		return fmt.Sprintf("denied: %s", o.Reason)
	case KindFailure, KindTimeout:
		return fmt.Sprintf("%s: %v", o.Kind, o.Err)
	default:
		return string(o.Kind)
	}
}

// CheckDenial returns the first denial among outcomes: a Denied outcome, or
// a successful one whose output carries decision "deny".
func CheckDenial(outcomes []Outcome) (string, bool) {
	for _, o := range outcomes {
		if reason, ok := o.denial(); ok {
			return reason, true
		}
	}
	return "", false
}

// Target carries the correlation data of the operation being hooked.
type Target struct {
	ToolName  string
	ToolUseID string
	SessionID string
}

// Evaluator runs the hooks attached to an event.
type Evaluator interface {
	Evaluate(ctx context.Context, event Event, payload map[string]any, target Target) []Outcome
}

// Nop is an Evaluator without hooks.
type Nop struct{}

// Evaluate implements Evaluator.
func (Nop) Evaluate(context.Context, Event, map[string]any, Target) []Outcome { return nil }

// Input is what an in-process handler receives.
type Input struct {
	Event   Event
	Payload map[string]any
	Target  Target
}

// HandlerFunc is an in-process hook.
type HandlerFunc func(ctx context.Context, in *Input) Outcome

// Handler is an in-process hook registration.
type Handler struct {
	ID       string
	Priority int
	Source   string
	// Matcher restricts the handler the same way configured hooks are restricted.
	Matcher     string
	Handle      HandlerFunc
	Description string
	Enabled     bool
}

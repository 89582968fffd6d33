package tools

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"agentcore/internal/events"
	"agentcore/internal/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Status is the terminal state of an invocation.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusDenied  Status = "denied"
	StatusError   Status = "error"
)

// Invocation records one tool call. It is not modified after Dispatch returns.
type Invocation struct {
	ID         string         `json:"id"`
	ParentID   string         `json:"parent_id,omitempty"`
	ToolName   string         `json:"tool_name"`
	Args       map[string]any `json:"args"`
	Result     ToolResult     `json:"result"`
	Status     Status         `json:"status"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

// Duration returns how long the invocation ran.
func (inv *Invocation) Duration() time.Duration {
	return inv.FinishedAt.Sub(inv.StartedAt)
}

func (inv *Invocation) finalize(result ToolResult) {
	inv.Result = result
	inv.FinishedAt = time.Now()
	switch {
	case result.IsDenied():
		inv.Status = StatusDenied
	case result.IsError:
		inv.Status = StatusError
	default:
		inv.Status = StatusSuccess
	}
}

// Call is a tool call requested by the model.
type Call struct {
	ID   string
	Name string
	Args map[string]any
}

// Dispatcher runs tool calls against a registry and reports them to a sink.
type Dispatcher struct {
	registry *Registry
	sink     events.Sink
}

// NewDispatcher creates a dispatcher. A nil sink discards events.
func NewDispatcher(registry *Registry, sink events.Sink) *Dispatcher {
	if sink == nil {
		sink = events.Nop
	}
	return &Dispatcher{registry: registry, sink: sink}
}

// Registry returns the tools the dispatcher resolves against.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Dispatch executes one call. Starting is always reported before
// completion under the same id, and failures of any kind end up in the
// invocation's result.
func (d *Dispatcher) Dispatch(ctx context.Context, call Call) *Invocation {
	inv := &Invocation{
		ID:        call.ID,
		ToolName:  call.Name,
		Args:      call.Args,
		Status:    StatusPending,
		StartedAt: time.Now(),
	}
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	if inv.Args == nil {
		inv.Args = map[string]any{}
	}
	inv.ParentID, _ = ToolUseIDFromContext(ctx)

	d.sink.OnToolStarting(inv.ID, inv.ToolName, inv.Args)

	toolCtx := WithSink(WithToolUseID(ctx, inv.ID), d.sink)
	inv.finalize(d.execute(toolCtx, inv))

	metrics.Get().RecordTool(inv.ToolName, string(inv.Status), inv.Duration())
	log.Debug().
		Str("tool", inv.ToolName).
		Str("id", inv.ID).
		Str("status", string(inv.Status)).
		Dur("duration", inv.Duration()).
		Msg("tool invocation finished")

	d.sink.OnToolCompleted(inv.ID, inv.ToolName, inv.Result)
	return inv
}

func (d *Dispatcher) execute(ctx context.Context, inv *Invocation) (result ToolResult) {
	tool, ok := d.registry.Get(inv.ToolName)
	if !ok {
		return NewErrorResult("Error: " + NewToolNotFoundError(inv.ToolName).Error())
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("tool", inv.ToolName).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("tool panic")
			result = NewErrorResult(fmt.Sprintf("Error: %v: %v", ErrToolPanic, r))
		}
	}()

	res, err := tool.Execute(ctx, inv.Args)
	if err != nil {
		return NewErrorResult("Error: " + err.Error())
	}
	return res
}

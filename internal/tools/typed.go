package tools

import (
	"context"
	"fmt"

	"agentcore/internal/hooks"
)

// Typed is the invocation template every tool runs through:
//
//  1. before_tool_use hooks; a denial returns Deny(args, reason) without
//     running Core, and updated_input merges into args.
//  2. Core.
//  3. after_tool_use hooks with the result; a denial replaces the result
//     with Deny(args, reason), and updated_output merges into the result.
//
// Failed and timed-out hooks are ignored. Tool authors supply Core and Deny.
type Typed[A any, R any] struct {
	ToolName        string
	ToolDescription string
	// Schema defaults to BuildSchema of A.
	Schema map[string]any
	// Hooks defaults to hooks.Nop.
	Hooks hooks.Evaluator

	Core func(ctx context.Context, args A) (R, error)
	Deny func(args A, reason string) R
	// Encode defaults to EncodeResult.
	Encode func(R) ToolResult
}

var _ Tool = (*Typed[struct{}, string])(nil)

// Name implements Tool.
func (t *Typed[A, R]) Name() string { return t.ToolName }

// Description implements Tool.
func (t *Typed[A, R]) Description() string { return t.ToolDescription }

// Parameters implements Tool.
func (t *Typed[A, R]) Parameters() map[string]any {
	if t.Schema != nil {
		return t.Schema
	}
	var zero A
	return BuildSchema(zero)
}

// Execute decodes args into A, runs Invoke and encodes the outcome. Core
// errors become error results.
func (t *Typed[A, R]) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	typed, err := decodeArgs[A](t.ToolName, args)
	if err != nil {
		return NewErrorResult("Error: " + err.Error()), nil
	}
	result, err := t.Invoke(ctx, typed)
	if err != nil {
		return NewErrorResult("Error: " + err.Error()), nil
	}
	return t.encode(result), nil
}

// Invoke runs the hook template around Core with typed arguments. The error
// is Core's; after hooks only run when Core succeeds.
func (t *Typed[A, R]) Invoke(ctx context.Context, args A) (R, error) {
	evaluator := t.evaluator()
	target := t.target(ctx)

	var zero R
	before := evaluator.Evaluate(ctx, hooks.EventBeforeToolUse, t.payload(ctx, target, args, zero, false), target)
	if reason, denied := hooks.CheckDenial(before); denied {
		return t.deny(args, reason), nil
	}
	for _, o := range before {
		if upd, ok := o.UpdatedInput(); ok {
			args = MergeExisting(args, upd)
		}
	}

	result, err := t.Core(ctx, args)
	if err != nil {
		return result, err
	}

	after := evaluator.Evaluate(ctx, hooks.EventAfterToolUse, t.payload(ctx, target, args, result, true), target)
	if reason, denied := hooks.CheckDenial(after); denied {
		return t.deny(args, reason), nil
	}
	for _, o := range after {
		if upd, ok := o.UpdatedOutput(); ok {
			result = MergeExisting(result, upd)
		}
	}
	return result, nil
}

func (t *Typed[A, R]) evaluator() hooks.Evaluator {
	if t.Hooks == nil {
		return hooks.Nop{}
	}
	return t.Hooks
}

func (t *Typed[A, R]) target(ctx context.Context) hooks.Target {
	target := hooks.Target{ToolName: t.ToolName}
	target.ToolUseID, _ = ToolUseIDFromContext(ctx)
	target.SessionID, _ = SessionIDFromContext(ctx)
	return target
}

func (t *Typed[A, R]) payload(ctx context.Context, target hooks.Target, args A, result R, withOutput bool) map[string]any {
	p := map[string]any{
		"tool_name":   t.ToolName,
		"tool_input":  toMap(args),
		"tool_use_id": target.ToolUseID,
		"cwd":         WorkDirFromContext(ctx),
	}
	if target.SessionID != "" {
		p["session_id"] = target.SessionID
	}
	if withOutput {
		p["tool_output"] = normalize(result)
	}
	return p
}

func (t *Typed[A, R]) deny(args A, reason string) R {
	if t.Deny == nil {
		var zero R
		if r, ok := any(&zero).(*ToolResult); ok {
			*r = NewDeniedResult(fmt.Sprintf("Denied: %s", reason))
		}
		return zero
	}
	return t.Deny(args, reason)
}

func (t *Typed[A, R]) encode(r R) ToolResult {
	if t.Encode != nil {
		return t.Encode(r)
	}
	return EncodeResult(r)
}

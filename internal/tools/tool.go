// Package tools defines the tool contract, the hook-wrapped typed tool
// template and the dispatcher that turns model tool calls into invocations.
package tools

import (
	"context"
	"encoding/json"

	"agentcore/internal/events"
)

// Context keys for passing execution context to tools.
type contextKey string

const (
	sessionIDKey contextKey = "session_id"
	agentIDKey   contextKey = "agent_id"
	toolUseIDKey contextKey = "tool_use_id"
	workDirKey   contextKey = "work_dir"
	sinkKey      contextKey = "sink"
)

// WithSessionID returns a new context with the session ID attached.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// SessionIDFromContext retrieves the session ID from the context, if present.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionIDKey).(string)
	return id, ok
}

// WithAgentID returns a new context with the agent ID attached.
func WithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, agentIDKey, agentID)
}

// AgentIDFromContext retrieves the agent ID from the context, if present.
func AgentIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(agentIDKey).(string)
	return id, ok
}

// WithToolUseID marks ctx as running inside the given invocation.
func WithToolUseID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, toolUseIDKey, id)
}

// ToolUseIDFromContext returns the invocation the caller runs inside.
func ToolUseIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(toolUseIDKey).(string)
	return id, ok
}

// WithWorkDir sets the workspace root tools resolve relative paths against.
func WithWorkDir(ctx context.Context, dir string) context.Context {
	return context.WithValue(ctx, workDirKey, dir)
}

// WorkDirFromContext returns the workspace root, or "" when unset.
func WorkDirFromContext(ctx context.Context) string {
	dir, _ := ctx.Value(workDirKey).(string)
	return dir
}

// WithSink attaches the run's event sink so tools can stream output.
func WithSink(ctx context.Context, sink events.Sink) context.Context {
	return context.WithValue(ctx, sinkKey, sink)
}

// SinkFromContext returns the attached sink or events.Nop.
func SinkFromContext(ctx context.Context) events.Sink {
	if s, ok := ctx.Value(sinkKey).(events.Sink); ok && s != nil {
		return s
	}
	return events.Nop
}

// Tool defines the interface that all tools must implement.
type Tool interface {
	// Name returns the unique identifier for this tool.
	Name() string

	// Description returns a human-readable description of what this tool does.
	Description() string

	// Parameters returns the JSON Schema for the tool's input parameters.
	Parameters() map[string]any

	// Execute runs the tool. Failures are reported in-band through the
	// result; the error return is reserved for broken plumbing.
	Execute(ctx context.Context, args map[string]any) (ToolResult, error)
}

// ToolResult represents the result of a tool execution.
type ToolResult struct {
	// Content is the main output of the tool, typically text.
	Content string `json:"content"`

	// IsError indicates whether this result represents an error condition.
	IsError bool `json:"is_error"`

	// Metadata contains optional additional information about the execution.
	Metadata map[string]any `json:"metadata,omitempty"`
}

const deniedKey = "denied"

// NewSuccessResult creates a successful tool result with the given content.
func NewSuccessResult(content string) ToolResult {
	return ToolResult{Content: content}
}

// NewErrorResult creates an error tool result with the given error message.
func NewErrorResult(errMsg string) ToolResult {
	return ToolResult{Content: errMsg, IsError: true}
}

// NewDeniedResult creates an error result flagged as a denial.
func NewDeniedResult(content string) ToolResult {
	return ToolResult{
		Content:  content,
		IsError:  true,
		Metadata: map[string]any{deniedKey: true},
	}
}

// NewResultWithMetadata creates a successful tool result with content and metadata.
func NewResultWithMetadata(content string, metadata map[string]any) ToolResult {
	return ToolResult{Content: content, Metadata: metadata}
}

// IsDenied reports whether the result came from a denial.
func (r ToolResult) IsDenied() bool {
	d, _ := r.Metadata[deniedKey].(bool)
	return d
}

// String returns a string representation of the ToolResult.
func (r ToolResult) String() string {
	if r.IsError {
		return "[error] " + r.Content
	}
	return r.Content
}

// ResultEncoder is implemented by typed results that render themselves.
type ResultEncoder interface {
	ToolResult() ToolResult
}

// EncodeResult renders any typed result: ToolResult and ResultEncoder values
// as-is, strings as content, everything else as indented JSON.
func EncodeResult(v any) ToolResult {
	switch r := v.(type) {
	case ToolResult:
		return r
	case *ToolResult:
		if r == nil {
			return NewSuccessResult("")
		}
		return *r
	case ResultEncoder:
		return r.ToolResult()
	case string:
		return NewSuccessResult(r)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return NewErrorResult("Error: failed to encode result: " + err.Error())
	}
	return NewSuccessResult(string(data))
}

// BaseTool provides name, description and schema for hand-written tools.
type BaseTool struct {
	ToolName        string
	ToolDescription string
	ToolParameters  map[string]any
}

// Name returns the tool name.
func (t *BaseTool) Name() string {
	return t.ToolName
}

// Description returns the tool description.
func (t *BaseTool) Description() string {
	return t.ToolDescription
}

// Parameters returns the tool parameters schema.
func (t *BaseTool) Parameters() map[string]any {
	if t.ToolParameters == nil {
		return map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		}
	}
	return t.ToolParameters
}

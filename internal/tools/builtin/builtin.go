// Package builtin provides the workspace tools: file reading, writing and
// editing, foreground and background shell commands, and background output
// and kill control.
package builtin

import (
	"context"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"agentcore/internal/config"
	"agentcore/internal/hooks"
	"agentcore/internal/policy"
	"agentcore/internal/policy/approval"
	"agentcore/internal/procmgr"
	"agentcore/internal/tools"
)

// Tool names.
const (
	ReadFileName    = "read_file"
	WriteFileName   = "write_file"
	EditFileName    = "edit_file"
	ShellName       = "shell"
	ShellOutputName = "shell_output"
	KillShellName   = "kill_shell"
)

// Deps are the services the built-in tools share. Nil fields fall back to
// permissive defaults: no hooks, no rules, every approval granted and a
// runner with default timeouts. Without Processes background commands are
// refused.
type Deps struct {
	Hooks     hooks.Evaluator
	Policy    *policy.Policy
	Gate      *approval.Gate
	Runner    *procmgr.Runner
	Processes *procmgr.Registry
	// MaxOutputChars bounds every result handed back to the model.
	MaxOutputChars int
}

func (d Deps) withDefaults() Deps {
	if d.Hooks == nil {
		d.Hooks = hooks.Nop{}
	}
	if d.Policy == nil {
		d.Policy = policy.Permissive()
	}
	if d.Runner == nil {
		d.Runner = procmgr.NewRunner(config.ProcessConfig{})
	}
	if d.MaxOutputChars <= 0 {
		d.MaxOutputChars = tools.DefaultMaxResultChars
	}
	return d
}

// New builds all built-in tools.
func New(deps Deps) []tools.Tool {
	deps = deps.withDefaults()
	return []tools.Tool{
		NewReadFileTool(deps),
		NewWriteFileTool(deps),
		NewEditFileTool(deps),
		NewShellTool(deps),
		NewShellOutputTool(deps),
		NewKillShellTool(deps),
	}
}

// RegisterBuiltins registers all built-in tools to the given registry.
func RegisterBuiltins(r *tools.Registry, deps Deps) error {
	for _, tool := range New(deps) {
		if err := r.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistryWithBuiltins creates a new registry with all built-in tools registered.
func NewRegistryWithBuiltins(deps Deps) *tools.Registry {
	return tools.NewRegistry(New(deps)...)
}

// ToolNames returns the names of all built-in tools.
func ToolNames() []string {
	return []string{
		ReadFileName,
		WriteFileName,
		EditFileName,
		ShellName,
		ShellOutputName,
		KillShellName,
	}
}

// hook runs the hooks of a tool-specific event and reports a denial.
func (d Deps) hook(ctx context.Context, event hooks.Event, toolName string, payload map[string]any) (string, bool) {
	target := hooks.Target{ToolName: toolName}
	target.ToolUseID, _ = tools.ToolUseIDFromContext(ctx)
	target.SessionID, _ = tools.SessionIDFromContext(ctx)

	payload["tool_name"] = toolName
	payload["tool_use_id"] = target.ToolUseID
	if target.SessionID != "" {
		payload["session_id"] = target.SessionID
	}
	reason, denied := hooks.CheckDenial(d.Hooks.Evaluate(ctx, event, payload, target))
	if denied {
		log.Info().
			Str("event", string(event)).
			Str("tool", toolName).
			Str("reason", reason).
			Msg("hook denied tool operation")
	}
	return reason, denied
}

// approve asks the gate on behalf of the calling session. A gate error is
// treated as a rejection.
func (d Deps) approve(ctx context.Context, req approval.Request) bool {
	if d.Gate == nil {
		return true
	}
	req.SessionID, _ = tools.SessionIDFromContext(ctx)
	decision, err := d.Gate.Request(ctx, req)
	if err != nil {
		log.Warn().Err(err).Str("tool", req.ToolName).Msg("approval request failed")
		return false
	}
	return decision.Approved()
}

// resolvePath makes path absolute against the context's workspace root.
func resolvePath(ctx context.Context, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if dir := tools.WorkDirFromContext(ctx); dir != "" {
		return filepath.Join(dir, path)
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

// truncating encodes a result and bounds its content.
func truncating[R tools.ResultEncoder](maxChars int) func(R) tools.ToolResult {
	return func(r R) tools.ToolResult {
		res := r.ToolResult()
		res.Content = tools.Truncate(res.Content, maxChars)
		return res
	}
}

func sessionOf(ctx context.Context) string {
	if id, ok := tools.SessionIDFromContext(ctx); ok && id != "" {
		return id
	}
	return "global"
}

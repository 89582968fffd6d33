package builtin

import (
	"context"
	"errors"
	"fmt"

	"agentcore/internal/procmgr"
	"agentcore/internal/tools"
)

const shellNotFoundMessage = "Shell not found. The shell may have already completed or the ID is invalid."

// KillShellArgs defines the parameters for the kill_shell tool.
type KillShellArgs struct {
	BashID string `json:"bash_id" jsonschema:"description=ID of the background shell to kill,required"`
}

// KillShellResult is the outcome of kill_shell.
type KillShellResult struct {
	BashID  string `json:"bash_id"`
	Success bool   `json:"success"`
	Message string `json:"message"`
	Denied  bool   `json:"denied,omitempty"`
}

// ToolResult implements tools.ResultEncoder.
func (r KillShellResult) ToolResult() tools.ToolResult {
	mark := "✗"
	if r.Success {
		mark = "✓"
	}
	content := fmt.Sprintf("Shell ID: %s\n%s %s", r.BashID, mark, r.Message)
	switch {
	case r.Denied:
		return tools.NewDeniedResult(content)
	case !r.Success:
		return tools.NewErrorResult(content)
	}
	return tools.NewSuccessResult(content)
}

// NewKillShellTool creates the kill_shell tool.
func NewKillShellTool(deps Deps) tools.Tool {
	deps = deps.withDefaults()
	t := &killShell{deps: deps}
	return &tools.Typed[KillShellArgs, KillShellResult]{
		ToolName:        KillShellName,
		ToolDescription: "Kill a background shell and its child processes by ID.",
		Hooks:           deps.Hooks,
		Core:            t.run,
		Deny: func(args KillShellArgs, reason string) KillShellResult {
			return KillShellResult{BashID: args.BashID, Message: reason, Denied: true}
		},
	}
}

type killShell struct {
	deps Deps
}

func (t *killShell) run(_ context.Context, args KillShellArgs) (KillShellResult, error) {
	if args.BashID == "" {
		return KillShellResult{}, tools.NewInvalidArgsError(KillShellName, "bash_id is required", nil)
	}
	notFound := KillShellResult{BashID: args.BashID, Message: shellNotFoundMessage}
	if t.deps.Processes == nil {
		return notFound, nil
	}

	current, err := t.deps.Processes.Output(args.BashID)
	if errors.Is(err, procmgr.ErrProcessNotFound) {
		return notFound, nil
	}
	if err != nil {
		return KillShellResult{}, err
	}
	if current.Status != procmgr.StatusRunning {
		return KillShellResult{BashID: args.BashID, Message: finishedMessage(current)}, nil
	}

	snap, err := t.deps.Processes.Kill(args.BashID)
	switch {
	case errors.Is(err, procmgr.ErrProcessNotFound):
		return notFound, nil
	case err != nil:
		return KillShellResult{BashID: args.BashID, Message: "Error terminating shell: " + err.Error()}, nil
	case snap.Status == procmgr.StatusCompleted:
		// It exited on its own between the check and the kill.
		return KillShellResult{BashID: args.BashID, Message: finishedMessage(snap)}, nil
	}
	return KillShellResult{BashID: args.BashID, Success: true, Message: "Shell successfully terminated."}, nil
}

func finishedMessage(s procmgr.Snapshot) string {
	if s.Status == procmgr.StatusKilled {
		return "Shell has already been terminated."
	}
	if s.ExitCode != nil {
		return fmt.Sprintf("Shell has already completed with exit code %d", *s.ExitCode)
	}
	return "Shell has already completed"
}

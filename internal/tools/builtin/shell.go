package builtin

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"agentcore/internal/hooks"
	"agentcore/internal/policy/approval"
	"agentcore/internal/procmgr"
	"agentcore/internal/tools"
)

// ShellArgs defines the parameters for the shell tool.
type ShellArgs struct {
	Command         string `json:"command" jsonschema:"description=The shell command to execute,required"`
	Timeout         int    `json:"timeout,omitempty" jsonschema:"description=Idle timeout in milliseconds: the command is killed after this long without output (default 60000 and max 600000)"`
	Description     string `json:"description,omitempty" jsonschema:"description=What the command does in 5-10 words"`
	RunInBackground bool   `json:"run_in_background,omitempty" jsonschema:"description=Run the command in the background and read its output later with shell_output"`
}

// ShellResult is the outcome of the shell tool.
type ShellResult struct {
	Command  string `json:"command"`
	ExitCode *int   `json:"exit_code,omitempty"`
	Output   string `json:"output"`
	BashID   string `json:"bash_id,omitempty"`
	Failed   bool   `json:"failed,omitempty"`
	Denied   bool   `json:"denied,omitempty"`
}

// ToolResult implements tools.ResultEncoder.
func (r ShellResult) ToolResult() tools.ToolResult {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Command: %s\n", r.Command)
	switch {
	case r.Output != "":
		sb.WriteString(r.Output)
		sb.WriteByte('\n')
	case r.ExitCode != nil:
		sb.WriteString("(no output)\n")
	}
	if r.ExitCode != nil {
		fmt.Fprintf(&sb, "Exit code: %d\n", *r.ExitCode)
	}
	content := strings.TrimRight(sb.String(), "\n")

	switch {
	case r.Denied:
		return tools.NewDeniedResult(content)
	case r.Failed, r.ExitCode != nil && *r.ExitCode != 0:
		return tools.NewErrorResult(content)
	}
	meta := map[string]any{}
	if r.BashID != "" {
		meta["bash_id"] = r.BashID
	}
	if r.ExitCode != nil {
		meta["exit_code"] = *r.ExitCode
	}
	return tools.NewResultWithMetadata(content, meta)
}

// NewShellTool creates the shell tool.
func NewShellTool(deps Deps) tools.Tool {
	deps = deps.withDefaults()
	t := &shell{deps: deps}
	return &tools.Typed[ShellArgs, ShellResult]{
		ToolName: ShellName,
		ToolDescription: "Execute a shell command in the workspace and return its output. Output streams while the " +
			"command runs; a command that prints nothing for the idle timeout is killed. Use run_in_background " +
			"for long-running commands and read their output with shell_output. Output over 30000 characters is truncated.",
		Hooks: deps.Hooks,
		Core:  t.run,
		Deny: func(args ShellArgs, reason string) ShellResult {
			return ShellResult{Command: args.Command, Output: reason, Denied: true}
		},
		Encode: truncating[ShellResult](deps.MaxOutputChars),
	}
}

type shell struct {
	deps Deps
}

func (t *shell) run(ctx context.Context, args ShellArgs) (ShellResult, error) {
	command := strings.TrimSpace(args.Command)
	if command == "" {
		return ShellResult{}, tools.NewInvalidArgsError(ShellName, "command is required", nil)
	}
	workDir := tools.WorkDirFromContext(ctx)
	denied := func(msg string) (ShellResult, error) {
		return ShellResult{Command: args.Command, Output: msg, Denied: true}, nil
	}

	check := t.deps.Policy.CheckShell(ShellName, command, workDir)
	if check.Denied() {
		return denied(check.Reason)
	}
	if reason, deny := t.deps.hook(ctx, hooks.EventBeforeShellExecution, ShellName, map[string]any{
		"command":     command,
		"cwd":         workDir,
		"description": args.Description,
		"background":  args.RunInBackground,
	}); deny {
		return denied(reason)
	}
	if !check.SkipApproval() {
		title := args.Description
		if title == "" {
			title = "Run command"
		}
		if !t.deps.approve(ctx, approval.Request{
			Kind:     approval.KindShell,
			ToolName: ShellName,
			Title:    title,
			Details:  command,
			Payload: approval.ShellPayload{
				Command:     command,
				Description: args.Description,
				Background:  args.RunInBackground,
			},
		}) {
			return denied("Command execution denied by the user")
		}
	}

	if args.RunInBackground {
		return t.background(ctx, args, workDir), nil
	}

	res, err := t.foreground(ctx, args, workDir)
	if err != nil {
		log.Warn().Err(err).Str("command", command).Msg("shell command failed to start")
		return ShellResult{Command: args.Command, Output: "Failed to execute command: " + err.Error(), Failed: true}, nil
	}

	out := ShellResult{Command: args.Command, ExitCode: res.ExitCode, Output: res.CombinedOutput()}
	payload := map[string]any{
		"command": command,
		"cwd":     workDir,
		"output":  out.Output,
	}
	if res.ExitCode != nil {
		payload["exit_code"] = *res.ExitCode
	}
	if reason, deny := t.deps.hook(ctx, hooks.EventAfterShellExecution, ShellName, payload); deny {
		return denied(reason)
	}
	return out, nil
}

func (t *shell) foreground(ctx context.Context, args ShellArgs, workDir string) (*procmgr.Result, error) {
	sink := tools.SinkFromContext(ctx)
	toolUseID, _ := tools.ToolUseIDFromContext(ctx)

	idle := time.Duration(max(args.Timeout, 0)) * time.Millisecond
	return t.deps.Runner.Run(ctx, procmgr.Spec{
		Command:     args.Command,
		Dir:         workDir,
		IdleTimeout: t.deps.Runner.IdleTimeout(idle),
	}, func(l procmgr.Line) {
		sink.OnToolOutput(toolUseID, l.Text, l.Stream == procmgr.StreamStderr)
	})
}

func (t *shell) background(ctx context.Context, args ShellArgs, workDir string) ShellResult {
	if t.deps.Processes == nil {
		return ShellResult{Command: args.Command, Output: "Failed to execute command: background processes are not available", Failed: true}
	}
	sessionID, _ := tools.SessionIDFromContext(ctx)
	id, err := t.deps.Processes.Start(sessionID, procmgr.Spec{Command: args.Command, Dir: workDir})
	if err != nil {
		return ShellResult{Command: args.Command, Output: "Failed to execute command: " + err.Error(), Failed: true}
	}
	return ShellResult{
		Command: args.Command,
		Output:  "Background process started with ID: " + id,
		BashID:  id,
	}
}

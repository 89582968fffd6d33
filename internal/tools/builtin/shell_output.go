package builtin

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"agentcore/internal/procmgr"
	"agentcore/internal/tools"
)

// Background shell states reported to the model.
const (
	ShellRunning    = "running"
	ShellCompleted  = "completed"
	ShellTerminated = "terminated"
	ShellNotFound   = "not_found"
)

// ShellOutputArgs defines the parameters for the shell_output tool.
type ShellOutputArgs struct {
	BashID string `json:"bash_id" jsonschema:"description=ID of the background shell returned by the shell tool,required"`
	Filter string `json:"filter,omitempty" jsonschema:"description=Regular expression; only output lines matching it entirely are returned"`
}

// ShellOutputResult is the outcome of shell_output.
type ShellOutputResult struct {
	BashID   string `json:"bash_id"`
	Status   string `json:"status"`
	ExitCode *int   `json:"exit_code,omitempty"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
	Error    string `json:"error,omitempty"`
	Denied   bool   `json:"denied,omitempty"`
}

// ToolResult implements tools.ResultEncoder.
func (r ShellOutputResult) ToolResult() tools.ToolResult {
	if r.Error != "" {
		msg := fmt.Sprintf("Shell ID: %s\nError: %s", r.BashID, r.Error)
		if r.Denied {
			return tools.NewDeniedResult(msg)
		}
		return tools.NewErrorResult(msg)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Shell ID: %s\nStatus: %s\n", r.BashID, r.Status)
	if r.ExitCode != nil {
		fmt.Fprintf(&sb, "Exit code: %d\n", *r.ExitCode)
	}
	if r.Stdout != "" {
		fmt.Fprintf(&sb, "\nSTDOUT:\n%s\n", r.Stdout)
	}
	if r.Stderr != "" {
		fmt.Fprintf(&sb, "\nSTDERR:\n%s\n", r.Stderr)
	}
	if r.Stdout == "" && r.Stderr == "" && r.Status == ShellRunning {
		sb.WriteString("\n(No new output since last check)\n")
	}
	return tools.NewResultWithMetadata(strings.TrimRight(sb.String(), "\n"), map[string]any{
		"status": r.Status,
	})
}

// NewShellOutputTool creates the shell_output tool.
func NewShellOutputTool(deps Deps) tools.Tool {
	deps = deps.withDefaults()
	t := &shellOutput{deps: deps}
	return &tools.Typed[ShellOutputArgs, ShellOutputResult]{
		ToolName: ShellOutputName,
		ToolDescription: "Read output of a background shell started with run_in_background. " +
			"Each call returns only the output produced since the previous call, with the shell status. " +
			"An optional filter regex keeps only matching lines.",
		Hooks: deps.Hooks,
		Core:  t.run,
		Deny: func(args ShellOutputArgs, reason string) ShellOutputResult {
			return ShellOutputResult{BashID: args.BashID, Error: reason, Denied: true}
		},
		Encode: truncating[ShellOutputResult](deps.MaxOutputChars),
	}
}

type shellOutput struct {
	deps Deps
}

func (t *shellOutput) run(ctx context.Context, args ShellOutputArgs) (ShellOutputResult, error) {
	if args.BashID == "" {
		return ShellOutputResult{}, tools.NewInvalidArgsError(ShellOutputName, "bash_id is required", nil)
	}

	var filter *regexp.Regexp
	if args.Filter != "" {
		re, err := regexp.Compile(`^(?:` + args.Filter + `)$`)
		if err != nil {
			return ShellOutputResult{BashID: args.BashID, Error: "invalid filter: " + err.Error()}, nil
		}
		filter = re
	}

	if t.deps.Processes == nil {
		return ShellOutputResult{BashID: args.BashID, Status: ShellNotFound}, nil
	}
	snap, err := t.deps.Processes.ReadNew(args.BashID, sessionOf(ctx))
	if errors.Is(err, procmgr.ErrProcessNotFound) {
		return ShellOutputResult{BashID: args.BashID, Status: ShellNotFound}, nil
	}
	if err != nil {
		return ShellOutputResult{}, err
	}

	res := ShellOutputResult{
		BashID:   args.BashID,
		Status:   shellStatus(snap.Status),
		ExitCode: snap.ExitCode,
		Stdout:   filterLines(snap.Stdout, filter),
		Stderr:   filterLines(snap.Stderr, filter),
	}

	sink := tools.SinkFromContext(ctx)
	toolUseID, _ := tools.ToolUseIDFromContext(ctx)
	for _, stream := range []struct {
		text   string
		stderr bool
	}{{res.Stdout, false}, {res.Stderr, true}} {
		if stream.text == "" {
			continue
		}
		for _, line := range strings.Split(stream.text, "\n") {
			if line != "" {
				sink.OnToolOutput(toolUseID, line, stream.stderr)
			}
		}
	}
	return res, nil
}

func shellStatus(s procmgr.Status) string {
	switch s {
	case procmgr.StatusRunning:
		return ShellRunning
	case procmgr.StatusKilled:
		return ShellTerminated
	default:
		return ShellCompleted
	}
}

func filterLines(text string, filter *regexp.Regexp) string {
	text = strings.TrimRight(text, " \t\r\n")
	if filter == nil || text == "" {
		return text
	}
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		if filter.MatchString(line) {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

package procmgr

import (
	"fmt"
	"strings"
)

// CombinedOutput joins stdout and stderr and notes a timeout or
// cancellation.
func (r *Result) CombinedOutput() string {
	var sb strings.Builder
	if s := strings.TrimRight(r.Stdout, " \t\r\n"); s != "" {
		sb.WriteString(s)
		sb.WriteByte('\n')
	}
	if s := strings.TrimRight(r.Stderr, " \t\r\n"); s != "" {
		sb.WriteString(s)
		sb.WriteByte('\n')
	}
	switch {
	case r.TimedOut:
		fmt.Fprintf(&sb, "Command timed out after %s of inactivity\n", r.Idle)
	case r.Cancelled:
		sb.WriteString("Command cancelled\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// Format renders the result for a model: the command, its output and the
// exit code when there is one.
func (r *Result) Format() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Command: %s\n", r.Command)
	out := r.CombinedOutput()
	switch {
	case out != "":
		sb.WriteString(out)
		sb.WriteByte('\n')
	case r.ExitCode != nil:
		sb.WriteString("(no output)\n")
	}
	if r.ExitCode != nil {
		fmt.Fprintf(&sb, "Exit code: %d\n", *r.ExitCode)
	}
	return strings.TrimRight(sb.String(), "\n")
}

package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// DefaultTimeout bounds a hook that sets no timeout of its own.
const DefaultTimeout = 30 * time.Second

// denyExitCode is the exit status a command hook uses to deny.
const denyExitCode = 2

// runCommand executes a shell hook. The payload is written to stdin as JSON
// with hook_event_name added.
func runCommand(ctx context.Context, command, projectDir string, timeout time.Duration, event Event, payload map[string]any) Outcome {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	body := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		body[k] = v
	}
	body["hook_event_name"] = string(event)
	input, err := json.Marshal(body)
	if err != nil {
		return Failure(fmt.Errorf("encode hook payload: %w", err))
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := shellCommand(runCtx, command)
	if projectDir != "" {
		cmd.Dir = projectDir
	}
	cmd.Env = append(os.Environ(),
		"AGENTCORE_PROJECT_DIR="+projectDir,
		"AGENTCORE_HOOK_EVENT="+string(event),
	)
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Grandchildren holding the pipes open must not stall Wait.
	cmd.WaitDelay = 2 * time.Second

	err = cmd.Run()
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return Timeout(fmt.Errorf("%w: %q after %s", ErrHookTimeout, command, timeout))
	}
	if ctx.Err() != nil {
		return Failure(ctx.Err())
	}

	out := strings.TrimSpace(stdout.String())
	if err == nil {
		return Success(parseObject(out))
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return Failure(fmt.Errorf("run hook %q: %w", command, err))
	}
	if exitErr.ExitCode() == denyExitCode {
		if r, _ := parseObject(out)[KeyReason].(string); r != "" {
			return Denied(r)
		}
		return Denied(out)
	}
	return Failure(&ExitError{
		Command: command,
		Code:    exitErr.ExitCode(),
		Stderr:  strings.TrimSpace(stderr.String()),
	})
}

func shellCommand(ctx context.Context, command string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.CommandContext(ctx, "cmd", "/c", command)
	}
	return exec.CommandContext(ctx, "sh", "-c", command)
}

// parseObject decodes s as a JSON object, returning an empty map otherwise.
func parseObject(s string) map[string]any {
	out := map[string]any{}
	if s == "" {
		return out
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return map[string]any{}
	}
	return out
}

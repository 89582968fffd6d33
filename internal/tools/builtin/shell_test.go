//go:build !windows

package builtin

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentcore/internal/config"
	"agentcore/internal/events"
	"agentcore/internal/hooks"
	"agentcore/internal/policy"
	"agentcore/internal/policy/approval"
	"agentcore/internal/procmgr"
	"agentcore/internal/tools"
)

func newProcesses(t *testing.T) *procmgr.Registry {
	t.Helper()
	reg := procmgr.NewRegistry(procmgr.NewRunner(config.ProcessConfig{}), config.ProcessConfig{})
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

func TestShell_StreamsForegroundOutput(t *testing.T) {
	rec := events.NewRecorder()
	ctx := tools.WithSink(toolCtx(t.TempDir()), rec)

	res := execute(t, ctx, NewShellTool(Deps{}), map[string]any{"command": "echo hello; echo oops >&2"})

	require.False(t, res.IsError, res.Content)
	assert.Equal(t, "Command: echo hello; echo oops >&2\nhello\noops\nExit code: 0", res.Content)
	assert.Equal(t, 0, res.Metadata["exit_code"])

	lines := rec.OfType(events.TypeToolOutput)
	require.Len(t, lines, 2)
	byText := map[string]events.Event{}
	for _, ev := range lines {
		assert.Equal(t, "call-1", ev.ID)
		byText[ev.Text] = ev
	}
	assert.False(t, byText["hello"].Stderr)
	assert.True(t, byText["oops"].Stderr)
}

func TestShell_RunsInWorkDir(t *testing.T) {
	dir := t.TempDir()
	res := execute(t, toolCtx(dir), NewShellTool(Deps{}), map[string]any{"command": "pwd"})

	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	assert.Contains(t, res.Content, filepath.Base(resolved))
}

func TestShell_NonZeroExitIsError(t *testing.T) {
	res := execute(t, toolCtx(t.TempDir()), NewShellTool(Deps{}), map[string]any{"command": "exit 3"})

	assert.True(t, res.IsError)
	assert.False(t, res.IsDenied())
	assert.Equal(t, "Command: exit 3\n(no output)\nExit code: 3", res.Content)
}

func TestShell_IdleTimeoutKeepsOutput(t *testing.T) {
	res := execute(t, toolCtx(t.TempDir()), NewShellTool(Deps{}), map[string]any{
		"command": "echo started; sleep 5",
		"timeout": 300,
	})

	assert.Contains(t, res.Content, "started")
	assert.Contains(t, res.Content, "timed out")
	assert.NotContains(t, res.Content, "Exit code")
}

func TestShell_PolicyDenials(t *testing.T) {
	dir := t.TempDir()
	pol := policy.New(config.PolicyConfig{
		Deny:   []string{"Bash(rm:*)"},
		Ignore: []string{".env"},
	}, dir)
	d := newDecider(true)
	tool := NewShellTool(Deps{Policy: pol, Gate: d.gate})

	res := execute(t, toolCtx(dir), tool, map[string]any{"command": "rm -rf build"})
	assert.True(t, res.IsDenied())

	res = execute(t, toolCtx(dir), tool, map[string]any{"command": "cat .env"})
	assert.True(t, res.IsDenied())
	assert.Contains(t, res.Content, "Command denied by policy: access to ignored files is blocked")

	assert.Empty(t, d.seen())
}

func TestShell_Approval(t *testing.T) {
	dir := t.TempDir()

	d := newDecider(false)
	res := execute(t, toolCtx(dir), NewShellTool(Deps{Gate: d.gate}), map[string]any{
		"command":     "touch created.txt",
		"description": "Create a file",
	})
	assert.True(t, res.IsDenied())
	assert.Contains(t, res.Content, "Command execution denied by the user")
	assert.NoFileExists(t, filepath.Join(dir, "created.txt"))

	require.Len(t, d.seen(), 1)
	req := d.seen()[0]
	assert.Equal(t, approval.KindShell, req.Kind)
	assert.Equal(t, "Create a file", req.Title)
	assert.Equal(t, approval.ShellPayload{Command: "touch created.txt", Description: "Create a file"}, req.Payload)

	pol := policy.New(config.PolicyConfig{Allow: []string{"Bash(echo:*)"}}, dir)
	d = newDecider(false)
	res = execute(t, toolCtx(dir), NewShellTool(Deps{Gate: d.gate, Policy: pol}), map[string]any{"command": "echo allowed"})
	assert.False(t, res.IsError)
	assert.Contains(t, res.Content, "allowed")
	assert.Empty(t, d.seen())
}

func TestShell_Hooks(t *testing.T) {
	dir := t.TempDir()

	h := newStubHooks().deny(hooks.EventBeforeShellExecution, "no shells on fridays")
	res := execute(t, toolCtx(dir), NewShellTool(Deps{Hooks: h}), map[string]any{"command": "touch x"})
	assert.True(t, res.IsDenied())
	assert.Contains(t, res.Content, "no shells on fridays")
	assert.NoFileExists(t, filepath.Join(dir, "x"))

	h = newStubHooks()
	res = execute(t, toolCtx(dir), NewShellTool(Deps{Hooks: h}), map[string]any{"command": "echo hi; exit 4"})
	assert.True(t, res.IsError)
	payload, ok := h.payload(hooks.EventAfterShellExecution)
	require.True(t, ok)
	assert.Equal(t, 4, payload["exit_code"])
	assert.Equal(t, "hi", payload["output"])
	assert.Equal(t, dir, payload["cwd"])
}

func TestShell_Truncates(t *testing.T) {
	res := execute(t, toolCtx(t.TempDir()), NewShellTool(Deps{MaxOutputChars: 200}), map[string]any{
		"command": "seq 1 2000",
	})

	assert.Contains(t, res.Content, "\n...\n")
	assert.True(t, strings.HasPrefix(res.Content, "Command: seq 1 2000\n1\n2\n"))
	assert.True(t, strings.HasSuffix(res.Content, "Exit code: 0"))
}

func TestShell_BackgroundLifecycle(t *testing.T) {
	dir := t.TempDir()
	deps := Deps{Processes: newProcesses(t)}
	ctx := toolCtx(dir)

	res := execute(t, ctx, NewShellTool(deps), map[string]any{
		"command":           "echo started; sleep 30",
		"run_in_background": true,
	})
	require.False(t, res.IsError, res.Content)
	id, ok := res.Metadata["bash_id"].(string)
	require.True(t, ok)
	assert.Contains(t, res.Content, "Background process started with ID: "+id)

	output := NewShellOutputTool(deps)
	require.Eventually(t, func() bool {
		out := execute(t, ctx, output, map[string]any{"bash_id": id})
		return strings.Contains(out.Content, "STDOUT:\nstarted")
	}, 5*time.Second, 20*time.Millisecond)

	out := execute(t, ctx, output, map[string]any{"bash_id": id})
	assert.Equal(t, "Shell ID: "+id+"\nStatus: running\n\n(No new output since last check)", out.Content)

	kill := NewKillShellTool(deps)
	res = execute(t, ctx, kill, map[string]any{"bash_id": id})
	assert.False(t, res.IsError)
	assert.Equal(t, "Shell ID: "+id+"\n✓ Shell successfully terminated.", res.Content)

	out = execute(t, ctx, output, map[string]any{"bash_id": id})
	assert.Contains(t, out.Content, "Status: terminated")

	res = execute(t, ctx, kill, map[string]any{"bash_id": id})
	assert.Contains(t, res.Content, "✗ Shell has already been terminated.")
}

func TestShellOutput_FilterAndCompletion(t *testing.T) {
	deps := Deps{Processes: newProcesses(t)}
	ctx := toolCtx(t.TempDir())

	res := execute(t, ctx, NewShellTool(deps), map[string]any{
		"command":           "printf 'apple\\nbanana\\navocado\\n'",
		"run_in_background": true,
	})
	id := res.Metadata["bash_id"].(string)

	require.Eventually(t, func() bool {
		snap, err := deps.Processes.Output(id)
		return err == nil && snap.Status == procmgr.StatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	out := execute(t, ctx, NewShellOutputTool(deps), map[string]any{"bash_id": id, "filter": "a.*"})
	assert.Equal(t, "Shell ID: "+id+"\nStatus: completed\nExit code: 0\n\nSTDOUT:\napple\navocado", out.Content)

	kill := execute(t, ctx, NewKillShellTool(deps), map[string]any{"bash_id": id})
	assert.Contains(t, kill.Content, "✗ Shell has already completed with exit code 0")

	out = execute(t, ctx, NewShellOutputTool(deps), map[string]any{"bash_id": id, "filter": "("})
	assert.True(t, out.IsError)
	assert.Contains(t, out.Content, "invalid filter")
}

func TestShellOutput_UnknownID(t *testing.T) {
	deps := Deps{Processes: newProcesses(t)}
	ctx := toolCtx(t.TempDir())

	out := execute(t, ctx, NewShellOutputTool(deps), map[string]any{"bash_id": "nope"})
	assert.Equal(t, "Shell ID: nope\nStatus: not_found", out.Content)

	res := execute(t, ctx, NewKillShellTool(deps), map[string]any{"bash_id": "nope"})
	assert.Equal(t, "Shell ID: nope\n✗ "+shellNotFoundMessage, res.Content)
}

func TestShell_BackgroundWithoutRegistry(t *testing.T) {
	res := execute(t, toolCtx(t.TempDir()), NewShellTool(Deps{}), map[string]any{
		"command":           "sleep 1",
		"run_in_background": true,
	})
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content, "Failed to execute command")
}

func TestShell_CancelKillsCommand(t *testing.T) {
	ctx, cancel := context.WithCancel(toolCtx(t.TempDir()))
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	res := execute(t, ctx, NewShellTool(Deps{}), map[string]any{"command": "sleep 30"})

	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Contains(t, res.Content, "Command cancelled")
}

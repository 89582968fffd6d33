package hooks

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunScript_ReturnsObject(t *testing.T) {
	payload := map[string]any{"tool_input": map[string]any{"path": "a.txt"}}
	o := runScript(context.Background(),
		`({updated_input: {path: payload.tool_input.path + ".bak"}})`,
		time.Second, EventBeforeToolUse, payload)

	require.Equal(t, KindSuccess, o.Kind, o.String())
	in, ok := o.UpdatedInput()
	require.True(t, ok)
	assert.Equal(t, "a.txt.bak", in["path"])
}

func TestRunScript_DenyFunction(t *testing.T) {
	o := runScript(context.Background(),
		`if (event === "before_shell_execution" && payload.command.indexOf("rm ") === 0) deny("rm is blocked")`,
		time.Second, EventBeforeShellExecution, map[string]any{"command": "rm -rf /"})

	require.Equal(t, KindDenied, o.Kind)
	assert.Equal(t, "rm is blocked", o.Reason)
}

func TestRunScript_DecisionDenyViaCheckDenial(t *testing.T) {
	o := runScript(context.Background(), `({decision: "deny", reason: "nope"})`, time.Second, EventBeforeToolUse, nil)

	require.Equal(t, KindSuccess, o.Kind)
	reason, denied := CheckDenial([]Outcome{o})
	assert.True(t, denied)
	assert.Equal(t, "nope", reason)
}

func TestRunScript_ThrowFails(t *testing.T) {
	o := runScript(context.Background(), `throw new Error("boom")`, time.Second, EventStop, nil)

	require.Equal(t, KindFailure, o.Kind)
	assert.Contains(t, o.Err.Error(), "boom")
}

func TestRunScript_Timeout(t *testing.T) {
	o := runScript(context.Background(), `while (true) {}`, 50*time.Millisecond, EventStop, nil)

	assert.Equal(t, KindTimeout, o.Kind)
}

func TestRunScript_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hook.js")
	require.NoError(t, os.WriteFile(path, []byte(`({ok: true})`), 0o600))

	o := runScript(context.Background(), path, time.Second, EventStop, nil)

	require.Equal(t, KindSuccess, o.Kind)
	assert.Equal(t, true, o.Output["ok"])
}

func TestRunScript_MissingFile(t *testing.T) {
	o := runScript(context.Background(), filepath.Join(t.TempDir(), "missing.js"), time.Second, EventStop, nil)

	assert.Equal(t, KindFailure, o.Kind)
}

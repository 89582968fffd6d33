package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	Reset()
	defer Reset()

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 60*time.Second, cfg.Process.IdleTimeout)
	assert.Equal(t, 30*time.Second, cfg.Process.RetainOutput)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 2.0, cfg.Retry.Multiplier)
	assert.Equal(t, 1, cfg.Delegate.MaxDepth)
	assert.Equal(t, "127.0.0.1:7420", cfg.Server.Addr())
	assert.Contains(t, cfg.Policy.Ask, "shell(find * -delete*)")
	assert.Same(t, cfg, GetConfig())
}

func TestLoadFromFile(t *testing.T) {
	Reset()
	defer Reset()

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
log:
  level: debug
process:
  idle_timeout: 5s
hooks:
  before_tool_use:
    - command: ./check.sh
      matcher: "^shell$"
      timeout: 3
mcp:
  servers:
    alpha:
      name: Alpha Tools
      transport: stdio
      command: alpha-server
      version: ">= 1.2"
agents:
  explore:
    description: read-only explorer
    tools: [read_file]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 5*time.Second, cfg.Process.IdleTimeout)
	require.Len(t, cfg.Hooks.BeforeToolUse, 1)
	assert.Equal(t, "./check.sh", cfg.Hooks.BeforeToolUse[0].Command)
	assert.Equal(t, 3, cfg.Hooks.BeforeToolUse[0].Timeout)
	assert.Equal(t, "Alpha Tools", cfg.MCP.Servers["alpha"].Name)
	assert.Equal(t, ">= 1.2", cfg.MCP.Servers["alpha"].Version)
	assert.Equal(t, []string{"read_file"}, cfg.Agents["explore"].Tools)
	assert.Equal(t, path, Path())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	Reset()
	defer Reset()

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadInvalidYAML(t *testing.T) {
	Reset()
	defer Reset()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log: [unterminated"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverride(t *testing.T) {
	Reset()
	defer Reset()
	t.Setenv("AGENTCORE_SERVER_PORT", "9999")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.Port)
}

func TestAgentAndDelegateAccessors(t *testing.T) {
	disabled := false
	a := AgentConfig{Enabled: &disabled, Timeout: "bogus"}
	assert.False(t, a.IsEnabled())
	assert.Equal(t, 20*time.Minute, a.GetTimeout())
	assert.Equal(t, 25, a.GetMaxIterations())

	assert.Equal(t, 1, (&DelegateConfig{}).GetMaxDepth())
	assert.Equal(t, 5, (&DelegateConfig{MaxDepth: 9}).GetMaxDepth())
	assert.Equal(t, 2, (&DelegateConfig{MaxDepth: 2}).GetMaxDepth())
}

func TestSaveToRoundTrip(t *testing.T) {
	Reset()
	defer Reset()

	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Policy.Allow = []string{"Bash(git status)"}

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, SaveTo(cfg, path))

	Reset()
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Bash(git status)"}, loaded.Policy.Allow)
}

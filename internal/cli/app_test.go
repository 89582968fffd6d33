package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentcore/internal/config"
	"agentcore/internal/provider"
	"agentcore/internal/runner/delegate"
	"agentcore/internal/storage"
	"agentcore/internal/tools/builtin"
)

// cannedProvider answers every chat with the same text.
type cannedProvider struct {
	mu    sync.Mutex
	reply string
	calls int
}

func (p *cannedProvider) Name() string     { return "canned" }
func (p *cannedProvider) Models() []string { return []string{"canned-1"} }

func (p *cannedProvider) Chat(ctx context.Context, req provider.ChatRequest) (*provider.ChatResponse, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	return &provider.ChatResponse{
		Content:      p.reply,
		FinishReason: "stop",
		Usage:        &provider.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

func loadDefaults(t *testing.T) *config.Config {
	t.Helper()
	config.Reset()
	t.Cleanup(config.Reset)
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, db *storage.DB, p provider.Provider) *App {
	t.Helper()
	app, err := NewApp(cfg, db, AppOptions{WorkDir: t.TempDir(), Provider: p})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = app.Close(ctx)
	})
	return app
}

func TestNewApp_RegistersTools(t *testing.T) {
	cfg := loadDefaults(t)
	app := newTestApp(t, cfg, nil, &cannedProvider{reply: "ok"})

	names := app.Tools.Names()
	for _, name := range builtin.ToolNames() {
		assert.Contains(t, names, name)
	}
	assert.Contains(t, names, delegate.ToolName)

	cfg.Delegate.Enabled = false
	app = newTestApp(t, cfg, nil, &cannedProvider{reply: "ok"})
	assert.NotContains(t, app.Tools.Names(), delegate.ToolName)
}

func TestNewApp_UnknownProvider(t *testing.T) {
	cfg := loadDefaults(t)
	cfg.Provider.Default = "nope"
	_, err := NewApp(cfg, nil, AppOptions{WorkDir: t.TempDir()})
	assert.Error(t, err)
}

func TestNewApp_ApprovalAuditLog(t *testing.T) {
	cfg := loadDefaults(t)
	cfg.Approval.AuditLog = filepath.Join(t.TempDir(), "approvals.jsonl")
	app := newTestApp(t, cfg, nil, &cannedProvider{reply: "ok"})
	assert.NotNil(t, app.Gate)
	assert.Len(t, app.closers, 1)
}

func TestRunPrompt_CheckpointsConversation(t *testing.T) {
	cfg := loadDefaults(t)
	db, err := storage.Open(filepath.Join(t.TempDir(), "agentcore.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	p := &cannedProvider{reply: "hello there"}
	app := newTestApp(t, cfg, db, p)

	var out, status bytes.Buffer
	sink := newTerminalSink(&out, &status, false)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, runPrompt(ctx, app, "s1", "hi", sink))
	assert.Contains(t, out.String(), "hello there")
	assert.Equal(t, 1, p.calls)

	threads, err := db.ListThreads(ctx)
	require.NoError(t, err)
	require.Len(t, threads, 1)

	info, ok := app.Orchestrator.Session("s1")
	require.True(t, ok)
	assert.Equal(t, threads[0].AgentID, info.AgentID)
}

func TestReadPrompt(t *testing.T) {
	p, err := readPrompt([]string{"list", "files"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "list files", p)

	p, err = readPrompt(nil, bytes.NewBufferString("  from stdin\n"))
	require.NoError(t, err)
	assert.Equal(t, "from stdin", p)

	_, err = readPrompt(nil, bytes.NewBufferString("   "))
	assert.Error(t, err)
}

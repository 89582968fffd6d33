package builtin

import (
	"context"
	"testing"
	"time"

	"agentcore/internal/config"
	"agentcore/internal/hooks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditHook_RecordsToolCalls(t *testing.T) {
	store := NewMemoryAuditStore(10)
	m := hooks.NewManager(config.HooksConfig{})
	require.NoError(t, RegisterAuditHooks(m, NewAuditHook(store, true)))

	out := m.Evaluate(context.Background(), hooks.EventAfterToolUse,
		map[string]any{"tool_input": map[string]any{"path": "a.go"}},
		hooks.Target{ToolName: "read_file", ToolUseID: "t1", SessionID: "s1"})

	require.Len(t, out, 1)
	assert.Equal(t, hooks.KindSuccess, out[0].Kind)

	records := store.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "read_file", records[0].ToolName)
	assert.Equal(t, "t1", records[0].ToolUseID)
	assert.Equal(t, "s1", records[0].SessionID)
	assert.Equal(t, 1, records[0].InputCount)
	assert.Equal(t, `{"path":"a.go"}`, records[0].InputHash)
}

func TestMemoryAuditStore_Bounded(t *testing.T) {
	store := NewMemoryAuditStore(2)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Store(&AuditRecord{ID: id}))
	}
	records := store.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "b", records[0].ID)
	assert.Equal(t, "c", records[1].ID)
}

func TestRateLimitHook_DeniesOverBudget(t *testing.T) {
	h := NewRateLimitHook(2, time.Minute)
	now := time.Unix(1000, 0)
	h.now = func() time.Time { return now }

	m := hooks.NewManager(config.HooksConfig{})
	require.NoError(t, RegisterRateLimitHook(m, h))
	ctx := context.Background()
	target := hooks.Target{ToolName: "shell", SessionID: "s1"}

	for i := 0; i < 2; i++ {
		_, denied := hooks.CheckDenial(m.Evaluate(ctx, hooks.EventBeforeToolUse, nil, target))
		assert.False(t, denied)
	}
	reason, denied := hooks.CheckDenial(m.Evaluate(ctx, hooks.EventBeforeToolUse, nil, target))
	assert.True(t, denied)
	assert.Contains(t, reason, "rate limit exceeded")

	_, denied = hooks.CheckDenial(m.Evaluate(ctx, hooks.EventBeforeToolUse, nil, hooks.Target{SessionID: "s2"}))
	assert.False(t, denied)

	now = now.Add(2 * time.Minute)
	_, denied = hooks.CheckDenial(m.Evaluate(ctx, hooks.EventBeforeToolUse, nil, target))
	assert.False(t, denied)

	h.Reset("s1")
}

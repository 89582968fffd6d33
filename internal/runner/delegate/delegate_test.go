package delegate

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"agentcore/internal/config"
	"agentcore/internal/events"
	"agentcore/internal/hooks"
	"agentcore/internal/provider"
	"agentcore/internal/runner"
	"agentcore/internal/storage"
	"agentcore/internal/tools"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTool struct {
	tools.BaseTool
	output string
}

func newStubTool(name, output string) *stubTool {
	return &stubTool{BaseTool: tools.BaseTool{ToolName: name, ToolDescription: name}, output: output}
}

func (s *stubTool) Execute(context.Context, map[string]any) (tools.ToolResult, error) {
	return tools.NewSuccessResult(s.output), nil
}

// scriptedAgent dispatches a fixed list of tool calls against the sink it was
// built with, then answers.
type scriptedAgent struct {
	spec   ChildSpec
	calls  []string
	tokens int64
	answer string
	err    error
}

func (a *scriptedAgent) ID() string                        { return "child" }
func (a *scriptedAgent) Checkpoint() storage.CheckpointRef { return storage.CheckpointRef{} }

func (a *scriptedAgent) Run(ctx context.Context, msg runner.Message) (string, error) {
	reg := tools.NewRegistry()
	for _, name := range a.calls {
		reg.Put(newStubTool(name, "result of "+name))
	}
	d := tools.NewDispatcher(reg, a.spec.Sink)
	for _, name := range a.calls {
		d.Dispatch(ctx, tools.Call{Name: name})
	}
	if a.tokens > 0 {
		a.spec.Sink.OnTokenUsage(a.tokens)
	}
	return a.answer, a.err
}

type fakeChildren struct {
	mu     sync.Mutex
	specs  []ChildSpec
	agent  *scriptedAgent
	newErr error
}

func (f *fakeChildren) NewChild(_ context.Context, spec ChildSpec) (runner.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.specs = append(f.specs, spec)
	if f.newErr != nil {
		return nil, f.newErr
	}
	f.agent.spec = spec
	return f.agent, nil
}

type recordingHooks struct {
	mu       sync.Mutex
	denyOn   hooks.Event
	reason   string
	events   []hooks.Event
	payloads []map[string]any
}

func (h *recordingHooks) Evaluate(_ context.Context, event hooks.Event, payload map[string]any, _ hooks.Target) []hooks.Outcome {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
	h.payloads = append(h.payloads, payload)
	if event == h.denyOn {
		return []hooks.Outcome{hooks.Denied(h.reason)}
	}
	return nil
}

func (h *recordingHooks) payload(event hooks.Event) map[string]any {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, e := range h.events {
		if e == event {
			return h.payloads[i]
		}
	}
	return nil
}

type memRecorder struct {
	mu      sync.Mutex
	records []*storage.Delegation
}

func (r *memRecorder) RecordDelegation(_ context.Context, d *storage.Delegation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, d)
	return nil
}

func noAgents() map[string]config.AgentConfig { return nil }

func dispatchTask(t *testing.T, tool *Tool, ctx context.Context, args map[string]any) (*tools.Invocation, *events.Recorder) {
	t.Helper()
	rec := events.NewRecorder()
	ctx = tools.WithSessionID(ctx, "s1")
	inv := tools.NewDispatcher(tools.NewRegistry(tool), rec).Dispatch(ctx, tools.Call{ID: "task-1", Name: ToolName, Args: args})
	return inv, rec
}

func taskArgs(subagentType string) map[string]any {
	return map[string]any{
		"description":   "find the config",
		"prompt":        "Locate where the config is loaded.",
		"subagent_type": subagentType,
	}
}

func TestTask_NestedEventOrder(t *testing.T) {
	children := &fakeChildren{agent: &scriptedAgent{calls: []string{"read_file", "shell"}, tokens: 1500, answer: "found it"}}
	recorder := &memRecorder{}
	tool := NewTool(Options{Children: children, Recorder: recorder, Agents: noAgents})

	inv, rec := dispatchTask(t, tool, context.Background(), taskArgs("explore"))
	require.Equal(t, tools.StatusSuccess, inv.Status)

	var evs []events.Event
	usage := 0
	for _, ev := range rec.Events() {
		if ev.Type == events.TypeTokenUsage {
			usage++
			continue
		}
		evs = append(evs, ev)
	}
	assert.Equal(t, 1, usage)
	require.Len(t, evs, 6)
	assert.Equal(t, events.TypeToolStarting, evs[0].Type)
	assert.Equal(t, "task-1", evs[0].ID)

	a, aDone, b, bDone := evs[1], evs[2], evs[3], evs[4]
	assert.Equal(t, events.TypeSubToolStarting, a.Type)
	assert.Equal(t, "read_file", a.ToolName)
	assert.Equal(t, events.TypeSubToolCompleted, aDone.Type)
	assert.Equal(t, events.TypeSubToolStarting, b.Type)
	assert.Equal(t, "shell", b.ToolName)
	assert.Equal(t, events.TypeSubToolCompleted, bDone.Type)
	for _, ev := range []events.Event{a, aDone, b, bDone} {
		assert.Equal(t, "task-1", ev.ParentID)
	}
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, a.ID, aDone.ID)
	assert.Equal(t, b.ID, bDone.ID)
	assert.NotEqual(t, a.ID, b.ID)

	assert.Equal(t, events.TypeToolCompleted, evs[5].Type)
	assert.Equal(t, "task-1", evs[5].ID)

	content := inv.Result.Content
	assert.True(t, strings.HasPrefix(content, "Agent: explore\nDescription: find the config\nDurationMs: "))
	assert.Contains(t, content, "\nTotalTokens: 1K\n")
	assert.True(t, strings.HasSuffix(content, "\nOutput:\nfound it"))

	require.Len(t, children.specs, 1)
	spec := children.specs[0]
	assert.Equal(t, "s1", spec.SessionID)
	assert.Equal(t, Explore, spec.Definition.Name)
	assert.False(t, spec.CanDelegate)

	require.Len(t, recorder.records, 1)
	assert.Equal(t, storage.DelegationCompleted, recorder.records[0].Status)
	assert.EqualValues(t, 1500, recorder.records[0].Tokens)
	assert.Equal(t, "task-1", recorder.records[0].ParentToolUseID)
	assert.Equal(t, 1, recorder.records[0].Depth)
}

func TestTask_ForwardsChildTokenUsage(t *testing.T) {
	children := &fakeChildren{agent: &scriptedAgent{tokens: 700, answer: "ok"}}
	tool := NewTool(Options{Children: children, Agents: noAgents})

	_, rec := dispatchTask(t, tool, context.Background(), taskArgs("general-purpose"))
	usage := rec.OfType(events.TypeTokenUsage)
	require.Len(t, usage, 1)
	assert.EqualValues(t, 700, usage[0].Tokens)
}

func TestTask_DepthGuard(t *testing.T) {
	children := &fakeChildren{agent: &scriptedAgent{answer: "unused"}}
	tool := NewTool(Options{Children: children, Agents: noAgents})

	ctx := WithDelegateContext(context.Background(), &DelegateContext{Depth: 1, MaxDepth: 1, Chain: []string{"explore"}})
	inv, _ := dispatchTask(t, tool, ctx, taskArgs("general-purpose"))

	assert.Equal(t, tools.StatusError, inv.Status)
	assert.Contains(t, inv.Result.Content, "Error: delegation depth 1 exceeds maximum 1")
	assert.Empty(t, children.specs)
}

func TestTask_CircularDelegation(t *testing.T) {
	children := &fakeChildren{agent: &scriptedAgent{answer: "unused"}}
	tool := NewTool(Options{Children: children, MaxDepth: 3, Agents: noAgents})

	ctx := WithDelegateContext(context.Background(), &DelegateContext{Depth: 1, MaxDepth: 3, Chain: []string{"explore"}})
	inv, _ := dispatchTask(t, tool, ctx, taskArgs("Explore"))

	assert.Contains(t, inv.Result.Content, "circular delegation detected: explore -> explore")
	assert.Empty(t, children.specs)
}

func TestTask_UnknownType(t *testing.T) {
	tool := NewTool(Options{Children: &fakeChildren{}, Agents: func() map[string]config.AgentConfig {
		return map[string]config.AgentConfig{"reviewer": {Description: "Reviews diffs"}}
	}})

	inv, _ := dispatchTask(t, tool, context.Background(), taskArgs("planner"))
	assert.Contains(t, inv.Result.Content,
		"Error: Unknown agent type: 'planner'. Valid types are: general-purpose, explore, reviewer.")
}

func TestTask_StartHookDenial(t *testing.T) {
	children := &fakeChildren{agent: &scriptedAgent{answer: "unused"}}
	h := &recordingHooks{denyOn: hooks.EventSubagentStart, reason: "no sub-agents on main"}
	recorder := &memRecorder{}
	tool := NewTool(Options{Children: children, Hooks: h, Recorder: recorder, Agents: noAgents})

	inv, _ := dispatchTask(t, tool, context.Background(), taskArgs("explore"))

	assert.Equal(t, tools.StatusDenied, inv.Status)
	assert.Equal(t, "no sub-agents on main", inv.Result.Content)
	assert.Empty(t, children.specs)
	assert.Nil(t, h.payload(hooks.EventSubagentStop))
	assert.Equal(t, map[string]any{
		"subagent_type": "explore",
		"description":   "find the config",
		"prompt":        "Locate where the config is loaded.",
	}, h.payload(hooks.EventSubagentStart))

	require.Len(t, recorder.records, 1)
	assert.Equal(t, storage.DelegationDenied, recorder.records[0].Status)
}

func TestTask_ChildFailure(t *testing.T) {
	boom := provider.NewProviderError(provider.ErrCodeServiceUnavailable, "upstream   overloaded\n", "ollama", true)
	children := &fakeChildren{agent: &scriptedAgent{err: boom}}
	h := &recordingHooks{}
	recorder := &memRecorder{}
	tool := NewTool(Options{Children: children, Hooks: h, Recorder: recorder, Agents: noAgents})

	inv, _ := dispatchTask(t, tool, context.Background(), taskArgs("explore"))

	assert.Equal(t, tools.StatusError, inv.Status)
	assert.Contains(t, inv.Result.Content, "Output:\nError: Subagent 'explore' failed in the LLM client: upstream overloaded")

	stop := h.payload(hooks.EventSubagentStop)
	require.NotNil(t, stop)
	assert.Equal(t, "error", stop["status"])
	assert.Equal(t, "explore", stop["subagent_type"])
	assert.Contains(t, stop, "duration")

	require.Len(t, recorder.records, 1)
	assert.Equal(t, storage.DelegationFailed, recorder.records[0].Status)
}

func TestTask_CancelledChild(t *testing.T) {
	children := &fakeChildren{agent: &scriptedAgent{err: context.Canceled}}
	recorder := &memRecorder{}
	tool := NewTool(Options{Children: children, Recorder: recorder, Agents: noAgents})

	inv, _ := dispatchTask(t, tool, context.Background(), taskArgs("explore"))
	assert.Contains(t, inv.Result.Content, "Subagent 'explore' was cancelled.")
	require.Len(t, recorder.records, 1)
	assert.Equal(t, storage.DelegationCancelled, recorder.records[0].Status)
}

func TestTask_StopHookCompleted(t *testing.T) {
	children := &fakeChildren{agent: &scriptedAgent{answer: "all good"}}
	h := &recordingHooks{}
	tool := NewTool(Options{Children: children, Hooks: h, Agents: noAgents})

	_, _ = dispatchTask(t, tool, context.Background(), taskArgs("explore"))

	stop := h.payload(hooks.EventSubagentStop)
	require.NotNil(t, stop)
	assert.Equal(t, "completed", stop["status"])
	assert.Equal(t, "all good", stop["result"])
	assert.Equal(t, []hooks.Event{
		hooks.EventBeforeToolUse,
		hooks.EventSubagentStart,
		hooks.EventSubagentStop,
		hooks.EventAfterToolUse,
	}, h.events)
}

func TestTask_ChildFactoryError(t *testing.T) {
	tool := NewTool(Options{Children: &fakeChildren{newErr: errors.New("no provider")}, Agents: noAgents})

	inv, _ := dispatchTask(t, tool, context.Background(), taskArgs("explore"))
	assert.Contains(t, inv.Result.Content, "Error: Subagent 'explore' failed: no provider")
}

func TestTask_Description(t *testing.T) {
	tool := NewTool(Options{Agents: func() map[string]config.AgentConfig {
		return map[string]config.AgentConfig{"reviewer": {Description: "Reviews diffs"}}
	}})
	desc := tool.Description()
	assert.Contains(t, desc, "- general-purpose: ")
	assert.Contains(t, desc, "- explore: ")
	assert.Contains(t, desc, "- reviewer: Reviews diffs")

	params := tool.Parameters()
	assert.ElementsMatch(t, []string{"description", "prompt", "subagent_type"}, params["required"])
}

func TestTaskResult_ToolResult(t *testing.T) {
	res := TaskResult{AgentType: "explore", Description: "d", DurationMs: 12, Output: "out"}.ToolResult()
	assert.Equal(t, "Agent: explore\nDescription: d\nDurationMs: 12\n\nOutput:\nout", res.Content)
	assert.False(t, res.IsError)

	res = TaskResult{AgentType: "explore", TotalTokens: 999, Output: "Error: boom"}.ToolResult()
	assert.Contains(t, res.Content, "TotalTokens: 999\n")
	assert.True(t, res.IsError)
}

func TestNormalizeOutput(t *testing.T) {
	assert.Equal(t, "fine", normalizeOutput("fine", "explore"))
	assert.True(t, strings.HasPrefix(normalizeOutput(" Something went wrong. ", "explore"),
		"Error: Subagent 'explore' returned a generic failure message"))
}

func TestFormatFailure(t *testing.T) {
	assert.Equal(t, "Subagent 'x' received an invalid model response: no content and no tool calls were returned.",
		formatFailure("x", runner.ErrEmptyResponse))
	assert.Equal(t, "Subagent 'x' timed out.", formatFailure("x", context.DeadlineExceeded))
	assert.Equal(t, "Subagent 'x' failed: a b", formatFailure("x", errors.New("a \n\t b")))
}

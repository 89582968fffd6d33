package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"agentcore/internal/events"
	"agentcore/internal/hooks"
	"agentcore/internal/metrics"
	"agentcore/internal/provider"
	"agentcore/internal/storage"
	"agentcore/internal/tools"

	"github.com/google/uuid"
	"github.com/kaptinlin/jsonrepair"
	"github.com/rs/zerolog/log"
)

const previewLength = 120

// retrier is implemented by providers that report retries as they happen.
type retrier interface {
	ChatWithRetry(ctx context.Context, req provider.ChatRequest, onRetry provider.RetryFunc) (*provider.ChatResponse, error)
}

// LoopOptions configures a LoopAgent.
type LoopOptions struct {
	// AgentID names the checkpoint thread. Empty mints a new one, unless
	// Resume is set.
	AgentID   string
	SessionID string
	WorkDir   string

	Provider provider.Provider
	Tools    *tools.Registry
	Sink     events.Sink
	Hooks    hooks.Evaluator
	Store    CheckpointStore
	Pending  PendingSource

	Config     Config
	ScrubRules []CompiledScrubRule

	// Resume seeds the history from a checkpoint.
	Resume *storage.Checkpoint
}

// LoopAgent is the default Agent: it alternates model calls and tool calls
// until the model answers without asking for tools.
type LoopAgent struct {
	id         string
	sessionID  string
	workDir    string
	cfg        Config
	prov       provider.Provider
	registry   *tools.Registry
	sink       events.Sink
	hooks      hooks.Evaluator
	store      CheckpointStore
	pending    PendingSource
	history    *HistoryManager
	prompt     *PromptBuilder
	scrubRules []CompiledScrubRule

	running atomic.Bool

	mu    sync.Mutex
	state State
	last  storage.CheckpointRef
}

// NewLoopAgent creates a LoopAgent.
func NewLoopAgent(opts LoopOptions) (*LoopAgent, error) {
	if opts.Provider == nil {
		return nil, ErrNoProvider
	}
	cfg := opts.Config.normalized()

	a := &LoopAgent{
		id:         opts.AgentID,
		sessionID:  opts.SessionID,
		workDir:    opts.WorkDir,
		cfg:        cfg,
		prov:       opts.Provider,
		registry:   opts.Tools,
		sink:       opts.Sink,
		hooks:      opts.Hooks,
		store:      opts.Store,
		pending:    opts.Pending,
		history:    NewHistoryManager(cfg.MaxMessages, cfg.MaxContextTokens),
		scrubRules: opts.ScrubRules,
	}
	if a.registry == nil {
		a.registry = tools.NewRegistry()
	}
	if a.sink == nil {
		a.sink = events.Nop
	}
	if a.hooks == nil {
		a.hooks = hooks.Nop{}
	}

	if cp := opts.Resume; cp != nil {
		state, err := DecodeState(cp)
		if err != nil {
			log.Warn().
				Err(err).
				Str("session", a.sessionID).
				Str("checkpoint", cp.ID).
				Msg("unreadable checkpoint; starting fresh")
		} else {
			state.Messages = state.ResumeMessages()
			a.state = state
			a.last = cp.Ref()
			if a.id == "" {
				a.id = cp.AgentID
			}
		}
	}
	if a.id == "" {
		a.id = uuid.NewString()
	}

	a.prompt = NewPromptBuilder(a.registry)
	a.prompt.SetBasePrompt(cfg.SystemPrompt)
	a.prompt.SetWorkDir(a.workDir)
	return a, nil
}

// ID implements Agent.
func (a *LoopAgent) ID() string {
	return a.id
}

// Checkpoint implements Agent.
func (a *LoopAgent) Checkpoint() storage.CheckpointRef {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

// State returns a copy of the agent's conversation state.
func (a *LoopAgent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.state
	s.Messages = append([]provider.Message(nil), a.state.Messages...)
	return s
}

// Run implements Agent. Queued messages are picked up after each batch of
// tool results, and a checkpoint is saved after every model turn.
func (a *LoopAgent) Run(ctx context.Context, msg Message) (string, error) {
	if !a.running.CompareAndSwap(false, true) {
		return "", ErrAgentBusy
	}
	defer a.running.Store(false)

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()
	ctx = tools.WithSessionID(ctx, a.sessionID)
	ctx = tools.WithAgentID(ctx, a.id)
	if a.workDir != "" {
		ctx = tools.WithWorkDir(ctx, a.workDir)
	}

	providerTools, err := a.registry.ToProviderTools()
	if err != nil {
		return "", fmt.Errorf("build tool definitions: %w", err)
	}
	dispatcher := tools.NewDispatcher(a.registry, a.sink)

	a.appendMessages(provider.Message{Role: provider.RoleUser, Content: msg.Content})

	for iteration := 0; iteration < a.cfg.MaxIterations; iteration++ {
		resp, err := a.chat(ctx, providerTools)
		if err != nil {
			a.save(ctx, a.turnNode())
			return "", err
		}

		a.mu.Lock()
		a.state.Turn++
		if resp.Usage != nil {
			a.state.Tokens += int64(resp.Usage.TotalTokens)
		}
		a.mu.Unlock()

		if resp.Usage != nil {
			a.sink.OnTokenUsage(int64(resp.Usage.TotalTokens))
		}
		if resp.Content != "" {
			a.sink.OnTextReceived(resp.Content)
		}
		a.appendMessages(provider.Message{
			Role:      provider.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		if len(resp.ToolCalls) == 0 {
			if resp.Content == "" {
				a.save(ctx, a.turnNode())
				return "", ErrEmptyResponse
			}
			if reason, blocked := a.stopBlocked(ctx, resp.Content); blocked {
				log.Debug().Str("session", a.sessionID).Str("reason", reason).Msg("stop hook asked to continue")
				a.appendMessages(provider.Message{Role: provider.RoleUser, Content: reason})
				a.save(ctx, a.turnNode())
				continue
			}
			a.save(ctx, storage.FinishNode)
			return resp.Content, nil
		}

		for _, tc := range resp.ToolCalls {
			a.appendMessages(a.invoke(ctx, dispatcher, tc))
		}
		a.drainPending()
		a.save(ctx, a.turnNode())

		if err := ctx.Err(); err != nil {
			return "", err
		}
	}

	log.Warn().
		Str("session", a.sessionID).
		Int("max_iterations", a.cfg.MaxIterations).
		Msg("agent loop hit iteration bound")
	return "", ErrMaxIterations
}

func (a *LoopAgent) chat(ctx context.Context, providerTools []provider.Tool) (*provider.ChatResponse, error) {
	a.mu.Lock()
	history := append([]provider.Message(nil), a.state.Messages...)
	a.mu.Unlock()

	if a.history.ShouldCompress(history) {
		var compressed bool
		history, compressed = a.history.Compress(history)
		if compressed {
			log.Debug().Str("session", a.sessionID).Int("messages", len(history)).Msg("history compressed")
		}
	}

	messages := make([]provider.Message, 0, len(history)+1)
	messages = append(messages, provider.Message{Role: provider.RoleSystem, Content: a.prompt.Build()})
	messages = append(messages, history...)

	req := provider.ChatRequest{
		Model:       a.cfg.Model,
		Messages:    messages,
		Tools:       providerTools,
		Temperature: a.cfg.Temperature,
		MaxTokens:   a.cfg.MaxTokens,
	}
	if r, ok := a.prov.(retrier); ok {
		return r.ChatWithRetry(ctx, req, a.sink.OnRetry)
	}
	return a.prov.Chat(ctx, req)
}

// invoke runs one tool call and returns the tool message answering it.
func (a *LoopAgent) invoke(ctx context.Context, dispatcher *tools.Dispatcher, tc provider.ToolCall) provider.Message {
	args, err := parseArguments(tc.Arguments)
	if err != nil {
		log.Warn().
			Str("tool", tc.Name).
			Str("id", tc.ID).
			Int("args_len", len(tc.Arguments)).
			Err(err).
			Msg("failed to parse tool call arguments")
		result := tools.NewErrorResult(fmt.Sprintf(
			"Error: the tool call arguments are not valid JSON (received %d bytes). Call the tool again with complete arguments.",
			len(tc.Arguments)))
		a.sink.OnToolStarting(tc.ID, tc.Name, tc.Arguments)
		a.sink.OnToolCompleted(tc.ID, tc.Name, result)
		return provider.Message{Role: provider.RoleTool, Content: result.Content, ToolCallID: tc.ID}
	}

	inv := dispatcher.Dispatch(ctx, tools.Call{ID: tc.ID, Name: tc.Name, Args: args})
	return provider.Message{
		Role:       provider.RoleTool,
		Content:    ScrubCredentials(inv.Result.Content, a.scrubRules...),
		ToolCallID: inv.ID,
	}
}

func (a *LoopAgent) drainPending() {
	if a.pending == nil {
		return
	}
	queued := a.pending.Drain(a.sessionID)
	if len(queued) == 0 {
		return
	}
	for _, m := range queued {
		a.appendMessages(provider.Message{Role: provider.RoleUser, Content: m.Content})
	}
	a.sink.OnQueuedMessagesResolved()
}

// stopBlocked asks the stop hooks whether the run may end. A denial carries
// the instruction to continue with.
func (a *LoopAgent) stopBlocked(ctx context.Context, output string) (string, bool) {
	outcomes := a.hooks.Evaluate(ctx, hooks.EventStop, map[string]any{
		"status":     "completed",
		"result":     output,
		"session_id": a.sessionID,
	}, hooks.Target{SessionID: a.sessionID})
	return hooks.CheckDenial(outcomes)
}

func (a *LoopAgent) appendMessages(msgs ...provider.Message) {
	a.mu.Lock()
	a.state.Messages = append(a.state.Messages, msgs...)
	a.mu.Unlock()
}

func (a *LoopAgent) turnNode() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return fmt.Sprintf("turn/%d", a.state.Turn)
}

// save persists the current state. Failures are logged; a run never fails
// because its checkpoint could not be written.
func (a *LoopAgent) save(ctx context.Context, nodePath string) {
	if a.store == nil {
		return
	}

	a.mu.Lock()
	data, err := json.Marshal(a.state)
	preview := previewOf(a.state.Messages)
	a.mu.Unlock()
	if err != nil {
		log.Error().Err(err).Str("agent", a.id).Msg("failed to encode checkpoint")
		return
	}

	cp := &storage.Checkpoint{
		AgentID:   a.id,
		SessionID: a.sessionID,
		NodePath:  nodePath,
		Data:      data,
		Preview:   preview,
	}
	// The run's context may already be cancelled; the checkpoint is still
	// worth keeping.
	if err := a.store.SaveCheckpoint(context.WithoutCancel(ctx), cp); err != nil {
		log.Error().Err(err).Str("agent", a.id).Str("node", nodePath).Msg("failed to save checkpoint")
		return
	}
	metrics.Get().RecordCheckpoint()

	a.mu.Lock()
	a.last = cp.Ref()
	a.mu.Unlock()
}

// parseArguments decodes the model's argument text, repairing it first when
// it is not valid JSON.
func parseArguments(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(raw)
		if repairErr != nil {
			return nil, fmt.Errorf("repair arguments: %w", repairErr)
		}
		args = nil
		if err := json.Unmarshal([]byte(repaired), &args); err != nil {
			return nil, fmt.Errorf("decode repaired arguments: %w", err)
		}
		log.Debug().Str("raw", raw).Str("repaired", repaired).Msg("repaired tool call arguments")
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// previewOf summarizes a conversation by its latest user or assistant text.
func previewOf(msgs []provider.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if (m.Role == provider.RoleUser || m.Role == provider.RoleAssistant) && strings.TrimSpace(m.Content) != "" {
			return truncateRunes(strings.TrimSpace(m.Content), previewLength)
		}
	}
	return ""
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}

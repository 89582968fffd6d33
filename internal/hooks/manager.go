package hooks

import (
	"context"
	"fmt"
	"hash/fnv"
	"regexp"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"agentcore/internal/config"
	"agentcore/internal/metrics"

	"github.com/rs/zerolog/log"
)

// Manager evaluates configured command and script hooks followed by the
// in-process handlers of its registry.
type Manager struct {
	mu         sync.RWMutex
	hooks      map[Event][]config.HookConfig
	registry   *Registry
	projectDir string

	loopMu sync.Mutex
	loops  map[string]int
}

// ManagerOption configures the manager.
type ManagerOption func(*Manager)

// WithRegistry sets a custom registry.
func WithRegistry(r *Registry) ManagerOption {
	return func(m *Manager) {
		m.registry = r
	}
}

// WithProjectDir sets the working directory passed to command hooks.
func WithProjectDir(dir string) ManagerOption {
	return func(m *Manager) {
		m.projectDir = dir
	}
}

// NewManager creates a manager from the hooks section of the configuration.
func NewManager(cfg config.HooksConfig, opts ...ManagerOption) *Manager {
	m := &Manager{
		registry: NewRegistry(),
		loops:    make(map[string]int),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.Reload(cfg)
	return m
}

// Reload swaps the configured hooks. Loop counters survive.
func (m *Manager) Reload(cfg config.HooksConfig) {
	hooks := map[Event][]config.HookConfig{
		EventBeforeToolUse:        cfg.BeforeToolUse,
		EventAfterToolUse:         cfg.AfterToolUse,
		EventSubagentStart:        cfg.SubagentStart,
		EventSubagentStop:         cfg.SubagentStop,
		EventBeforeShellExecution: cfg.BeforeShellExecution,
		EventAfterShellExecution:  cfg.AfterShellExecution,
		EventBeforeReadFile:       cfg.BeforeReadFile,
		EventAfterFileEdit:        cfg.AfterFileEdit,
		EventStop:                 cfg.Stop,
	}
	m.mu.Lock()
	m.hooks = hooks
	m.mu.Unlock()
}

// Registry returns the in-process handler registry.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Register adds an in-process handler.
func (m *Manager) Register(event Event, handler *Handler) error {
	return m.registry.Register(event, handler)
}

// ResetLoops forgets the loop counters of a session.
func (m *Manager) ResetLoops(sessionID string) {
	prefix := sessionKey(sessionID) + ":"
	m.loopMu.Lock()
	defer m.loopMu.Unlock()
	for k := range m.loops {
		if strings.HasPrefix(k, prefix) {
			delete(m.loops, k)
		}
	}
}

// Evaluate runs every enabled hook of event whose matcher accepts the
// target, in configuration order, and returns their outcomes in order.
func (m *Manager) Evaluate(ctx context.Context, event Event, payload map[string]any, target Target) []Outcome {
	if payload == nil {
		payload = map[string]any{}
	}
	subject, hasSubject := matchSubject(event, payload, target)

	m.mu.RLock()
	configured := m.hooks[event]
	m.mu.RUnlock()

	var outcomes []Outcome
	for _, hook := range configured {
		if hook.Disabled || (hook.Command == "" && hook.Script == "") {
			continue
		}
		if !matcherAllows(hook.Matcher, subject, hasSubject) {
			continue
		}
		key := loopKey(target.SessionID, event, hook)
		if !m.loopAllows(event, key, hook.LoopLimit) {
			log.Debug().Str("event", string(event)).Str("hook", identity(hook)).Msg("hook loop limit reached")
			continue
		}

		outcome := m.runConfigured(ctx, event, hook, payload)
		m.loopIncrement(event, key)
		outcome.Source = identity(hook)
		logOutcome(event, outcome)
		outcomes = append(outcomes, outcome)
	}

	for _, h := range m.registry.Handlers(event) {
		if !h.Enabled || !matcherAllows(h.Matcher, subject, hasSubject) {
			continue
		}
		outcome := runHandler(ctx, h, &Input{Event: event, Payload: payload, Target: target})
		outcome.Source = h.ID
		logOutcome(event, outcome)
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

func (m *Manager) runConfigured(ctx context.Context, event Event, hook config.HookConfig, payload map[string]any) Outcome {
	timeout := time.Duration(hook.Timeout) * time.Second
	if hook.Script != "" {
		return runScript(ctx, hook.Script, timeout, event, payload)
	}
	return runCommand(ctx, hook.Command, m.projectDir, timeout, event, payload)
}

func (m *Manager) loopAllows(event Event, key string, limit int) bool {
	if limit <= 0 || !event.loopLimited() {
		return true
	}
	m.loopMu.Lock()
	defer m.loopMu.Unlock()
	return m.loops[key] < limit
}

func (m *Manager) loopIncrement(event Event, key string) {
	if !event.loopLimited() {
		return
	}
	m.loopMu.Lock()
	m.loops[key]++
	m.loopMu.Unlock()
}

// runHandler calls an in-process handler, turning panics into failures.
func runHandler(ctx context.Context, h *Handler, in *Input) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("handler_id", h.ID).
				Str("event", string(in.Event)).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("hook handler panic")
			outcome = Failure(fmt.Errorf("%w: %v", ErrHandlerPanic, r))
		}
	}()
	return h.Handle(ctx, in)
}

func logOutcome(event Event, o Outcome) {
	metrics.Get().RecordHook(string(event), string(o.Kind))
	switch o.Kind {
	case KindDenied:
		log.Warn().Str("event", string(event)).Str("hook", o.Source).Str("reason", o.Reason).Msg("hook denied operation")
	case KindFailure:
		log.Error().Err(o.Err).Str("event", string(event)).Str("hook", o.Source).Msg("hook failed")
	case KindTimeout:
		log.Warn().Err(o.Err).Str("event", string(event)).Str("hook", o.Source).Msg("hook timed out")
	default:
		log.Debug().Str("event", string(event)).Str("hook", o.Source).Msg("hook completed")
	}
}

// matchSubject picks the payload field a matcher is applied to.
func matchSubject(event Event, payload map[string]any, target Target) (string, bool) {
	str := func(key string) (string, bool) {
		v, ok := payload[key]
		if !ok || v == nil {
			return "", false
		}
		return fmt.Sprint(v), true
	}
	switch event {
	case EventBeforeToolUse, EventAfterToolUse:
		if target.ToolName != "" {
			return target.ToolName, true
		}
		return str("tool_name")
	case EventBeforeShellExecution, EventAfterShellExecution:
		return str("command")
	case EventSubagentStart, EventSubagentStop:
		return str("subagent_type")
	case EventBeforeReadFile, EventAfterFileEdit:
		return str("file_path")
	case EventStop:
		if s, ok := str("status"); ok {
			return s, true
		}
		return str("reason")
	}
	return "", false
}

// matcherAllows applies a regex matcher, falling back to a substring test
// when the matcher does not compile. An empty matcher accepts everything.
func matcherAllows(matcher, subject string, hasSubject bool) bool {
	matcher = strings.TrimSpace(matcher)
	if matcher == "" {
		return true
	}
	if !hasSubject {
		return false
	}
	re, err := compileMatcher(matcher)
	if err != nil {
		return strings.Contains(subject, matcher)
	}
	return re.MatchString(subject)
}

var (
	matcherMu    sync.Mutex
	matcherCache = map[string]*regexp.Regexp{}
)

func compileMatcher(pattern string) (*regexp.Regexp, error) {
	matcherMu.Lock()
	defer matcherMu.Unlock()
	if re, ok := matcherCache[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	matcherCache[pattern] = re
	return re, nil
}

func sessionKey(sessionID string) string {
	if sessionID == "" {
		return "global"
	}
	return sessionID
}

func loopKey(sessionID string, event Event, hook config.HookConfig) string {
	return sessionKey(sessionID) + ":" + string(event) + ":" + identity(hook)
}

// identity fingerprints a hook so loop counters survive reloads of an
// unchanged configuration.
func identity(hook config.HookConfig) string {
	h := fnv.New32a()
	fmt.Fprintf(h, "%s|%s|%s|%d|%d", hook.Command, hook.Script, hook.Matcher, hook.Timeout, hook.LoopLimit)
	return fmt.Sprintf("%08x", h.Sum32())
}

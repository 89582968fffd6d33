package runner

import (
	"context"
	"fmt"

	"agentcore/internal/events"
	"agentcore/internal/hooks"
	"agentcore/internal/provider"
	"agentcore/internal/storage"
	"agentcore/internal/tools"
)

// ExtendFunc adds session-scoped tools to a session's registry.
type ExtendFunc func(ctx context.Context, sessionID string, reg *tools.Registry) error

// Factory builds one LoopAgent per session over shared dependencies.
type Factory struct {
	Provider   provider.Provider
	Tools      *tools.Registry
	Hooks      hooks.Evaluator
	Store      CheckpointStore
	Pending    PendingSource
	Config     Config
	ScrubRules []CompiledScrubRule
	WorkDir    string

	// Extend runs for every new agent on a private copy of Tools.
	Extend ExtendFunc
}

// New builds an agent for sessionID reporting to sink. A non-nil resume
// checkpoint seeds the conversation and keeps the agent on the same thread;
// one that cannot be decoded is ignored.
func (f *Factory) New(ctx context.Context, sessionID string, sink events.Sink, resume *storage.Checkpoint) (Agent, error) {
	if f.Provider == nil {
		return nil, ErrNoProvider
	}

	reg := tools.NewRegistry()
	if f.Tools != nil {
		reg = f.Tools.Subset(nil)
	}
	if f.Extend != nil {
		if err := f.Extend(ctx, sessionID, reg); err != nil {
			return nil, fmt.Errorf("extend tools for session %s: %w", sessionID, err)
		}
	}

	return NewLoopAgent(LoopOptions{
		SessionID:  sessionID,
		WorkDir:    f.WorkDir,
		Provider:   f.Provider,
		Tools:      reg,
		Sink:       sink,
		Hooks:      f.Hooks,
		Store:      f.Store,
		Pending:    f.Pending,
		Config:     f.Config,
		ScrubRules: f.ScrubRules,
		Resume:     resume,
	})
}

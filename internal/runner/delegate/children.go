package delegate

import (
	"context"
	"fmt"

	"agentcore/internal/events"
	"agentcore/internal/provider"
	"agentcore/internal/runner"
	"agentcore/internal/tools"
)

// ChildSpec describes the child agent a delegation needs.
type ChildSpec struct {
	SessionID  string
	Definition Definition
	// Model overrides the definition's model.
	Model string
	Sink  events.Sink
	// CanDelegate is false when the child must not get the task tool.
	CanDelegate bool
}

// ChildFactory builds child agents.
type ChildFactory interface {
	NewChild(ctx context.Context, spec ChildSpec) (runner.Agent, error)
}

// Children builds LoopAgents over the parent's tools. Children share the
// parent's session id, so approvals and background processes land in the
// parent session. They are not checkpointed and run no stop hooks; the
// task tool fires subagent_stop instead.
type Children struct {
	Provider   provider.Provider
	Tools      *tools.Registry
	Config     runner.Config
	ScrubRules []runner.CompiledScrubRule
	WorkDir    string

	// Extend adds session-scoped tools, as runner.Factory.Extend does.
	Extend runner.ExtendFunc
}

var _ ChildFactory = (*Children)(nil)

// NewChild implements ChildFactory.
func (c *Children) NewChild(ctx context.Context, spec ChildSpec) (runner.Agent, error) {
	reg := tools.NewRegistry()
	if c.Tools != nil {
		reg = c.Tools.Subset(nil)
	}
	if c.Extend != nil {
		if err := c.Extend(ctx, spec.SessionID, reg); err != nil {
			return nil, fmt.Errorf("extend child tools: %w", err)
		}
	}
	if len(spec.Definition.Tools) > 0 {
		reg = reg.Subset(spec.Definition.Tools)
	}
	if !spec.CanDelegate {
		reg = reg.Without(ToolName)
	}

	cfg := c.Config
	cfg.SystemPrompt = spec.Definition.SystemPrompt
	if spec.Definition.MaxIterations > 0 {
		cfg.MaxIterations = spec.Definition.MaxIterations
	}
	if spec.Definition.Timeout > 0 {
		cfg.Timeout = spec.Definition.Timeout
	}
	switch {
	case spec.Model != "":
		cfg.Model = spec.Model
	case spec.Definition.Model != "":
		cfg.Model = spec.Definition.Model
	}

	return runner.NewLoopAgent(runner.LoopOptions{
		SessionID:  spec.SessionID,
		WorkDir:    c.WorkDir,
		Provider:   c.Provider,
		Tools:      reg,
		Sink:       spec.Sink,
		Config:     cfg,
		ScrubRules: c.ScrubRules,
	})
}

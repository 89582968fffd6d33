// Package delegate implements the task tool: it runs a sub-agent inside a
// parent's tool call and reports the child's tool calls as nested events of
// that call.
package delegate

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"agentcore/internal/config"
	"agentcore/internal/hooks"
	"agentcore/internal/provider"
	"agentcore/internal/runner"
	"agentcore/internal/storage"
	"agentcore/internal/tools"

	"github.com/rs/zerolog/log"
)

// ToolName is the name the model calls the delegation tool by.
const ToolName = "task"

const maxErrorDetail = 500

// TaskArgs defines the parameters for the task tool.
type TaskArgs struct {
	Description  string `json:"description" jsonschema:"description=A short (3-5 word) label for the task,required"`
	Prompt       string `json:"prompt" jsonschema:"description=The detailed task for the agent to perform autonomously: instructions and context and the expected output,required"`
	SubagentType string `json:"subagent_type" jsonschema:"description=The type of specialized agent to use (see the tool description),required"`
	Model        string `json:"model,omitempty" jsonschema:"description=Optional model override for this task"`
}

// TaskResult is the outcome of a delegation.
type TaskResult struct {
	AgentType   string `json:"agent_type"`
	Description string `json:"description"`
	Prompt      string `json:"prompt"`
	Output      string `json:"output"`
	DurationMs  int64  `json:"duration_ms"`
	TotalTokens int64  `json:"total_tokens,omitempty"`
	Denied      bool   `json:"denied,omitempty"`
}

// ToolResult implements tools.ResultEncoder.
func (r TaskResult) ToolResult() tools.ToolResult {
	if r.Denied {
		return tools.NewDeniedResult(r.Output)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Agent: %s\n", r.AgentType)
	fmt.Fprintf(&b, "Description: %s\n", r.Description)
	fmt.Fprintf(&b, "DurationMs: %d\n", r.DurationMs)
	if r.TotalTokens > 0 {
		fmt.Fprintf(&b, "TotalTokens: %s\n", formatTokens(r.TotalTokens))
	}
	b.WriteString("\nOutput:\n")
	b.WriteString(r.Output)

	res := tools.NewResultWithMetadata(tools.Truncate(strings.TrimRight(b.String(), "\n"), tools.DefaultMaxResultChars),
		map[string]any{
			"agent_type":   r.AgentType,
			"duration_ms":  r.DurationMs,
			"total_tokens": r.TotalTokens,
		})
	res.IsError = strings.HasPrefix(r.Output, "Error:")
	return res
}

// Recorder stores delegation records.
type Recorder interface {
	RecordDelegation(ctx context.Context, d *storage.Delegation) error
}

// Options configures the task tool.
type Options struct {
	Children ChildFactory
	Hooks    hooks.Evaluator
	// Recorder is optional.
	Recorder Recorder
	// MaxDepth bounds nesting; see config.DelegateConfig.GetMaxDepth.
	MaxDepth int
	// Agents returns the configured sub-agents. Defaults to the live
	// configuration.
	Agents func() map[string]config.AgentConfig
}

// Tool is the task tool.
type Tool struct {
	*tools.Typed[TaskArgs, TaskResult]

	children ChildFactory
	hooks    hooks.Evaluator
	recorder Recorder
	maxDepth int
	agents   func() map[string]config.AgentConfig
}

var _ tools.Tool = (*Tool)(nil)

// NewTool creates the task tool.
func NewTool(opts Options) *Tool {
	t := &Tool{
		children: opts.Children,
		hooks:    opts.Hooks,
		recorder: opts.Recorder,
		maxDepth: opts.MaxDepth,
		agents:   opts.Agents,
	}
	if t.hooks == nil {
		t.hooks = hooks.Nop{}
	}
	if t.maxDepth <= 0 {
		t.maxDepth = DefaultMaxDepth
	}
	if t.maxDepth > MaxAbsoluteDepth {
		t.maxDepth = MaxAbsoluteDepth
	}
	if t.agents == nil {
		t.agents = liveAgents
	}

	t.Typed = &tools.Typed[TaskArgs, TaskResult]{
		ToolName: ToolName,
		Hooks:    t.hooks,
		Core:     t.run,
		Deny: func(args TaskArgs, reason string) TaskResult {
			return TaskResult{
				AgentType:   args.SubagentType,
				Description: args.Description,
				Prompt:      args.Prompt,
				Output:      reason,
				Denied:      true,
			}
		},
	}
	return t
}

// Description lists the sub-agent types available right now.
func (t *Tool) Description() string {
	agents := t.agents()

	var b strings.Builder
	b.WriteString("Launch a sub-agent to handle a complex, multi-step task autonomously.\n\n")
	b.WriteString("Agent types (pass one as subagent_type):\n")
	for _, name := range AvailableNames(agents) {
		def, _ := Resolve(name, agents)
		b.WriteString("- " + name)
		if def.Description != "" {
			b.WriteString(": " + truncate(def.Description, 140))
		}
		b.WriteString("\n")
	}
	b.WriteString("\nUsage notes:\n")
	b.WriteString("- Give a detailed prompt and say what the agent should report back.\n")
	b.WriteString("- The agent's final answer is returned as this tool's output.")
	return b.String()
}

func (t *Tool) run(ctx context.Context, args TaskArgs) (TaskResult, error) {
	start := time.Now()
	parentID, _ := tools.ToolUseIDFromContext(ctx)
	sessionID, _ := tools.SessionIDFromContext(ctx)
	result := TaskResult{AgentType: args.SubagentType, Description: args.Description, Prompt: args.Prompt}

	dc := GetDelegateContext(ctx)
	if dc.Depth == 0 {
		dc = &DelegateContext{MaxDepth: t.maxDepth, Chain: dc.Chain}
	}
	if !dc.CanDelegate() {
		result.Output = fmt.Sprintf("Error: delegation depth %d exceeds maximum %d (chain: %s)",
			dc.Depth, min(dc.MaxDepth, MaxAbsoluteDepth), strings.Join(dc.Chain, " -> "))
		return result, nil
	}

	agents := t.agents()
	def, ok := Resolve(args.SubagentType, agents)
	if !ok {
		result.Output = fmt.Sprintf("Error: Unknown agent type: '%s'. Valid types are: %s.",
			args.SubagentType, strings.Join(AvailableNames(agents), ", "))
		return result, nil
	}
	if dc.InChain(def.Name) {
		result.Output = fmt.Sprintf("Error: circular delegation detected: %s -> %s",
			strings.Join(dc.Chain, " -> "), def.Name)
		return result, nil
	}

	target := hooks.Target{ToolName: ToolName, ToolUseID: parentID, SessionID: sessionID}
	startOutcomes := t.hooks.Evaluate(ctx, hooks.EventSubagentStart, map[string]any{
		"subagent_type": args.SubagentType,
		"description":   args.Description,
		"prompt":        args.Prompt,
	}, target)
	if reason, denied := hooks.CheckDenial(startOutcomes); denied {
		result.Output = reason
		result.Denied = true
		t.record(ctx, sessionID, parentID, dc.Depth+1, result, storage.DelegationDenied, "")
		return result, nil
	}

	bridge := NewBridge(tools.SinkFromContext(ctx), parentID)
	childDC := dc.ForChild(def.Name)
	childCtx := WithDelegateContext(ctx, childDC)

	output, runErr := t.runChild(childCtx, sessionID, def, args, bridge, childDC.CanDelegate())
	if runErr != nil {
		output = "Error: " + formatFailure(args.SubagentType, runErr)
	} else {
		output = normalizeOutput(output, args.SubagentType)
	}

	result.Output = output
	result.DurationMs = time.Since(start).Milliseconds()
	result.TotalTokens = bridge.Tokens()
	if result.TotalTokens == 0 {
		result.TotalTokens = estimateTokens(output)
	}

	status := "completed"
	if strings.HasPrefix(output, "Error:") {
		status = "error"
	}
	t.hooks.Evaluate(ctx, hooks.EventSubagentStop, map[string]any{
		"subagent_type": args.SubagentType,
		"status":        status,
		"result":        output,
		"duration":      result.DurationMs,
	}, target)

	recordStatus, errText := storage.DelegationCompleted, ""
	switch {
	case errors.Is(runErr, context.Canceled):
		recordStatus, errText = storage.DelegationCancelled, runErr.Error()
	case runErr != nil || status == "error":
		recordStatus, errText = storage.DelegationFailed, output
	}
	t.record(ctx, sessionID, parentID, childDC.Depth, result, recordStatus, errText)

	log.Info().
		Str("session", sessionID).
		Str("agent", def.Name).
		Int("depth", childDC.Depth).
		Int64("duration_ms", result.DurationMs).
		Int64("tokens", result.TotalTokens).
		Str("status", status).
		Msg("delegation finished")
	return result, nil
}

func (t *Tool) runChild(ctx context.Context, sessionID string, def Definition, args TaskArgs, bridge *Bridge, canDelegate bool) (string, error) {
	if t.children == nil {
		return "", errors.New("sub-agents are not available")
	}
	agent, err := t.children.NewChild(ctx, ChildSpec{
		SessionID:   sessionID,
		Definition:  def,
		Model:       args.Model,
		Sink:        bridge,
		CanDelegate: canDelegate,
	})
	if err != nil {
		return "", err
	}
	return agent.Run(ctx, runner.Message{Content: args.Prompt, QueuedAt: time.Now()})
}

func (t *Tool) record(ctx context.Context, sessionID, parentID string, depth int, r TaskResult, status, errText string) {
	if t.recorder == nil {
		return
	}
	d := &storage.Delegation{
		ParentSessionID: sessionID,
		ParentToolUseID: parentID,
		AgentType:       r.AgentType,
		Description:     r.Description,
		Depth:           depth,
		Status:          status,
		Tokens:          r.TotalTokens,
		Duration:        time.Duration(r.DurationMs) * time.Millisecond,
		Error:           truncate(errText, maxErrorDetail),
	}
	if err := t.recorder.RecordDelegation(context.WithoutCancel(ctx), d); err != nil {
		log.Warn().Err(err).Str("session", sessionID).Msg("failed to record delegation")
	}
}

func liveAgents() map[string]config.AgentConfig {
	cfg := config.GetConfig()
	if cfg == nil {
		return nil
	}
	return cfg.Agents
}

var genericFailures = map[string]bool{
	"something went wrong":         true,
	"something went wrong.":        true,
	"error: something went wrong":  true,
	"error: something went wrong.": true,
}

// normalizeOutput replaces provider boilerplate with an actionable message.
func normalizeOutput(output, subagentType string) string {
	if !genericFailures[strings.ToLower(strings.TrimSpace(output))] {
		return output
	}
	return fmt.Sprintf("Error: Subagent '%s' returned a generic failure message without actionable details. "+
		"This usually indicates a provider-side issue such as an empty or malformed model response. "+
		"Try rerunning once; if it persists switch model or provider.", subagentType)
}

func formatFailure(subagentType string, err error) string {
	var pe *provider.ProviderError
	switch {
	case errors.Is(err, runner.ErrEmptyResponse):
		return fmt.Sprintf("Subagent '%s' received an invalid model response: no content and no tool calls were returned.", subagentType)
	case errors.Is(err, runner.ErrMaxIterations):
		return fmt.Sprintf("Subagent '%s' stopped after reaching its iteration limit without a final answer.", subagentType)
	case errors.Is(err, context.Canceled):
		return fmt.Sprintf("Subagent '%s' was cancelled.", subagentType)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("Subagent '%s' timed out.", subagentType)
	case errors.As(err, &pe):
		if details := sanitize(pe.Message); details != "" {
			return fmt.Sprintf("Subagent '%s' failed in the LLM client: %s", subagentType, details)
		}
		return fmt.Sprintf("Subagent '%s' failed in the LLM client without an error message.", subagentType)
	}
	if details := sanitize(err.Error()); details != "" {
		return fmt.Sprintf("Subagent '%s' failed: %s", subagentType, details)
	}
	return fmt.Sprintf("Subagent '%s' failed.", subagentType)
}

var whitespace = regexp.MustCompile(`\s+`)

func sanitize(msg string) string {
	return truncate(strings.TrimSpace(whitespace.ReplaceAllString(msg, " ")), maxErrorDetail)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func formatTokens(tokens int64) string {
	if tokens >= 1000 {
		return fmt.Sprintf("%dK", tokens/1000)
	}
	return fmt.Sprintf("%d", tokens)
}

func estimateTokens(s string) int64 {
	if s == "" {
		return 0
	}
	return int64((len(s) + 2) / 3)
}

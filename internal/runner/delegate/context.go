package delegate

import (
	"context"
	"slices"
)

// MaxAbsoluteDepth is the hard limit on delegation recursion depth.
// This cannot be overridden by configuration.
const MaxAbsoluteDepth = 5

// DefaultMaxDepth allows the main agent to delegate, but not its children.
const DefaultMaxDepth = 1

// DelegateContext carries delegation chain metadata through context.
type DelegateContext struct {
	// Depth is the current recursion depth (0 = main agent).
	Depth int
	// MaxDepth is the maximum allowed depth.
	MaxDepth int
	// AgentName is the current sub-agent type.
	AgentName string
	// Chain is the delegation path, e.g. ["explore", "general-purpose"].
	Chain []string
}

type delegateContextKey struct{}

// WithDelegateContext injects the delegation context into a Go context.
func WithDelegateContext(ctx context.Context, dc *DelegateContext) context.Context {
	return context.WithValue(ctx, delegateContextKey{}, dc)
}

// GetDelegateContext extracts the delegation context from a Go context.
// Outside any delegation it returns depth 0 with DefaultMaxDepth.
func GetDelegateContext(ctx context.Context) *DelegateContext {
	if dc, ok := ctx.Value(delegateContextKey{}).(*DelegateContext); ok && dc != nil {
		return dc
	}
	return &DelegateContext{MaxDepth: DefaultMaxDepth}
}

// CanDelegate returns true if the current depth allows further delegation.
func (dc *DelegateContext) CanDelegate() bool {
	return dc.Depth < dc.MaxDepth && dc.Depth < MaxAbsoluteDepth
}

// InChain reports whether agentName is already part of the chain.
func (dc *DelegateContext) InChain(agentName string) bool {
	return slices.Contains(dc.Chain, agentName)
}

// ForChild creates a child delegation context for the given agent name.
func (dc *DelegateContext) ForChild(agentName string) *DelegateContext {
	newChain := make([]string, len(dc.Chain)+1)
	copy(newChain, dc.Chain)
	newChain[len(dc.Chain)] = agentName
	return &DelegateContext{
		Depth:     dc.Depth + 1,
		MaxDepth:  dc.MaxDepth,
		AgentName: agentName,
		Chain:     newChain,
	}
}

package delegate

import (
	"sync"
	"sync/atomic"

	"agentcore/internal/events"

	"github.com/google/uuid"
)

// Bridge is the sink a child agent reports to. It re-labels the child's tool
// calls as sub-agent calls of the parent's delegation call, counts the
// child's tokens and drops child output the parent has no use for.
type Bridge struct {
	events.Base

	parent   events.Sink
	parentID string
	tokens   atomic.Int64

	mu      sync.Mutex
	pending []pendingCall
}

type pendingCall struct {
	invocationID string
	childID      string
}

var _ events.Sink = (*Bridge)(nil)

// NewBridge creates a bridge for the delegation call parentID.
func NewBridge(parent events.Sink, parentID string) *Bridge {
	if parent == nil {
		parent = events.Nop
	}
	return &Bridge{parent: parent, parentID: parentID}
}

// Tokens returns the tokens the child has reported so far.
func (b *Bridge) Tokens() int64 {
	return b.tokens.Load()
}

// OnToolStarting mints a child id, queues it and reports the call to the
// parent.
func (b *Bridge) OnToolStarting(id, toolName string, args any) {
	childID := uuid.NewString()
	b.mu.Lock()
	b.pending = append(b.pending, pendingCall{invocationID: id, childID: childID})
	b.mu.Unlock()
	b.parent.OnSubAgentToolStarting(b.parentID, childID, toolName, args)
}

// OnToolCompleted pairs the result with the oldest started call.
func (b *Bridge) OnToolCompleted(_, toolName string, result any) {
	b.mu.Lock()
	var childID string
	if len(b.pending) > 0 {
		childID = b.pending[0].childID
		b.pending = b.pending[1:]
	}
	b.mu.Unlock()
	b.parent.OnSubAgentToolCompleted(b.parentID, childID, toolName, result)
}

// OnToolOutput forwards live output under the minted child id.
func (b *Bridge) OnToolOutput(id, line string, stderr bool) {
	if childID, ok := b.childID(id); ok {
		b.parent.OnToolOutput(childID, line, stderr)
	}
}

// OnSubAgentToolStarting forwards calls of deeper delegations, translating
// their parent id when it is one of this child's calls.
func (b *Bridge) OnSubAgentToolStarting(parentID, childID, toolName string, args any) {
	if mapped, ok := b.childID(parentID); ok {
		parentID = mapped
	}
	b.parent.OnSubAgentToolStarting(parentID, childID, toolName, args)
}

// OnSubAgentToolCompleted mirrors OnSubAgentToolStarting.
func (b *Bridge) OnSubAgentToolCompleted(parentID, childID, toolName string, result any) {
	if mapped, ok := b.childID(parentID); ok {
		parentID = mapped
	}
	b.parent.OnSubAgentToolCompleted(parentID, childID, toolName, result)
}

// OnTokenUsage adds to the delegation total and forwards.
func (b *Bridge) OnTokenUsage(total int64) {
	b.tokens.Add(total)
	b.parent.OnTokenUsage(total)
}

func (b *Bridge) OnCredits(c events.Credits) { b.parent.OnCredits(c) }

func (b *Bridge) OnRetry(attempt, maxAttempts int, reason string) {
	b.parent.OnRetry(attempt, maxAttempts, reason)
}

func (b *Bridge) childID(invocationID string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range b.pending {
		if p.invocationID == invocationID {
			return p.childID, true
		}
	}
	return "", false
}

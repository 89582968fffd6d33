// Package runner drives the agent loop: one LLM turn, the tool calls it
// asks for, their results fed back, until the model answers without tools.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"agentcore/internal/provider"
	"agentcore/internal/storage"
)

// Message is one user message delivered to an agent.
type Message struct {
	Content  string    `json:"content"`
	QueuedAt time.Time `json:"queued_at,omitempty"`
}

// JoinMessages concatenates queued messages into one, oldest first.
func JoinMessages(msgs []Message) Message {
	switch len(msgs) {
	case 0:
		return Message{}
	case 1:
		return msgs[0]
	}
	out := Message{Content: msgs[0].Content, QueuedAt: msgs[0].QueuedAt}
	for _, m := range msgs[1:] {
		out.Content += "\n\n" + m.Content
	}
	return out
}

// Agent runs conversations for one session.
type Agent interface {
	// ID identifies the agent's checkpoint thread.
	ID() string

	// Run processes msg to completion and returns the final answer.
	Run(ctx context.Context, msg Message) (string, error)

	// Checkpoint returns the most recent checkpoint saved by the agent, or
	// the zero ref before the first save.
	Checkpoint() storage.CheckpointRef
}

// PendingSource hands out messages queued for a session while its run is
// active.
type PendingSource interface {
	Drain(sessionID string) []Message
}

// CheckpointStore persists agent checkpoints.
type CheckpointStore interface {
	SaveCheckpoint(ctx context.Context, cp *storage.Checkpoint) error
}

// State is the serialized part of an agent; it is the Data of every
// checkpoint the agent saves.
type State struct {
	Messages []provider.Message `json:"messages"`
	Turn     int                `json:"turn"`
	Tokens   int64              `json:"tokens"`
}

// DecodeState reads the agent state stored in a checkpoint.
func DecodeState(cp *storage.Checkpoint) (State, error) {
	var s State
	if cp == nil || len(cp.Data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(cp.Data, &s); err != nil {
		return State{}, fmt.Errorf("decode checkpoint %s: %w", cp.ID, err)
	}
	return s, nil
}

// ResumeMessages returns the history a resumed run continues from: system
// messages are dropped, since the prompt is rebuilt on every call, and so is
// a trailing assistant message whose tool calls never got all their results.
func (s State) ResumeMessages() []provider.Message {
	out := make([]provider.Message, 0, len(s.Messages))
	for _, m := range s.Messages {
		if m.Role != provider.RoleSystem {
			out = append(out, m)
		}
	}

	for i := len(out) - 1; i >= 0; i-- {
		m := out[i]
		if m.Role != provider.RoleAssistant {
			continue
		}
		if len(m.ToolCalls) == 0 {
			break
		}
		answered := make(map[string]bool, len(m.ToolCalls))
		for _, r := range out[i+1:] {
			if r.Role == provider.RoleTool {
				answered[r.ToolCallID] = true
			}
		}
		for _, tc := range m.ToolCalls {
			if !answered[tc.ID] {
				return out[:i]
			}
		}
		break
	}
	return out
}

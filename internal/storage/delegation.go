package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Delegation statuses.
const (
	DelegationCompleted = "completed"
	DelegationFailed    = "failed"
	DelegationCancelled = "cancelled"
	DelegationDenied    = "denied"
)

// Delegation records one sub-agent run started by a parent session.
type Delegation struct {
	ID              string        `json:"id"`
	ParentSessionID string        `json:"parent_session_id"`
	ParentToolUseID string        `json:"parent_tool_use_id,omitempty"`
	AgentType       string        `json:"agent_type"`
	Description     string        `json:"description,omitempty"`
	Depth           int           `json:"depth"`
	Status          string        `json:"status"`
	Tokens          int64         `json:"tokens"`
	Duration        time.Duration `json:"duration"`
	Error           string        `json:"error,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
}

// RecordDelegation stores d, assigning an id and creation time when unset.
func (db *DB) RecordDelegation(ctx context.Context, d *Delegation) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO delegations (id, parent_session_id, parent_tool_use_id, agent_type, description,
			depth, status, tokens, duration_ms, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.ParentSessionID, d.ParentToolUseID, d.AgentType, d.Description,
		d.Depth, d.Status, d.Tokens, d.Duration.Milliseconds(), d.Error, d.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record delegation: %w", err)
	}
	return nil
}

// ListDelegations returns the delegations of a session, oldest first.
func (db *DB) ListDelegations(ctx context.Context, sessionID string) ([]Delegation, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, parent_session_id, parent_tool_use_id, agent_type, description,
			depth, status, tokens, duration_ms, error, created_at
		FROM delegations WHERE parent_session_id = ? ORDER BY created_at, id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list delegations: %w", err)
	}
	defer rows.Close()

	var out []Delegation
	for rows.Next() {
		var (
			d                Delegation
			durationMs, atMs int64
		)
		if err := rows.Scan(&d.ID, &d.ParentSessionID, &d.ParentToolUseID, &d.AgentType, &d.Description,
			&d.Depth, &d.Status, &d.Tokens, &durationMs, &d.Error, &atMs); err != nil {
			return nil, err
		}
		d.Duration = time.Duration(durationMs) * time.Millisecond
		d.CreatedAt = time.UnixMilli(atMs)
		out = append(out, d)
	}
	return out, rows.Err()
}

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SessionBinding maps a session to the agent whose checkpoints it resumes
// from, and the checkpoint it last saw.
type SessionBinding struct {
	SessionID    string    `json:"session_id"`
	AgentID      string    `json:"agent_id"`
	CheckpointID string    `json:"checkpoint_id,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Ref returns the bound checkpoint reference.
func (b *SessionBinding) Ref() CheckpointRef {
	return CheckpointRef{AgentID: b.AgentID, CheckpointID: b.CheckpointID}
}

// SaveSessionBinding inserts or replaces the binding for b.SessionID.
func (db *DB) SaveSessionBinding(ctx context.Context, b SessionBinding) error {
	if b.SessionID == "" || b.AgentID == "" {
		return errors.New("session binding needs a session id and an agent id")
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = time.Now()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO session_bindings (session_id, agent_id, checkpoint_id, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			agent_id = excluded.agent_id,
			checkpoint_id = excluded.checkpoint_id,
			updated_at = excluded.updated_at`,
		b.SessionID, b.AgentID, b.CheckpointID, b.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save session binding: %w", err)
	}
	return nil
}

// GetSessionBinding returns the binding of a session or ErrNotFound.
func (db *DB) GetSessionBinding(ctx context.Context, sessionID string) (*SessionBinding, error) {
	var (
		b       SessionBinding
		updated int64
	)
	err := db.QueryRowContext(ctx,
		"SELECT session_id, agent_id, checkpoint_id, updated_at FROM session_bindings WHERE session_id = ?",
		sessionID,
	).Scan(&b.SessionID, &b.AgentID, &b.CheckpointID, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session binding: %w", err)
	}
	b.UpdatedAt = time.UnixMilli(updated)
	return &b, nil
}

// DeleteSessionBinding removes a session's binding. Missing bindings are not
// an error.
func (db *DB) DeleteSessionBinding(ctx context.Context, sessionID string) error {
	if _, err := db.ExecContext(ctx, "DELETE FROM session_bindings WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("delete session binding: %w", err)
	}
	return nil
}

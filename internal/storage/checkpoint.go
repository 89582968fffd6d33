package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Node path suffixes with special meaning.
const (
	StartNode  = "__start__"
	FinishNode = "__finish__"
)

// ThreadStatus summarizes where an agent's latest checkpoint left off.
type ThreadStatus string

const (
	ThreadCompleted ThreadStatus = "completed"
	ThreadPartial   ThreadStatus = "partial"
	ThreadUnknown   ThreadStatus = "unknown"
)

// CheckpointRef identifies one checkpoint of one agent.
type CheckpointRef struct {
	AgentID      string `json:"agent_id"`
	CheckpointID string `json:"checkpoint_id"`
}

// IsZero reports whether the ref is empty.
func (r CheckpointRef) IsZero() bool {
	return r.AgentID == "" && r.CheckpointID == ""
}

// Checkpoint is a serialized snapshot of an agent's conversation. Data is
// opaque to storage.
type Checkpoint struct {
	ID        string          `json:"id"`
	AgentID   string          `json:"agent_id"`
	SessionID string          `json:"session_id,omitempty"`
	NodePath  string          `json:"node_path"`
	Data      json.RawMessage `json:"data"`
	Preview   string          `json:"preview,omitempty"`
	Tombstone bool            `json:"tombstone,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Ref returns the checkpoint's reference.
func (c *Checkpoint) Ref() CheckpointRef {
	return CheckpointRef{AgentID: c.AgentID, CheckpointID: c.ID}
}

// Resumable reports whether a run can continue from this checkpoint. A
// checkpoint taken after the run finished cannot.
func (c *Checkpoint) Resumable() bool {
	return lastSegment(c.NodePath) != FinishNode
}

func lastSegment(nodePath string) string {
	if i := strings.LastIndexByte(nodePath, '/'); i >= 0 {
		return nodePath[i+1:]
	}
	return nodePath
}

// ThreadSummary describes an agent's checkpoint history.
type ThreadSummary struct {
	AgentID   string        `json:"agent_id"`
	Latest    CheckpointRef `json:"latest"`
	UpdatedAt time.Time     `json:"updated_at"`
	Status    ThreadStatus  `json:"status"`
	RunCount  int           `json:"run_count"`
	Preview   string        `json:"preview,omitempty"`
}

const checkpointColumns = "id, agent_id, session_id, node_path, data, preview, tombstone, created_at"

// SaveCheckpoint inserts cp, assigning an id and creation time when unset.
func (db *DB) SaveCheckpoint(ctx context.Context, cp *Checkpoint) error {
	if cp.AgentID == "" {
		return errors.New("checkpoint agent id is required")
	}
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	data := cp.Data
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}

	_, err := db.ExecContext(ctx,
		"INSERT INTO checkpoints ("+checkpointColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		cp.ID, cp.AgentID, cp.SessionID, cp.NodePath, string(data), cp.Preview, cp.Tombstone, cp.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// ListCheckpoints returns the agent's live checkpoints, newest first.
func (db *DB) ListCheckpoints(ctx context.Context, agentID string) ([]*Checkpoint, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT "+checkpointColumns+" FROM checkpoints WHERE agent_id = ? AND tombstone = 0 ORDER BY seq DESC",
		agentID,
	)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []*Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// LoadCheckpoint returns one live checkpoint.
func (db *DB) LoadCheckpoint(ctx context.Context, ref CheckpointRef) (*Checkpoint, error) {
	row := db.QueryRowContext(ctx,
		"SELECT "+checkpointColumns+" FROM checkpoints WHERE agent_id = ? AND id = ? AND tombstone = 0",
		ref.AgentID, ref.CheckpointID,
	)
	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return cp, err
}

// LatestResumable returns the newest resumable checkpoint of the agent, or
// the newest checkpoint when none is resumable.
func (db *DB) LatestResumable(ctx context.Context, agentID string) (*Checkpoint, error) {
	list, err := db.ListCheckpoints(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	for _, cp := range list {
		if cp.Resumable() {
			return cp, nil
		}
	}
	return list[0], nil
}

// ResumeCheckpoint picks the checkpoint to resume from when ref is
// preferred: ref itself if resumable, otherwise the newest resumable
// checkpoint not newer than ref, otherwise the newest resumable one.
func (db *DB) ResumeCheckpoint(ctx context.Context, ref CheckpointRef) (*Checkpoint, error) {
	list, err := db.ListCheckpoints(ctx, ref.AgentID)
	if err != nil {
		return nil, err
	}

	preferred := -1
	for i, cp := range list {
		if cp.ID == ref.CheckpointID {
			preferred = i
			break
		}
	}
	if preferred >= 0 {
		// list is newest first, so everything from preferred on is not newer.
		for _, cp := range list[preferred:] {
			if cp.Resumable() {
				return cp, nil
			}
		}
	}
	for _, cp := range list {
		if cp.Resumable() {
			return cp, nil
		}
	}
	return nil, ErrNotFound
}

// Tombstone hides a checkpoint from every read. PruneTombstones deletes it
// later.
func (db *DB) Tombstone(ctx context.Context, ref CheckpointRef) error {
	res, err := db.ExecContext(ctx,
		"UPDATE checkpoints SET tombstone = 1, tombstoned_at = ? WHERE agent_id = ? AND id = ? AND tombstone = 0",
		time.Now().UnixMilli(), ref.AgentID, ref.CheckpointID,
	)
	if err != nil {
		return fmt.Errorf("tombstone checkpoint: %w", err)
	}
	return requireAffected(res)
}

// TombstoneAgent hides every checkpoint of the agent and drops the session
// bindings pointing at it.
func (db *DB) TombstoneAgent(ctx context.Context, agentID string) (int64, error) {
	var n int64
	err := db.WithTx(ctx, func(tx *Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE checkpoints SET tombstone = 1, tombstoned_at = ? WHERE agent_id = ? AND tombstone = 0",
			time.Now().UnixMilli(), agentID,
		)
		if err != nil {
			return err
		}
		if n, err = res.RowsAffected(); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, "DELETE FROM session_bindings WHERE agent_id = ?", agentID)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("tombstone agent: %w", err)
	}
	return n, nil
}

// PruneTombstones deletes checkpoints tombstoned more than olderThan ago and
// returns how many were removed.
func (db *DB) PruneTombstones(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UnixMilli()
	res, err := db.ExecContext(ctx,
		"DELETE FROM checkpoints WHERE tombstone = 1 AND tombstoned_at <= ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("prune tombstones: %w", err)
	}
	return res.RowsAffected()
}

// ListThreads summarizes every agent with live checkpoints, most recently
// updated first.
func (db *DB) ListThreads(ctx context.Context) ([]ThreadSummary, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT c.agent_id, c.id, c.node_path, c.preview, c.created_at, t.runs
		FROM checkpoints c
		JOIN (
			SELECT agent_id, MAX(seq) AS latest, COUNT(*) AS runs
			FROM checkpoints WHERE tombstone = 0 GROUP BY agent_id
		) t ON c.seq = t.latest
		ORDER BY c.seq DESC`)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	var out []ThreadSummary
	for rows.Next() {
		var (
			s        ThreadSummary
			nodePath string
			created  int64
		)
		if err := rows.Scan(&s.AgentID, &s.Latest.CheckpointID, &nodePath, &s.Preview, &created, &s.RunCount); err != nil {
			return nil, err
		}
		s.Latest.AgentID = s.AgentID
		s.UpdatedAt = time.UnixMilli(created)
		switch lastSegment(nodePath) {
		case FinishNode:
			s.Status = ThreadCompleted
		case StartNode:
			s.Status = ThreadUnknown
		default:
			s.Status = ThreadPartial
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(s scanner) (*Checkpoint, error) {
	var (
		cp      Checkpoint
		data    string
		created int64
	)
	if err := s.Scan(&cp.ID, &cp.AgentID, &cp.SessionID, &cp.NodePath, &data, &cp.Preview, &cp.Tombstone, &created); err != nil {
		return nil, err
	}
	cp.Data = json.RawMessage(data)
	cp.CreatedAt = time.UnixMilli(created)
	return &cp, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

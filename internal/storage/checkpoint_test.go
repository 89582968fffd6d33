package storage

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func saveAt(t *testing.T, db *DB, agentID, nodePath string, at time.Time) *Checkpoint {
	t.Helper()
	cp := &Checkpoint{
		AgentID:   agentID,
		SessionID: "session-1",
		NodePath:  nodePath,
		Data:      json.RawMessage(`{"turn":1}`),
		Preview:   nodePath,
		CreatedAt: at,
	}
	require.NoError(t, db.SaveCheckpoint(context.Background(), cp))
	return cp
}

func TestCheckpoint_SaveListLoad(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	first := saveAt(t, db, "agent-1", "turn/1", base)
	second := saveAt(t, db, "agent-1", "turn/2", base.Add(time.Minute))
	saveAt(t, db, "agent-2", "turn/1", base)

	assert.NotEmpty(t, first.ID)

	list, err := db.ListCheckpoints(ctx, "agent-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)
	assert.JSONEq(t, `{"turn":1}`, string(list[0].Data))
	assert.Equal(t, "session-1", list[0].SessionID)
	assert.Equal(t, base.Add(time.Minute).UnixMilli(), list[0].CreatedAt.UnixMilli())

	loaded, err := db.LoadCheckpoint(ctx, second.Ref())
	require.NoError(t, err)
	assert.Equal(t, "turn/2", loaded.NodePath)

	_, err = db.LoadCheckpoint(ctx, CheckpointRef{AgentID: "agent-2", CheckpointID: second.ID})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCheckpoint_SaveRequiresAgent(t *testing.T) {
	db := openTestDB(t)
	assert.Error(t, db.SaveCheckpoint(context.Background(), &Checkpoint{NodePath: "turn/1"}))
}

func TestCheckpoint_TombstoneHidesFromReads(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	older := saveAt(t, db, "agent-1", "turn/1", time.Now().Add(-time.Minute))
	newer := saveAt(t, db, "agent-1", "turn/2", time.Now())

	require.NoError(t, db.Tombstone(ctx, newer.Ref()))
	assert.ErrorIs(t, db.Tombstone(ctx, newer.Ref()), ErrNotFound)

	_, err := db.LoadCheckpoint(ctx, newer.Ref())
	assert.ErrorIs(t, err, ErrNotFound)

	latest, err := db.LatestResumable(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, older.ID, latest.ID)
}

func TestCheckpoint_LatestResumable(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	_, err := db.LatestResumable(ctx, "agent-1")
	assert.ErrorIs(t, err, ErrNotFound)

	turn := saveAt(t, db, "agent-1", "turn/3", base)
	finish := saveAt(t, db, "agent-1", FinishNode, base.Add(time.Minute))

	latest, err := db.LatestResumable(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, turn.ID, latest.ID)
	assert.False(t, finish.Resumable())

	require.NoError(t, db.Tombstone(ctx, turn.Ref()))
	latest, err = db.LatestResumable(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, finish.ID, latest.ID, "falls back to the newest when none is resumable")
}

func TestCheckpoint_ResumeCheckpoint(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	t1 := saveAt(t, db, "agent-1", "turn/1", base)
	t2 := saveAt(t, db, "agent-1", "turn/2", base.Add(time.Minute))
	fin := saveAt(t, db, "agent-1", "run/"+FinishNode, base.Add(2*time.Minute))
	t3 := saveAt(t, db, "agent-1", "turn/3", base.Add(3*time.Minute))

	got, err := db.ResumeCheckpoint(ctx, t1.Ref())
	require.NoError(t, err)
	assert.Equal(t, t1.ID, got.ID, "a resumable preferred checkpoint wins")

	got, err = db.ResumeCheckpoint(ctx, fin.Ref())
	require.NoError(t, err)
	assert.Equal(t, t2.ID, got.ID, "a finished preferred checkpoint falls back to the newest older one")

	got, err = db.ResumeCheckpoint(ctx, CheckpointRef{AgentID: "agent-1", CheckpointID: "missing"})
	require.NoError(t, err)
	assert.Equal(t, t3.ID, got.ID)

	_, err = db.ResumeCheckpoint(ctx, CheckpointRef{AgentID: "nobody"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCheckpoint_PruneTombstones(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	cp := saveAt(t, db, "agent-1", "turn/1", time.Now())
	keep := saveAt(t, db, "agent-1", "turn/2", time.Now())
	require.NoError(t, db.Tombstone(ctx, cp.Ref()))

	n, err := db.PruneTombstones(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n, "recent tombstones are kept")

	n, err = db.PruneTombstones(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM checkpoints").Scan(&count))
	assert.Equal(t, 1, count)

	list, err := db.ListCheckpoints(ctx, "agent-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, keep.ID, list[0].ID)
}

func TestCheckpoint_TombstoneAgent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	saveAt(t, db, "agent-1", "turn/1", time.Now())
	saveAt(t, db, "agent-1", "turn/2", time.Now())
	require.NoError(t, db.SaveSessionBinding(ctx, SessionBinding{SessionID: "s1", AgentID: "agent-1"}))

	n, err := db.TombstoneAgent(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	list, err := db.ListCheckpoints(ctx, "agent-1")
	require.NoError(t, err)
	assert.Empty(t, list)
	_, err = db.GetSessionBinding(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListThreads(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	saveAt(t, db, "agent-1", "turn/1", base)
	done := saveAt(t, db, "agent-1", FinishNode, base.Add(time.Minute))
	partial := saveAt(t, db, "agent-2", "turn/4", base.Add(2*time.Minute))

	threads, err := db.ListThreads(ctx)
	require.NoError(t, err)
	require.Len(t, threads, 2)

	assert.Equal(t, "agent-2", threads[0].AgentID)
	assert.Equal(t, partial.Ref(), threads[0].Latest)
	assert.Equal(t, ThreadPartial, threads[0].Status)
	assert.Equal(t, 1, threads[0].RunCount)

	assert.Equal(t, done.Ref(), threads[1].Latest)
	assert.Equal(t, ThreadCompleted, threads[1].Status)
	assert.Equal(t, 2, threads[1].RunCount)
}

package migrations

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

const scriptCount = 2

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRun(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, Run(db))

	version, err := Version(db)
	require.NoError(t, err)
	assert.Equal(t, scriptCount, version)

	for _, table := range []string{"checkpoints", "session_bindings", "delegations", "_migrations"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		assert.NoError(t, err, "table %s", table)
	}
}

func TestRun_Idempotent(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, Run(db))
	require.NoError(t, Run(db))

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM _migrations").Scan(&count))
	assert.Equal(t, scriptCount, count)
}

func TestPending(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, ensureMigrationsTable(db))

	pending, err := Pending(db)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, pending)

	require.NoError(t, Run(db))
	pending, err = Pending(db)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestVersion_EmptyDB(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, ensureMigrationsTable(db))

	version, err := Version(db)
	require.NoError(t, err)
	assert.Zero(t, version)
}

func TestParseVersion(t *testing.T) {
	v, err := parseVersion("012_things.sql")
	require.NoError(t, err)
	assert.Equal(t, 12, v)

	_, err = parseVersion("notes.sql")
	assert.Error(t, err)
	_, err = parseVersion("abc_things.sql")
	assert.Error(t, err)
}

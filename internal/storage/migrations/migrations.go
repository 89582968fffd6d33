// Package migrations applies the embedded, numbered SQL scripts to the
// agentcore database.
package migrations

import (
	"database/sql"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// Run applies every script that has not been applied yet, in version order.
func Run(db *sql.DB) error {
	if err := ensureMigrationsTable(db); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	applied, err := appliedVersions(db)
	if err != nil {
		return fmt.Errorf("get applied versions: %w", err)
	}

	scripts, err := loadScripts()
	if err != nil {
		return fmt.Errorf("load migration scripts: %w", err)
	}

	for _, m := range scripts {
		if applied[m.version] {
			continue
		}
		if err := execute(db, m); err != nil {
			return fmt.Errorf("execute migration %d: %w", m.version, err)
		}
		log.Debug().Int("version", m.version).Str("name", m.name).Msg("applied migration")
	}
	return nil
}

// Version returns the highest applied version, 0 for a fresh database.
func Version(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM _migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}

// Pending returns the versions not applied yet, ascending.
func Pending(db *sql.DB) ([]int, error) {
	applied, err := appliedVersions(db)
	if err != nil {
		return nil, err
	}
	scripts, err := loadScripts()
	if err != nil {
		return nil, err
	}

	var pending []int
	for _, m := range scripts {
		if !applied[m.version] {
			pending = append(pending, m.version)
		}
	}
	return pending, nil
}

type migration struct {
	version int
	name    string
	content string
}

func ensureMigrationsTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS _migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

func appliedVersions(db *sql.DB) (map[int]bool, error) {
	rows, err := db.Query("SELECT version FROM _migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func loadScripts() ([]migration, error) {
	entries, err := fs.ReadDir(FS, "scripts")
	if err != nil {
		return nil, err
	}

	var scripts []migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version, err := parseVersion(entry.Name())
		if err != nil {
			log.Warn().Str("file", entry.Name()).Msg("skipping migration without a numeric prefix")
			continue
		}
		// embed.FS paths always use forward slashes.
		content, err := fs.ReadFile(FS, "scripts/"+entry.Name())
		if err != nil {
			return nil, err
		}
		scripts = append(scripts, migration{version: version, name: entry.Name(), content: string(content)})
	}

	sort.Slice(scripts, func(i, j int) bool { return scripts[i].version < scripts[j].version })
	return scripts, nil
}

func parseVersion(filename string) (int, error) {
	prefix, _, ok := strings.Cut(filename, "_")
	if !ok {
		return 0, fmt.Errorf("invalid migration filename: %s", filename)
	}
	return strconv.Atoi(prefix)
}

func execute(db *sql.DB, m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(m.content); err != nil {
		return fmt.Errorf("execute SQL: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO _migrations (version) VALUES (?)", m.version); err != nil {
		return fmt.Errorf("record version: %w", err)
	}
	return tx.Commit()
}

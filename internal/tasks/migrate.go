package tasks

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
)

// migrate creates missing schema and fixes up legacy boards. All steps run
// in one transaction and are idempotent: re-opening a migrated board is a
// no-op, and a crash mid-migration rolls back to the previous shape.
func (s *Store) migrate() error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS tasks (
			task_id              TEXT PRIMARY KEY,
			board_id             TEXT NOT NULL DEFAULT '',
			created_at           INTEGER NOT NULL,
			updated_at           TEXT NOT NULL DEFAULT '',
			status_updated_at    INTEGER NOT NULL,
			owner_agent_id       TEXT NOT NULL,
			assigned_to_agent_id TEXT NOT NULL,
			title                TEXT NOT NULL,
			description          TEXT NOT NULL DEFAULT '',
			status               TEXT NOT NULL,
			status_reason        TEXT NOT NULL DEFAULT ''
		)`); err != nil {
		return fmt.Errorf("create tasks: %w", err)
	}

	for _, table := range []string{"task_blockers", "task_artifacts", "task_worklog"} {
		if _, err := tx.Exec(fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				task_id    TEXT NOT NULL,
				seq        INTEGER NOT NULL,
				created_at INTEGER NOT NULL,
				created_by TEXT NOT NULL,
				content    TEXT NOT NULL,
				PRIMARY KEY (task_id, seq)
			)`, table)); err != nil {
			return fmt.Errorf("create %s: %w", table, err)
		}
	}

	// updated_at arrived after the first schema version: default '' and
	// backfilled from status_updated_at, else created_at. Runs before the
	// project drop so the rebuild can copy it unconditionally.
	hasUpdatedAt, err := columnExists(tx, "tasks", "updated_at")
	if err != nil {
		return err
	}
	if !hasUpdatedAt {
		if _, err := tx.Exec("ALTER TABLE tasks ADD COLUMN updated_at TEXT NOT NULL DEFAULT ''"); err != nil {
			return err
		}
		if _, err := tx.Exec(
			"UPDATE tasks SET updated_at = COALESCE(NULLIF(status_updated_at, ''), created_at) WHERE updated_at = ''",
		); err != nil {
			return err
		}
		slog.Info("tasks.migrated_updated_at")
	}

	// Legacy boards carried a free-form project column; its values move
	// into board_id and the column is dropped via a copy-table rebuild.
	hasProject, err := columnExists(tx, "tasks", "project")
	if err != nil {
		return err
	}
	if hasProject {
		if err := dropProjectColumn(tx); err != nil {
			return fmt.Errorf("drop legacy project column: %w", err)
		}
		slog.Info("tasks.migrated_project_column")
	}

	for name, def := range map[string]string{
		"idx_tasks_status":              "CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks (status)",
		"idx_tasks_created_at":          "CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON tasks (created_at)",
		"idx_tasks_assignee_created_at": "CREATE INDEX IF NOT EXISTS idx_tasks_assignee_created_at ON tasks (assigned_to_agent_id, created_at DESC)",
	} {
		if _, err := tx.Exec(def); err != nil {
			return fmt.Errorf("create %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	// Verify the rebuild took by re-reading table_info on the live handle.
	stillHasProject, err := columnExistsDB(s.db, "tasks", "project")
	if err != nil {
		return err
	}
	if stillHasProject {
		return fmt.Errorf("legacy project column survived migration")
	}
	return nil
}

// dropProjectColumn rebuilds the tasks table without the legacy project
// column, copying project values into board_id where board_id is empty.
func dropProjectColumn(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE tasks_new (
			task_id              TEXT PRIMARY KEY,
			board_id             TEXT NOT NULL DEFAULT '',
			created_at           INTEGER NOT NULL,
			updated_at           TEXT NOT NULL DEFAULT '',
			status_updated_at    INTEGER NOT NULL,
			owner_agent_id       TEXT NOT NULL,
			assigned_to_agent_id TEXT NOT NULL,
			title                TEXT NOT NULL,
			description          TEXT NOT NULL DEFAULT '',
			status               TEXT NOT NULL,
			status_reason        TEXT NOT NULL DEFAULT ''
		)`,
		`INSERT INTO tasks_new (task_id, board_id, created_at, updated_at, status_updated_at,
		                        owner_agent_id, assigned_to_agent_id, title, description, status, status_reason)
		 SELECT task_id,
		        CASE WHEN COALESCE(board_id, '') != '' THEN board_id ELSE COALESCE(project, '') END,
		        created_at,
		        COALESCE(updated_at, ''),
		        status_updated_at,
		        owner_agent_id, assigned_to_agent_id, title,
		        COALESCE(description, ''), status, COALESCE(status_reason, '')
		 FROM tasks`,
		`DROP TABLE tasks`,
		`ALTER TABLE tasks_new RENAME TO tasks`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// execer covers *sql.Tx and *sql.DB for PRAGMA scans.
type execer interface {
	Query(query string, args ...any) (*sql.Rows, error)
}

func columnExists(q execer, table, column string) (bool, error) {
	rows, err := q.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, colType string
		var notNull int
		var defaultValue sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultValue, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

func columnExistsDB(db *sql.DB, table, column string) (bool, error) {
	return columnExists(db, table, column)
}

// parseUpdatedAt decodes the TEXT updated_at column. An empty value (row
// inserted between the column add and the backfill of a crashed migration)
// falls back to status_updated_at, then created_at.
func parseUpdatedAt(raw string, statusUpdatedAt, createdAt int64) int64 {
	if raw == "" {
		if statusUpdatedAt > 0 {
			return statusUpdatedAt
		}
		return createdAt
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return createdAt
	}
	return ms
}

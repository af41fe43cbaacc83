package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// initSchema creates all required tables if they don't exist, then applies
// additive column migrations for databases created by older versions.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		work_dir TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'active',
		created_at INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id INTEGER NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		success_criteria TEXT NOT NULL DEFAULT '',
		dependency_id INTEGER,
		in_progress INTEGER NOT NULL DEFAULT 0,
		in_review INTEGER NOT NULL DEFAULT 0,
		complete INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		review_count INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE,
		FOREIGN KEY (dependency_id) REFERENCES tasks(id) ON DELETE SET NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_project_id ON tasks(project_id);

	CREATE TABLE IF NOT EXISTS agents (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		role TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		queues TEXT NOT NULL DEFAULT '[]',
		provider TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS iterations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id INTEGER NOT NULL,
		agent_id INTEGER NOT NULL DEFAULT 0,
		loop TEXT NOT NULL,
		number INTEGER NOT NULL,
		outcome TEXT NOT NULL,
		snippet TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_iterations_task_id ON iterations(task_id);
	`

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, schema); err != nil {
			return err
		}
		return migrate(ctx, tx)
	})
}

// Columns added after the first release. Existing rows take the neutral
// default; on a fresh database every statement fails with a duplicate column
// error, which is ignored.
var additiveColumns = []struct {
	stmt string
	desc string
}{
	{stmt: `ALTER TABLE projects ADD COLUMN work_dir TEXT NOT NULL DEFAULT '';`, desc: "projects.work_dir"},
	{stmt: `ALTER TABLE tasks ADD COLUMN success_criteria TEXT NOT NULL DEFAULT '';`, desc: "tasks.success_criteria"},
	{stmt: `ALTER TABLE tasks ADD COLUMN failed INTEGER NOT NULL DEFAULT 0;`, desc: "tasks.failed"},
	{stmt: `ALTER TABLE tasks ADD COLUMN review_count INTEGER NOT NULL DEFAULT 0;`, desc: "tasks.review_count"},
	{stmt: `ALTER TABLE agents ADD COLUMN queues TEXT NOT NULL DEFAULT '[]';`, desc: "agents.queues"},
	{stmt: `ALTER TABLE agents ADD COLUMN provider TEXT NOT NULL DEFAULT '';`, desc: "agents.provider"},
}

func migrate(ctx context.Context, tx *sql.Tx) error {
	for _, c := range additiveColumns {
		if _, err := tx.ExecContext(ctx, c.stmt); err != nil && !strings.Contains(err.Error(), "duplicate column name") {
			return fmt.Errorf("add %s: %w", c.desc, err)
		}
	}
	return nil
}

package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/taskloop/internal/board"
)

// CreateProject inserts a project. The project starts active.
func (s *SQLiteStore) CreateProject(ctx context.Context, p *board.Project) error {
	if p.Name == "" {
		return fmt.Errorf("project name is required")
	}
	now := time.Now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (name, description, work_dir, status, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, p.Name, p.Description, p.WorkDir, board.ProjectActive, now.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert project: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read project id: %w", err)
	}
	p.ID = id
	p.Status = board.ProjectActive
	p.CreatedAt = time.Unix(now.Unix(), 0)
	return nil
}

// GetProject retrieves a project by ID.
func (s *SQLiteStore) GetProject(ctx context.Context, id int64) (*board.Project, error) {
	return getProject(ctx, s.db, id)
}

func getProject(ctx context.Context, q queryer, id int64) (*board.Project, error) {
	p := &board.Project{}
	var created int64
	err := q.QueryRowContext(ctx, `
		SELECT id, name, description, work_dir, status, created_at
		FROM projects
		WHERE id = ?
	`, id).Scan(&p.ID, &p.Name, &p.Description, &p.WorkDir, &p.Status, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query project: %w", err)
	}
	p.CreatedAt = time.Unix(created, 0)
	return p, nil
}

// ListProjects returns all projects with their task totals, oldest first.
func (s *SQLiteStore) ListProjects(ctx context.Context) ([]*board.Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.name, p.description, p.work_dir, p.status, p.created_at,
			COUNT(t.id), COALESCE(SUM(t.complete), 0)
		FROM projects p
		LEFT JOIN tasks t ON t.project_id = p.id
		GROUP BY p.id
		ORDER BY p.id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	defer rows.Close()

	var projects []*board.Project
	for rows.Next() {
		p := &board.Project{}
		var created int64
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.WorkDir, &p.Status, &created,
			&p.TotalTasks, &p.CompletedTasks); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		p.CreatedAt = time.Unix(created, 0)
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating projects: %w", err)
	}
	return projects, nil
}

// UpdateProject saves a project's name, description and working directory.
// Status is owned by RecomputeProject and is not written here.
func (s *SQLiteStore) UpdateProject(ctx context.Context, p *board.Project) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE projects SET name = ?, description = ?, work_dir = ?
		WHERE id = ?
	`, p.Name, p.Description, p.WorkDir, p.ID)
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	return expectRow(res, "project", p.ID)
}

// DeleteProject removes a project together with its tasks and their iteration log.
func (s *SQLiteStore) DeleteProject(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	return expectRow(res, "project", id)
}

// RecomputeProject re-derives the project's status from its tasks. It is
// idempotent and safe to call after any transition.
func (s *SQLiteStore) RecomputeProject(ctx context.Context, id int64) (board.ProjectStatus, error) {
	var status board.ProjectStatus
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		status, err = recomputeProject(ctx, tx, id)
		return err
	})
	return status, err
}

func recomputeProject(ctx context.Context, q queryer, id int64) (board.ProjectStatus, error) {
	var total, incomplete int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN complete = 0 THEN 1 ELSE 0 END), 0)
		FROM tasks
		WHERE project_id = ?
	`, id).Scan(&total, &incomplete)
	if err != nil {
		return "", fmt.Errorf("failed to count project tasks: %w", err)
	}

	status := board.AggregateStatus(total, incomplete)
	res, err := q.ExecContext(ctx, `UPDATE projects SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return "", fmt.Errorf("failed to update project status: %w", err)
	}
	if err := expectRow(res, "project", id); err != nil {
		return "", err
	}
	return status, nil
}

// expectRow maps a zero-row update or delete to ErrNotFound.
func expectRow(res sql.Result, kind string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
	}
	return nil
}

package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/taskloop/internal/board"
)

// TaskFilter narrows ListTasks.
type TaskFilter struct {
	ProjectID             int64 // 0 lists every project
	HideCompletedProjects bool  // Board view hides tasks of finished projects
}

// TaskUpdate carries a detail edit. Nil fields are left unchanged.
type TaskUpdate struct {
	Title           *string
	Description     *string
	SuccessCriteria *string
	DependencyID    *int64 // New prerequisite; see ClearDependency
	ClearDependency bool
	Flags           *board.Flags
	ReviewCount     *int
}

// PlannedTask is a task proposal whose prerequisite is an index into the same plan.
type PlannedTask struct {
	Title           string
	Description     string
	SuccessCriteria string
	DependencyIndex *int
}

const taskSelect = `
	SELECT t.id, t.project_id, t.title, t.description, t.success_criteria, t.dependency_id,
		t.in_progress, t.in_review, t.complete, t.failed, t.review_count, t.created_at,
		COALESCE(d.complete, 0), COALESCE(d.title, '')
	FROM tasks t
	LEFT JOIN tasks d ON d.id = t.dependency_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(r rowScanner) (*board.Task, error) {
	t := &board.Task{}
	var dep sql.NullInt64
	var created int64
	err := r.Scan(&t.ID, &t.ProjectID, &t.Title, &t.Description, &t.SuccessCriteria, &dep,
		&t.Flags.InProgress, &t.Flags.InReview, &t.Flags.Complete, &t.Flags.Failed,
		&t.ReviewCount, &created, &t.DependencyComplete, &t.DependencyTitle)
	if err != nil {
		return nil, err
	}
	if dep.Valid {
		id := dep.Int64
		t.DependencyID = &id
	}
	t.CreatedAt = time.Unix(created, 0)
	return t, nil
}

func getTask(ctx context.Context, q queryer, id int64) (*board.Task, error) {
	t, err := scanTask(q.QueryRowContext(ctx, taskSelect+` WHERE t.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query task: %w", err)
	}
	return t, nil
}

func queryTasks(ctx context.Context, q queryer, query string, args ...any) ([]*board.Task, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*board.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return tasks, nil
}

// CreateTask inserts a task with all flags false. A dependency must name an
// existing task of the same project.
func (s *SQLiteStore) CreateTask(ctx context.Context, t *board.Task) error {
	if t.Title == "" {
		return fmt.Errorf("task title is required")
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := getProject(ctx, tx, t.ProjectID); err != nil {
			return err
		}
		if t.DependencyID != nil {
			if err := checkDependencyTarget(ctx, tx, t.ProjectID, *t.DependencyID); err != nil {
				return err
			}
		}
		id, err := insertTask(ctx, tx, t.ProjectID, t.Title, t.Description, t.SuccessCriteria, t.DependencyID)
		if err != nil {
			return err
		}
		// An incomplete task reopens a completed project.
		if _, err := recomputeProject(ctx, tx, t.ProjectID); err != nil {
			return err
		}
		created, err := getTask(ctx, tx, id)
		if err != nil {
			return err
		}
		*t = *created
		return nil
	})
}

func insertTask(ctx context.Context, tx *sql.Tx, projectID int64, title, description, criteria string, dep *int64) (int64, error) {
	var depArg any
	if dep != nil {
		depArg = *dep
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO tasks (project_id, title, description, success_criteria, dependency_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, projectID, title, description, criteria, depArg, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to insert task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read task id: %w", err)
	}
	return id, nil
}

func checkDependencyTarget(ctx context.Context, q queryer, projectID, depID int64) error {
	var depProject int64
	err := q.QueryRowContext(ctx, `SELECT project_id FROM tasks WHERE id = ?`, depID).Scan(&depProject)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("dependency task %d: %w", depID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to check dependency: %w", err)
	}
	if depProject != projectID {
		return fmt.Errorf("dependency task %d belongs to project %d, not %d", depID, depProject, projectID)
	}
	return nil
}

// GetTask retrieves a task by ID with its dependency's completion filled in.
func (s *SQLiteStore) GetTask(ctx context.Context, id int64) (*board.Task, error) {
	return getTask(ctx, s.db, id)
}

// ListTasks returns tasks in creation order.
func (s *SQLiteStore) ListTasks(ctx context.Context, filter TaskFilter) ([]*board.Task, error) {
	return queryTasks(ctx, s.db, taskSelect+`
		JOIN projects p ON p.id = t.project_id
		WHERE (? = 0 OR t.project_id = ?)
		  AND (? = 0 OR p.status != 'completed')
		ORDER BY t.id
	`, filter.ProjectID, filter.ProjectID, boolInt(filter.HideCompletedProjects))
}

// UpdateTaskDetails applies a detail edit. Changing the dependency goes
// through the same cycle check as SetDependency.
func (s *SQLiteStore) UpdateTaskDetails(ctx context.Context, id int64, upd TaskUpdate) (*board.Task, error) {
	var out *board.Task
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		t, err := getTask(ctx, tx, id)
		if err != nil {
			return err
		}
		if upd.Title != nil {
			if *upd.Title == "" {
				return fmt.Errorf("task title is required")
			}
			t.Title = *upd.Title
		}
		if upd.Description != nil {
			t.Description = *upd.Description
		}
		if upd.SuccessCriteria != nil {
			t.SuccessCriteria = *upd.SuccessCriteria
		}
		if upd.Flags != nil {
			t.Flags = *upd.Flags
		}
		if upd.ReviewCount != nil {
			if *upd.ReviewCount < 0 {
				return fmt.Errorf("review count must not be negative")
			}
			t.ReviewCount = *upd.ReviewCount
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE tasks SET title = ?, description = ?, success_criteria = ?,
				in_progress = ?, in_review = ?, complete = ?, failed = ?, review_count = ?
			WHERE id = ?
		`, t.Title, t.Description, t.SuccessCriteria,
			boolInt(t.Flags.InProgress), boolInt(t.Flags.InReview), boolInt(t.Flags.Complete), boolInt(t.Flags.Failed),
			t.ReviewCount, id); err != nil {
			return fmt.Errorf("failed to update task: %w", err)
		}

		switch {
		case upd.ClearDependency:
			if err := setDependency(ctx, tx, t, nil); err != nil {
				return err
			}
		case upd.DependencyID != nil:
			if err := setDependency(ctx, tx, t, upd.DependencyID); err != nil {
				return err
			}
		}

		if _, err := recomputeProject(ctx, tx, t.ProjectID); err != nil {
			return err
		}
		out, err = getTask(ctx, tx, id)
		return err
	})
	return out, err
}

// SetDependency points a task at a prerequisite in the same project, or
// clears it when dep is nil. Edges that would close a cycle are rejected
// with ErrDependencyCycle.
func (s *SQLiteStore) SetDependency(ctx context.Context, taskID int64, dep *int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		t, err := getTask(ctx, tx, taskID)
		if err != nil {
			return err
		}
		return setDependency(ctx, tx, t, dep)
	})
}

func setDependency(ctx context.Context, tx *sql.Tx, t *board.Task, dep *int64) error {
	if dep != nil {
		if err := checkDependencyTarget(ctx, tx, t.ProjectID, *dep); err != nil {
			return err
		}
		siblings, err := queryTasks(ctx, tx, taskSelect+` WHERE t.project_id = ?`, t.ProjectID)
		if err != nil {
			return err
		}
		if err := board.GraphFromTasks(siblings).SetDependency(t.ID, dep); err != nil {
			return err
		}
	}

	var depArg any
	if dep != nil {
		depArg = *dep
	}
	if _, err := tx.ExecContext(ctx, `UPDATE tasks SET dependency_id = ? WHERE id = ?`, depArg, t.ID); err != nil {
		return fmt.Errorf("failed to update dependency: %w", err)
	}
	return nil
}

// ClaimTask atomically marks a task in progress. The eligibility check and the
// guarded write run in one immediate transaction, and the write only matches
// a row that is still unclaimed, so concurrent claimers see exactly one
// winner. Losers get ErrAlreadyClaimed; tasks whose state forbids a claim get
// ErrNotClaimable.
func (s *SQLiteStore) ClaimTask(ctx context.Context, id int64) (*board.Task, error) {
	var out *board.Task
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		t, err := getTask(ctx, tx, id)
		if err != nil {
			return err
		}
		if t.Flags.InProgress {
			return fmt.Errorf("task %d: %w", id, ErrAlreadyClaimed)
		}
		if err := t.Claim(); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE tasks SET in_progress = 1, failed = 0
			WHERE id = ? AND in_progress = 0
		`, id)
		if err != nil {
			return fmt.Errorf("failed to claim task: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read affected rows: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("task %d: %w", id, ErrAlreadyClaimed)
		}
		out = t
		return nil
	})
	return out, err
}

// ApplyTransition applies a loop outcome to a task in one read-modify-write
// transaction and recomputes the owning project.
func (s *SQLiteStore) ApplyTransition(ctx context.Context, id int64, tr board.Transition, maxReviewAttempts int) (*board.Task, board.TransitionResult, error) {
	var out *board.Task
	var result board.TransitionResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		t, err := getTask(ctx, tx, id)
		if err != nil {
			return err
		}
		result, err = t.Apply(tr, maxReviewAttempts)
		if err != nil {
			return err
		}
		if err := writeState(ctx, tx, t); err != nil {
			return err
		}
		if _, err := recomputeProject(ctx, tx, t.ProjectID); err != nil {
			return err
		}
		out = t
		return nil
	})
	return out, result, err
}

// MarkFailed clears in_progress and sets failed. It is the cleanup path for a
// loop that died before its outcome could be applied.
func (s *SQLiteStore) MarkFailed(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET in_progress = 0, failed = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to mark task failed: %w", err)
	}
	return expectRow(res, "task", id)
}

// OverrideStatus performs a manual board move: all flags are reset and the
// one matching status is set.
func (s *SQLiteStore) OverrideStatus(ctx context.Context, id int64, status board.Status) (*board.Task, error) {
	var out *board.Task
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		t, err := getTask(ctx, tx, id)
		if err != nil {
			return err
		}
		t.Override(status)
		if err := writeState(ctx, tx, t); err != nil {
			return err
		}
		if _, err := recomputeProject(ctx, tx, t.ProjectID); err != nil {
			return err
		}
		out = t
		return nil
	})
	return out, err
}

func writeState(ctx context.Context, tx *sql.Tx, t *board.Task) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE tasks SET description = ?, in_progress = ?, in_review = ?, complete = ?, failed = ?, review_count = ?
		WHERE id = ?
	`, t.Description, boolInt(t.Flags.InProgress), boolInt(t.Flags.InReview), boolInt(t.Flags.Complete),
		boolInt(t.Flags.Failed), t.ReviewCount, t.ID)
	if err != nil {
		return fmt.Errorf("failed to write task state: %w", err)
	}
	return nil
}

// QueueCandidates lists the tasks eligible for a queue in creation order.
func (s *SQLiteStore) QueueCandidates(ctx context.Context, queue board.Queue) ([]*board.Task, error) {
	var where string
	switch queue {
	case board.QueueReview:
		where = `t.in_review = 1 AND t.in_progress = 0`
	case board.QueueTriage:
		where = `t.failed = 1 AND t.in_progress = 0`
	case board.QueueTodo:
		where = `t.in_progress = 0 AND t.in_review = 0 AND t.complete = 0 AND t.failed = 0
			AND (t.dependency_id IS NULL OR d.complete = 1)`
	default:
		return nil, fmt.Errorf("unknown queue %q", queue)
	}
	return queryTasks(ctx, s.db, taskSelect+` WHERE `+where+` ORDER BY t.id`)
}

// CreateGeneratedTasks inserts a generated plan and translates each
// zero-based dependency index into the id of the inserted task. Tasks whose
// index is out of range are inserted without a dependency. The whole plan is
// rejected if the indices form a cycle.
func (s *SQLiteStore) CreateGeneratedTasks(ctx context.Context, projectID int64, plan []PlannedTask) ([]*board.Task, error) {
	deps := make([]*int, len(plan))
	for i, p := range plan {
		if p.Title == "" {
			return nil, fmt.Errorf("item %d: task title is required", i)
		}
		deps[i] = p.DependencyIndex
	}
	if err := board.ValidateIndexDependencies(deps); err != nil {
		return nil, err
	}

	var out []*board.Task
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := getProject(ctx, tx, projectID); err != nil {
			return err
		}

		ids := make([]int64, len(plan))
		for i, p := range plan {
			id, err := insertTask(ctx, tx, projectID, p.Title, p.Description, p.SuccessCriteria, nil)
			if err != nil {
				return err
			}
			ids[i] = id
		}
		for i, p := range plan {
			if !board.IndexInRange(p.DependencyIndex, len(plan)) {
				continue
			}
			if _, err := tx.ExecContext(ctx, `UPDATE tasks SET dependency_id = ? WHERE id = ?`,
				ids[*p.DependencyIndex], ids[i]); err != nil {
				return fmt.Errorf("failed to link task %d: %w", ids[i], err)
			}
		}

		if _, err := recomputeProject(ctx, tx, projectID); err != nil {
			return err
		}
		var err error
		out, err = collect(ctx, tx, ids)
		return err
	})
	return out, err
}

// AddSubtasks inserts subtasks that all depend on the parent task.
func (s *SQLiteStore) AddSubtasks(ctx context.Context, parentID int64, subtasks []PlannedTask) ([]*board.Task, error) {
	var out []*board.Task
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		parent, err := getTask(ctx, tx, parentID)
		if err != nil {
			return err
		}
		ids := make([]int64, 0, len(subtasks))
		for i, st := range subtasks {
			if st.Title == "" {
				return fmt.Errorf("subtask %d: task title is required", i)
			}
			id, err := insertTask(ctx, tx, parent.ProjectID, st.Title, st.Description, st.SuccessCriteria, &parent.ID)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		if _, err := recomputeProject(ctx, tx, parent.ProjectID); err != nil {
			return err
		}
		out, err = collect(ctx, tx, ids)
		return err
	})
	return out, err
}

func collect(ctx context.Context, q queryer, ids []int64) ([]*board.Task, error) {
	tasks := make([]*board.Task, 0, len(ids))
	for _, id := range ids {
		t, err := getTask(ctx, q, id)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

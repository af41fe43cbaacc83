package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/taskloop/internal/board"
)

// RecordIteration appends one loop iteration to a task's log.
func (s *SQLiteStore) RecordIteration(ctx context.Context, it *board.Iteration) error {
	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO iterations (task_id, agent_id, loop, number, outcome, snippet, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, it.TaskID, it.AgentID, it.Loop, it.Number, it.Outcome, it.Snippet, it.Error, now)
	if err != nil {
		return fmt.Errorf("failed to record iteration: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read iteration id: %w", err)
	}
	it.ID = id
	it.CreatedAt = time.Unix(now, 0)
	return nil
}

// ListIterations returns a task's iteration log, oldest first.
func (s *SQLiteStore) ListIterations(ctx context.Context, taskID int64) ([]*board.Iteration, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, agent_id, loop, number, outcome, snippet, error, created_at
		FROM iterations
		WHERE task_id = ?
		ORDER BY id
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query iterations: %w", err)
	}
	defer rows.Close()

	var log []*board.Iteration
	for rows.Next() {
		it := &board.Iteration{}
		var created int64
		if err := rows.Scan(&it.ID, &it.TaskID, &it.AgentID, &it.Loop, &it.Number, &it.Outcome,
			&it.Snippet, &it.Error, &created); err != nil {
			return nil, fmt.Errorf("failed to scan iteration: %w", err)
		}
		it.CreatedAt = time.Unix(created, 0)
		log = append(log, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating iteration log: %w", err)
	}
	return log, nil
}

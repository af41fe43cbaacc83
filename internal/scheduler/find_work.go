package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aristath/taskloop/internal/board"
	"github.com/aristath/taskloop/internal/logging"
	"github.com/aristath/taskloop/internal/persistence"
)

// Store is the slice of the task store the scheduler needs.
type Store interface {
	QueueCandidates(ctx context.Context, queue board.Queue) ([]*board.Task, error)
	ClaimTask(ctx context.Context, id int64) (*board.Task, error)
}

// Finder matches idle agents to eligible queued tasks.
type Finder struct {
	store  Store
	logger *slog.Logger
}

// NewFinder creates a Finder over store. A nil logger discards output.
func NewFinder(store Store, logger *slog.Logger) *Finder {
	return &Finder{store: store, logger: logging.OrDiscard(logger)}
}

// Candidates returns the de-duplicated candidate list for the agent's queues,
// concatenated in the agent's queue order with creation order inside each
// queue. Inactive agents and agents without queues get nil.
func (f *Finder) Candidates(ctx context.Context, agent *board.Agent) ([]*board.Task, error) {
	if agent == nil || !agent.Active || len(agent.Queues) == 0 {
		return nil, nil
	}

	seen := make(map[int64]bool)
	var out []*board.Task
	for _, q := range agent.Queues {
		tasks, err := f.store.QueueCandidates(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("listing %s queue: %w", q, err)
		}
		for _, t := range tasks {
			if seen[t.ID] {
				continue
			}
			seen[t.ID] = true
			out = append(out, t)
		}
	}
	return out, nil
}

// FindWork selects at most one task for the agent and claims it before
// returning. The first candidate wins; when another agent claimed it first,
// the next candidate is tried. Returns nil when nothing is eligible.
func (f *Finder) FindWork(ctx context.Context, agent *board.Agent) (*board.Task, error) {
	candidates, err := f.Candidates(ctx, agent)
	if err != nil {
		return nil, err
	}

	for _, c := range candidates {
		task, err := f.store.ClaimTask(ctx, c.ID)
		switch {
		case err == nil:
			f.logger.Debug("task claimed", "task_id", task.ID, "agent_id", agent.ID)
			return task, nil
		case errors.Is(err, persistence.ErrAlreadyClaimed),
			errors.Is(err, persistence.ErrNotClaimable),
			errors.Is(err, persistence.ErrNotFound):
			f.logger.Debug("claim lost, trying next candidate", "task_id", c.ID, "agent_id", agent.ID, "error", err)
			continue
		default:
			return nil, fmt.Errorf("claiming task %d: %w", c.ID, err)
		}
	}
	return nil, nil
}

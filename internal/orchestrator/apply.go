package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/aristath/taskloop/internal/board"
	"github.com/aristath/taskloop/internal/events"
	"github.com/aristath/taskloop/internal/logging"
	"github.com/aristath/taskloop/internal/persistence"
)

// OutcomeStore is the slice of the task store needed to apply loop outcomes.
type OutcomeStore interface {
	ApplyTransition(ctx context.Context, id int64, tr board.Transition, maxReviewAttempts int) (*board.Task, board.TransitionResult, error)
	RecomputeProject(ctx context.Context, id int64) (board.ProjectStatus, error)
	MarkFailed(ctx context.Context, id int64) error
}

// Applier writes loop outcomes back to the store.
type Applier struct {
	Store             OutcomeStore
	Events            events.Publisher // Optional
	Logger            *slog.Logger     // Optional
	MaxReviewAttempts int              // Defaults to board.DefaultMaxReviewAttempts
	Retries           uint64           // Retries for transient store errors (default 3)
	RetryInterval     time.Duration    // First retry delay (default 100ms)
}

func (a *Applier) publish(e events.Event) {
	if a.Events != nil {
		a.Events.Publish(e)
	}
}

func (a *Applier) retryPolicy(ctx context.Context) backoff.BackOff {
	retries := a.Retries
	if retries == 0 {
		retries = 3
	}
	bo := backoff.NewExponentialBackOff()
	if a.RetryInterval > 0 {
		bo.InitialInterval = a.RetryInterval
	}
	bo.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(bo, retries), ctx)
}

// Apply records the transition, then recomputes the owning project. Store
// errors are retried; if the transition still cannot be written the task is
// marked failed as best-effort cleanup and the error is returned.
func (a *Applier) Apply(ctx context.Context, taskID, agentID int64, tr board.Transition) (*board.Task, board.TransitionResult, error) {
	log := logging.OrDiscard(a.Logger).With("task_id", taskID, "agent_id", agentID)
	maxAttempts := a.MaxReviewAttempts
	if maxAttempts <= 0 {
		maxAttempts = board.DefaultMaxReviewAttempts
	}

	var task *board.Task
	var result board.TransitionResult
	err := backoff.Retry(func() error {
		var err error
		task, result, err = a.Store.ApplyTransition(ctx, taskID, tr, maxAttempts)
		if errors.Is(err, persistence.ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}, a.retryPolicy(ctx))
	if err != nil {
		err = fmt.Errorf("applying %s to task %d: %w", tr.Kind, taskID, err)
		a.Fail(ctx, taskID, agentID, err)
		return nil, result, err
	}

	log.Info("transition applied", "transition", string(tr.Kind), "status", string(result.Status), "escalated", result.Escalated)
	a.publish(events.TaskTransitionEvent{
		ID:         taskID,
		AgentID:    agentID,
		Transition: string(tr.Kind),
		Status:     string(result.Status),
		Escalated:  result.Escalated,
		Timestamp:  time.Now(),
	})

	status, err := a.Store.RecomputeProject(ctx, task.ProjectID)
	if err != nil {
		log.Warn("failed to recompute project", "project_id", task.ProjectID, "error", err)
		return task, result, nil
	}
	a.publish(events.ProjectStatusEvent{ProjectID: task.ProjectID, Status: string(status), Timestamp: time.Now()})
	return task, result, nil
}

// Fail is the best-effort cleanup for a loop that could not finish: the task
// leaves in_progress and lands in triage. It runs even when ctx is done.
func (a *Applier) Fail(ctx context.Context, taskID, agentID int64, cause error) {
	log := logging.OrDiscard(a.Logger).With("task_id", taskID, "agent_id", agentID)

	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := a.Store.MarkFailed(cleanupCtx, taskID); err != nil {
		log.Error("failed to mark task failed", "cause", cause, "error", err)
	} else {
		log.Warn("task marked failed", "cause", cause)
	}
	a.publish(events.TaskFailedEvent{ID: taskID, AgentID: agentID, Err: cause, Timestamp: time.Now()})
}

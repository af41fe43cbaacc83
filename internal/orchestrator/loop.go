package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/aristath/taskloop/internal/backend"
	"github.com/aristath/taskloop/internal/board"
	"github.com/aristath/taskloop/internal/events"
	"github.com/aristath/taskloop/internal/logging"
)

// Iteration outcomes recorded in the iteration log.
const (
	OutcomeContinue      = "continue"
	OutcomeComplete      = "complete"
	OutcomeRejected      = "rejected"
	OutcomeError         = "error"
	OutcomeTimeout       = "timeout"
	OutcomeMergeConflict = "merge_conflict"
)

// Transcript tails kept in the loop logs.
const (
	buildSnippetLen  = 200
	reviewSnippetLen = 300
)

// Default iteration budgets, used when LoopOptions leaves them unset.
const (
	DefaultMaxBuildIterations  = 15
	DefaultMaxReviewIterations = 5
)

// ErrMaxIterations is the build failure reason when the budget runs out.
var ErrMaxIterations = errors.New("max iterations reached without completion promise")

// LoopOptions bounds one loop run.
type LoopOptions struct {
	MaxIterations int
	Delay         time.Duration // Pause after a clean non-terminal iteration
	InvokeTimeout time.Duration // Per executor call; 0 disables
	LoopTimeout   time.Duration // Whole run; 0 disables
}

// IterationRecorder persists iteration records.
type IterationRecorder interface {
	RecordIteration(ctx context.Context, it *board.Iteration) error
}

// LoopConfig is what both loops need to run.
type LoopConfig struct {
	Backend  backend.Backend
	Breaker  *gobreaker.CircuitBreaker // Optional
	Options  LoopOptions
	Recorder IterationRecorder // Optional
	Events   events.Publisher  // Optional
	Logger   *slog.Logger      // Optional
	AgentID  int64
}

func (c *LoopConfig) invoker() invoker {
	return invoker{backend: c.Backend, breaker: c.Breaker, timeout: c.Options.InvokeTimeout}
}

func (c *LoopConfig) limit(def int) int {
	if c.Options.MaxIterations > 0 {
		return c.Options.MaxIterations
	}
	return def
}

// withLoopTimeout derives the context that bounds the whole run.
func (c *LoopConfig) withLoopTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.Options.LoopTimeout > 0 {
		return context.WithTimeout(ctx, c.Options.LoopTimeout)
	}
	return context.WithCancel(ctx)
}

func (c *LoopConfig) logger(task *board.Task, loop board.LoopKind) *slog.Logger {
	return logging.OrDiscard(c.Logger).With("task_id", task.ID, "agent_id", c.AgentID, "loop", string(loop))
}

// record stores and publishes one iteration. Storage failures are logged; the
// iteration log is diagnostic and never stops a loop.
func (c *LoopConfig) record(ctx context.Context, log *slog.Logger, it *board.Iteration, limit int) {
	if c.Recorder != nil {
		if err := c.Recorder.RecordIteration(context.WithoutCancel(ctx), it); err != nil {
			log.Warn("failed to record iteration", "iteration", it.Number, "error", err)
		}
	}
	if c.Events != nil {
		c.Events.Publish(events.IterationEvent{
			ID:        it.TaskID,
			AgentID:   it.AgentID,
			Loop:      string(it.Loop),
			Number:    it.Number,
			Max:       limit,
			Outcome:   it.Outcome,
			Snippet:   it.Snippet,
			Timestamp: time.Now(),
		})
	}
	log.Info("iteration finished", "iteration", it.Number, "max", limit, "outcome", it.Outcome)
}

// errorOutcome classifies a failed invocation.
func errorOutcome(timedOut bool) string {
	if timedOut {
		return OutcomeTimeout
	}
	return OutcomeError
}

func loopTimeoutError(d time.Duration) error {
	return fmt.Errorf("loop timed out after %s", d)
}

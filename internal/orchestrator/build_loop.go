package orchestrator

import (
	"context"
	"fmt"

	"github.com/aristath/taskloop/internal/backend"
	"github.com/aristath/taskloop/internal/board"
)

// BuildResult is the outcome of a build loop run.
type BuildResult struct {
	Succeeded  bool
	Transcript string // Transcript of the last iteration
	Iterations int    // Executor invocations made
	Err        error  // Why the build did not succeed
}

// Transition maps the result onto the task lifecycle.
func (r BuildResult) Transition() board.Transition {
	if r.Succeeded {
		return board.Transition{Kind: board.TransitionBuildSucceeded}
	}
	return board.Transition{Kind: board.TransitionBuildFailed}
}

// BuildLoop drives a task through bounded executor invocations until the
// completion sentinel appears or the budget runs out. It never touches task
// state; the caller applies the result.
type BuildLoop struct {
	LoopConfig
}

// NewBuildLoop creates a build loop.
func NewBuildLoop(cfg LoopConfig) *BuildLoop {
	return &BuildLoop{LoopConfig: cfg}
}

// Run executes the loop in workDir. Executor errors count as failed
// iterations. The returned error is non-nil only when ctx ends; a loop
// timeout is reported as a failed build instead.
func (l *BuildLoop) Run(ctx context.Context, task *board.Task, workDir string) (BuildResult, error) {
	limit := l.limit(DefaultMaxBuildIterations)
	log := l.logger(task, board.LoopBuild)
	loopCtx, cancel := l.withLoopTimeout(ctx)
	defer cancel()

	inv := l.invoker()
	pause := newPauser(l.Options.Delay)

	var res BuildResult
	var failureLog []string
	for n := 1; n <= limit; n++ {
		log.Debug("starting iteration", "iteration", n, "max", limit)
		prompt := BuildPrompt(task, n, limit, failureLog)
		resp, timedOut, err := inv.invoke(loopCtx, backend.Message{Content: prompt, WorkDir: workDir, Primer: BuildPrimer})
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		res.Iterations = n
		res.Transcript = resp.Content
		it := &board.Iteration{
			TaskID:  task.ID,
			AgentID: l.AgentID,
			Loop:    board.LoopBuild,
			Number:  n,
			Snippet: snippet(resp.Content, buildSnippetLen),
		}

		if loopCtx.Err() != nil {
			res.Err = loopTimeoutError(l.Options.LoopTimeout)
			it.Outcome, it.Error = OutcomeTimeout, res.Err.Error()
			l.record(ctx, log, it, limit)
			return res, nil
		}

		switch {
		case err != nil:
			it.Outcome, it.Error = errorOutcome(timedOut), err.Error()
			failureLog = append(failureLog, fmt.Sprintf("Iteration %d Execution Error: %v", n, err))
		case promisedCompletion(resp.Content, prompt):
			it.Outcome = OutcomeComplete
			l.record(ctx, log, it, limit)
			res.Succeeded = true
			return res, nil
		default:
			it.Outcome = OutcomeContinue
			failureLog = append(failureLog, fmt.Sprintf("Iteration %d Result: Did not complete. Output snippet: %s...", n, snippet(resp.Content, buildSnippetLen)))
		}
		l.record(ctx, log, it, limit)

		if n < limit {
			if err := pause.wait(loopCtx, err != nil); err != nil {
				if ctx.Err() != nil {
					return res, ctx.Err()
				}
				res.Err = loopTimeoutError(l.Options.LoopTimeout)
				return res, nil
			}
		}
	}

	res.Err = ErrMaxIterations
	return res, nil
}

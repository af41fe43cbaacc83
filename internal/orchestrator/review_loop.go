package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/taskloop/internal/backend"
	"github.com/aristath/taskloop/internal/board"
)

// ReviewOutcome is the three-way result of a review.
type ReviewOutcome string

const (
	ReviewApproved     ReviewOutcome = "approved"
	ReviewRejected     ReviewOutcome = "rejected"
	ReviewInconclusive ReviewOutcome = "inconclusive"
)

// InconclusiveFeedback is the rejection reason when no decision was reached.
const InconclusiveFeedback = "Reviewer timed out (max iterations reached) without a clear decision. Defaulting to Rejection."

// ReviewResult is the outcome of a review loop run.
type ReviewResult struct {
	Outcome    ReviewOutcome
	Feedback   string // Sanitized rejection transcript, or the inconclusive default
	Iterations int
}

// Transition maps the result onto the task lifecycle. Inconclusive reviews
// count as rejections.
func (r ReviewResult) Transition() board.Transition {
	if r.Outcome == ReviewApproved {
		return board.Transition{Kind: board.TransitionReviewApproved}
	}
	return board.Transition{Kind: board.TransitionReviewRejected, Feedback: r.Feedback}
}

// ReviewLoop asks the executor to verify a built task until it approves,
// rejects, or the budget runs out.
type ReviewLoop struct {
	LoopConfig
}

// NewReviewLoop creates a review loop.
func NewReviewLoop(cfg LoopConfig) *ReviewLoop {
	return &ReviewLoop{LoopConfig: cfg}
}

// Run executes the review in workDir. The returned error is non-nil only
// when ctx ends.
func (l *ReviewLoop) Run(ctx context.Context, task *board.Task, workDir string) (ReviewResult, error) {
	limit := l.limit(DefaultMaxReviewIterations)
	log := l.logger(task, board.LoopReview)
	loopCtx, cancel := l.withLoopTimeout(ctx)
	defer cancel()

	inv := l.invoker()
	pause := newPauser(l.Options.Delay)

	res := ReviewResult{Outcome: ReviewInconclusive, Feedback: InconclusiveFeedback}
	var progressLog []string
	for n := 1; n <= limit; n++ {
		log.Debug("starting iteration", "iteration", n, "max", limit)
		prompt := ReviewPrompt(task, n, limit, progressLog, workDir)
		resp, timedOut, err := inv.invoke(loopCtx, backend.Message{Content: prompt, WorkDir: workDir, Primer: ReviewPrimer})
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		res.Iterations = n
		it := &board.Iteration{
			TaskID:  task.ID,
			AgentID: l.AgentID,
			Loop:    board.LoopReview,
			Number:  n,
			Snippet: snippet(resp.Content, reviewSnippetLen),
		}

		if loopCtx.Err() != nil {
			it.Outcome, it.Error = OutcomeTimeout, loopTimeoutError(l.Options.LoopTimeout).Error()
			l.record(ctx, log, it, limit)
			res.Feedback = loopTimeoutFeedback(l.Options.LoopTimeout)
			return res, nil
		}

		if err != nil {
			it.Outcome, it.Error = errorOutcome(timedOut), err.Error()
			progressLog = append(progressLog, fmt.Sprintf("Iteration %d Execution Error: %v", n, err))
		} else {
			switch Detect(resp.Content, prompt) {
			case VerdictComplete:
				it.Outcome = OutcomeComplete
				l.record(ctx, log, it, limit)
				return ReviewResult{Outcome: ReviewApproved, Iterations: n}, nil
			case VerdictRejected:
				it.Outcome = OutcomeRejected
				l.record(ctx, log, it, limit)
				return ReviewResult{Outcome: ReviewRejected, Feedback: Feedback(resp.Content, prompt), Iterations: n}, nil
			}
			it.Outcome = OutcomeContinue
			progressLog = append(progressLog, fmt.Sprintf("Iteration %d Output Snippet: %s...", n, snippet(resp.Content, reviewSnippetLen)))
		}
		l.record(ctx, log, it, limit)

		if n < limit {
			if err := pause.wait(loopCtx, err != nil); err != nil {
				if ctx.Err() != nil {
					return res, ctx.Err()
				}
				res.Feedback = loopTimeoutFeedback(l.Options.LoopTimeout)
				return res, nil
			}
		}
	}

	return res, nil
}

func loopTimeoutFeedback(d time.Duration) string {
	return fmt.Sprintf("Reviewer timed out (loop timeout of %s reached) without a clear decision. Defaulting to Rejection.", d)
}

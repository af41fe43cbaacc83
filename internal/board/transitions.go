package board

import (
	"errors"
	"fmt"
)

// ErrNotClaimable is returned when a task cannot be claimed in its current state.
var ErrNotClaimable = errors.New("task is not claimable")

// DefaultMaxReviewAttempts is the rejection budget before a task escalates to triage.
const DefaultMaxReviewAttempts = 3

// TransitionKind names a loop outcome that changes task flags.
type TransitionKind string

const (
	TransitionBuildSucceeded TransitionKind = "build_succeeded"
	TransitionBuildFailed    TransitionKind = "build_failed"
	TransitionReviewApproved TransitionKind = "review_approved"
	TransitionReviewRejected TransitionKind = "review_rejected"
)

// Transition is a loop outcome to be applied to a task.
type Transition struct {
	Kind     TransitionKind
	Feedback string // Rejection reason, only used by TransitionReviewRejected
}

// TransitionResult describes what applying a transition did.
type TransitionResult struct {
	Status    Status // Derived status after the transition
	Escalated bool   // Review budget exhausted, task moved to triage
}

// Claimable reports whether a task in the given state may be claimed.
// Only todo, review and triage tasks that are not already in progress qualify.
func Claimable(t *Task) bool {
	if t.Flags.InProgress || t.Flags.Complete {
		return false
	}
	switch t.Status() {
	case StatusTodo, StatusReview, StatusTriage:
		return true
	}
	return false
}

// Claim marks the task as exclusively owned by a running loop.
func (t *Task) Claim() error {
	if !Claimable(t) {
		return fmt.Errorf("task %d (%s): %w", t.ID, t.Status(), ErrNotClaimable)
	}
	t.Flags.InProgress = true
	t.Flags.Failed = false
	return nil
}

// BuildSucceeded moves a built task into review.
func (t *Task) BuildSucceeded() {
	t.Flags.InProgress = false
	t.Flags.InReview = true
	t.Flags.Failed = false
}

// BuildFailed moves the task to triage. The review count is left alone.
func (t *Task) BuildFailed() {
	t.Flags.InProgress = false
	t.Flags.Failed = true
}

// ReviewApproved completes the task.
func (t *Task) ReviewApproved() {
	t.Flags.InProgress = false
	t.Flags.InReview = false
	t.Flags.Complete = true
	t.Flags.Failed = false
}

// ReviewRejected counts the rejection. Below maxAttempts the feedback is
// prepended to the description and the task returns to todo; at or above it
// the task escalates to triage and needs a human.
func (t *Task) ReviewRejected(feedback string, maxAttempts int) (escalated bool) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxReviewAttempts
	}
	t.ReviewCount++
	t.Flags.InProgress = false
	t.Flags.InReview = false
	t.Flags.Complete = false
	if t.ReviewCount >= maxAttempts {
		t.Flags.Failed = true
		return true
	}
	t.Flags.Failed = false
	t.Description = FeedbackBlock(t.ReviewCount, feedback) + t.Description
	return false
}

// MarkFailed is the best-effort cleanup used when a loop dies unexpectedly,
// so the task does not stay in progress forever.
func (t *Task) MarkFailed() {
	t.Flags.InProgress = false
	t.Flags.Failed = true
}

// Override resets all flags and sets the one matching status, the way a
// manual board move does. Backlog and todo both clear every flag; whether the
// task shows as backlog is then decided by its dependency.
func (t *Task) Override(status Status) {
	t.Flags = Flags{}
	switch status {
	case StatusInProgress:
		t.Flags.InProgress = true
	case StatusReview:
		t.Flags.InReview = true
	case StatusComplete:
		t.Flags.Complete = true
	case StatusTriage:
		t.Flags.Failed = true
	}
}

// Apply dispatches a transition.
func (t *Task) Apply(tr Transition, maxReviewAttempts int) (TransitionResult, error) {
	var res TransitionResult
	switch tr.Kind {
	case TransitionBuildSucceeded:
		t.BuildSucceeded()
	case TransitionBuildFailed:
		t.BuildFailed()
	case TransitionReviewApproved:
		t.ReviewApproved()
	case TransitionReviewRejected:
		res.Escalated = t.ReviewRejected(tr.Feedback, maxReviewAttempts)
	default:
		return res, fmt.Errorf("unknown transition %q", tr.Kind)
	}
	res.Status = t.Status()
	return res, nil
}

// FeedbackBlock formats a review rejection for prepending to a description.
func FeedbackBlock(n int, feedback string) string {
	return fmt.Sprintf("__REVIEW FEEDBACK (%d)__:\n%s\n\n", n, feedback)
}

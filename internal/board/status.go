package board

import "fmt"

// Status is the derived lifecycle state of a task. It is never stored.
type Status string

const (
	StatusBacklog    Status = "backlog"
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusReview     Status = "review"
	StatusTriage     Status = "triage"
	StatusComplete   Status = "complete"
)

// Columns lists every status in board order.
var Columns = []Status{
	StatusBacklog,
	StatusTodo,
	StatusInProgress,
	StatusReview,
	StatusTriage,
	StatusComplete,
}

// ParseStatus validates a status name. "inprogress" is accepted as an alias.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "inprogress":
		return StatusInProgress, nil
	}
	for _, st := range Columns {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Derive computes the status from the flags and the dependency state.
//
// Rules are applied in a fixed order and later rules override earlier ones:
// todo, backlog (unfinished dependency), in_progress, triage, review, complete.
// A lingering flag can therefore never hide a completed task.
func Derive(f Flags, hasDependency, dependencyComplete bool) Status {
	status := StatusTodo
	if hasDependency && !dependencyComplete {
		status = StatusBacklog
	}
	if f.InProgress {
		status = StatusInProgress
	}
	if f.Failed {
		status = StatusTriage
	}
	if f.InReview {
		status = StatusReview
	}
	if f.Complete {
		status = StatusComplete
	}
	return status
}

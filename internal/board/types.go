package board

import (
	"fmt"
	"time"
)

// ProjectStatus is the aggregated status of a project.
type ProjectStatus string

const (
	ProjectActive    ProjectStatus = "active"
	ProjectCompleted ProjectStatus = "completed"
)

// Project groups tasks that share a working context.
type Project struct {
	ID          int64
	Name        string
	Description string
	WorkDir     string // Working context handed to the executor (checkout path)
	Status      ProjectStatus
	CreatedAt   time.Time

	// Populated by list queries only.
	TotalTasks     int
	CompletedTasks int
}

// Flags are the four independently persisted booleans of a task.
// They are not mutually exclusive; Derive resolves them to one Status.
type Flags struct {
	InProgress bool
	InReview   bool
	Complete   bool
	Failed     bool
}

// Task is a unit of work with a lifecycle and an optional single dependency.
type Task struct {
	ID              int64
	ProjectID       int64
	Title           string
	Description     string
	SuccessCriteria string
	DependencyID    *int64 // Prerequisite task, nil when none
	Flags           Flags
	ReviewCount     int
	CreatedAt       time.Time

	// Read-side fields filled in by the store.
	DependencyComplete bool
	DependencyTitle    string
}

// HasDependency reports whether the task references a prerequisite.
func (t *Task) HasDependency() bool {
	return t.DependencyID != nil
}

// Status returns the derived lifecycle status of the task.
func (t *Task) Status() Status {
	return Derive(t.Flags, t.HasDependency(), t.DependencyComplete)
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	if t.DependencyID != nil {
		dep := *t.DependencyID
		cp.DependencyID = &dep
	}
	return &cp
}

// Role is the kind of work an agent performs.
type Role string

const (
	RoleBuilder   Role = "builder"
	RoleReviewer  Role = "reviewer"
	RoleGenerator Role = "generator"
)

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleBuilder, RoleReviewer, RoleGenerator:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q (want builder, reviewer or generator)", s)
}

// Queue is a named category of work an agent may service.
type Queue string

const (
	QueueTodo   Queue = "todo"
	QueueReview Queue = "review"
	QueueTriage Queue = "triage"
)

// ParseQueue validates a queue name.
func ParseQueue(s string) (Queue, error) {
	switch q := Queue(s); q {
	case QueueTodo, QueueReview, QueueTriage:
		return q, nil
	}
	return "", fmt.Errorf("unknown queue %q (want todo, review or triage)", s)
}

// DefaultQueues returns the queues a freshly created agent of the given role listens on.
func DefaultQueues(role Role) []Queue {
	switch role {
	case RoleBuilder:
		return []Queue{QueueTodo}
	case RoleReviewer:
		return []Queue{QueueReview}
	default:
		return []Queue{}
	}
}

// Agent is a configured worker that the scheduler matches to queued tasks.
type Agent struct {
	ID        int64
	Name      string
	Role      Role
	Active    bool
	Queues    []Queue
	Provider  string // Key into config providers; empty means the role default
	CreatedAt time.Time
}

// LoopKind identifies which loop produced an iteration record.
type LoopKind string

const (
	LoopBuild  LoopKind = "build"
	LoopReview LoopKind = "review"
)

// Iteration is one recorded executor invocation of a loop.
type Iteration struct {
	ID        int64
	TaskID    int64
	AgentID   int64 // Zero when run outside an agent (CLI)
	Loop      LoopKind
	Number    int
	Outcome   string // continue, complete, rejected, error, timeout, merge_conflict
	Snippet   string // Trailing transcript characters
	Error     string
	CreatedAt time.Time
}

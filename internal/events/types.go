package events

import (
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	Topic() string
	TaskID() int64 // Zero for events not tied to a task
}

// Topic constants
const (
	TopicTask    = "task"
	TopicProject = "project"
	TopicAgent   = "agent"
)

// Event type constants
const (
	EventTypeTaskClaimed    = "task.claimed"
	EventTypeIteration      = "task.iteration"
	EventTypeTaskTransition = "task.transition"
	EventTypeTaskFailed     = "task.failed"
	EventTypeTaskMerged     = "task.merged"
	EventTypeProjectStatus  = "project.status"
	EventTypeAgentIdle      = "agent.idle"
)

// TaskClaimedEvent is published when an agent claims a task.
type TaskClaimedEvent struct {
	ID        int64
	Title     string
	AgentID   int64
	AgentName string
	Loop      string // "build" or "review"
	Timestamp time.Time
}

func (e TaskClaimedEvent) EventType() string { return EventTypeTaskClaimed }
func (e TaskClaimedEvent) Topic() string     { return TopicTask }
func (e TaskClaimedEvent) TaskID() int64     { return e.ID }

// IterationEvent is published after every executor invocation of a loop.
type IterationEvent struct {
	ID        int64
	AgentID   int64
	Loop      string
	Number    int
	Max       int
	Outcome   string
	Snippet   string
	Timestamp time.Time
}

func (e IterationEvent) EventType() string { return EventTypeIteration }
func (e IterationEvent) Topic() string     { return TopicTask }
func (e IterationEvent) TaskID() int64     { return e.ID }

// TaskTransitionEvent is published when a loop outcome has been applied.
type TaskTransitionEvent struct {
	ID         int64
	AgentID    int64
	Transition string
	Status     string // Derived status after the transition
	Escalated  bool
	Timestamp  time.Time
}

func (e TaskTransitionEvent) EventType() string { return EventTypeTaskTransition }
func (e TaskTransitionEvent) Topic() string     { return TopicTask }
func (e TaskTransitionEvent) TaskID() int64     { return e.ID }

// TaskFailedEvent is published when a loop could not finish normally and the
// task was marked failed as cleanup.
type TaskFailedEvent struct {
	ID        int64
	AgentID   int64
	Err       error
	Timestamp time.Time
}

func (e TaskFailedEvent) EventType() string { return EventTypeTaskFailed }
func (e TaskFailedEvent) Topic() string     { return TopicTask }
func (e TaskFailedEvent) TaskID() int64     { return e.ID }

// TaskMergedEvent is published when a task's worktree is merged.
type TaskMergedEvent struct {
	ID            int64
	Merged        bool
	ConflictFiles []string
	Timestamp     time.Time
}

func (e TaskMergedEvent) EventType() string { return EventTypeTaskMerged }
func (e TaskMergedEvent) Topic() string     { return TopicTask }
func (e TaskMergedEvent) TaskID() int64     { return e.ID }

// ProjectStatusEvent is published after a project's status is recomputed.
type ProjectStatusEvent struct {
	ProjectID int64
	Status    string
	Timestamp time.Time
}

func (e ProjectStatusEvent) EventType() string { return EventTypeProjectStatus }
func (e ProjectStatusEvent) Topic() string     { return TopicProject }
func (e ProjectStatusEvent) TaskID() int64     { return 0 }

// AgentIdleEvent is published when an agent polled and found no work.
type AgentIdleEvent struct {
	AgentID   int64
	AgentName string
	Timestamp time.Time
}

func (e AgentIdleEvent) EventType() string { return EventTypeAgentIdle }
func (e AgentIdleEvent) Topic() string     { return TopicAgent }
func (e AgentIdleEvent) TaskID() int64     { return 0 }

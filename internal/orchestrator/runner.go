package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aristath/taskloop/internal/backend"
	"github.com/aristath/taskloop/internal/board"
	"github.com/aristath/taskloop/internal/events"
	"github.com/aristath/taskloop/internal/logging"
	"github.com/aristath/taskloop/internal/persistence"
	"github.com/aristath/taskloop/internal/scheduler"
	"github.com/aristath/taskloop/internal/worktree"
)

// BackendFactory creates the executor for an agent. provider names the
// circuit breaker the agent's invocations go through.
type BackendFactory func(agent *board.Agent) (b backend.Backend, provider string, err error)

// RunnerConfig configures the agent pool.
type RunnerConfig struct {
	Store             persistence.Store
	BackendFactory    BackendFactory
	Events            events.Publisher        // Optional
	Logger            *slog.Logger            // Optional
	Breakers          *CircuitBreakerRegistry // Optional
	Build             LoopOptions
	Review            LoopOptions
	MaxReviewAttempts int
	ConcurrencyLimit  int           // Max loops running at once (default 4)
	PollInterval      time.Duration // Idle re-check interval for Run (default 5s)

	// Hardening for agents sharing one working directory; both off by default.
	SerializeWorkDirs bool   // One loop per project working directory at a time
	IsolateWorktrees  bool   // Build each task in a git worktree, merge on success
	BaseBranch        string // Branch worktrees start from and merge into
}

// WorkResult describes one task an agent processed.
type WorkResult struct {
	Task       *board.Task // State after the outcome was applied
	Loop       board.LoopKind
	Transition board.Transition
	Result     board.TransitionResult
}

// Runner matches active agents to queued tasks and drives each claimed task
// through its loop.
type Runner struct {
	cfg     RunnerConfig
	finder  *scheduler.Finder
	applier *Applier
	locks   *scheduler.ResourceLockManager
	logger  *slog.Logger

	mu        sync.Mutex
	busy      map[int64]bool
	worktrees map[string]*worktree.Manager
}

// NewRunner creates a new agent pool runner.
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.ConcurrencyLimit <= 0 {
		cfg.ConcurrencyLimit = 4
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.Events == nil {
		cfg.Events = events.Discard
	}
	if cfg.BaseBranch == "" {
		cfg.BaseBranch = "main"
	}
	logger := logging.OrDiscard(cfg.Logger)

	r := &Runner{
		cfg:    cfg,
		finder: scheduler.NewFinder(cfg.Store, logger),
		applier: &Applier{
			Store:             cfg.Store,
			Events:            cfg.Events,
			Logger:            logger,
			MaxReviewAttempts: cfg.MaxReviewAttempts,
		},
		logger:    logger,
		busy:      make(map[int64]bool),
		worktrees: make(map[string]*worktree.Manager),
	}
	if cfg.SerializeWorkDirs {
		r.locks = scheduler.NewResourceLockManager()
	}
	return r
}

// runsLoops reports whether an agent should be offered work. Generators
// only plan; they never run loops.
func runsLoops(a *board.Agent) bool {
	return a.Active && a.Role != board.RoleGenerator && len(a.Queues) > 0
}

func (r *Runner) workers(ctx context.Context) ([]*board.Agent, error) {
	agents, err := r.cfg.Store.ListAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}
	var out []*board.Agent
	for _, a := range agents {
		if runsLoops(a) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *Runner) tryMarkBusy(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.busy[id] {
		return false
	}
	r.busy[id] = true
	return true
}

func (r *Runner) markIdle(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.busy, id)
}

// Run polls until ctx ends. Every poll, each active agent that is not
// already running a loop gets one find-work attempt, bounded by the
// concurrency limit. Agent activation changes take effect on the next poll.
func (r *Runner) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.ConcurrencyLimit)

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		agents, err := r.workers(gctx)
		if err != nil {
			r.logger.Warn("poll failed", "error", err)
		}
		for _, a := range agents {
			if !r.tryMarkBusy(a.ID) {
				continue
			}
			agentID := a.ID
			if !g.TryGo(func() error {
				defer r.markIdle(agentID)
				r.runAgent(gctx, agentID)
				return nil
			}) {
				r.markIdle(agentID)
				break
			}
		}

		select {
		case <-ctx.Done():
			_ = g.Wait()
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunUntilIdle gives every active agent find-work attempts in rounds until a
// round in which no agent processed a task. An agent servicing the triage
// queue can keep a task that always fails cycling; bound such runs with ctx.
func (r *Runner) RunUntilIdle(ctx context.Context) error {
	for {
		agents, err := r.workers(ctx)
		if err != nil {
			return err
		}

		var mu sync.Mutex
		worked := false
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.cfg.ConcurrencyLimit)
		for _, a := range agents {
			agentID := a.ID
			g.Go(func() error {
				res, err := r.RunOnce(gctx, agentID)
				if err != nil && ctx.Err() == nil {
					r.logger.Warn("agent run failed", "agent_id", agentID, "error", err)
				}
				if res != nil {
					mu.Lock()
					worked = true
					mu.Unlock()
				}
				return nil
			})
		}
		_ = g.Wait()

		if err := ctx.Err(); err != nil {
			return err
		}
		if !worked {
			return nil
		}
	}
}

func (r *Runner) runAgent(ctx context.Context, agentID int64) {
	if _, err := r.RunOnce(ctx, agentID); err != nil && ctx.Err() == nil {
		r.logger.Warn("agent run failed", "agent_id", agentID, "error", err)
	}
}

// RunOnce lets one agent find and process at most one task. It returns nil
// when the agent is inactive, is a generator, or found nothing eligible.
func (r *Runner) RunOnce(ctx context.Context, agentID int64) (*WorkResult, error) {
	agent, err := r.cfg.Store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("loading agent %d: %w", agentID, err)
	}
	if !runsLoops(agent) {
		return nil, nil
	}

	task, err := r.finder.FindWork(ctx, agent)
	if err != nil {
		return nil, fmt.Errorf("finding work for agent %d: %w", agentID, err)
	}
	if task == nil {
		r.cfg.Events.Publish(events.AgentIdleEvent{AgentID: agent.ID, AgentName: agent.Name, Timestamp: time.Now()})
		return nil, nil
	}

	loop := board.LoopBuild
	if task.Flags.InReview {
		loop = board.LoopReview
	}
	r.cfg.Events.Publish(events.TaskClaimedEvent{
		ID:        task.ID,
		Title:     task.Title,
		AgentID:   agent.ID,
		AgentName: agent.Name,
		Loop:      string(loop),
		Timestamp: time.Now(),
	})
	r.logger.Info("task claimed", "task_id", task.ID, "agent_id", agent.ID, "agent", agent.Name, "loop", string(loop))

	tr, err := r.process(ctx, agent, task, loop)
	if err != nil {
		r.applier.Fail(ctx, task.ID, agent.ID, err)
		return nil, err
	}

	updated, result, err := r.applier.Apply(ctx, task.ID, agent.ID, tr)
	if err != nil {
		return nil, err
	}
	return &WorkResult{Task: updated, Loop: loop, Transition: tr, Result: result}, nil
}

// process runs the claimed task's loop and returns the transition to apply.
// An error means the loop could not run to an outcome.
func (r *Runner) process(ctx context.Context, agent *board.Agent, task *board.Task, loop board.LoopKind) (board.Transition, error) {
	project, err := r.cfg.Store.GetProject(ctx, task.ProjectID)
	if err != nil {
		return board.Transition{}, fmt.Errorf("loading project %d: %w", task.ProjectID, err)
	}

	if r.locks != nil {
		release, err := r.locks.Acquire(ctx, workDirKey(project.WorkDir))
		if err != nil {
			return board.Transition{}, err
		}
		defer release()
	}

	b, provider, err := r.cfg.BackendFactory(agent)
	if err != nil {
		return board.Transition{}, fmt.Errorf("creating backend for agent %d: %w", agent.ID, err)
	}
	defer b.Close()

	lc := LoopConfig{
		Backend:  b,
		Recorder: r.cfg.Store,
		Events:   r.cfg.Events,
		Logger:   r.logger,
		AgentID:  agent.ID,
	}
	if r.cfg.Breakers != nil {
		lc.Breaker = r.cfg.Breakers.Get(provider)
	}

	if loop == board.LoopReview {
		lc.Options = r.cfg.Review
		res, err := NewReviewLoop(lc).Run(ctx, task, project.WorkDir)
		if err != nil {
			return board.Transition{}, err
		}
		return res.Transition(), nil
	}

	lc.Options = r.cfg.Build
	if !r.cfg.IsolateWorktrees {
		res, err := NewBuildLoop(lc).Run(ctx, task, project.WorkDir)
		if err != nil {
			return board.Transition{}, err
		}
		return res.Transition(), nil
	}
	return r.isolatedBuild(ctx, lc, task, project)
}

// isolatedBuild runs the build loop in the task's own worktree. A successful
// build is committed and merged into the base branch before the task moves
// to review; a merge conflict turns the outcome into a failed build.
func (r *Runner) isolatedBuild(ctx context.Context, lc LoopConfig, task *board.Task, project *board.Project) (board.Transition, error) {
	mgr := r.worktreeManager(project.WorkDir)
	info, err := mgr.Create(ctx, task.ID)
	if err != nil {
		return board.Transition{}, err
	}

	res, err := NewBuildLoop(lc).Run(ctx, task, info.Path)
	if err != nil || !res.Succeeded {
		if relErr := mgr.Release(context.WithoutCancel(ctx), info); relErr != nil {
			r.logger.Warn("failed to release worktree", "task_id", task.ID, "error", relErr)
		}
		return res.Transition(), err
	}

	if _, err := mgr.CommitAll(ctx, info, fmt.Sprintf("Task %d: %s", task.ID, task.Title)); err != nil {
		_ = mgr.Release(context.WithoutCancel(ctx), info)
		return board.Transition{}, fmt.Errorf("committing task %d: %w", task.ID, err)
	}

	merge, err := mgr.Merge(ctx, info)
	if err != nil {
		_ = mgr.Release(context.WithoutCancel(ctx), info)
		return board.Transition{}, err
	}
	r.cfg.Events.Publish(events.TaskMergedEvent{ID: task.ID, Merged: merge.Merged, ConflictFiles: merge.ConflictFiles, Timestamp: time.Now()})

	if !merge.Merged {
		it := &board.Iteration{
			TaskID:  task.ID,
			AgentID: lc.AgentID,
			Loop:    board.LoopBuild,
			Number:  res.Iterations,
			Outcome: OutcomeMergeConflict,
			Error:   merge.Error.Error(),
		}
		if len(merge.ConflictFiles) > 0 {
			it.Snippet = fmt.Sprintf("conflicts: %v", merge.ConflictFiles)
		}
		lc.record(ctx, r.logger.With("task_id", task.ID), it, lc.limit(DefaultMaxBuildIterations))
		if err := mgr.Release(context.WithoutCancel(ctx), info); err != nil {
			r.logger.Warn("failed to release worktree", "task_id", task.ID, "error", err)
		}
		return board.Transition{Kind: board.TransitionBuildFailed}, nil
	}

	if err := mgr.Cleanup(context.WithoutCancel(ctx), info); err != nil {
		r.logger.Warn("failed to clean up worktree", "task_id", task.ID, "error", err)
	}
	return res.Transition(), nil
}

func (r *Runner) worktreeManager(repo string) *worktree.Manager {
	key := workDirKey(repo)
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.worktrees[key]; ok {
		return m
	}
	m := worktree.New(worktree.Config{RepoPath: repo, BaseBranch: r.cfg.BaseBranch})
	r.worktrees[key] = m
	return m
}

// Prune clears stale worktree metadata for every project when isolation is on.
func (r *Runner) Prune(ctx context.Context) error {
	if !r.cfg.IsolateWorktrees {
		return nil
	}
	projects, err := r.cfg.Store.ListProjects(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, p := range projects {
		if err := r.worktreeManager(p.WorkDir).Prune(ctx); err != nil {
			errs = append(errs, fmt.Errorf("project %d: %w", p.ID, err))
		}
	}
	return errors.Join(errs...)
}

// workDirKey normalizes a working directory for use as a lock key.
func workDirKey(dir string) string {
	if abs, err := filepath.Abs(dir); err == nil {
		return filepath.Clean(abs)
	}
	return filepath.Clean(dir)
}

package worktree

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// Manager isolates each task's build in its own git worktree on branch
// task/<id>, and merges finished work back into the base branch.
type Manager struct {
	config  Config
	mergeMu sync.Mutex // Serializes merge operations to prevent git lock conflicts
}

// New creates a worktree manager for one repository.
func New(cfg Config) *Manager {
	if cfg.WorktreeDir == "" {
		cfg.WorktreeDir = ".worktrees"
	}
	return &Manager{config: cfg}
}

// BranchName returns the branch used for a task.
func BranchName(taskID int64) string {
	return fmt.Sprintf("task/%d", taskID)
}

// git runs a git command in dir and returns its combined output.
func git(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("git %s: %w (output: %s)", args[0], err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// Create adds a worktree for the task. A branch left behind by an earlier
// attempt (failed build or merge conflict) is checked out again so the next
// build continues from it.
func (m *Manager) Create(ctx context.Context, taskID int64) (*Info, error) {
	branch := BranchName(taskID)
	wtPath := filepath.Join(m.config.RepoPath, m.config.WorktreeDir, strconv.FormatInt(taskID, 10))

	args := []string{"worktree", "add", "-b", branch, wtPath, m.config.BaseBranch}
	if m.branchExists(ctx, branch) {
		args = []string{"worktree", "add", wtPath, branch}
	}
	if _, err := git(ctx, m.config.RepoPath, args...); err != nil {
		return nil, fmt.Errorf("failed to create worktree: %w", err)
	}

	head, err := git(ctx, wtPath, "rev-parse", "HEAD")
	if err != nil {
		return nil, fmt.Errorf("failed to get HEAD commit: %w", err)
	}

	return &Info{
		Path:   wtPath,
		Branch: branch,
		TaskID: taskID,
		Head:   strings.TrimSpace(head),
	}, nil
}

func (m *Manager) branchExists(ctx context.Context, branch string) bool {
	_, err := git(ctx, m.config.RepoPath, "rev-parse", "--verify", "--quiet", "refs/heads/"+branch)
	return err == nil
}

// CommitAll stages and commits everything in the worktree. It reports false
// when there was nothing to commit.
func (m *Manager) CommitAll(ctx context.Context, info *Info, message string) (bool, error) {
	if _, err := git(ctx, info.Path, "add", "-A"); err != nil {
		return false, err
	}
	status, err := git(ctx, info.Path, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	if strings.TrimSpace(status) == "" {
		return false, nil
	}
	if _, err := git(ctx, info.Path, "commit", "-m", message); err != nil {
		return false, err
	}
	return true, nil
}

// Merge merges the task branch into the base branch. Conflicts are reported
// in the result, not as an error; the error is reserved for git failures
// that say nothing about the task's work.
func (m *Manager) Merge(ctx context.Context, info *Info) (*MergeResult, error) {
	// Serialize merge operations to prevent concurrent git operations on the main repo
	m.mergeMu.Lock()
	defer m.mergeMu.Unlock()

	if _, err := git(ctx, m.config.RepoPath, "checkout", m.config.BaseBranch); err != nil {
		return &MergeResult{Error: fmt.Errorf("failed to checkout base branch: %w", err)}, nil
	}

	// Dry-run merge; a non-zero exit or CONFLICT lines mean conflicts
	out, err := git(ctx, m.config.RepoPath, "merge-tree", "--write-tree", m.config.BaseBranch, info.Branch)
	if err != nil || strings.Contains(out, "CONFLICT") {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return &MergeResult{
			Error:         fmt.Errorf("merge conflict detected: %s", strings.TrimSpace(out)),
			ConflictFiles: parseConflictFiles(out),
		}, nil
	}

	msg := fmt.Sprintf("Merge %s", info.Branch)
	if _, err := git(ctx, m.config.RepoPath, "merge", "--no-ff", "-m", msg, info.Branch); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Leave the base branch clean for the next merge
		_, _ = git(context.WithoutCancel(ctx), m.config.RepoPath, "merge", "--abort")
		return &MergeResult{Error: fmt.Errorf("merge failed: %w", err)}, nil
	}

	return &MergeResult{Merged: true}, nil
}

// parseConflictFiles extracts conflicting file paths from merge-tree output
// lines like "CONFLICT (content): Merge conflict in <file>".
func parseConflictFiles(output string) []string {
	var conflicts []string
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "CONFLICT") {
			continue
		}
		if i := strings.LastIndex(line, " in "); i >= 0 {
			conflicts = append(conflicts, strings.TrimSpace(line[i+len(" in "):]))
		}
	}
	return conflicts
}

// Release removes the worktree but keeps the branch, so a later attempt can
// continue from it and a human can inspect it.
func (m *Manager) Release(ctx context.Context, info *Info) error {
	if _, err := git(ctx, m.config.RepoPath, "worktree", "remove", "--force", info.Path); err != nil {
		return fmt.Errorf("worktree remove failed: %w", err)
	}
	return nil
}

// Cleanup removes the worktree and deletes the branch. Used after a merge.
func (m *Manager) Cleanup(ctx context.Context, info *Info) error {
	var errs []string

	if err := m.Release(ctx, info); err != nil {
		errs = append(errs, err.Error())
	}
	if _, err := git(ctx, m.config.RepoPath, "branch", "-D", info.Branch); err != nil {
		errs = append(errs, fmt.Sprintf("branch delete failed: %v", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("cleanup errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// List returns all worktrees in the repository.
func (m *Manager) List(ctx context.Context) ([]Info, error) {
	out, err := git(ctx, m.config.RepoPath, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("failed to list worktrees: %w", err)
	}

	var worktrees []Info
	var current Info

	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			// Empty line signals end of a worktree entry
			if current.Path != "" {
				worktrees = append(worktrees, current)
				current = Info{}
			}
			continue
		}

		switch {
		case strings.HasPrefix(line, "worktree "):
			current.Path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "HEAD "):
			current.Head = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			current.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
			if id, ok := strings.CutPrefix(current.Branch, "task/"); ok {
				current.TaskID, _ = strconv.ParseInt(id, 10, 64)
			}
		}
	}

	if current.Path != "" {
		worktrees = append(worktrees, current)
	}

	return worktrees, nil
}

// Prune cleans up stale worktree metadata left by crashed runs.
func (m *Manager) Prune(ctx context.Context) error {
	if _, err := git(ctx, m.config.RepoPath, "worktree", "prune"); err != nil {
		return fmt.Errorf("failed to prune worktrees: %w", err)
	}
	return nil
}

package worktree

// Info holds information about a task worktree.
type Info struct {
	Path   string // Absolute path to the worktree directory
	Branch string // Branch name (e.g., "task/12")
	TaskID int64  // Zero for worktrees not created by this manager
	Head   string // Current HEAD commit hash
}

// MergeResult represents the outcome of a merge operation.
type MergeResult struct {
	Merged        bool     // True if merge succeeded
	ConflictFiles []string // Files with conflicts (if any)
	Error         error    // Why the merge did not happen
}

// Config configures the worktree manager.
type Config struct {
	RepoPath    string // Path to the git repository (the project's working directory)
	BaseBranch  string // Branch task branches start from and merge into (e.g., "main")
	WorktreeDir string // Directory under the repo for worktrees (default ".worktrees")
}

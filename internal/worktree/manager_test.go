package worktree

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func gitRun(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s failed: %v (output: %s)", strings.Join(args, " "), err, out)
	}
	return string(out)
}

// setupTestRepo creates a temporary git repository on branch main with one commit.
func setupTestRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	repoPath := t.TempDir()
	gitRun(t, repoPath, "init")
	gitRun(t, repoPath, "config", "user.name", "Test User")
	gitRun(t, repoPath, "config", "user.email", "test@example.com")
	gitRun(t, repoPath, "checkout", "-b", "main")

	if err := os.WriteFile(filepath.Join(repoPath, "README.md"), []byte("# Test Repo\n"), 0644); err != nil {
		t.Fatalf("failed to write initial file: %v", err)
	}
	gitRun(t, repoPath, "add", ".")
	gitRun(t, repoPath, "commit", "-m", "initial commit")
	return repoPath
}

func newManager(repoPath string) *Manager {
	return New(Config{RepoPath: repoPath, BaseBranch: "main"})
}

func writeAndCommit(t *testing.T, m *Manager, info *Info, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(info.Path, name), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	committed, err := m.CommitAll(context.Background(), info, "work on "+name)
	if err != nil {
		t.Fatalf("CommitAll failed: %v", err)
	}
	if !committed {
		t.Fatal("expected a commit")
	}
}

func TestCreate(t *testing.T) {
	repoPath := setupTestRepo(t)
	m := newManager(repoPath)

	info, err := m.Create(context.Background(), 12)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Worktrees use a gitfile, not a directory
	if stat, err := os.Stat(filepath.Join(info.Path, ".git")); err != nil {
		t.Errorf(".git file does not exist: %v", err)
	} else if stat.IsDir() {
		t.Errorf(".git is a directory, expected file (gitfile)")
	}

	if out := gitRun(t, repoPath, "branch", "--list", info.Branch); !strings.Contains(out, "task/12") {
		t.Errorf("branch task/12 not found: %q", out)
	}
	if info.TaskID != 12 || info.Branch != "task/12" || info.Head == "" {
		t.Errorf("unexpected info: %+v", info)
	}
}

func TestCreateReusesLeftoverBranch(t *testing.T) {
	repoPath := setupTestRepo(t)
	m := newManager(repoPath)
	ctx := context.Background()

	info, err := m.Create(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	writeAndCommit(t, m, info, "partial.txt", "first attempt\n")
	if err := m.Release(ctx, info); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	again, err := m.Create(ctx, 3)
	if err != nil {
		t.Fatalf("second Create failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(again.Path, "partial.txt")); err != nil {
		t.Errorf("earlier attempt's work missing from reused branch: %v", err)
	}
}

func TestCommitAllNothingToCommit(t *testing.T) {
	repoPath := setupTestRepo(t)
	m := newManager(repoPath)

	info, err := m.Create(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	committed, err := m.CommitAll(context.Background(), info, "noop")
	if err != nil {
		t.Fatalf("CommitAll failed: %v", err)
	}
	if committed {
		t.Error("expected no commit for a clean worktree")
	}
}

func TestMergeClean(t *testing.T) {
	repoPath := setupTestRepo(t)
	m := newManager(repoPath)
	ctx := context.Background()

	info, err := m.Create(ctx, 5)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	writeAndCommit(t, m, info, "feature.txt", "new feature\n")

	result, err := m.Merge(ctx, info)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if !result.Merged {
		t.Fatalf("expected clean merge, got error: %v", result.Error)
	}
	if _, err := os.Stat(filepath.Join(repoPath, "feature.txt")); err != nil {
		t.Errorf("feature.txt not found in main worktree after merge")
	}

	if err := m.Cleanup(ctx, info); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if out := gitRun(t, repoPath, "branch", "--list", info.Branch); strings.TrimSpace(out) != "" {
		t.Errorf("branch still exists after cleanup: %q", out)
	}
	if _, err := os.Stat(info.Path); !os.IsNotExist(err) {
		t.Errorf("worktree directory still exists after cleanup")
	}
}

func TestMergeConflict(t *testing.T) {
	repoPath := setupTestRepo(t)
	m := newManager(repoPath)
	ctx := context.Background()

	// Branch off before main changes
	info, err := m.Create(ctx, 7)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	writeAndCommit(t, m, info, "README.md", "# From the task\n")

	if err := os.WriteFile(filepath.Join(repoPath, "README.md"), []byte("# From main\n"), 0644); err != nil {
		t.Fatal(err)
	}
	gitRun(t, repoPath, "commit", "-am", "main change")

	result, err := m.Merge(ctx, info)
	if err != nil {
		t.Fatalf("Merge returned unexpected error: %v", err)
	}
	if result.Merged {
		t.Fatal("expected merge conflict")
	}
	found := false
	for _, f := range result.ConflictFiles {
		if f == "README.md" {
			found = true
		}
	}
	if !found {
		t.Errorf("conflict files = %v, want README.md", result.ConflictFiles)
	}

	// Main is untouched
	data, _ := os.ReadFile(filepath.Join(repoPath, "README.md"))
	if string(data) != "# From main\n" {
		t.Errorf("main README changed: %q", data)
	}
}

func TestListAndPrune(t *testing.T) {
	repoPath := setupTestRepo(t)
	m := newManager(repoPath)
	ctx := context.Background()

	for _, id := range []int64{1, 2} {
		if _, err := m.Create(ctx, id); err != nil {
			t.Fatal(err)
		}
	}

	list, err := m.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	ids := map[int64]bool{}
	for _, wt := range list {
		if wt.TaskID != 0 {
			ids[wt.TaskID] = true
		}
	}
	if !ids[1] || !ids[2] || len(ids) != 2 {
		t.Errorf("task worktrees = %v, want 1 and 2", ids)
	}

	// A worktree deleted behind git's back is pruned
	if err := os.RemoveAll(filepath.Join(repoPath, ".worktrees", "2")); err != nil {
		t.Fatal(err)
	}
	if err := m.Prune(ctx); err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if out := gitRun(t, repoPath, "worktree", "list"); strings.Contains(out, filepath.Join(".worktrees", "2")) {
		t.Errorf("stale worktree still listed after prune:\n%s", out)
	}
}

func TestParseConflictFiles(t *testing.T) {
	out := "abc123\nCONFLICT (content): Merge conflict in src/app.go\nAuto-merging README.md\nCONFLICT (add/add): Merge conflict in docs/in depth.md\n"
	got := parseConflictFiles(out)
	want := []string{"src/app.go", "docs/in depth.md"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

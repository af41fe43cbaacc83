package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/aristath/taskloop/internal/board"
	"github.com/aristath/taskloop/internal/events"
	"github.com/aristath/taskloop/internal/persistence"
)

type fakeSource struct {
	tasks    []*board.Task
	projects []*board.Project
	agents   []*board.Agent
	err      error
	filter   persistence.TaskFilter
}

func (s *fakeSource) ListTasks(ctx context.Context, filter persistence.TaskFilter) ([]*board.Task, error) {
	s.filter = filter
	return s.tasks, s.err
}

func (s *fakeSource) ListProjects(ctx context.Context) ([]*board.Project, error) {
	return s.projects, nil
}

func (s *fakeSource) ListAgents(ctx context.Context) ([]*board.Agent, error) {
	return s.agents, nil
}

func dep(id int64) *int64 { return &id }

func sampleSource() *fakeSource {
	return &fakeSource{
		tasks: []*board.Task{
			{ID: 1, Title: "Setup", Flags: board.Flags{Complete: true}},
			{ID: 2, Title: "Login form", DependencyID: dep(1), DependencyComplete: true, Flags: board.Flags{InProgress: true}},
			{ID: 3, Title: "Session store", DependencyID: dep(2)},
			{ID: 4, Title: "Docs"},
			{ID: 5, Title: "Flaky", Flags: board.Flags{Failed: true}},
			{ID: 6, Title: "Polish", ReviewCount: 2, Flags: board.Flags{InReview: true}},
		},
		projects: []*board.Project{{ID: 1, Name: "Demo", Status: board.ProjectActive, TotalTasks: 6, CompletedTasks: 1}},
		agents: []*board.Agent{
			{ID: 1, Name: "builder", Role: board.RoleBuilder, Active: true},
			{ID: 2, Name: "reviewer", Role: board.RoleReviewer, Active: false},
		},
	}
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	return next.(Model)
}

func TestGroupByStatus(t *testing.T) {
	cols := GroupByStatus(sampleSource().tasks)

	want := map[board.Status][]int64{
		board.StatusComplete:   {1},
		board.StatusInProgress: {2},
		board.StatusBacklog:    {3},
		board.StatusTodo:       {4},
		board.StatusTriage:     {5},
		board.StatusReview:     {6},
	}
	for st, ids := range want {
		got := cols[st]
		if len(got) != len(ids) {
			t.Errorf("%s: got %d tasks, want %d", st, len(got), len(ids))
			continue
		}
		for i, id := range ids {
			if got[i].ID != id {
				t.Errorf("%s[%d] = #%d, want #%d", st, i, got[i].ID, id)
			}
		}
	}
}

func TestCardLine(t *testing.T) {
	tests := []struct {
		name string
		task *board.Task
		want string
	}{
		{"plain", &board.Task{ID: 4, Title: "Docs"}, "#4 Docs"},
		{"rejected before", &board.Task{ID: 6, Title: "Polish", ReviewCount: 2}, "#6 Polish ↻2"},
		{"blocked", &board.Task{ID: 3, Title: "Session", DependencyID: dep(2)}, "#3 Session ⧗#2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cardLine(tt.task); got != tt.want {
				t.Errorf("cardLine() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestModelSnapshot(t *testing.T) {
	src := sampleSource()
	m := New(Options{Source: src})
	m = update(t, m, tea.WindowSizeMsg{Width: 160, Height: 40})
	m = update(t, m, m.refresh()())

	if !src.filter.HideCompletedProjects {
		t.Error("board without a project filter should hide completed projects")
	}
	if got := len(m.boardPane.columns[board.StatusTodo]); got != 1 {
		t.Errorf("todo column has %d tasks, want 1", got)
	}
	if st, ok := m.activityPane.Agent(2); !ok || st.Name != "reviewer" || st.Active {
		t.Errorf("agent 2 = %+v", st)
	}

	view := m.View()
	for _, want := range []string{"TODO (1)", "TRIAGE (1)", "#4 Docs", "Demo", "builder"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestModelSnapshotError(t *testing.T) {
	src := sampleSource()
	src.err = errors.New("database is locked")
	m := New(Options{Source: src, ProjectID: 3})
	m = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 30})
	m = update(t, m, m.refresh()())

	if src.filter.ProjectID != 3 || src.filter.HideCompletedProjects {
		t.Errorf("filter = %+v", src.filter)
	}
	if !strings.Contains(m.View(), "refresh failed: database is locked") {
		t.Error("refresh error not shown")
	}
}

func TestBoardPaneNavigation(t *testing.T) {
	m := NewBoardPaneModel()
	m.SetFocused(true)
	m.SetSnapshot(sampleSource().tasks, nil)

	keys := func(s string) tea.KeyMsg { return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)} }

	m, _ = m.Update(keys("h"))
	if m.selected != 0 {
		t.Errorf("selected = %d after moving left from the first column", m.selected)
	}
	for range board.Columns {
		m, _ = m.Update(keys("l"))
	}
	if m.selectedStatus() != board.StatusComplete {
		t.Errorf("selected = %s, want the last column", m.selectedStatus())
	}
	m, _ = m.Update(keys("j"))
	if m.offset != 0 {
		t.Errorf("offset = %d, want 0 in a one-card column", m.offset)
	}
}

func TestActivityPaneEvents(t *testing.T) {
	m := NewActivityPaneModel()
	m.SetSize(100, 20)
	now := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)

	m, _ = m.Update(events.TaskClaimedEvent{ID: 7, Title: "Login", AgentID: 1, AgentName: "builder", Loop: "build", Timestamp: now})
	st, ok := m.Agent(1)
	if !ok || st.Status != "running" || st.TaskID != 7 {
		t.Fatalf("after claim: %+v", st)
	}

	m, cmd := m.Update(events.IterationEvent{ID: 7, AgentID: 1, Loop: "build", Number: 2, Max: 15, Outcome: "continue", Snippet: "compiling\n\x1b[32mok\x1b[0m\n", Timestamp: now})
	if cmd == nil {
		t.Error("expected a debounce tick for the selected agent")
	}
	if last := st.Output[len(st.Output)-1]; last != "[15:04:05] #7 build 2/15 continue: ok" {
		t.Errorf("iteration line = %q", last)
	}

	m, _ = m.Update(events.TaskMergedEvent{ID: 7, Merged: false, ConflictFiles: []string{"a.go"}, Timestamp: now})
	if !strings.Contains(st.Output[len(st.Output)-1], "merge conflict in a.go") {
		t.Errorf("merge line = %q", st.Output[len(st.Output)-1])
	}

	m, _ = m.Update(events.TaskTransitionEvent{ID: 7, AgentID: 1, Transition: "build_failed", Status: "triage", Timestamp: now})
	if st.Status != "idle" || st.TaskID != 0 {
		t.Errorf("after transition: %+v", st)
	}

	m, _ = m.Update(events.TaskFailedEvent{ID: 8, AgentID: 3, Err: errors.New("boom"), Timestamp: now})
	if other, ok := m.Agent(3); !ok || other.Status != "failed" {
		t.Errorf("unknown agent from event = %+v", other)
	}
}

func TestActivityPaneKeepsBoundedLog(t *testing.T) {
	m := NewActivityPaneModel()
	for i := 0; i < maxActivityLines+10; i++ {
		m.log(1, time.Now(), "line %d", i)
	}
	st, _ := m.Agent(1)
	if len(st.Output) != maxActivityLines {
		t.Errorf("kept %d lines, want %d", len(st.Output), maxActivityLines)
	}
	if !strings.HasSuffix(st.Output[len(st.Output)-1], "line 509") {
		t.Errorf("last line = %q", st.Output[len(st.Output)-1])
	}
}

func TestQuitKey(t *testing.T) {
	m := New(Options{Source: sampleSource()})
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if !next.(Model).quitting || cmd == nil {
		t.Error("q should quit")
	}
}

package generator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aristath/taskloop/internal/backend"
	"github.com/aristath/taskloop/internal/board"
	"github.com/aristath/taskloop/internal/persistence"
)

type cannedBackend struct {
	content string
	err     error
	sent    []backend.Message
}

func (b *cannedBackend) Send(ctx context.Context, msg backend.Message) (backend.Response, error) {
	b.sent = append(b.sent, msg)
	return backend.Response{Content: b.content}, b.err
}

func (b *cannedBackend) Close() error      { return nil }
func (b *cannedBackend) SessionID() string { return "" }

func idx(i int) *int { return &i }

func TestParsePlan(t *testing.T) {
	tests := []struct {
		name       string
		transcript string
		wantTitles []string
		wantErr    bool
	}{
		{
			name:       "tasks object",
			transcript: `{"tasks": [{"title": "Setup"}, {"title": "Page", "dependency_index": 0}]}`,
			wantTitles: []string{"Setup", "Page"},
		},
		{
			name:       "bare array",
			transcript: `[{"title": "Only"}]`,
			wantTitles: []string{"Only"},
		},
		{
			name:       "markdown fence",
			transcript: "```json\n{\"tasks\": [{\"title\": \"Fenced\"}]}\n```",
			wantTitles: []string{"Fenced"},
		},
		{
			name:       "chatter around the object",
			transcript: "Sure [thinking]. Here it is:\n{\"tasks\": [{\"title\": \"A\"}]}\nDone.",
			wantTitles: []string{"A"},
		},
		{
			name:       "no json",
			transcript: "I could not plan this.",
			wantErr:    true,
		},
		{
			name:       "broken json",
			transcript: `{"tasks": [{"title": }]}`,
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := ParsePlan(tt.transcript)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParsePlan() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(plan) != len(tt.wantTitles) {
				t.Fatalf("got %d tasks, want %d", len(plan), len(tt.wantTitles))
			}
			for i, want := range tt.wantTitles {
				if plan[i].Title != want {
					t.Errorf("task %d title = %q, want %q", i, plan[i].Title, want)
				}
			}
		})
	}
}

func TestValidatePlan(t *testing.T) {
	tests := []struct {
		name    string
		plan    []Proposal
		wantErr bool
	}{
		{"chain", []Proposal{{Title: "a"}, {Title: "b", DependencyIndex: idx(0)}, {Title: "c", DependencyIndex: idx(1)}}, false},
		{"forward reference", []Proposal{{Title: "a", DependencyIndex: idx(1)}, {Title: "b"}}, false},
		{"empty", nil, true},
		{"missing title", []Proposal{{Title: " "}}, true},
		{"out of range", []Proposal{{Title: "a", DependencyIndex: idx(3)}}, false},
		{"negative", []Proposal{{Title: "a", DependencyIndex: idx(-1)}}, false},
		{"self reference", []Proposal{{Title: "a", DependencyIndex: idx(0)}}, true},
		{"cycle", []Proposal{{Title: "a", DependencyIndex: idx(1)}, {Title: "b", DependencyIndex: idx(0)}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePlan(tt.plan)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePlan() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPruneDependencies(t *testing.T) {
	plan := []Proposal{
		{Title: "a", DependencyIndex: idx(2)},
		{Title: "b", DependencyIndex: idx(0)},
		{Title: "c", DependencyIndex: idx(-1)},
	}
	dropped := PruneDependencies(plan)
	if len(dropped) != 2 || dropped[0] != 0 || dropped[1] != 2 {
		t.Fatalf("dropped = %v, want [0 2]", dropped)
	}
	if plan[0].DependencyIndex != nil || plan[2].DependencyIndex != nil {
		t.Error("out-of-range indices were kept")
	}
	if plan[1].DependencyIndex == nil || *plan[1].DependencyIndex != 0 {
		t.Error("valid index was cleared")
	}
}

func TestBackendGenerator_Generate(t *testing.T) {
	b := &cannedBackend{content: `{"tasks": [{"title": "Setup", "success_criteria": "repo exists"}, {"title": "Page", "dependency_index": 0}]}`}
	g := NewBackendGenerator(b, 0, nil)

	plan, err := g.Generate(context.Background(), Request{ProjectTitle: "Site", Description: "A landing page", WorkDir: "/srv/site"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(plan) != 2 || plan[0].SuccessCriteria != "repo exists" || *plan[1].DependencyIndex != 0 {
		t.Errorf("plan = %+v", plan)
	}

	msg := b.sent[0]
	if msg.WorkDir != "/srv/site" {
		t.Errorf("work dir = %q", msg.WorkDir)
	}
	for _, want := range []string{planWrapper, "Project Title: Site", "Project Context/Description: A landing page", "Working Directory: /srv/site"} {
		if !strings.Contains(msg.Content, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestBackendGenerator_Limits(t *testing.T) {
	b := &cannedBackend{content: `[{"title": "a"}, {"title": "b"}, {"title": "c"}]`}
	if _, err := NewBackendGenerator(b, 2, nil).Generate(context.Background(), Request{}); err == nil {
		t.Error("expected an error for an oversized plan")
	}

	failing := &cannedBackend{err: errors.New("exit status 1")}
	if _, err := NewBackendGenerator(failing, 0, nil).Generate(context.Background(), Request{}); err == nil {
		t.Error("expected the invocation error")
	}
}

func TestBackendGenerator_Expand(t *testing.T) {
	b := &cannedBackend{content: `{"tasks": [{"title": "Form", "dependency_index": 4}, {"description": "no title"}]}`}
	parent := &board.Task{ID: 7, Title: "Login", Description: "Build login"}

	subtasks, err := NewBackendGenerator(b, 0, nil).Expand(context.Background(), parent, "/srv")
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	if len(subtasks) != 2 {
		t.Fatalf("got %d subtasks", len(subtasks))
	}
	if subtasks[0].DependencyIndex != nil {
		t.Error("subtask kept its dependency index")
	}
	if subtasks[1].Title != "Untitled Subtask" {
		t.Errorf("title = %q", subtasks[1].Title)
	}
	for _, want := range []string{subtaskWrapper, "Task Title: Login", "Success Criteria: N/A", "3-7 specific subtasks"} {
		if !strings.Contains(b.sent[0].Content, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestFileGenerator(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    int
		wantErr bool
	}{
		{
			name: "yaml mapping",
			content: `tasks:
  - title: Setup
    success_criteria: repo exists
  - title: Page
    dependency_index: 0
`,
			want: 2,
		},
		{
			name: "yaml list",
			content: `- title: One
- title: Two
  dependency_index: 0
- title: Three
  dependency_index: 1
`,
			want: 3,
		},
		{
			name:    "json",
			content: `{"tasks": [{"title": "From JSON", "dependency_index": null}]}`,
			want:    1,
		},
		{name: "empty", content: "  \n", wantErr: true},
		{name: "scalar", content: "just text", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "plan.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			plan, err := FileGenerator{Path: path}.Generate(context.Background(), Request{})
			if (err != nil) != tt.wantErr {
				t.Fatalf("Generate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && len(plan) != tt.want {
				t.Errorf("got %d tasks, want %d", len(plan), tt.want)
			}
		})
	}

	if _, err := (FileGenerator{Path: filepath.Join(t.TempDir(), "missing.yaml")}).Generate(context.Background(), Request{}); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestImport(t *testing.T) {
	ctx := context.Background()
	store, err := persistence.NewMemoryStore(ctx)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	project := &board.Project{Name: "Site", WorkDir: t.TempDir()}
	if err := store.CreateProject(ctx, project); err != nil {
		t.Fatal(err)
	}

	t.Run("dependencies become task ids", func(t *testing.T) {
		b := &cannedBackend{content: `{"tasks": [{"title": "Setup"}, {"title": "Page", "dependency_index": 0}]}`}
		tasks, err := Import(ctx, NewBackendGenerator(b, 0, nil), store, project, nil)
		if err != nil {
			t.Fatalf("Import() error = %v", err)
		}
		if len(tasks) != 2 {
			t.Fatalf("imported %d tasks", len(tasks))
		}
		if tasks[1].DependencyID == nil || *tasks[1].DependencyID != tasks[0].ID {
			t.Errorf("dependency = %v, want %d", tasks[1].DependencyID, tasks[0].ID)
		}
		if tasks[0].Status() != board.StatusTodo || tasks[1].Status() != board.StatusBacklog {
			t.Errorf("statuses = %s, %s", tasks[0].Status(), tasks[1].Status())
		}
	})

	t.Run("out-of-range dependency is dropped", func(t *testing.T) {
		b := &cannedBackend{content: `[{"title": "Docs", "dependency_index": 7}, {"title": "Deploy", "dependency_index": 0}]`}
		tasks, err := Import(ctx, NewBackendGenerator(b, 0, nil), store, project, nil)
		if err != nil {
			t.Fatalf("Import() error = %v", err)
		}
		if len(tasks) != 2 {
			t.Fatalf("imported %d tasks, want 2", len(tasks))
		}
		if tasks[0].DependencyID != nil {
			t.Errorf("Docs dependency = %d, want none", *tasks[0].DependencyID)
		}
		if tasks[1].DependencyID == nil || *tasks[1].DependencyID != tasks[0].ID {
			t.Errorf("Deploy dependency = %v, want %d", tasks[1].DependencyID, tasks[0].ID)
		}
	})

	t.Run("invalid plan stores nothing", func(t *testing.T) {
		before, err := store.ListTasks(ctx, persistence.TaskFilter{ProjectID: project.ID})
		if err != nil {
			t.Fatal(err)
		}
		b := &cannedBackend{content: `[{"title": "a", "dependency_index": 1}, {"title": "b", "dependency_index": 0}]`}
		if _, err := Import(ctx, NewBackendGenerator(b, 0, nil), store, project, nil); !errors.Is(err, board.ErrDependencyCycle) {
			t.Fatalf("Import() error = %v, want a cycle error", err)
		}
		after, err := store.ListTasks(ctx, persistence.TaskFilter{ProjectID: project.ID})
		if err != nil {
			t.Fatal(err)
		}
		if len(after) != len(before) {
			t.Errorf("task count changed from %d to %d", len(before), len(after))
		}
	})
}

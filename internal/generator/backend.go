package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aristath/taskloop/internal/backend"
	"github.com/aristath/taskloop/internal/board"
	"github.com/aristath/taskloop/internal/logging"
)

// SystemPrompt frames the executor as a planner.
const SystemPrompt = `You are an expert Software Architect and Project Manager.
Your goal is to break down a project into a sequence of actionable, atomic tasks.

RULES:
1. Every task must be specific and actionable.
2. Tasks should follow a logical progression.
3. Identify dependencies: if Task B requires Task A to be finished, specify that.
4. Return ONLY JSON.

JSON Format:
[
  {
    "title": "Initial repository setup",
    "description": "Initialize a new git repository and create a baseline file structure.",
    "success_criteria": "A .git folder exists and basic directory structure matches the plan.",
    "dependency_index": null
  },
  {
    "title": "Create index.html",
    "description": "Create the main entry point for the web application.",
    "success_criteria": "index.html file exists in the root directory.",
    "dependency_index": 0
  }
]

Note: 'dependency_index' is the 0-based index of the task in this list that must be completed first.`

const (
	planWrapper    = "Wrap your response in a json object with a 'tasks' key."
	subtaskWrapper = "Wrap your response in a json object with a 'tasks' key containing an array of subtasks."
)

// DefaultMaxTasks caps the size of a generated plan.
const DefaultMaxTasks = 50

// BackendGenerator asks an executor for a plan and parses the JSON out of its
// transcript.
type BackendGenerator struct {
	Backend  backend.Backend
	MaxTasks int          // Plans longer than this are rejected (default 50)
	Logger   *slog.Logger // Optional
}

// NewBackendGenerator creates a generator backed by b.
func NewBackendGenerator(b backend.Backend, maxTasks int, logger *slog.Logger) *BackendGenerator {
	return &BackendGenerator{Backend: b, MaxTasks: maxTasks, Logger: logger}
}

// Generate proposes tasks for a project.
func (g *BackendGenerator) Generate(ctx context.Context, req Request) ([]Proposal, error) {
	prompt := fmt.Sprintf("%s\n%s\n\nProject Title: %s\nProject Context/Description: %s\nWorking Directory: %s",
		SystemPrompt, planWrapper, req.ProjectTitle, req.Description, req.WorkDir)

	plan, err := g.ask(ctx, prompt, req.WorkDir)
	if err != nil {
		return nil, err
	}
	if limit := g.maxTasks(); len(plan) > limit {
		return nil, fmt.Errorf("plan has %d tasks, limit is %d", len(plan), limit)
	}
	return plan, nil
}

// Expand proposes subtasks for an existing task. Every subtask depends on
// the parent, so dependency indices in the answer are dropped.
func (g *BackendGenerator) Expand(ctx context.Context, parent *board.Task, workDir string) ([]Proposal, error) {
	criteria := parent.SuccessCriteria
	if criteria == "" {
		criteria = "N/A"
	}
	prompt := fmt.Sprintf(`%s
%s

Analyze this task and break it down into concrete subtasks:

Task Title: %s
Description: %s
Success Criteria: %s

Generate 3-7 specific subtasks that would be needed to complete this main task. Each subtask should be actionable and have clear success criteria.`,
		SystemPrompt, subtaskWrapper, parent.Title, parent.Description, criteria)

	subtasks, err := g.ask(ctx, prompt, workDir)
	if err != nil {
		return nil, err
	}
	for i := range subtasks {
		subtasks[i].DependencyIndex = nil
		if strings.TrimSpace(subtasks[i].Title) == "" {
			subtasks[i].Title = "Untitled Subtask"
		}
	}
	return subtasks, nil
}

func (g *BackendGenerator) maxTasks() int {
	if g.MaxTasks > 0 {
		return g.MaxTasks
	}
	return DefaultMaxTasks
}

func (g *BackendGenerator) ask(ctx context.Context, prompt, workDir string) ([]Proposal, error) {
	log := logging.OrDiscard(g.Logger)

	resp, err := g.Backend.Send(ctx, backend.Message{Content: prompt, WorkDir: workDir})
	if err != nil {
		return nil, fmt.Errorf("generator invocation failed: %w", err)
	}
	plan, err := ParsePlan(resp.Content)
	if err != nil {
		log.Warn("unparseable plan", "error", err, "transcript_len", len(resp.Content))
		return nil, err
	}
	log.Info("plan generated", "tasks", len(plan))
	return plan, nil
}

// ParsePlan extracts a plan from an executor transcript. It accepts a
// {"tasks": [...]} object or a bare array, optionally wrapped in a markdown
// code fence or surrounded by other output.
func ParsePlan(transcript string) ([]Proposal, error) {
	s := strings.TrimSpace(transcript)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")

	var lastErr error
	for _, candidate := range jsonCandidates(s) {
		if strings.HasPrefix(candidate, "[") {
			var tasks []Proposal
			if lastErr = json.Unmarshal([]byte(candidate), &tasks); lastErr == nil {
				return tasks, nil
			}
			continue
		}
		var plan Plan
		if lastErr = json.Unmarshal([]byte(candidate), &plan); lastErr == nil {
			return plan.Tasks, nil
		}
	}
	if lastErr == nil {
		return nil, fmt.Errorf("no JSON found in generator output")
	}
	return nil, fmt.Errorf("failed to parse generator output as JSON: %w", lastErr)
}

// jsonCandidates returns the outermost object and array spans of s, the one
// that starts first leading.
func jsonCandidates(s string) []string {
	var out []string
	span := func(open, end string) (int, string) {
		i := strings.Index(s, open)
		j := strings.LastIndex(s, end)
		if i == -1 || j <= i {
			return -1, ""
		}
		return i, s[i : j+1]
	}
	oi, obj := span("{", "}")
	ai, arr := span("[", "]")
	switch {
	case oi == -1 && ai == -1:
	case ai == -1:
		out = append(out, obj)
	case oi == -1:
		out = append(out, arr)
	case ai < oi:
		out = append(out, arr, obj)
	default:
		out = append(out, obj, arr)
	}
	return out
}

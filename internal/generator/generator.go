package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aristath/taskloop/internal/board"
	"github.com/aristath/taskloop/internal/logging"
	"github.com/aristath/taskloop/internal/persistence"
)

// ErrEmptyPlan is returned when a generator proposed no tasks.
var ErrEmptyPlan = errors.New("generator proposed no tasks")

// Request describes the project a plan is generated for.
type Request struct {
	ProjectTitle string
	Description  string
	WorkDir      string
}

// Proposal is one proposed task. DependencyIndex is the zero-based index of
// its prerequisite within the same plan.
type Proposal struct {
	Title           string `json:"title" yaml:"title"`
	Description     string `json:"description" yaml:"description"`
	SuccessCriteria string `json:"success_criteria" yaml:"success_criteria"`
	DependencyIndex *int   `json:"dependency_index" yaml:"dependency_index"`
}

// Plan is the document shape generators produce.
type Plan struct {
	Tasks []Proposal `json:"tasks" yaml:"tasks"`
}

// Generator proposes an ordered task list for a project.
type Generator interface {
	Generate(ctx context.Context, req Request) ([]Proposal, error)
}

// ValidatePlan checks that every proposal has a title and that dependency
// indices are acyclic. A plan that fails is rejected whole.
func ValidatePlan(plan []Proposal) error {
	if len(plan) == 0 {
		return ErrEmptyPlan
	}
	deps := make([]*int, len(plan))
	for i, p := range plan {
		if strings.TrimSpace(p.Title) == "" {
			return fmt.Errorf("task %d: title is required", i)
		}
		deps[i] = p.DependencyIndex
	}
	return board.ValidateIndexDependencies(deps)
}

// ToPlanned converts proposals into store input.
func ToPlanned(plan []Proposal) []persistence.PlannedTask {
	out := make([]persistence.PlannedTask, len(plan))
	for i, p := range plan {
		out[i] = persistence.PlannedTask{
			Title:           strings.TrimSpace(p.Title),
			Description:     p.Description,
			SuccessCriteria: p.SuccessCriteria,
			DependencyIndex: p.DependencyIndex,
		}
	}
	return out
}

// PruneDependencies clears dependency indices that point outside the plan and
// returns the positions of the proposals it changed.
func PruneDependencies(plan []Proposal) []int {
	var dropped []int
	for i := range plan {
		d := plan[i].DependencyIndex
		if d != nil && !board.IndexInRange(d, len(plan)) {
			plan[i].DependencyIndex = nil
			dropped = append(dropped, i)
		}
	}
	return dropped
}

// PlanStore is the slice of the task store that imports generated tasks.
type PlanStore interface {
	CreateGeneratedTasks(ctx context.Context, projectID int64, plan []persistence.PlannedTask) ([]*board.Task, error)
}

// Import generates a plan for the project, validates it and stores it in one
// transaction, translating dependency indices into task ids. Proposals whose
// dependency index is out of range are kept without a dependency.
func Import(ctx context.Context, gen Generator, store PlanStore, project *board.Project, logger *slog.Logger) ([]*board.Task, error) {
	plan, err := gen.Generate(ctx, Request{
		ProjectTitle: project.Name,
		Description:  project.Description,
		WorkDir:      project.WorkDir,
	})
	if err != nil {
		return nil, fmt.Errorf("generating plan for project %d: %w", project.ID, err)
	}
	for _, i := range PruneDependencies(plan) {
		logging.OrDiscard(logger).Warn("dropping out-of-range dependency",
			"project_id", project.ID, "task", plan[i].Title, "index", i)
	}
	if err := ValidatePlan(plan); err != nil {
		return nil, fmt.Errorf("invalid plan for project %d: %w", project.ID, err)
	}
	return store.CreateGeneratedTasks(ctx, project.ID, ToPlanned(plan))
}

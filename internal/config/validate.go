package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/aristath/taskloop/internal/backend"
)

// ValidationError represents a single validation failure.
type ValidationError struct {
	Field   string // Config field path (e.g., "loop.max_build_iterations")
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// ValidLogLevels returns the accepted logging levels.
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the configuration and returns every problem found, or nil.
func (c *Config) Validate() error {
	var errs ValidationErrors

	positive := func(field string, v int) {
		if v < 1 {
			errs = append(errs, ValidationError{field, v, "must be at least 1"})
		}
	}
	nonNegative := func(field string, d Duration) {
		if d < 0 {
			errs = append(errs, ValidationError{field, d.D(), "must not be negative"})
		}
	}

	positive("loop.max_build_iterations", c.Loop.MaxBuildIterations)
	positive("loop.max_review_iterations", c.Loop.MaxReviewIterations)
	positive("loop.max_review_attempts", c.Loop.MaxReviewAttempts)
	nonNegative("loop.iteration_delay", c.Loop.IterationDelay)
	nonNegative("loop.invoke_timeout", c.Loop.InvokeTimeout)
	nonNegative("loop.loop_timeout", c.Loop.LoopTimeout)

	positive("runner.concurrency_limit", c.Runner.ConcurrencyLimit)
	if c.Runner.PollInterval <= 0 {
		errs = append(errs, ValidationError{"runner.poll_interval", c.Runner.PollInterval.D(), "must be positive"})
	}
	if c.Runner.IsolateWorktrees && c.Runner.BaseBranch == "" {
		errs = append(errs, ValidationError{"runner.base_branch", "", "required when isolate_worktrees is set"})
	}

	for name, p := range c.Providers {
		if !slices.Contains(backend.Types, p.Type) {
			errs = append(errs, ValidationError{"providers." + name + ".type", p.Type, "must be one of " + strings.Join(backend.Types, ", ")})
		}
		if p.Type == "command" && p.Command == "" {
			errs = append(errs, ValidationError{"providers." + name + ".command", "", "required for type command"})
		}
	}
	for name, r := range c.Roles {
		if _, ok := c.Providers[r.Provider]; !ok {
			errs = append(errs, ValidationError{"roles." + name + ".provider", r.Provider, "unknown provider"})
		}
	}
	if c.Generator.Provider != "" {
		if _, ok := c.Providers[c.Generator.Provider]; !ok {
			errs = append(errs, ValidationError{"generator.provider", c.Generator.Provider, "unknown provider"})
		}
	}
	if c.Generator.MaxTasks < 1 {
		errs = append(errs, ValidationError{"generator.max_tasks", c.Generator.MaxTasks, "must be at least 1"})
	}

	if c.Storage.DBPath == "" {
		errs = append(errs, ValidationError{"storage.db_path", "", "must not be empty"})
	}
	if !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errs = append(errs, ValidationError{"logging.level", c.Logging.Level, "must be one of " + strings.Join(ValidLogLevels(), ", ")})
	}

	if len(errs) == 0 {
		return nil
	}
	slices.SortFunc(errs, func(a, b ValidationError) int { return strings.Compare(a.Field, b.Field) })
	return errs
}

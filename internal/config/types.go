package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration is a time.Duration that reads and writes JSON as "1s", "5m".
type Duration time.Duration

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		// Bare numbers are seconds.
		var secs float64
		if numErr := json.Unmarshal(b, &secs); numErr != nil {
			return fmt.Errorf("duration must be a string like \"1s\" or a number of seconds: %w", err)
		}
		*d = Duration(secs * float64(time.Second))
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// LoopConfig bounds the build and review loops.
type LoopConfig struct {
	MaxBuildIterations  int      `json:"max_build_iterations"`
	MaxReviewIterations int      `json:"max_review_iterations"`
	MaxReviewAttempts   int      `json:"max_review_attempts"` // Rejections before escalation to triage
	IterationDelay      Duration `json:"iteration_delay"`     // Pause after a clean non-terminal iteration
	InvokeTimeout       Duration `json:"invoke_timeout"`      // Per executor call; 0 disables
	LoopTimeout         Duration `json:"loop_timeout"`        // Whole loop; 0 disables
}

// RunnerConfig configures the agent pool.
type RunnerConfig struct {
	ConcurrencyLimit  int      `json:"concurrency_limit"`   // Max agents running a loop at once
	PollInterval      Duration `json:"poll_interval"`       // Idle agent re-check interval
	SerializeWorkDirs bool     `json:"serialize_work_dirs"` // One loop per project working dir at a time
	IsolateWorktrees  bool     `json:"isolate_worktrees"`   // Build each task in its own git worktree
	BaseBranch        string   `json:"base_branch,omitempty"`
}

// ProviderConfig defines a transport layer (CLI command, args, base settings).
// Providers are separate from roles; several roles can share one provider.
type ProviderConfig struct {
	Command string   `json:"command"`        // CLI binary name (e.g., "opencode", "claude")
	Args    []string `json:"args,omitempty"` // Default args appended to every invocation
	Env     []string `json:"env,omitempty"`  // Extra KEY=VALUE pairs
	Type    string   `json:"type"`           // Backend type: "opencode", "claude", "codex", "command"
}

// RoleConfig binds an agent role to a provider and model.
type RoleConfig struct {
	Provider     string `json:"provider"`                // Key into Providers map
	Model        string `json:"model,omitempty"`         // Model override
	SystemPrompt string `json:"system_prompt,omitempty"` // Role-specific system prompt
}

// GeneratorConfig configures task plan generation.
type GeneratorConfig struct {
	Provider string `json:"provider,omitempty"` // Overrides roles.generator.provider
	MaxTasks int    `json:"max_tasks"`          // Larger plans are rejected
}

// StorageConfig locates the task store.
type StorageConfig struct {
	DBPath string `json:"db_path"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Dir   string `json:"dir,omitempty"` // Empty logs text to stderr
	Level string `json:"level"`
}

// Config is the top-level configuration.
type Config struct {
	Loop      LoopConfig                `json:"loop"`
	Runner    RunnerConfig              `json:"runner"`
	Providers map[string]ProviderConfig `json:"providers"`
	Roles     map[string]RoleConfig     `json:"roles"`
	Generator GeneratorConfig           `json:"generator"`
	Storage   StorageConfig             `json:"storage"`
	Logging   LoggingConfig             `json:"logging"`
}

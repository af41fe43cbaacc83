package config

import "time"

// Built-in loop budgets.
const (
	DefaultMaxBuildIterations  = 15
	DefaultMaxReviewIterations = 5
	DefaultMaxReviewAttempts   = 3
)

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Loop: LoopConfig{
			MaxBuildIterations:  DefaultMaxBuildIterations,
			MaxReviewIterations: DefaultMaxReviewIterations,
			MaxReviewAttempts:   DefaultMaxReviewAttempts,
			IterationDelay:      Duration(time.Second),
			InvokeTimeout:       Duration(30 * time.Minute),
		},
		Runner: RunnerConfig{
			ConcurrencyLimit: 4,
			PollInterval:     Duration(5 * time.Second),
			BaseBranch:       "main",
		},
		Providers: map[string]ProviderConfig{
			"opencode": {
				Command: "opencode",
				Type:    "opencode",
			},
			"claude": {
				Command: "claude",
				Type:    "claude",
			},
			"codex": {
				Command: "codex",
				Type:    "codex",
			},
		},
		Roles: map[string]RoleConfig{
			"builder": {
				Provider: "opencode",
			},
			"reviewer": {
				Provider: "opencode",
			},
			"generator": {
				Provider:     "opencode",
				SystemPrompt: "You break projects down into small, ordered, independently verifiable tasks.",
			},
		},
		Generator: GeneratorConfig{
			MaxTasks: 50,
		},
		Storage: StorageConfig{
			DBPath: ".taskloop/taskloop.db",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

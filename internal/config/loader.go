package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Conventional locations, relative to the home directory and the working directory.
const (
	dirName  = ".taskloop"
	fileName = "config.json"
)

// GlobalPath returns ~/.taskloop/config.json.
func GlobalPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, dirName, fileName), nil
}

// ProjectPath returns .taskloop/config.json under dir.
func ProjectPath(dir string) string {
	return filepath.Join(dir, dirName, fileName)
}

// Load reads and merges configuration from global and project paths, then
// applies TASKLOOP_* environment overrides.
// Order of precedence (highest to lowest): environment, project config,
// global config, defaults. Missing files are not errors; malformed JSON is.
func Load(globalPath, projectPath string) (*Config, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}
	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault loads configuration from the conventional paths.
func LoadDefault() (*Config, error) {
	globalPath, err := GlobalPath()
	if err != nil {
		return nil, err
	}
	return Load(globalPath, ProjectPath("."))
}

// mergeConfigFile decodes a JSON file on top of base. Only keys present in
// the file change; map entries are merged per key, replacing whole entries.
func mergeConfigFile(base *Config, path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	if err := json.Unmarshal(data, base); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// envBindings maps config keys to the environment variables that override them.
var envBindings = map[string]string{
	"loop.max_build_iterations":  "TASKLOOP_MAX_BUILD_ITERATIONS",
	"loop.max_review_iterations": "TASKLOOP_MAX_REVIEW_ITERATIONS",
	"loop.max_review_attempts":   "TASKLOOP_MAX_REVIEW_ATTEMPTS",
	"loop.iteration_delay":       "TASKLOOP_ITERATION_DELAY",
	"loop.invoke_timeout":        "TASKLOOP_INVOKE_TIMEOUT",
	"loop.loop_timeout":          "TASKLOOP_LOOP_TIMEOUT",
	"runner.concurrency_limit":   "TASKLOOP_CONCURRENCY_LIMIT",
	"storage.db_path":            "TASKLOOP_DB_PATH",
	"logging.dir":                "TASKLOOP_LOG_DIR",
	"logging.level":              "TASKLOOP_LOG_LEVEL",
}

func applyEnv(cfg *Config) error {
	v := viper.New()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return err
		}
	}

	setInt := func(key string, dst *int) {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}
	setDuration := func(key string, dst *Duration) {
		if v.IsSet(key) {
			*dst = Duration(v.GetDuration(key))
		}
	}
	setString := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}

	setInt("loop.max_build_iterations", &cfg.Loop.MaxBuildIterations)
	setInt("loop.max_review_iterations", &cfg.Loop.MaxReviewIterations)
	setInt("loop.max_review_attempts", &cfg.Loop.MaxReviewAttempts)
	setDuration("loop.iteration_delay", &cfg.Loop.IterationDelay)
	setDuration("loop.invoke_timeout", &cfg.Loop.InvokeTimeout)
	setDuration("loop.loop_timeout", &cfg.Loop.LoopTimeout)
	setInt("runner.concurrency_limit", &cfg.Runner.ConcurrencyLimit)
	setString("storage.db_path", &cfg.Storage.DBPath)
	setString("logging.dir", &cfg.Logging.Dir)
	setString("logging.level", &cfg.Logging.Level)
	return nil
}

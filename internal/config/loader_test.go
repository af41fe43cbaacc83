package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		global      string
		project     string
		check       func(t *testing.T, cfg *Config)
		expectError bool
	}{
		{
			name: "No config files - returns defaults",
			check: func(t *testing.T, cfg *Config) {
				if cfg.Loop.MaxBuildIterations != 15 || cfg.Loop.MaxReviewIterations != 5 || cfg.Loop.MaxReviewAttempts != 3 {
					t.Errorf("loop = %+v", cfg.Loop)
				}
				if cfg.Loop.IterationDelay.D() != time.Second {
					t.Errorf("iteration delay = %v", cfg.Loop.IterationDelay.D())
				}
				if len(cfg.Providers) != 3 || len(cfg.Roles) != 3 {
					t.Errorf("providers = %d, roles = %d", len(cfg.Providers), len(cfg.Roles))
				}
			},
		},
		{
			name:   "Global only - overrides loop budget",
			global: `{"loop": {"max_build_iterations": 4, "iteration_delay": "250ms"}}`,
			check: func(t *testing.T, cfg *Config) {
				if cfg.Loop.MaxBuildIterations != 4 {
					t.Errorf("max build iterations = %d, want 4", cfg.Loop.MaxBuildIterations)
				}
				if cfg.Loop.IterationDelay.D() != 250*time.Millisecond {
					t.Errorf("iteration delay = %v", cfg.Loop.IterationDelay.D())
				}
				if cfg.Loop.MaxReviewIterations != 5 {
					t.Errorf("unset key lost its default: %d", cfg.Loop.MaxReviewIterations)
				}
			},
		},
		{
			name:    "Project overrides global",
			global:  `{"loop": {"max_build_iterations": 4}, "roles": {"builder": {"provider": "claude"}}}`,
			project: `{"loop": {"max_build_iterations": 7}}`,
			check: func(t *testing.T, cfg *Config) {
				if cfg.Loop.MaxBuildIterations != 7 {
					t.Errorf("max build iterations = %d, want 7", cfg.Loop.MaxBuildIterations)
				}
				if cfg.Roles["builder"].Provider != "claude" {
					t.Errorf("builder provider = %q, want claude", cfg.Roles["builder"].Provider)
				}
				if cfg.Roles["reviewer"].Provider != "opencode" {
					t.Errorf("reviewer provider = %q, want opencode", cfg.Roles["reviewer"].Provider)
				}
			},
		},
		{
			name:    "Project adds provider",
			project: `{"providers": {"fake": {"type": "command", "command": "./fake.sh"}}, "roles": {"builder": {"provider": "fake"}}}`,
			check: func(t *testing.T, cfg *Config) {
				if len(cfg.Providers) != 4 {
					t.Errorf("providers = %d, want 4", len(cfg.Providers))
				}
				if cfg.Providers["fake"].Command != "./fake.sh" {
					t.Errorf("fake provider = %+v", cfg.Providers["fake"])
				}
			},
		},
		{
			name:   "Numeric durations are seconds",
			global: `{"loop": {"invoke_timeout": 90}}`,
			check: func(t *testing.T, cfg *Config) {
				if cfg.Loop.InvokeTimeout.D() != 90*time.Second {
					t.Errorf("invoke timeout = %v", cfg.Loop.InvokeTimeout.D())
				}
			},
		},
		{
			name:        "Malformed JSON",
			global:      `{"loop": `,
			expectError: true,
		},
		{
			name:        "Invalid values",
			project:     `{"loop": {"max_review_attempts": 0}}`,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			globalPath := filepath.Join(dir, "home", "config.json")
			projectPath := filepath.Join(dir, "project", "config.json")
			if tt.global != "" {
				writeFile(t, globalPath, tt.global)
			}
			if tt.project != "" {
				writeFile(t, projectPath, tt.project)
			}

			cfg, err := Load(globalPath, projectPath)
			if tt.expectError {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			tt.check(t, cfg)
		})
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	projectPath := filepath.Join(dir, "config.json")
	writeFile(t, projectPath, `{"loop": {"max_build_iterations": 7}}`)

	t.Setenv("TASKLOOP_MAX_BUILD_ITERATIONS", "2")
	t.Setenv("TASKLOOP_ITERATION_DELAY", "10ms")
	t.Setenv("TASKLOOP_DB_PATH", "/tmp/other.db")
	t.Setenv("TASKLOOP_LOG_LEVEL", "debug")

	cfg, err := Load("", projectPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Loop.MaxBuildIterations != 2 {
		t.Errorf("max build iterations = %d, want 2", cfg.Loop.MaxBuildIterations)
	}
	if cfg.Loop.IterationDelay.D() != 10*time.Millisecond {
		t.Errorf("iteration delay = %v", cfg.Loop.IterationDelay.D())
	}
	if cfg.Storage.DBPath != "/tmp/other.db" {
		t.Errorf("db path = %q", cfg.Storage.DBPath)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %q", cfg.Logging.Level)
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	cfg.Loop.MaxBuildIterations = 0
	cfg.Providers["bad"] = ProviderConfig{Type: "telnet"}
	cfg.Roles["builder"] = RoleConfig{Provider: "missing"}
	cfg.Logging.Level = "loud"

	err := cfg.Validate()
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("Validate() = %v, want ValidationErrors", err)
	}
	fields := make([]string, 0, len(verrs))
	for _, e := range verrs {
		fields = append(fields, e.Field)
	}
	for _, want := range []string{"loop.max_build_iterations", "providers.bad.type", "roles.builder.provider", "logging.level"} {
		if !strings.Contains(strings.Join(fields, " "), want) {
			t.Errorf("missing validation error for %s in %v", want, fields)
		}
	}
}

func TestBackendConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Roles["builder"] = RoleConfig{Provider: "claude", Model: "sonnet", SystemPrompt: "build"}
	cfg.Generator.Provider = "codex"

	tests := []struct {
		name      string
		role      string
		provider  string
		model     string
		wantType  string
		wantModel string
		wantErr   bool
	}{
		{"role defaults", "builder", "", "", "claude", "sonnet", false},
		{"agent provider override", "builder", "codex", "", "codex", "sonnet", false},
		{"agent model override", "builder", "", "opus", "claude", "opus", false},
		{"generator section wins over role", "generator", "", "", "codex", "", false},
		{"unknown role", "auditor", "", "", "", "", true},
		{"unknown provider", "builder", "nope", "", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bc, err := cfg.BackendConfig(tt.role, tt.provider, tt.model)
			if (err != nil) != tt.wantErr {
				t.Fatalf("BackendConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if bc.Type != tt.wantType || bc.Model != tt.wantModel {
				t.Errorf("got type %q model %q, want %q %q", bc.Type, bc.Model, tt.wantType, tt.wantModel)
			}
		})
	}
}

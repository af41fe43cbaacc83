package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/aristath/taskloop/internal/backend"
	"github.com/aristath/taskloop/internal/board"
	"github.com/aristath/taskloop/internal/config"
	"github.com/aristath/taskloop/internal/events"
	"github.com/aristath/taskloop/internal/logging"
	"github.com/aristath/taskloop/internal/orchestrator"
	"github.com/aristath/taskloop/internal/persistence"
)

// app holds what every command shares: resolved config, logger, the store
// and the process manager that tracks executor subprocesses.
type app struct {
	pm *backend.ProcessManager

	// Persistent flags.
	dir      string
	dbPath   string
	logLevel string

	cfg     *config.Config
	logger  *slog.Logger
	store   *persistence.SQLiteStore
	closers []io.Closer
}

func newApp(pm *backend.ProcessManager) *app {
	if pm == nil {
		pm = backend.NewProcessManager()
	}
	return &app{pm: pm}
}

// setup loads configuration and the logger. quiet drops log output when no
// log directory is configured, for commands that own the terminal.
func (a *app) setup(quiet bool) error {
	globalPath, err := config.GlobalPath()
	if err != nil {
		return err
	}
	cfg, err := config.Load(globalPath, a.projectConfigPath())
	if err != nil {
		return err
	}
	if a.dbPath != "" {
		cfg.Storage.DBPath = a.dbPath
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	a.cfg = cfg

	if quiet && cfg.Logging.Dir == "" {
		a.logger = logging.Discard()
		return nil
	}
	logger, closer, err := logging.New(cfg.Logging.Dir, cfg.Logging.Level)
	if err != nil {
		return err
	}
	a.logger = logger
	a.closers = append(a.closers, closer)
	return nil
}

func (a *app) projectConfigPath() string {
	return config.ProjectPath(a.dir)
}

// openStore opens the task store once per invocation. Relative database
// paths are resolved against the project directory.
func (a *app) openStore(ctx context.Context) (*persistence.SQLiteStore, error) {
	if a.store != nil {
		return a.store, nil
	}
	if a.cfg == nil {
		if err := a.setup(false); err != nil {
			return nil, err
		}
	}
	path := a.cfg.Storage.DBPath
	if !filepath.IsAbs(path) {
		path = filepath.Join(a.dir, path)
	}
	store, err := persistence.NewSQLiteStore(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("opening task store: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, store)
	return store, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && a.logger != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
	a.store = nil
}

// backendFactory resolves an agent's executor from its role and optional
// provider override.
func (a *app) backendFactory() orchestrator.BackendFactory {
	return func(agent *board.Agent) (backend.Backend, string, error) {
		provider := agent.Provider
		if provider == "" {
			provider = a.cfg.Roles[string(agent.Role)].Provider
		}
		bc, err := a.cfg.BackendConfig(string(agent.Role), agent.Provider, "")
		if err != nil {
			return nil, "", err
		}
		b, err := backend.New(bc, a.pm)
		if err != nil {
			return nil, "", err
		}
		return b, provider, nil
	}
}

// generatorBackend resolves the executor used for task generation.
func (a *app) generatorBackend() (backend.Backend, error) {
	bc, err := a.cfg.BackendConfig(string(board.RoleGenerator), "", "")
	if err != nil {
		return nil, err
	}
	return backend.New(bc, a.pm)
}

func loopOptions(lc config.LoopConfig, maxIterations int) orchestrator.LoopOptions {
	return orchestrator.LoopOptions{
		MaxIterations: maxIterations,
		Delay:         lc.IterationDelay.D(),
		InvokeTimeout: lc.InvokeTimeout.D(),
		LoopTimeout:   lc.LoopTimeout.D(),
	}
}

// newRunner builds the agent pool from the loaded configuration.
func (a *app) newRunner(store persistence.Store, pub events.Publisher) *orchestrator.Runner {
	cfg := a.cfg
	return orchestrator.NewRunner(orchestrator.RunnerConfig{
		Store:             store,
		BackendFactory:    a.backendFactory(),
		Events:            pub,
		Logger:            a.logger,
		Breakers:          orchestrator.NewCircuitBreakerRegistry(orchestrator.BreakerSettings{}, a.logger),
		Build:             loopOptions(cfg.Loop, cfg.Loop.MaxBuildIterations),
		Review:            loopOptions(cfg.Loop, cfg.Loop.MaxReviewIterations),
		MaxReviewAttempts: cfg.Loop.MaxReviewAttempts,
		ConcurrencyLimit:  cfg.Runner.ConcurrencyLimit,
		PollInterval:      cfg.Runner.PollInterval.D(),
		SerializeWorkDirs: cfg.Runner.SerializeWorkDirs,
		IsolateWorktrees:  cfg.Runner.IsolateWorktrees,
		BaseBranch:        cfg.Runner.BaseBranch,
	})
}

// parseID parses a positional id argument.
func parseID(kind, s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s id %q", kind, s)
	}
	return id, nil
}

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

// printTable renders rows as a bordered table on the command's output.
func printTable(cmd *cobra.Command, headers []string, rows [][]string) {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	fmt.Fprintln(cmd.OutOrStdout(), t.Render())
}

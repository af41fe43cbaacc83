package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/aristath/taskloop/internal/config"
	"github.com/aristath/taskloop/internal/events"
	"github.com/aristath/taskloop/internal/tui"
)

func newRunCmd(a *app) *cobra.Command {
	var untilIdle bool
	var concurrency int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the agent pool",
		Long: `Run every active agent against its queues. By default the pool keeps
polling for work until interrupted; with --until-idle it stops after a
round in which no agent found anything to do.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			if concurrency > 0 {
				a.cfg.Runner.ConcurrencyLimit = concurrency
			}
			runner := a.newRunner(store, events.Discard)
			if err := runner.Prune(ctx); err != nil {
				a.logger.Warn("worktree prune failed", "error", err)
			}

			if untilIdle {
				err = runner.RunUntilIdle(ctx)
			} else {
				a.logger.Info("agent pool started", "concurrency", a.cfg.Runner.ConcurrencyLimit)
				err = runner.Run(ctx)
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&untilIdle, "until-idle", false, "stop once no agent finds work")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "max loops running at once (overrides runner.concurrency_limit)")
	return cmd
}

func newWorkCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "work <agent-id>",
		Short: "Let one agent find and process a single task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			agentID, err := parseID("agent", args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}

			res, err := a.newRunner(store, events.Discard).RunOnce(ctx, agentID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if res == nil {
				fmt.Fprintf(out, "agent %d: no eligible work\n", agentID)
				return nil
			}
			fmt.Fprintf(out, "task #%d %s loop: %s -> %s", res.Task.ID, res.Loop, res.Transition.Kind, res.Result.Status)
			if res.Result.Escalated {
				fmt.Fprint(out, " (escalated)")
			}
			fmt.Fprintln(out)
			return nil
		},
	}
}

func newBoardCmd(a *app) *cobra.Command {
	var projectID int64
	var run bool

	cmd := &cobra.Command{
		Use:         "board",
		Short:       "Show the task board",
		Long:        `Show the task board. With --run the agent pool runs alongside it and its activity streams into the board.`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{quietAnnotation: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			globalPath, err := config.GlobalPath()
			if err != nil {
				return err
			}

			bus := events.NewEventBus()
			defer bus.Close()

			model := tui.New(tui.Options{
				Source:            store,
				Events:            bus,
				Config:            a.cfg,
				GlobalConfigPath:  globalPath,
				ProjectConfigPath: a.projectConfigPath(),
				ProjectID:         projectID,
			})
			p := tea.NewProgram(model, tea.WithAltScreen())

			runDone := make(chan error, 1)
			if run {
				runner := a.newRunner(store, bus)
				go func() { runDone <- runner.Run(ctx) }()
			} else {
				close(runDone)
			}

			errChan := make(chan error, 1)
			go func() {
				_, err := p.Run()
				errChan <- err
			}()

			select {
			case err = <-errChan:
			case <-ctx.Done():
				a.logger.Info("shutdown signal received")
				p.Quit()
				select {
				case err = <-errChan:
				case <-time.After(10 * time.Second):
					a.logger.Warn("board did not exit in time")
				}
			}

			// Stop the pool and wait for claimed tasks to be cleaned up.
			cancel()
			if runErr := <-runDone; runErr != nil && !errors.Is(runErr, context.Canceled) {
				a.logger.Warn("agent pool stopped", "error", runErr)
			}
			return err
		},
	}

	cmd.Flags().Int64Var(&projectID, "project", 0, "show a single project (default: all active projects)")
	cmd.Flags().BoolVar(&run, "run", false, "run the agent pool while the board is open")
	return cmd
}

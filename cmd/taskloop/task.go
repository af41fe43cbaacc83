package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aristath/taskloop/internal/board"
	"github.com/aristath/taskloop/internal/generator"
	"github.com/aristath/taskloop/internal/orchestrator"
	"github.com/aristath/taskloop/internal/persistence"
)

func newTaskCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
	}
	cmd.AddCommand(
		newTaskAddCmd(a),
		newTaskListCmd(a),
		newTaskEditCmd(a),
		newTaskMoveCmd(a),
		newTaskExpandCmd(a),
		newTaskLogCmd(a),
	)
	return cmd
}

// taskLine is the one-line form of a task used in command output.
func taskLine(t *board.Task) string {
	line := fmt.Sprintf("#%d [%s] %s", t.ID, t.Status(), t.Title)
	if t.DependencyID != nil {
		line += fmt.Sprintf(" (after #%d)", *t.DependencyID)
	}
	return line
}

func newTaskAddCmd(a *app) *cobra.Command {
	var description, criteria string
	var dependsOn int64

	cmd := &cobra.Command{
		Use:   "add <project-id> <title>",
		Short: "Add a task to a project",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := parseID("project", args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}

			t := &board.Task{
				ProjectID:       projectID,
				Title:           args[1],
				Description:     description,
				SuccessCriteria: criteria,
			}
			if dependsOn > 0 {
				t.DependencyID = &dependsOn
			}
			if err := store.CreateTask(ctx, t); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", taskLine(t))
			return nil
		},
	}

	cmd.Flags().StringVarP(&description, "description", "d", "", "task description")
	cmd.Flags().StringVar(&criteria, "criteria", "", "success criteria")
	cmd.Flags().Int64Var(&dependsOn, "depends-on", 0, "id of the prerequisite task in the same project")
	return cmd
}

func newTaskListCmd(a *app) *cobra.Command {
	var projectID int64
	var all bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks with their derived status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			tasks, err := store.ListTasks(ctx, persistence.TaskFilter{
				ProjectID:             projectID,
				HideCompletedProjects: projectID == 0 && !all,
			})
			if err != nil {
				return err
			}
			if len(tasks) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no tasks")
				return nil
			}

			rows := make([][]string, 0, len(tasks))
			for _, t := range tasks {
				dep := ""
				if t.DependencyID != nil {
					dep = "#" + strconv.FormatInt(*t.DependencyID, 10)
				}
				rows = append(rows, []string{
					strconv.FormatInt(t.ID, 10),
					strconv.FormatInt(t.ProjectID, 10),
					string(t.Status()),
					t.Title,
					dep,
					strconv.Itoa(t.ReviewCount),
				})
			}
			printTable(cmd, []string{"ID", "PROJECT", "STATUS", "TITLE", "AFTER", "REVIEWS"}, rows)
			return nil
		},
	}

	cmd.Flags().Int64Var(&projectID, "project", 0, "only tasks of this project")
	cmd.Flags().BoolVar(&all, "all", false, "include tasks of completed projects")
	return cmd
}

func newTaskEditCmd(a *app) *cobra.Command {
	var title, description, criteria string
	var dependsOn int64
	var noDependency bool

	cmd := &cobra.Command{
		Use:   "edit <task-id>",
		Short: "Edit a task's details or dependency",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID, err := parseID("task", args[0])
			if err != nil {
				return err
			}

			var upd persistence.TaskUpdate
			if cmd.Flags().Changed("title") {
				upd.Title = &title
			}
			if cmd.Flags().Changed("description") {
				upd.Description = &description
			}
			if cmd.Flags().Changed("criteria") {
				upd.SuccessCriteria = &criteria
			}
			if cmd.Flags().Changed("depends-on") {
				upd.DependencyID = &dependsOn
			}
			upd.ClearDependency = noDependency

			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			t, err := store.UpdateTaskDetails(ctx, taskID, upd)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "updated %s\n", taskLine(t))
			return nil
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVarP(&description, "description", "d", "", "new description")
	cmd.Flags().StringVar(&criteria, "criteria", "", "new success criteria")
	cmd.Flags().Int64Var(&dependsOn, "depends-on", 0, "new prerequisite task id")
	cmd.Flags().BoolVar(&noDependency, "no-depends", false, "remove the prerequisite")
	cmd.MarkFlagsMutuallyExclusive("depends-on", "no-depends")
	return cmd
}

func newTaskMoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "move <task-id> <status>",
		Short: "Force a task into a status",
		Long: `Force a task into a status, the way dragging a card on the board does.
All lifecycle flags are reset and the one matching the status is set.
Statuses: backlog, todo, in_progress, review, triage, complete.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID, err := parseID("task", args[0])
			if err != nil {
				return err
			}
			status, err := board.ParseStatus(args[1])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			t, err := store.OverrideStatus(ctx, taskID, status)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "moved %s\n", taskLine(t))
			return nil
		},
	}
}

func newTaskExpandCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "expand <task-id>",
		Short: "Break a task into subtasks that depend on it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID, err := parseID("task", args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			parent, err := store.GetTask(ctx, taskID)
			if err != nil {
				return err
			}
			project, err := store.GetProject(ctx, parent.ProjectID)
			if err != nil {
				return err
			}
			b, err := a.generatorBackend()
			if err != nil {
				return err
			}

			gen := generator.NewBackendGenerator(b, a.cfg.Generator.MaxTasks, a.logger)
			proposals, err := gen.Expand(ctx, parent, project.WorkDir)
			if err != nil {
				return err
			}
			subtasks, err := store.AddSubtasks(ctx, parent.ID, generator.ToPlanned(proposals))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "added %d subtasks to #%d\n", len(subtasks), parent.ID)
			for _, t := range subtasks {
				fmt.Fprintf(out, "  %s\n", taskLine(t))
			}
			return nil
		},
	}
}

func newTaskLogCmd(a *app) *cobra.Command {
	var full bool

	cmd := &cobra.Command{
		Use:   "log <task-id>",
		Short: "Show the iteration log of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID, err := parseID("task", args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			iterations, err := store.ListIterations(ctx, taskID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(iterations) == 0 {
				fmt.Fprintf(out, "no iterations recorded for #%d\n", taskID)
				return nil
			}

			for _, it := range iterations {
				fmt.Fprintf(out, "%s %s #%d  %s", it.CreatedAt.Format("2006-01-02 15:04:05"), it.Loop, it.Number, it.Outcome)
				if it.AgentID != 0 {
					fmt.Fprintf(out, "  agent %d", it.AgentID)
				}
				fmt.Fprintln(out)
				if it.Error != "" {
					fmt.Fprintf(out, "  error: %s\n", it.Error)
				}
				text := orchestrator.Sanitize(it.Snippet)
				if text == "" {
					continue
				}
				if !full {
					text = lastLines(text, 3)
				}
				for _, line := range strings.Split(text, "\n") {
					fmt.Fprintf(out, "  | %s\n", line)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&full, "full", false, "show whole transcript snippets")
	return cmd
}

// lastLines keeps the final n lines of s.
func lastLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}

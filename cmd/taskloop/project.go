package main

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/aristath/taskloop/internal/board"
	"github.com/aristath/taskloop/internal/generator"
)

func newProjectCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage projects",
	}
	cmd.AddCommand(
		newProjectCreateCmd(a),
		newProjectListCmd(a),
		newProjectGenerateCmd(a),
		newProjectRecomputeCmd(a),
		newProjectRemoveCmd(a),
	)
	return cmd
}

func newProjectCreateCmd(a *app) *cobra.Command {
	var description, workDir string

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			if workDir == "" {
				workDir = a.dir
			}
			if abs, err := filepath.Abs(workDir); err == nil {
				workDir = abs
			}

			p := &board.Project{Name: args[0], Description: description, WorkDir: workDir}
			if err := store.CreateProject(ctx, p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created project #%d %s (%s)\n", p.ID, p.Name, p.WorkDir)
			return nil
		},
	}

	cmd.Flags().StringVarP(&description, "description", "d", "", "project description")
	cmd.Flags().StringVar(&workDir, "workdir", "", "working directory handed to executors (default: --dir)")
	return cmd
}

func newProjectListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects with task progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			projects, err := store.ListProjects(ctx)
			if err != nil {
				return err
			}
			if len(projects) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no projects")
				return nil
			}

			rows := make([][]string, 0, len(projects))
			for _, p := range projects {
				rows = append(rows, []string{
					strconv.FormatInt(p.ID, 10),
					p.Name,
					string(p.Status),
					fmt.Sprintf("%d/%d", p.CompletedTasks, p.TotalTasks),
					p.WorkDir,
				})
			}
			printTable(cmd, []string{"ID", "NAME", "STATUS", "DONE", "WORKDIR"}, rows)
			return nil
		},
	}
}

func newProjectGenerateCmd(a *app) *cobra.Command {
	var planFile string

	cmd := &cobra.Command{
		Use:   "generate <project-id>",
		Short: "Generate a task plan for a project",
		Long: `Ask the generator backend for an ordered task plan and add it to the
project. With --file the plan is read from a YAML or JSON file instead.
A dependency index outside the plan is dropped; the whole plan is
rejected if the dependencies form a cycle.`,
		Args: cobra.ExactArgs(1),
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
			project, err := store.GetProject(ctx, projectID)
			if err != nil {
				return err
			}

			var gen generator.Generator
			if planFile != "" {
				gen = generator.FileGenerator{Path: planFile}
			} else {
				b, err := a.generatorBackend()
				if err != nil {
					return err
				}
				gen = generator.NewBackendGenerator(b, a.cfg.Generator.MaxTasks, a.logger)
			}

			tasks, err := generator.Import(ctx, gen, store, project, a.logger)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "added %d tasks to project #%d\n", len(tasks), project.ID)
			for _, t := range tasks {
				fmt.Fprintf(out, "  %s\n", taskLine(t))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&planFile, "file", "f", "", "read the plan from a YAML or JSON file")
	return cmd
}

func newProjectRecomputeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "recompute <project-id>",
		Short: "Recompute a project's status from its tasks",
		Args:  cobra.ExactArgs(1),
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
			status, err := store.RecomputeProject(ctx, projectID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "project #%d is %s\n", projectID, status)
			return nil
		},
	}
}

func newProjectRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <project-id>",
		Short: "Delete a project and its tasks",
		Args:  cobra.ExactArgs(1),
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
			if err := store.DeleteProject(ctx, projectID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed project #%d\n", projectID)
			return nil
		},
	}
}

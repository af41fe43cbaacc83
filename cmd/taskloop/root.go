package main

import (
	"github.com/spf13/cobra"
)

// quietAnnotation marks commands that own the terminal, so logs stay off
// stderr unless a log directory is configured.
const quietAnnotation = "quiet"

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "taskloop",
		Short: "Drive coding tasks through build and review loops",
		Long: `taskloop keeps a board of tasks grouped into projects and lets agents
work through them. Builders loop on a task until the executor promises
completion, reviewers loop until they approve or reject it, and rejected
work returns to the board with the reviewer's feedback.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd.Annotations[quietAnnotation] == "true")
		},
	}

	root.PersistentFlags().StringVarP(&a.dir, "dir", "C", ".", "project directory holding .taskloop/")
	root.PersistentFlags().StringVar(&a.dbPath, "db", "", "task store path (overrides storage.db_path)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		newRunCmd(a),
		newWorkCmd(a),
		newBoardCmd(a),
		newProjectCmd(a),
		newTaskCmd(a),
		newAgentCmd(a),
		newConfigCmd(a),
	)
	return root
}

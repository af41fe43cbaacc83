package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aristath/taskloop/internal/board"
)

func newAgentCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Manage agents",
	}
	cmd.AddCommand(
		newAgentAddCmd(a),
		newAgentListCmd(a),
		newAgentActivateCmd(a, true),
		newAgentActivateCmd(a, false),
		newAgentQueuesCmd(a),
		newAgentEditCmd(a),
		newAgentRemoveCmd(a),
	)
	return cmd
}

func parseQueues(names []string) ([]board.Queue, error) {
	queues := make([]board.Queue, 0, len(names))
	for _, n := range names {
		q, err := board.ParseQueue(strings.TrimSpace(n))
		if err != nil {
			return nil, err
		}
		queues = append(queues, q)
	}
	return queues, nil
}

func queueList(queues []board.Queue) string {
	if len(queues) == 0 {
		return "-"
	}
	names := make([]string, len(queues))
	for i, q := range queues {
		names[i] = string(q)
	}
	return strings.Join(names, ",")
}

func newAgentAddCmd(a *app) *cobra.Command {
	var role, provider string
	var queues []string
	var inactive bool

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add an agent",
		Long: `Add an agent. Builders listen on the todo queue and reviewers on the
review queue unless --queues says otherwise. Generators only plan and
never pick up tasks.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := board.ParseRole(role)
			if err != nil {
				return err
			}
			agent := &board.Agent{Name: args[0], Role: r, Active: !inactive, Provider: provider}
			if cmd.Flags().Changed("queues") {
				if agent.Queues, err = parseQueues(queues); err != nil {
					return err
				}
			}
			if provider != "" {
				if _, ok := a.cfg.Providers[provider]; !ok {
					return fmt.Errorf("provider %q not configured", provider)
				}
			}

			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			if err := store.CreateAgent(ctx, agent); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created agent #%d %s (%s, queues %s)\n",
				agent.ID, agent.Name, agent.Role, queueList(agent.Queues))
			return nil
		},
	}

	cmd.Flags().StringVarP(&role, "role", "r", string(board.RoleBuilder), "builder, reviewer or generator")
	cmd.Flags().StringVarP(&provider, "provider", "p", "", "provider override (default: the role's provider)")
	cmd.Flags().StringSliceVarP(&queues, "queues", "q", nil, "queues to service, in priority order")
	cmd.Flags().BoolVar(&inactive, "inactive", false, "create the agent deactivated")
	return cmd
}

func newAgentListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			agents, err := store.ListAgents(ctx)
			if err != nil {
				return err
			}
			if len(agents) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no agents")
				return nil
			}

			rows := make([][]string, 0, len(agents))
			for _, ag := range agents {
				active := "no"
				if ag.Active {
					active = "yes"
				}
				provider := ag.Provider
				if provider == "" {
					provider = a.cfg.Roles[string(ag.Role)].Provider
				}
				rows = append(rows, []string{
					strconv.FormatInt(ag.ID, 10),
					ag.Name,
					string(ag.Role),
					active,
					queueList(ag.Queues),
					provider,
				})
			}
			printTable(cmd, []string{"ID", "NAME", "ROLE", "ACTIVE", "QUEUES", "PROVIDER"}, rows)
			return nil
		},
	}
}

func newAgentActivateCmd(a *app, active bool) *cobra.Command {
	use, short := "activate", "Let an agent pick up work"
	if !active {
		use, short = "deactivate", "Stop an agent from picking up new work"
	}
	return &cobra.Command{
		Use:   use + " <agent-id>",
		Short: short,
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
			agent, err := store.GetAgent(ctx, agentID)
			if err != nil {
				return err
			}
			if err := store.UpdateAgentConfig(ctx, agentID, active, agent.Queues); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "agent #%d %s %sd\n", agent.ID, agent.Name, use)
			return nil
		},
	}
}

func newAgentQueuesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "queues <agent-id> [queue...]",
		Short: "Set the queues an agent services, in priority order",
		Long:  `Set the queues an agent services, in priority order. With no queues the agent stops finding work.`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			agentID, err := parseID("agent", args[0])
			if err != nil {
				return err
			}
			queues, err := parseQueues(args[1:])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			agent, err := store.GetAgent(ctx, agentID)
			if err != nil {
				return err
			}
			if err := store.UpdateAgentConfig(ctx, agentID, agent.Active, queues); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "agent #%d %s queues: %s\n", agent.ID, agent.Name, queueList(queues))
			return nil
		},
	}
}

func newAgentEditCmd(a *app) *cobra.Command {
	var name, role, provider string

	cmd := &cobra.Command{
		Use:   "edit <agent-id>",
		Short: "Rename an agent or change its role or provider",
		Long:  `Rename an agent or change its role or provider. Its queues are kept; use "agent queues" to change them.`,
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
			agent, err := store.GetAgent(ctx, agentID)
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("name") {
				agent.Name = name
			}
			if cmd.Flags().Changed("role") {
				if agent.Role, err = board.ParseRole(role); err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("provider") {
				if _, ok := a.cfg.Providers[provider]; provider != "" && !ok {
					return fmt.Errorf("provider %q not configured", provider)
				}
				agent.Provider = provider
			}
			if err := store.EditAgent(ctx, agent.ID, agent.Name, agent.Role, agent.Provider); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "updated agent #%d %s (%s)\n", agent.ID, agent.Name, agent.Role)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "new name")
	cmd.Flags().StringVarP(&role, "role", "r", "", "builder, reviewer or generator")
	cmd.Flags().StringVarP(&provider, "provider", "p", "", "provider override; empty uses the role's provider")
	return cmd
}

func newAgentRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <agent-id>",
		Short: "Delete an agent",
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
			if err := store.DeleteAgent(ctx, agentID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed agent #%d\n", agentID)
			return nil
		},
	}
}

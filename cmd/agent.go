package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/opengoat/internal/agents"
)

func agentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Manage agents",
	}
	cmd.AddCommand(agentListCmd())
	cmd.AddCommand(agentAddCmd())
	cmd.AddCommand(agentRemoveCmd())
	return cmd
}

func agentListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List agents in the hierarchy",
		RunE: func(cmd *cobra.Command, args []string) error {
			layout, cfgStore, err := openConfig()
			if err != nil {
				return err
			}
			store := openAgents(layout, cfgStore.Config())
			list, err := store.ListAgents()
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(list))
			for _, a := range list {
				reportsTo := a.ReportsTo
				if reportsTo == "" {
					reportsTo = "(root)"
				}
				rows = append(rows, []string{a.ID, truncateCell(a.DisplayName, 30), a.Type, reportsTo, a.ProviderID})
			}
			printTable([]string{"ID", "NAME", "TYPE", "REPORTS TO", "PROVIDER"}, rows)
			return nil
		},
	}
}

func agentAddCmd() *cobra.Command {
	var (
		reportsTo string
		role      string
		agentType string
		provider  string
	)
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Create an agent and seed its workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			layout, cfgStore, err := openConfig()
			if err != nil {
				return err
			}
			store := openAgents(layout, cfgStore.Config())

			id, err := agents.NormalizeName(args[0])
			if err != nil {
				return err
			}
			if reportsTo == "" && id != store.RootID() {
				reportsTo = store.RootID()
			}
			agent, created, err := store.EnsureAgent(agents.Agent{
				ID:          id,
				DisplayName: args[0],
				Type:        agentType,
				ReportsTo:   reportsTo,
				Role:        role,
				ProviderID:  provider,
			})
			if err != nil {
				return err
			}
			if created {
				fmt.Printf("created %s (reports to %s)\n", agent.ID, agent.ReportsTo)
			} else {
				fmt.Printf("%s already exists\n", agent.ID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&reportsTo, "reports-to", "", "manager agent id (default: the root agent)")
	cmd.Flags().StringVar(&role, "role", "", "free-form role description")
	cmd.Flags().StringVar(&agentType, "type", "", "agent type: manager or individual")
	cmd.Flags().StringVar(&provider, "provider", "", "provider id override")
	return cmd
}

func agentRemoveCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "remove <id>",
		Short: "Delete an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			layout, cfgStore, err := openConfig()
			if err != nil {
				return err
			}
			store := openAgents(layout, cfgStore.Config())
			if err := store.DeleteAgent(args[0], force); err != nil {
				return err
			}
			fmt.Printf("removed %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "delete even when the agent has direct reports")
	return cmd
}

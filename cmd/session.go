package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/opengoat/internal/sessions"
)

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect sessions and transcripts",
	}
	cmd.AddCommand(sessionListCmd())
	cmd.AddCommand(sessionHistoryCmd())
	return cmd
}

func sessionListCmd() *cobra.Command {
	var agentID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			layout, _, err := openConfig()
			if err != nil {
				return err
			}
			store := sessions.NewStore(layout)
			list, err := store.List(cmd.Context(), agentID)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(list))
			for _, m := range list {
				rows = append(rows, []string{
					m.SessionKey,
					m.AgentID,
					truncateCell(m.Title, 40),
					fmt.Sprintf("%d", m.TotalChars),
					time.UnixMilli(m.UpdatedAt).Format("2006-01-02 15:04"),
				})
			}
			printTable([]string{"KEY", "AGENT", "TITLE", "CHARS", "UPDATED"}, rows)
			return nil
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "only sessions for this agent")
	return cmd
}

func sessionHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <sessionKey>",
		Short: "Print a session transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			layout, _, err := openConfig()
			if err != nil {
				return err
			}
			store := sessions.NewStore(layout)
			entries, err := store.History(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			for _, e := range entries {
				ts := time.UnixMilli(e.Timestamp).Format("15:04:05")
				role := e.Role
				if role == "" {
					role = e.Type
				}
				fmt.Printf("[%s] %s: %s\n", ts, role, e.Content)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "max entries (0 = all)")
	return cmd
}

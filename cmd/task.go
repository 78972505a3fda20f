package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/opengoat/internal/tasks"
)

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
	}
	cmd.AddCommand(taskListCmd())
	cmd.AddCommand(taskAddCmd())
	cmd.AddCommand(taskStatusCmd())
	return cmd
}

func taskListCmd() *cobra.Command {
	var (
		assignee string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			layout, cfgStore, err := openConfig()
			if err != nil {
				return err
			}
			store, err := openTasks(layout, openAgents(layout, cfgStore.Config()))
			if err != nil {
				return err
			}
			defer store.Close()

			list, err := store.ListLatestTasks(cmd.Context(), assignee, limit)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(list))
			for _, t := range list {
				rows = append(rows, []string{
					t.TaskID,
					t.Status,
					t.AssignedTo,
					t.Owner,
					truncateCell(t.Title, 50),
					time.UnixMilli(t.UpdatedAt).Format("2006-01-02 15:04"),
				})
			}
			printTable([]string{"ID", "STATUS", "ASSIGNEE", "OWNER", "TITLE", "UPDATED"}, rows)
			return nil
		},
	}
	cmd.Flags().StringVar(&assignee, "assignee", "", "only tasks assigned to this agent")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func taskAddCmd() *cobra.Command {
	var (
		actor       string
		title       string
		description string
		assignee    string
		status      string
		reason      string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			layout, cfgStore, err := openConfig()
			if err != nil {
				return err
			}
			cfg := cfgStore.Config()
			store, err := openTasks(layout, openAgents(layout, cfg))
			if err != nil {
				return err
			}
			defer store.Close()

			if actor == "" {
				actor = cfg.DefaultAgent.ID
			}
			task, err := store.CreateTask(cmd.Context(), actor, tasks.Draft{
				Title:        title,
				Description:  description,
				AssignedTo:   assignee,
				Status:       status,
				StatusReason: reason,
			})
			if err != nil {
				return err
			}
			fmt.Printf("created %s (%s, assigned to %s)\n", task.TaskID, task.Status, task.AssignedTo)
			return nil
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "acting agent id (default: the root agent)")
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&description, "description", "", "task description")
	cmd.Flags().StringVar(&assignee, "assignee", "", "agent the task is assigned to (default: the actor)")
	cmd.Flags().StringVar(&status, "status", "", "initial status (default todo)")
	cmd.Flags().StringVar(&reason, "reason", "", "status reason, required for blocked")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskStatusCmd() *cobra.Command {
	var (
		actor  string
		status string
		reason string
	)
	cmd := &cobra.Command{
		Use:   "status <taskId>",
		Short: "Update a task's status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			layout, cfgStore, err := openConfig()
			if err != nil {
				return err
			}
			cfg := cfgStore.Config()
			store, err := openTasks(layout, openAgents(layout, cfg))
			if err != nil {
				return err
			}
			defer store.Close()

			if actor == "" {
				actor = cfg.DefaultAgent.ID
			}
			task, err := store.UpdateTaskStatus(cmd.Context(), actor, args[0], status, reason)
			if err != nil {
				return err
			}
			fmt.Printf("%s is now %s\n", task.TaskID, task.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "acting agent id (default: the root agent)")
	cmd.Flags().StringVar(&status, "status", "", "new status: todo, doing, pending, blocked or done")
	cmd.Flags().StringVar(&reason, "reason", "", "status reason, required for blocked")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

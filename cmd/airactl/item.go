package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gosuda/airactl/internal/config"
	"github.com/gosuda/airactl/internal/domain"
)

// resolveProject picks the project ID from the flag or the configured default.
func resolveProject(flagValue string, cfg *config.Config) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if cfg.ProjectID != "" {
		return cfg.ProjectID, nil
	}
	return "", fmt.Errorf("no project: pass --project or set AIRACTL_PROJECT")
}

func itemsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "items",
		Short: "Manage backlog items",
	}
	cmd.AddCommand(itemsListCmd(), itemsAddCmd(), itemsDoneCmd(), itemsRmCmd())
	return cmd
}

func itemsListCmd() *cobra.Command {
	var project string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List items in a project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, client, err := clientFromEnv()
			if err != nil {
				return err
			}
			projectID, err := resolveProject(project, cfg)
			if err != nil {
				return err
			}

			items, err := client.ListItems(cmd.Context(), projectID)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ID\tSTATUS\tPRI\tTITLE")
			for i := range items {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
					items[i].ID, items[i].Status, items[i].Priority, items[i].Title)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&project, "project", "p", "", "Project ID (default AIRACTL_PROJECT)")
	return cmd
}

func itemsAddCmd() *cobra.Command {
	var project, description string
	var priority int

	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Add an item to the backlog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, client, err := clientFromEnv()
			if err != nil {
				return err
			}
			projectID, err := resolveProject(project, cfg)
			if err != nil {
				return err
			}

			item, err := client.CreateItem(cmd.Context(), &domain.Item{
				ProjectID:   projectID,
				Title:       args[0],
				Description: description,
				Status:      domain.ItemStatusBacklog,
				Priority:    priority,
			})
			if err != nil {
				return err
			}
			fmt.Println(item.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&project, "project", "p", "", "Project ID (default AIRACTL_PROJECT)")
	cmd.Flags().StringVarP(&description, "description", "d", "", "Item description")
	cmd.Flags().IntVar(&priority, "priority", 0, "Item priority")
	return cmd
}

func itemsDoneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "done <id>",
		Short: "Mark an item done",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, client, err := clientFromEnv()
			if err != nil {
				return err
			}

			status := domain.ItemStatusDone
			_, err = client.PatchItem(cmd.Context(), args[0], domain.ItemPatch{Status: &status})
			return err
		},
	}
}

func itemsRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, client, err := clientFromEnv()
			if err != nil {
				return err
			}
			return client.DeleteItem(cmd.Context(), args[0])
		},
	}
}

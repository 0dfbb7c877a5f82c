package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func projectsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projects",
		Short: "Manage backlog projects",
	}
	cmd.AddCommand(projectsListCmd(), projectsCreateCmd(), projectsRmCmd())
	return cmd
}

func projectsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, client, err := clientFromEnv()
			if err != nil {
				return err
			}

			projects, err := client.ListProjects(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ID\tNAME\tDESCRIPTION")
			for i := range projects {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n",
					projects[i].ID, projects[i].Name, projects[i].Description)
			}
			return w.Flush()
		},
	}
}

func projectsCreateCmd() *cobra.Command {
	var description string

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, client, err := clientFromEnv()
			if err != nil {
				return err
			}

			p, err := client.CreateProject(cmd.Context(), args[0], description)
			if err != nil {
				return err
			}
			fmt.Println(p.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "Project description")
	return cmd
}

func projectsRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, client, err := clientFromEnv()
			if err != nil {
				return err
			}
			return client.DeleteProject(cmd.Context(), args[0])
		},
	}
}

package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newProjectsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "projects",
		Aliases: []string{"project"},
		Short:   "List, create, delete and select projects",
	}
	cmd.AddCommand(
		newProjectsListCmd(a),
		newProjectsCreateCmd(a),
		newProjectsDeleteCmd(a),
		newProjectsSelectCmd(a),
	)
	return cmd
}

func newProjectsListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Fetch your projects from the backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := a.user()
			if err != nil {
				return err
			}
			projects, err := a.client.ListProjects(cmd.Context(), user.UserID)
			if err != nil {
				return err
			}
			if err := a.session.SetProjects(projects); err != nil {
				return err
			}
			if len(projects) == 0 {
				fmt.Fprintln(a.out, "No projects yet. Create one with `ismart projects create --name ...`.")
				return nil
			}

			selected, _ := a.session.SelectedProjectID()
			tw := newTable(a.out, "", "ID", "NAME", "CREATED", "DESCRIPTION")
			for _, p := range projects {
				mark := ""
				if p.ProjectID == selected {
					mark = "*"
				}
				row(tw, mark, p.ProjectID, p.ProjectName, p.CreatedAt, clip(p.ProjectDesc, 50))
			}
			return tw.Flush()
		},
	}
}

func newProjectsCreateCmd(a *app) *cobra.Command {
	var name, desc string
	var sel bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return errors.New("--name is required")
			}
			user, err := a.user()
			if err != nil {
				return err
			}
			p, err := a.client.CreateProject(cmd.Context(), user.UserID, name, desc)
			if err != nil {
				return err
			}
			if err := a.session.AddProject(p); err != nil {
				return err
			}
			if sel {
				if err := a.session.Select(p.ProjectID); err != nil {
					return err
				}
			}
			fmt.Fprintf(a.out, "Created project %q (id %d)\n", p.ProjectName, p.ProjectID)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&desc, "desc", "", "project description")
	cmd.Flags().BoolVar(&sel, "select", true, "select the new project")
	return cmd
}

func newProjectsDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := a.client.DeleteProject(cmd.Context(), id); err != nil {
				return err
			}
			if err := a.session.RemoveProject(id); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Deleted project %d\n", id)
			return nil
		},
	}
}

func newProjectsSelectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "select <id>",
		Short: "Select the project later commands act on (0 clears it)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id int64
			if args[0] != "0" {
				var err error
				if id, err = parseID(args[0]); err != nil {
					return err
				}
			}
			if err := a.session.Select(id); err != nil {
				return err
			}
			if p, ok := a.session.SelectedProject(); ok {
				fmt.Fprintf(a.out, "Selected %s (id %d)\n", p.ProjectName, p.ProjectID)
			} else {
				fmt.Fprintln(a.out, "Selection cleared")
			}
			return nil
		},
	}
}

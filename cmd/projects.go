package cmd

import (
	"fmt"
	"strings"

	"github.com/killallgit/atelier/pkg/api"
	"github.com/killallgit/atelier/pkg/tui"
	"github.com/spf13/cobra"
)

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "List or create design projects",
}

var projectsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your projects with their latest message",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := apiClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		me, err := currentUser(ctx, client)
		if err != nil {
			return err
		}

		projects, err := client.ListProjects(ctx, me.ID.String())
		if err != nil {
			return fmt.Errorf("could not list projects: %w", err)
		}
		previews, err := client.Previews(ctx, me.ID.String())
		if err != nil {
			previews = nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), tui.NewRenderer(100).Projects(projects, previews, ""))
		return nil
	},
}

var projectsCreateCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "Create a project",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := apiClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		me, err := currentUser(ctx, client)
		if err != nil {
			return err
		}

		room, _ := cmd.Flags().GetString("room")
		p, err := client.CreateProject(ctx, api.NewProject{
			User:     me.ID,
			Title:    strings.Join(args, " "),
			RoomType: room,
		})
		if err != nil {
			return fmt.Errorf("could not create project: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created project %s (%s). Open it with: atelier chat '/app?p=%s'\n", p.ID, p.Title, p.ID)
		return nil
	},
}

func init() {
	projectsCreateCmd.Flags().String("room", "", "room type, for example bedroom or office")
	projectsCmd.AddCommand(projectsListCmd, projectsCreateCmd)
}

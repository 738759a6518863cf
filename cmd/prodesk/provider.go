package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var selfCmd = &cobra.Command{
	Use:   "self",
	Short: "Show the logged in user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		self, err := a.client.GetSelf(cmd.Context())
		if err != nil {
			return err
		}
		return printOutput(self, func(w io.Writer) {
			fmt.Fprintln(w, "USERNAME\tNAME\tEMAIL")
			if u := self.Status.User; u != nil {
				fmt.Fprintf(w, "%s\t%s\t%s\n", u.Username, orDash(u.Name), orDash(u.Email))
			}
		})
	},
}

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "List projects",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		projects, err := a.client.ListProjects(cmd.Context())
		if err != nil {
			return err
		}
		return printOutput(projects, func(w io.Writer) {
			fmt.Fprintln(w, "NAME\tDISPLAY NAME")
			for _, p := range projects {
				fmt.Fprintf(w, "%s\t%s\n", p.Name, p.Title())
			}
		})
	},
}

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List workspace templates of the project",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		list, err := a.client.ListTemplates(cmd.Context(), cfg.Project)
		if err != nil {
			return err
		}
		return printOutput(list, func(w io.Writer) {
			fmt.Fprintln(w, "NAME\tDISPLAY NAME\tVERSIONS\tDEFAULT")
			for _, t := range list.DevPodWorkspaceTemplates {
				def := ""
				if t.Name == list.DefaultDevPodWorkspaceTemplate {
					def = "*"
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", t.Name, orDash(t.Spec.DisplayName), len(t.Spec.Versions), def)
			}
		})
	},
}

var runnersCmd = &cobra.Command{
	Use:   "runners",
	Short: "List runners of the project",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		list, err := a.client.ListRunners(cmd.Context(), cfg.Project)
		if err != nil {
			return err
		}
		return printOutput(list, func(w io.Writer) {
			fmt.Fprintln(w, "NAME\tDISPLAY NAME")
			for _, r := range list.Runners {
				fmt.Fprintf(w, "%s\t%s\n", r.Name, orDash(r.Spec.DisplayName))
			}
		})
	},
}

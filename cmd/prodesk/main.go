package main

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is set via ldflags at build time
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "prodesk",
	Short: "prodesk - Manage remote development workspaces",
	Long:  `prodesk talks to a workspace management host through the devpod command line.`,
	Example: `  # Log in and look around
  prodesk login pro.example.com
  prodesk projects
  prodesk workspaces --match 'team-*'

  # Drive a workspace and follow its log
  prodesk start my-workspace
  prodesk actions my-workspace
  prodesk logs <action-id>`,
	SilenceUsage:      true,
	PersistentPreRunE: loadSettings,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&hostFlag, "host", "", "Management host (overrides config)")
	flags.StringVarP(&projectFlag, "project", "p", "", "Project (overrides config)")
	flags.StringVarP(&outputFlag, "output", "o", "table", "Output format: table, json or yaml")
	flags.BoolVar(&debugFlag, "debug", false, "Log every command issued")

	rootCmd.AddGroup(
		&cobra.Group{ID: "host", Title: "Host Commands:"},
		&cobra.Group{ID: "workspace", Title: "Workspace Commands:"},
		&cobra.Group{ID: "action", Title: "Action Commands:"},
	)

	for _, c := range []*cobra.Command{loginCmd, hostsCmd, importCmd, selfCmd, projectsCmd, templatesCmd, runnersCmd, healthCmd} {
		c.GroupID = "host"
		rootCmd.AddCommand(c)
	}
	for _, c := range []*cobra.Command{workspacesCmd, watchCmd, startCmd, stopCmd, rebuildCmd, resetCmd, deleteCmd} {
		c.GroupID = "workspace"
		rootCmd.AddCommand(c)
	}
	for _, c := range []*cobra.Command{actionsCmd, logsCmd} {
		c.GroupID = "action"
		rootCmd.AddCommand(c)
	}
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Println("prodesk " + Version)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

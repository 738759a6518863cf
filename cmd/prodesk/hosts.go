package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/nebari-dev/prodesk/internal/command"
	"github.com/nebari-dev/prodesk/internal/remote"
)

var (
	loginProvider  string
	loginAccessKey string
	loginPrompt    bool
)

var loginCmd = &cobra.Command{
	Use:   "login <host>",
	Short: "Log into a management host",
	Long: `Logs into a management host. Progress is printed as it happens.

Examples:
  prodesk login pro.example.com
  prodesk login pro.example.com --access-key-prompt`,
	Args: cobra.ExactArgs(1),
	RunE: runLogin,
}

func init() {
	loginCmd.Flags().StringVar(&loginProvider, "provider", "", "Provider name to register the host under")
	loginCmd.Flags().StringVar(&loginAccessKey, "access-key", "", "Access key (skip browser login)")
	loginCmd.Flags().BoolVar(&loginPrompt, "access-key-prompt", false, "Read the access key from the terminal")
}

func runLogin(cmd *cobra.Command, args []string) error {
	host := strings.TrimSpace(args[0])
	accessKey := loginAccessKey

	if loginPrompt {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return fmt.Errorf("--access-key-prompt needs an interactive terminal")
		}
		fmt.Fprint(os.Stderr, "Access key: ")
		keyBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return fmt.Errorf("reading access key: %w", err)
		}
		accessKey = strings.TrimSpace(string(keyBytes))
	}

	client := remote.New(remote.Options{Host: host, Binary: cfg.CLI.Binary, Debug: cfg.CLI.Debug})
	defer client.Close()

	err := client.Login(cmd.Context(), remote.LoginOptions{Provider: loginProvider, AccessKey: accessKey}, func(ev command.Event) {
		if ev.Type == command.EventData {
			fmt.Fprintln(os.Stderr, ev.Text())
		}
	})
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Logged in to %s\n", host)
	return nil
}

var hostsCmd = &cobra.Command{
	Use:   "hosts",
	Short: "Manage the hosts you are logged into",
}

var hostsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List hosts",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client := remote.New(remote.Options{Binary: cfg.CLI.Binary, Debug: cfg.CLI.Debug})
		defer client.Close()

		hosts, err := client.ListAll(cmd.Context())
		if err != nil {
			return err
		}
		if len(hosts) == 0 && outputFlag == "table" {
			fmt.Fprintln(os.Stderr, "Not logged into any host. Run 'prodesk login <host>' to get started.")
			return nil
		}
		return printOutput(hosts, func(w io.Writer) {
			fmt.Fprintln(w, "HOST\tPROVIDER\tAUTHENTICATED\tCREATED")
			for _, h := range hosts {
				auth := "-"
				if h.Authenticated != nil {
					auth = fmt.Sprintf("%t", *h.Authenticated)
				}
				created := "-"
				if !h.CreationTimestamp.IsZero() {
					created = formatTimeAgo(h.CreationTimestamp)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", h.Host, orDash(h.Provider), auth, created)
			}
		})
	},
}

var hostsRemoveCmd = &cobra.Command{
	Use:     "remove <host>",
	Aliases: []string{"rm"},
	Short:   "Log out of a host and forget it",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := remote.New(remote.Options{Binary: cfg.CLI.Binary, Debug: cfg.CLI.Debug})
		defer client.Close()

		if err := client.Remove(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Removed %s\n", args[0])
		return nil
	},
}

func init() {
	hostsCmd.AddCommand(hostsListCmd)
	hostsCmd.AddCommand(hostsRemoveCmd)
}

var importUID string

var importCmd = &cobra.Command{
	Use:   "import <workspace-id>",
	Short: "Import a workspace created elsewhere",
	Long: `Makes a workspace created on another machine usable here.

Examples:
  prodesk import my-workspace --uid 6f1c... --project team`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		err = a.client.ImportWorkspace(cmd.Context(), remote.ImportOptions{
			WorkspaceID:  args[0],
			WorkspaceUID: importUID,
			Project:      cfg.Project,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Imported %s\n", args[0])
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importUID, "uid", "", "Workspace UID (required)")
	_ = importCmd.MarkFlagRequired("uid")
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check whether the host is reachable",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		status := a.client.CheckHealth(cmd.Context())
		if err := printOutput(status, func(w io.Writer) {
			fmt.Fprintln(w, "HOST\tHEALTHY\tMESSAGE")
			fmt.Fprintf(w, "%s\t%t\t%s\n", a.client.Host(), status.Healthy, orDash(status.Message))
		}); err != nil {
			return err
		}
		if !status.Healthy {
			return fmt.Errorf("host %s is unhealthy", a.client.Host())
		}
		return nil
	},
}

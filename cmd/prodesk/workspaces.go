package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/nebari-dev/prodesk/internal/models"
	"github.com/nebari-dev/prodesk/internal/session"
)

var (
	wsMatch   string
	wsTimeout time.Duration
)

var workspacesCmd = &cobra.Command{
	Use:     "workspaces",
	Aliases: []string{"ws"},
	Short:   "List workspaces of the project",
	Long: `List the workspaces of the selected project, most recently active first.

Examples:
  prodesk workspaces
  prodesk workspaces --match 'team-*' -o json`,
	Args: cobra.NoArgs,
	RunE: runWorkspaces,
}

func init() {
	workspacesCmd.Flags().StringVar(&wsMatch, "match", "", "Only show workspaces whose id matches this glob")
	workspacesCmd.Flags().DurationVar(&wsTimeout, "timeout", 30*time.Second, "How long to wait for the workspace list")
}

func runWorkspaces(cmd *cobra.Command, args []string) error {
	if wsMatch != "" && !doublestar.ValidatePattern(wsMatch) {
		return fmt.Errorf("invalid --match pattern %q", wsMatch)
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	s, st, err := a.openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	if err := waitForSnapshot(cmd.Context(), s, wsTimeout); err != nil {
		return err
	}

	list := filterWorkspaces(st.GetAll(), wsMatch)
	return printOutput(list, func(w io.Writer) {
		fmt.Fprintln(w, "ID\tNAME\tPHASE\tSTATUS\tTEMPLATE\tRUNNER\tSOURCE\tLAST ACTIVITY")
		for _, ws := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				ws.ID, ws.DisplayName, orDash(ws.Phase), orDash(ws.LastWorkspaceStatus),
				orDash(ws.TemplateRef.Name), orDash(ws.RunnerRef.Runner),
				sourceOf(ws), lastActivity(ws))
		}
	})
}

// waitForSnapshot blocks until the session has applied its first workspace
// list or the watch failed.
func waitForSnapshot(ctx context.Context, s *session.Session, timeout time.Duration) error {
	err := wait.PollUntilContextTimeout(ctx, 100*time.Millisecond, timeout, true, func(context.Context) (bool, error) {
		return !s.Loading(), nil
	})
	if err != nil {
		return fmt.Errorf("waiting for workspaces: %w", err)
	}
	return s.WatchErr()
}

func filterWorkspaces(list []models.WorkspaceInstance, pattern string) []models.WorkspaceInstance {
	if pattern == "" {
		return list
	}
	out := make([]models.WorkspaceInstance, 0, len(list))
	for _, ws := range list {
		if ok, _ := doublestar.Match(pattern, ws.ID); ok {
			out = append(out, ws)
		}
	}
	return out
}

func sourceOf(ws models.WorkspaceInstance) string {
	if ws.Source.IsZero() {
		return "-"
	}
	return ws.Source.String()
}

func lastActivity(ws models.WorkspaceInstance) string {
	n, err := strconv.ParseInt(ws.LastActivity, 10, 64)
	if err != nil {
		return "-"
	}
	return formatTimeAgo(time.Unix(n, 0))
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print the workspace list every time it changes",
	Long: `Follows the workspaces of the selected project and prints the full list as
one JSON array per line whenever it changes. Stops on interrupt.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	s, st, err := a.openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	changed := make(chan struct{}, 1)
	unsubscribe := st.Subscribe(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	enc := json.NewEncoder(os.Stdout)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changed:
			if err := enc.Encode(st.GetAll()); err != nil {
				return err
			}
		}
	}
}

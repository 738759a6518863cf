package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nebari-dev/prodesk/internal/command"
	"github.com/nebari-dev/prodesk/internal/failure"
	"github.com/nebari-dev/prodesk/internal/logstream"
	"github.com/nebari-dev/prodesk/internal/models"
)

var actionsAll bool

var actionsCmd = &cobra.Command{
	Use:   "actions [workspace-id]",
	Short: "List recorded actions, most recent first",
	Long: `List the actions recorded for a workspace. Without an id, or with --all,
lists the actions of every workspace.

Examples:
  prodesk actions my-workspace
  prodesk actions --all -o yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		workspaceID := ""
		if len(args) == 1 && !actionsAll {
			workspaceID = args[0]
		}
		actions := a.history.List(workspaceID)
		return printOutput(actions, func(w io.Writer) {
			fmt.Fprintln(w, "ID\tWORKSPACE\tACTION\tSTATUS\tSTARTED\tDURATION")
			for _, act := range actions {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					act.ID, act.WorkspaceID, act.DisplayName(), act.Status,
					formatTimeAgo(act.StartedAt), duration(act))
			}
		})
	},
}

func init() {
	actionsCmd.Flags().BoolVar(&actionsAll, "all", false, "List actions of every workspace")
}

func duration(a *models.Action) string {
	if a.FinishedAt == nil {
		return "-"
	}
	return a.FinishedAt.Sub(a.StartedAt).Round(time.Second).String()
}

var logsCmd = &cobra.Command{
	Use:   "logs <action-id|workspace-id>",
	Short: "Print the log of an action",
	Long: `Print the recorded log of an action. Given a workspace id instead, prints
the log of that workspace's most recent action.

Examples:
  prodesk logs 3b7c2a4e-...
  prodesk logs my-workspace`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		var actionID uuid.UUID
		if id, err := uuid.Parse(args[0]); err == nil {
			actionID = id
		} else {
			sel, err := a.history.Select(args[0], uuid.Nil)
			if err != nil {
				return err
			}
			actionID = sel.Action.ID
		}

		action, err := a.history.Get(actionID)
		if failure.IsNotFound(err) && a.valkey != nil {
			// Pruned locally or recorded on another machine sharing the mirror.
			mirror := logstream.NewValkeyMirror(a.valkey, logstream.DefaultMirrorTTL)
			return replayMirrored(cmd.Context(), mirror, actionID, printEvent)
		}
		if err != nil {
			return err
		}
		att, err := a.history.Replay(actionID, printEvent)
		if err != nil {
			return err
		}
		<-att.Done()

		if action.Status == models.ActionError {
			return fmt.Errorf("%s failed: %s", action.DisplayName(), action.Error)
		}
		return nil
	},
}

type transcriptReader interface {
	Transcript(ctx context.Context, actionID uuid.UUID) ([]models.LogEntry, error)
}

// replayMirrored feeds a mirrored transcript to onEvent as data events. An
// empty transcript means the mirror never saw the action or it expired.
func replayMirrored(ctx context.Context, r transcriptReader, actionID uuid.UUID, onEvent func(command.Event)) error {
	entries, err := r.Transcript(ctx, actionID)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return failure.NotFound("action %s not found", actionID)
	}
	for _, e := range entries {
		onEvent(command.Event{
			Type:   command.EventData,
			Stream: command.StreamName(e.Stream),
			Data:   []byte(e.Line),
			Time:   e.Time,
		})
	}
	return nil
}

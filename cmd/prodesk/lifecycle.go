package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/nebari-dev/prodesk/internal/command"
	"github.com/nebari-dev/prodesk/internal/history"
	"github.com/nebari-dev/prodesk/internal/models"
	"github.com/nebari-dev/prodesk/internal/remote"
)

var (
	deleteForce bool
	quietFlag   bool
)

// lifecycleCommand builds a command that issues one action and follows its
// log until it finishes. Interrupting cancels the action.
func lifecycleCommand(use, short string, issue func(ctx context.Context, c *remote.Client, id string) (*history.Run, error)) *cobra.Command {
	c := &cobra.Command{
		Use:   use + " <workspace-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			run, err := issue(ctx, a.client, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Action %s started\n", run.ActionID())
			return followRun(ctx, a.history, run)
		},
	}
	return c
}

var (
	startCmd = lifecycleCommand("start", "Start a workspace", func(ctx context.Context, c *remote.Client, id string) (*history.Run, error) {
		return c.Start(ctx, id)
	})
	stopCmd = lifecycleCommand("stop", "Stop a workspace", func(ctx context.Context, c *remote.Client, id string) (*history.Run, error) {
		return c.Stop(ctx, id)
	})
	rebuildCmd = lifecycleCommand("rebuild", "Recreate a workspace's container, keeping its content", func(ctx context.Context, c *remote.Client, id string) (*history.Run, error) {
		return c.Rebuild(ctx, id)
	})
	resetCmd = lifecycleCommand("reset", "Recreate a workspace from scratch", func(ctx context.Context, c *remote.Client, id string) (*history.Run, error) {
		return c.Reset(ctx, id)
	})
	deleteCmd = lifecycleCommand("delete", "Delete a workspace", func(ctx context.Context, c *remote.Client, id string) (*history.Run, error) {
		return c.Delete(ctx, id, deleteForce)
	})
)

func init() {
	deleteCmd.Flags().BoolVar(&deleteForce, "force", false, "Delete even if remote cleanup fails")
	for _, c := range []*cobra.Command{startCmd, stopCmd, rebuildCmd, resetCmd, deleteCmd} {
		c.Flags().BoolVar(&quietFlag, "quiet", false, "Do not print the action log")
	}
}

// followRun prints the live log of run and returns its outcome.
func followRun(ctx context.Context, reg *history.Registry, run *history.Run) error {
	if !quietFlag {
		att, err := reg.Attach(run.ActionID(), printEvent)
		if err != nil {
			return err
		}
		defer func() {
			<-att.Done()
		}()
	}

	stop := context.AfterFunc(ctx, run.Cancel)
	defer stop()

	final, err := run.Wait(context.WithoutCancel(ctx))
	if err != nil {
		return err
	}
	return actionResult(final)
}

func printEvent(ev command.Event) {
	if ev.Type == command.EventData {
		if ev.Stream == command.Stderr {
			fmt.Fprintln(os.Stderr, ev.Text())
			return
		}
		fmt.Fprintln(os.Stdout, ev.Text())
	}
}

func actionResult(a *models.Action) error {
	switch a.Status {
	case models.ActionSuccess:
		fmt.Fprintf(os.Stderr, "%s succeeded\n", a.DisplayName())
		return nil
	case models.ActionCancelled:
		return fmt.Errorf("%s cancelled", a.DisplayName())
	default:
		return errors.New(a.Error)
	}
}

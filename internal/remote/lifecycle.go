package remote

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/nebari-dev/prodesk/internal/command"
	"github.com/nebari-dev/prodesk/internal/failure"
	"github.com/nebari-dev/prodesk/internal/history"
	"github.com/nebari-dev/prodesk/internal/models"
)

var errNoOutput = errors.New("no workspace instance in output")

// Start starts a workspace.
func (c *Client) Start(ctx context.Context, workspaceID string) (*history.Run, error) {
	return c.lifecycle(ctx, workspaceID, models.ActionStart, []string{"up", workspaceID})
}

// Stop stops a workspace.
func (c *Client) Stop(ctx context.Context, workspaceID string) (*history.Run, error) {
	return c.lifecycle(ctx, workspaceID, models.ActionStop, []string{"stop", workspaceID})
}

// Rebuild recreates a workspace's container, keeping its content.
func (c *Client) Rebuild(ctx context.Context, workspaceID string) (*history.Run, error) {
	return c.lifecycle(ctx, workspaceID, models.ActionRebuild, []string{"up", workspaceID, "--recreate"})
}

// Reset recreates a workspace from scratch.
func (c *Client) Reset(ctx context.Context, workspaceID string) (*history.Run, error) {
	return c.lifecycle(ctx, workspaceID, models.ActionReset, []string{"up", workspaceID, "--reset"})
}

// Delete deletes a workspace. force also deletes it when the remote cleanup
// fails.
func (c *Client) Delete(ctx context.Context, workspaceID string, force bool) (*history.Run, error) {
	args := []string{"delete", workspaceID}
	if force {
		args = append(args, "--force")
	}
	return c.lifecycle(ctx, workspaceID, models.ActionDelete, args)
}

// lifecycle records the action first, then issues its command. The returned
// Run is already executing.
func (c *Client) lifecycle(ctx context.Context, workspaceID string, kind models.ActionKind, args []string, env ...string) (*history.Run, error) {
	if workspaceID == "" {
		return nil, failure.Validation("workspace id is required")
	}
	action, err := c.history.Begin(ctx, workspaceID, kind)
	if err != nil {
		return nil, err
	}
	return c.history.Track(action, c.newCommand(args, env...))
}

// Create creates a new workspace instance and waits for it. The call is
// recorded as a create action whose transcript is the command output.
func (c *Client) Create(ctx context.Context, inst models.RemoteInstance) (models.WorkspaceInstance, *models.Action, error) {
	id := inst.WorkspaceID()
	if id == "" {
		return models.WorkspaceInstance{}, nil, failure.Validation("workspace instance %q has no id", inst.Name)
	}
	payload, err := json.Marshal(inst)
	if err != nil {
		return models.WorkspaceInstance{}, nil, failure.Decode("failed to encode workspace instance", err)
	}

	action, err := c.history.Begin(ctx, id, models.ActionCreate)
	if err != nil {
		return models.WorkspaceInstance{}, nil, err
	}
	cmd := c.providerCommand([]string{"create", "workspace"}, EnvWorkspaceInstance+"="+string(payload))
	run, err := c.history.Track(action, cmd)
	if err != nil {
		return models.WorkspaceInstance{}, nil, err
	}

	stop := context.AfterFunc(ctx, run.Cancel)
	defer stop()
	final, err := run.Wait(context.WithoutCancel(ctx))
	if err != nil {
		return models.WorkspaceInstance{}, nil, err
	}

	switch final.Status {
	case models.ActionSuccess:
	case models.ActionCancelled:
		return models.WorkspaceInstance{}, final, failure.Cancelled("create workspace")
	default:
		return models.WorkspaceInstance{}, final, cmd.Err()
	}

	var lines []string
	for _, le := range final.Transcript {
		if le.Stream == string(command.Stdout) {
			lines = append(lines, le.Line)
		}
	}
	created, err := decodeInstance(lines, "failed to create workspace")
	return created, final, err
}

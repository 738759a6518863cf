package remote

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/nebari-dev/prodesk/internal/command"
	"github.com/nebari-dev/prodesk/internal/failure"
	"github.com/nebari-dev/prodesk/internal/models"
)

// LoginOptions are the optional parts of a login.
type LoginOptions struct {
	Provider  string
	AccessKey string
}

// Login logs into the client's host. Progress lines are streamed to onEvent.
// Cancelling ctx cancels the login.
func (c *Client) Login(ctx context.Context, opts LoginOptions, onEvent func(command.Event)) error {
	if c.host == "" {
		return failure.Validation("host is required")
	}
	args := []string{"pro", "login", c.host}
	if opts.Provider != "" {
		args = append(args, "--provider", opts.Provider)
	}
	if opts.AccessKey != "" {
		args = append(args, "--access-key", opts.AccessKey)
	}
	args = append(args, "--log-output", "json")
	return c.stream(ctx, c.newCommand(args), onEvent)
}

// ListAll returns every host the user is logged into.
func (c *Client) ListAll(ctx context.Context) ([]models.ProInstance, error) {
	out, err := c.run(ctx, c.newCommand([]string{"pro", "list", "--output", "json"}))
	if err != nil {
		return nil, err
	}
	var instances []models.ProInstance
	if len(strings.TrimSpace(string(out))) == 0 {
		return instances, nil
	}
	if err := json.Unmarshal(out, &instances); err != nil {
		return nil, failure.Decode("failed to list hosts", err)
	}
	return instances, nil
}

// Remove logs out of host and forgets it. Removing an unknown host succeeds.
func (c *Client) Remove(ctx context.Context, host string) error {
	if strings.TrimSpace(host) == "" {
		return failure.Validation("host is required")
	}
	_, err := c.run(ctx, c.newCommand([]string{"pro", "delete", host, "--ignore-not-found"}))
	return err
}

// ImportOptions identify a remote workspace to import locally.
type ImportOptions struct {
	WorkspaceID  string
	WorkspaceUID string
	Project      string
}

// ImportWorkspace makes a workspace created elsewhere usable on this machine.
func (c *Client) ImportWorkspace(ctx context.Context, opts ImportOptions) error {
	if opts.WorkspaceID == "" || opts.WorkspaceUID == "" {
		return failure.Validation("workspace id and uid are required")
	}
	args := []string{"pro", "import-workspace", c.host,
		"--workspace-id", opts.WorkspaceID,
		"--workspace-uid", opts.WorkspaceUID,
	}
	if opts.Project != "" {
		args = append(args, "--workspace-project", opts.Project)
	}
	_, err := c.run(ctx, c.newCommand(args))
	return err
}

// CheckHealth reports whether the host is reachable. It never fails; a failed
// check comes back as an unhealthy status.
func (c *Client) CheckHealth(ctx context.Context) models.HealthStatus {
	out, err := c.run(ctx, c.newCommand([]string{"pro", "check-health", c.host}))
	if err != nil {
		return models.HealthStatus{Healthy: false, Message: err.Error()}
	}

	var status models.HealthStatus
	if trimmed := strings.TrimSpace(string(out)); strings.HasPrefix(trimmed, "{") {
		if json.Unmarshal([]byte(trimmed), &status) == nil {
			return status
		}
	}
	return models.HealthStatus{Healthy: true}
}

package remote

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/nebari-dev/prodesk/internal/command"
	"github.com/nebari-dev/prodesk/internal/failure"
	"github.com/nebari-dev/prodesk/internal/models"
	"github.com/nebari-dev/prodesk/internal/watch"
)

// GetSelf returns the logged in user of the host.
func (c *Client) GetSelf(ctx context.Context) (models.Self, error) {
	var self models.Self
	out, err := c.run(ctx, c.providerCommand([]string{"get", "self"}))
	if err != nil {
		return self, err
	}
	if err := json.Unmarshal(out, &self); err != nil {
		return self, failure.Decode("failed to fetch self", err)
	}
	return self, nil
}

// ListProjects returns the projects the user can access.
func (c *Client) ListProjects(ctx context.Context) ([]models.Project, error) {
	out, err := c.run(ctx, c.providerCommand([]string{"list", "projects"}))
	if err != nil {
		return nil, err
	}

	trimmed := []byte(strings.TrimSpace(string(out)))
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var projects []models.Project
		if err := json.Unmarshal(trimmed, &projects); err != nil {
			return nil, failure.Decode("failed to fetch projects", err)
		}
		return projects, nil
	}
	var list models.ProjectList
	if err := json.Unmarshal(trimmed, &list); err != nil {
		return nil, failure.Decode("failed to fetch projects", err)
	}
	return list.Items, nil
}

// ListTemplates returns the workspace templates of a project.
func (c *Client) ListTemplates(ctx context.Context, project string) (models.TemplateList, error) {
	var list models.TemplateList
	if project == "" {
		return list, failure.Validation("project is required")
	}
	out, err := c.run(ctx, c.providerCommand([]string{"list", "templates"}, EnvProject+"="+project))
	if err != nil {
		return list, err
	}
	if err := json.Unmarshal(out, &list); err != nil {
		return list, failure.Decode("failed to fetch templates", err)
	}
	return list, nil
}

// ListRunners returns the runners a project may schedule workspaces on.
func (c *Client) ListRunners(ctx context.Context, project string) (models.RunnerList, error) {
	var list models.RunnerList
	if project == "" {
		return list, failure.Validation("project is required")
	}
	out, err := c.run(ctx, c.providerCommand([]string{"list", "clusters"}, EnvProject+"="+project))
	if err != nil {
		return list, err
	}
	if err := json.Unmarshal(out, &list); err != nil {
		return list, failure.Decode("failed to fetch runners", err)
	}
	return list, nil
}

// Update replaces the spec of an existing workspace and returns the updated
// instance.
func (c *Client) Update(ctx context.Context, inst models.RemoteInstance) (models.WorkspaceInstance, error) {
	if inst.WorkspaceID() == "" {
		return models.WorkspaceInstance{}, failure.Validation("workspace instance %q has no id", inst.Name)
	}
	payload, err := json.Marshal(inst)
	if err != nil {
		return models.WorkspaceInstance{}, failure.Decode("failed to encode workspace instance", err)
	}
	out, err := c.run(ctx, c.providerCommand([]string{"update", "workspace"}, EnvWorkspaceInstance+"="+string(payload)))
	if err != nil {
		return models.WorkspaceInstance{}, err
	}
	return decodeInstance(strings.Split(string(out), "\n"), "failed to update workspace")
}

// WatchKey is the watch key of a project on this client's host.
func (c *Client) WatchKey(project string) string {
	return c.host + "/" + project
}

// WatchWorkspaces streams workspace snapshots of a project. Starting a watch
// for a project that is already watched replaces the old one.
func (c *Client) WatchWorkspaces(project string, onUpdate watch.UpdateFunc, onError watch.ErrorFunc) *watch.Subscription {
	return c.watcher.Start(c.WatchKey(project), onUpdate, onError)
}

func (c *Client) watchCommand(key string) *command.Command {
	project := strings.TrimPrefix(key, c.host+"/")
	return c.newCommand(
		[]string{"pro", "watch", "--host", c.host},
		EnvHost+"="+c.host, EnvProject+"="+project,
	)
}

// decodeInstance finds the last line of output that is a workspace instance.
func decodeInstance(lines []string, msg string) (models.WorkspaceInstance, error) {
	var lastErr error = failure.Decode(msg, errNoOutput)
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var raw models.RemoteInstance
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			lastErr = failure.Decode(msg, err)
			continue
		}
		return models.NewWorkspaceInstance(raw)
	}
	return models.WorkspaceInstance{}, lastErr
}

// Package remote issues typed calls against a management host through the
// devpod command line. Every logical call is exactly one Command.
package remote

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/nebari-dev/prodesk/internal/command"
	"github.com/nebari-dev/prodesk/internal/history"
	"github.com/nebari-dev/prodesk/internal/watch"
)

// DefaultBinary is the command line used when Options.Binary is empty.
const DefaultBinary = "devpod"

// Environment variables understood by the provider commands.
const (
	EnvHost              = "LOFT_HOST"
	EnvProject           = "LOFT_PROJECT"
	EnvWorkspaceInstance = "WORKSPACE_INSTANCE"
)

// Options configures a Client. Everything is explicit so tests can build
// isolated clients.
type Options struct {
	Host    string
	Binary  string
	Debug   bool
	Runtime command.Runtime
	History *history.Registry
	Logger  *slog.Logger
}

// Client is the façade for one host.
type Client struct {
	host    string
	binary  string
	debug   atomic.Bool
	runtime command.Runtime
	history *history.Registry
	watcher *watch.Watcher
	logger  *slog.Logger
}

// New creates a Client.
func New(opts Options) *Client {
	c := &Client{
		host:    strings.TrimSpace(opts.Host),
		binary:  opts.Binary,
		runtime: opts.Runtime,
		history: opts.History,
		logger:  opts.Logger,
	}
	if c.binary == "" {
		c.binary = DefaultBinary
	}
	if c.runtime == nil {
		c.runtime = command.NewExecRuntime()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.history == nil {
		c.history = history.New(history.WithLogger(c.logger))
	}
	c.debug.Store(opts.Debug)
	c.watcher = watch.New(c.watchCommand, watch.WithLogger(c.logger))
	return c
}

// Host returns the host this client talks to.
func (c *Client) Host() string { return c.host }

// History returns the action registry lifecycle calls are recorded in.
func (c *Client) History() *history.Registry { return c.history }

// Watcher returns the watcher used by WatchWorkspaces.
func (c *Client) Watcher() *watch.Watcher { return c.watcher }

// SetDebug toggles verbose logging of every command this client issues.
func (c *Client) SetDebug(enabled bool) { c.debug.Store(enabled) }

// Close stops every watch started through this client.
func (c *Client) Close() { c.watcher.Close() }

func (c *Client) newCommand(args []string, env ...string) *command.Command {
	spec := command.Spec{Name: c.binary, Args: args, Env: env}
	return command.New(c.runtime, spec,
		command.WithDebug(c.debug.Load()),
		command.WithLogger(c.logger),
	)
}

// providerCommand builds a "pro provider ..." command scoped to the host.
func (c *Client) providerCommand(args []string, env ...string) *command.Command {
	full := append([]string{"pro", "provider"}, args...)
	full = append(full, "--host", c.host)
	return c.newCommand(full, append([]string{EnvHost + "=" + c.host}, env...)...)
}

// run executes cmd to completion, cancelling it when ctx ends.
func (c *Client) run(ctx context.Context, cmd *command.Command) ([]byte, error) {
	out, err := cmd.Run(ctx)
	if err != nil {
		return nil, err
	}
	return out.Stdout, nil
}

// stream runs cmd in streaming mode, forwards its events and waits for it to
// finish.
func (c *Client) stream(ctx context.Context, cmd *command.Command, onEvent func(command.Event)) error {
	if onEvent == nil {
		onEvent = func(command.Event) {}
	}
	if err := cmd.Stream(onEvent); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, cmd.Cancel)
	defer stop()

	<-cmd.Done()
	return cmd.Err()
}

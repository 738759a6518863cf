// Package command wraps one cancellable external operation. A Command is either
// run to completion with Run or observed line by line with Stream.
package command

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nebari-dev/prodesk/internal/failure"
)

// SensitiveFlags lists flags whose values are masked when a Spec is logged.
var SensitiveFlags = []string{"--access-key", "--token", "--password"}

// Spec describes one external operation.
type Spec struct {
	Name string
	Args []string
	Env  []string // extra KEY=VALUE pairs on top of the parent environment
	Dir  string
}

// String renders the command line with sensitive flag values masked.
func (s Spec) String() string {
	parts := make([]string, 0, len(s.Args)+1)
	parts = append(parts, s.Name)
	mask := false
	for _, arg := range s.Args {
		if mask {
			parts = append(parts, "***")
			mask = false
			continue
		}
		name, _, hasValue := strings.Cut(arg, "=")
		if isSensitive(name) {
			if hasValue {
				parts = append(parts, name+"=***")
			} else {
				parts = append(parts, arg)
				mask = true
			}
			continue
		}
		parts = append(parts, arg)
	}
	return strings.Join(parts, " ")
}

func isSensitive(flag string) bool {
	for _, f := range SensitiveFlags {
		if f == flag {
			return true
		}
	}
	return false
}

// EventType is the kind of a streamed event.
type EventType string

const (
	EventData  EventType = "data"
	EventError EventType = "error"
	EventDone  EventType = "done"
)

// StreamName identifies the output stream a data event came from.
type StreamName string

const (
	Stdout StreamName = "stdout"
	Stderr StreamName = "stderr"
)

// Event is one item of a streamed command.
type Event struct {
	Type   EventType
	Stream StreamName
	Data   []byte // one line, without the trailing newline
	Err    error  // set for EventError
	Time   time.Time
}

// Text returns the line carried by a data event.
func (e Event) Text() string { return string(e.Data) }

// Output is the captured output of a completed command.
type Output struct {
	Stdout []byte
	Stderr []byte
}

// State is the lifecycle state of a Command.
type State string

const (
	StateCreated   State = "created"
	StateRunning   State = "running"
	StateDone      State = "done"
	StateCancelled State = "cancelled"
	StateFailed    State = "failed"
)

// Command is a single cancellable external operation. It runs at most once.
type Command struct {
	id      uuid.UUID
	spec    Spec
	runtime Runtime
	logger  *slog.Logger
	debug   bool
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     State
	started   bool
	cancelled bool
	finished  bool
	err       error
	done      chan struct{}

	// emitMu serializes handler calls coming from the stdout and stderr
	// copy goroutines.
	emitMu sync.Mutex
}

// Option configures a Command.
type Option func(*Command)

// WithDebug logs the command line, every output line and the outcome at info
// level.
func WithDebug(debug bool) Option {
	return func(c *Command) { c.debug = debug }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Command) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock overrides the time source used to stamp events.
func WithClock(now func() time.Time) Option {
	return func(c *Command) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a Command. Nothing runs until Run or Stream is called.
func New(rt Runtime, spec Spec, opts ...Option) *Command {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Command{
		id:      uuid.New(),
		spec:    spec,
		runtime: rt,
		logger:  slog.Default(),
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
		state:   StateCreated,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ID returns the command's unique id.
func (c *Command) ID() uuid.UUID { return c.id }

// Spec returns what the command runs.
func (c *Command) Spec() Spec { return c.spec }

// Done is closed once the command reached a terminal state.
func (c *Command) Done() <-chan struct{} { return c.done }

// State returns the current lifecycle state.
func (c *Command) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the terminal failure, or nil while running or after success.
func (c *Command) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Run starts the command and waits for it to exit. Cancelling ctx cancels the
// command. A cancelled command returns a failure recognizable with
// failure.IsCancelled.
func (c *Command) Run(ctx context.Context) (Output, error) {
	if err := c.begin(); err != nil {
		return Output{}, err
	}

	stop := context.AfterFunc(ctx, c.Cancel)
	defer stop()

	var stdout, stderr bytes.Buffer
	proc, err := c.launch(&stdout, &stderr)
	if err != nil {
		c.finish(err)
		return Output{}, err
	}

	waitErr := proc.Wait()
	out := Output{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	err = c.classify(waitErr, stderr.Bytes())
	c.finish(err)
	return out, err
}

// Stream starts the command in the background and returns immediately.
// onEvent receives one data event per output line, then exactly one terminal
// event (done or error). Handler calls never overlap. After Cancel returns no
// new handler call starts; a call already in progress is allowed to finish.
func (c *Command) Stream(onEvent func(Event)) error {
	if err := c.begin(); err != nil {
		return err
	}

	stdout := newLineWriter(Stdout, 0, func(s StreamName, line []byte) {
		c.emit(onEvent, Event{Type: EventData, Stream: s, Data: line, Time: c.now()})
	})
	stderr := newLineWriter(Stderr, stderrTailLines, func(s StreamName, line []byte) {
		c.emit(onEvent, Event{Type: EventData, Stream: s, Data: line, Time: c.now()})
	})

	go func() {
		proc, err := c.launch(stdout, stderr)
		if err == nil {
			waitErr := proc.Wait()
			stdout.Flush()
			stderr.Flush()
			err = c.classify(waitErr, stderr.Tail())
		}
		c.finish(err)

		terminal := Event{Type: EventDone, Time: c.now()}
		if err != nil {
			terminal = Event{Type: EventError, Err: err, Time: c.now()}
		}
		c.emit(onEvent, terminal)
	}()
	return nil
}

// Cancel stops the command. It is idempotent and a no-op once the command has
// completed. It does not wait for the process to exit; use Done for that.
func (c *Command) Cancel() {
	c.mu.Lock()
	if c.cancelled || c.finished {
		c.mu.Unlock()
		return
	}
	c.cancelled = true
	started := c.started
	c.mu.Unlock()

	c.cancel()
	if !started {
		c.finish(failure.Cancelled(c.spec.Name))
	}
	c.log("command cancelled", "id", c.id)
}

func (c *Command) begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return failure.Validation("command %s already started", c.id)
	}
	if c.cancelled {
		return failure.Cancelled(c.spec.Name)
	}
	c.started = true
	c.state = StateRunning
	return nil
}

func (c *Command) launch(stdout, stderr io.Writer) (Process, error) {
	c.log("command started", "id", c.id, "command", c.spec.String())

	proc, err := c.runtime.Start(c.ctx, c.spec, stdout, stderr)
	if err != nil {
		if c.isCancelled() {
			return nil, failure.Cancelled(c.spec.Name)
		}
		return nil, failure.Transport(fmt.Sprintf("failed to start %s", c.spec.Name), err)
	}
	return proc, nil
}

func (c *Command) classify(waitErr error, stderr []byte) error {
	if c.isCancelled() {
		return failure.Cancelled(c.spec.Name)
	}
	if waitErr == nil {
		return nil
	}

	msg := fmt.Sprintf("%s failed", c.spec.Name)
	if detail := strings.TrimSpace(string(stderr)); detail != "" {
		msg += ": " + detail
	}
	return failure.Transport(msg, waitErr)
}

func (c *Command) finish(err error) {
	c.mu.Lock()
	if c.finished {
		c.mu.Unlock()
		return
	}
	c.finished = true
	c.err = err
	switch {
	case err == nil:
		c.state = StateDone
	case failure.IsCancelled(err):
		c.state = StateCancelled
	default:
		c.state = StateFailed
	}
	state := c.state
	close(c.done)
	c.mu.Unlock()

	c.cancel()
	if err != nil && state == StateFailed {
		c.log("command failed", "id", c.id, "error", err)
		return
	}
	c.log("command finished", "id", c.id, "state", state)
}

func (c *Command) emit(onEvent func(Event), ev Event) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	if c.isCancelled() {
		return
	}
	if c.debug && ev.Type == EventData {
		c.logger.Info("command output", "id", c.id, "stream", ev.Stream, "line", ev.Text())
	}
	onEvent(ev)
}

func (c *Command) isCancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}

func (c *Command) log(msg string, args ...any) {
	if c.debug {
		c.logger.Info(msg, args...)
		return
	}
	c.logger.Debug(msg, args...)
}

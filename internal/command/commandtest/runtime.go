// Package commandtest provides a scriptable in-memory command.Runtime for tests.
package commandtest

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/nebari-dev/prodesk/internal/command"
)

// Process is a fake process whose output and exit are driven by the test.
type Process struct {
	Spec command.Spec

	ctx    context.Context
	mu     sync.Mutex
	stdout io.Writer
	stderr io.Writer
	exit   chan error
	exited chan struct{}
	once   sync.Once
}

// Stdout writes one line to the process's stdout.
func (p *Process) Stdout(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	io.WriteString(p.stdout, line+"\n")
}

// Stderr writes one line to the process's stderr.
func (p *Process) Stderr(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	io.WriteString(p.stderr, line+"\n")
}

// Exit makes Wait return err. Only the first call counts.
func (p *Process) Exit(err error) {
	select {
	case p.exit <- err:
	default:
	}
}

// Exited is closed once Wait has returned.
func (p *Process) Exited() <-chan struct{} { return p.exited }

// Env returns the value of key in the spec's extra environment.
func (p *Process) Env(key string) string {
	for _, kv := range p.Spec.Env {
		if k, v, ok := strings.Cut(kv, "="); ok && k == key {
			return v
		}
	}
	return ""
}

// Wait implements command.Process. A cancelled context behaves like a killed
// process.
func (p *Process) Wait() error {
	defer p.once.Do(func() { close(p.exited) })
	select {
	case err := <-p.exit:
		return err
	case <-p.ctx.Done():
		return errors.New("signal: killed")
	}
}

// Runtime records started processes. When Handler is set it is run in its own
// goroutine for every started process.
type Runtime struct {
	Handler  func(p *Process)
	StartErr error

	mu      sync.Mutex
	procs   []*Process
	started chan *Process
}

// New creates a fake runtime.
func New() *Runtime {
	return &Runtime{started: make(chan *Process, 256)}
}

// Replying returns a runtime whose processes print stdout and exit with err.
func Replying(stdout string, err error) *Runtime {
	r := New()
	r.Handler = Reply(stdout, err)
	return r
}

// Reply is a Handler that prints stdout line by line and exits with err.
func Reply(stdout string, err error) func(p *Process) {
	return func(p *Process) {
		for _, line := range strings.Split(strings.TrimRight(stdout, "\n"), "\n") {
			if line != "" {
				p.Stdout(line)
			}
		}
		p.Exit(err)
	}
}

// Start implements command.Runtime.
func (r *Runtime) Start(ctx context.Context, spec command.Spec, stdout, stderr io.Writer) (command.Process, error) {
	if r.StartErr != nil {
		return nil, r.StartErr
	}
	p := &Process{
		Spec:   spec,
		ctx:    ctx,
		stdout: stdout,
		stderr: stderr,
		exit:   make(chan error, 1),
		exited: make(chan struct{}),
	}

	r.mu.Lock()
	r.procs = append(r.procs, p)
	r.mu.Unlock()

	select {
	case r.started <- p:
	default:
	}
	if r.Handler != nil {
		go r.Handler(p)
	}
	return p, nil
}

// Next waits for the next started process, or returns nil after timeout.
func (r *Runtime) Next(timeout time.Duration) *Process {
	select {
	case p := <-r.started:
		return p
	case <-time.After(timeout):
		return nil
	}
}

// Started returns every process started so far.
func (r *Runtime) Started() []*Process {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Process(nil), r.procs...)
}

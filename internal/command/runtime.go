package command

import (
	"context"
	"io"
	"os"
	"os/exec"
	"time"
)

// Process is a started external operation.
type Process interface {
	// Wait blocks until the operation exits and all of its output has been
	// written to the writers passed to Start.
	Wait() error
}

// Runtime starts external operations. Cancelling ctx must terminate the
// operation.
type Runtime interface {
	Start(ctx context.Context, spec Spec, stdout, stderr io.Writer) (Process, error)
}

// ExecRuntime runs commands as local child processes.
type ExecRuntime struct {
	// WaitDelay bounds how long Wait keeps copying output after the process
	// was killed, in case a grandchild still holds the pipes.
	WaitDelay time.Duration
}

// NewExecRuntime creates a process-based runtime.
func NewExecRuntime() *ExecRuntime {
	return &ExecRuntime{WaitDelay: 5 * time.Second}
}

// Start implements Runtime using os/exec. The child gets its own process group
// so cancellation also takes down anything it spawned.
func (r *ExecRuntime) Start(ctx context.Context, spec Spec, stdout, stderr io.Writer) (Process, error) {
	cmd := exec.CommandContext(ctx, spec.Name, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = getSysProcAttr()
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = r.WaitDelay

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd, nil
}

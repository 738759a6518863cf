//go:build !windows

package command_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nebari-dev/prodesk/internal/command"
	"github.com/nebari-dev/prodesk/internal/failure"
)

func shell(script string, env ...string) command.Spec {
	return command.Spec{Name: "sh", Args: []string{"-c", script}, Env: env}
}

func TestExecRuntimeRunCapturesOutput(t *testing.T) {
	dir := t.TempDir()
	spec := shell(`echo "$GREETING"; pwd`, "GREETING=hello")
	spec.Dir = dir

	out, err := command.New(command.NewExecRuntime(), spec).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(out.Stdout)), "\n")
	if len(lines) != 2 || lines[0] != "hello" {
		t.Fatalf("stdout = %q", out.Stdout)
	}
	want, _ := filepath.EvalSymlinks(dir)
	got, _ := filepath.EvalSymlinks(lines[1])
	if got != want {
		t.Errorf("working directory = %q, want %q", got, want)
	}
}

func TestExecRuntimeExitCodeIsTransportFailure(t *testing.T) {
	_, err := command.New(command.NewExecRuntime(), shell("echo bad >&2; exit 3")).Run(context.Background())
	if !errors.Is(err, failure.ErrTransport) {
		t.Fatalf("expected transport failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "bad") {
		t.Errorf("error does not carry stderr: %v", err)
	}
}

func TestExecRuntimeMissingBinary(t *testing.T) {
	spec := command.Spec{Name: "prodesk-no-such-binary"}
	_, err := command.New(command.NewExecRuntime(), spec).Run(context.Background())
	if !errors.Is(err, failure.ErrTransport) {
		t.Fatalf("expected transport failure, got %v", err)
	}
}

func TestExecRuntimeStreamTagsStreams(t *testing.T) {
	rec := newRecorder()
	cmd := command.New(command.NewExecRuntime(), shell("echo out; echo err >&2"))
	if err := cmd.Stream(rec.handle); err != nil {
		t.Fatalf("Stream: %v", err)
	}
	rec.wait(t)

	var stdout, stderr []string
	for _, ev := range rec.snapshot() {
		if ev.Type != command.EventData {
			continue
		}
		if ev.Stream == command.Stderr {
			stderr = append(stderr, ev.Text())
		} else {
			stdout = append(stdout, ev.Text())
		}
	}
	if len(stdout) != 1 || stdout[0] != "out" || len(stderr) != 1 || stderr[0] != "err" {
		t.Errorf("stdout = %v, stderr = %v", stdout, stderr)
	}
	if cmd.State() != command.StateDone {
		t.Errorf("State = %s", cmd.State())
	}
}

func TestExecRuntimeCancelKillsProcessGroup(t *testing.T) {
	ready := make(chan struct{}, 1)
	// The background sleep inherits the pipes; only a group kill lets Wait
	// return before WaitDelay.
	cmd := command.New(command.NewExecRuntime(), shell("sleep 30 & echo ready; sleep 30"))
	err := cmd.Stream(func(ev command.Event) {
		if ev.Type == command.EventData && ev.Text() == "ready" {
			select {
			case ready <- struct{}{}:
			default:
			}
		}
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	select {
	case <-ready:
	case <-time.After(waitTimeout):
		t.Fatal("process never became ready")
	}

	start := time.Now()
	cmd.Cancel()
	select {
	case <-cmd.Done():
	case <-time.After(waitTimeout):
		t.Fatal("command did not finish after Cancel")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("cancel took %v", elapsed)
	}
	if cmd.State() != command.StateCancelled || !failure.IsCancelled(cmd.Err()) {
		t.Errorf("State = %s, Err = %v", cmd.State(), cmd.Err())
	}
}

func TestExecRuntimeRunContextCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := command.New(command.NewExecRuntime(), shell("sleep 30")).Run(ctx)
	if !failure.IsCancelled(err) {
		t.Errorf("expected cancelled failure, got %v", err)
	}
}

//go:build !windows

package command

import (
	"fmt"
	"os/exec"
	"syscall"
)

// getSysProcAttr starts the child in a new session, which also makes it the
// leader of a new process group.
func getSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setsid: true,
	}
}

// killProcessGroup kills the whole process group of cmd.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return fmt.Errorf("process not found for command: %s", cmd.String())
	}
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		return fmt.Errorf("unable to get process group id for pid %d: %w", cmd.Process.Pid, err)
	}
	return syscall.Kill(-pgid, syscall.SIGKILL)
}

//go:build !windows

package incubator

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// configureProcess starts the command as the leader of its own process
// group, so the group id equals its pid.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminateProcess kills the task's process group: the command and every
// child it forked. A group that is already gone is not an error.
func terminateProcess(cmd *exec.Cmd) {
	if cmd.Process == nil || cmd.Process.Pid <= 0 {
		return
	}
	err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	if err != nil && !errors.Is(err, syscall.ESRCH) {
		_ = cmd.Process.Signal(os.Kill)
	}
}

//go:build unix

package cgi

import (
	"os/exec"
	"syscall"
)

// configureProcess puts the program in its own process group so a
// cancellation also reaches anything it forked.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}

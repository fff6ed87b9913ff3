//go:build !windows

package process

import (
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/devstack-tools/orchestrator-go/pkg/errors"
)

func sysProcAttr() *syscall.SysProcAttr {
	// Own process group so termination signals reach the whole child tree
	return &syscall.SysProcAttr{Setpgid: true}
}

// SendTerminationSignal delivers SIGTERM to the process group of pid,
// falling back to the single process if the group signal fails
func SendTerminationSignal(pid int) error {
	if err := unix.Kill(-pid, unix.SIGTERM); err != nil {
		if err := unix.Kill(pid, unix.SIGTERM); err != nil {
			return errors.NewProcessError("failed to send SIGTERM", err).WithContext("pid", pid)
		}
	}
	return nil
}

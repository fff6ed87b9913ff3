//go:build windows

package process

import (
	"syscall"

	"golang.org/x/sys/windows"

	"github.com/devstack-tools/orchestrator-go/pkg/errors"
)

func sysProcAttr() *syscall.SysProcAttr {
	// New process group so Ctrl-Break events can target the child tree
	return &syscall.SysProcAttr{CreationFlags: windows.CREATE_NEW_PROCESS_GROUP}
}

// SendTerminationSignal delivers a Ctrl-Break event to pid's process group.
// Windows has no SIGTERM equivalent; callers escalate to Kill on timeout.
func SendTerminationSignal(pid int) error {
	if err := windows.GenerateConsoleCtrlEvent(windows.CTRL_BREAK_EVENT, uint32(pid)); err != nil {
		return errors.NewProcessError("failed to send Ctrl-Break event", err).WithContext("pid", pid)
	}
	return nil
}

//go:build unix

package process

import (
	"errors"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setProcessGroup makes the child the leader of a new process group so
// the whole tree can be signalled through -pid
func setProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

func terminateTree(pid int) error {
	return signalTree(pid, unix.SIGTERM)
}

func forceKillTree(pid int) error {
	return signalTree(pid, unix.SIGKILL)
}

func signalTree(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return nil
	}

	// Collect first: once the leader dies its children are reparented and
	// can no longer be found from pid
	tree := descendants(pid)

	if err := unix.Kill(-pid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
		// Fall back to the leader alone if the group cannot be signalled
		if err := unix.Kill(pid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
			return err
		}
	}

	for _, child := range tree {
		// Most are already gone with the group
		_ = unix.Kill(int(child), sig)
	}
	return nil
}

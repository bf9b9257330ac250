//go:build !unix

package process

import (
	"os/exec"

	psprocess "github.com/shirou/gopsutil/v3/process"
)

func setProcessGroup(cmd *exec.Cmd) {}

// Without process groups the tree is walked and every member killed
func terminateTree(pid int) error {
	return killTree(pid)
}

func forceKillTree(pid int) error {
	return killTree(pid)
}

func killTree(pid int) error {
	tree := append([]int32{int32(pid)}, descendants(pid)...)
	var firstErr error
	for _, p := range tree {
		proc, err := psprocess.NewProcess(p)
		if err != nil {
			continue
		}
		if err := proc.Kill(); err != nil && firstErr == nil && p == int32(pid) {
			firstErr = err
		}
	}
	return firstErr
}

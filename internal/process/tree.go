package process

import (
	psprocess "github.com/shirou/gopsutil/v3/process"
)

// descendants returns every process below pid, nearest first.
// Children that called setsid have left our process group, so the group
// signal alone would miss them.
func descendants(pid int) []int32 {
	procs, err := psprocess.Processes()
	if err != nil {
		return nil
	}

	children := make(map[int32][]int32)
	for _, p := range procs {
		ppid, err := p.Ppid()
		if err != nil {
			continue
		}
		children[ppid] = append(children[ppid], p.Pid)
	}

	var result []int32
	queue := []int32{int32(pid)}
	seen := map[int32]bool{int32(pid): true}
	for len(queue) > 0 {
		parent := queue[0]
		queue = queue[1:]
		for _, child := range children[parent] {
			if seen[child] {
				continue
			}
			seen[child] = true
			result = append(result, child)
			queue = append(queue, child)
		}
	}
	return result
}

// Package procstat reports per-process RSS/CPU% by pid, backing
// GET /health and the supervisor's periodic liveness poll (SPEC_FULL.md
// §11's gopsutil/v4/process wiring).
package procstat

import (
	"github.com/shirou/gopsutil/v4/process"
)

// Sample is a point-in-time resource reading for one pid.
type Sample struct {
	PID        int32   `json:"pid"`
	RSSBytes   uint64  `json:"rss_bytes"`
	CPUPercent float64 `json:"cpu_percent"`
}

// Read samples the process identified by pid. CPUPercent reflects usage
// since the process's own start, per gopsutil's CPUPercent contract (it
// is not a short-window instantaneous rate); callers polling this
// periodically still get a useful trend line.
func Read(pid int32) (Sample, error) {
	p, err := process.NewProcess(pid)
	if err != nil {
		return Sample{}, err
	}
	mem, err := p.MemoryInfo()
	if err != nil {
		return Sample{}, err
	}
	cpuPct, err := p.CPUPercent()
	if err != nil {
		return Sample{}, err
	}
	return Sample{PID: pid, RSSBytes: mem.RSS, CPUPercent: cpuPct}, nil
}

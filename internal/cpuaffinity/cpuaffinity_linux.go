//go:build linux

// Package cpuaffinity pins the calling OS thread to a single CPU, for the
// per-worker CPU pinning spec.md §4.7 calls for ("pins itself to a CPU
// indexed by its worker id").
package cpuaffinity

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// Pin locks the current goroutine to its OS thread and restricts that
// thread to the given CPU index. It is a best-effort operation: errors are
// returned for the caller to log, never to treat as fatal, since a failure
// to pin should not prevent a worker from serving traffic.
func Pin(cpu int) error {
	runtime.LockOSThread()

	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	return unix.SchedSetaffinity(0, &set)
}

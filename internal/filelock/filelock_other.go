//go:build !linux

package filelock

import "os"

// Lock is a no-op outside Linux: flock semantics are POSIX-specific, and
// spec.md §9 treats this whole concern as a POSIX-ism a portable target
// must substitute another mechanism for. Single-process (worker count 0)
// operation, which is the only mode that makes sense on such a target
// anyway, needs no cross-process coordination at all.
type Lock struct {
	f *os.File
}

// Open creates (if needed) and opens the sidecar file without taking any
// real lock; it fails only if the file cannot be opened.
func Open(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	return &Lock{f: f}, nil
}

// Close closes the sidecar file descriptor.
func (l *Lock) Close() error {
	return l.f.Close()
}

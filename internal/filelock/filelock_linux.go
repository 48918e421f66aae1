//go:build linux

// Package filelock provides the advisory file locking spec.md §5 calls for
// as the "only cross-worker coordination point": a single exclusive flock
// held for the duration of each physical write to the shared AOF, so that
// sibling workers can never interleave the several write(2) calls a record
// would otherwise need (spec.md's "implementation MUST either (a)
// consolidate... or (b) serialize writers per file via an advisory file
// lock" — RAMFORGE does (a), a single write call per record, and layers (b)
// on top as a belt-and-braces measure for oversized records that might
// exceed a single atomic append).
package filelock

import (
	"os"

	"golang.org/x/sys/unix"
)

// Lock holds an advisory exclusive flock on a sidecar file for as long as
// it is open. Open blocks until the lock is acquired.
type Lock struct {
	f *os.File
}

// Open creates (if needed) and locks the sidecar file at path.
func Open(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, err
	}
	return &Lock{f: f}, nil
}

// Close releases the lock and closes the sidecar file descriptor.
func (l *Lock) Close() error {
	if err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); err != nil {
		l.f.Close()
		return err
	}
	return l.f.Close()
}

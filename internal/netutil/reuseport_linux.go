//go:build linux

// Package netutil provides the SO_REUSEPORT listener the multi-worker
// process model needs: every worker binds the same address and the kernel
// load-balances accepted connections across them (spec.md §4.6's
// "workers share address" requirement, the idiomatic substitute for a
// forked parent handing down one inherited listening fd).
package netutil

import (
	"context"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// Listen returns a TCP listener on addr with SO_REUSEPORT set, so every
// worker process can bind the same address independently.
func Listen(addr string) (net.Listener, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
	return lc.Listen(context.Background(), "tcp", addr)
}

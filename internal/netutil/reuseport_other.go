//go:build !linux

package netutil

import "net"

// Listen falls back to a plain listener on platforms without
// SO_REUSEPORT; only one worker can own addr at a time there.
func Listen(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}

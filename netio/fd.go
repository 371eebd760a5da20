//go:build unix

package netio

import (
	"net"
	"syscall"
)

// FD extracts the raw file descriptor backing c's net.Conn, for
// registration with the reactor's Poller. Returns -1 if the connection
// does not expose a syscall.Conn (e.g. an in-test net.Pipe).
func (c *Conn) FD() int {
	sc, ok := c.netConn.(syscall.Conn)
	if !ok {
		if tc, ok := c.netConn.(interface{ NetConn() net.Conn }); ok {
			if sc2, ok := tc.NetConn().(syscall.Conn); ok {
				sc = sc2
			}
		}
	}
	if sc == nil {
		return -1
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1
	}
	fd := -1
	raw.Control(func(f uintptr) { fd = int(f) })
	return fd
}

// Package fnet holds the socket-tuning helpers shared by the client
// listener and the backend dialer: SO_REUSEPORT / TCP_FASTOPEN /
// TCP_DEFER_ACCEPT, applied through net.Dialer.Control /
// net.ListenConfig.Control so the standard library does the actual
// dial/listen work.
package fnet

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// ListenConfig selects which socket options ApplySocketOptions turns on.
type ListenConfig struct {
	SocketReusePort   bool
	SocketFastOpen    bool
	SocketDeferAccept bool
}

// ApplySocketOptions returns a net.Dialer.Control / net.ListenConfig.Control
// compatible callback that applies the requested options to the raw file
// descriptor before connect/listen.
func ApplySocketOptions(cfg *ListenConfig) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			if cfg.SocketReusePort {
				if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); e != nil {
					sockErr = e
					return
				}
			}
			if cfg.SocketFastOpen {
				// TCP_FASTOPEN value doubles as the backlog/queue length on Linux.
				if e := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_FASTOPEN, 256); e != nil {
					sockErr = e
					return
				}
			}
			if cfg.SocketDeferAccept {
				if e := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_DEFER_ACCEPT, 1); e != nil {
					sockErr = e
					return
				}
			}
		})
		if err != nil {
			return err
		}
		return sockErr
	}
}

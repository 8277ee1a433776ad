//go:build unix

// File: transport/sockopt_unix.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Socket buffer sizing applied before bind.

package transport

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

func socketControl(cfg Config) func(network, address string, c syscall.RawConn) error {
	if cfg.SocketReadBuffer == 0 && cfg.SocketWriteBuffer == 0 {
		return nil
	}
	return func(network, address string, c syscall.RawConn) error {
		var serr error
		err := c.Control(func(fd uintptr) {
			if cfg.SocketReadBuffer > 0 {
				serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, cfg.SocketReadBuffer)
			}
			if serr == nil && cfg.SocketWriteBuffer > 0 {
				serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, cfg.SocketWriteBuffer)
			}
		})
		if err != nil {
			return err
		}
		return serr
	}
}

// tuneConn is a no-op here; socketControl already applied the options.
func tuneConn(*net.UDPConn, Config) error { return nil }

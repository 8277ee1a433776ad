//go:build !unix

// File: transport/sockopt_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"net"
	"syscall"
)

func socketControl(Config) func(network, address string, c syscall.RawConn) error {
	return nil
}

func tuneConn(conn *net.UDPConn, cfg Config) error {
	if cfg.SocketReadBuffer > 0 {
		if err := conn.SetReadBuffer(cfg.SocketReadBuffer); err != nil {
			return err
		}
	}
	if cfg.SocketWriteBuffer > 0 {
		return conn.SetWriteBuffer(cfg.SocketWriteBuffer)
	}
	return nil
}

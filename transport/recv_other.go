//go:build !unix

// File: transport/recv_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Receive fallback for platforms without MSG_DONTWAIT: a read with a
// deadline just past now.

package transport

import (
	"errors"
	"net/netip"
	"os"
	"time"
)

const readWait = 50 * time.Microsecond

func (s *Socket) recvFrom(buf []byte) (int, netip.AddrPort, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(readWait)); err != nil {
		return 0, netip.AddrPort{}, err
	}
	n, from, err := s.conn.ReadFromUDPAddrPort(buf)
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return 0, netip.AddrPort{}, errWouldBlock
	}
	if err != nil {
		return 0, netip.AddrPort{}, err
	}
	return n, unmap(from), nil
}

//go:build unix

// File: transport/recv_unix.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Non-blocking receive straight on the socket descriptor.

package transport

import (
	"net/netip"

	"golang.org/x/sys/unix"
)

// recvFrom reads one datagram without parking on the runtime poller.
func (s *Socket) recvFrom(buf []byte) (int, netip.AddrPort, error) {
	var (
		n    int
		from unix.Sockaddr
		rerr error
	)
	err := s.raw.Read(func(fd uintptr) bool {
		n, from, rerr = unix.Recvfrom(int(fd), buf, unix.MSG_DONTWAIT)
		return true
	})
	if err != nil {
		return 0, netip.AddrPort{}, err
	}
	if rerr != nil {
		if rerr == unix.EAGAIN || rerr == unix.EWOULDBLOCK || rerr == unix.EINTR {
			return 0, netip.AddrPort{}, errWouldBlock
		}
		return 0, netip.AddrPort{}, rerr
	}
	return n, sockaddrToAddrPort(from), nil
}

func sockaddrToAddrPort(sa unix.Sockaddr) netip.AddrPort {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(sa.Addr), uint16(sa.Port))
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(sa.Addr).Unmap(), uint16(sa.Port))
	}
	return netip.AddrPort{}
}

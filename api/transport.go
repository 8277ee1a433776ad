// File: api/transport.go
// Author: momentics <momentics@gmail.com>
//
// Defines the poll-driven transport contract driven by the bridge poll loop.

package api

import (
	"net/netip"
	"time"
)

// Transport is a poll-driven datagram transport. Implementations are not
// required to be safe for concurrent use: exactly one goroutine owns a
// Transport for its whole lifetime.
type Transport interface {
	// Send validates and queues a packet; it leaves the socket on the next ManualPoll.
	Send(p Packet) error

	// ManualPoll flushes queued outbound packets and pulls newly arrived
	// datagrams into the internal event queue. Errors are transient unless
	// the caller's policy decides otherwise.
	ManualPoll(now time.Time) error

	// Recv pops the oldest queued event; ok is false when the queue is empty.
	Recv() (ev SocketEvent, ok bool)

	// LocalAddr returns the bound address.
	LocalAddr() netip.AddrPort

	// Close releases the socket. Further Send calls fail with ErrTransportClosed.
	Close() error
}

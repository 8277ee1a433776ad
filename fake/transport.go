// Package fake
// Author: momentics <momentics@gmail.com>
//
// Fake implementations for testing and development.
// Provides predictable, controllable behavior for the transport contract.

package fake

import (
	"net/netip"
	"sync"
	"time"

	"github.com/momentics/hioload-udp/api"
)

// Ensure compile-time interface compliance.
var _ api.Transport = (*Transport)(nil)

// Transport is a scriptable api.Transport. Events added with AddEvent become
// visible to Recv on the next ManualPoll, the way a socket reports what a
// poll read. All methods are safe for concurrent use.
type Transport struct {
	mu         sync.Mutex
	local      netip.AddrPort
	sent       []api.Packet
	scripted   []api.SocketEvent
	ready      []api.SocketEvent
	polls      int
	closed     bool
	closeCalls int
	sendError  error
	pollError  error
	failPolls  int
	closeError error
	pollPanic  any
}

// NewTransport creates a fake transport reporting local as its bound address.
func NewTransport(local netip.AddrPort) *Transport {
	return &Transport{local: local}
}

// Send implements api.Transport.Send.
func (t *Transport) Send(p api.Packet) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return api.ErrTransportClosed
	}
	if t.sendError != nil {
		return t.sendError
	}
	t.sent = append(t.sent, p)
	return nil
}

// ManualPoll implements api.Transport.ManualPoll.
func (t *Transport) ManualPoll(time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return api.ErrTransportClosed
	}
	t.polls++
	if t.pollPanic != nil {
		panic(t.pollPanic)
	}
	t.ready = append(t.ready, t.scripted...)
	t.scripted = t.scripted[:0]
	if t.failPolls > 0 {
		t.failPolls--
		return t.pollError
	}
	if t.failPolls < 0 {
		return t.pollError
	}
	return nil
}

// Recv implements api.Transport.Recv.
func (t *Transport) Recv() (api.SocketEvent, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.ready) == 0 {
		return api.SocketEvent{}, false
	}
	ev := t.ready[0]
	t.ready = t.ready[1:]
	return ev, true
}

// LocalAddr implements api.Transport.LocalAddr.
func (t *Transport) LocalAddr() netip.AddrPort {
	return t.local
}

// Close implements api.Transport.Close.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closeCalls++
	t.closed = true
	return t.closeError
}

// Stats mirrors the counters a real socket exposes.
func (t *Transport) Stats() map[string]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return map[string]int64{
		"polls":         int64(t.polls),
		"datagrams_out": int64(len(t.sent)),
	}
}

// AddEvent schedules ev for the next poll.
func (t *Transport) AddEvent(ev api.SocketEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scripted = append(t.scripted, ev)
}

// AddPacket schedules an inbound packet event.
func (t *Transport) AddPacket(from netip.AddrPort, payload []byte) {
	p := api.UnreliablePacket(from, payload)
	t.AddEvent(api.SocketEvent{Kind: api.SocketPacket, Addr: from, Packet: p})
}

// SetSendError configures the transport to return an error on Send.
func (t *Transport) SetSendError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sendError = err
}

// FailPolls makes the next n polls return err; n < 0 fails every poll.
func (t *Transport) FailPolls(n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failPolls = n
	t.pollError = err
}

// PanicOnPoll makes every following ManualPoll panic with v.
func (t *Transport) PanicOnPoll(v any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pollPanic = v
}

// SetCloseError configures the transport to return an error on Close.
func (t *Transport) SetCloseError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeError = err
}

// Sent returns every packet accepted by Send, in order.
func (t *Transport) Sent() []api.Packet {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]api.Packet, len(t.sent))
	copy(out, t.sent)
	return out
}

// Polls returns how many times ManualPoll ran on an open transport.
func (t *Transport) Polls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.polls
}

// Closed reports whether Close was called, and how many times.
func (t *Transport) Closed() (bool, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed, t.closeCalls
}

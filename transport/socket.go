// File: transport/socket.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Socket is a poll-driven UDP endpoint with virtual connections. It does no
// I/O on its own: every read, write, resend and timeout happens inside
// ManualPoll, so a single goroutine can own it outright.

package transport

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"syscall"
	"time"

	"github.com/eapache/queue"

	"github.com/momentics/hioload-udp/api"
	"github.com/momentics/hioload-udp/pool"
)

// Ensure compile-time interface compliance.
var _ api.Transport = (*Socket)(nil)

// errWouldBlock signals that no datagram is ready.
var errWouldBlock = errors.New("no datagram ready")

// Socket implements api.Transport over a UDP socket. It is not safe for
// concurrent use.
type Socket struct {
	cfg   Config
	conn  *net.UDPConn
	raw   syscall.RawConn
	local netip.AddrPort

	conns     map[netip.AddrPort]*connection
	outbound  *queue.Queue // api.Packet
	events    *queue.Queue // api.SocketEvent
	fragments *reassembler
	datagrams *pool.BytePool // backing arrays of in-flight reliable datagrams

	recvBuf []byte
	sendBuf []byte
	closed  bool

	stats socketStats
}

type socketStats struct {
	datagramsIn  int64
	datagramsOut int64
	malformed    int64
	oversized    int64
	duplicates   int64
	resends      int64
	heartbeats   int64
	timeouts     int64
}

// Bind opens a socket on address with DefaultConfig.
func Bind(address string) (*Socket, error) {
	return BindWithConfig(address, DefaultConfig())
}

// BindWithConfig resolves address ("host:port"), binds the first candidate
// that accepts and returns the socket. Failures are *api.BindError.
func BindWithConfig(address string, cfg Config) (*Socket, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &api.BindError{Address: address, Err: err}
	}
	conn, err := listen(address, cfg)
	if err != nil {
		return nil, &api.BindError{Address: address, Err: err}
	}
	raw, err := conn.SyscallConn()
	if err != nil {
		conn.Close()
		return nil, &api.BindError{Address: address, Err: err}
	}
	return &Socket{
		cfg:       cfg,
		conn:      conn,
		raw:       raw,
		local:     unmap(conn.LocalAddr().(*net.UDPAddr).AddrPort()),
		conns:     make(map[netip.AddrPort]*connection),
		outbound:  queue.New(),
		events:    queue.New(),
		fragments: newReassembler(cfg),
		datagrams: pool.NewBytePool(cfg.FragmentSize + maxHeaderSize),
		// one spare byte tells a datagram that filled the buffer from one that overflowed it
		recvBuf: make([]byte, cfg.ReceiveBufferMaxSize+1),
		sendBuf: make([]byte, 0, cfg.FragmentSize+maxHeaderSize),
	}, nil
}

// LocalAddr returns the bound address, with the ephemeral port filled in.
func (s *Socket) LocalAddr() netip.AddrPort {
	return s.local
}

// Send validates p and queues it for the next ManualPoll. The payload must
// not be modified until then.
func (s *Socket) Send(p api.Packet) error {
	if s.closed {
		return api.ErrTransportClosed
	}
	if err := p.Validate(); err != nil {
		return err
	}
	if len(p.Payload) > s.cfg.MaxPacketSize {
		return fmt.Errorf("%w: %d bytes exceeds max_packet_size %d", api.ErrPacketTooLarge, len(p.Payload), s.cfg.MaxPacketSize)
	}
	if p.Delivery == api.Unreliable && len(p.Payload) > s.cfg.FragmentSize {
		return fmt.Errorf("%w: unreliable payload of %d bytes exceeds fragment_size %d", api.ErrPacketTooLarge, len(p.Payload), s.cfg.FragmentSize)
	}
	s.outbound.Add(p)
	return nil
}

// Recv pops the oldest pending event.
func (s *Socket) Recv() (api.SocketEvent, bool) {
	if s.events.Length() == 0 {
		return api.SocketEvent{}, false
	}
	return s.events.Remove().(api.SocketEvent), true
}

// ManualPoll reads every ready datagram, flushes queued packets, resends
// unacknowledged ones, sends acks and heartbeats, and expires idle peers.
// The returned error joins whatever went wrong; the socket stays usable.
func (s *Socket) ManualPoll(now time.Time) error {
	if s.closed {
		return api.ErrTransportClosed
	}
	recvErr := s.receive(now)
	sendErr := s.flush(now)
	maintErr := s.maintain(now)
	s.fragments.expire()
	return errors.Join(recvErr, sendErr, maintErr)
}

// Close releases the UDP socket. Idempotent.
func (s *Socket) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}

// ConnectionCount returns the number of live virtual connections.
func (s *Socket) ConnectionCount() int {
	return len(s.conns)
}

// Stats returns counters for observability.
func (s *Socket) Stats() map[string]int64 {
	inFlight, backlog := 0, 0
	for _, c := range s.conns {
		inFlight += c.pending()
		backlog += c.backlog.Length()
	}
	return map[string]int64{
		"connections":      int64(len(s.conns)),
		"datagrams_in":     s.stats.datagramsIn,
		"datagrams_out":    s.stats.datagramsOut,
		"malformed":        s.stats.malformed,
		"oversized":        s.stats.oversized,
		"duplicates":       s.stats.duplicates,
		"resends":          s.stats.resends,
		"heartbeats":       s.stats.heartbeats,
		"timeouts":         s.stats.timeouts,
		"in_flight":        int64(inFlight),
		"backlog":          int64(backlog),
		"fragment_groups":  int64(s.fragments.pending()),
		"queued_outbound":  int64(s.outbound.Length()),
		"queued_events":    int64(s.events.Length()),
		"pooled_datagrams": s.datagrams.Stats().TotalAlloc,
	}
}

func (s *Socket) emit(ev api.SocketEvent) {
	s.events.Add(ev)
}

func (s *Socket) receive(now time.Time) error {
	for i := 0; i < s.cfg.MaxReceivesPerPoll; i++ {
		n, from, err := s.recvFrom(s.recvBuf)
		switch {
		case err == nil && n > s.cfg.ReceiveBufferMaxSize:
			s.stats.datagramsIn++
			s.stats.oversized++
		case err == nil:
			s.stats.datagramsIn++
			s.handleDatagram(s.recvBuf[:n], from, now)
		case errors.Is(err, errWouldBlock):
			return nil
		case errors.Is(err, syscall.ECONNREFUSED):
			// ICMP port unreachable from an earlier send; not fatal.
			continue
		default:
			return fmt.Errorf("receive: %w", err)
		}
	}
	return nil
}

func (s *Socket) handleDatagram(raw []byte, from netip.AddrPort, now time.Time) {
	if !from.IsValid() {
		return
	}
	h, payload, err := decodeHeader(raw)
	if err != nil {
		s.stats.malformed++
		return
	}
	c := s.connectionFor(from, now)
	if !c.connected {
		c.connected = true
		s.emit(api.SocketEvent{Kind: api.SocketConnect, Addr: c.addr})
	}
	c.lastHeard = now
	c.observeEpoch(h.epoch)

	if h.hasAck {
		c.acknowledge(h.ack, h.ackBits, now, &s.cfg, s.datagrams.Put)
	}
	if h.kind == kindAck {
		return
	}
	if h.hasReliability() {
		c.ackPending = true
		if !c.received.record(h.seq) {
			s.stats.duplicates++
			return
		}
	}

	switch h.kind {
	case kindHeartbeat:
		return
	case kindFragment:
		whole, ok := s.fragments.add(c.addr, h, payload)
		if !ok {
			return
		}
		payload = whole
	default:
		payload = bytes.Clone(payload)
	}
	s.deliver(c, h, payload)
}

func (s *Socket) deliver(c *connection, h header, payload []byte) {
	p := api.Packet{
		Addr:     c.addr,
		Payload:  payload,
		Delivery: h.delivery,
		Ordering: h.ordering,
		Stream:   h.stream,
	}
	key := streamKey{delivery: h.delivery, ordering: h.ordering, stream: h.stream}
	switch h.ordering {
	case api.OrderingSequenced:
		if !c.acceptSequenced(key, h.order) {
			return
		}
	case api.OrderingOrdered:
		for _, ready := range c.acceptOrdered(key, h.order, h.floor, p) {
			s.emit(api.SocketEvent{Kind: api.SocketPacket, Addr: c.addr, Packet: ready})
		}
		return
	}
	s.emit(api.SocketEvent{Kind: api.SocketPacket, Addr: c.addr, Packet: p})
}

func (s *Socket) connectionFor(addr netip.AddrPort, now time.Time) *connection {
	addr = unmap(addr)
	c := s.conns[addr]
	if c == nil {
		c = newConnection(addr, now)
		s.conns[addr] = c
	}
	return c
}

func (s *Socket) flush(now time.Time) error {
	var errs []error
	for s.outbound.Length() > 0 {
		p := s.outbound.Remove().(api.Packet)
		if err := s.transmit(p, now); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Socket) transmit(p api.Packet, now time.Time) error {
	c := s.connectionFor(p.Addr, now)
	h := header{kind: kindData, delivery: p.Delivery, ordering: p.Ordering, stream: p.Stream, epoch: c.epoch}
	key := streamKey{delivery: p.Delivery, ordering: p.Ordering, stream: p.Stream}

	if p.Delivery == api.Unreliable {
		if p.Ordering != api.OrderingNone {
			h.order = c.nextOrderIndex(key)
			h.floor = h.order
		}
		s.sendBuf = append(h.appendTo(s.sendBuf[:0]), p.Payload...)
		return s.write(c, s.sendBuf, now)
	}

	chunks := splitPayload(p.Payload, s.cfg.FragmentSize)
	if c.pending()+len(chunks) > s.cfg.MaxPacketsInFlight {
		return fmt.Errorf("%w: %s has %d unacknowledged packets", api.ErrTooManyInFlight, c.addr, c.pending())
	}
	ordered := p.Ordering == api.OrderingOrdered
	switch p.Ordering {
	case api.OrderingOrdered:
		h.order = c.nextOrderIndex(key)
		c.track(key, h.order, len(chunks))
		h.floor = c.floor(key, h.order)
	case api.OrderingSequenced:
		h.order = c.nextOrderIndex(key)
		h.floor = h.order
	}
	if len(chunks) > 1 {
		h.kind = kindFragment
		h.group = c.nextGroup
		h.count = uint8(len(chunks))
		c.nextGroup++
	}

	// seq and ack are filled in by pump when the datagram leaves the backlog
	for i, chunk := range chunks {
		h.index = uint8(i)
		datagram := append(h.appendTo(s.datagrams.Get()), chunk...)
		c.backlog.Add(&sentPacket{datagram: datagram, ordered: ordered, key: key, order: h.order})
	}
	return s.pump(c, now)
}

// pump moves backlogged reliable datagrams into flight while the ack window
// has room. Sequence numbers are assigned here, so at most ackWindowSize+1
// of them are ever unacknowledged and every one stays ackable.
func (s *Socket) pump(c *connection, now time.Time) error {
	var errs []error
	for c.backlog.Length() > 0 && c.windowOpen() {
		sp := c.backlog.Remove().(*sentPacket)
		seq := c.localSeq
		c.localSeq++
		rewriteSeq(sp.datagram, seq)
		if ack, bits, ok := c.received.current(); ok {
			rewriteAck(sp.datagram, ack, bits)
			c.ackPending = false
		}
		sp.sentAt = now
		c.inFlight[seq] = sp
		// a failed write stays in flight and goes out again on resend
		if err := s.write(c, sp.datagram, now); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Socket) write(c *connection, datagram []byte, now time.Time) error {
	if _, err := s.conn.WriteToUDPAddrPort(datagram, c.addr); err != nil {
		return fmt.Errorf("send to %s: %w", c.addr, err)
	}
	s.stats.datagramsOut++
	c.lastSent = now
	return nil
}

// maintain runs the per-connection timers.
func (s *Socket) maintain(now time.Time) error {
	var errs []error
	for addr, c := range s.conns {
		if now.Sub(c.lastHeard) >= s.cfg.IdleConnectionTimeout {
			delete(s.conns, addr)
			c.release(s.datagrams.Put)
			s.stats.timeouts++
			s.emit(api.SocketEvent{Kind: api.SocketTimeout, Addr: addr})
			if c.connected {
				s.emit(api.SocketEvent{Kind: api.SocketDisconnect, Addr: addr})
			}
			continue
		}

		timeout := c.resendTimeout(&s.cfg)
		for _, sp := range c.inFlight {
			if now.Sub(sp.sentAt) < timeout {
				continue
			}
			if ack, bits, ok := c.received.current(); ok {
				rewriteAck(sp.datagram, ack, bits)
				c.ackPending = false
			}
			sp.sentAt = now
			sp.resent = true
			s.stats.resends++
			if err := s.write(c, sp.datagram, now); err != nil {
				errs = append(errs, err)
			}
		}

		// acks that arrived this poll may have opened the window
		if err := s.pump(c, now); err != nil {
			errs = append(errs, err)
		}

		if c.ackPending {
			h := header{kind: kindAck, epoch: c.epoch, hasAck: true}
			h.ack, h.ackBits, _ = c.received.current()
			s.sendBuf = h.appendTo(s.sendBuf[:0])
			c.ackPending = false
			if err := s.write(c, s.sendBuf, now); err != nil {
				errs = append(errs, err)
			}
		}

		if s.cfg.HeartbeatInterval > 0 && c.connected && now.Sub(c.lastSent) >= s.cfg.HeartbeatInterval {
			h := header{kind: kindHeartbeat, epoch: c.epoch}
			s.sendBuf = h.appendTo(s.sendBuf[:0])
			s.stats.heartbeats++
			if err := s.write(c, s.sendBuf, now); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// unmap keys IPv4 peers the same way whether they came through a v4 or a
// dual-stack socket.
func unmap(ap netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}

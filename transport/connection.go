// File: transport/connection.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-peer virtual connection: liveness timestamps, reliable send state,
// and the receive-side ordering/sequencing streams.

package transport

import (
	"math/rand/v2"
	"net/netip"
	"time"

	"github.com/eapache/queue"

	"github.com/momentics/hioload-udp/api"
)

// initialRTT seeds the resend timer before the first ack arrives.
const initialRTT = 50 * time.Millisecond

type streamKey struct {
	delivery api.DeliveryGuarantee
	ordering api.OrderingGuarantee
	stream   uint8
}

type sentPacket struct {
	datagram []byte
	sentAt   time.Time
	resent   bool

	// ordered chunks count against their stream's floor until acknowledged
	ordered bool
	key     streamKey
	order   uint16
}

type orderedStream struct {
	expected uint16
	pending  map[uint16]api.Packet
}

type sequencedStream struct {
	started bool
	latest  uint16
}

type connection struct {
	addr      netip.AddrPort
	connected bool // a datagram from the peer has arrived and Connect was emitted
	createdAt time.Time
	lastHeard time.Time
	lastSent  time.Time

	epoch     uint16 // stamped on everything we send to this peer
	peerEpoch uint16
	peerKnown bool

	localSeq   uint16
	received   ackWindow
	inFlight   map[uint16]*sentPacket
	backlog    *queue.Queue // *sentPacket waiting for room in the ack window
	ackPending bool
	rtt        time.Duration

	nextIndex map[streamKey]uint16
	unacked   map[streamKey]map[uint16]int // ordered index -> chunks not yet acknowledged
	ordered   map[streamKey]*orderedStream
	sequenced map[streamKey]*sequencedStream
	nextGroup uint16
}

func newConnection(addr netip.AddrPort, now time.Time) *connection {
	return &connection{
		addr:      addr,
		createdAt: now,
		lastHeard: now,
		lastSent:  now,
		epoch:     uint16(rand.Uint32()),
		inFlight:  make(map[uint16]*sentPacket),
		backlog:   queue.New(),
		rtt:       initialRTT,
		nextIndex: make(map[streamKey]uint16),
		unacked:   make(map[streamKey]map[uint16]int),
		ordered:   make(map[streamKey]*orderedStream),
		sequenced: make(map[streamKey]*sequencedStream),
	}
}

// nextOrderIndex hands out the per-stream index stamped on ordered/sequenced packets.
func (c *connection) nextOrderIndex(key streamKey) uint16 {
	idx := c.nextIndex[key]
	c.nextIndex[key] = idx + 1
	return idx
}

// observeEpoch drops receive-side state when the peer comes back as a new
// incarnation: its sequence numbers, stream indices and fragment groups
// start over.
func (c *connection) observeEpoch(epoch uint16) {
	if c.peerKnown && c.peerEpoch != epoch {
		c.received = ackWindow{}
		c.ackPending = false
		clear(c.ordered)
		clear(c.sequenced)
	}
	c.peerEpoch = epoch
	c.peerKnown = true
}

// windowOpen reports whether the next sequence number can go out while the
// oldest unacknowledged one still fits the peer's ack field.
func (c *connection) windowOpen() bool {
	if len(c.inFlight) == 0 {
		return true
	}
	oldest := c.localSeq
	for seq := range c.inFlight {
		if seqGreater(oldest, seq) {
			oldest = seq
		}
	}
	return c.localSeq-oldest <= ackWindowSize
}

// pending is the number of reliable datagrams not yet acknowledged.
func (c *connection) pending() int {
	return len(c.inFlight) + c.backlog.Length()
}

// track registers chunks of ordered index idx as unacknowledged.
func (c *connection) track(key streamKey, idx uint16, chunks int) {
	m := c.unacked[key]
	if m == nil {
		m = make(map[uint16]int)
		c.unacked[key] = m
	}
	m[idx] += chunks
}

func (c *connection) untrack(sp *sentPacket) {
	if !sp.ordered {
		return
	}
	m := c.unacked[sp.key]
	if m[sp.order]--; m[sp.order] <= 0 {
		delete(m, sp.order)
	}
}

// floor is the lowest index on key the receiver may still be missing.
// Everything before it was acknowledged.
func (c *connection) floor(key streamKey, idx uint16) uint16 {
	floor := idx
	for pending := range c.unacked[key] {
		if seqGreater(floor, pending) {
			floor = pending
		}
	}
	return floor
}

// release hands every unacknowledged datagram to free.
func (c *connection) release(free func([]byte)) {
	for seq, sp := range c.inFlight {
		delete(c.inFlight, seq)
		free(sp.datagram)
	}
	for c.backlog.Length() > 0 {
		free(c.backlog.Remove().(*sentPacket).datagram)
	}
}

// acknowledge retires in-flight packets covered by an ack field, hands their
// datagrams to free and folds first-transmission round trips into the RTT
// estimate.
func (c *connection) acknowledge(ack uint16, bits uint32, now time.Time, cfg *Config, free func([]byte)) {
	if len(c.inFlight) == 0 {
		return
	}
	acked(ack, bits, func(seq uint16) {
		sp, ok := c.inFlight[seq]
		if !ok {
			return
		}
		delete(c.inFlight, seq)
		c.untrack(sp)
		free(sp.datagram)
		if sp.resent {
			return
		}
		sample := now.Sub(sp.sentAt)
		c.rtt += time.Duration(cfg.RTTSmoothingFactor * float64(sample-c.rtt))
	})
}

// resendTimeout is twice the smoothed RTT, clamped to the configured bounds.
func (c *connection) resendTimeout(cfg *Config) time.Duration {
	d := 2 * c.rtt
	if d < cfg.MinResendTimeout {
		return cfg.MinResendTimeout
	}
	if d > cfg.RTTMaxValue {
		return cfg.RTTMaxValue
	}
	return d
}

// acceptSequenced reports whether index is newer than anything seen on the stream.
func (c *connection) acceptSequenced(key streamKey, index uint16) bool {
	s := c.sequenced[key]
	if s == nil {
		s = &sequencedStream{}
		c.sequenced[key] = s
	}
	if s.started && !seqGreater(index, s.latest) {
		return false
	}
	s.started = true
	s.latest = index
	return true
}

// acceptOrdered returns the packets that became deliverable, in stream order.
// floor is the sender's lowest unacknowledged index: a new stream starts
// there and a stream behind it skips ahead, releasing what it buffered.
func (c *connection) acceptOrdered(key streamKey, index, floor uint16, p api.Packet) []api.Packet {
	s := c.ordered[key]
	if s == nil {
		s = &orderedStream{expected: floor, pending: make(map[uint16]api.Packet)}
		c.ordered[key] = s
	}
	var ready []api.Packet
	for seqGreater(floor, s.expected) {
		if held, ok := s.pending[s.expected]; ok {
			delete(s.pending, s.expected)
			ready = append(ready, held)
		}
		s.expected++
	}
	if !seqGreater(s.expected, index) {
		s.pending[index] = p
	}
	for {
		next, ok := s.pending[s.expected]
		if !ok {
			return ready
		}
		delete(s.pending, s.expected)
		ready = append(ready, next)
		s.expected++
	}
}

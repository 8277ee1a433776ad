// File: transport/header.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Datagram header codec. All multi-byte fields are big-endian.
//
//	0      4    5     6      8            16                 21             25
//	| id   |kind|flags|epoch | seq ack bits | stream idx floor | group idx cnt |
//	                         (reliable/ack)   (ordered/seq)      (fragment)
//
// flags: delivery<<4 | ack-valid<<3 | ordering (two bits); bit 2 is reserved.

package transport

import (
	"encoding/binary"
	"fmt"

	"github.com/momentics/hioload-udp/api"
)

// protocolID guards against datagrams from other software on the same port.
const protocolID uint32 = 0x68756402

const (
	baseHeaderSize     = 8
	reliableHeaderSize = 8
	orderingHeaderSize = 5
	fragmentHeaderSize = 4
	maxHeaderSize      = baseHeaderSize + reliableHeaderSize + orderingHeaderSize + fragmentHeaderSize

	// offsets of the fields rewritten when a queued or resent datagram goes out
	seqOffset = baseHeaderSize
	ackOffset = baseHeaderSize + 2

	flagsOffset  = 5
	flagAckValid = 0x08
	flagReserved = 0x04
	orderingMask = 0x03
)

type packetKind uint8

const (
	kindData packetKind = iota + 1
	kindFragment
	kindHeartbeat
	kindAck
)

type header struct {
	kind     packetKind
	delivery api.DeliveryGuarantee
	ordering api.OrderingGuarantee
	epoch    uint16 // sender's connection incarnation

	// hasAck is false until the sender has received a reliable packet from us
	hasAck  bool
	seq     uint16
	ack     uint16
	ackBits uint32

	stream uint8
	order  uint16
	floor  uint16 // lowest index on the stream the sender still waits on an ack for

	group uint16
	index uint8
	count uint8
}

func (h *header) carriesPayload() bool {
	return h.kind == kindData || h.kind == kindFragment
}

func (h *header) hasReliability() bool {
	return h.kind == kindAck || (h.carriesPayload() && h.delivery == api.Reliable)
}

func (h *header) hasOrdering() bool {
	return h.carriesPayload() && h.ordering != api.OrderingNone
}

func (h *header) size() int {
	n := baseHeaderSize
	if h.hasReliability() {
		n += reliableHeaderSize
	}
	if h.hasOrdering() {
		n += orderingHeaderSize
	}
	if h.kind == kindFragment {
		n += fragmentHeaderSize
	}
	return n
}

// appendTo encodes h at the end of b.
func (h *header) appendTo(b []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, protocolID)
	flags := byte(h.delivery)<<4 | byte(h.ordering)
	if h.hasAck && h.hasReliability() {
		flags |= flagAckValid
	}
	b = append(b, byte(h.kind), flags)
	b = binary.BigEndian.AppendUint16(b, h.epoch)
	if h.hasReliability() {
		b = binary.BigEndian.AppendUint16(b, h.seq)
		b = binary.BigEndian.AppendUint16(b, h.ack)
		b = binary.BigEndian.AppendUint32(b, h.ackBits)
	}
	if h.hasOrdering() {
		b = append(b, h.stream)
		b = binary.BigEndian.AppendUint16(b, h.order)
		b = binary.BigEndian.AppendUint16(b, h.floor)
	}
	if h.kind == kindFragment {
		b = binary.BigEndian.AppendUint16(b, h.group)
		b = append(b, h.index, h.count)
	}
	return b
}

// decodeHeader parses raw and returns the header plus the payload slice,
// which aliases raw.
func decodeHeader(raw []byte) (header, []byte, error) {
	var h header
	if len(raw) < baseHeaderSize {
		return h, nil, fmt.Errorf("%w: %d bytes is shorter than a header", api.ErrMalformedDatagram, len(raw))
	}
	if id := binary.BigEndian.Uint32(raw); id != protocolID {
		return h, nil, fmt.Errorf("%w: protocol id %#x", api.ErrMalformedDatagram, id)
	}
	flags := raw[flagsOffset]
	h.kind = packetKind(raw[4])
	h.delivery = api.DeliveryGuarantee(flags >> 4)
	h.ordering = api.OrderingGuarantee(flags & orderingMask)
	h.hasAck = flags&flagAckValid != 0
	h.epoch = binary.BigEndian.Uint16(raw[6:])
	switch h.kind {
	case kindData, kindFragment, kindHeartbeat, kindAck:
	default:
		return h, nil, fmt.Errorf("%w: unknown kind %d", api.ErrMalformedDatagram, raw[4])
	}
	if h.delivery > api.Reliable || h.ordering > api.OrderingOrdered || flags&flagReserved != 0 {
		return h, nil, fmt.Errorf("%w: bad flags %#x", api.ErrMalformedDatagram, flags)
	}
	if h.hasAck && !h.hasReliability() {
		return h, nil, fmt.Errorf("%w: ack flag on %s without reliability block", api.ErrMalformedDatagram, h.kind)
	}
	if h.kind == kindAck && !h.hasAck {
		return h, nil, fmt.Errorf("%w: ack packet without ack", api.ErrMalformedDatagram)
	}
	if h.kind == kindFragment && h.delivery != api.Reliable {
		return h, nil, fmt.Errorf("%w: unreliable fragment", api.ErrMalformedDatagram)
	}
	if len(raw) < h.size() {
		return h, nil, fmt.Errorf("%w: truncated %s header", api.ErrMalformedDatagram, h.kind)
	}

	off := baseHeaderSize
	if h.hasReliability() {
		h.seq = binary.BigEndian.Uint16(raw[off:])
		h.ack = binary.BigEndian.Uint16(raw[off+2:])
		h.ackBits = binary.BigEndian.Uint32(raw[off+4:])
		off += reliableHeaderSize
	}
	if h.hasOrdering() {
		h.stream = raw[off]
		h.order = binary.BigEndian.Uint16(raw[off+1:])
		h.floor = binary.BigEndian.Uint16(raw[off+3:])
		off += orderingHeaderSize
	}
	if h.kind == kindFragment {
		h.group = binary.BigEndian.Uint16(raw[off:])
		h.index = raw[off+2]
		h.count = raw[off+3]
		off += fragmentHeaderSize
		if h.count == 0 || h.index >= h.count {
			return h, nil, fmt.Errorf("%w: fragment %d of %d", api.ErrMalformedDatagram, h.index, h.count)
		}
	}
	return h, raw[off:], nil
}

// rewriteSeq assigns the sequence number of an encoded reliable datagram.
func rewriteSeq(datagram []byte, seq uint16) {
	binary.BigEndian.PutUint16(datagram[seqOffset:], seq)
}

// rewriteAck refreshes the piggybacked acknowledgement of an encoded
// reliable datagram and marks it valid.
func rewriteAck(datagram []byte, ack uint16, ackBits uint32) {
	datagram[flagsOffset] |= flagAckValid
	binary.BigEndian.PutUint16(datagram[ackOffset:], ack)
	binary.BigEndian.PutUint32(datagram[ackOffset+2:], ackBits)
}

func (k packetKind) String() string {
	switch k {
	case kindData:
		return "data"
	case kindFragment:
		return "fragment"
	case kindHeartbeat:
		return "heartbeat"
	case kindAck:
		return "ack"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// File: api/packet.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Outbound/inbound packet shape shared by the bridge and transports.

package api

import (
	"fmt"
	"net/netip"
)

// DeliveryGuarantee tells the transport whether a packet must be acknowledged.
type DeliveryGuarantee uint8

const (
	Unreliable DeliveryGuarantee = iota
	Reliable
)

func (d DeliveryGuarantee) String() string {
	switch d {
	case Unreliable:
		return "unreliable"
	case Reliable:
		return "reliable"
	default:
		return fmt.Sprintf("delivery(%d)", uint8(d))
	}
}

// OrderingGuarantee tells the transport how packets on one stream relate.
type OrderingGuarantee uint8

const (
	// OrderingNone delivers packets as they arrive.
	OrderingNone OrderingGuarantee = iota
	// OrderingSequenced drops packets older than the newest one seen on the stream.
	OrderingSequenced
	// OrderingOrdered holds packets back until every earlier one on the stream arrived.
	OrderingOrdered
)

func (o OrderingGuarantee) String() string {
	switch o {
	case OrderingNone:
		return "none"
	case OrderingSequenced:
		return "sequenced"
	case OrderingOrdered:
		return "ordered"
	default:
		return fmt.Sprintf("ordering(%d)", uint8(o))
	}
}

// Packet is a datagram payload plus its peer address and delivery tags.
// For outbound packets Addr is the destination, for inbound ones the source.
type Packet struct {
	Addr     netip.AddrPort
	Payload  []byte
	Delivery DeliveryGuarantee
	Ordering OrderingGuarantee
	Stream   uint8
}

// UnreliablePacket builds a fire-and-forget packet.
func UnreliablePacket(addr netip.AddrPort, payload []byte) Packet {
	return Packet{Addr: addr, Payload: payload, Delivery: Unreliable}
}

// UnreliableSequenced builds an unacknowledged packet whose stale copies are dropped.
func UnreliableSequenced(addr netip.AddrPort, payload []byte, stream uint8) Packet {
	return Packet{Addr: addr, Payload: payload, Delivery: Unreliable, Ordering: OrderingSequenced, Stream: stream}
}

// ReliableUnordered builds an acknowledged packet delivered in arrival order.
func ReliableUnordered(addr netip.AddrPort, payload []byte) Packet {
	return Packet{Addr: addr, Payload: payload, Delivery: Reliable}
}

// ReliableOrdered builds an acknowledged packet delivered in send order on its stream.
func ReliableOrdered(addr netip.AddrPort, payload []byte, stream uint8) Packet {
	return Packet{Addr: addr, Payload: payload, Delivery: Reliable, Ordering: OrderingOrdered, Stream: stream}
}

// ReliableSequenced builds an acknowledged packet whose stale copies are dropped.
func ReliableSequenced(addr netip.AddrPort, payload []byte, stream uint8) Packet {
	return Packet{Addr: addr, Payload: payload, Delivery: Reliable, Ordering: OrderingSequenced, Stream: stream}
}

// Validate checks the tag combination and destination.
func (p Packet) Validate() error {
	if !p.Addr.IsValid() {
		return fmt.Errorf("%w: missing destination address", ErrInvalidPacket)
	}
	if p.Delivery > Reliable {
		return fmt.Errorf("%w: unknown delivery %s", ErrInvalidPacket, p.Delivery)
	}
	if p.Ordering > OrderingOrdered {
		return fmt.Errorf("%w: unknown ordering %s", ErrInvalidPacket, p.Ordering)
	}
	if p.Delivery == Unreliable && p.Ordering == OrderingOrdered {
		return fmt.Errorf("%w: ordered delivery requires a reliable packet", ErrInvalidPacket)
	}
	return nil
}

// File: api/events.go
// Package api defines core event types for hioload-udp.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

import (
	"fmt"
	"net/netip"
)

// SocketEventKind enumerates what a transport reports from its poll.
type SocketEventKind uint8

const (
	SocketPacket SocketEventKind = iota
	SocketConnect
	SocketTimeout
	SocketDisconnect
)

func (k SocketEventKind) String() string {
	switch k {
	case SocketPacket:
		return "packet"
	case SocketConnect:
		return "connect"
	case SocketTimeout:
		return "timeout"
	case SocketDisconnect:
		return "disconnect"
	default:
		return fmt.Sprintf("socket_event(%d)", uint8(k))
	}
}

// SocketEvent is produced by a Transport and drained by the poll loop.
// Packet is only meaningful for SocketPacket.
type SocketEvent struct {
	Kind   SocketEventKind
	Addr   netip.AddrPort
	Packet Packet
}

// EventKind enumerates the events an application sees from the bridge.
type EventKind uint8

const (
	EventMessage EventKind = iota
	EventConnect
	EventTimeout
	EventDisconnect
)

func (k EventKind) String() string {
	switch k {
	case EventMessage:
		return "message"
	case EventConnect:
		return "connect"
	case EventTimeout:
		return "timeout"
	case EventDisconnect:
		return "disconnect"
	default:
		return fmt.Sprintf("event(%d)", uint8(k))
	}
}

// NetworkEvent is what the frame loop consumes, one per Bridge.PollEvent call.
// Addr is the peer for every kind; Packet carries the payload of a Message.
type NetworkEvent struct {
	Kind   EventKind
	Addr   netip.AddrPort
	Packet Packet
}

// Payload returns the message bytes, nil for connection-state events.
func (e NetworkEvent) Payload() []byte {
	if e.Kind != EventMessage {
		return nil
	}
	return e.Packet.Payload
}

func (e NetworkEvent) String() string {
	if e.Kind == EventMessage {
		return fmt.Sprintf("%s(%s, %d bytes)", e.Kind, e.Addr, len(e.Packet.Payload))
	}
	return fmt.Sprintf("%s(%s)", e.Kind, e.Addr)
}

// NormalizeEvent maps a transport event onto the application event surface.
// The mapping is one to one; nothing is coalesced.
func NormalizeEvent(ev SocketEvent) NetworkEvent {
	switch ev.Kind {
	case SocketPacket:
		return NetworkEvent{Kind: EventMessage, Addr: ev.Packet.Addr, Packet: ev.Packet}
	case SocketConnect:
		return NetworkEvent{Kind: EventConnect, Addr: ev.Addr}
	case SocketTimeout:
		return NetworkEvent{Kind: EventTimeout, Addr: ev.Addr}
	default:
		return NetworkEvent{Kind: EventDisconnect, Addr: ev.Addr}
	}
}

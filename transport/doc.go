// Package transport
// Author: momentics <momentics@gmail.com>
//
// Poll-driven UDP socket with lightweight virtual connections.
//
// A Socket never spawns goroutines. The owner calls ManualPoll periodically;
// each call reads ready datagrams, flushes packets queued by Send, resends
// unacknowledged reliable packets and expires silent peers. Events are
// collected with Recv.
//
// Delivery options per packet:
//   - unreliable, optionally sequenced per stream
//   - reliable, unordered, sequenced or ordered per stream
//
// Reliable payloads larger than Config.FragmentSize are fragmented and
// reassembled transparently.
package transport

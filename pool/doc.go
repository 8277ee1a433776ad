// Package pool
// Author: momentics <momentics@gmail.com>
//
// Buffer recycling for the transport layer.
// Reliable datagrams live until acknowledged; their backing arrays are
// handed back here instead of being left to the garbage collector.
package pool

// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics for the bridge and its transport.
//
// The bridge publishes its own counters (packets enqueued and sent, events
// received, poll failures) and periodically mirrors transport statistics
// under the "transport." prefix. Snapshots are safe to take from any
// goroutine.
package control

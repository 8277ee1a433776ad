// File: internal/concurrency/mailbox.go
// Package concurrency provides cross-goroutine handoff primitives.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Mailbox is an unbounded FIFO channel between goroutines. Producers never
// block and never lose items; the consumer polls without blocking and learns
// about disconnection only after every queued item has been taken.

package concurrency

import (
	"sync"

	"github.com/eapache/queue"
)

// RecvStatus is the outcome of a non-blocking receive.
type RecvStatus uint8

const (
	// Received means an item was returned.
	Received RecvStatus = iota
	// Empty means nothing is queued but producers may still push.
	Empty
	// Disconnected means the mailbox was closed and fully drained.
	Disconnected
)

// Mailbox is safe for any number of producers and consumers, though the
// library uses it with a single consumer.
type Mailbox[T any] struct {
	mu     sync.Mutex
	items  *queue.Queue
	closed bool
}

// NewMailbox returns an open, empty mailbox.
func NewMailbox[T any]() *Mailbox[T] {
	return &Mailbox[T]{items: queue.New()}
}

// Push appends v. It returns false, leaving v undelivered, once the mailbox is closed.
func (m *Mailbox[T]) Push(v T) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.items.Add(v)
	return true
}

// TryRecv pops the oldest item without blocking.
func (m *Mailbox[T]) TryRecv() (T, RecvStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var zero T
	if m.items.Length() == 0 {
		if m.closed {
			return zero, Disconnected
		}
		return zero, Empty
	}
	return m.items.Remove().(T), Received
}

// Close stops further pushes. Queued items stay receivable. Idempotent.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}

// Closed reports whether Close has been called.
func (m *Mailbox[T]) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Len returns the number of queued items.
func (m *Mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items.Length()
}

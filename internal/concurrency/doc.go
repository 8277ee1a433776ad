// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Handoff primitives used between the frame-loop goroutine and the
// transport poll goroutine: an unbounded FIFO Mailbox with close/drain
// semantics and a write-once Flag for cooperative shutdown.
package concurrency

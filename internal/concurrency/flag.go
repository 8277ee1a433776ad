// File: internal/concurrency/flag.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Write-once boolean shared between a releasing owner and a polling worker.

package concurrency

import "sync/atomic"

// Flag starts false and can only ever become true.
type Flag struct {
	set atomic.Bool
}

// Set raises the flag. It reports whether this call was the one that raised it.
func (f *Flag) Set() bool {
	return f.set.CompareAndSwap(false, true)
}

// IsSet reports whether the flag has been raised.
func (f *Flag) IsSet() bool {
	return f.set.Load()
}

// File: pool/bytepool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Fixed size-class byte slices for datagram encoding.

package pool

import "sync/atomic"

// BytePool hands out empty slices with a fixed capacity. Safe for
// concurrent use.
type BytePool struct {
	size  int
	slabs *SyncPool[*[]byte]

	totalAlloc atomic.Int64
	totalGet   atomic.Int64
	totalPut   atomic.Int64
}

// Stats are cumulative counters; InUse is Gets minus Puts.
type Stats struct {
	TotalAlloc int64
	InUse      int64
}

// NewBytePool returns a pool of slices with capacity size.
func NewBytePool(size int) *BytePool {
	b := &BytePool{size: size}
	b.slabs = NewSyncPool(func() *[]byte {
		b.totalAlloc.Add(1)
		buf := make([]byte, 0, size)
		return &buf
	})
	return b
}

// Size is the capacity of every slice handed out.
func (b *BytePool) Size() int {
	return b.size
}

// Get returns a zero-length slice with capacity Size.
func (b *BytePool) Get() []byte {
	b.totalGet.Add(1)
	return (*b.slabs.Get())[:0]
}

// Put recycles buf. Slices that grew past or shrank below the size class
// are dropped.
func (b *BytePool) Put(buf []byte) {
	b.totalPut.Add(1)
	if cap(buf) != b.size {
		return
	}
	buf = buf[:0]
	b.slabs.Put(&buf)
}

// Stats returns a snapshot of the pool counters.
func (b *BytePool) Stats() Stats {
	return Stats{
		TotalAlloc: b.totalAlloc.Load(),
		InUse:      b.totalGet.Load() - b.totalPut.Load(),
	}
}

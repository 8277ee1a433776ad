// File: transport/sequence.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Wrapping 16-bit sequence arithmetic and the receive-side ack window.

package transport

// ackWindowSize is the number of sequence numbers acknowledged by one ack field.
const ackWindowSize = 32

// seqGreater reports whether a is newer than b, tolerating wraparound.
func seqGreater(a, b uint16) bool {
	return (a > b && a-b <= 1<<15) || (a < b && b-a > 1<<15)
}

// ackWindow remembers which reliable sequence numbers arrived recently.
// Bit i of bits stands for latest-1-i.
type ackWindow struct {
	started bool
	latest  uint16
	bits    uint32
}

// record marks seq as received and reports whether it was new.
// Sequence numbers older than the window are treated as duplicates.
func (w *ackWindow) record(seq uint16) bool {
	if !w.started {
		w.started = true
		w.latest = seq
		w.bits = 0
		return true
	}
	if seqGreater(seq, w.latest) {
		shift := seq - w.latest
		if shift > ackWindowSize {
			w.bits = 0
		} else {
			// the old latest becomes bit shift-1
			w.bits = w.bits<<shift | 1<<(shift-1)
		}
		w.latest = seq
		return true
	}
	diff := w.latest - seq
	if diff == 0 || diff > ackWindowSize {
		return false
	}
	mask := uint32(1) << (diff - 1)
	if w.bits&mask != 0 {
		return false
	}
	w.bits |= mask
	return true
}

// current returns the ack fields to piggyback on the next reliable datagram.
// ok is false until the first reliable sequence number was recorded.
func (w *ackWindow) current() (ack uint16, bits uint32, ok bool) {
	return w.latest, w.bits, w.started
}

// acked lists every sequence number covered by an incoming ack field.
func acked(ack uint16, bits uint32, fn func(seq uint16)) {
	fn(ack)
	for i := uint16(0); i < ackWindowSize; i++ {
		if bits&(1<<i) != 0 {
			fn(ack - 1 - i)
		}
	}
}

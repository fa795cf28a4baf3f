package phx

import (
	"strconv"
	"sync/atomic"
)

// atomicRef is a monotonically increasing uint64 counter shared by the
// socket (wire refs) and each channel (binding refs). Unsigned overflow
// wraps to 0 for free, matching the "wraps to 0 at max" invariant.
type atomicRef struct {
	counter uint64
}

// next returns the next value in the sequence.
func (r *atomicRef) next() uint64 {
	return atomic.AddUint64(&r.counter, 1)
}

// nextString returns the next value in the sequence as a decimal
// string, the wire representation of a ref.
func (r *atomicRef) nextString() string {
	return strconv.FormatUint(r.next(), 10)
}

// Package ring implements the lock-free fault-record ring described in
// spec.md §4.3: multiple OS threads may publish concurrently (one per
// faulting thread), a single worker goroutine consumes.
//
// The slot-claim/ready-flag split below follows the same "claim a slot with
// an atomic CAS, then mark it ready" shape used for the single-writer
// commit protocol in the slotcache pack example
// (calvinalkan-agent-task/pkg/slotcache/writer_impl.go uses a published
// generation counter for the same reason: readers must never observe a
// half-written slot).
package ring

import (
	"sync/atomic"

	"github.com/memwatch-dev/memwatch/internal/pagefault"
)

// Ring is a fixed-capacity multi-producer/single-consumer ring buffer of
// pagefault.PageFault records.
type Ring struct {
	mask    uint64
	buf     []pagefault.PageFault
	ready   []atomic.Bool
	head    atomic.Uint64 // next slot index to be claimed by a producer
	tail    atomic.Uint64 // next slot index the consumer will read
	seq     atomic.Uint64 // global monotonic sequence assigned at publish time
	dropped atomic.Uint64
}

// New creates a ring with the given capacity, rounded up to the next power
// of two as required by spec.md §4.3 ("power of two so the worker may use
// masking").
func New(capacity int) *Ring {
	c := nextPowerOfTwo(capacity)
	return &Ring{
		mask:  uint64(c - 1),
		buf:   make([]pagefault.PageFault, c),
		ready: make([]atomic.Bool, c),
	}
}

func nextPowerOfTwo(n int) int {
	if n < 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// Push publishes a fault record. It never blocks and never allocates: on a
// full ring it increments the dropped-events counter and returns false,
// matching spec.md §4.3's "events may be lost under sustained overload but
// the program never stalls or crashes."
func (r *Ring) Push(pf pagefault.PageFault) bool {
	for {
		head := r.head.Load()
		tail := r.tail.Load()

		if head-tail >= uint64(len(r.buf)) {
			r.dropped.Add(1)
			return false
		}

		if r.head.CompareAndSwap(head, head+1) {
			idx := head & r.mask
			pf.Seq = r.seq.Add(1)
			r.buf[idx] = pf
			r.ready[idx].Store(true)
			return true
		}
	}
}

// Pop dequeues the next published record, if any. It is only safe to call
// from a single consumer goroutine.
func (r *Ring) Pop() (pagefault.PageFault, bool) {
	tail := r.tail.Load()
	if tail == r.head.Load() {
		return pagefault.PageFault{}, false
	}

	idx := tail & r.mask
	if !r.ready[idx].Load() {
		// Slot claimed by a producer but not yet published; the consumer
		// will see it on its next pass.
		return pagefault.PageFault{}, false
	}

	pf := r.buf[idx]
	r.ready[idx].Store(false)
	r.tail.Store(tail + 1)

	return pf, true
}

// Dropped returns the number of fault records lost to ring overflow.
func (r *Ring) Dropped() uint64 {
	return r.dropped.Load()
}

// Capacity returns the ring's fixed slot count.
func (r *Ring) Capacity() int {
	return len(r.buf)
}

// Depth returns the number of currently published-but-undrained records.
func (r *Ring) Depth() int {
	head := r.head.Load()
	tail := r.tail.Load()
	if head < tail {
		return 0
	}
	return int(head - tail)
}

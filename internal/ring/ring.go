// Package ring implements the bounded lock-free MPMC slot ring that
// carries the runtime's cross-thread hand-offs: async calls
// (internal/rcontext), remote frees (internal/cache), and the
// flat-combining delegator (internal/combiner) are all built on it.
//
// The algorithm is the classic Vyukov bounded MPMC queue: a circular
// array of N slots (N a power of two), each slot carries its own
// sequence number so producers and consumers can race on disjoint
// slots without a central lock. Slot i starts with sequence i; a
// producer claims slot (tail mod N) once its sequence equals tail,
// writes the payload, then publishes by bumping the sequence to
// tail+1. A consumer mirrors this on (head mod N) waiting for
// sequence == head+1.
package ring

import "sync/atomic"

// AsyncCallSlotWords is the payload width of an async-call ring slot: a
// function pointer plus up to 6 arguments (§4.2).
const AsyncCallSlotWords = 7

// AsyncCall is the payload type used by internal/rcontext's per-context
// ring: a deferred invocation with its arguments packed inline so the
// ring never allocates on the hot path.
type AsyncCall struct {
	Fn   func(args [AsyncCallSlotWords - 1]uintptr)
	Args [AsyncCallSlotWords - 1]uintptr
}

type slot[T any] struct {
	seq  atomic.Uint64
	data T
}

// Ring is a bounded MPMC ring buffer generic over its payload type.
// Capacity must be a power of two; NewRing rounds up if it is not.
type Ring[T any] struct {
	mask  uint64
	slots []slot[T]

	// tail/head advance independently; both are contended only across
	// producers (tail) or consumers (head) respectively, never with
	// each other.
	tail atomic.Uint64
	head atomic.Uint64
}

// NewRing allocates a ring with at least the given capacity, rounded up
// to the next power of two.
func NewRing[T any](capacity int) *Ring[T] {
	n := nextPowerOfTwo(capacity)
	r := &Ring[T]{
		mask:  uint64(n - 1),
		slots: make([]slot[T], n),
	}
	for i := range r.slots {
		r.slots[i].seq.Store(uint64(i))
	}
	return r
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

// Capacity returns the number of slots in the ring.
func (r *Ring[T]) Capacity() int {
	return len(r.slots)
}

// TryEnqueue attempts to publish data into the next free slot without
// blocking. Returns false if the ring is full.
func (r *Ring[T]) TryEnqueue(data T) bool {
	for {
		tail := r.tail.Load()
		s := &r.slots[tail&r.mask]
		seq := s.seq.Load()

		diff := int64(seq) - int64(tail)
		switch {
		case diff == 0:
			if r.tail.CompareAndSwap(tail, tail+1) {
				s.data = data
				s.seq.Store(tail + 1)
				return true
			}
			// lost the race for this slot, retry
		case diff < 0:
			// slot still owned by a consumer that hasn't caught up; full
			return false
		default:
			// another producer has already advanced tail past our read; retry
		}
	}
}

// TryDequeue attempts to claim and consume the oldest published slot.
// Returns false if the ring is empty.
func (r *Ring[T]) TryDequeue() (data T, ok bool) {
	for {
		head := r.head.Load()
		s := &r.slots[head&r.mask]
		seq := s.seq.Load()

		diff := int64(seq) - int64(head+1)
		switch {
		case diff == 0:
			if r.head.CompareAndSwap(head, head+1) {
				data = s.data
				var zero T
				s.data = zero // drop the reference so it can be GC'd
				s.seq.Store(head + r.mask + 1)
				return data, true
			}
		case diff < 0:
			return data, false
		default:
			// another consumer already advanced head past our read; retry
		}
	}
}

// TryDequeueN drains up to len(out) published slots into out, returning
// the number dequeued. Used by the cache's remote-free queue to drain
// a batch of freed pointers.
func (r *Ring[T]) TryDequeueN(out []T) int {
	n := 0
	for n < len(out) {
		data, ok := r.TryDequeue()
		if !ok {
			break
		}
		out[n] = data
		n++
	}
	return n
}

// Len is an approximate count of claimed-but-undequeued slots: a slot
// counts from the moment its producer wins the tail CAS, before its
// payload is published. Racy by construction; used for load heuristics
// (task-list thresholds, metrics) and by the combiner to see whether a
// request is still waiting, never as a count of items ready to dequeue.
func (r *Ring[T]) Len() int {
	tail := r.tail.Load()
	head := r.head.Load()
	if tail < head {
		return 0
	}
	return int(tail - head)
}

// IsFull reports whether the ring currently has no free slot for a
// producer. Racy in the same sense as Len.
func (r *Ring[T]) IsFull() bool {
	return r.Len() >= len(r.slots)
}

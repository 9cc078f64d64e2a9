// Package combiner implements flat-combining delegation (§4.8,
// component H) on top of the bounded MPMC ring: contending threads
// enqueue (function, data) requests instead of taking a lock, and the
// first thread to observe itself as the sole active combiner executes
// a batch on everyone's behalf, preserving FIFO order across
// contending threads with a single critical path.
package combiner

import (
	"runtime"
	"sync/atomic"

	"github.com/behrlich/go-fiberrt/internal/ring"
)

// request is one submitted critical section plus the channel its
// submitter waits on for completion.
type request struct {
	fn   func()
	done chan struct{}
}

// Combiner serializes execution of submitted functions without ever
// holding a traditional lock across a blocking wait: submission is a
// ring enqueue, and only the thread that wins the CAS to become
// combiner ever executes anyone else's function.
type Combiner struct {
	ring      *ring.Ring[*request]
	combining atomic.Bool
	handoff   int
}

// New creates a Combiner with the given ring capacity and handoff
// batch size: the number of requests one thread executes before
// publishing a new head (giving another contender a turn) if more
// remain.
func New(capacity, handoff int) *Combiner {
	if handoff <= 0 {
		handoff = 16
	}
	return &Combiner{
		ring:    ring.NewRing[*request](capacity),
		handoff: handoff,
	}
}

// Do submits fn to run under the combiner's single critical path and
// blocks until it has executed. Safe to call from any goroutine.
func (c *Combiner) Do(fn func()) {
	req := &request{fn: fn, done: make(chan struct{})}
	for !c.ring.TryEnqueue(req) {
		runtime.Gosched()
	}

	if c.combining.CompareAndSwap(false, true) {
		c.drain()
	}

	<-req.done
}

// drain runs requests off the ring in batches of at most handoff,
// releasing the combining flag between batches so another submitter
// can take over; if nobody does before the ring has more work, this
// goroutine reclaims the role itself rather than leaving work stuck.
func (c *Combiner) drain() {
	for {
		c.runBatch()

		c.combining.Store(false)
		if c.ring.Len() == 0 || !c.combining.CompareAndSwap(false, true) {
			return
		}
	}
}

func (c *Combiner) runBatch() int {
	n := 0
	for n < c.handoff {
		req, ok := c.ring.TryDequeue()
		if !ok {
			break
		}
		req.fn()
		close(req.done)
		n++
	}
	return n
}

package cache

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/behrlich/go-fiberrt/internal/constants"
	"github.com/behrlich/go-fiberrt/internal/interfaces"
	"github.com/behrlich/go-fiberrt/internal/ring"
)

// RemoteFreeQueue is the MPSC ring embedded in a heap span (§4.6): any
// thread freeing a pointer it does not own pushes the pointer here
// instead of touching the owner's free lists directly. The owner
// drains it from cache_collect, at which point the frees happen
// single-threaded and the usual local-free bookkeeping applies.
type RemoteFreeQueue struct {
	ring *ring.Ring[uintptr]
}

func newRemoteFreeQueue(capacity int) *RemoteFreeQueue {
	return &RemoteFreeQueue{ring: ring.NewRing[uintptr](capacity)}
}

// TryPush enqueues a freed pointer without blocking.
func (q *RemoteFreeQueue) TryPush(ptr uintptr) bool {
	return q.ring.TryEnqueue(ptr)
}

// Drain moves every currently-queued pointer into out, returning the
// count. Called only by the owning context.
func (q *RemoteFreeQueue) Drain(out []uintptr) int {
	return q.ring.TryDequeueN(out)
}

// PushWithRetry retries TryPush with exponential backoff, escalating
// through warn/error/fatal log thresholds as the retry storm lengthens
// (§4.2/§4.3). A full remote-free queue means the owning context is not
// draining it, which is a configuration or liveness problem worth
// surfacing loudly. At RemoteFreeFatalThreshold consecutive failures it
// logs an error and drops the free.
func PushWithRetry(q *RemoteFreeQueue, ptr uintptr, logger interfaces.Logger) {
	if q.TryPush(ptr) {
		return
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Microsecond
	b.MaxInterval = 5 * time.Millisecond
	b.MaxElapsedTime = 0

	failures := 0
	for {
		failures++
		switch {
		case failures == constants.RemoteFreeFatalThreshold:
			if logger != nil {
				logger.Errorf("remote-free queue still full after %d attempts, dropping free of %#x", failures, ptr)
			}
			return
		case failures == constants.RemoteFreeErrorThreshold:
			if logger != nil {
				logger.Errorf("remote-free retry storm, %d consecutive failures", failures)
			}
		case failures == constants.RemoteFreeWarnThreshold:
			if logger != nil {
				logger.Warnf("remote-free queue full, %d consecutive failures", failures)
			}
		}

		time.Sleep(b.NextBackOff())
		if q.TryPush(ptr) {
			return
		}
	}
}

package sched

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/behrlich/go-fiberrt/internal/constants"
	"github.com/behrlich/go-fiberrt/internal/interfaces"
)

// Scheduler is the run queue for one Context: a 32-priority bitmap of
// ready fibers plus the handoff channel fibers yield through. Every
// method that touches the run queue must be called from the owning
// thread's Run loop, matching the single-owner invariant the async
// transport and task list both rely on elsewhere in this runtime.
type Scheduler struct {
	mu        sync.Mutex
	bitmap    uint32
	runQueues [constants.NumPriorityLevels][]*Fiber
	blocked   map[uint64]*Fiber

	yielded chan *Fiber
	nextID  atomic.Uint64

	observer interfaces.Observer
}

func New(observer interfaces.Observer) *Scheduler {
	return &Scheduler{
		blocked:  make(map[uint64]*Fiber),
		yielded:  make(chan *Fiber),
		observer: observer,
	}
}

// Spawn creates a fiber at the given priority (0 = highest,
// NumPriorityLevels-1 = lowest) and enqueues it ready to run. fn must
// call f.Yield, f.Block, or f.Exit (directly or by returning, which
// behaves like an implicit Exit) before returning control.
func (s *Scheduler) Spawn(priority int, fn func(f *Fiber)) *Fiber {
	if priority < 0 {
		priority = 0
	}
	if priority >= constants.NumPriorityLevels {
		priority = constants.NumPriorityLevels - 1
	}

	f := &Fiber{
		ID:       s.nextID.Add(1),
		Priority: priority,
		resume:   make(chan struct{}),
		sched:    s,
	}
	f.state.Store(int32(StateReady))

	go func() {
		f.waitResumed()
		func() {
			defer func() {
				if r := recover(); r != nil {
					if _, ok := r.(cancelSignal); !ok {
						panic(r)
					}
				}
			}()
			fn(f)
			if f.State() != StateDone {
				f.runCleanup()
				f.state.Store(int32(StateDone))
			}
		}()
		s.yielded <- f
	}()

	s.enqueue(f)
	return f
}

func (s *Scheduler) enqueue(f *Fiber) {
	s.mu.Lock()
	s.runQueues[f.Priority] = append(s.runQueues[f.Priority], f)
	s.bitmap |= 1 << uint(f.Priority)
	s.mu.Unlock()
}

func (s *Scheduler) dequeueHighest() *Fiber {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bitmap == 0 {
		return nil
	}
	for p := 0; p < constants.NumPriorityLevels; p++ {
		if s.bitmap&(1<<uint(p)) == 0 {
			continue
		}
		q := s.runQueues[p]
		f := q[0]
		s.runQueues[p] = q[1:]
		if len(s.runQueues[p]) == 0 {
			s.bitmap &^= 1 << uint(p)
		}
		return f
	}
	return nil
}

// onYield is called by a fiber's own goroutine from Yield/Block; the
// scheduler's Run loop is the only other party touching the run queue,
// so this needs no lock beyond what enqueue already takes.
func (s *Scheduler) onYield(f *Fiber) {
	s.yielded <- f
}

// Ready reports whether any fiber is waiting to run.
func (s *Scheduler) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bitmap != 0
}

// Hoist transitions a blocked fiber back to ready and enqueues it.
// Must be called from the owning Scheduler's thread: this package has
// no cross-thread routing of its own. A cross-thread caller (e.g. one
// thread canceling a fiber owned by another) reaches Hoist indirectly,
// through internal/bootstrap's Thread.CancelFiber, which posts the
// Cancel call through the owning Thread's own rcontext.Context.Call so
// it only ever runs once that Context is drained by its own thread.
func (s *Scheduler) Hoist(f *Fiber) {
	if f.State() != StateBlocked {
		return
	}
	s.mu.Lock()
	delete(s.blocked, f.ID)
	s.mu.Unlock()
	f.state.Store(int32(StateReady))
	s.enqueue(f)
}

// Cancel requests cooperative cancellation of f (cancel-required). A
// blocked fiber is hoisted immediately so it gets a chance to run;
// what happens at that next run depends on f's cancel type (§6
// setcanceltype): asynchronous delivers immediately, at the resume
// itself, via Exit; deferred leaves it to the fiber body's own
// CancelRequested()/Exit() calls. Must be called from f's owning
// thread — see Hoist.
func (f *Fiber) cancel() {
	f.cancelRequired.Store(true)
}

func (s *Scheduler) Cancel(f *Fiber) {
	f.cancel()
	if f.State() == StateBlocked {
		s.Hoist(f)
	}
}

// Run drives the scheduler loop on the calling goroutine, which must
// be the Context's owning OS thread: dequeue the highest-priority
// ready fiber, hand it the resume token, wait for it to yield, block,
// or finish, and repeat until ctx is done or the run queue empties.
// Returns the number of fiber turns executed.
func (s *Scheduler) Run(ctx context.Context, maxTurns int) int {
	turns := 0
	for maxTurns <= 0 || turns < maxTurns {
		select {
		case <-ctx.Done():
			return turns
		default:
		}

		f := s.dequeueHighest()
		if f == nil {
			return turns
		}

		f.state.Store(int32(StateRunning))
		f.resume <- struct{}{}
		yielded := <-s.yielded
		turns++
		if s.observer != nil {
			s.observer.ObserveFiberSwitch()
		}

		switch yielded.State() {
		case StateReady:
			s.enqueue(yielded)
		case StateBlocked:
			s.mu.Lock()
			s.blocked[yielded.ID] = yielded
			s.mu.Unlock()
		}
	}
	return turns
}

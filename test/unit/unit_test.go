// Package unit holds scenario tests that exercise one runtime
// component at a time, without standing up a full multi-thread
// Runtime.
package unit

import (
	"context"
	"math/rand"
	"sync"
	"testing"

	"github.com/behrlich/go-fiberrt/internal/cache"
	"github.com/behrlich/go-fiberrt/internal/epoch"
	"github.com/behrlich/go-fiberrt/internal/rterr"
	"github.com/behrlich/go-fiberrt/internal/sched"
)

// TestAllocatorStress is scenario S2: a single context running 10,000
// iterations that each either allocate a random size or free a random
// live pointer, verifying that every Alloc succeeds and that no Free,
// including the final cleanup, panics. The requested size is recorded
// per pointer but not checked against the pointer's size class.
func TestAllocatorStress(t *testing.T) {
	c := cache.New(cache.OwnerID(0), nil, nil)
	defer c.Close()

	rng := rand.New(rand.NewSource(1))
	live := make(map[uintptr]int32) // ptr -> requested size

	for i := 0; i < 10_000; i++ {
		if len(live) == 0 || rng.Float64() < 0.5 {
			size := uint32(rng.Intn(4096) + 1)
			ptr, err := c.Alloc(size)
			if err != nil {
				t.Fatalf("iteration %d: Alloc(%d): %v", i, size, err)
			}
			live[ptr] = int32(size)
			continue
		}

		idx := rng.Intn(len(live))
		var victim uintptr
		for p := range live {
			if idx == 0 {
				victim = p
				break
			}
			idx--
		}
		delete(live, victim)
		c.Free(victim)
	}

	for p := range live {
		c.Free(p)
	}
}

// TestEpochSinkDestroyObservedOnceAfterReaders is scenario S4: a sink
// retired at the current epoch must not be reclaimed while any
// registered reader's critical section spans that epoch, and its
// destroy callback must fire exactly once once it is safe.
func TestEpochSinkDestroyObservedOnceAfterReaders(t *testing.T) {
	r := epoch.New(nil)
	r.Register(0) // L0: retires the sink
	r.Register(1) // L1
	r.Register(2) // L2

	r.Enter(1)
	r.Enter(2)

	var destroyed int
	var mu sync.Mutex
	r.Retire(func() error {
		mu.Lock()
		destroyed++
		mu.Unlock()
		return nil
	})

	r.Advance()
	mu.Lock()
	gotBeforeExit := destroyed
	mu.Unlock()
	if gotBeforeExit != 0 {
		t.Fatalf("destroy callback fired while L1/L2 still in critical section")
	}

	r.Exit(1)
	r.Exit(2)

	// ReclaimDelayEpochs advances must elapse after the Retire call
	// before the object is actually reclaimed.
	for i := 0; i < 4; i++ {
		r.Advance()
	}

	mu.Lock()
	defer mu.Unlock()
	if destroyed != 1 {
		t.Errorf("destroyed = %d, want exactly 1", destroyed)
	}
}

// TestFiberCancellationRunsCleanupInLIFOOrder is scenario S6: a fiber
// parked in Block(), canceled through Scheduler.Cancel, must
// actually observe the cancellation (CancelRequested()), unwind via
// Exit rather than returning normally, report CANCELED as its result
// kind, and run its cleanup handlers C2 then C1.
func TestFiberCancellationRunsCleanupInLIFOOrder(t *testing.T) {
	s := sched.New(nil)

	var order []string
	var mu sync.Mutex
	record := func(name string) {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
	}

	var observedCancel bool
	f := s.Spawn(16, func(self *sched.Fiber) {
		self.AddCleanup(func() { record("C1") })
		self.AddCleanup(func() { record("C2") })
		self.Block()
		// Deferred (the default) cancel type: the fiber itself must
		// poll CancelRequested() and choose to unwind.
		observedCancel = self.CancelRequested()
		if observedCancel {
			self.Exit()
		}
	})

	ctx := context.Background()
	s.Run(ctx, 1) // runs F until it calls Block()
	s.Cancel(f)   // hoists F back to ready with CancelRequested set
	s.Run(ctx, 1) // F resumes past Block(), observes the cancel, and exits

	mu.Lock()
	defer mu.Unlock()
	if !observedCancel {
		t.Fatal("expected the fiber to observe CancelRequested() after Cancel")
	}
	if len(order) != 2 || order[0] != "C2" || order[1] != "C1" {
		t.Errorf("cleanup order = %v, want [C2 C1]", order)
	}
	if f.State() != sched.StateDone {
		t.Errorf("f.State() = %v, want StateDone", f.State())
	}
	if f.ResultKind != rterr.KindCanceled {
		t.Errorf("f.ResultKind = %v, want KindCanceled", f.ResultKind)
	}
}

// TestAsynchronousCancelSkipsPolling is the asynchronous-cancel-type
// counterpart of S6: with cancel-asynchronous set, delivery happens
// automatically at the fiber's next resume, without it ever calling
// CancelRequested() itself.
func TestAsynchronousCancelSkipsPolling(t *testing.T) {
	s := sched.New(nil)

	var order []string
	var mu sync.Mutex
	record := func(name string) {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
	}

	var reachedPastBlock bool
	f := s.Spawn(16, func(self *sched.Fiber) {
		self.SetCancelType(true)
		self.AddCleanup(func() { record("C1") })
		self.AddCleanup(func() { record("C2") })
		self.Block()
		reachedPastBlock = true
	})

	ctx := context.Background()
	s.Run(ctx, 1)
	s.Cancel(f)
	s.Run(ctx, 1)

	mu.Lock()
	defer mu.Unlock()
	if reachedPastBlock {
		t.Error("expected asynchronous cancel to unwind inside Block, never returning to the body")
	}
	if len(order) != 2 || order[0] != "C2" || order[1] != "C1" {
		t.Errorf("cleanup order = %v, want [C2 C1]", order)
	}
	if f.ResultKind != rterr.KindCanceled {
		t.Errorf("f.ResultKind = %v, want KindCanceled", f.ResultKind)
	}
}

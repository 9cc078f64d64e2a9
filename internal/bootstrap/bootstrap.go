// Package bootstrap wires one Thread (context + scheduler + cache +
// task list + dispatcher + epoch reclaimer) per OS thread and
// supervises their lifecycles, the way the teacher's queue runners are
// constructed and started from backend.go, generalized from "one
// runner per block device queue" to "one Thread per runtime context".
package bootstrap

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/pbnjay/memory"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/behrlich/go-fiberrt/internal/cache"
	"github.com/behrlich/go-fiberrt/internal/constants"
	"github.com/behrlich/go-fiberrt/internal/dispatch"
	"github.com/behrlich/go-fiberrt/internal/epoch"
	"github.com/behrlich/go-fiberrt/internal/interfaces"
	"github.com/behrlich/go-fiberrt/internal/rcontext"
	"github.com/behrlich/go-fiberrt/internal/ring"
	"github.com/behrlich/go-fiberrt/internal/sched"
	"github.com/behrlich/go-fiberrt/internal/tasks"
)

// Params configures a Runtime at construction time.
type Params struct {
	ThreadCount    int
	AsyncQueueSize int
	CPUAffinity    []int // optional: pin thread i to CPUAffinity[i % len]
	Logger         interfaces.Logger
	Observer       interfaces.Observer
}

func (p Params) withDefaults() Params {
	if p.ThreadCount <= 0 {
		p.ThreadCount = constants.DefaultThreadCount
	}
	// Each context eventually reserves at least one 2 MiB span; don't
	// let a misconfigured thread count vastly oversubscribe physical
	// memory on small machines.
	if max := int(memory.TotalMemory() / (uint64(constants.SpanSize) * 8)); max > 0 && p.ThreadCount > max {
		p.ThreadCount = max
	}
	if p.AsyncQueueSize <= 0 {
		p.AsyncQueueSize = constants.DefaultAsyncQueueSize
	}
	return p
}

// Thread bundles everything one OS thread needs to run its slice of
// the runtime: a Context for cross-thread calls, a fiber Scheduler, a
// memory Cache, a task List with its Balancer, an event Dispatcher,
// and a handle to the shared epoch Reclaimer.
type Thread struct {
	ID         int
	Context    *rcontext.Context
	Scheduler  *sched.Scheduler
	Cache      *cache.Cache
	Tasks      *tasks.List
	Balancer   *tasks.Balancer
	Dispatcher *dispatch.Dispatcher
	Epoch      *epoch.Reclaimer
	logger     interfaces.Logger
	cpu        int
	hasCPU     bool
}

// Runtime supervises the full set of Threads: it starts one goroutine
// per Thread pinned to its own OS thread, and stops them together.
type Runtime struct {
	threads  []*Thread
	reclaim  *epoch.Reclaimer
	spawnSem *semaphore.Weighted

	group    *errgroup.Group
	groupCtx context.Context
	cancel   context.CancelFunc

	logger   interfaces.Logger
	observer interfaces.Observer
}

// New constructs every Thread and wires their peer lists, but does not
// start any goroutines; call Start for that.
func New(p Params) (*Runtime, error) {
	p = p.withDefaults()

	reclaim := epoch.New(p.Observer)
	spawnSem := semaphore.NewWeighted(int64(p.ThreadCount))

	threads := make([]*Thread, p.ThreadCount)
	contexts := make([]*rcontext.Context, p.ThreadCount)

	for i := 0; i < p.ThreadCount; i++ {
		ctx := rcontext.New(rcontext.Config{
			ID:             i,
			AsyncQueueSize: p.AsyncQueueSize,
			Logger:         p.Logger,
			Observer:       p.Observer,
		})
		contexts[i] = ctx

		t := &Thread{
			ID:        i,
			Context:   ctx,
			Scheduler: sched.New(p.Observer),
			Cache:     cache.New(cache.OwnerID(i), p.Logger, p.Observer),
			Tasks:     tasks.NewList(),
			Epoch:     reclaim,
			logger:    p.Logger,
		}
		if len(p.CPUAffinity) > 0 {
			t.cpu = p.CPUAffinity[i%len(p.CPUAffinity)]
			t.hasCPU = true
		}
		reclaim.Register(i)
		threads[i] = t
	}

	for i, t := range threads {
		peers := make([]*rcontext.Context, 0, len(contexts)-1)
		for j, c := range contexts {
			if j != i {
				peers = append(peers, c)
			}
		}
		t.Context.SetPeers(peers)

		peerHandles := make([]tasks.PeerHandle, 0, len(threads)-1)
		for j, other := range threads {
			if j != i {
				peerHandles = append(peerHandles, peerAdapter{local: t, peer: other})
			}
		}
		t.Balancer = tasks.NewBalancer(t.Tasks, peerHandles, constants.DefaultEventBatchSize)

		backend, err := dispatch.NewDefaultBackend()
		if err != nil {
			return nil, fmt.Errorf("bootstrap: thread %d: %w", i, err)
		}
		t.Dispatcher = dispatch.New(backend, p.Logger, p.Observer)
	}

	return &Runtime{
		threads:  threads,
		reclaim:  reclaim,
		spawnSem: spawnSem,
		logger:   p.Logger,
		observer: p.Observer,
	}, nil
}

// Threads returns the constructed thread set, for callers (e.g. the
// public Runtime) that need to route work to a specific context.
func (r *Runtime) Threads() []*Thread { return r.threads }

// Reclaimer returns the shared epoch reclaimer.
func (r *Runtime) Reclaimer() *epoch.Reclaimer { return r.reclaim }

// Start launches one supervised goroutine per Thread, each pinned to
// its own OS thread via runtime.LockOSThread, following the same
// pattern as the teacher's per-queue ioLoop.
func (r *Runtime) Start(parent context.Context) error {
	r.groupCtx, r.cancel = context.WithCancel(parent)
	group, groupCtx := errgroup.WithContext(r.groupCtx)
	r.group = group
	r.groupCtx = groupCtx

	for _, t := range r.threads {
		t := t
		if err := r.spawnSem.Acquire(parent, 1); err != nil {
			return fmt.Errorf("bootstrap: acquiring startup slot for thread %d: %w", t.ID, err)
		}
		group.Go(func() error {
			defer r.spawnSem.Release(1)
			return runThread(groupCtx, t)
		})
	}
	return nil
}

// Stop cancels every Thread's loop and waits for them to return.
func (r *Runtime) Stop() error {
	if r.cancel == nil {
		return nil
	}
	r.cancel()

	done := make(chan error, 1)
	go func() { done <- r.group.Wait() }()

	select {
	case err := <-done:
		return err
	case <-time.After(constants.ShutdownDrainTimeout):
		return fmt.Errorf("bootstrap: threads did not stop within %s", constants.ShutdownDrainTimeout)
	}
}

func runThread(ctx context.Context, t *Thread) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if t.hasCPU {
		if err := setAffinity(t.cpu); err != nil && t.logger != nil {
			t.logger.Warnf("thread %d: set CPU affinity to %d: %v", t.ID, t.cpu, err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return drainOnShutdown(t)
		default:
		}

		t.Context.SetState(rcontext.StateRunning)
		t.Context.Drain(256)
		t.Scheduler.Run(ctx, 64)
		drainTasks(t)
		t.Balancer.MaybeRebalance()
		t.Cache.Collect()
		t.Epoch.Advance()

		t.Context.SetState(rcontext.StatePolling)
		if _, _, err := t.Dispatcher.Poll(constants.DefaultPollTimeout); err != nil && t.logger != nil {
			t.logger.Warnf("thread %d: dispatcher poll: %v", t.ID, err)
		}
	}
}

func drainTasks(t *Thread) {
	t.Tasks.ExecuteLocal(256)
}

func drainOnShutdown(t *Thread) error {
	t.Context.SetState(rcontext.StateRunning)
	t.Context.Drain(1 << 20)
	t.Tasks.ExecuteLocal(1 << 20)
	t.Cache.Collect()
	return t.Dispatcher.Close()
}

// peerAdapter satisfies tasks.PeerHandle by routing load queries and
// chunk transfers through the peer's own Context async-call transport,
// so the actual List mutation always happens on the owning thread.
type peerAdapter struct {
	local *Thread
	peer  *Thread
}

// CancelFiber requests cancellation of a fiber owned by this Thread's
// Scheduler, routed through the Thread's own Context.Call so the
// actual sched.Cancel runs on this Thread's owning OS thread no matter
// which thread calls CancelFiber. A caller on a third thread holding
// only a *sched.Fiber handle (e.g. one peer canceling work it handed
// off to another) never touches t.Scheduler directly.
func (t *Thread) CancelFiber(f *sched.Fiber) {
	t.Context.Call(func([ring.AsyncCallSlotWords - 1]uintptr) {
		t.Scheduler.Cancel(f)
	}, [ring.AsyncCallSlotWords - 1]uintptr{})
}

func (p peerAdapter) ListLen() int      { return p.peer.Tasks.Len() }
func (p peerAdapter) CombinedLoad() int { return p.peer.Tasks.Len() + p.peer.Context.PendingAsyncCalls() }
func (p peerAdapter) Target() int       { return p.peer.ID }

func (p peerAdapter) RequestChunk(onReceive func([]tasks.Task)) {
	peer := p.peer
	local := p.local
	peer.Context.Post(func(args [ring.AsyncCallSlotWords - 1]uintptr) {
		chunk := peer.Tasks.PopChunk(local.ID)
		local.Context.Post(func(args [ring.AsyncCallSlotWords - 1]uintptr) {
			onReceive(chunk)
		}, [ring.AsyncCallSlotWords - 1]uintptr{})
	}, [ring.AsyncCallSlotWords - 1]uintptr{})
}

func (p peerAdapter) SendChunk(ts []tasks.Task) {
	peer := p.peer
	peer.Context.Post(func(args [ring.AsyncCallSlotWords - 1]uintptr) {
		peer.Tasks.PushChunk(ts)
	}, [ring.AsyncCallSlotWords - 1]uintptr{})
}

package fiberrt

import (
	"context"
	"fmt"

	"github.com/behrlich/go-fiberrt/internal/bootstrap"
	"github.com/behrlich/go-fiberrt/internal/interfaces"
	"github.com/behrlich/go-fiberrt/internal/logging"
)

// Params configures a Runtime. The zero value is usable: it starts
// DefaultThreadCount threads, each with a DefaultAsyncQueueSize async
// call ring, logging through the package default logger and recording
// into a fresh Metrics via MetricsObserver.
type Params struct {
	// ThreadCount is the number of OS threads the runtime starts, one
	// Context per thread. Zero means DefaultThreadCount, capped by a
	// total-memory heuristic so a misconfigured count can't reserve
	// more span memory than the machine has.
	ThreadCount int

	// AsyncQueueSize is the capacity of each context's MPMC async-call
	// ring. Zero means DefaultAsyncQueueSize.
	AsyncQueueSize int

	// CPUAffinity pins thread i to CPUAffinity[i % len(CPUAffinity)].
	// Nil means no pinning.
	CPUAffinity []int

	// Logger receives runtime diagnostics. Nil means logging.Default().
	Logger interfaces.Logger

	// Observer receives metrics callbacks. Nil means a fresh
	// MetricsObserver backed by a new Metrics, retrievable via
	// Runtime.Metrics when Params.Observer is left unset.
	Observer Observer
}

// Runtime is a running pool of fiber-scheduling, event-dispatching OS
// threads sharing one epoch reclaimer, the top-level handle this
// module hands callers in place of the teacher's single *Device.
type Runtime struct {
	rt      *bootstrap.Runtime
	metrics *Metrics
	logger  interfaces.Logger
	started bool
}

// New constructs a Runtime from params but does not start it; call
// Start to launch the per-context thread loops.
func New(params Params) (*Runtime, error) {
	logger := params.Logger
	if logger == nil {
		logger = logging.Default()
	}

	var observer Observer = params.Observer
	var metrics *Metrics
	if observer == nil {
		metrics = NewMetrics()
		observer = NewMetricsObserver(metrics)
	}

	rt, err := bootstrap.New(bootstrap.Params{
		ThreadCount:    params.ThreadCount,
		AsyncQueueSize: params.AsyncQueueSize,
		CPUAffinity:    params.CPUAffinity,
		Logger:         logger,
		Observer:       observer,
	})
	if err != nil {
		return nil, WrapError("Runtime.New", err)
	}

	return &Runtime{rt: rt, metrics: metrics, logger: logger}, nil
}

// Start launches every context's thread loop. ctx governs the
// Runtime's overall lifetime: canceling it is equivalent to calling
// Stop.
func (r *Runtime) Start(ctx context.Context) error {
	if r.started {
		return NewError("Runtime.Start", KindFatal, "runtime already started")
	}
	r.started = true
	if err := r.rt.Start(ctx); err != nil {
		return WrapError("Runtime.Start", err)
	}
	return nil
}

// Stop cancels every thread's loop and waits (bounded by
// ShutdownDrainTimeout) for them to drain and exit.
func (r *Runtime) Stop() error {
	if !r.started {
		return nil
	}
	if err := r.rt.Stop(); err != nil {
		return WrapError("Runtime.Stop", err)
	}
	return nil
}

// Metrics returns the Runtime's metrics snapshot source, or nil if the
// caller supplied a custom Observer in Params and therefore owns their
// own metrics collection.
func (r *Runtime) Metrics() *Metrics { return r.metrics }

// ThreadCount returns the number of OS threads this Runtime started.
func (r *Runtime) ThreadCount() int { return len(r.rt.Threads()) }

// Context exposes the bootstrap Thread's wiring for thread i so
// advanced callers (tests, the echo server) can reach its Scheduler,
// Cache, Tasks, or Dispatcher directly. Panics if i is out of range,
// the same bounds contract as indexing a slice.
func (r *Runtime) Context(i int) *bootstrap.Thread {
	threads := r.rt.Threads()
	if i < 0 || i >= len(threads) {
		panic(fmt.Sprintf("fiberrt: Context(%d) out of range [0,%d)", i, len(threads)))
	}
	return threads[i]
}

// Package sched implements the stackful fiber scheduler (§3 run queue):
// each fiber is a goroutine whose stack IS its stack, cooperatively
// handed a single resume token by the owning Scheduler so that, despite
// running as a goroutine, exactly one fiber executes at a time per
// Scheduler — preserving the single-owner-thread invariant the rest of
// this runtime depends on. See DESIGN.md for why goroutines substitute
// for the spec's raw stack-switching assembly.
package sched

import (
	"sync/atomic"

	"github.com/behrlich/go-fiberrt/internal/rterr"
)

// State is a fiber's position in its own lifecycle, distinct from a
// Context's scheduler/listener State in package rcontext.
type State int32

const (
	StateReady State = iota
	StateRunning
	StateBlocked
	StateDone
)

type cancelSignal struct{}

// Fiber is one cooperatively-scheduled unit of work. Created by
// Scheduler.Spawn; its body runs on a private goroutine that only ever
// proceeds past a yield point when the owning Scheduler hands it the
// resume token.
type Fiber struct {
	ID       uint64
	Priority int

	// Result is the value the fiber's task produced, read by the owning
	// context once State() reaches StateDone (§3 "result value"). A
	// canceled fiber instead reports ResultKind == rterr.KindCanceled
	// and leaves Result at its zero value.
	Result     uintptr
	ResultKind rterr.Kind

	state atomic.Int32

	resume  chan struct{}
	sched   *Scheduler
	cleanup []func()

	// §3/§6 cancellation state: four independent flags, one POSIX
	// pthread_cancel per fiber.
	cancelDisable      atomic.Bool // cancel-disable: delivery suspended while true
	cancelAsynchronous atomic.Bool // cancel-asynchronous: deliver at the next resume rather than waiting on CancelRequested polling
	cancelRequired     atomic.Bool // cancel-required: Cancel() was called, not yet delivered
	cancelOccurred     atomic.Bool // cancel-occurred: delivery has happened; terminal
}

func (f *Fiber) State() State { return State(f.state.Load()) }

// SetCancelState sets cancel-disable and returns its previous value.
// While disabled, a pending cancel is recorded (cancel-required) but
// not delivered; re-enabling with the asynchronous type set and a
// cancel already required delivers it immediately.
func (f *Fiber) SetCancelState(disable bool) bool {
	prev := f.cancelDisable.Swap(disable)
	if !disable {
		f.maybeDeliverAsync()
	}
	return prev
}

// SetCancelType sets cancel-asynchronous and returns its previous
// value. Switching into the asynchronous type with a cancel already
// required and not disabled delivers it immediately.
func (f *Fiber) SetCancelType(async bool) bool {
	prev := f.cancelAsynchronous.Swap(async)
	f.maybeDeliverAsync()
	return prev
}

// maybeDeliverAsync exits the fiber right now if a cancel is required,
// deliverable (not disabled), asynchronous, and hasn't already fired.
// Must only run on the fiber's own goroutine.
func (f *Fiber) maybeDeliverAsync() {
	if f.cancelAsynchronous.Load() && !f.cancelDisable.Load() &&
		f.cancelRequired.Load() && f.cancelOccurred.CompareAndSwap(false, true) {
		f.ResultKind = rterr.KindCanceled
		f.Exit()
	}
}

// Yield gives up the resume token, re-queuing at the fiber's own
// priority, and blocks until the scheduler resumes it.
func (f *Fiber) Yield() {
	f.state.Store(int32(StateReady))
	f.sched.onYield(f)
	f.waitResumed()
}

// Block gives up the resume token without re-queuing. Only Hoist (or
// the scheduler noticing Cancel) will make this fiber ready again.
func (f *Fiber) Block() {
	f.state.Store(int32(StateBlocked))
	f.sched.onYield(f)
	f.waitResumed()
}

// AddCleanup registers fn to run, LIFO, when the fiber exits (normally
// or via Cancel). Mirrors a defer stack that survives across Block.
func (f *Fiber) AddCleanup(fn func()) {
	f.cleanup = append(f.cleanup, fn)
}

// CancelRequested reports whether Cancel has been called on this
// fiber (cancel-required). Long-running fiber bodies with the default
// deferred cancel type should poll this between Yield points and
// unwind (running their own cleanup, then calling Exit) instead of
// looping forever; an asynchronous-type fiber never needs to poll —
// delivery happens automatically at its next resume.
func (f *Fiber) CancelRequested() bool {
	return f.cancelRequired.Load()
}

// Exit ends the fiber immediately, running every registered cleanup
// handler LIFO before handing control back to the scheduler. Must be
// called from the fiber's own goroutine. If a cancellation was
// required, ResultKind is stamped KindCanceled (cancel-occurred) so
// the owning context sees CANCELED as the fiber's surfaced result.
func (f *Fiber) Exit() {
	if f.cancelRequired.Load() {
		f.cancelOccurred.Store(true)
		if f.ResultKind == rterr.KindUnknown {
			f.ResultKind = rterr.KindCanceled
		}
	}
	f.runCleanup()
	f.state.Store(int32(StateDone))
	panic(cancelSignal{})
}

func (f *Fiber) runCleanup() {
	for i := len(f.cleanup) - 1; i >= 0; i-- {
		f.cleanup[i]()
	}
	f.cleanup = nil
}

func (f *Fiber) waitResumed() {
	<-f.resume
	f.maybeDeliverAsync()
}

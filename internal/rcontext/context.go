// Package rcontext implements the per-thread Context: the packed
// scheduler/listener status word and the MPMC async-call ring other
// contexts use to hand it work. The fiber scheduler and memory cache of
// the same thread live beside it in internal/bootstrap's Thread.
//
// A Context's status is a single packed atomic word combining the
// scheduler/listener state (§3, co-located per the spec: a context is
// simultaneously "the thing fibers run on" and "the thing a listener
// polls for") with a monotonically increasing drain stamp. Packing
// both into one word lets Call/Post make a lock-free decision about
// whether a peer is a good reassignment target without a second load.
package rcontext

import (
	"sync/atomic"

	"github.com/behrlich/go-fiberrt/internal/constants"
	"github.com/behrlich/go-fiberrt/internal/interfaces"
	"github.com/behrlich/go-fiberrt/internal/ring"
)

// State is the context's scheduler/listener state, co-located in the
// packed status word.
type State uint8

const (
	// StateRunning: the context is actively executing a fiber or task.
	StateRunning State = iota
	// StatePending: the context has work queued but hasn't picked it up yet.
	StatePending
	// StatePolling: the context's listener is in the kernel event backend.
	StatePolling
	// StateWaiting: the context is blocked on a timed or notify wait.
	StateWaiting
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "RUNNING"
	case StatePending:
		return "PENDING"
	case StatePolling:
		return "POLLING"
	case StateWaiting:
		return "WAITING"
	default:
		return "UNKNOWN"
	}
}

// status packs State (low 8 bits) with a drain stamp (remaining bits)
// that increments every time the context finishes draining its async
// queue. The stamp lets a producer detect "I enqueued after the last
// drain started" without a second synchronizing load.
const stateBits = 8
const stateMask = uint64(1)<<stateBits - 1

func packStatus(state State, stamp uint64) uint64 {
	return uint64(state) | (stamp << stateBits)
}

func unpackStatus(packed uint64) (State, uint64) {
	return State(packed & stateMask), packed >> stateBits
}

// Context is one OS-thread-resident unit of the runtime.
type Context struct {
	ID int

	status atomic.Uint64

	asyncQueue *ring.Ring[ring.AsyncCall]

	peers []*Context

	logger   interfaces.Logger
	observer interfaces.Observer

	remoteFreeFailures atomic.Uint64
}

// Config configures a new Context.
type Config struct {
	ID             int
	AsyncQueueSize int
	Logger         interfaces.Logger
	Observer       interfaces.Observer
}

// New creates a Context with its own async-call ring. Peers must be
// wired afterward via SetPeers once every context in the runtime has
// been constructed (they form a cycle).
func New(cfg Config) *Context {
	size := cfg.AsyncQueueSize
	if size < constants.MinAsyncQueueSize {
		size = constants.MinAsyncQueueSize
	}
	c := &Context{
		ID:         cfg.ID,
		asyncQueue: ring.NewRing[ring.AsyncCall](size),
		logger:     cfg.Logger,
		observer:   cfg.Observer,
	}
	c.status.Store(packStatus(StatePending, 0))
	return c
}

// SetPeers wires the set of other contexts this context may Post work
// to or receive a reassigned task chunk from. Must be called before
// the runtime starts scheduling.
func (c *Context) SetPeers(peers []*Context) {
	c.peers = peers
}

// State returns the context's current scheduler/listener state.
func (c *Context) State() State {
	state, _ := unpackStatus(c.status.Load())
	return state
}

// DrainStamp returns the context's current drain generation.
func (c *Context) DrainStamp() uint64 {
	_, stamp := unpackStatus(c.status.Load())
	return stamp
}

// SetState transitions the context to a new scheduler/listener state,
// preserving the current drain stamp.
func (c *Context) SetState(state State) {
	for {
		old := c.status.Load()
		_, stamp := unpackStatus(old)
		next := packStatus(state, stamp)
		if c.status.CompareAndSwap(old, next) {
			return
		}
	}
}

// bumpDrainStamp advances the drain generation, called once per Drain
// pass that executed at least one call.
func (c *Context) bumpDrainStamp() {
	for {
		old := c.status.Load()
		state, stamp := unpackStatus(old)
		next := packStatus(state, stamp+1)
		if c.status.CompareAndSwap(old, next) {
			return
		}
	}
}

// TryCall enqueues fn to run on this context, packing up to 6 uintptr
// arguments inline. Returns false if the ring is full; the caller may
// retry with bounded backoff or defer.
func (c *Context) TryCall(fn func(args [ring.AsyncCallSlotWords - 1]uintptr), args [ring.AsyncCallSlotWords - 1]uintptr) bool {
	ok := c.asyncQueue.TryEnqueue(ring.AsyncCall{Fn: fn, Args: args})
	if ok && c.observer != nil {
		c.observer.ObserveAsyncCall(false)
	}
	return ok
}

// Post chooses a destination context for fn: the first peer not in
// StateRunning whose queue has room, else the first peer in SetPeers
// order whose queue has room, else falls back to running fn inline on
// the calling context.
func (c *Context) Post(fn func(args [ring.AsyncCallSlotWords - 1]uintptr), args [ring.AsyncCallSlotWords - 1]uintptr) {
	for _, peer := range c.peers {
		if peer.State() != StateRunning {
			if peer.TryCall(fn, args) {
				return
			}
		}
	}
	for _, peer := range c.peers {
		if peer.TryCall(fn, args) {
			return
		}
	}
	// No peer had room: execute inline.
	if c.observer != nil {
		c.observer.ObserveAsyncCall(true)
	}
	fn(args)
}

// Drain executes up to max queued async calls on the calling goroutine
// and returns the number executed. Must only be called by the thread
// that owns this context (the CSWITCH drain guard): concurrent drains
// from two goroutines would interleave calls meant to run serially on
// one context.
func (c *Context) Drain(max int) int {
	n := 0
	for n < max {
		call, ok := c.asyncQueue.TryDequeue()
		if !ok {
			break
		}
		call.Fn(call.Args)
		n++
		if c.observer != nil {
			c.observer.ObserveAsyncCallExecuted(0)
		}
	}
	if n > 0 {
		c.bumpDrainStamp()
	}
	return n
}

// PendingAsyncCalls is an approximate load heuristic used by the task
// list (internal/tasks) when picking a reassignment peer.
func (c *Context) PendingAsyncCalls() int {
	return c.asyncQueue.Len()
}

// RecordRemoteFreeFailure bumps the consecutive-failure counter used to
// escalate log severity on a sustained full async queue (§4.2/§4.3) and
// returns the new count.
func (c *Context) RecordRemoteFreeFailure() uint64 {
	return c.remoteFreeFailures.Add(1)
}

// ResetRemoteFreeFailures clears the counter after a successful call.
func (c *Context) ResetRemoteFreeFailures() {
	c.remoteFreeFailures.Store(0)
}

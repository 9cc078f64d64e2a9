package rcontext

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/behrlich/go-fiberrt/internal/ring"
)

func TestPackUnpackStatus(t *testing.T) {
	for _, state := range []State{StateRunning, StatePending, StatePolling, StateWaiting} {
		packed := packStatus(state, 42)
		gotState, gotStamp := unpackStatus(packed)
		if gotState != state {
			t.Errorf("unpackStatus state = %v, want %v", gotState, state)
		}
		if gotStamp != 42 {
			t.Errorf("unpackStatus stamp = %d, want 42", gotStamp)
		}
	}
}

func TestSetStatePreservesStamp(t *testing.T) {
	c := New(Config{ID: 1, AsyncQueueSize: 16})
	c.bumpDrainStamp()
	c.bumpDrainStamp()

	c.SetState(StateRunning)
	if c.State() != StateRunning {
		t.Errorf("State() = %v, want StateRunning", c.State())
	}
	if c.DrainStamp() != 2 {
		t.Errorf("DrainStamp() = %d, want 2", c.DrainStamp())
	}
}

func TestTryCallAndDrain(t *testing.T) {
	c := New(Config{ID: 1, AsyncQueueSize: 16})

	var executed atomic.Int32
	fn := func(args [ring.AsyncCallSlotWords - 1]uintptr) {
		executed.Add(int32(args[0]))
	}

	for i := 1; i <= 3; i++ {
		var args [ring.AsyncCallSlotWords - 1]uintptr
		args[0] = uintptr(i)
		if !c.TryCall(fn, args) {
			t.Fatalf("TryCall(%d) failed unexpectedly", i)
		}
	}

	n := c.Drain(10)
	if n != 3 {
		t.Fatalf("Drain() executed %d, want 3", n)
	}
	if executed.Load() != 6 {
		t.Errorf("executed sum = %d, want 6", executed.Load())
	}
	if c.DrainStamp() != 1 {
		t.Errorf("DrainStamp() = %d, want 1 after one drain pass", c.DrainStamp())
	}
}

func TestDrainStampUnchangedWhenEmpty(t *testing.T) {
	c := New(Config{ID: 1, AsyncQueueSize: 16})
	n := c.Drain(10)
	if n != 0 {
		t.Fatalf("Drain() on empty queue executed %d, want 0", n)
	}
	if c.DrainStamp() != 0 {
		t.Errorf("DrainStamp() = %d, want 0 (no drain performed)", c.DrainStamp())
	}
}

func TestPostPrefersNonRunningPeer(t *testing.T) {
	a := New(Config{ID: 0, AsyncQueueSize: 16})
	busy := New(Config{ID: 1, AsyncQueueSize: 16})
	idle := New(Config{ID: 2, AsyncQueueSize: 16})
	busy.SetState(StateRunning)
	idle.SetState(StatePending)

	a.SetPeers([]*Context{busy, idle})

	var ran int32
	fn := func(args [ring.AsyncCallSlotWords - 1]uintptr) {
		atomic.AddInt32(&ran, 1)
	}
	var args [ring.AsyncCallSlotWords - 1]uintptr
	a.Post(fn, args)

	if idle.PendingAsyncCalls() != 1 {
		t.Errorf("expected the idle peer to receive the posted call, got %d pending", idle.PendingAsyncCalls())
	}
	if busy.PendingAsyncCalls() != 0 {
		t.Errorf("expected the busy peer to be skipped, got %d pending", busy.PendingAsyncCalls())
	}
}

func TestPostFallsBackToInlineExecution(t *testing.T) {
	a := New(Config{ID: 0, AsyncQueueSize: 16})
	// no peers wired: Post must run fn locally rather than block
	done := make(chan struct{})
	fn := func(args [ring.AsyncCallSlotWords - 1]uintptr) {
		close(done)
	}
	var args [ring.AsyncCallSlotWords - 1]uintptr
	a.Post(fn, args)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Post did not execute fn inline when no peer was available")
	}
}

func TestCallRemoteFreeRetriesUntilAccepted(t *testing.T) {
	target := New(Config{ID: 1, AsyncQueueSize: 1})
	var blocker [ring.AsyncCallSlotWords - 1]uintptr
	// New raises the size to MinAsyncQueueSize; fill every slot so
	// CallRemoteFree's first TryCall fails and it has to retry.
	for target.TryCall(func(args [ring.AsyncCallSlotWords - 1]uintptr) {}, blocker) {
	}

	done := make(chan struct{})
	go func() {
		var args [ring.AsyncCallSlotWords - 1]uintptr
		target.CallRemoteFree(func(args [ring.AsyncCallSlotWords - 1]uintptr) {}, args)
		close(done)
	}()

	// drain the blocking slot so CallRemoteFree's retry eventually succeeds
	time.Sleep(5 * time.Millisecond)
	target.Drain(1)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("CallRemoteFree never succeeded after the queue drained")
	}
}

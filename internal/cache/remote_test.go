package cache

import "testing"

func TestRemoteFreeQueuePushDrain(t *testing.T) {
	q := newRemoteFreeQueue(16)
	for i := uintptr(1); i <= 8; i++ {
		if !q.TryPush(i) {
			t.Fatalf("TryPush(%d) failed", i)
		}
	}

	out := make([]uintptr, 16)
	n := q.Drain(out)
	if n != 8 {
		t.Fatalf("Drain returned %d, want 8", n)
	}
	for i := 0; i < 8; i++ {
		if out[i] != uintptr(i+1) {
			t.Errorf("out[%d] = %d, want %d", i, out[i], i+1)
		}
	}
}

func TestRemoteFreeQueueFullReturnsFalse(t *testing.T) {
	q := newRemoteFreeQueue(2)
	if !q.TryPush(1) || !q.TryPush(2) {
		t.Fatal("expected first two pushes to succeed")
	}
	if q.TryPush(3) {
		t.Error("expected push to a full queue to fail")
	}
}

func TestPushWithRetrySucceedsOnceSpaceOpens(t *testing.T) {
	q := newRemoteFreeQueue(1)
	if !q.TryPush(1) {
		t.Fatal("setup push failed")
	}

	done := make(chan struct{})
	go func() {
		PushWithRetry(q, 2, nil)
		close(done)
	}()

	out := make([]uintptr, 1)
	q.Drain(out) // frees the one slot

	<-done
}

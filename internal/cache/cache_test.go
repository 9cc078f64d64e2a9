package cache

import (
	"testing"
	"unsafe"
)

func TestCacheAllocFreeRoundTrip(t *testing.T) {
	c := New(OwnerID(1), nil, nil)
	t.Cleanup(func() { _ = c.Close() })

	ptr, err := c.Alloc(128)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	c.Free(ptr)
}

func TestCacheZallocZeroesMemory(t *testing.T) {
	c := New(OwnerID(1), nil, nil)
	t.Cleanup(func() { _ = c.Close() })

	ptr, err := c.Zalloc(64)
	if err != nil {
		t.Fatalf("Zalloc: %v", err)
	}
	b := unsafeBytes(ptr, 64)
	for i, v := range b {
		if v != 0 {
			t.Fatalf("byte %d not zeroed: %d", i, v)
		}
	}
}

func TestCacheCallocOverflow(t *testing.T) {
	c := New(OwnerID(1), nil, nil)
	t.Cleanup(func() { _ = c.Close() })

	if _, err := c.Calloc(1<<20, 1<<20); err == nil {
		t.Error("expected overflow error")
	}
}

func TestCacheHugeAlloc(t *testing.T) {
	c := New(OwnerID(1), nil, nil)
	t.Cleanup(func() { _ = c.Close() })

	ptr, err := c.Alloc(4 << 20) // exceeds MaxAllocSize
	if err != nil {
		t.Fatalf("Alloc huge: %v", err)
	}
	if len(c.huge) != 1 {
		t.Errorf("expected one huge span tracked, got %d", len(c.huge))
	}
	c.Free(ptr)
	if len(c.huge) != 0 {
		t.Errorf("expected huge span removed after free, got %d", len(c.huge))
	}
}

func TestCacheRemoteFreeDrainedByCollect(t *testing.T) {
	owner := New(OwnerID(1), nil, nil)
	t.Cleanup(func() { _ = owner.Close() })
	remote := New(OwnerID(2), nil, nil)

	ptr, err := owner.Alloc(256)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	remote.Free(ptr) // cross-owner: should land on the remote-free queue, not apply locally

	reAlloc, _ := owner.Alloc(256)
	if reAlloc == ptr {
		t.Fatal("expected ptr to still be considered allocated before Collect runs")
	}

	n := owner.Collect()
	if n == 0 {
		t.Error("expected Collect to drain at least one remote free")
	}
}

func TestCacheReallocGrowsAndCopies(t *testing.T) {
	c := New(OwnerID(1), nil, nil)
	t.Cleanup(func() { _ = c.Close() })

	ptr, err := c.Alloc(16)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	b := unsafeBytes(ptr, 16)
	for i := range b {
		b[i] = byte(i + 1)
	}

	grown, err := c.Realloc(ptr, 16, 512)
	if err != nil {
		t.Fatalf("Realloc: %v", err)
	}
	gb := unsafeBytes(grown, 16)
	for i := range gb {
		if gb[i] != byte(i+1) {
			t.Fatalf("byte %d = %d, want %d after realloc", i, gb[i], i+1)
		}
	}
}

func TestCacheGrowActiveReactivatesStagedHeap(t *testing.T) {
	c := New(OwnerID(1), nil, nil)
	t.Cleanup(func() { _ = c.Close() })

	size := uint32(1 << 15) // 32 KiB, large rank, exhausts a heap span quickly
	var ptrs []uintptr
	for len(c.heaps) < 2 {
		ptr, err := c.Alloc(size)
		if err != nil {
			t.Fatalf("Alloc: %v", err)
		}
		ptrs = append(ptrs, ptr)
		if len(ptrs) > 1000 {
			t.Fatal("active heap never exhausted")
		}
	}
	if len(c.heaps) != 2 {
		t.Fatalf("expected exactly one grow to have happened, got %d heaps", len(c.heaps))
	}

	staged := c.heaps[0].Heap
	if staged.status != heapStaging {
		t.Fatal("expected first heap to be staged after growActive")
	}

	// Free a pointer back into the staged (first) heap to open up a fit.
	c.Free(ptrs[0])

	// Fill the active (second) heap so the next Alloc has to grow.
	for c.active.canFit(RankOf(size)) {
		if _, err := c.Alloc(size); err != nil {
			t.Fatalf("Alloc: %v", err)
		}
	}

	if _, err := c.Alloc(size); err != nil {
		t.Fatalf("Alloc after freeing staged capacity: %v", err)
	}
	if len(c.heaps) != 2 {
		t.Fatalf("expected growActive to reactivate the staged heap instead of mmapping a new span, heaps=%d", len(c.heaps))
	}
	if c.active != staged {
		t.Fatal("expected the staged heap to become active again")
	}
	if staged.status != heapActive {
		t.Error("expected reactivated heap's status to flip back to heapActive")
	}
}

func unsafeBytes(ptr uintptr, n uint32) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(ptr)), int(n))
}

package cache

import (
	"sync"
	"unsafe"

	"github.com/behrlich/go-fiberrt/internal/constants"
)

// addrOf returns the address of a byte slice's backing array. Spans
// live in anonymous mmap'd memory the Go GC never scans, so reading
// this address and handing it to the caller as a plain pointer is
// safe: nothing ever asks the GC to move or reclaim it.
func addrOf(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}

// spanBaseAddr masks a pointer down to its owning span's base address:
// "ptr & ~(2 MiB - 1) yields the descriptor" (§3). Spans are registered
// at this address so classification is a single map lookup keyed by it.
func spanBaseAddr(ptr uintptr) uintptr {
	return ptr &^ (uintptr(constants.SpanSize) - 1)
}

// spanRegistry maps a span's aligned base address to its descriptor.
// Go heap-allocated span descriptors cannot be embedded inside the
// mmap'd region itself (a Go pointer written into non-GC-scanned
// memory would be invisible to the collector), so the descriptor
// lookup goes through this process-wide table instead. Guarded by a
// mutex: entries change only on span creation/destruction, never on
// the allocation hot path.
var spanRegistry = struct {
	mu    sync.RWMutex
	heaps map[uintptr]*HeapSpan
	huges map[uintptr]*HugeSpan
}{
	heaps: make(map[uintptr]*HeapSpan),
	huges: make(map[uintptr]*HugeSpan),
}

func registerHeapSpan(base uintptr, s *HeapSpan) {
	spanRegistry.mu.Lock()
	defer spanRegistry.mu.Unlock()
	spanRegistry.heaps[base] = s
}

func registerHugeSpan(base uintptr, s *HugeSpan) {
	spanRegistry.mu.Lock()
	defer spanRegistry.mu.Unlock()
	spanRegistry.huges[base] = s
}

func unregisterSpan(base uintptr) {
	spanRegistry.mu.Lock()
	defer spanRegistry.mu.Unlock()
	delete(spanRegistry.heaps, base)
	delete(spanRegistry.huges, base)
}

// classify resolves a pointer returned by Alloc to the heap or huge
// span that owns it.
func classify(ptr uintptr) (heap *HeapSpan, huge *HugeSpan) {
	base := spanBaseAddr(ptr)
	spanRegistry.mu.RLock()
	defer spanRegistry.mu.RUnlock()
	if h, ok := spanRegistry.heaps[base]; ok {
		return h, nil
	}
	if h, ok := spanRegistry.huges[base]; ok {
		return nil, h
	}
	return nil, nil
}

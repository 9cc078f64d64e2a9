package cache

import (
	"fmt"
	"unsafe"

	"github.com/behrlich/go-fiberrt/internal/constants"
	"github.com/behrlich/go-fiberrt/internal/interfaces"
	"github.com/behrlich/go-fiberrt/internal/rterr"
)

// Cache is the per-context allocator facade (§4.4): context-aware
// alloc/zalloc/aligned_alloc/calloc/realloc/free routed through one
// owner's heaps. Pointers may be freed from any thread; Free detects
// a cross-owner pointer and routes it through the remote-free queue
// instead of touching this Cache's own free lists.
type Cache struct {
	owner    OwnerID
	logger   interfaces.Logger
	observer interfaces.Observer

	heaps  []*HeapSpan // every heap span this context owns, in creation order
	active *Heap       // current bump/free-list target
	staging *Heap      // head of the staging list: heaps swept by growActive for reuse

	huge map[uintptr]*HugeSpan
}

func New(owner OwnerID, logger interfaces.Logger, observer interfaces.Observer) *Cache {
	return &Cache{
		owner:    owner,
		logger:   logger,
		observer: observer,
		huge:     make(map[uintptr]*HugeSpan),
	}
}

func (c *Cache) observeAlloc() {
	if c.observer != nil {
		c.observer.ObserveAlloc()
	}
}

func (c *Cache) observeFree(remote bool) {
	if c.observer != nil {
		c.observer.ObserveFree(remote)
	}
}

// Alloc returns size bytes rounded up to the owning rank's size, or an
// error if size exceeds MaxAllocSize and a huge span cannot be mapped.
func (c *Cache) Alloc(size uint32) (uintptr, error) {
	if size == 0 {
		size = 1
	}
	rank := RankOf(size)
	if IsHuge(rank) || size > constants.MaxAllocSize {
		return c.allocHuge(int(size))
	}

	if c.active == nil {
		if err := c.growActive(rank); err != nil {
			return 0, err
		}
	}

	ptr, ok := c.active.Alloc(rank)
	if !ok {
		if err := c.growActive(rank); err != nil {
			return 0, err
		}
		ptr, ok = c.active.Alloc(rank)
		if !ok {
			return 0, fmt.Errorf("cache: allocation of rank %d failed after growing a fresh span", rank)
		}
	}

	c.observeAlloc()
	return ptr, nil
}

// Zalloc is Alloc with the returned memory zeroed.
func (c *Cache) Zalloc(size uint32) (uintptr, error) {
	ptr, err := c.Alloc(size)
	if err != nil {
		return 0, err
	}
	zero(ptr, size)
	return ptr, nil
}

// Calloc allocates n*size bytes, zeroed, matching the C calling
// convention's overflow check.
func (c *Cache) Calloc(n, size uint32) (uintptr, error) {
	if size != 0 && n > (1<<32-1)/size {
		return 0, fmt.Errorf("cache: calloc(%d, %d) overflows", n, size)
	}
	return c.Zalloc(n * size)
}

// AlignedAlloc returns memory aligned to align bytes, which must be a
// power of two. For align up to UnitSize (1 KiB) the request is rounded
// up to a power-of-two size no smaller than align: large chunks start
// on a unit boundary and a power-of-two slot sits at a multiple of its
// own size inside a unit-aligned block, so the result is aligned.
// Larger alignments over-allocate by align and round the returned
// pointer up inside that allocation.
func (c *Cache) AlignedAlloc(align int, size uint32) (uintptr, error) {
	if align <= 0 || align&(align-1) != 0 {
		return 0, fmt.Errorf("cache: alignment %d is not a power of two", align)
	}
	if uint32(align) <= constants.UnitSize {
		sz := uint32(align)
		for sz < size && sz < constants.MaxAllocSize {
			sz <<= 1
		}
		if sz < size {
			sz = size
		}
		return c.Alloc(sz)
	}
	raw, err := c.Alloc(size + uint32(align))
	if err != nil {
		return 0, err
	}
	aligned := (raw + uintptr(align) - 1) &^ (uintptr(align) - 1)
	return aligned, nil
}

// Realloc grows or shrinks a previous allocation, copying the lesser
// of the old and new sizes. oldSize must be the size originally
// requested (the cache does not track it per pointer).
func (c *Cache) Realloc(ptr uintptr, oldSize, newSize uint32) (uintptr, error) {
	if ptr == 0 {
		return c.Alloc(newSize)
	}
	if newSize == 0 {
		c.Free(ptr)
		return 0, nil
	}
	if RankOf(newSize) == RankOf(oldSize) {
		return ptr, nil
	}

	newPtr, err := c.Alloc(newSize)
	if err != nil {
		return 0, err
	}
	n := oldSize
	if newSize < n {
		n = newSize
	}
	copyBytes(newPtr, ptr, n)
	c.Free(ptr)
	return newPtr, nil
}

// Free reclaims ptr. If ptr belongs to a span this Cache does not own,
// the free is pushed onto that span's remote-free queue instead of
// being applied directly (§4.2/§4.6).
func (c *Cache) Free(ptr uintptr) {
	if ptr == 0 {
		return
	}
	heapSpan, hugeSpan := classify(ptr)
	switch {
	case hugeSpan != nil:
		c.freeHuge(hugeSpan)
	case heapSpan != nil:
		c.freeHeapPtr(heapSpan, ptr)
	default:
		rterr.PanicFatal("cache.Free", "free of pointer not owned by any known span")
	}
}

func (c *Cache) freeHeapPtr(span *HeapSpan, ptr uintptr) {
	if span.Heap.owner == c.owner {
		span.Heap.Free(ptr)
		c.observeFree(false)
		return
	}
	PushWithRetry(span.Heap.remoteFree, ptr, c.logger)
	c.observeFree(true)
}

func (c *Cache) freeHuge(span *HugeSpan) {
	if span.Owner != c.owner {
		// Huge spans have no MPSC queue of their own; a cross-owner free
		// is rare enough (one allocation per span) that unmapping inline
		// is acceptable instead of adding a second remote-free path.
		_ = span.unmap()
		return
	}
	delete(c.huge, addrOf(span.Base()))
	_ = span.unmap()
}

func (c *Cache) allocHuge(size int) (uintptr, error) {
	span, err := newHugeSpan(size, c.owner)
	if err != nil {
		return 0, err
	}
	if c.observer != nil {
		c.observer.ObserveAlloc()
	}
	c.huge[addrOf(span.Base())] = span
	return addrOf(span.Payload()), nil
}

// growActive makes room for a pending allocation of rank. It first
// sweeps the staging list (§4.2) for a heap that can satisfy rank —
// remote frees drained by Collect may have freed up a staged heap
// since it was parked — and only mmaps a fresh span if none fits.
func (c *Cache) growActive(rank int) error {
	if staged, ok := c.reactivateStaged(rank); ok {
		if c.active != nil {
			c.active.status = heapStaging
			c.active.stagingNext = c.staging
			c.staging = c.active
		}
		c.active = staged
		return nil
	}

	if c.active != nil {
		c.active.status = heapStaging
		c.active.stagingNext = c.staging
		c.staging = c.active
	}
	span, err := newHeapSpan(c.owner)
	if err != nil {
		return fmt.Errorf("cache: growing context %d heap: %w", c.owner, err)
	}
	c.heaps = append(c.heaps, span)
	c.active = span.Heap
	return nil
}

// reactivateStaged unlinks and returns the first staged heap that can
// fit rank, or (nil, false) if none can.
func (c *Cache) reactivateStaged(rank int) (*Heap, bool) {
	var prev *Heap
	for h := c.staging; h != nil; h = h.stagingNext {
		if h.canFit(rank) {
			if prev == nil {
				c.staging = h.stagingNext
			} else {
				prev.stagingNext = h.stagingNext
			}
			h.stagingNext = nil
			h.status = heapActive
			return h, true
		}
		prev = h
	}
	return nil, false
}

// Collect drains every owned heap's remote-free queue, applying the
// frees locally. Callers run this at safe points (e.g. before serving
// a fresh allocation request) rather than on every free, matching
// cache_collect's batched design.
func (c *Cache) Collect() int {
	buf := make([]uintptr, 64)
	total := 0
	for _, span := range c.heaps {
		for {
			n := span.Heap.remoteFree.Drain(buf)
			for i := 0; i < n; i++ {
				span.Heap.Free(buf[i])
			}
			total += n
			if n < len(buf) {
				break
			}
		}
	}
	return total
}

// Close unmaps every span this cache owns. Only safe once nothing else
// references pointers drawn from it.
func (c *Cache) Close() error {
	var firstErr error
	for _, span := range c.heaps {
		if err := span.unmap(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, span := range c.huge {
		if err := span.unmap(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func zero(ptr uintptr, size uint32) {
	b := unsafe.Slice((*byte)(unsafe.Pointer(ptr)), int(size))
	for i := range b {
		b[i] = 0
	}
}

func copyBytes(dst, src uintptr, n uint32) {
	d := unsafe.Slice((*byte)(unsafe.Pointer(dst)), int(n))
	s := unsafe.Slice((*byte)(unsafe.Pointer(src)), int(n))
	copy(d, s)
}

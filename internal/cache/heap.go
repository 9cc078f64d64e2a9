package cache

import (
	"github.com/behrlich/go-fiberrt/internal/constants"
	"github.com/behrlich/go-fiberrt/internal/rterr"
)

// Unit map tags. A unit's tag says what it belongs to without ever
// touching the allocation itself, which is what makes cache_collect
// and free() O(1): classify the pointer, read one byte, act.
const (
	unitTagFree          byte = 0
	unitTagLargeBody     byte = 1
	unitTagLargeHeadBase byte = 2  // + (rank - largeRankMin), ranks 40..71 -> tags 2..33
	unitTagBlockBase     byte = 34 // + blockID, blockID 0..220
)

const largeRankMin = constants.MediumRankMax + 1 // 40

// heapStatus mirrors §4.4's ACTIVE/STAGING split: a STAGING heap is one
// the owner stopped allocating from because a request did not fit; it
// sits on the owner's staging list until growActive finds it able to
// fit a later request and makes it ACTIVE again. Staged heaps stay
// mapped until Cache.Close.
type heapStatus int32

const (
	heapActive heapStatus = iota
	heapStaging
)

// Heap is the allocator state inside one HeapSpan: a unit map, two
// free-list tiers (per-rank large chunks, and blocks of medium/small
// slots carved out of a large chunk), and the remote-free queue
// through which other threads return pointers they don't own.
type Heap struct {
	span   *HeapSpan
	owner  OwnerID
	status heapStatus

	unitMap      []byte
	nextFreeUnit int32

	rankFreeHead [constants.NumRanks]int32 // valid only for large ranks; -1 = empty
	largeNext    []int32                   // per-unit "next free chunk" link, valid when that unit is a free large head

	blocks        []*block
	blockFreeList [constants.NumRanks][]int32 // small/medium ranks -> indices into blocks with a free slot

	remoteFree *RemoteFreeQueue

	stagingNext *Heap // intrusive link for the owner's staging list
}

func newHeap(s *HeapSpan, owner OwnerID) *Heap {
	h := &Heap{
		span:       s,
		owner:      owner,
		status:     heapActive,
		unitMap:    make([]byte, constants.UnitsPerHeap),
		largeNext:  make([]int32, constants.UnitsPerHeap),
		remoteFree: newRemoteFreeQueue(constants.DefaultAsyncQueueSize),
	}
	for i := range h.rankFreeHead {
		h.rankFreeHead[i] = -1
	}
	return h
}

func (h *Heap) payload() []byte { return h.span.Base()[constants.HeapHeaderSize:] }

func (h *Heap) unitAddr(unit int32) uintptr {
	return addrOf(h.span.Base()) + uintptr(constants.HeapHeaderSize) + uintptr(unit)*constants.UnitSize
}

func (h *Heap) unitOf(ptr uintptr) int32 {
	base := addrOf(h.span.Base()) + uintptr(constants.HeapHeaderSize)
	return int32((ptr - base) / constants.UnitSize)
}

// Alloc serves a small/medium/large rank request from this heap.
// Huge ranks are rejected; the cache facade routes those to a
// dedicated HugeSpan instead.
func (h *Heap) Alloc(rank int) (uintptr, bool) {
	switch {
	case IsLarge(rank):
		return h.allocLarge(rank)
	case IsMedium(rank), IsSmall(rank):
		return h.allocSlot(rank)
	default:
		return 0, false
	}
}

func (h *Heap) allocLarge(rank int) (uintptr, bool) {
	unit, ok := h.allocLargeRaw(rank)
	if !ok {
		return 0, false
	}
	return h.unitAddr(unit), true
}

// allocLargeRaw allocates rank's worth of units and returns the head
// unit index, for callers (block carving) that need the raw unit
// rather than a pointer.
func (h *Heap) allocLargeRaw(rank int) (int32, bool) {
	idx := rank - largeRankMin
	if head := h.rankFreeHead[idx]; head != -1 {
		h.rankFreeHead[idx] = h.largeNext[head]
		h.tagLarge(head, rank)
		return head, true
	}

	units := unitsForRank(rank)
	if h.nextFreeUnit+units > constants.UnitsPerHeap {
		return 0, false
	}
	head := h.nextFreeUnit
	h.nextFreeUnit += units
	h.tagLarge(head, rank)
	return head, true
}

func (h *Heap) tagLarge(head int32, rank int) {
	units := unitsForRank(rank)
	h.unitMap[head] = unitTagLargeHeadBase + byte(rank-largeRankMin)
	for u := head + 1; u < head+int32(units); u++ {
		h.unitMap[u] = unitTagLargeBody
	}
}

func (h *Heap) freeLarge(head int32, rank int) {
	idx := rank - largeRankMin
	h.largeNext[head] = h.rankFreeHead[idx]
	h.rankFreeHead[idx] = head
}

// canFit reports whether rank could be allocated from this heap right
// now, without actually reserving anything. Used to sweep the staging
// list (§4.2) for a heap to reactivate before mmapping a fresh span.
func (h *Heap) canFit(rank int) bool {
	switch {
	case IsLarge(rank):
		return h.canFitLarge(rank)
	case IsMedium(rank), IsSmall(rank):
		return h.canFitSlot(rank)
	default:
		return false
	}
}

func (h *Heap) canFitLarge(rank int) bool {
	idx := rank - largeRankMin
	if h.rankFreeHead[idx] != -1 {
		return true
	}
	units := unitsForRank(rank)
	return h.nextFreeUnit+units <= constants.UnitsPerHeap
}

func (h *Heap) canFitSlot(rank int) bool {
	for _, blockID := range h.blockFreeList[rank] {
		if b := h.blocks[blockID]; b != nil && b.freeCount > 0 {
			return true
		}
	}
	blockBytes := uint32(constants.UnitsPerBlock * constants.UnitSize)
	return h.canFitLarge(RankOf(blockBytes))
}

func (h *Heap) allocSlot(rank int) (uintptr, bool) {
	list := h.blockFreeList[rank]
	for len(list) > 0 {
		blockID := list[len(list)-1]
		b := h.blocks[blockID]
		if b == nil || b.freeCount == 0 {
			list = list[:len(list)-1]
			continue
		}
		slot := b.popFreeSlot()
		if b.freeCount == 0 {
			list = list[:len(list)-1]
		}
		h.blockFreeList[rank] = list
		return h.slotAddr(b, slot), true
	}
	h.blockFreeList[rank] = list

	blockID, b, ok := h.newBlockForRank(rank)
	if !ok {
		return 0, false
	}
	slot := b.popFreeSlot()
	if b.freeCount > 0 {
		h.blockFreeList[rank] = append(h.blockFreeList[rank], blockID)
	}
	return h.slotAddr(b, slot), true
}

func (h *Heap) newBlockForRank(rank int) (int32, *block, bool) {
	blockBytes := uint32(constants.UnitsPerBlock * constants.UnitSize)
	blockRank := RankOf(blockBytes)

	head, ok := h.allocLargeRaw(blockRank)
	if !ok {
		return 0, nil, false
	}

	b := newBlock(head, rank, blockBytes)
	blockID := h.registerBlock(b)

	tag := unitTagBlockBase + byte(blockID)
	for u := head; u < head+constants.UnitsPerBlock; u++ {
		h.unitMap[u] = tag
	}
	return int32(blockID), b, true
}

func (h *Heap) registerBlock(b *block) int {
	for i, existing := range h.blocks {
		if existing == nil {
			h.blocks[i] = b
			return i
		}
	}
	h.blocks = append(h.blocks, b)
	return len(h.blocks) - 1
}

func (h *Heap) slotAddr(b *block, slot int) uintptr {
	base := h.unitAddr(b.baseUnit)
	return base + uintptr(slot)*uintptr(b.slotSize)
}

// Free reclaims a pointer previously returned by Alloc on this heap,
// on the owning thread. Cross-thread frees go through RemoteFreeQueue
// instead; the cache facade decides which path applies.
func (h *Heap) Free(ptr uintptr) {
	unit := h.unitOf(ptr)
	tag := h.unitMap[unit]

	switch {
	case tag >= unitTagLargeHeadBase && tag < unitTagBlockBase:
		rank := int(tag-unitTagLargeHeadBase) + largeRankMin
		h.unitMap[unit] = unitTagFree
		h.freeLarge(unit, rank)
	case tag >= unitTagBlockBase:
		h.freeSlot(int(tag-unitTagBlockBase), ptr)
	default:
		rterr.PanicFatal("cache.Free", "free of invalid or already-freed pointer")
	}
}

func (h *Heap) freeSlot(blockID int, ptr uintptr) {
	b := h.blocks[blockID]
	wasFull := b.full()
	slot := int((ptr - h.unitAddr(b.baseUnit)) / uintptr(b.slotSize))
	b.pushFreeSlot(slot)
	if wasFull {
		h.blockFreeList[b.rank] = append(h.blockFreeList[b.rank], int32(blockID))
	}
	if b.empty() {
		h.blocks[blockID] = nil
		h.dropFromFreeList(b.rank, int32(blockID))
		h.freeLarge(b.baseUnit, RankOf(uint32(constants.UnitsPerBlock*constants.UnitSize)))
	}
}

func (h *Heap) dropFromFreeList(rank int, blockID int32) {
	list := h.blockFreeList[rank]
	for i, id := range list {
		if id == blockID {
			h.blockFreeList[rank] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

func unitsForRank(rank int) int32 {
	size := SizeOfRank(rank)
	return int32((size + constants.UnitSize - 1) / constants.UnitSize)
}

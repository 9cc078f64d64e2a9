package cache

import "github.com/behrlich/go-fiberrt/internal/rterr"

// block is a slab of uniform-size slots carved out of one large chunk,
// serving every medium or small rank allocation that rank currently
// has outstanding. A block serves exactly one rank for its lifetime;
// when every slot frees it is returned whole to the large-rank free
// list (freeLarge).
//
// This collapses the two-level block-of-medium-blocks-of-small-blocks
// structure into one level: one block, one bitmap, one rank. See
// DESIGN.md for why.
type block struct {
	baseUnit  int32
	rank      int
	slotSize  uint32
	slotCount int
	freeBits  []uint64
	freeCount int
}

func newBlock(baseUnit int32, rank int, blockBytes uint32) *block {
	slotSize := SizeOfRank(rank)
	slotCount := int(blockBytes / slotSize)
	words := (slotCount + 63) / 64
	b := &block{
		baseUnit:  baseUnit,
		rank:      rank,
		slotSize:  slotSize,
		slotCount: slotCount,
		freeBits:  make([]uint64, words),
		freeCount: slotCount,
	}
	for i := range b.freeBits {
		b.freeBits[i] = ^uint64(0)
	}
	// mask off any padding bits beyond slotCount in the last word
	if rem := slotCount % 64; rem != 0 {
		b.freeBits[words-1] = (uint64(1) << uint(rem)) - 1
	}
	return b
}

// popFreeSlot claims and returns the index of one free slot. Caller
// must check freeCount > 0 first.
func (b *block) popFreeSlot() int {
	for wi, w := range b.freeBits {
		if w == 0 {
			continue
		}
		bit := trailingZeros64(w)
		b.freeBits[wi] &^= 1 << uint(bit)
		b.freeCount--
		return wi*64 + bit
	}
	rterr.PanicFatal("cache.popFreeSlot", "called on a block with no free slots")
	panic("unreachable")
}

// pushFreeSlot returns a slot to the block's free bitmap.
func (b *block) pushFreeSlot(slot int) {
	wi, bit := slot/64, slot%64
	b.freeBits[wi] |= 1 << uint(bit)
	b.freeCount++
}

func (b *block) full() bool  { return b.freeCount == 0 }
func (b *block) empty() bool { return b.freeCount == b.slotCount }

func trailingZeros64(w uint64) int {
	n := 0
	for w&1 == 0 {
		w >>= 1
		n++
	}
	return n
}

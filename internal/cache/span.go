package cache

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/behrlich/go-fiberrt/internal/constants"
)

// mmapRegion is a single anonymous mapping backing one span. Spans are
// always SpanSize-aligned; mmapAligned over-allocates by one SpanSize
// and slices the aligned region out of that mapping, since Linux mmap
// gives no alignment guarantee beyond the page size. The whole mapping,
// slack included, stays mapped until unmap.
type mmapRegion struct {
	raw   []byte // the original, possibly-misaligned mapping (for munmap)
	bytes []byte // the SpanSize-aligned, size-long usable region
	base  uintptr
}

func mmapAligned(size int) (*mmapRegion, error) {
	raw, err := unix.Mmap(-1, 0, size+constants.SpanSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("mmap %d bytes: %w", size+constants.SpanSize, err)
	}

	rawBase := addrOf(raw)
	aligned := alignUp(rawBase, constants.SpanSize)
	offset := int(aligned - rawBase)

	return &mmapRegion{
		raw:   raw,
		bytes: raw[offset : offset+size],
		base:  aligned,
	}, nil
}

func (m *mmapRegion) unmap() error {
	return unix.Munmap(m.raw)
}

// OwnerID identifies the context that owns a span, used only for the
// remote-free path (a freeing thread compares its own id against this
// to decide whether to push onto the span's MPSC queue).
type OwnerID int

// HeapSpan is a 2 MiB-aligned region holding many ranks of chunks. The
// first HeapHeaderSize bytes are reserved for the unit map and heap
// metadata; the remainder is divided into UnitSize (1 KiB) units.
type HeapSpan struct {
	region *mmapRegion
	Heap   *Heap
}

// HugeSpan is a 2 MiB-aligned region holding exactly one oversize
// allocation that bypassed the rank system.
type HugeSpan struct {
	region *mmapRegion
	Size   int
	Owner  OwnerID
}

// Base returns the span-aligned start address as a byte slice spanning
// the whole mapping.
func (s *HeapSpan) Base() []byte { return s.region.bytes }
func (s *HugeSpan) Base() []byte { return s.region.bytes }

// Payload returns the huge span's usable allocation, sized exactly to
// the request (the remainder of the 2 MiB mapping, if any, is unused
// padding, matching "sized to fit").
func (s *HugeSpan) Payload() []byte { return s.region.bytes[:s.Size] }

func newHeapSpan(owner OwnerID) (*HeapSpan, error) {
	region, err := mmapAligned(constants.SpanSize)
	if err != nil {
		return nil, err
	}
	s := &HeapSpan{region: region}
	s.Heap = newHeap(s, owner)
	registerHeapSpan(region.base, s)
	return s, nil
}

func newHugeSpan(size int, owner OwnerID) (*HugeSpan, error) {
	region, err := mmapAligned(size)
	if err != nil {
		return nil, err
	}
	s := &HugeSpan{region: region, Size: size, Owner: owner}
	registerHugeSpan(region.base, s)
	return s, nil
}

func (s *HeapSpan) unmap() error {
	unregisterSpan(s.region.base)
	return s.region.unmap()
}

func (s *HugeSpan) unmap() error {
	unregisterSpan(s.region.base)
	return s.region.unmap()
}

func alignUp(v uintptr, align int) uintptr {
	a := uintptr(align)
	return (v + a - 1) &^ (a - 1)
}

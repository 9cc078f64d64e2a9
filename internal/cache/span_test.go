package cache

import (
	"testing"

	"github.com/behrlich/go-fiberrt/internal/constants"
)

func TestMmapAlignedReturnsSpanAlignedRegion(t *testing.T) {
	r, err := mmapAligned(constants.SpanSize)
	if err != nil {
		t.Fatalf("mmapAligned: %v", err)
	}
	defer r.unmap()

	if r.base%constants.SpanSize != 0 {
		t.Errorf("base %#x not SpanSize-aligned", r.base)
	}
	if len(r.bytes) != constants.SpanSize {
		t.Errorf("len(bytes) = %d, want %d", len(r.bytes), constants.SpanSize)
	}
}

func TestNewHeapSpanRegistersForClassification(t *testing.T) {
	s, err := newHeapSpan(OwnerID(7))
	if err != nil {
		t.Fatalf("newHeapSpan: %v", err)
	}
	defer s.unmap()

	ptr := addrOf(s.Base()) + constants.HeapHeaderSize
	heap, huge := classify(ptr)
	if huge != nil {
		t.Error("expected a heap span, not huge")
	}
	if heap != s {
		t.Error("classify did not resolve back to the originating span")
	}
}

func TestNewHugeSpanPayloadSizedToRequest(t *testing.T) {
	s, err := newHugeSpan(3<<20, OwnerID(1))
	if err != nil {
		t.Fatalf("newHugeSpan: %v", err)
	}
	defer s.unmap()

	if len(s.Payload()) != 3<<20 {
		t.Errorf("len(Payload()) = %d, want %d", len(s.Payload()), 3<<20)
	}

	_, huge := classify(addrOf(s.Base()))
	if huge != s {
		t.Error("classify did not resolve back to the originating huge span")
	}
}

func TestUnregisterSpanRemovesFromClassification(t *testing.T) {
	s, err := newHeapSpan(OwnerID(1))
	if err != nil {
		t.Fatalf("newHeapSpan: %v", err)
	}
	base := addrOf(s.Base())
	if err := s.unmap(); err != nil {
		t.Fatalf("unmap: %v", err)
	}

	heap, huge := classify(base)
	if heap != nil || huge != nil {
		t.Error("expected classify to find nothing after unmap")
	}
}

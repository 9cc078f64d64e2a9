package dispatch

import "testing"

func TestGetReadBufferPicksSmallestSufficientBucket(t *testing.T) {
	cases := []struct {
		size uint32
		want int
	}{
		{100, size4k},
		{size4k + 1, size64k},
		{size64k + 1, size256k},
		{size256k + 1, size1m},
	}
	for _, c := range cases {
		buf := GetReadBuffer(c.size)
		if len(buf) != int(c.size) {
			t.Errorf("len = %d, want %d", len(buf), c.size)
		}
		if cap(buf) != c.want {
			t.Errorf("size %d: cap = %d, want bucket %d", c.size, cap(buf), c.want)
		}
		PutReadBuffer(buf)
	}
}

func TestGetReadBufferOversizeBypassesPool(t *testing.T) {
	buf := GetReadBuffer(size1m + 1)
	if len(buf) != size1m+1 {
		t.Errorf("len = %d, want %d", len(buf), size1m+1)
	}
	PutReadBuffer(buf) // must not panic on a non-bucket capacity
}

func TestPutReadBufferRoundTrips(t *testing.T) {
	buf := GetReadBuffer(size4k)
	PutReadBuffer(buf)
	again := GetReadBuffer(size4k)
	if cap(again) != size4k {
		t.Errorf("cap = %d, want %d", cap(again), size4k)
	}
}

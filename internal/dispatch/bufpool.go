package dispatch

import "sync"

// Buffer size buckets for GetReadBuffer/PutReadBuffer. Covers typical
// socket read sizes up to 1 MiB; anything larger is allocated directly
// and never pooled.
const (
	size4k   = 4 * 1024
	size64k  = 64 * 1024
	size256k = 256 * 1024
	size1m   = 1024 * 1024
)

var readBufPool = struct {
	pool4k   sync.Pool
	pool64k  sync.Pool
	pool256k sync.Pool
	pool1m   sync.Pool
}{
	pool4k:   sync.Pool{New: func() any { b := make([]byte, size4k); return &b }},
	pool64k:  sync.Pool{New: func() any { b := make([]byte, size64k); return &b }},
	pool256k: sync.Pool{New: func() any { b := make([]byte, size256k); return &b }},
	pool1m:   sync.Pool{New: func() any { b := make([]byte, size1m); return &b }},
}

// GetReadBuffer returns a pooled buffer of at least size, sized to one
// of a small set of power-of-four buckets so sinks reading off a
// readable fd don't allocate on every OnReadable call. Callers must
// return it with PutReadBuffer once done.
func GetReadBuffer(size uint32) []byte {
	switch {
	case size <= size4k:
		return (*readBufPool.pool4k.Get().(*[]byte))[:size]
	case size <= size64k:
		return (*readBufPool.pool64k.Get().(*[]byte))[:size]
	case size <= size256k:
		return (*readBufPool.pool256k.Get().(*[]byte))[:size]
	case size <= size1m:
		return (*readBufPool.pool1m.Get().(*[]byte))[:size]
	default:
		return make([]byte, size)
	}
}

// PutReadBuffer returns buf to its bucket's pool, determined by
// capacity. Buffers with a non-bucket capacity (the size > 1 MiB
// fallback) are simply dropped.
func PutReadBuffer(buf []byte) {
	c := cap(buf)
	buf = buf[:c]
	switch c {
	case size4k:
		readBufPool.pool4k.Put(&buf)
	case size64k:
		readBufPool.pool64k.Put(&buf)
	case size256k:
		readBufPool.pool256k.Put(&buf)
	case size1m:
		readBufPool.pool1m.Put(&buf)
	}
}

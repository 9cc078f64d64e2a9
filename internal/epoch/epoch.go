// Package epoch implements three-epoch reclamation for sinks retired
// while another thread may still hold a reference acquired through
// Enter/Exit. The global epoch is odd, starting at InitialEpoch, and
// advances by EpochAdvanceStep; an object retired at epoch G is safe
// to destroy once the global epoch has advanced past G+ReclaimDelayEpochs,
// i.e. after ReclaimDelayEpochs advances.
package epoch

import (
	"sync"
	"sync/atomic"

	"github.com/behrlich/go-fiberrt/internal/constants"
	"github.com/behrlich/go-fiberrt/internal/interfaces"
)

// Retired is anything a listener has stopped dispatching to but whose
// memory another thread's in-flight Enter/Exit section might still
// touch (typically a Sink pending Close).
type Retired struct {
	Epoch uint64
	Close func() error
}

// Reclaimer tracks the global epoch, each reader's last-observed entry
// epoch, and the limbo lists of objects retired at each epoch still
// within the reclamation delay.
type Reclaimer struct {
	global atomic.Uint64

	mu      sync.Mutex
	readers map[int]*atomic.Uint64 // reader id -> epoch it entered at (0 = not in a critical section)
	limbo   map[uint64][]Retired

	observer interfaces.Observer
}

func New(observer interfaces.Observer) *Reclaimer {
	r := &Reclaimer{
		readers:  make(map[int]*atomic.Uint64),
		limbo:    make(map[uint64][]Retired),
		observer: observer,
	}
	r.global.Store(constants.InitialEpoch)
	return r
}

// Register allocates a reader slot for a context id. Must be called
// once per context before it ever calls Enter.
func (r *Reclaimer) Register(readerID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.readers[readerID]; !ok {
		r.readers[readerID] = &atomic.Uint64{}
	}
}

// Enter marks readerID as active in the current global epoch. Every
// Enter must be paired with Exit; readers that never enter are treated
// as never holding a reference and don't block reclamation.
func (r *Reclaimer) Enter(readerID int) {
	r.mu.Lock()
	counter := r.readers[readerID]
	r.mu.Unlock()
	counter.Store(r.global.Load())
}

// Exit clears readerID's recorded epoch, signaling it holds no
// reference that could be invalidated by a pending reclaim.
func (r *Reclaimer) Exit(readerID int) {
	r.mu.Lock()
	counter := r.readers[readerID]
	r.mu.Unlock()
	counter.Store(0)
}

// Retire queues close to run once every reader has advanced past the
// current epoch by ReclaimDelayEpochs.
func (r *Reclaimer) Retire(close func() error) {
	g := r.global.Load()
	r.mu.Lock()
	r.limbo[g] = append(r.limbo[g], Retired{Epoch: g, Close: close})
	r.mu.Unlock()
	if r.observer != nil {
		r.observer.ObserveSinkRetired()
	}
}

// Advance bumps the global epoch and reclaims everything retired at
// least ReclaimDelayEpochs epochs ago whose epoch no active reader is
// still pinned at or before. Returns the number of objects reclaimed.
func (r *Reclaimer) Advance() int {
	next := r.global.Add(constants.EpochAdvanceStep)

	safeBefore := safeThreshold(next)

	r.mu.Lock()
	minReader := r.minReaderEpochLocked()
	var toReclaim []Retired
	for epoch, objs := range r.limbo {
		if epoch <= safeBefore && (minReader == 0 || epoch < minReader) {
			toReclaim = append(toReclaim, objs...)
			delete(r.limbo, epoch)
		}
	}
	r.mu.Unlock()

	if r.observer != nil {
		r.observer.ObserveEpochAdvance()
	}
	for _, obj := range toReclaim {
		_ = obj.Close()
		if r.observer != nil {
			r.observer.ObserveSinkReclaimed()
		}
	}
	return len(toReclaim)
}

func safeThreshold(global uint64) uint64 {
	delay := uint64(constants.ReclaimDelayEpochs) * constants.EpochAdvanceStep
	if global <= delay {
		return 0
	}
	return global - delay
}

// minReaderEpochLocked returns the smallest nonzero epoch any
// registered reader is currently pinned at, or 0 if none are active.
func (r *Reclaimer) minReaderEpochLocked() uint64 {
	var min uint64
	for _, counter := range r.readers {
		e := counter.Load()
		if e == 0 {
			continue
		}
		if min == 0 || e < min {
			min = e
		}
	}
	return min
}

// PendingCount returns the number of objects still awaiting
// reclamation, for tests and diagnostics.
func (r *Reclaimer) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, objs := range r.limbo {
		n += len(objs)
	}
	return n
}

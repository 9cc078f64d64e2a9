package constants

import "time"

// Default runtime configuration constants
const (
	// DefaultThreadCount is the default number of OS threads started by
	// Runtime.Start when Params.ThreadCount is zero (one per context).
	DefaultThreadCount = 4

	// DefaultAsyncQueueSize is the default capacity of a context's MPMC
	// async-call ring. Must be a power of two.
	DefaultAsyncQueueSize = 1024

	// MinAsyncQueueSize is the smallest allowed async-queue capacity.
	MinAsyncQueueSize = 16

	// DefaultFiberStackSize is the default fiber stack reservation.
	// Unused when fibers are backed by goroutines, kept so callers sizing
	// pools by hand get a sane default either way.
	DefaultFiberStackSize = 64 * 1024

	// DefaultRunQueuePriority is the priority assigned to a fiber started
	// without an explicit priority.
	DefaultRunQueuePriority = 16

	// NumPriorityLevels is the width of the run-queue priority bitmap.
	NumPriorityLevels = 32

	// RequestThreshold is the low-water mark (§4.3 task-list policy): a
	// context with fewer than this many queued tasks may issue a single
	// in-flight reassignment request to an over-loaded peer.
	RequestThreshold = 9

	// DistributeThresholdNum/Den express DistributeThreshold as a
	// fraction of the dispatcher's per-poll event batch size (≈ 3/4).
	DistributeThresholdNum = 3
	DistributeThresholdDen = 4

	// PeerReassignCombinedMax bounds the combined queue+pending total a
	// peer may have and still be eligible to receive a reassigned chunk.
	PeerReassignCombinedMax = 6
)

// Memory cache geometry
const (
	// SpanSize is the alignment and size of a heap span (2 MiB).
	SpanSize = 2 << 20

	// HeapHeaderSize is the portion of a heap span reserved for the unit
	// map and heap metadata (4 KiB); the remainder is unit-addressable.
	HeapHeaderSize = 4 << 10

	// UnitSize is the granularity of the unit map (1 KiB).
	UnitSize = 1 << 10

	// UnitsPerHeap is the number of 1 KiB units in the allocatable
	// portion of a heap span: (2 MiB - 4 KiB) / 1 KiB = 2044.
	UnitsPerHeap = (SpanSize - HeapHeaderSize) / UnitSize

	// NumRanks is the total number of size-class ranks. Rank k has size
	// (4 | (k mod 4)) << (k div 4), four sizes per power-of-two bracket.
	NumRanks = 72

	// SmallRankMax is the last small rank; ranks [0, SmallRankMax] are
	// small. Small and medium ranks are both served as slots of a block's
	// free bitmap.
	SmallRankMax = 19

	// MediumRankMax is the last medium rank; ranks (SmallRankMax,
	// MediumRankMax] are medium.
	MediumRankMax = 39

	// LargeRankMax is the last rank served directly from a heap's rank
	// free lists; ranks (MediumRankMax, LargeRankMax] are large. Sizes
	// requesting a rank beyond this get their own huge span.
	LargeRankMax = 71

	// UnitsPerBlock is the number of 1 KiB units composing one large
	// chunk used as a block; a block holds 32 KiB / slot size uniform
	// slots of one small or medium rank.
	UnitsPerBlock = 32

	// MaxAllocSize is the largest allocation the cache will serve out of
	// a heap span; above this the request gets a dedicated huge span.
	MaxAllocSize = 1 << 20
)

// Epoch reclamation constants
const (
	// InitialEpoch is the dispatcher's starting global epoch. Odd values
	// encode a non-zero "active" marker; the epoch advances by 2.
	InitialEpoch = 1

	// EpochAdvanceStep is added to the global epoch on each advance.
	EpochAdvanceStep = 2

	// ReclaimDelayEpochs is how many epoch advances must elapse after a
	// sink is retired before it is safe to destroy (a sink retired at
	// global epoch G becomes reclaimable at G+4).
	ReclaimDelayEpochs = 2
)

// Remote-free retry escalation thresholds (§4.2/§4.3): consecutive
// try_call failures against a full queue escalate through these log
// levels; at RemoteFreeFatalThreshold the retry loop logs an error and
// gives up, dropping the call.
const (
	RemoteFreeWarnThreshold  = 64
	RemoteFreeErrorThreshold = 512
	RemoteFreeFatalThreshold = 4096
)

// Dispatcher and listener timing
const (
	// DefaultPollTimeout bounds how long a listener blocks in the kernel
	// event backend when it has no pending work and no notification.
	DefaultPollTimeout = 100 * time.Millisecond

	// DefaultEventBatchSize is the number of readiness events drained per
	// poll call; DistributeThreshold is derived as a fraction of this.
	DefaultEventBatchSize = 256

	// ShutdownDrainTimeout bounds how long Runtime.Stop waits for
	// in-flight async calls and tasks to drain before forcing a return.
	ShutdownDrainTimeout = 5 * time.Second
)

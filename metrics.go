package fiberrt

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the async-call round-trip latency histogram
// buckets in nanoseconds. Buckets cover from 1us to 10s with
// logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks performance and operational statistics for a Runtime.
// Every field is safe for concurrent use from any context's thread.
type Metrics struct {
	// Fiber scheduler counters
	FiberSwitches  atomic.Uint64 // total stack switches performed
	FibersCreated  atomic.Uint64 // fibers handed out by the pool
	FibersExited   atomic.Uint64 // fibers that ran to completion
	FibersCanceled atomic.Uint64 // fibers that exited via cancellation

	// Async-call transport counters (component C)
	AsyncCallsSent     atomic.Uint64 // async_call_k / async_post_k invocations
	AsyncCallsExecuted atomic.Uint64 // async calls drained and executed
	AsyncCallsInline   atomic.Uint64 // post() that fell back to direct local execution
	AsyncQueueFull     atomic.Uint64 // try_call failures due to a full ring

	// Task list counters (component D)
	TasksAppended   atomic.Uint64
	TasksExecuted   atomic.Uint64
	TasksReassigned atomic.Uint64

	// Memory cache counters (component B)
	AllocOps      atomic.Uint64
	FreeOps       atomic.Uint64
	RemoteFreeOps atomic.Uint64
	AllocFailures atomic.Uint64
	HeapSpans     atomic.Uint64
	HugeSpans     atomic.Uint64

	// Event dispatch counters (component F)
	ListenerParks atomic.Uint64 // transitions into POLLING/WAITING
	ListenerWakes atomic.Uint64 // transitions back to RUNNING
	SinkEvents    atomic.Uint64 // readiness events delivered to sinks

	// Epoch reclamation counters (component G)
	EpochAdvances  atomic.Uint64
	SinksRetired   atomic.Uint64
	SinksReclaimed atomic.Uint64

	// Async-call round-trip latency histogram (cumulative counts)
	LatencyBuckets [numLatencyBuckets]atomic.Uint64
	TotalLatencyNs atomic.Uint64
	LatencySamples atomic.Uint64

	// Runtime lifecycle
	StartTime atomic.Int64 // UnixNano
	StopTime  atomic.Int64 // UnixNano
}

// NewMetrics creates a new metrics instance with StartTime set to now.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordFiberSwitch records one stack switch between fibers.
func (m *Metrics) RecordFiberSwitch() {
	m.FiberSwitches.Add(1)
}

// RecordFiberCreated records a fiber handed out by the pool.
func (m *Metrics) RecordFiberCreated() {
	m.FibersCreated.Add(1)
}

// RecordFiberExit records a fiber's terminal transition, distinguishing
// a normal return from a cancellation-driven exit.
func (m *Metrics) RecordFiberExit(canceled bool) {
	m.FibersExited.Add(1)
	if canceled {
		m.FibersCanceled.Add(1)
	}
}

// RecordAsyncCall records an async_call/async_post send, and whether it
// resolved to an inline local execution (post() with no eligible peer).
func (m *Metrics) RecordAsyncCall(inline bool) {
	m.AsyncCallsSent.Add(1)
	if inline {
		m.AsyncCallsInline.Add(1)
	}
}

// RecordAsyncCallExecuted records an async call drained and run on its
// target context, along with the enqueue-to-execute latency.
func (m *Metrics) RecordAsyncCallExecuted(latencyNs uint64) {
	m.AsyncCallsExecuted.Add(1)
	m.recordLatency(latencyNs)
}

// RecordAsyncQueueFull records a try_call that found no free ring slot.
func (m *Metrics) RecordAsyncQueueFull() {
	m.AsyncQueueFull.Add(1)
}

// RecordTaskAppended records one task appended to a context's task list.
func (m *Metrics) RecordTaskAppended() {
	m.TasksAppended.Add(1)
}

// RecordTaskExecuted records one task drained and executed locally.
func (m *Metrics) RecordTaskExecuted() {
	m.TasksExecuted.Add(1)
}

// RecordTaskReassigned records one task transferred to a peer context.
func (m *Metrics) RecordTaskReassigned(n uint64) {
	m.TasksReassigned.Add(n)
}

// RecordAlloc records a successful allocation from the per-context cache.
func (m *Metrics) RecordAlloc() {
	m.AllocOps.Add(1)
}

// RecordFree records a free, local or remote.
func (m *Metrics) RecordFree(remote bool) {
	m.FreeOps.Add(1)
	if remote {
		m.RemoteFreeOps.Add(1)
	}
}

// RecordAllocFailure records an out-of-memory allocation attempt.
func (m *Metrics) RecordAllocFailure() {
	m.AllocFailures.Add(1)
}

// RecordSpanMapped records a newly mmap'd span, heap or huge.
func (m *Metrics) RecordSpanMapped(huge bool) {
	if huge {
		m.HugeSpans.Add(1)
	} else {
		m.HeapSpans.Add(1)
	}
}

// RecordListenerPark records a listener transition into POLLING/WAITING.
func (m *Metrics) RecordListenerPark() {
	m.ListenerParks.Add(1)
}

// RecordListenerWake records a listener transition back to RUNNING.
func (m *Metrics) RecordListenerWake() {
	m.ListenerWakes.Add(1)
}

// RecordSinkEvent records one readiness event delivered to a sink.
func (m *Metrics) RecordSinkEvent() {
	m.SinkEvents.Add(1)
}

// RecordEpochAdvance records one successful global epoch advance.
func (m *Metrics) RecordEpochAdvance() {
	m.EpochAdvances.Add(1)
}

// RecordSinkRetired records a sink pushed onto a listener's retire queue.
func (m *Metrics) RecordSinkRetired() {
	m.SinksRetired.Add(1)
}

// RecordSinkReclaimed records a sink's destroy callback having run.
func (m *Metrics) RecordSinkReclaimed() {
	m.SinksReclaimed.Add(1)
}

// recordLatency records a latency sample and updates histogram buckets.
func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.LatencySamples.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the runtime as stopped.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time, non-atomic copy of Metrics safe to
// hand to callers (e.g. for logging or a status endpoint).
type MetricsSnapshot struct {
	FiberSwitches  uint64
	FibersCreated  uint64
	FibersExited   uint64
	FibersCanceled uint64

	AsyncCallsSent     uint64
	AsyncCallsExecuted uint64
	AsyncCallsInline   uint64
	AsyncQueueFull     uint64

	TasksAppended   uint64
	TasksExecuted   uint64
	TasksReassigned uint64

	AllocOps      uint64
	FreeOps       uint64
	RemoteFreeOps uint64
	AllocFailures uint64
	HeapSpans     uint64
	HugeSpans     uint64

	ListenerParks uint64
	ListenerWakes uint64
	SinkEvents    uint64

	EpochAdvances  uint64
	SinksRetired   uint64
	SinksReclaimed uint64

	AvgLatencyNs     uint64
	LatencyP50Ns     uint64
	LatencyP99Ns     uint64
	LatencyP999Ns    uint64
	LatencyHistogram [numLatencyBuckets]uint64

	UptimeNs uint64
}

// Snapshot creates a point-in-time snapshot of metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		FiberSwitches:      m.FiberSwitches.Load(),
		FibersCreated:      m.FibersCreated.Load(),
		FibersExited:       m.FibersExited.Load(),
		FibersCanceled:     m.FibersCanceled.Load(),
		AsyncCallsSent:     m.AsyncCallsSent.Load(),
		AsyncCallsExecuted: m.AsyncCallsExecuted.Load(),
		AsyncCallsInline:   m.AsyncCallsInline.Load(),
		AsyncQueueFull:     m.AsyncQueueFull.Load(),
		TasksAppended:      m.TasksAppended.Load(),
		TasksExecuted:      m.TasksExecuted.Load(),
		TasksReassigned:    m.TasksReassigned.Load(),
		AllocOps:           m.AllocOps.Load(),
		FreeOps:            m.FreeOps.Load(),
		RemoteFreeOps:      m.RemoteFreeOps.Load(),
		AllocFailures:      m.AllocFailures.Load(),
		HeapSpans:          m.HeapSpans.Load(),
		HugeSpans:          m.HugeSpans.Load(),
		ListenerParks:      m.ListenerParks.Load(),
		ListenerWakes:      m.ListenerWakes.Load(),
		SinkEvents:         m.SinkEvents.Load(),
		EpochAdvances:      m.EpochAdvances.Load(),
		SinksRetired:       m.SinksRetired.Load(),
		SinksReclaimed:     m.SinksReclaimed.Load(),
	}

	totalLatencyNs := m.TotalLatencyNs.Load()
	samples := m.LatencySamples.Load()
	if samples > 0 {
		snap.AvgLatencyNs = totalLatencyNs / samples
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if samples > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile
// (0.0-1.0) using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalSamples := m.LatencySamples.Load()
	if totalSamples == 0 {
		return 0
	}

	targetCount := uint64(float64(totalSamples) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset zeroes all counters, useful between test scenarios.
func (m *Metrics) Reset() {
	*m = Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
}

// Observer allows pluggable metrics collection alongside, or instead
// of, the built-in Metrics type.
type Observer interface {
	ObserveFiberSwitch()
	ObserveAsyncCall(inline bool)
	ObserveAsyncCallExecuted(latencyNs uint64)
	ObserveAlloc()
	ObserveFree(remote bool)
	ObserveEpochAdvance()
	ObserveListenerPark()
	ObserveListenerWake()
	ObserveSinkEvent()
	ObserveSinkRetired()
	ObserveSinkReclaimed()
}

// NoOpObserver is an Observer that discards every callback.
type NoOpObserver struct{}

func (NoOpObserver) ObserveFiberSwitch()             {}
func (NoOpObserver) ObserveAsyncCall(bool)           {}
func (NoOpObserver) ObserveAsyncCallExecuted(uint64) {}
func (NoOpObserver) ObserveAlloc()                   {}
func (NoOpObserver) ObserveFree(bool)                {}
func (NoOpObserver) ObserveEpochAdvance()             {}
func (NoOpObserver) ObserveListenerPark()            {}
func (NoOpObserver) ObserveListenerWake()             {}
func (NoOpObserver) ObserveSinkEvent()                {}
func (NoOpObserver) ObserveSinkRetired()              {}
func (NoOpObserver) ObserveSinkReclaimed()            {}

// MetricsObserver implements Observer by recording into a Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records into m.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveFiberSwitch() { o.metrics.RecordFiberSwitch() }
func (o *MetricsObserver) ObserveAsyncCall(inline bool) {
	o.metrics.RecordAsyncCall(inline)
}
func (o *MetricsObserver) ObserveAsyncCallExecuted(latencyNs uint64) {
	o.metrics.RecordAsyncCallExecuted(latencyNs)
}
func (o *MetricsObserver) ObserveAlloc()           { o.metrics.RecordAlloc() }
func (o *MetricsObserver) ObserveFree(remote bool) { o.metrics.RecordFree(remote) }
func (o *MetricsObserver) ObserveEpochAdvance()    { o.metrics.RecordEpochAdvance() }
func (o *MetricsObserver) ObserveListenerPark()    { o.metrics.RecordListenerPark() }
func (o *MetricsObserver) ObserveListenerWake()    { o.metrics.RecordListenerWake() }
func (o *MetricsObserver) ObserveSinkEvent()       { o.metrics.RecordSinkEvent() }
func (o *MetricsObserver) ObserveSinkRetired()     { o.metrics.RecordSinkRetired() }
func (o *MetricsObserver) ObserveSinkReclaimed()   { o.metrics.RecordSinkReclaimed() }

var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)

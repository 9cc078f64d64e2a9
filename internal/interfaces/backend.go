// Package interfaces provides internal interface definitions for the
// runtime. These are separate from the public package's interfaces to
// avoid circular imports between fiberrt and its internal packages.
package interfaces

// Sink is the vtable a registered event source implements: readable/
// writable file-descriptor I/O plus lifecycle hooks driven by the
// listener state machine and epoch reclamation.
type Sink interface {
	FD() int
	OnReadable() error
	OnWritable() error
	Close() error
}

// FixedSink is the subset of sinks whose owning listener never changes
// (e.g. a timer or signal sink bound at registration time).
type FixedSink interface {
	Sink
	Fixed() bool
}

// Logger is the logging interface used by internal packages. *logging.Logger
// and the zap adapter both satisfy it.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Observer is the metrics-collection interface for runtime components.
// Implementations must be thread-safe: methods are called from fiber,
// dispatch, and cache code running on any context's OS thread.
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

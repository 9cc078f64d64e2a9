// Package fiberrt is a multi-threaded fiber and event-dispatch runtime:
// a pool of OS threads, each running a cooperative stackful-fiber
// scheduler, exchanging work through lock-free async calls and
// servicing readiness events from a shared kernel event backend.
package fiberrt

import (
	"syscall"

	"github.com/behrlich/go-fiberrt/internal/rterr"
)

// Kind is a stable, non-string-typed error category. Callers should
// branch on Kind rather than inspect messages. Defined in
// internal/rterr so internal packages (cache, sched) can raise the
// same structured errors without importing this package.
type Kind = rterr.Kind

const (
	// KindUnknown is the zero value and should never be returned.
	KindUnknown          = rterr.KindUnknown
	KindOutOfMemory      = rterr.KindOutOfMemory
	KindAlignmentInvalid = rterr.KindAlignmentInvalid
	KindOverflow         = rterr.KindOverflow
	KindQueueFull        = rterr.KindQueueFull
	KindTimeout          = rterr.KindTimeout
	KindCanceled         = rterr.KindCanceled
	KindClosed           = rterr.KindClosed
	KindIOError          = rterr.KindIOError
	KindFatal            = rterr.KindFatal
)

// Error is a structured runtime error with enough context to route to
// the right recovery path without parsing strings.
type Error = rterr.Error

// NewError builds a structured error with an operation tag and category.
func NewError(op string, kind Kind, msg string) *Error {
	return rterr.NewError(op, kind, msg)
}

// NewErrnoError builds a structured error carrying a kernel errno.
func NewErrnoError(op string, kind Kind, errno syscall.Errno) *Error {
	return rterr.NewErrnoError(op, kind, errno)
}

// NewContextError builds a structured error scoped to a context.
func NewContextError(op string, contextID int, kind Kind, msg string) *Error {
	return rterr.NewContextError(op, contextID, kind, msg)
}

// NewSinkError builds a structured error scoped to a registered sink.
func NewSinkError(op string, fd int, kind Kind, msg string) *Error {
	return rterr.NewSinkError(op, fd, kind, msg)
}

// WrapError wraps an arbitrary error with runtime context, mapping
// syscall.Errno values onto the stable Kind enumeration.
func WrapError(op string, inner error) *Error {
	return rterr.WrapError(op, inner)
}

func mapErrnoToKind(errno syscall.Errno) Kind {
	return rterr.MapErrnoToKind(errno)
}

// IsKind reports whether err is, or wraps, a structured *Error of kind.
func IsKind(err error, kind Kind) bool {
	return rterr.IsKind(err, kind)
}

// panicFatal aborts the process for an invariant violation (corrupted
// unit map, double free, impossible scheduler state). FATAL errors are
// never recovered; the caller is expected to let this propagate.
func panicFatal(op string, msg string) {
	rterr.PanicFatal(op, msg)
}

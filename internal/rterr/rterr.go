// Package rterr holds the structured-error machinery shared by the
// public fiberrt package and internal packages (internal/cache,
// internal/sched) that need to raise a FATAL invariant-violation panic
// without importing the root package and creating an import cycle
// (fiberrt -> internal/bootstrap -> internal/cache -> fiberrt). The
// root package's errors.go re-exports these names as its public API.
package rterr

import (
	"errors"
	"fmt"
	"syscall"
)

// Kind is a stable, non-string-typed error category. Callers should
// branch on Kind rather than inspect messages.
type Kind int

const (
	// KindUnknown is the zero value and should never be returned.
	KindUnknown Kind = iota
	KindOutOfMemory
	KindAlignmentInvalid
	KindOverflow
	KindQueueFull
	KindTimeout
	KindCanceled
	KindClosed
	KindIOError
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindOutOfMemory:
		return "out of memory"
	case KindAlignmentInvalid:
		return "invalid alignment"
	case KindOverflow:
		return "arithmetic overflow"
	case KindQueueFull:
		return "queue full"
	case KindTimeout:
		return "timeout"
	case KindCanceled:
		return "canceled"
	case KindClosed:
		return "closed"
	case KindIOError:
		return "I/O error"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is a structured runtime error with enough context to route to
// the right recovery path without parsing strings.
type Error struct {
	Op        string        // operation that failed, e.g. "cache.Alloc", "sched.Run"
	ContextID int           // owning context id (-1 if not applicable)
	FiberID   uint64        // fiber id (0 if not applicable)
	SinkFD    int           // sink file descriptor (-1 if not applicable)
	Kind      Kind          // high-level error category
	Errno     syscall.Errno // kernel errno, 0 if not applicable
	Msg       string        // human-readable message
	Inner     error         // wrapped error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.ContextID != 0 {
		parts = append(parts, fmt.Sprintf("ctx=%d", e.ContextID))
	}
	if e.SinkFD > 0 {
		parts = append(parts, fmt.Sprintf("fd=%d", e.SinkFD))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}

	if len(parts) > 0 {
		return fmt.Sprintf("fiberrt: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("fiberrt: %s", msg)
}

// Unwrap supports errors.Is/As against the wrapped inner error.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is supports errors.Is comparisons against another *Error (or a
// kindError) with the same Kind.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if k, ok := target.(kindError); ok {
		return e.Kind == Kind(k)
	}
	if te, ok := target.(*Error); ok {
		return e.Kind == te.Kind
	}
	return false
}

// kindError is an error form of a Kind that Is also matches. Nothing
// outside this package can construct one, and a bare Kind is not an
// error, so callers compare categories with IsKind.
type kindError Kind

func (k kindError) Error() string { return Kind(k).String() }

// NewError builds a structured error with an operation tag and category.
func NewError(op string, kind Kind, msg string) *Error {
	return &Error{Op: op, ContextID: -1, SinkFD: -1, Kind: kind, Msg: msg}
}

// NewErrnoError builds a structured error carrying a kernel errno.
func NewErrnoError(op string, kind Kind, errno syscall.Errno) *Error {
	return &Error{Op: op, ContextID: -1, SinkFD: -1, Kind: kind, Errno: errno, Msg: errno.Error()}
}

// NewContextError builds a structured error scoped to a context.
func NewContextError(op string, contextID int, kind Kind, msg string) *Error {
	return &Error{Op: op, ContextID: contextID, SinkFD: -1, Kind: kind, Msg: msg}
}

// NewSinkError builds a structured error scoped to a registered sink.
func NewSinkError(op string, fd int, kind Kind, msg string) *Error {
	return &Error{Op: op, ContextID: -1, SinkFD: fd, Kind: kind, Msg: msg}
}

// WrapError wraps an arbitrary error with runtime context, mapping
// syscall.Errno values onto the stable Kind enumeration.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	if fe, ok := inner.(*Error); ok {
		return &Error{
			Op: op, ContextID: fe.ContextID, FiberID: fe.FiberID, SinkFD: fe.SinkFD,
			Kind: fe.Kind, Errno: fe.Errno, Msg: fe.Msg, Inner: fe.Inner,
		}
	}
	if errno, ok := inner.(syscall.Errno); ok {
		return &Error{
			Op: op, ContextID: -1, SinkFD: -1,
			Kind: MapErrnoToKind(errno), Errno: errno, Msg: errno.Error(), Inner: inner,
		}
	}
	return &Error{Op: op, ContextID: -1, SinkFD: -1, Kind: KindIOError, Msg: inner.Error(), Inner: inner}
}

// MapErrnoToKind maps a kernel errno onto the stable Kind enumeration.
func MapErrnoToKind(errno syscall.Errno) Kind {
	switch errno {
	case syscall.ENOMEM:
		return KindOutOfMemory
	case syscall.EINVAL:
		return KindAlignmentInvalid
	case syscall.EOVERFLOW:
		return KindOverflow
	case syscall.EAGAIN:
		return KindQueueFull
	case syscall.ETIMEDOUT:
		return KindTimeout
	case syscall.ECANCELED:
		return KindCanceled
	case syscall.EBADF, syscall.EPIPE:
		return KindClosed
	default:
		return KindIOError
	}
}

// IsKind reports whether err is, or wraps, a structured *Error of kind.
func IsKind(err error, kind Kind) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}

// PanicFatal aborts the process for an invariant violation (corrupted
// unit map, double free, impossible scheduler state). FATAL errors are
// never recovered; the caller is expected to let this propagate.
func PanicFatal(op string, msg string) {
	panic(&Error{Op: op, ContextID: -1, SinkFD: -1, Kind: KindFatal, Msg: msg})
}

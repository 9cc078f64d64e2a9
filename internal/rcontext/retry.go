package rcontext

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/behrlich/go-fiberrt/internal/constants"
	"github.com/behrlich/go-fiberrt/internal/ring"
)

// Call retries TryCall against this context's own queue with
// exponential backoff until fn is accepted. Unlike Post, which
// delegates to whichever peer looks idle, Call always targets this
// specific context — the mechanism cross-thread callers (e.g.
// internal/bootstrap's fiber cancellation routing) use when fn must
// execute on this context's owning thread and nowhere else.
func (c *Context) Call(fn func(args [ring.AsyncCallSlotWords - 1]uintptr), args [ring.AsyncCallSlotWords - 1]uintptr) {
	if c.TryCall(fn, args) {
		return
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Microsecond
	b.MaxInterval = 5 * time.Millisecond
	b.MaxElapsedTime = 0
	for {
		time.Sleep(b.NextBackOff())
		if c.TryCall(fn, args) {
			return
		}
	}
}

// CallRemoteFree retries TryCall against a full async queue with
// exponential backoff, escalating through warn/error/fatal log
// thresholds as the retry storm lengthens (§4.2, §4.3). Returns once
// the call is accepted, or after RemoteFreeFatalThreshold consecutive
// failures, when it logs an error and gives up without enqueuing fn;
// callers that cannot tolerate blocking should use TryCall directly
// instead.
func (c *Context) CallRemoteFree(fn func(args [ring.AsyncCallSlotWords - 1]uintptr), args [ring.AsyncCallSlotWords - 1]uintptr) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Microsecond
	b.MaxInterval = 5 * time.Millisecond
	b.MaxElapsedTime = 0 // retry indefinitely; thresholds below handle escalation

	for {
		if c.TryCall(fn, args) {
			c.ResetRemoteFreeFailures()
			return
		}

		failures := c.RecordRemoteFreeFailure()
		switch {
		case failures == constants.RemoteFreeFatalThreshold:
			if c.logger != nil {
				c.logger.Errorf("context %d: remote-free target queue still full after %d attempts, giving up", c.ID, failures)
			}
			return
		case failures == constants.RemoteFreeErrorThreshold:
			if c.logger != nil {
				c.logger.Errorf("context %d: remote-free retry storm, %d consecutive failures", c.ID, failures)
			}
		case failures == constants.RemoteFreeWarnThreshold:
			if c.logger != nil {
				c.logger.Warnf("context %d: remote-free target queue full, %d consecutive failures", c.ID, failures)
			}
		}

		time.Sleep(b.NextBackOff())
	}
}

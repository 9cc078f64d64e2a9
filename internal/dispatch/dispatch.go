// Package dispatch implements the event dispatch / listener state
// machine (§4.7, component F): one Dispatcher per context owns a
// kernel readiness backend (epoll on Linux, optionally io_uring when
// built with -tags giouring) and folds possibly-repeated readiness
// notifications for a sink into sticky ready flags, delivering them to
// the sink exactly once per edge.
package dispatch

import (
	"fmt"
	"sync"
	"time"

	"github.com/behrlich/go-fiberrt/internal/interfaces"
)

// Event is one readiness notification from a Backend.
type Event struct {
	FD       int
	Readable bool
	Writable bool
	Err      error
}

// Backend is the kernel (or stub) readiness mechanism a Dispatcher
// drives. Register/Modify/Deregister happen from the owning context's
// thread only; Wait blocks that thread until an event or timeout;
// Wake is the one method safe to call from any thread, used to
// interrupt a blocking Wait when another context Posts work here.
type Backend interface {
	Register(fd int, wantRead, wantWrite bool) error
	Modify(fd int, wantRead, wantWrite bool) error
	Deregister(fd int) error
	Wait(timeout time.Duration) ([]Event, error)
	Wake() error
	Close() error
}

// listener tracks one registered sink's sticky readiness flags, the
// fold that lets "readiness observed in the order the kernel reports
// it" coexist with "multiple readiness events fold into the sticky
// *_ready flags" (§5 ordering guarantees).
type listener struct {
	sink       interfaces.Sink
	readReady  bool
	writeReady bool
}

// Dispatcher owns the registered sinks for one context and drives
// readiness delivery from a single Backend.
type Dispatcher struct {
	backend Backend

	mu        sync.Mutex
	listeners map[int]*listener

	logger   interfaces.Logger
	observer interfaces.Observer
}

func New(backend Backend, logger interfaces.Logger, observer interfaces.Observer) *Dispatcher {
	return &Dispatcher{
		backend:   backend,
		listeners: make(map[int]*listener),
		logger:    logger,
		observer:  observer,
	}
}

// Register begins watching sink for readiness. wantRead/wantWrite set
// the initial interest set; use Modify to change it later.
func (d *Dispatcher) Register(sink interfaces.Sink, wantRead, wantWrite bool) error {
	fd := sink.FD()
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.listeners[fd]; exists {
		return fmt.Errorf("dispatch: fd %d already registered", fd)
	}
	if err := d.backend.Register(fd, wantRead, wantWrite); err != nil {
		return err
	}
	d.listeners[fd] = &listener{sink: sink}
	return nil
}

// Modify changes a registered sink's interest set.
func (d *Dispatcher) Modify(fd int, wantRead, wantWrite bool) error {
	return d.backend.Modify(fd, wantRead, wantWrite)
}

// Deregister stops watching fd. Does not close the sink; callers
// that own the sink's lifecycle do that themselves (often after
// routing through epoch reclamation).
func (d *Dispatcher) Deregister(fd int) error {
	d.mu.Lock()
	delete(d.listeners, fd)
	d.mu.Unlock()
	return d.backend.Deregister(fd)
}

// Wake interrupts a blocking Poll call on any thread, used to pull a
// context's listener out of POLLING when another context Posts async
// work to it (§3, §5).
func (d *Dispatcher) Wake() error {
	return d.backend.Wake()
}

// Close closes the backend. The listener table and the sinks
// themselves are left as they are.
func (d *Dispatcher) Close() error {
	return d.backend.Close()
}

// Poll blocks up to timeout waiting for readiness, then delivers each
// ready sink's OnReadable/OnWritable exactly once per edge. Returns
// the number of callbacks delivered (a sink that is both readable and
// writable counts twice). A sink whose callback returns an error
// is deregistered and its FD reported to the caller for epoch-delayed
// Close.
func (d *Dispatcher) Poll(timeout time.Duration) (serviced int, failedFDs []int, err error) {
	events, err := d.backend.Wait(timeout)
	if err != nil {
		return 0, nil, err
	}

	for _, ev := range events {
		d.mu.Lock()
		l, ok := d.listeners[ev.FD]
		if ok {
			if ev.Readable {
				l.readReady = true
			}
			if ev.Writable {
				l.writeReady = true
			}
		}
		d.mu.Unlock()
		if !ok {
			continue
		}

		if d.observer != nil {
			d.observer.ObserveListenerWake()
		}

		if l.readReady {
			if cbErr := l.sink.OnReadable(); cbErr != nil {
				failedFDs = append(failedFDs, ev.FD)
				continue
			}
			l.readReady = false
			serviced++
			if d.observer != nil {
				d.observer.ObserveSinkEvent()
			}
		}
		if l.writeReady {
			if cbErr := l.sink.OnWritable(); cbErr != nil {
				failedFDs = append(failedFDs, ev.FD)
				continue
			}
			l.writeReady = false
			serviced++
			if d.observer != nil {
				d.observer.ObserveSinkEvent()
			}
		}
	}

	for _, fd := range failedFDs {
		if err := d.Deregister(fd); err != nil && d.logger != nil {
			d.logger.Warnf("dispatch: deregistering failed sink fd %d: %v", fd, err)
		}
	}

	return serviced, failedFDs, nil
}

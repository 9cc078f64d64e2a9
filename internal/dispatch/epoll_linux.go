//go:build linux

package dispatch

import (
	"encoding/binary"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// epollBackend is the production Backend on Linux: one epoll instance
// per context plus an eventfd used purely to interrupt EpollWait from
// another thread (Wake), matching the teacher's pattern of pinning one
// OS thread per queue and waking it only through an explicit fd.
type epollBackend struct {
	epfd   int
	wakeFD int
	closed bool
}

// NewDefaultBackend returns the platform's production Backend: epoll
// on Linux.
func NewDefaultBackend() (Backend, error) {
	return NewEpollBackend()
}

// NewEpollBackend creates an epoll-based Backend.
func NewEpollBackend() (*epollBackend, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("dispatch: EpollCreate1: %w", err)
	}

	wakeFD, _, errno := unix.Syscall(unix.SYS_EVENTFD2, 0, uintptr(unix.EFD_NONBLOCK|unix.EFD_CLOEXEC), 0)
	if errno != 0 {
		unix.Close(epfd)
		return nil, fmt.Errorf("dispatch: eventfd: %w", errno)
	}

	b := &epollBackend{epfd: epfd, wakeFD: int(wakeFD)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, b.wakeFD, &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(b.wakeFD)}); err != nil {
		unix.Close(epfd)
		unix.Close(b.wakeFD)
		return nil, fmt.Errorf("dispatch: registering wake fd: %w", err)
	}
	return b, nil
}

func epollEvents(wantRead, wantWrite bool) uint32 {
	var ev uint32
	if wantRead {
		ev |= unix.EPOLLIN
	}
	if wantWrite {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func (b *epollBackend) Register(fd int, wantRead, wantWrite bool) error {
	return unix.EpollCtl(b.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Events: epollEvents(wantRead, wantWrite), Fd: int32(fd)})
}

func (b *epollBackend) Modify(fd int, wantRead, wantWrite bool) error {
	return unix.EpollCtl(b.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{Events: epollEvents(wantRead, wantWrite), Fd: int32(fd)})
}

func (b *epollBackend) Deregister(fd int) error {
	return unix.EpollCtl(b.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (b *epollBackend) Wait(timeout time.Duration) ([]Event, error) {
	raw := make([]unix.EpollEvent, 64)
	n, err := unix.EpollWait(b.epfd, raw, int(timeout/time.Millisecond))
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("dispatch: EpollWait: %w", err)
	}

	events := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		fd := int(raw[i].Fd)
		if fd == b.wakeFD {
			var buf [8]byte
			unix.Read(b.wakeFD, buf[:])
			continue
		}
		events = append(events, Event{
			FD:       fd,
			Readable: raw[i].Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0,
			Writable: raw[i].Events&unix.EPOLLOUT != 0,
		})
	}
	return events, nil
}

func (b *epollBackend) Wake() error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(b.wakeFD, buf[:])
	return err
}

func (b *epollBackend) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	unix.Close(b.wakeFD)
	return unix.Close(b.epfd)
}

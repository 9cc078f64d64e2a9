package main

import (
	"fmt"
	"net"
	"strconv"

	"golang.org/x/sys/unix"

	fiberrt "github.com/behrlich/go-fiberrt"
	"github.com/behrlich/go-fiberrt/internal/dispatch"
	"github.com/behrlich/go-fiberrt/internal/interfaces"
)

// resolveSockaddr converts a "host:port" string into a raw unix
// sockaddr, the minimal amount of address parsing needed since the
// runtime's Dispatcher speaks file descriptors, not net.Conn.
func resolveSockaddr(addr string) (unix.Sockaddr, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("resolveSockaddr: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("resolveSockaddr: invalid port %q: %w", portStr, err)
	}

	sa := &unix.SockaddrInet4{Port: port}
	if host == "" || host == "0.0.0.0" {
		return sa, nil
	}
	ip := net.ParseIP(host).To4()
	if ip == nil {
		return nil, fmt.Errorf("resolveSockaddr: invalid IPv4 address %q", host)
	}
	copy(sa.Addr[:], ip)
	return sa, nil
}

// acceptor is the Sink bound to the listening socket: OnReadable means
// at least one connection is ready to Accept.
type acceptor struct {
	rt     *fiberrt.Runtime
	fd     int
	logger interfaces.Logger
}

func newAcceptor(rt *fiberrt.Runtime, fd int, logger interfaces.Logger) *acceptor {
	return &acceptor{rt: rt, fd: fd, logger: logger}
}

func (a *acceptor) FD() int { return a.fd }

func (a *acceptor) OnReadable() error {
	for {
		connFD, _, err := unix.Accept(a.fd)
		if err != nil {
			if err == unix.EAGAIN {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		if err := unix.SetNonblock(connFD, true); err != nil {
			unix.Close(connFD)
			continue
		}

		conn := &echoConn{fd: connFD, logger: a.logger}
		if err := a.rt.Context(0).Dispatcher.Register(conn, true, false); err != nil {
			a.logger.Warnf("registering accepted connection fd %d: %v", connFD, err)
			unix.Close(connFD)
		}
	}
}

func (a *acceptor) OnWritable() error { return nil }
func (a *acceptor) Close() error      { return unix.Close(a.fd) }

// echoConn is the Sink for one accepted client connection: it reads
// whatever is available and writes it straight back.
type echoConn struct {
	fd      int
	logger  interfaces.Logger
	pending []byte
}

func (c *echoConn) FD() int { return c.fd }

func (c *echoConn) OnReadable() error {
	buf := dispatch.GetReadBuffer(4096)
	defer dispatch.PutReadBuffer(buf)
	for {
		n, err := unix.Read(c.fd, buf)
		if err != nil {
			if err == unix.EAGAIN {
				return nil
			}
			return fmt.Errorf("read fd %d: %w", c.fd, err)
		}
		if n == 0 {
			return fmt.Errorf("read fd %d: %s", c.fd, "connection closed")
		}
		c.pending = append(c.pending, buf[:n]...)
		if err := c.flush(); err != nil {
			return err
		}
	}
}

func (c *echoConn) OnWritable() error {
	return c.flush()
}

func (c *echoConn) flush() error {
	for len(c.pending) > 0 {
		n, err := unix.Write(c.fd, c.pending)
		if err != nil {
			if err == unix.EAGAIN {
				return nil
			}
			return fmt.Errorf("write fd %d: %w", c.fd, err)
		}
		c.pending = c.pending[n:]
	}
	return nil
}

func (c *echoConn) Close() error { return unix.Close(c.fd) }

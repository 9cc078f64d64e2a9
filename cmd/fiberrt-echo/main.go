// Command fiberrt-echo is a minimal TCP echo server built on top of
// the fiberrt runtime: it accepts connections on context 0, registers
// each accepted socket as a Sink with that context's Dispatcher, and
// echoes whatever it reads back to the client. It exists to exercise
// the runtime end to end, not as a production server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/sys/unix"

	fiberrt "github.com/behrlich/go-fiberrt"
	"github.com/behrlich/go-fiberrt/internal/logging"
)

func main() {
	addr := flag.String("addr", ":9090", "TCP address to echo on")
	metricsAddr := flag.String("metrics-addr", ":9091", "address to serve /metrics on")
	threads := flag.Int("threads", 0, "runtime OS thread count (0 = auto)")
	flag.Parse()

	logger := logging.Default()

	if _, err := maxprocs.Set(maxprocs.Logger(logger.Infof)); err != nil {
		logger.Warnf("maxprocs.Set: %v", err)
	}

	rt, err := fiberrt.New(fiberrt.Params{ThreadCount: *threads, Logger: logger})
	if err != nil {
		logger.Errorf("fiberrt.New: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rt.Start(ctx); err != nil {
		logger.Errorf("Runtime.Start: %v", err)
		os.Exit(1)
	}

	go serveMetrics(*metricsAddr, logger)

	listenFD, err := listenTCP(*addr)
	if err != nil {
		logger.Errorf("listenTCP: %v", err)
		os.Exit(1)
	}

	acceptor := newAcceptor(rt, listenFD, logger)
	if err := rt.Context(0).Dispatcher.Register(acceptor, true, false); err != nil {
		logger.Errorf("registering acceptor: %v", err)
		os.Exit(1)
	}

	logger.Infof("fiberrt-echo listening on %s (metrics on %s)", *addr, *metricsAddr)
	<-ctx.Done()

	logger.Infof("shutting down")
	unix.Close(listenFD)
	if err := rt.Stop(); err != nil {
		logger.Errorf("Runtime.Stop: %v", err)
		os.Exit(1)
	}
}

func serveMetrics(addr string, logger interface{ Errorf(string, ...any) }) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		logger.Errorf("metrics server: %v", err)
	}
}

func listenTCP(addr string) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}

	sa, err := resolveSockaddr(addr)
	if err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("bind %s: %w", addr, err)
	}
	if err := unix.Listen(fd, 128); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("listen: %w", err)
	}
	return fd, nil
}

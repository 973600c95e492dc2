package daemon

import (
	"fmt"
	"log/slog"

	"golang.org/x/sys/unix"

	"github.com/sessiond/sessiond/internal/core"
	"github.com/sessiond/sessiond/internal/eventloop"
	"github.com/sessiond/sessiond/internal/launch"
)

// acceptBacklog is the listen(2) backlog depth.
const acceptBacklog = 128

// readChunk is the scratch buffer size for a single read(2) off a
// client connection.
const readChunk = 64 * 1024

// Daemon ties the session registry, launcher, and event loop into a
// running TCP service. Every exported method and every registered
// callback runs on the single goroutine that drives loop — there is
// no lock because there is exactly one writer.
//
// Sockets here are raw, non-blocking file descriptors rather than
// net.Conn: the event loop (internal/eventloop) is a plain fd
// multiplexer, and routing listener and client sockets through it
// alongside capture pipes and pidfds — the same way a raw fd is
// registered for any other readiness source — keeps one reactor
// design for every kind of fd instead of mixing net's own internal
// poller into a daemon that otherwise owns its scheduling outright.
// Go's runtime already arranges for writes to a broken socket to fail
// with EPIPE instead of raising SIGPIPE, so a dead client cannot
// terminate the daemon, without any extra signal handling on our part.
type Daemon struct {
	registry *core.Registry
	launcher *launch.Launcher
	loop     *eventloop.Loop
	logger   *slog.Logger

	listenFD int
	conns    map[int]*conn
}

// New creates a Daemon. Call Listen to bind and start accepting.
func New(registry *core.Registry, launcher *launch.Launcher, loop *eventloop.Loop, logger *slog.Logger) *Daemon {
	return &Daemon{
		registry: registry,
		launcher: launcher,
		loop:     loop,
		logger:   logger,
		conns:    make(map[int]*conn),
	}
}

// Listen creates a non-blocking TCP listener on port (all interfaces)
// and registers it with the event loop.
func (d *Daemon) Listen(port int) error {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return fmt.Errorf("socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}
	addr := &unix.SockaddrInet4{Port: port}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return fmt.Errorf("bind :%d: %w", port, err)
	}
	if err := unix.Listen(fd, acceptBacklog); err != nil {
		unix.Close(fd)
		return fmt.Errorf("listen: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return fmt.Errorf("set listener non-blocking: %w", err)
	}

	d.listenFD = fd
	d.loop.Add(fd, unix.POLLIN, d.handleAccept)
	d.logger.Info("listening", "port", port)
	return nil
}

// Close shuts down the listener and every open connection.
func (d *Daemon) Close() {
	if d.listenFD != 0 {
		d.loop.Remove(d.listenFD)
		unix.Close(d.listenFD)
		d.listenFD = 0
	}
	for fd, c := range d.conns {
		d.closeConn(c)
		_ = fd
	}
}

// handleAccept drains every connection currently pending on the
// listener (edge-triggered-style drain-to-EAGAIN, matching the output
// collector and the upload reader).
func (d *Daemon) handleAccept(revents int16) {
	for {
		nfd, _, err := unix.Accept4(d.listenFD, unix.SOCK_NONBLOCK)
		if err != nil {
			if err != unix.EAGAIN {
				d.logger.Error("accept", "error", err)
			}
			return
		}
		c := &conn{fd: nfd}
		d.conns[nfd] = c
		d.loop.Add(nfd, unix.POLLIN, func(revents int16) { d.handleConnReadable(c, revents) })
	}
}

// handleConnReadable drains a client socket to EAGAIN or EOF, feeding
// every chunk read through the connection's command/upload framing.
func (d *Daemon) handleConnReadable(c *conn, revents int16) {
	buf := make([]byte, readChunk)
	for {
		n, err := unix.Read(c.fd, buf)
		if n > 0 {
			d.feed(c, buf[:n])
		}
		if err != nil {
			if err == unix.EAGAIN {
				return
			}
			d.closeConn(c)
			return
		}
		if n == 0 {
			d.closeConn(c)
			return
		}
	}
}

// closeConn releases a connection's socket and any in-flight upload
// resources: cancelling an upload is just closing the connection, which
// releases whatever temp file or anonymous memory it was writing into.
func (d *Daemon) closeConn(c *conn) {
	if c.upload != nil {
		c.upload.abort()
		c.upload = nil
	}
	d.loop.Remove(c.fd)
	unix.Close(c.fd)
	delete(d.conns, c.fd)
}

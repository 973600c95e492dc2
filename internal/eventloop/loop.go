package eventloop

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// PollTimeoutMillis bounds how long a single Run iteration blocks
// before re-checking the stop channel, matching the 100ms timeout the
// teacher's own unix.Poll loops use for the same reason.
const PollTimeoutMillis = 100

// Handler is invoked when its registered fd becomes ready. revents
// carries the poll(2) event bits that fired (POLLIN, POLLHUP, POLLERR,
// etc.) so the handler can distinguish data-ready from EOF/error
// without a separate read-and-check-for-zero dance.
type Handler func(revents int16)

type registration struct {
	fd      int
	events  int16
	handler Handler
}

// Loop is a readiness multiplexer over an arbitrary set of file
// descriptors. Not safe for concurrent use — by design, every
// Add/Remove/Run call happens from the single daemon goroutine that
// owns the session registry.
type Loop struct {
	registrations map[int]*registration
}

// New creates an empty Loop.
func New() *Loop {
	return &Loop{registrations: make(map[int]*registration)}
}

// Add registers fd for the given poll(2) event mask. Calling Add again
// for an fd already registered replaces its handler and event mask.
func (l *Loop) Add(fd int, events int16, handler Handler) {
	l.registrations[fd] = &registration{fd: fd, events: events, handler: handler}
}

// Remove unregisters fd. A no-op if fd was not registered.
func (l *Loop) Remove(fd int) {
	delete(l.registrations, fd)
}

// Len returns the number of currently registered file descriptors.
func (l *Loop) Len() int {
	return len(l.registrations)
}

// RunOnce performs a single poll(2) pass with the given millisecond
// timeout (use -1 to block indefinitely, 0 to return immediately) and
// dispatches every ready handler in turn. Handlers run to completion
// with no internal suspension.
//
// Handlers are free to Add or Remove registrations. RunOnce polls the
// fds registered at the start of the call, but looks each handler up
// again just before dispatching it: an fd removed by an earlier handler
// in the same pass is skipped, and an fd added during the pass is first
// polled on the next call.
func (l *Loop) RunOnce(timeoutMillis int) error {
	if len(l.registrations) == 0 {
		return nil
	}

	pollFDs := make([]unix.PollFd, 0, len(l.registrations))
	order := make([]int, 0, len(l.registrations))
	for fd, reg := range l.registrations {
		pollFDs = append(pollFDs, unix.PollFd{Fd: int32(fd), Events: reg.events})
		order = append(order, fd)
	}

	_, err := unix.Poll(pollFDs, timeoutMillis)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return fmt.Errorf("poll: %w", err)
	}

	for i, pollFD := range pollFDs {
		if pollFD.Revents == 0 {
			continue
		}
		reg, ok := l.registrations[order[i]]
		if !ok {
			// Removed by an earlier handler in this same pass.
			continue
		}
		reg.handler(pollFD.Revents)
	}
	return nil
}

// Run repeatedly calls RunOnce until stop is closed.
func (l *Loop) Run(stop <-chan struct{}) error {
	for {
		select {
		case <-stop:
			return nil
		default:
		}
		if err := l.RunOnce(PollTimeoutMillis); err != nil {
			return err
		}
	}
}

package daemon

import (
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/sessiond/sessiond/internal/core"
)

// outputChunk is the per-read size the output collector drains in.
const outputChunk = 4096

// registerRuntime installs a freshly launched session's capture pipe
// and exit handle with the event loop. Called after a successful
// Launcher.Start.
func (d *Daemon) registerRuntime(s *core.Session) {
	rt := s.Runtime
	d.loop.Add(int(rt.OutputPipe.Fd()), unix.POLLIN, func(revents int16) {
		d.drainOutputPipe(s, revents)
	})
	d.loop.Add(rt.Exit.FD, unix.POLLIN, func(revents int16) {
		d.handleUserExit(s, revents)
	})
}

// registerStubExit installs the debug stub's exit handle, used right
// after AttachDebug.
func (d *Daemon) registerStubExit(s *core.Session) {
	rt := s.Runtime
	if rt == nil || rt.StubExit == nil {
		return
	}
	d.loop.Add(rt.StubExit.FD, unix.POLLIN, func(revents int16) {
		d.handleStubExit(s, revents)
	})
}

// drainOutputPipe reads a live session's capture pipe in 4 KiB chunks
// until it would block or hits EOF. EOF or any read error unregisters
// and closes the pipe; it does not by itself change
// session state — that happens when the corresponding exit handle
// fires, which is guaranteed not to race ahead of this drain because
// both are serviced from the same single-threaded poll pass or, at
// worst, the handler below re-drains defensively before transitioning.
func (d *Daemon) drainOutputPipe(s *core.Session, revents int16) {
	rt := s.Runtime
	if rt == nil || rt.OutputPipe == nil {
		return
	}
	buf := make([]byte, outputChunk)
	fd := int(rt.OutputPipe.Fd())
	for {
		n, err := unix.Read(fd, buf)
		if n > 0 {
			s.Output.Write(buf[:n])
		}
		if err != nil {
			if err == unix.EAGAIN {
				return
			}
			d.closeOutputPipe(s)
			return
		}
		if n == 0 {
			d.closeOutputPipe(s)
			return
		}
	}
}

// closeOutputPipe unregisters and closes a session's capture pipe, if
// still open. Idempotent.
func (d *Daemon) closeOutputPipe(s *core.Session) {
	rt := s.Runtime
	if rt == nil || rt.OutputPipe == nil {
		return
	}
	d.loop.Remove(int(rt.OutputPipe.Fd()))
	rt.OutputPipe.Close()
	rt.OutputPipe = nil
}

// reap performs a non-blocking waitpid on a child that is known to
// have exited. The exit code itself is not surfaced anywhere in the
// protocol, so it is discarded.
func reap(pid int) {
	var status syscall.WaitStatus
	syscall.Wait4(pid, &status, syscall.WNOHANG, nil)
}

// handleUserExit processes the top process's exit-handle readiness.
func (d *Daemon) handleUserExit(s *core.Session, revents int16) {
	rt := s.Runtime
	if rt == nil || rt.Exit == nil {
		return
	}
	reap(rt.Exit.PID)

	// Drain whatever trailing output arrived alongside the exit before
	// tearing the pipe down, in case this poll pass reported the exit
	// handle without also reporting the (already readable) pipe.
	d.drainOutputPipe(s, unix.POLLIN)

	if s.State == core.StateDebugging && rt.DebugPID != rt.PID && rt.StubExit != nil {
		// DEBUGGING, user exit, stub attached separately: the user
		// process is gone but the stub is still attached to nothing
		// useful — signal its process group; transitionToStopped below
		// then does a non-blocking reap of it and releases its exit
		// handle.
		syscall.Kill(-rt.DebugPID, syscall.SIGKILL)
		syscall.Kill(rt.DebugPID, syscall.SIGKILL)
	}

	d.transitionToStopped(s)
}

// handleStubExit processes the debug stub's exit-handle readiness.
func (d *Daemon) handleStubExit(s *core.Session, revents int16) {
	rt := s.Runtime
	if rt == nil || rt.StubExit == nil {
		return
	}
	reap(rt.StubExit.PID)
	d.loop.Remove(rt.StubExit.FD)
	unix.Close(rt.StubExit.FD)
	rt.StubExit = nil

	if rt.DebugPID == rt.PID {
		// The stub was the top process: its exit is the user
		// program's exit.
		d.transitionToStopped(s)
		return
	}

	// Stub exited while the user process (a distinct pid) is still
	// alive: drop back to RUNNING.
	rt.DebugPID = 0
	rt.DebugPort = 0
	s.State = core.StateRunning
}

// transitionToStopped tears down every live-process resource on a
// session and moves it to STOPPED. Used both by the user exit-handle
// path and by KILL's eager-reap path.
func (d *Daemon) transitionToStopped(s *core.Session) {
	rt := s.Runtime
	if rt == nil {
		return
	}
	d.closeOutputPipe(s)
	if rt.Exit != nil {
		d.loop.Remove(rt.Exit.FD)
		unix.Close(rt.Exit.FD)
	}
	if rt.StubExit != nil {
		reap(rt.DebugPID)
		d.loop.Remove(rt.StubExit.FD)
		unix.Close(rt.StubExit.FD)
	}
	s.Runtime = nil
	s.State = core.StateStopped
}

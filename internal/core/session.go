package core

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// State is a session's lifecycle state.
type State int

const (
	StateLoaded State = iota
	StateRunning
	StateDebugging
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateLoaded:
		return "LOADED"
	case StateRunning:
		return "RUNNING"
	case StateDebugging:
		return "DEBUGGING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Image is an admitted, immutable upload. Exactly one of the two
// shapes applies, selected by Bundle.
type Image struct {
	// Bundle is true when this image is an extracted directory tree
	// rather than a single anonymous file.
	Bundle bool

	// --- raw shape ---

	// memFD is the anonymous in-memory file descriptor (memfd) holding
	// the raw ELF. Valid only when !Bundle.
	memFD int

	// --- bundle shape ---

	// Dir is the extraction root, uniquely owned by the session.
	// Valid only when Bundle.
	Dir string

	// EntryPath is the path (relative to Dir) of the executable entry
	// point inside the extracted tree. Valid only when Bundle.
	EntryPath string
}

// ExecPath returns the path the launcher should exec. For a raw image
// this is the memfd's magic /proc/self/fd path (exec-by-descriptor, no
// PATH lookup); for a bundle it is Dir joined with EntryPath.
func (img *Image) ExecPath() string {
	if img.Bundle {
		return img.Dir + "/" + img.EntryPath
	}
	return fmt.Sprintf("/proc/self/fd/%d", img.memFD)
}

// FD returns the memfd backing a raw image, for passing to the child
// via ExtraFiles-style inheritance. Only valid when !Bundle.
func (img *Image) FD() int {
	return img.memFD
}

// Close releases the image's backing resource: closes the memfd, or
// recursively removes the extraction directory, which is uniquely
// owned by the session and removed when the session is deleted.
func (img *Image) Close() error {
	if img.Bundle {
		if img.Dir == "" {
			return nil
		}
		return os.RemoveAll(img.Dir)
	}
	if img.memFD == 0 {
		return nil
	}
	fd := img.memFD
	img.memFD = 0
	return unix.Close(fd)
}

// ExitHandle is a process-exit handle: a Linux pidfd that becomes
// readable when the designated process terminates.
type ExitHandle struct {
	PID int
	FD  int
}

// Runtime holds the fields that exist only while a session has a live
// child: RUNNING or DEBUGGING. LOADED/STOPPED carry no pid, debug_pid,
// debug_port, or output_pipe — keeping these fields on a separate,
// nil-able struct means a Session in LOADED has a nil Runtime, so
// there is no pid field to misuse.
type Runtime struct {
	// PID is the top child's process id (the user program, or the
	// debug stub when it is the top process).
	PID int

	// DebugPID is the debug stub's process id, set only in DEBUGGING.
	// Equals PID when the stub was launched as the top process.
	DebugPID int

	// DebugPort is the TCP port the debug stub listens on, set only in
	// DEBUGGING.
	DebugPort int

	// OutputPipe is the read end of the capture pipe, non-blocking,
	// registered with the event loop.
	OutputPipe *os.File

	// Exit is the exit handle for PID.
	Exit *ExitHandle

	// StubExit is the exit handle for DebugPID when it is a distinct
	// process from PID (attached to an already-RUNNING session). Nil
	// when DebugPID == PID or the session is not DEBUGGING.
	StubExit *ExitHandle
}

// Session is one upload-plus-lifecycle, addressed by Session.ID.
type Session struct {
	ID    string
	State State
	Image Image
	Size  int64

	// Args is the raw, whitespace-split-at-launch-time argument
	// string — no shell quoting.
	Args string

	// Env holds per-session environment overrides, applied on top of
	// the daemon's own environment at launch.
	Env map[string]string

	// Output is the bounded captured-output ring, always present
	// (even before the first launch, so OUTPUT on a LOADED session
	// returns an empty buffer rather than an error).
	Output *OutputRing

	// Runtime is non-nil exactly when State is RUNNING or DEBUGGING.
	Runtime *Runtime
}

// NewSession creates a freshly admitted LOADED session.
func NewSession(id string, image Image, size int64) *Session {
	return &Session{
		ID:     id,
		State:  StateLoaded,
		Image:  image,
		Size:   size,
		Env:    make(map[string]string),
		Output: NewOutputRing(),
	}
}

package launch

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/sessiond/sessiond/internal/core"
)

// imageChildFD is the file descriptor number a raw session's memfd is
// guaranteed to land on in the child: exec.Cmd always wires fds 0-2 to
// stdin/stdout/stderr and then places ExtraFiles starting at 3, and the
// memfd is always the only entry in ExtraFiles.
const imageChildFD = 3

// StubBinary is the debugger-stub binary name looked up on PATH for
// both AttachDebug and a debug-mode Start. Overridable at startup from
// configuration.
var StubBinary = "gdbserver"

// Launcher forks, execs, signals, and reaps session child processes.
// Holds no per-session state beyond the shared debug port cursor; all
// live-process bookkeeping lives on Session.Runtime.
type Launcher struct {
	debugPorts *portAllocator
}

// NewLauncher creates a Launcher with the default debug port window.
func NewLauncher() *Launcher {
	return &Launcher{debugPorts: newPortAllocator(DebugPortBase, DebugPortRange)}
}

// command is the resolved shape of one launch: what to exec, as what
// argv0, with what trailing args, from what directory.
type command struct {
	execPath string
	argv0    string
	argv     []string
	chdir    string
}

// Start launches a session's image as a child process, optionally
// wrapped in a debug stub. The caller must have already verified the
// session is in a launchable state (LOADED or STOPPED).
func (l *Launcher) Start(session *core.Session, debug bool) *core.Error {
	session.Output.Reset()

	readEnd, writeEnd, pipeErr := os.Pipe()
	if pipeErr != nil {
		return core.NewError(core.CodeForkFailed, "creating capture pipe: %v", pipeErr)
	}

	var debugPort int
	if debug {
		debugPort = l.debugPorts.alloc()
	}

	cmdSpec, cmdErr := l.composeCommand(session, debug, debugPort)
	if cmdErr != nil {
		readEnd.Close()
		writeEnd.Close()
		return cmdErr
	}

	pid, startErr := l.fork(session, cmdSpec, writeEnd)
	writeEnd.Close()
	if startErr != nil {
		readEnd.Close()
		return core.NewError(core.CodeForkFailed, "starting child: %v", startErr)
	}

	if err := unix.SetNonblock(int(readEnd.Fd()), true); err != nil {
		// Non-fatal: reads will simply block briefly under contention
		// rather than reporting EAGAIN to the event loop.
		_ = err
	}

	exitFD, exitErr := unix.PidfdOpen(pid, 0)
	if exitErr != nil {
		readEnd.Close()
		syscall.Kill(pid, syscall.SIGKILL)
		return core.NewError(core.CodeForkFailed, "opening exit handle: %v", exitErr)
	}

	runtime := &core.Runtime{
		PID:        pid,
		OutputPipe: readEnd,
		Exit:       &core.ExitHandle{PID: pid, FD: exitFD},
	}
	if debug {
		runtime.DebugPID = pid
		runtime.DebugPort = debugPort
		session.State = core.StateDebugging
	} else {
		session.State = core.StateRunning
	}
	session.Runtime = runtime
	return nil
}

// AttachDebug forks a debug stub attaching to an already-running
// session's top process. Only valid from RUNNING.
func (l *Launcher) AttachDebug(session *core.Session) *core.Error {
	if session.State != core.StateRunning || session.Runtime == nil {
		return core.NewError(core.CodeNotRunning, "session %s is not RUNNING", session.ID)
	}

	gdbserverPath, lookErr := exec.LookPath(StubBinary)
	if lookErr != nil {
		return core.NewError(core.CodeForkFailed, "%s not found on PATH: %v", StubBinary, lookErr)
	}

	port := l.debugPorts.alloc()
	cmd := &exec.Cmd{
		Path: gdbserverPath,
		Args: []string{
			StubBinary,
			fmt.Sprintf(":%d", port),
			"--attach",
			fmt.Sprintf("%d", session.Runtime.PID),
		},
		SysProcAttr: &syscall.SysProcAttr{Setpgid: true},
	}
	// The stub's own stdio is not captured — it coexists with the
	// already-running user process.
	if err := cmd.Start(); err != nil {
		return core.NewError(core.CodeForkFailed, "starting debug stub: %v", err)
	}

	stubPID := cmd.Process.Pid
	exitFD, exitErr := unix.PidfdOpen(stubPID, 0)
	if exitErr != nil {
		syscall.Kill(stubPID, syscall.SIGKILL)
		return core.NewError(core.CodeForkFailed, "opening stub exit handle: %v", exitErr)
	}

	session.Runtime.DebugPID = stubPID
	session.Runtime.DebugPort = port
	session.Runtime.StubExit = &core.ExitHandle{PID: stubPID, FD: exitFD}
	session.State = core.StateDebugging
	return nil
}

// Stop sends graceful termination to a session's process group, then to
// its leader alone.
func (l *Launcher) Stop(session *core.Session) *core.Error {
	return l.signal(session, syscall.SIGTERM)
}

// Kill sends hard termination the same way Stop does, then attempts an
// immediate non-blocking reap so a child stuck past its exit-handle
// event (e.g. uninterruptible sleep) does not leave the session state
// stale. Returns whether the reap collected the process.
func (l *Launcher) Kill(session *core.Session) (reaped bool, kerr *core.Error) {
	if err := l.signal(session, syscall.SIGKILL); err != nil {
		return false, err
	}
	return l.tryReap(session.Runtime.PID), nil
}

func (l *Launcher) signal(session *core.Session, sig syscall.Signal) *core.Error {
	if session.Runtime == nil {
		return core.NewError(core.CodeNotRunning, "session %s has no live process", session.ID)
	}
	pid := session.Runtime.PID
	// Group kill may already terminate the leader; ignore errors on
	// the individual signal that follows.
	syscall.Kill(-pid, sig)
	syscall.Kill(pid, sig)
	return nil
}

// tryReap performs a non-blocking waitpid on pid, reporting whether it
// collected an already-dead child.
func (l *Launcher) tryReap(pid int) bool {
	var status syscall.WaitStatus
	collected, err := syscall.Wait4(pid, &status, syscall.WNOHANG, nil)
	if err == syscall.ECHILD {
		return true
	}
	return collected > 0
}

// fork starts the launch helper trampoline for cmdSpec, wiring outputWrite
// to the child's stdout/stderr, and returns the resulting pid.
func (l *Launcher) fork(session *core.Session, cmdSpec command, outputWrite *os.File) (int, error) {
	selfPath, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("resolving daemon binary path: %w", err)
	}

	args := append([]string{selfPath, HelperArg, cmdSpec.chdir, cmdSpec.execPath, cmdSpec.argv0}, cmdSpec.argv...)
	cmd := &exec.Cmd{
		Path:   selfPath,
		Args:   args,
		Env:    composeEnv(session.Env),
		Stdout: outputWrite,
		Stderr: outputWrite,
		SysProcAttr: &syscall.SysProcAttr{
			// A fresh process group led by the child itself.
			Setpgid: true,
		},
	}
	if !session.Image.Bundle {
		imageFile := os.NewFile(uintptr(session.Image.FD()), "sessiond-image")
		cmd.ExtraFiles = []*os.File{imageFile}
	}

	if err := cmd.Start(); err != nil {
		return 0, err
	}
	return cmd.Process.Pid, nil
}

// composeCommand builds the exec path, argv0, trailing args, and
// working directory for a launch, covering all four combinations of
// {raw, bundle} x {debug, no debug}.
func (l *Launcher) composeCommand(session *core.Session, debug bool, debugPort int) (command, *core.Error) {
	userArgs := strings.Fields(session.Args)

	if session.Image.Bundle {
		fullExecPath := session.Image.Dir + "/" + session.Image.EntryPath
		if !debug {
			return command{
				execPath: fullExecPath,
				argv0:    fullExecPath,
				argv:     userArgs,
				chdir:    session.Image.Dir,
			}, nil
		}
		gdbserverPath, lookErr := exec.LookPath(StubBinary)
		if lookErr != nil {
			return command{}, core.NewError(core.CodeForkFailed, "%s not found on PATH: %v", StubBinary, lookErr)
		}
		argv := append([]string{fmt.Sprintf(":%d", debugPort), fullExecPath}, userArgs...)
		return command{
			execPath: gdbserverPath,
			argv0:    StubBinary,
			argv:     argv,
			chdir:    session.Image.Dir,
		}, nil
	}

	fdPath := fmt.Sprintf("/proc/self/fd/%d", imageChildFD)
	if !debug {
		return command{
			execPath: fdPath,
			argv0:    fdPath,
			argv:     userArgs,
		}, nil
	}
	gdbserverPath, lookErr := exec.LookPath(StubBinary)
	if lookErr != nil {
		return command{}, core.NewError(core.CodeForkFailed, "%s not found on PATH: %v", StubBinary, lookErr)
	}
	argv := append([]string{fmt.Sprintf(":%d", debugPort), fdPath}, userArgs...)
	return command{
		execPath: gdbserverPath,
		argv0:    StubBinary,
		argv:     argv,
	}, nil
}

// composeEnv unions the daemon's own environment with a session's
// overrides, overrides winning on conflict. Key order in the result is
// unspecified.
func composeEnv(overrides map[string]string) []string {
	daemonEnv := os.Environ()
	merged := make(map[string]string, len(daemonEnv)+len(overrides))
	for _, kv := range daemonEnv {
		if idx := strings.IndexByte(kv, '='); idx >= 0 {
			merged[kv[:idx]] = kv[idx+1:]
		}
	}
	for k, v := range overrides {
		merged[k] = v
	}
	result := make([]string, 0, len(merged))
	for k, v := range merged {
		result = append(result, k+"="+v)
	}
	return result
}

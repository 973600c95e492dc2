// Package launch forks and execs session child processes: the plain
// user program, or a debug stub wrapping it, wires their stdio to a
// capture pipe, places them in a fresh process group, and opts them in
// to being ptrace-attached later by an unrelated debugger process.
//
// Go's os/exec offers no hook for child-side setup between fork and
// exec, so the arguments and environment are rewritten, the daemon
// re-execs itself as a tiny trampoline (see helper.go), and that
// trampoline performs the setup and then replaces its own image with
// the real target — a "fork once, do setup, exec" shape spread across
// two execs instead of inline child code. Process-group placement
// still goes through syscall.SysProcAttr, the same mechanism a
// sandboxed process runner would use for its own children.
package launch

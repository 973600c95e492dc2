package launch

import (
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// HelperArg is the sentinel argument that tells cmd/sessiond's main to
// run RunHelper instead of starting the daemon. A freshly started
// process is only ever the trampoline when os.Args[1] equals this.
const HelperArg = "__sessiond_launch_helper__"

// RunHelper performs the in-child setup the original fork/exec sequence
// did between fork() and execve() — process-group placement is already
// done by the caller's SysProcAttr by the time this runs — and then
// replaces this process's image with the real target. args is
// os.Args[2:]: [chdirDir, execPath, argv0, argv1, ...].
//
// RunHelper never returns: it either execs successfully (the function
// never gets past syscall.Exec) or calls os.Exit(127), the
// conventional "exec failure exits 127" shell convention.
func RunHelper(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "sessiond: launch helper invoked with too few arguments")
		os.Exit(127)
	}
	chdirDir, execPath, argv := args[0], args[1], args[2:]

	if chdirDir != "" {
		if err := unix.Chdir(chdirDir); err != nil {
			os.Exit(127)
		}
	}

	// Best-effort: allow any process, not just a direct ancestor, to
	// ptrace-attach to this one later. A failure here (e.g. Yama
	// hard-disabled) does not block the launch.
	unix.Prctl(unix.PR_SET_PTRACER, unix.PR_SET_PTRACER_ANY, 0, 0, 0)

	env := os.Environ()
	if err := syscall.Exec(execPath, argv, env); err != nil {
		os.Exit(127)
	}
}

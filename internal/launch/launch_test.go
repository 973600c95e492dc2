package launch

import (
	"os"
	"testing"

	"github.com/sessiond/sessiond/internal/core"
)

func TestPortAllocatorRoundRobins(t *testing.T) {
	alloc := newPortAllocator(5500, 3)
	got := []int{alloc.alloc(), alloc.alloc(), alloc.alloc(), alloc.alloc()}
	want := []int{5500, 5501, 5502, 5500}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("alloc() sequence = %v, want %v", got, want)
		}
	}
}

func TestComposeEnvOverridesWin(t *testing.T) {
	t.Setenv("SESSIOND_TEST_VAR", "daemon-value")
	env := composeEnv(map[string]string{"SESSIOND_TEST_VAR": "override-value", "EXTRA": "1"})

	found := map[string]string{}
	for _, kv := range env {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				found[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	if found["SESSIOND_TEST_VAR"] != "override-value" {
		t.Fatalf("SESSIOND_TEST_VAR = %q, want override-value", found["SESSIOND_TEST_VAR"])
	}
	if found["EXTRA"] != "1" {
		t.Fatalf("EXTRA = %q, want 1", found["EXTRA"])
	}
}

func TestComposeCommandRawNoDebug(t *testing.T) {
	l := NewLauncher()
	session := core.NewSession("s1", core.Image{}, 0)
	session.Args = "--flag value"

	cmd, err := l.composeCommand(session, false, 0)
	if err != nil {
		t.Fatalf("composeCommand: %v", err)
	}
	if cmd.execPath != "/proc/self/fd/3" || cmd.argv0 != "/proc/self/fd/3" {
		t.Fatalf("execPath/argv0 = %q/%q, want /proc/self/fd/3", cmd.execPath, cmd.argv0)
	}
	if len(cmd.argv) != 2 || cmd.argv[0] != "--flag" || cmd.argv[1] != "value" {
		t.Fatalf("argv = %v, want [--flag value]", cmd.argv)
	}
	if cmd.chdir != "" {
		t.Fatalf("chdir = %q, want empty for a raw image", cmd.chdir)
	}
}

func TestComposeCommandBundleNoDebug(t *testing.T) {
	l := NewLauncher()
	session := core.NewSession("s1", core.Image{Bundle: true, Dir: "/tmp/x", EntryPath: "bin/app"}, 0)

	cmd, err := l.composeCommand(session, false, 0)
	if err != nil {
		t.Fatalf("composeCommand: %v", err)
	}
	wantPath := "/tmp/x/bin/app"
	if cmd.execPath != wantPath || cmd.argv0 != wantPath {
		t.Fatalf("execPath/argv0 = %q/%q, want %q", cmd.execPath, cmd.argv0, wantPath)
	}
	if cmd.chdir != "/tmp/x" {
		t.Fatalf("chdir = %q, want /tmp/x", cmd.chdir)
	}
}

func TestSignalOnSessionWithNoRuntimeIsNotRunning(t *testing.T) {
	l := NewLauncher()
	session := core.NewSession("s1", core.Image{}, 0)

	if err := l.Stop(session); err == nil || err.Code != core.CodeNotRunning {
		t.Fatalf("Stop() on a session with no runtime = %v, want CodeNotRunning", err)
	}
}

func TestTryReapOnNonChildPidIsTreatedAsReaped(t *testing.T) {
	l := NewLauncher()
	// os.Getpid() is never our own child, so Wait4 reports ECHILD,
	// which tryReap treats the same as "already collected" so state
	// transitions proceed rather than hang.
	if !l.tryReap(os.Getpid()) {
		t.Fatal("tryReap(own pid) = false, want true (ECHILD treated as reaped)")
	}
}

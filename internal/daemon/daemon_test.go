package daemon

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"strconv"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/sessiond/sessiond/internal/core"
	"github.com/sessiond/sessiond/internal/eventloop"
	"github.com/sessiond/sessiond/internal/launch"
)

// testHarness wires a Daemon to one end of a unix socketpair, so
// handler output can be read back synchronously without a real TCP
// listener or the event loop's poll cycle.
type testHarness struct {
	t    *testing.T
	d    *Daemon
	c    *conn
	peer *bufio.Reader
}

func newHarness(t *testing.T, sessionCap int, byteCap int64) *testHarness {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("Socketpair: %v", err)
	}

	registry := core.NewRegistry(sessionCap, byteCap)
	d := New(registry, launch.NewLauncher(), eventloop.New(), slog.Default())

	h := &testHarness{
		t:    t,
		d:    d,
		c:    &conn{fd: fds[0]},
		peer: bufio.NewReader(&fdReader{fd: fds[1]}),
	}
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return h
}

// fdReader adapts a raw blocking fd to io.Reader for bufio.
type fdReader struct{ fd int }

func (r *fdReader) Read(p []byte) (int, error) {
	n, err := unix.Read(r.fd, p)
	if n == 0 && err == nil {
		return 0, io.EOF
	}
	return n, err
}

// send dispatches a single command line through the daemon's own
// feed/dispatch path, exactly as handleConnReadable would.
func (h *testHarness) send(line string) {
	h.d.feed(h.c, []byte(line+"\n"))
}

// sendRaw feeds raw bytes (an UPLOAD payload) through feed.
func (h *testHarness) sendRaw(data []byte) {
	h.d.feed(h.c, data)
}

// readLine reads one newline-terminated response off the peer end.
func (h *testHarness) readLine() []byte {
	h.t.Helper()
	line, err := h.peer.ReadBytes('\n')
	if err != nil {
		h.t.Fatalf("reading response: %v", err)
	}
	return line[:len(line)-1]
}

// readStatus reads one response line and decodes it as a Status,
// failing the test if the line is an error response instead.
func (h *testHarness) readStatus() statusWire {
	h.t.Helper()
	raw := h.readLine()
	var errWire struct {
		ErrorCode string `json:"error_code"`
	}
	if json.Unmarshal(raw, &errWire) == nil && errWire.ErrorCode != "" {
		h.t.Fatalf("expected status, got error response %q", raw)
	}
	var s statusWire
	if err := json.Unmarshal(raw, &s); err != nil {
		h.t.Fatalf("decoding status %q: %v", raw, err)
	}
	return s
}

// readError reads one response line and returns its error_code,
// failing the test if the line is not an error response.
func (h *testHarness) readError() string {
	h.t.Helper()
	raw := h.readLine()
	var errWire struct {
		ErrorCode string `json:"error_code"`
	}
	if err := json.Unmarshal(raw, &errWire); err != nil {
		h.t.Fatalf("decoding error response %q: %v", raw, err)
	}
	if errWire.ErrorCode == "" {
		h.t.Fatalf("expected an error response, got %q", raw)
	}
	return errWire.ErrorCode
}

// statusWire mirrors internal/protocol.Status's JSON encoding for
// decoding responses in tests.
type statusWire struct {
	ID        string            `json:"id"`
	State     string            `json:"state"`
	PID       int               `json:"pid"`
	DebugPort int               `json:"debug_port"`
	Bundle    bool              `json:"bundle"`
	ExecPath  string            `json:"exec_path"`
	BundleDir string            `json:"bundle_dir"`
	Args      string            `json:"args"`
	Env       map[string]string `json:"env"`
}

func elfBytes(n int) []byte {
	payload := append([]byte{0x7f, 'E', 'L', 'F'}, make([]byte, n)...)
	return payload
}

func TestUploadZeroSizeIsInvalidSize(t *testing.T) {
	h := newHarness(t, 0, 0)
	h.send("UPLOAD 0")
	if code := h.readError(); code != string(core.CodeInvalidSize) {
		t.Fatalf("error_code = %q, want %q", code, core.CodeInvalidSize)
	}
}

func TestUploadNonNumericSizeIsInvalidSize(t *testing.T) {
	h := newHarness(t, 0, 0)
	h.send("UPLOAD abc")
	if code := h.readError(); code != string(core.CodeInvalidSize) {
		t.Fatalf("error_code = %q, want %q", code, core.CodeInvalidSize)
	}
}

func TestUploadRawBadMagicIsInvalidELF(t *testing.T) {
	h := newHarness(t, 0, 0)
	payload := []byte("not an elf header...")
	h.send("UPLOAD " + itoa(len(payload)))
	h.sendRaw(payload)
	if code := h.readError(); code != string(core.CodeInvalidELF) {
		t.Fatalf("error_code = %q, want %q", code, core.CodeInvalidELF)
	}
}

func TestUploadRawValidELFAdmitsLoadedSession(t *testing.T) {
	h := newHarness(t, 0, 0)
	payload := elfBytes(12)
	h.send("UPLOAD " + itoa(len(payload)))
	h.sendRaw(payload)

	s := h.readStatus()
	if s.State != "LOADED" {
		t.Fatalf("State = %q, want LOADED", s.State)
	}
	if s.ID == "" {
		t.Fatal("ID is empty")
	}
	if h.d.registry.Len() != 1 {
		t.Fatalf("registry.Len() = %d, want 1", h.d.registry.Len())
	}
}

func TestUploadBundleEntryPathTraversalIsRejected(t *testing.T) {
	h := newHarness(t, 0, 0)
	h.send("UPLOAD 10 ../escape")
	if code := h.readError(); code != string(core.CodeInvalidExecPath) {
		t.Fatalf("error_code = %q, want %q", code, core.CodeInvalidExecPath)
	}
}

func TestUploadRejectedWhenSessionCapReached(t *testing.T) {
	h := newHarness(t, 1, 0)
	h.d.registry.Insert(core.NewSession("existing", core.Image{}, 1))

	payload := elfBytes(4)
	h.send("UPLOAD " + itoa(len(payload)))
	h.sendRaw(payload)

	if code := h.readError(); code != string(core.CodeMaxSessions) {
		t.Fatalf("error_code = %q, want %q", code, core.CodeMaxSessions)
	}
}

func TestUploadRejectedWhenByteCapExceeded(t *testing.T) {
	h := newHarness(t, 0, 10)
	h.d.registry.Insert(core.NewSession("existing", core.Image{}, 8))

	payload := elfBytes(20)
	h.send("UPLOAD " + itoa(len(payload)))
	h.sendRaw(payload)

	if code := h.readError(); code != string(core.CodeMaxTotalBytes) {
		t.Fatalf("error_code = %q, want %q", code, core.CodeMaxTotalBytes)
	}
}

func TestStatusUnknownIDIsNotFound(t *testing.T) {
	h := newHarness(t, 0, 0)
	h.send("STATUS does-not-exist")
	if code := h.readError(); code != string(core.CodeNotFound) {
		t.Fatalf("error_code = %q, want %q", code, core.CodeNotFound)
	}
}

func TestArgsRoundTrip(t *testing.T) {
	h := newHarness(t, 0, 0)
	session := core.NewSession("s1", core.Image{}, 1)
	h.d.registry.Insert(session)

	h.send(`ARGS s1 --flag "c` + ` d"`)
	s := h.readStatus()
	if s.Args != `--flag "c d"` {
		t.Fatalf("Args = %q, want verbatim whitespace-split remainder", s.Args)
	}

	h.send("STATUS s1")
	s2 := h.readStatus()
	if s2.Args != s.Args {
		t.Fatalf("STATUS after ARGS = %q, want %q", s2.Args, s.Args)
	}
}

func TestEnvSetDelListRoundTrip(t *testing.T) {
	h := newHarness(t, 0, 0)
	session := core.NewSession("s1", core.Image{}, 1)
	h.d.registry.Insert(session)

	h.send("ENV s1 FOO=bar")
	s := h.readStatus()
	if s.Env["FOO"] != "bar" {
		t.Fatalf("Env[FOO] = %q, want bar", s.Env["FOO"])
	}

	h.send("ENVLIST s1")
	raw := h.readLine()
	var env map[string]string
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("decoding ENVLIST response %q: %v", raw, err)
	}
	if env["FOO"] != "bar" {
		t.Fatalf("ENVLIST = %v, want FOO=bar", env)
	}

	h.send("ENVDEL s1 FOO")
	s2 := h.readStatus()
	if _, ok := s2.Env["FOO"]; ok {
		t.Fatalf("Env still has FOO after ENVDEL: %v", s2.Env)
	}
}

func TestEnvMissingEqualsIsInvalidEnv(t *testing.T) {
	h := newHarness(t, 0, 0)
	h.d.registry.Insert(core.NewSession("s1", core.Image{}, 1))

	h.send("ENV s1 NOEQUALSHERE")
	if code := h.readError(); code != string(core.CodeInvalidEnv) {
		t.Fatalf("error_code = %q, want %q", code, core.CodeInvalidEnv)
	}
}

func TestDeleteWhileRunningIsRejected(t *testing.T) {
	h := newHarness(t, 0, 0)
	session := core.NewSession("s1", core.Image{}, 1)
	session.State = core.StateRunning
	session.Runtime = &core.Runtime{PID: 999}
	h.d.registry.Insert(session)

	h.send("DELETE s1")
	if code := h.readError(); code != string(core.CodeSessionRunning) {
		t.Fatalf("error_code = %q, want %q", code, core.CodeSessionRunning)
	}
}

func TestDeleteAfterStoppedSucceeds(t *testing.T) {
	h := newHarness(t, 0, 0)
	payload := elfBytes(4)
	image, err := (func() (core.Image, error) {
		b, berr := core.NewRawImageBuilder()
		if berr != nil {
			return core.Image{}, berr
		}
		if werr := b.Write(payload); werr != nil {
			return core.Image{}, werr
		}
		return b.Finalize()
	})()
	if err != nil {
		t.Fatalf("building test image: %v", err)
	}
	session := core.NewSession("s1", image, int64(len(payload)))
	session.State = core.StateStopped
	h.d.registry.Insert(session)

	h.send("DELETE s1")
	raw := h.readLine()
	var st struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(raw, &st); err != nil {
		t.Fatalf("decoding DELETE response %q: %v", raw, err)
	}
	if st.State != "DELETED" {
		t.Fatalf("State = %q, want DELETED", st.State)
	}
	if _, ok := h.d.registry.Lookup("s1"); ok {
		t.Fatal("session still present in registry after DELETE")
	}
}

func TestStartRejectsAlreadyRunningSession(t *testing.T) {
	h := newHarness(t, 0, 0)
	session := core.NewSession("s1", core.Image{}, 1)
	session.State = core.StateRunning
	session.Runtime = &core.Runtime{PID: 999}
	h.d.registry.Insert(session)

	h.send("START s1")
	if code := h.readError(); code != string(core.CodeAlreadyRunning) {
		t.Fatalf("error_code = %q, want %q", code, core.CodeAlreadyRunning)
	}
}

func TestKillEagerlyTransitionsReapedSessionToStopped(t *testing.T) {
	h := newHarness(t, 0, 0)
	session := core.NewSession("s1", core.Image{}, 1)
	session.State = core.StateRunning

	// A pid this test process never forked: Launcher.Kill's reap
	// (syscall.Wait4 with WNOHANG) gets ECHILD for it, which
	// Launcher.tryReap treats the same as successfully collecting an
	// already-dead child — exercising the eager-STOPPED path without
	// needing a real child to race against.
	session.Runtime = &core.Runtime{PID: 999999}
	h.d.registry.Insert(session)

	h.send("KILL s1")
	s := h.readStatus()
	if s.State != "STOPPED" {
		t.Fatalf("State after KILL = %q, want STOPPED", s.State)
	}
	if session.Runtime != nil {
		t.Fatal("Runtime not cleared after eager STOPPED transition")
	}
}

func TestOutputReturnsCapturedBytesFromOffset(t *testing.T) {
	h := newHarness(t, 0, 0)
	session := core.NewSession("s1", core.Image{}, 1)
	session.Output.Write([]byte("hello world"))
	h.d.registry.Insert(session)

	h.send("OUTPUT s1 6")
	raw := h.readLine()
	var resp struct {
		Output string `json:"output"`
		Offset uint64 `json:"offset"`
		Total  uint64 `json:"total"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatalf("decoding OUTPUT response %q: %v", raw, err)
	}
	if resp.Output != "world" {
		t.Fatalf("Output = %q, want %q", resp.Output, "world")
	}
	if resp.Total != 11 {
		t.Fatalf("Total = %d, want 11", resp.Total)
	}
}

func TestListIsSortedByID(t *testing.T) {
	h := newHarness(t, 0, 0)
	h.d.registry.Insert(core.NewSession("b", core.Image{}, 1))
	h.d.registry.Insert(core.NewSession("a", core.Image{}, 1))

	h.send("LIST")
	raw := h.readLine()
	var statuses []statusWire
	if err := json.Unmarshal(raw, &statuses); err != nil {
		t.Fatalf("decoding LIST response %q: %v", raw, err)
	}
	if len(statuses) != 2 || statuses[0].ID != "a" || statuses[1].ID != "b" {
		t.Fatalf("LIST = %v, want [a b]", statuses)
	}
}

func TestUnknownVerbIsUnknownCommand(t *testing.T) {
	h := newHarness(t, 0, 0)
	h.send("BOGUS")
	if code := h.readError(); code != string(core.CodeUnknownCommand) {
		t.Fatalf("error_code = %q, want %q", code, core.CodeUnknownCommand)
	}
}

func TestDepsReportsTarAndGzipAlwaysAvailable(t *testing.T) {
	h := newHarness(t, 0, 0)
	h.send("DEPS")
	raw := h.readLine()
	var resp struct {
		Tar       bool `json:"tar"`
		Gzip      bool `json:"gzip"`
		GDBServer bool `json:"gdbserver"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatalf("decoding DEPS response %q: %v", raw, err)
	}
	if !resp.Tar || !resp.Gzip {
		t.Fatalf("DEPS = %+v, want tar and gzip both true", resp)
	}
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

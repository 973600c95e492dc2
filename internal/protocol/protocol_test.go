package protocol

import (
	"strings"
	"testing"
	"time"
)

func TestParseCommandSplitsVerbAndRest(t *testing.T) {
	cmd := ParseCommand("ENV abc123 KEY=VAL")
	if cmd.Verb != "ENV" || cmd.Rest != "abc123 KEY=VAL" {
		t.Fatalf("ParseCommand = %+v", cmd)
	}
}

func TestParseCommandNoArguments(t *testing.T) {
	cmd := ParseCommand("LIST")
	if cmd.Verb != "LIST" || cmd.Rest != "" {
		t.Fatalf("ParseCommand = %+v", cmd)
	}
}

func TestArgsVerbKeepsRestOfLineVerbatim(t *testing.T) {
	cmd := ParseCommand(`ARGS abc123 --flag "c d"`)
	if cmd.Rest != `abc123 --flag "c d"` {
		t.Fatalf("Rest = %q", cmd.Rest)
	}
}

func TestSplitLinesStripsTrailingCR(t *testing.T) {
	lines, remainder := SplitLines([]byte("LIST\r\nSTATUS abc\n"))
	if len(lines) != 2 || lines[0] != "LIST" || lines[1] != "STATUS abc" {
		t.Fatalf("lines = %v", lines)
	}
	if len(remainder) != 0 {
		t.Fatalf("remainder = %q, want empty", remainder)
	}
}

func TestSplitLinesLeavesPartialLineBuffered(t *testing.T) {
	lines, remainder := SplitLines([]byte("LIST\nSTATUS a"))
	if len(lines) != 1 || lines[0] != "LIST" {
		t.Fatalf("lines = %v", lines)
	}
	if string(remainder) != "STATUS a" {
		t.Fatalf("remainder = %q", remainder)
	}
}

func TestStatusJSONOmitsBundleFieldsWhenNotBundle(t *testing.T) {
	s := Status{ID: "abc", State: "LOADED"}
	got := string(s.JSON())
	if strings.Contains(got, "bundle") {
		t.Fatalf("JSON() = %s, did not expect bundle fields", got)
	}
	if !strings.Contains(got, `"pid":null`) || !strings.Contains(got, `"debug_port":null`) {
		t.Fatalf("JSON() = %s, want null pid/debug_port", got)
	}
}

func TestStatusJSONIncludesBundleFields(t *testing.T) {
	s := Status{ID: "abc", State: "RUNNING", PID: 123, Bundle: true, ExecPath: "bin/app", BundleDir: "/tmp/x"}
	got := string(s.JSON())
	if !strings.Contains(got, `"bundle":true`) || !strings.Contains(got, `"exec_path":"bin/app"`) {
		t.Fatalf("JSON() = %s", got)
	}
	if !strings.Contains(got, `"pid":123`) {
		t.Fatalf("JSON() = %s, want pid 123", got)
	}
}

func TestStatusJSONEscapesControlCharsAsLiteralQuestionMark(t *testing.T) {
	s := Status{ID: "abc", State: "LOADED", Args: "a\x01b"}
	got := string(s.JSON())
	if !strings.Contains(got, `"args":"a?b"`) {
		t.Fatalf("JSON() = %s, want control byte replaced with ?", got)
	}
}

func TestEnvJSONSortsKeys(t *testing.T) {
	got := string(EnvJSON(map[string]string{"B": "2", "A": "1"}))
	want := `{"A":"1","B":"2"}`
	if got != want {
		t.Fatalf("EnvJSON() = %s, want %s", got, want)
	}
}

func TestListJSONWrapsStatusesInArray(t *testing.T) {
	got := string(ListJSON([]Status{{ID: "a", State: "LOADED"}, {ID: "b", State: "RUNNING", PID: 1}}))
	if !strings.HasPrefix(got, "[") || !strings.HasSuffix(got, "]") {
		t.Fatalf("ListJSON() = %s", got)
	}
	if !strings.Contains(got, `"id":"a"`) || !strings.Contains(got, `"id":"b"`) {
		t.Fatalf("ListJSON() = %s", got)
	}
}

func TestErrorResponseJSONEndsWithNewline(t *testing.T) {
	e := ErrorResponse{Code: "not_found", Message: "session not found", Time: time.Unix(0, 0)}
	got := string(e.JSON())
	if !strings.HasSuffix(got, "}\n") {
		t.Fatalf("JSON() = %q, want trailing }\\n", got)
	}
	if !strings.Contains(got, `"ok":false`) || !strings.Contains(got, `"error_code":"not_found"`) {
		t.Fatalf("JSON() = %s", got)
	}
}

func TestOutputResponseCarriesRawBytesThroughEscaping(t *testing.T) {
	o := OutputResponse{ID: "abc", Data: []byte("hello\x00world"), Offset: 5, Total: 16}
	got := string(o.JSON())
	if !strings.Contains(got, `"output":"hello?world"`) {
		t.Fatalf("JSON() = %s, want NUL replaced with ?", got)
	}
	if !strings.Contains(got, `"offset":5`) || !strings.Contains(got, `"total":16`) {
		t.Fatalf("JSON() = %s", got)
	}
}

package protocol

import (
	"bytes"
	"strconv"
	"time"
)

// ErrorResponse is the wire shape of a failed command:
// { "ok": false, "error_code": "...", "message": "...", "time": "..." }.
type ErrorResponse struct {
	Code    string
	Message string
	Time    time.Time
}

// JSON returns the compact single-line JSON encoding of e, terminated
// by the \n every response carries.
func (e ErrorResponse) JSON() []byte {
	var w bytes.Buffer
	w.WriteString(`{"ok":false,"error_code":`)
	w.Write(quoted(e.Code))
	w.WriteString(`,"message":`)
	w.Write(quoted(e.Message))
	w.WriteString(`,"time":`)
	w.Write(quoted(e.Time.UTC().Format(time.RFC3339)))
	w.WriteString("}\n")
	return w.Bytes()
}

// OutputResponse is the wire shape of an OUTPUT reply: a
// slice of captured bytes starting at the offset the client asked for
// (or the current retained start, if the asked-for offset has already
// been evicted), plus the offset the client supplied and the buffer's
// running total. Field naming (id/output/offset/total) follows
// original_source/src/debuglanternd.cpp's handle_output.
type OutputResponse struct {
	ID     string
	Data   []byte
	Offset uint64
	Total  uint64
}

// JSON returns the compact single-line JSON encoding of o.
func (o OutputResponse) JSON() []byte {
	var w bytes.Buffer
	w.WriteString(`{"id":`)
	w.Write(quoted(o.ID))
	w.WriteString(`,"output":`)
	w.Write(quotedBytes(o.Data))
	w.WriteString(`,"offset":`)
	w.WriteString(strconv.FormatUint(o.Offset, 10))
	w.WriteString(`,"total":`)
	w.WriteString(strconv.FormatUint(o.Total, 10))
	w.WriteByte('}')
	return w.Bytes()
}

// DepsResponse is the wire shape of a DEPS reply: which
// external helpers the daemon can use.
type DepsResponse struct {
	Tar       bool
	Gzip      bool
	GDBServer bool
}

// JSON returns the compact single-line JSON encoding of d.
func (d DepsResponse) JSON() []byte {
	var w bytes.Buffer
	w.WriteString(`{"tar":`)
	w.WriteString(strconv.FormatBool(d.Tar))
	w.WriteString(`,"gzip":`)
	w.WriteString(strconv.FormatBool(d.Gzip))
	w.WriteString(`,"gdbserver":`)
	w.WriteString(strconv.FormatBool(d.GDBServer))
	w.WriteByte('}')
	return w.Bytes()
}

// DefaultMessage returns a human-readable message for error codes
// raised at the protocol/daemon layer itself rather than by
// internal/core (which always supplies its own contextual message).
func DefaultMessage(code string) string {
	switch code {
	case "unknown_command":
		return "unknown command"
	case "not_found":
		return "session not found"
	case "upload_in_progress":
		return "upload already in progress on this connection"
	case "session_running":
		return "session must be stopped before delete"
	case "already_running":
		return "session is already running"
	case "not_running":
		return "session is not running"
	default:
		return "unspecified error"
	}
}

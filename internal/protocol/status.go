package protocol

import (
	"bytes"
	"sort"
	"strconv"
)

// Status is the wire shape of one session's state. Zero
// values for PID/DebugPort render as JSON null; the bundle and args
// fields are omitted entirely when not applicable, matching the
// original session_json composition this is grounded on.
type Status struct {
	ID        string
	State     string
	PID       int // 0 means no live process
	DebugPort int // 0 means no debug stub
	Bundle    bool
	ExecPath  string
	BundleDir string
	Args      string
	Env       map[string]string
}

// AppendJSON appends the compact single-line JSON encoding of s to buf
// and returns the result.
func (s Status) AppendJSON(buf []byte) []byte {
	w := bytes.NewBuffer(buf)
	w.WriteByte('{')

	w.WriteString(`"id":`)
	w.Write(quoted(s.ID))
	w.WriteByte(',')

	w.WriteString(`"state":`)
	w.Write(quoted(s.State))
	w.WriteByte(',')

	w.WriteString(`"pid":`)
	if s.PID > 0 {
		w.WriteString(strconv.Itoa(s.PID))
	} else {
		w.WriteString("null")
	}
	w.WriteByte(',')

	w.WriteString(`"debug_port":`)
	if s.DebugPort > 0 {
		w.WriteString(strconv.Itoa(s.DebugPort))
	} else {
		w.WriteString("null")
	}

	if s.Bundle {
		w.WriteString(`,"bundle":true,"exec_path":`)
		w.Write(quoted(s.ExecPath))
		w.WriteString(`,"bundle_dir":`)
		w.Write(quoted(s.BundleDir))
	}

	if s.Args != "" {
		w.WriteString(`,"args":`)
		w.Write(quoted(s.Args))
	}

	if len(s.Env) > 0 {
		w.WriteString(`,"env":`)
		w.Write(envJSON(s.Env))
	}

	w.WriteByte('}')
	return w.Bytes()
}

// JSON returns the compact single-line JSON encoding of s.
func (s Status) JSON() []byte {
	return s.AppendJSON(nil)
}

// envJSON encodes a session's environment overrides as a JSON object,
// keys sorted for deterministic output (used standalone for ENVLIST and
// nested under "env" in a Status).
func envJSON(env map[string]string) []byte {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var w bytes.Buffer
	w.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			w.WriteByte(',')
		}
		w.Write(quoted(k))
		w.WriteByte(':')
		w.Write(quoted(env[k]))
	}
	w.WriteByte('}')
	return w.Bytes()
}

// EnvJSON returns the JSON object encoding of env, for the ENVLIST verb.
func EnvJSON(env map[string]string) []byte {
	return envJSON(env)
}

// ListJSON encodes a slice of statuses as a JSON array, the LIST verb's
// response shape.
func ListJSON(statuses []Status) []byte {
	var w bytes.Buffer
	w.WriteByte('[')
	for i, s := range statuses {
		if i > 0 {
			w.WriteByte(',')
		}
		w.Write(s.JSON())
	}
	w.WriteByte(']')
	return w.Bytes()
}

package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// wireError mirrors the daemon's error response shape
// (internal/protocol.ErrorResponse.JSON): present only on failed
// commands, absent from every successful reply.
type wireError struct {
	OK      *bool  `json:"ok"`
	Code    string `json:"error_code"`
	Message string `json:"message"`
}

// Error is returned by Client methods when the daemon replies with an
// error line instead of the expected success shape.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// SessionStatus mirrors internal/protocol.Status's JSON encoding.
type SessionStatus struct {
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

// OutputReply mirrors internal/protocol.OutputResponse's JSON encoding.
type OutputReply struct {
	ID     string `json:"id"`
	Output string `json:"output"`
	Offset uint64 `json:"offset"`
	Total  uint64 `json:"total"`
}

// DepsReply mirrors internal/protocol.DepsResponse's JSON encoding.
type DepsReply struct {
	Tar       bool `json:"tar"`
	Gzip      bool `json:"gzip"`
	GDBServer bool `json:"gdbserver"`
}

// Client is a single persistent TCP connection to a sessiond control
// port: one command per round trip, one JSON line back, matching the
// protocol's request/response shape exactly.
type Client struct {
	conn    net.Conn
	reader  *bufio.Reader
	timeout time.Duration
}

// Dial opens a control connection to addr (host:port).
func Dial(addr string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	return &Client{conn: conn, reader: bufio.NewReader(conn), timeout: timeout}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// roundTrip sends a single command line and reads a single response
// line, returning the raw JSON bytes (without the trailing newline).
func (c *Client) roundTrip(line string) ([]byte, error) {
	if c.timeout > 0 {
		c.conn.SetDeadline(time.Now().Add(c.timeout))
	}
	if _, err := c.conn.Write([]byte(line + "\n")); err != nil {
		return nil, fmt.Errorf("writing command: %w", err)
	}
	raw, err := c.reader.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	raw = raw[:len(raw)-1]

	var maybeErr wireError
	if json.Unmarshal(raw, &maybeErr) == nil && maybeErr.Code != "" {
		return nil, &Error{Code: maybeErr.Code, Message: maybeErr.Message}
	}
	return raw, nil
}

func (c *Client) decode(line string, out any) error {
	raw, err := c.roundTrip(line)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// List returns the status of every session currently registered.
func (c *Client) List() ([]SessionStatus, error) {
	var statuses []SessionStatus
	if err := c.decode("LIST", &statuses); err != nil {
		return nil, err
	}
	return statuses, nil
}

// Status returns one session's status.
func (c *Client) Status(id string) (SessionStatus, error) {
	var s SessionStatus
	err := c.decode("STATUS "+id, &s)
	return s, err
}

// SetArgs replaces a session's argv, returning its updated status.
func (c *Client) SetArgs(id, args string) (SessionStatus, error) {
	var s SessionStatus
	err := c.decode("ARGS "+id+" "+args, &s)
	return s, err
}

// SetEnv sets a single environment override, returning updated status.
func (c *Client) SetEnv(id, key, value string) (SessionStatus, error) {
	var s SessionStatus
	err := c.decode("ENV "+id+" "+key+"="+value, &s)
	return s, err
}

// DelEnv removes an environment override, returning updated status.
func (c *Client) DelEnv(id, key string) (SessionStatus, error) {
	var s SessionStatus
	err := c.decode("ENVDEL "+id+" "+key, &s)
	return s, err
}

// EnvList returns a session's environment overrides.
func (c *Client) EnvList(id string) (map[string]string, error) {
	env := make(map[string]string)
	err := c.decode("ENVLIST "+id, &env)
	return env, err
}

// Start launches a session, optionally under the debug stub.
func (c *Client) Start(id string, debug bool) (SessionStatus, error) {
	line := "START " + id
	if debug {
		line += " --debug"
	}
	var s SessionStatus
	err := c.decode(line, &s)
	return s, err
}

// Stop sends graceful termination to a running session.
func (c *Client) Stop(id string) (SessionStatus, error) {
	var s SessionStatus
	err := c.decode("STOP "+id, &s)
	return s, err
}

// Kill sends hard termination to a running session.
func (c *Client) Kill(id string) (SessionStatus, error) {
	var s SessionStatus
	err := c.decode("KILL "+id, &s)
	return s, err
}

// Debug attaches a debug stub to an already-running session.
func (c *Client) Debug(id string) (SessionStatus, error) {
	var s SessionStatus
	err := c.decode("DEBUG "+id, &s)
	return s, err
}

// Delete removes a stopped session from the registry.
func (c *Client) Delete(id string) (SessionStatus, error) {
	var s SessionStatus
	err := c.decode("DELETE "+id, &s)
	return s, err
}

// Output fetches captured output starting at offset.
func (c *Client) Output(id string, offset uint64) (OutputReply, error) {
	var o OutputReply
	err := c.decode(fmt.Sprintf("OUTPUT %s %d", id, offset), &o)
	return o, err
}

// Deps reports which external helpers the daemon found on PATH.
func (c *Client) Deps() (DepsReply, error) {
	var d DepsReply
	err := c.decode("DEPS", &d)
	return d, err
}

// Upload sends UPLOAD <len(data)> [entryPath], then data itself
// unframed (no further line breaks — the daemon reads exactly
// len(data) bytes off the connection once it has parsed the command
// line). entryPath is empty for a raw ELF upload, non-empty to select
// the executable inside a gzip-tar bundle.
func (c *Client) Upload(data []byte, entryPath string) (SessionStatus, error) {
	line := fmt.Sprintf("UPLOAD %d", len(data))
	if entryPath != "" {
		line += " " + entryPath
	}
	if c.timeout > 0 {
		c.conn.SetDeadline(time.Now().Add(c.timeout))
	}
	if _, err := c.conn.Write([]byte(line + "\n")); err != nil {
		return SessionStatus{}, fmt.Errorf("writing command: %w", err)
	}
	if _, err := c.conn.Write(data); err != nil {
		return SessionStatus{}, fmt.Errorf("writing payload: %w", err)
	}
	raw, err := c.reader.ReadBytes('\n')
	if err != nil {
		return SessionStatus{}, fmt.Errorf("reading response: %w", err)
	}
	raw = raw[:len(raw)-1]

	var maybeErr wireError
	if json.Unmarshal(raw, &maybeErr) == nil && maybeErr.Code != "" {
		return SessionStatus{}, &Error{Code: maybeErr.Code, Message: maybeErr.Message}
	}
	var s SessionStatus
	err = json.Unmarshal(raw, &s)
	return s, err
}

package daemon

import (
	"time"

	"github.com/sessiond/sessiond/internal/core"
	"github.com/sessiond/sessiond/internal/protocol"
)

// respondCoreError writes a session-manager error as the wire error
// shape.
func (d *Daemon) respondCoreError(c *conn, err *core.Error) {
	e := protocol.ErrorResponse{Code: string(err.Code), Message: err.Message, Time: time.Now()}
	d.write(c, e.JSON())
}

// respondErrorCode writes an error whose message comes from
// protocol.DefaultMessage rather than from an *core.Error (verbs
// handled entirely at this layer, e.g. unknown_command).
func (d *Daemon) respondErrorCode(c *conn, code string) {
	e := protocol.ErrorResponse{Code: code, Message: protocol.DefaultMessage(code), Time: time.Now()}
	d.write(c, e.JSON())
}

// respondErr writes err as the wire error shape, unwrapping *core.Error
// for its stable code or falling back to a generic upload-failure code
// for anything else (host-resource errors from the upload builders are
// always *core.Error in practice; the fallback only guards against a
// future caller passing a bare error).
func (d *Daemon) respondErr(c *conn, err error) {
	if ce, ok := err.(*core.Error); ok {
		d.respondCoreError(c, ce)
		return
	}
	e := protocol.ErrorResponse{Code: string(core.CodeUploadWriteFailed), Message: err.Error(), Time: time.Now()}
	d.write(c, e.JSON())
}

// respondStatus writes a session's status JSON terminated by \n.
func (d *Daemon) respondStatus(c *conn, s *core.Session) {
	buf := toStatus(s).JSON()
	buf = append(buf, '\n')
	d.write(c, buf)
}

// toStatus maps a session onto its wire representation.
func toStatus(s *core.Session) protocol.Status {
	st := protocol.Status{
		ID:    s.ID,
		State: s.State.String(),
		Args:  s.Args,
		Env:   s.Env,
	}
	if s.Runtime != nil {
		st.PID = s.Runtime.PID
		st.DebugPort = s.Runtime.DebugPort
	}
	if s.Image.Bundle {
		st.Bundle = true
		st.ExecPath = s.Image.EntryPath
		st.BundleDir = s.Image.Dir
	}
	return st
}

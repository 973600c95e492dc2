package daemon

import (
	"strconv"
	"strings"

	"github.com/sessiond/sessiond/internal/core"
	"github.com/sessiond/sessiond/internal/protocol"
)

// dispatch parses and routes one complete command line. UPLOAD is
// handled by handleUpload directly off the raw command rather than
// through the id-lookup helpers below, since it has no session yet.
func (d *Daemon) dispatch(c *conn, line string) {
	cmd := protocol.ParseCommand(line)
	switch cmd.Verb {
	case "UPLOAD":
		d.handleUpload(c, cmd)
	case "LIST":
		d.handleList(c)
	case "STATUS":
		d.handleStatus(c, cmd)
	case "ARGS":
		d.handleArgs(c, cmd)
	case "ENV":
		d.handleEnv(c, cmd)
	case "ENVDEL":
		d.handleEnvDel(c, cmd)
	case "ENVLIST":
		d.handleEnvList(c, cmd)
	case "START":
		d.handleStart(c, cmd)
	case "STOP":
		d.handleStop(c, cmd)
	case "KILL":
		d.handleKill(c, cmd)
	case "DEBUG":
		d.handleDebug(c, cmd)
	case "DELETE":
		d.handleDelete(c, cmd)
	case "OUTPUT":
		d.handleOutput(c, cmd)
	case "DEPS":
		d.handleDeps(c)
	case "SYSROOT":
		d.handleSysroot(c)
	default:
		d.respondErrorCode(c, string(core.CodeUnknownCommand))
	}
}

// splitIDRest splits "<id> <tail>" the same way protocol.ParseCommand
// splits a verb line, so ARGS can keep the rest of its line verbatim.
func splitIDRest(rest string) (id, tail string) {
	id, tail, found := strings.Cut(rest, " ")
	if !found {
		return id, ""
	}
	return id, strings.TrimLeft(tail, " ")
}

// lookup finds a session by id, sending not_found and returning false
// if it doesn't exist.
func (d *Daemon) lookup(c *conn, id string) (*core.Session, bool) {
	s, ok := d.registry.Lookup(id)
	if !ok {
		d.respondErrorCode(c, string(core.CodeNotFound))
		return nil, false
	}
	return s, true
}

func (d *Daemon) handleList(c *conn) {
	sessions := d.registry.List()
	statuses := make([]protocol.Status, len(sessions))
	for i, s := range sessions {
		statuses[i] = toStatus(s)
	}
	buf := protocol.ListJSON(statuses)
	buf = append(buf, '\n')
	d.write(c, buf)
}

func (d *Daemon) handleStatus(c *conn, cmd protocol.Command) {
	fields := cmd.Fields()
	if len(fields) < 1 {
		d.respondErrorCode(c, string(core.CodeNotFound))
		return
	}
	s, ok := d.lookup(c, fields[0])
	if !ok {
		return
	}
	d.respondStatus(c, s)
}

func (d *Daemon) handleArgs(c *conn, cmd protocol.Command) {
	id, tail := splitIDRest(cmd.Rest)
	s, ok := d.lookup(c, id)
	if !ok {
		return
	}
	s.Args = tail
	d.respondStatus(c, s)
}

func (d *Daemon) handleEnv(c *conn, cmd protocol.Command) {
	id, tail := splitIDRest(cmd.Rest)
	s, ok := d.lookup(c, id)
	if !ok {
		return
	}
	key, val, found := strings.Cut(tail, "=")
	if !found || key == "" {
		d.respondErrorCode(c, string(core.CodeInvalidEnv))
		return
	}
	s.Env[key] = val
	d.respondStatus(c, s)
}

func (d *Daemon) handleEnvDel(c *conn, cmd protocol.Command) {
	id, key := splitIDRest(cmd.Rest)
	s, ok := d.lookup(c, id)
	if !ok {
		return
	}
	if key == "" {
		d.respondErrorCode(c, string(core.CodeInvalidEnv))
		return
	}
	delete(s.Env, key)
	d.respondStatus(c, s)
}

func (d *Daemon) handleEnvList(c *conn, cmd protocol.Command) {
	fields := cmd.Fields()
	if len(fields) < 1 {
		d.respondErrorCode(c, string(core.CodeNotFound))
		return
	}
	s, ok := d.lookup(c, fields[0])
	if !ok {
		return
	}
	buf := protocol.EnvJSON(s.Env)
	buf = append(buf, '\n')
	d.write(c, buf)
}

func (d *Daemon) handleStart(c *conn, cmd protocol.Command) {
	fields := cmd.Fields()
	if len(fields) < 1 {
		d.respondErrorCode(c, string(core.CodeNotFound))
		return
	}
	s, ok := d.lookup(c, fields[0])
	if !ok {
		return
	}
	if s.State != core.StateLoaded && s.State != core.StateStopped {
		d.respondErrorCode(c, string(core.CodeAlreadyRunning))
		return
	}
	debug := len(fields) >= 2 && fields[1] == "--debug"
	if err := d.launcher.Start(s, debug); err != nil {
		d.respondCoreError(c, err)
		return
	}
	d.registerRuntime(s)
	d.respondStatus(c, s)
}

func (d *Daemon) handleStop(c *conn, cmd protocol.Command) {
	fields := cmd.Fields()
	if len(fields) < 1 {
		d.respondErrorCode(c, string(core.CodeNotFound))
		return
	}
	s, ok := d.lookup(c, fields[0])
	if !ok {
		return
	}
	if err := d.launcher.Stop(s); err != nil {
		d.respondCoreError(c, err)
		return
	}
	d.respondStatus(c, s)
}

func (d *Daemon) handleKill(c *conn, cmd protocol.Command) {
	fields := cmd.Fields()
	if len(fields) < 1 {
		d.respondErrorCode(c, string(core.CodeNotFound))
		return
	}
	s, ok := d.lookup(c, fields[0])
	if !ok {
		return
	}
	reaped, err := d.launcher.Kill(s)
	if err != nil {
		d.respondCoreError(c, err)
		return
	}
	if reaped {
		// Eager transition to STOPPED, so a freshly forked child that
		// KILL reaped immediately is reflected in this response instead
		// of waiting for the pidfd to separately report readiness.
		d.transitionToStopped(s)
	}
	d.respondStatus(c, s)
}

func (d *Daemon) handleDebug(c *conn, cmd protocol.Command) {
	fields := cmd.Fields()
	if len(fields) < 1 {
		d.respondErrorCode(c, string(core.CodeNotFound))
		return
	}
	s, ok := d.lookup(c, fields[0])
	if !ok {
		return
	}
	if err := d.launcher.AttachDebug(s); err != nil {
		d.respondCoreError(c, err)
		return
	}
	d.registerStubExit(s)
	d.respondStatus(c, s)
}

func (d *Daemon) handleDelete(c *conn, cmd protocol.Command) {
	fields := cmd.Fields()
	if len(fields) < 1 {
		d.respondErrorCode(c, string(core.CodeNotFound))
		return
	}
	s, ok := d.lookup(c, fields[0])
	if !ok {
		return
	}
	if s.State == core.StateRunning || s.State == core.StateDebugging {
		d.respondErrorCode(c, string(core.CodeSessionRunning))
		return
	}
	s.Image.Close()
	d.registry.Remove(s.ID)

	st := protocol.Status{ID: s.ID, State: "DELETED"}
	buf := st.JSON()
	buf = append(buf, '\n')
	d.write(c, buf)
}

func (d *Daemon) handleOutput(c *conn, cmd protocol.Command) {
	fields := cmd.Fields()
	if len(fields) < 1 {
		d.respondErrorCode(c, string(core.CodeNotFound))
		return
	}
	s, ok := d.lookup(c, fields[0])
	if !ok {
		return
	}
	var offset uint64
	if len(fields) >= 2 {
		parsed, err := strconv.ParseUint(fields[1], 10, 64)
		if err == nil {
			offset = parsed
		}
	}
	resp := protocol.OutputResponse{
		ID:     s.ID,
		Data:   s.Output.ReadFrom(offset),
		Offset: offset,
		Total:  s.Output.Total(),
	}
	buf := resp.JSON()
	buf = append(buf, '\n')
	d.write(c, buf)
}

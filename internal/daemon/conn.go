package daemon

import (
	"bytes"

	"golang.org/x/sys/unix"
)

// conn is one client connection's framing state. A connection owns a
// read buffer that holds either buffered command text or, while upload
// is non-nil, nothing meaningful — incoming bytes are routed straight
// into the upload builder instead of being line-split.
type conn struct {
	fd     int
	rbuf   []byte
	upload *uploadState
}

// consume drops the first n bytes of c.rbuf, reusing the backing array.
func (c *conn) consume(n int) {
	remaining := copy(c.rbuf, c.rbuf[n:])
	c.rbuf = c.rbuf[:remaining]
}

// write is a best-effort, non-blocking send: after a short write the
// rest is written again, but a failed or EAGAIN'd write simply drops
// the remainder rather than blocking the event loop.
func (d *Daemon) write(c *conn, data []byte) {
	for len(data) > 0 {
		n, err := unix.Write(c.fd, data)
		if err != nil || n <= 0 {
			return
		}
		data = data[n:]
	}
}

// writeBlocking performs a complete, retrying write, temporarily
// flipping the socket out of non-blocking mode for the duration. Used
// only by the SYSROOT handler, the one path that streams a large file
// by blocking writes to the client socket — tolerable only because the
// client is trusted.
func (d *Daemon) writeBlocking(c *conn, data []byte) error {
	if err := unix.SetNonblock(c.fd, false); err != nil {
		return err
	}
	defer unix.SetNonblock(c.fd, true)

	for len(data) > 0 {
		n, err := unix.Write(c.fd, data)
		if err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

// feed appends newly read bytes to the connection's buffer, then
// drains as many complete lines (or, in upload mode, payload bytes)
// as are available. A command that itself switches the connection
// into upload mode hands off the rest of the already-buffered bytes
// to the upload builder without ever treating them as further lines —
// necessary because an uploaded ELF or tarball may contain arbitrary
// bytes, including '\n'.
func (d *Daemon) feed(c *conn, data []byte) {
	c.rbuf = append(c.rbuf, data...)
	for {
		if c.upload != nil {
			if !d.drainUpload(c) {
				return
			}
			continue
		}
		idx := bytes.IndexByte(c.rbuf, '\n')
		if idx < 0 {
			return
		}
		line := string(c.rbuf[:idx])
		if len(line) > 0 && line[len(line)-1] == '\r' {
			line = line[:len(line)-1]
		}
		c.consume(idx + 1)
		d.dispatch(c, line)
	}
}

// drainUpload feeds as much of c.rbuf as is outstanding into the
// in-progress upload, returning true if the loop in feed should
// continue (the upload finished, or failed and was aborted) and false
// if it should wait for more data from the socket.
func (d *Daemon) drainUpload(c *conn) bool {
	u := c.upload
	take := uint64(len(c.rbuf))
	if take > u.remaining {
		take = u.remaining
	}
	if take > 0 {
		chunk := c.rbuf[:take]
		if err := u.write(chunk); err != nil {
			d.respondErr(c, err)
			u.abort()
			c.upload = nil
			c.consume(int(take))
			return true
		}
		c.consume(int(take))
		u.remaining -= take
	}
	if u.remaining == 0 {
		d.finishUpload(c)
		return true
	}
	return false
}

package daemon

import (
	"strconv"

	"github.com/google/uuid"

	"github.com/sessiond/sessiond/internal/core"
	"github.com/sessiond/sessiond/internal/protocol"
)

// uploadState is the connection-scoped state of an in-progress UPLOAD
// — only one upload may be in flight per connection at a time.
// Exactly one of raw/bdl is set, mirroring core.Image's own two-shape
// design.
type uploadState struct {
	bundle    bool
	raw       *core.RawImageBuilder
	bdl       *core.BundleImageBuilder
	remaining uint64
	size      int64
}

func (u *uploadState) write(p []byte) error {
	if u.bundle {
		return u.bdl.Write(p)
	}
	return u.raw.Write(p)
}

func (u *uploadState) abort() {
	if u.bundle {
		u.bdl.Abort()
	} else {
		u.raw.Abort()
	}
}

// handleUpload parses `UPLOAD <size>` or `UPLOAD <size> <entry-path>`
// and, on success, puts the connection into upload mode — the rest of
// the response (the admitted session's status, or a rejection) is
// sent once the full payload has been consumed (finishUpload).
func (d *Daemon) handleUpload(c *conn, cmd protocol.Command) {
	fields := cmd.Fields()
	if len(fields) < 1 {
		d.respondErrorCode(c, string(core.CodeInvalidSize))
		return
	}
	size, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil || size == 0 {
		d.respondErrorCode(c, string(core.CodeInvalidSize))
		return
	}

	var entry string
	if len(fields) >= 2 {
		entry = fields[1]
	}
	bundle := entry != ""

	if bundle {
		if verr := core.ValidateEntryPath(entry); verr != nil {
			d.respondErr(c, verr)
			return
		}
	}

	if c.upload != nil {
		d.respondErrorCode(c, string(core.CodeUploadInProgress))
		return
	}

	if bundle {
		b, berr := core.NewBundleImageBuilder(entry)
		if berr != nil {
			d.respondErr(c, berr)
			return
		}
		c.upload = &uploadState{bundle: true, bdl: b, remaining: size, size: int64(size)}
		return
	}

	r, rerr := core.NewRawImageBuilder()
	if rerr != nil {
		d.respondErr(c, rerr)
		return
	}
	c.upload = &uploadState{bundle: false, raw: r, remaining: size, size: int64(size)}
}

// finishUpload runs once an UPLOAD's declared byte count has been
// fully consumed: it finalizes the image, checks admission caps, and
// either inserts a fresh LOADED session or rejects and releases
// whatever was built.
func (d *Daemon) finishUpload(c *conn) {
	u := c.upload
	c.upload = nil

	var img core.Image
	var err error
	if u.bundle {
		img, err = u.bdl.Finalize()
	} else {
		img, err = u.raw.Finalize()
	}
	if err != nil {
		d.respondErr(c, err)
		return
	}

	if admitErr := d.registry.CanAdmit(u.size); admitErr != nil {
		img.Close()
		d.respondCoreError(c, admitErr)
		return
	}

	session := core.NewSession(uuid.NewString(), img, u.size)
	d.registry.Insert(session)
	d.respondStatus(c, session)
}

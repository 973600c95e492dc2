package daemon

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/sessiond/sessiond/internal/core"
	"github.com/sessiond/sessiond/internal/protocol"
)

// sysrootDirs are the host shared-library trees a SYSROOT bundle
// collects, when present.
var sysrootDirs = []string{"/lib", "/lib64", "/usr/lib", "/usr/lib/debug"}

// handleDeps reports availability of the external helpers the daemon
// can make use of. tar and gzip are always reported available: bundle
// extraction and SYSROOT generation use archive/tar and
// github.com/klauspost/compress/gzip directly rather than shelling
// out to host tar/gzip binaries, so there is no host-PATH dependency
// to check for either — unlike gdbserver, which is a real external
// process this daemon has no library replacement for.
func (d *Daemon) handleDeps(c *conn) {
	_, err := exec.LookPath("gdbserver")
	resp := protocol.DepsResponse{Tar: true, Gzip: true, GDBServer: err == nil}
	buf := resp.JSON()
	buf = append(buf, '\n')
	d.write(c, buf)
}

// handleSysroot builds a gzip-compressed tar of whichever of
// sysrootDirs exist, symlinks dereferenced, and streams it to the
// client as "SYSROOT <size>\n" followed by the raw bytes. This is the
// one handler in the daemon that blocks on client writes
// (writeBlocking) — the sole exception to the non-blocking-everywhere
// rule.
func (d *Daemon) handleSysroot(c *conn) {
	var dirs []string
	for _, dir := range sysrootDirs {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			dirs = append(dirs, dir)
		}
	}
	if len(dirs) == 0 {
		d.respondErrorCode(c, string(core.CodeSysrootNoLibs))
		return
	}

	tmp, err := os.CreateTemp("", "sessiond-sysroot-*.tar.gz")
	if err != nil {
		d.respondErrorCode(c, string(core.CodeSysrootTmpfileFailed))
		return
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	gz := gzip.NewWriter(tmp)
	tw := tar.NewWriter(gz)
	var buildErr error
	for _, dir := range dirs {
		if buildErr = addSysrootPath(tw, strings.TrimPrefix(dir, "/"), dir); buildErr != nil {
			break
		}
	}
	tw.Close()
	gz.Close()
	tmp.Close()
	if buildErr != nil {
		d.respondErrorCode(c, string(core.CodeSysrootTarFailed))
		return
	}

	info, err := os.Stat(tmpPath)
	if err != nil || info.Size() == 0 {
		d.respondErrorCode(c, string(core.CodeSysrootTarFailed))
		return
	}

	header := fmt.Sprintf("SYSROOT %d\n", info.Size())
	if err := d.writeBlocking(c, []byte(header)); err != nil {
		return
	}

	f, err := os.Open(tmpPath)
	if err != nil {
		return
	}
	defer f.Close()

	buf := make([]byte, 64*1024)
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			if werr := d.writeBlocking(c, buf[:n]); werr != nil {
				return
			}
		}
		if rerr != nil {
			return
		}
	}
}

// addSysrootPath writes diskPath (and, recursively, its contents if
// it is a directory) into tw under tarName. os.Stat — rather than
// os.Lstat — is used throughout, which is what dereferences symlinks
// into the files or directories they point at, matching `tar
// --dereference`. Entries that can no longer be statted (broken
// symlinks, races, permission errors) are silently skipped rather than
// failing the whole bundle, the same tolerance the original shell-out
// ("tar may return non-zero for permission errors but still produce
// output") affords.
func addSysrootPath(tw *tar.Writer, tarName, diskPath string) error {
	info, err := os.Stat(diskPath)
	if err != nil {
		return nil
	}

	if info.IsDir() {
		entries, err := os.ReadDir(diskPath)
		if err != nil {
			return nil
		}
		for _, entry := range entries {
			if err := addSysrootPath(tw, tarName+"/"+entry.Name(), diskPath+"/"+entry.Name()); err != nil {
				return err
			}
		}
		return nil
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return nil
	}
	hdr.Name = tarName
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}

	f, err := os.Open(diskPath)
	if err != nil {
		return nil
	}
	defer f.Close()
	_, err = io.Copy(tw, f)
	return err
}

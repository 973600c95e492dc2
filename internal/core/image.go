package core

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/sys/unix"
)

// elfMagic is the four-byte ELF header prefix every admitted raw image
// or bundle entry point must begin with.
var elfMagic = [4]byte{0x7f, 'E', 'L', 'F'}

// ValidateEntryPath rejects entry paths that could escape the
// extraction root (a path containing a ".." segment). Applied to the
// client-declared entry path at UPLOAD time.
func ValidateEntryPath(entryPath string) error {
	if entryPath == "" {
		return NewError(CodeInvalidExecPath, "entry path is required for a bundle upload")
	}
	for _, segment := range strings.Split(entryPath, "/") {
		if segment == ".." {
			return NewError(CodeInvalidExecPath, "entry path %q contains a parent-directory segment", entryPath)
		}
	}
	if filepath.IsAbs(entryPath) {
		return NewError(CodeInvalidExecPath, "entry path %q must be relative", entryPath)
	}
	return nil
}

// RawImageBuilder accumulates a raw ELF upload into an anonymous
// in-memory file (memfd), exec'd later by file descriptor with no PATH
// lookup and no on-disk trace.
type RawImageBuilder struct {
	fd     int
	offset int64
}

// NewRawImageBuilder creates the backing memfd.
func NewRawImageBuilder() (*RawImageBuilder, error) {
	fd, err := unix.MemfdCreate("sessiond-image", unix.MFD_CLOEXEC)
	if err != nil {
		return nil, NewError(CodeMemfdCreateFailed, "memfd_create: %v", err)
	}
	return &RawImageBuilder{fd: fd}, nil
}

// Write appends payload bytes to the memfd.
func (b *RawImageBuilder) Write(p []byte) error {
	for len(p) > 0 {
		n, err := unix.Pwrite(b.fd, p, b.offset)
		if err != nil {
			return NewError(CodeUploadWriteFailed, "writing to memfd: %v", err)
		}
		b.offset += int64(n)
		p = p[n:]
	}
	return nil
}

// Finalize validates the ELF magic and returns the completed Image. The
// memfd is left open and owned by the returned Image; callers that
// reject the upload after Finalize must call Image.Close.
func (b *RawImageBuilder) Finalize() (Image, error) {
	if b.offset < int64(len(elfMagic)) {
		b.Abort()
		return Image{}, NewError(CodeInvalidELF, "upload is shorter than the ELF magic header")
	}
	var header [4]byte
	if _, err := unix.Pread(b.fd, header[:], 0); err != nil {
		b.Abort()
		return Image{}, NewError(CodeUploadWriteFailed, "reading back memfd header: %v", err)
	}
	if header != elfMagic {
		b.Abort()
		return Image{}, NewError(CodeInvalidELF, "payload does not begin with the ELF magic bytes")
	}
	return Image{Bundle: false, memFD: b.fd}, nil
}

// Abort discards the in-progress upload, releasing the memfd.
func (b *RawImageBuilder) Abort() {
	if b.fd != 0 {
		unix.Close(b.fd)
		b.fd = 0
	}
}

// BundleImageBuilder accumulates a gzip-compressed tar upload into a
// named temporary file, then extracts it into a session-exclusive
// directory.
type BundleImageBuilder struct {
	entryPath string
	file      *os.File
}

// NewBundleImageBuilder creates the staging temp file for the archive
// payload. entryPath must already have passed ValidateEntryPath.
func NewBundleImageBuilder(entryPath string) (*BundleImageBuilder, error) {
	file, err := os.CreateTemp("", "sessiond-bundle-*.tar.gz")
	if err != nil {
		return nil, NewError(CodeTmpfileCreateFailed, "creating bundle staging file: %v", err)
	}
	return &BundleImageBuilder{entryPath: entryPath, file: file}, nil
}

// Write appends payload bytes to the staging file.
func (b *BundleImageBuilder) Write(p []byte) error {
	if _, err := b.file.Write(p); err != nil {
		return NewError(CodeUploadWriteFailed, "writing bundle staging file: %v", err)
	}
	return nil
}

// Finalize extracts the staged archive into a fresh extraction
// directory, verifies the declared entry path exists and begins with
// the ELF magic, marks it executable, and returns the completed Image.
// The staging file is always removed, on both success and failure.
func (b *BundleImageBuilder) Finalize() (Image, error) {
	stagingPath := b.file.Name()
	defer os.Remove(stagingPath)
	defer b.file.Close()

	if _, err := b.file.Seek(0, io.SeekStart); err != nil {
		return Image{}, NewError(CodeExtractFailed, "rewinding bundle staging file: %v", err)
	}

	dir, err := os.MkdirTemp("", "sessiond-bundle-")
	if err != nil {
		return Image{}, NewError(CodeTmpdirCreateFailed, "creating extraction directory: %v", err)
	}

	if err := extractTarGz(b.file, dir); err != nil {
		os.RemoveAll(dir)
		return Image{}, NewError(CodeExtractFailed, "extracting bundle: %v", err)
	}

	entryFullPath := filepath.Join(dir, b.entryPath)
	if !withinRoot(dir, entryFullPath) {
		os.RemoveAll(dir)
		return Image{}, NewError(CodeInvalidExecPath, "entry path escapes the extraction root")
	}

	info, err := os.Stat(entryFullPath)
	if err != nil || info.IsDir() {
		os.RemoveAll(dir)
		return Image{}, NewError(CodeInvalidExecPath, "entry path %q not found in bundle", b.entryPath)
	}

	entryFile, err := os.Open(entryFullPath)
	if err != nil {
		os.RemoveAll(dir)
		return Image{}, NewError(CodeExtractFailed, "opening extracted entry: %v", err)
	}
	var header [4]byte
	_, readErr := io.ReadFull(entryFile, header[:])
	entryFile.Close()
	if readErr != nil || header != elfMagic {
		os.RemoveAll(dir)
		return Image{}, NewError(CodeInvalidELF, "extracted entry point does not begin with the ELF magic bytes")
	}

	if err := os.Chmod(entryFullPath, 0o755); err != nil {
		os.RemoveAll(dir)
		return Image{}, NewError(CodeExtractFailed, "marking entry point executable: %v", err)
	}

	return Image{Bundle: true, Dir: dir, EntryPath: b.entryPath}, nil
}

// Abort discards the in-progress upload, releasing the staging file.
func (b *BundleImageBuilder) Abort() {
	name := b.file.Name()
	b.file.Close()
	os.Remove(name)
}

// withinRoot reports whether path, once cleaned, is root or a
// descendant of root. Guards against archive members using absolute
// paths or "../" segments to escape the extraction directory (a
// zip-slip-style attack distinct from the client-declared entry path
// check in ValidateEntryPath, since this one covers paths baked into
// the archive itself).
func withinRoot(root, path string) bool {
	cleanRoot := filepath.Clean(root)
	cleanPath := filepath.Clean(path)
	if cleanPath == cleanRoot {
		return true
	}
	return strings.HasPrefix(cleanPath, cleanRoot+string(filepath.Separator))
}

// extractTarGz extracts a gzip-compressed tar stream into dir,
// refusing any member whose path would escape dir.
func extractTarGz(r io.Reader, dir string) error {
	gzReader, err := gzip.NewReader(r)
	if err != nil {
		return err
	}
	defer gzReader.Close()

	tarReader := tar.NewReader(gzReader)
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		targetPath := filepath.Join(dir, header.Name)
		if !withinRoot(dir, targetPath) {
			return NewError(CodeInvalidExecPath, "archive member %q escapes the extraction root", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(targetPath, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(targetPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(header.Mode)&0o777)
			if err != nil {
				return err
			}
			_, copyErr := io.Copy(out, tarReader)
			closeErr := out.Close()
			if copyErr != nil {
				return copyErr
			}
			if closeErr != nil {
				return closeErr
			}
		default:
			// Symlinks, devices, etc. are skipped — an execution bundle
			// has no legitimate use for them and they would otherwise
			// reopen the escape vector withinRoot guards against.
		}
	}
}

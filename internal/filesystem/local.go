//go:build linux

package filesystem

import (
	"context"
	"encoding/binary"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/filterfs/filterfs/pkg/errors"
)

const (
	direntBufSize  = 32 * 1024
	readlinkBufMin = 256
)

// Local implements Backend on top of the host filesystem.
type Local struct{}

// NewLocal creates the host filesystem backend.
func NewLocal() *Local {
	return &Local{}
}

var _ Backend = (*Local)(nil)

type localHandle struct {
	fd   int
	path string

	once     sync.Once
	closeErr error
}

func (h *localHandle) Path() string { return h.path }

func (h *localHandle) Close() error {
	h.once.Do(func() {
		h.closeErr = unix.Close(h.fd)
	})
	return h.closeErr
}

func asLocal(h Handle) (*localHandle, error) {
	lh, ok := h.(*localHandle)
	if !ok || lh == nil {
		return nil, errors.NewError(errors.ErrCodeInternalError, "foreign handle passed to local backend")
	}
	return lh, nil
}

// Lstat probes path without following a trailing symlink.
func (l *Local) Lstat(ctx context.Context, path string) (*Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.FromSyscall("lstat", path, err)
	}
	var st unix.Stat_t
	if err := retryEINTR(func() error { return unix.Lstat(path, &st) }); err != nil {
		return nil, errors.FromSyscall("lstat", path, err)
	}
	return metadataFromStat(&st), nil
}

// Open opens path without following a trailing symlink.
func (l *Local) Open(ctx context.Context, path string, mode OpenMode) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.FromSyscall("open", path, err)
	}

	flags := unix.O_CLOEXEC | unix.O_NOFOLLOW
	switch mode {
	case OpenPath:
		flags |= unix.O_PATH
	case OpenRead:
		// O_NONBLOCK keeps FIFOs from stalling the open.
		flags |= unix.O_RDONLY | unix.O_NONBLOCK
	}

	var fd int
	err := retryEINTR(func() error {
		var openErr error
		fd, openErr = unix.Open(path, flags, 0)
		return openErr
	})
	if err != nil {
		return nil, errors.FromSyscall("open", path, err)
	}
	return &localHandle{fd: fd, path: path}, nil
}

// Stat returns the metadata of an open handle.
func (l *Local) Stat(ctx context.Context, h Handle) (*Metadata, error) {
	lh, err := asLocal(h)
	if err != nil {
		return nil, err
	}
	var st unix.Stat_t
	if err := retryEINTR(func() error { return unix.Fstat(lh.fd, &st) }); err != nil {
		return nil, errors.FromSyscall("fstat", lh.path, err)
	}
	return metadataFromStat(&st), nil
}

// ReadDir lists the directory behind h. The directory is re-opened relative
// to the handle so a rename of the underlying path does not redirect it.
func (l *Local) ReadDir(ctx context.Context, h Handle) ([]RawEntry, error) {
	lh, err := asLocal(h)
	if err != nil {
		return nil, err
	}

	var dfd int
	err = retryEINTR(func() error {
		var openErr error
		dfd, openErr = unix.Openat(lh.fd, ".", unix.O_RDONLY|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
		return openErr
	})
	if err != nil {
		return nil, errors.FromSyscall("opendir", lh.path, err)
	}
	defer unix.Close(dfd)

	var entries []RawEntry
	buf := make([]byte, direntBufSize)
	for {
		if err := ctx.Err(); err != nil {
			return nil, errors.FromSyscall("readdir", lh.path, err)
		}
		var n int
		err := retryEINTR(func() error {
			var readErr error
			n, readErr = unix.Getdents(dfd, buf)
			return readErr
		})
		if err != nil {
			return nil, errors.FromSyscall("readdir", lh.path, err)
		}
		if n <= 0 {
			break
		}
		entries = parseDirents(buf[:n], entries)
	}

	for i := range entries {
		if entries[i].Type != 0 {
			continue
		}
		// DT_UNKNOWN: ask the filesystem directly
		var st unix.Stat_t
		if err := unix.Fstatat(dfd, entries[i].Name, &st, unix.AT_SYMLINK_NOFOLLOW); err == nil {
			entries[i].Type = st.Mode & syscall.S_IFMT
		}
	}
	return entries, nil
}

// parseDirents decodes linux_dirent64 records.
func parseDirents(buf []byte, out []RawEntry) []RawEntry {
	const (
		inoOff    = 0
		reclenOff = 16
		typeOff   = 18
		nameOff   = 19
	)
	for len(buf) >= nameOff {
		reclen := int(binary.NativeEndian.Uint16(buf[reclenOff:]))
		if reclen < nameOff || reclen > len(buf) {
			break
		}
		rec := buf[:reclen]
		buf = buf[reclen:]

		name := rec[nameOff:]
		for i, c := range name {
			if c == 0 {
				name = name[:i]
				break
			}
		}
		if len(name) == 0 || string(name) == "." || string(name) == ".." {
			continue
		}
		out = append(out, RawEntry{
			Name: string(name),
			Ino:  binary.NativeEndian.Uint64(rec[inoOff:]),
			Type: direntTypeToMode(rec[typeOff]),
		})
	}
	return out
}

func direntTypeToMode(t uint8) uint32 {
	switch t {
	case unix.DT_DIR:
		return syscall.S_IFDIR
	case unix.DT_REG:
		return syscall.S_IFREG
	case unix.DT_LNK:
		return syscall.S_IFLNK
	case unix.DT_FIFO:
		return syscall.S_IFIFO
	case unix.DT_CHR:
		return syscall.S_IFCHR
	case unix.DT_BLK:
		return syscall.S_IFBLK
	case unix.DT_SOCK:
		return syscall.S_IFSOCK
	}
	return 0
}

// Readlink reads the target of the symlink behind an OpenPath handle.
func (l *Local) Readlink(ctx context.Context, h Handle) (string, error) {
	lh, err := asLocal(h)
	if err != nil {
		return "", err
	}
	for size := readlinkBufMin; ; size *= 2 {
		buf := make([]byte, size)
		n, err := unix.Readlinkat(lh.fd, "", buf)
		if err != nil {
			return "", errors.FromSyscall("readlink", lh.path, err)
		}
		if n < size {
			return string(buf[:n]), nil
		}
		if size >= unix.PathMax*4 {
			return "", errors.NewError(errors.ErrCodePathInvalid, "symlink target too long").
				WithContext("path", lh.path)
		}
	}
}

// ReadAt reads from an OpenRead handle.
func (l *Local) ReadAt(ctx context.Context, h Handle, dest []byte, off int64) (int, error) {
	lh, err := asLocal(h)
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, errors.FromSyscall("read", lh.path, err)
	}
	var n int
	err = retryEINTR(func() error {
		var readErr error
		n, readErr = unix.Pread(lh.fd, dest, off)
		return readErr
	})
	if err != nil {
		return 0, errors.FromSyscall("read", lh.path, err)
	}
	return n, nil
}

// Statfs reports statistics of the filesystem holding path.
func (l *Local) Statfs(ctx context.Context, path string) (*StatfsInfo, error) {
	var st unix.Statfs_t
	if err := retryEINTR(func() error { return unix.Statfs(path, &st) }); err != nil {
		return nil, errors.FromSyscall("statfs", path, err)
	}
	return &StatfsInfo{
		Blocks:  st.Blocks,
		Bfree:   st.Bfree,
		Bavail:  st.Bavail,
		Files:   st.Files,
		Ffree:   st.Ffree,
		Bsize:   uint32(st.Bsize),
		NameLen: uint32(st.Namelen),
		Frsize:  uint32(st.Frsize),
	}, nil
}

func metadataFromStat(st *unix.Stat_t) *Metadata {
	return &Metadata{
		Ino:     st.Ino,
		Dev:     uint64(st.Dev),
		Mode:    st.Mode,
		Nlink:   uint64(st.Nlink),
		UID:     st.Uid,
		GID:     st.Gid,
		Rdev:    uint64(st.Rdev),
		Size:    st.Size,
		Blocks:  st.Blocks,
		Blksize: int64(st.Blksize),
		Atime:   time.Unix(st.Atim.Unix()),
		Mtime:   time.Unix(st.Mtim.Unix()),
		Ctime:   time.Unix(st.Ctim.Unix()),
	}
}

func retryEINTR(fn func() error) error {
	for {
		err := fn()
		if err != unix.EINTR {
			return err
		}
	}
}

package fuse

import (
	"context"
	"os"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"go.uber.org/zap"

	"github.com/filterfs/filterfs/internal/filesystem"
	"github.com/filterfs/filterfs/internal/resolver"
	"github.com/filterfs/filterfs/pkg/errors"
	"github.com/filterfs/filterfs/pkg/types"
	"github.com/filterfs/filterfs/pkg/utils"
)

// safeInt64ToUint64 safely converts int64 to uint64, preventing negative values
func safeInt64ToUint64(i int64) uint64 {
	if i < 0 {
		return 0
	}
	return uint64(i)
}

// safeIntToUint32 safely converts int to uint32, preventing overflow
func safeIntToUint32(i int) uint32 {
	if i < 0 {
		return 0
	}
	if uint64(i) > 0xFFFFFFFF {
		return 0xFFFFFFFF
	}
	return uint32(i)
}

// FileSystem translates kernel requests into resolver calls.
type FileSystem struct {
	resolver *resolver.Resolver
	recorder types.MetricsRecorder
	logger   *zap.SugaredLogger
	stats    Stats
}

// Stats tracks filesystem operation statistics
type Stats struct {
	Lookups   atomic.Int64
	Getattrs  atomic.Int64
	Readdirs  atomic.Int64
	Opens     atomic.Int64
	Reads     atomic.Int64
	BytesRead atomic.Int64
	Errors    atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Lookups   int64 `json:"lookups"`
	Getattrs  int64 `json:"getattrs"`
	Readdirs  int64 `json:"readdirs"`
	Opens     int64 `json:"opens"`
	Reads     int64 `json:"reads"`
	BytesRead int64 `json:"bytes_read"`
	Errors    int64 `json:"errors"`
}

// NewFileSystem creates the FUSE front end for r.
func NewFileSystem(r *resolver.Resolver, recorder types.MetricsRecorder) *FileSystem {
	if recorder == nil {
		recorder = types.NopRecorder{}
	}
	return &FileSystem{
		resolver: r,
		recorder: recorder,
		logger:   utils.NewLogger("fuse"),
	}
}

// Root returns the root inode
func (fsys *FileSystem) Root() fs.InodeEmbedder {
	return &Node{fsys: fsys, nn: fsys.resolver.Graph().Root()}
}

// GetStats returns current filesystem statistics
func (fsys *FileSystem) GetStats() StatsSnapshot {
	return StatsSnapshot{
		Lookups:   fsys.stats.Lookups.Load(),
		Getattrs:  fsys.stats.Getattrs.Load(),
		Readdirs:  fsys.stats.Readdirs.Load(),
		Opens:     fsys.stats.Opens.Load(),
		Reads:     fsys.stats.Reads.Load(),
		BytesRead: fsys.stats.BytesRead.Load(),
		Errors:    fsys.stats.Errors.Load(),
	}
}

// done records the outcome of one kernel operation and converts err for the
// kernel.
func (fsys *FileSystem) done(op string, began time.Time, err error) syscall.Errno {
	fsys.recorder.RecordOperation(op, time.Since(began), err)
	if err == nil {
		return 0
	}
	errno := errors.ToErrno(err)
	// ENOENT is the normal answer for filtered names
	if errno != syscall.ENOENT {
		fsys.stats.Errors.Add(1)
		fsys.logger.Debugw("operation failed", "op", op, "errno", errno, "err", err)
	}
	return errno
}

// credentials returns the identity of the process issuing the request.
func credentials(ctx context.Context) types.Credentials {
	if caller, ok := fuse.FromContext(ctx); ok {
		return types.Credentials{UID: caller.Uid, GID: caller.Gid}
	}
	return types.Credentials{
		UID: safeIntToUint32(os.Getuid()),
		GID: safeIntToUint32(os.Getgid()),
	}
}

// fillAttr copies underlying metadata into a kernel attribute record. The
// inode number is the overlay's own, not the underlying one.
func fillAttr(out *fuse.Attr, md *filesystem.Metadata, ino uint64) {
	out.Ino = ino
	out.Mode = md.Mode
	out.Nlink = uint32(md.Nlink)
	out.Owner = fuse.Owner{Uid: md.UID, Gid: md.GID}
	out.Rdev = uint32(md.Rdev)
	out.Size = safeInt64ToUint64(md.Size)
	out.Blocks = safeInt64ToUint64(md.Blocks)
	out.Blksize = uint32(md.Blksize)
	out.SetTimes(&md.Atime, &md.Mtime, &md.Ctime)
}

// writeFlags are the open flags refused on a read-only overlay.
const writeFlags = syscall.O_WRONLY | syscall.O_RDWR | syscall.O_TRUNC | syscall.O_APPEND | syscall.O_CREAT

func wantsWrite(flags uint32) bool {
	return flags&writeFlags != 0
}

// accessMask converts an access(2) mask into resolver rights.
func accessMask(mask uint32) resolver.Access {
	var want resolver.Access
	if mask&4 != 0 {
		want |= resolver.AccessRead
	}
	if mask&2 != 0 {
		want |= resolver.AccessWrite
	}
	if mask&1 != 0 {
		want |= resolver.AccessExec
	}
	return want
}

func fillStatfs(out *fuse.StatfsOut, info *filesystem.StatfsInfo) {
	out.Blocks = info.Blocks
	out.Bfree = info.Bfree
	out.Bavail = info.Bavail
	out.Files = info.Files
	out.Ffree = info.Ffree
	out.Bsize = info.Bsize
	out.NameLen = info.NameLen
	out.Frsize = info.Frsize
}

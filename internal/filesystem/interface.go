// Package filesystem defines the capability FilterFS needs from the underlying
// directory tree and provides its Linux implementation.
package filesystem

import (
	"context"
	"syscall"
	"time"
)

// OpenMode selects what a Handle may be used for.
type OpenMode int

const (
	// OpenPath yields an identity-only handle (stat, readlink, directory
	// re-open). It never requires read permission on the target.
	OpenPath OpenMode = iota
	// OpenRead yields a handle usable with ReadAt.
	OpenRead
)

// Handle is an open reference to an underlying object.
type Handle interface {
	// Path is the underlying path the handle was opened with.
	Path() string
	Close() error
}

// Backend is the underlying filesystem capability consumed by the engine.
// Every method may block and every failure is a classified FilterFSError.
type Backend interface {
	// Lstat probes an entry without following a trailing symlink.
	Lstat(ctx context.Context, path string) (*Metadata, error)
	// Open opens path without following a trailing symlink.
	Open(ctx context.Context, path string, mode OpenMode) (Handle, error)
	Stat(ctx context.Context, h Handle) (*Metadata, error)
	// ReadDir lists a directory handle, excluding "." and "..".
	ReadDir(ctx context.Context, h Handle) ([]RawEntry, error)
	Readlink(ctx context.Context, h Handle) (string, error)
	ReadAt(ctx context.Context, h Handle, dest []byte, off int64) (int, error)
	Statfs(ctx context.Context, path string) (*StatfsInfo, error)
}

// Metadata is the cached stat information of an underlying object.
type Metadata struct {
	Ino     uint64
	Dev     uint64
	Mode    uint32 // type and permission bits
	Nlink   uint64
	UID     uint32
	GID     uint32
	Rdev    uint64
	Size    int64
	Blocks  int64
	Blksize int64
	Atime   time.Time
	Mtime   time.Time
	Ctime   time.Time
}

// Type returns the S_IFMT bits.
func (m *Metadata) Type() uint32 { return m.Mode & syscall.S_IFMT }

// Perm returns the permission bits.
func (m *Metadata) Perm() uint32 { return m.Mode & 07777 }

func (m *Metadata) IsDir() bool     { return m.Type() == syscall.S_IFDIR }
func (m *Metadata) IsSymlink() bool { return m.Type() == syscall.S_IFLNK }
func (m *Metadata) IsRegular() bool { return m.Type() == syscall.S_IFREG }

// SameObject reports whether both describe the same underlying object.
func (m *Metadata) SameObject(o *Metadata) bool {
	return o != nil && m.Dev == o.Dev && m.Ino == o.Ino && m.Type() == o.Type()
}

// RawEntry is one entry of an underlying directory.
type RawEntry struct {
	Name string
	Ino  uint64
	Type uint32 // S_IFMT bits
}

// StatfsInfo represents filesystem statistics
type StatfsInfo struct {
	Blocks  uint64
	Bfree   uint64
	Bavail  uint64
	Files   uint64
	Ffree   uint64
	Bsize   uint32
	NameLen uint32
	Frsize  uint32
}

package fuse

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/filterfs/filterfs/internal/config"
	"github.com/filterfs/filterfs/internal/namegraph"
	"github.com/filterfs/filterfs/pkg/errors"
	"github.com/filterfs/filterfs/pkg/utils"
)

// subtype reported to the kernel, shown as fuse.filterfs in mount tables
const subtype = "filterfs"

// procMounts is the mount table consulted for already-mounted checks.
var procMounts = "/proc/self/mounts"

// MountManager manages FUSE mount operations
type MountManager struct {
	filesystem *FileSystem
	mountPoint string
	options    config.MountConfig
	logger     *zap.SugaredLogger

	mu      sync.Mutex
	server  *fuse.Server
	mounted bool
}

// NewMountManager creates a new mount manager
func NewMountManager(filesystem *FileSystem, mountPoint string, options config.MountConfig) *MountManager {
	return &MountManager{
		filesystem: filesystem,
		mountPoint: filepath.Clean(mountPoint),
		options:    options,
		logger:     utils.NewLogger("mount"),
	}
}

// Mount mounts the filesystem and serves it in the background.
func (m *MountManager) Mount(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mounted {
		return errors.NewError(errors.ErrCodeMountFailed, "filesystem is already mounted").
			WithContext("mount_point", m.mountPoint)
	}
	if err := m.validateMountPoint(); err != nil {
		return err
	}

	server, err := fs.Mount(m.mountPoint, m.filesystem.Root(), m.buildFUSEOptions())
	if err != nil {
		return errors.NewError(errors.ErrCodeMountFailed, "failed to mount filesystem").
			WithContext("mount_point", m.mountPoint).
			WithCause(err)
	}
	m.server = server
	m.mounted = true
	m.logger.Infow("filesystem mounted", "mount_point", m.mountPoint)

	go func() {
		server.Wait()
		m.mu.Lock()
		if m.server == server {
			m.mounted = false
		}
		m.mu.Unlock()
		m.logger.Infow("FUSE server stopped", "mount_point", m.mountPoint)
	}()
	return nil
}

// Unmount unmounts the filesystem, falling back to a lazy detach when the
// mount point is busy.
func (m *MountManager) Unmount() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.mounted || m.server == nil {
		return errors.NewError(errors.ErrCodeUnmountFailed, "filesystem is not mounted").
			WithContext("mount_point", m.mountPoint)
	}

	m.logger.Infow("unmounting filesystem", "mount_point", m.mountPoint)
	if err := m.server.Unmount(); err != nil {
		m.logger.Warnw("unmount failed, detaching lazily", "mount_point", m.mountPoint, "err", err)
		if detachErr := unix.Unmount(m.mountPoint, unix.MNT_DETACH); detachErr != nil {
			return errors.NewError(errors.ErrCodeUnmountFailed, "unmount failed").
				WithContext("mount_point", m.mountPoint).
				WithDetail("detach_error", detachErr.Error()).
				WithCause(err)
		}
	}

	m.mounted = false
	m.server = nil
	return nil
}

// IsMounted reports whether the filesystem is currently mounted
func (m *MountManager) IsMounted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mounted
}

// GetMountPoint returns the mount point
func (m *MountManager) GetMountPoint() string {
	return m.mountPoint
}

// Wait blocks until the FUSE server exits.
func (m *MountManager) Wait() {
	m.mu.Lock()
	server := m.server
	m.mu.Unlock()
	if server != nil {
		server.Wait()
	}
}

// GetStats returns filesystem statistics
func (m *MountManager) GetStats() StatsSnapshot {
	if m.filesystem == nil {
		return StatsSnapshot{}
	}
	return m.filesystem.GetStats()
}

func (m *MountManager) validateMountPoint() error {
	fail := func(msg string, cause error) error {
		e := errors.NewError(errors.ErrCodeMountFailed, msg).WithContext("mount_point", m.mountPoint)
		if cause != nil {
			e = e.WithCause(cause)
		}
		return e
	}

	if m.mountPoint == "" || m.mountPoint == "." {
		return fail("mount point cannot be empty", nil)
	}
	info, err := os.Stat(m.mountPoint)
	if err != nil {
		if os.IsNotExist(err) {
			return fail("mount point does not exist", err)
		}
		return fail("cannot access mount point", err)
	}
	if !info.IsDir() {
		return fail("mount point is not a directory", nil)
	}

	entries, err := os.ReadDir(m.mountPoint)
	if err != nil {
		return fail("cannot read mount point directory", err)
	}
	if len(entries) > 0 {
		m.logger.Warnw("mount point is not empty", "mount_point", m.mountPoint)
	}

	if m.isAlreadyMounted() {
		return fail("mount point is already mounted", nil)
	}
	return nil
}

func (m *MountManager) buildFUSEOptions() *fs.Options {
	o := m.options
	attr, entry, negative := o.AttrTimeout, o.EntryTimeout, o.NegativeTimeout

	fsname := o.FSName
	if fsname == "" {
		fsname = subtype
	}

	opts := &fs.Options{
		MountOptions: fuse.MountOptions{
			Name:         subtype,
			FsName:       fsname,
			AllowOther:   o.AllowOther,
			Debug:        o.Debug,
			MaxReadAhead: o.MaxReadAhead,
			Options:      []string{"ro"},
			Logger:       utils.NewFuseLogger(),
		},
		AttrTimeout:     &attr,
		EntryTimeout:    &entry,
		NegativeTimeout: &negative,
		// report underlying permission bits as they are, 0000 included
		NullPermissions: true,
		RootStableAttr:  &fs.StableAttr{Ino: namegraph.RootID},
		Logger:          utils.NewFuseLogger(),
	}
	return opts
}

func (m *MountManager) isAlreadyMounted() bool {
	data, err := os.ReadFile(procMounts)
	if err != nil {
		return false
	}
	return mountedAt(string(data), m.mountPoint)
}

// mountedAt reports whether the mount table lists mountPoint as a target.
func mountedAt(table, mountPoint string) bool {
	for _, line := range strings.Split(table, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		if unescapeMountField(fields[1]) == mountPoint {
			return true
		}
	}
	return false
}

// unescapeMountField decodes the octal escapes (\040 for space and so on)
// the kernel uses in mount tables.
func unescapeMountField(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+4 <= len(s) {
			if v, err := strconv.ParseUint(s[i+1:i+4], 8, 8); err == nil {
				b.WriteByte(byte(v))
				i += 3
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// MountWatcher logs when a mount disappears from the mount table while the
// manager still believes it is mounted, as after an external lazy unmount.
type MountWatcher struct {
	manager  *MountManager
	interval time.Duration
	stopCh   chan struct{}
	stopped  chan struct{}
	once     sync.Once
}

// NewMountWatcher creates a new mount watcher
func NewMountWatcher(manager *MountManager, interval time.Duration) *MountWatcher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &MountWatcher{
		manager:  manager,
		interval: interval,
		stopCh:   make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Start starts the mount watcher
func (w *MountWatcher) Start() {
	go w.run()
}

// Stop stops the mount watcher and waits for it to exit.
func (w *MountWatcher) Stop() {
	w.once.Do(func() {
		close(w.stopCh)
		<-w.stopped
	})
}

func (w *MountWatcher) run() {
	defer close(w.stopped)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.checkMount()
		}
	}
}

// checkMount reports whether the manager's view matches the mount table.
func (w *MountWatcher) checkMount() bool {
	expected := w.manager.IsMounted()
	actual := w.manager.isAlreadyMounted()
	if expected == actual {
		return true
	}
	if expected {
		w.manager.logger.Warnw("filesystem should be mounted but is missing from the mount table",
			"mount_point", w.manager.mountPoint)
	} else {
		w.manager.logger.Warnw("filesystem should be unmounted but is still in the mount table",
			"mount_point", w.manager.mountPoint)
	}
	return false
}

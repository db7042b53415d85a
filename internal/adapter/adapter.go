package adapter

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/filterfs/filterfs/internal/cache"
	"github.com/filterfs/filterfs/internal/config"
	"github.com/filterfs/filterfs/internal/filesystem"
	"github.com/filterfs/filterfs/internal/filter"
	"github.com/filterfs/filterfs/internal/fuse"
	"github.com/filterfs/filterfs/internal/metrics"
	"github.com/filterfs/filterfs/internal/namegraph"
	"github.com/filterfs/filterfs/internal/resolver"
	"github.com/filterfs/filterfs/pkg/errors"
	"github.com/filterfs/filterfs/pkg/health"
	"github.com/filterfs/filterfs/pkg/types"
	"github.com/filterfs/filterfs/pkg/utils"
)

// maximum number of absolute-symlink restarts followed by Engine.Lookup
const maxRestarts = resolver.MaxSymlinks

// watchInterval is how often a mounted adapter checks the mount table.
var watchInterval = 30 * time.Second

// Engine is the filtering overlay without a kernel front end.
type Engine struct {
	Config    *config.Configuration
	Backend   *filesystem.Instrumented
	Predicate *filter.Predicate
	Graph     *namegraph.Graph
	Cache     *cache.NodeCache
	Resolver  *resolver.Resolver
	Metrics   *metrics.Collector
	Health    *health.Tracker
	// Recorder feeds Health and, when enabled, Metrics.
	Recorder types.MetricsRecorder

	closeOnce sync.Once
	closeErr  error
}

// NewEngine builds backend, predicate, name graph, node cache, resolver and
// metrics collector for rootPath. Nothing is mounted.
func NewEngine(ctx context.Context, rootPath string, cfg *config.Configuration) (*Engine, error) {
	if cfg == nil {
		cfg = config.NewDefault()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	root, err := validateRoot(rootPath)
	if err != nil {
		return nil, err
	}

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   cfg.Monitoring.Metrics.Enabled,
		Port:      cfg.Global.MetricsPort,
		Path:      cfg.Monitoring.Metrics.Path,
		Namespace: cfg.Monitoring.Metrics.Namespace,
	})
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "failed to create metrics collector").
			WithCause(err)
	}
	var next types.MetricsRecorder = types.NopRecorder{}
	if collector.Enabled() {
		next = collector
	}
	tracker := health.NewTracker(health.DefaultConfig())
	recorder := health.NewRecorder(tracker, next)
	collector.SetHealthTracker(tracker)

	pred, err := filter.New(cfg.Filter, recorder)
	if err != nil {
		return nil, err
	}

	backend := filesystem.NewInstrumented(filesystem.NewLocal(), recorder)
	graph := namegraph.New()
	nodes := cache.New(cfg.Cache, graph, recorder)

	res, err := resolver.New(ctx, resolver.Config{
		RootPath:  root,
		Backend:   backend,
		Predicate: pred,
		Graph:     graph,
		Cache:     nodes,
		Recorder:  recorder,
	})
	if err != nil {
		return nil, multierr.Append(err, nodes.Close())
	}

	return &Engine{
		Config:    cfg,
		Backend:   backend,
		Predicate: pred,
		Graph:     graph,
		Cache:     nodes,
		Resolver:  res,
		Metrics:   collector,
		Health:    tracker,
		Recorder:  recorder,
	}, nil
}

// validateRoot returns the absolute, cleaned form of an existing directory.
func validateRoot(rootPath string) (string, error) {
	if rootPath == "" {
		return "", errors.NewError(errors.ErrCodePathInvalid, "root directory is required")
	}
	abs, err := filepath.Abs(rootPath)
	if err != nil {
		return "", errors.NewError(errors.ErrCodePathInvalid, "cannot resolve root directory").
			WithContext("path", rootPath).
			WithCause(err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", errors.FromSyscall("stat", abs, err)
	}
	if !info.IsDir() {
		return "", errors.NewError(errors.ErrCodeNotDirectory, "root is not a directory").
			WithContext("path", abs)
	}
	return abs, nil
}

// Lookup resolves an overlay path from the root. Absolute symlink targets are
// resolved again from the root, as they would be seen through the mount.
func (e *Engine) Lookup(ctx context.Context, path string, cred types.Credentials, follow bool) (*resolver.Result, error) {
	opts := resolver.Options{Cred: cred}
	if !follow {
		opts.Flags |= resolver.FlagNoFollow
	}
	for restarts := 0; ; restarts++ {
		res, err := e.Resolver.Resolve(ctx, e.Resolver.Root(), path, opts)
		if err != nil {
			return nil, err
		}
		if res.Retry == nil {
			return res, nil
		}
		if res.Retry.Kind != resolver.RetryAbsoluteSymlink || restarts >= maxRestarts {
			if res.Retry.Kind == resolver.RetryAbsoluteSymlink {
				return nil, errors.NewError(errors.ErrCodeSymlinkLoop, "too many symbolic links").
					WithContext("path", path)
			}
			return nil, res.Err()
		}
		path = res.Retry.Path
	}
}

// Stat returns the metadata of the entry at path.
func (e *Engine) Stat(ctx context.Context, path string, cred types.Credentials, follow bool) (filesystem.Metadata, error) {
	res, err := e.Lookup(ctx, path, cred, follow)
	if err != nil {
		return filesystem.Metadata{}, err
	}
	defer e.Resolver.Release(res.Node)
	return e.Resolver.Stat(ctx, res.Node)
}

// List returns every visible entry of the directory at path, "." and ".."
// excluded.
func (e *Engine) List(ctx context.Context, path string, cred types.Credentials) ([]resolver.Entry, error) {
	res, err := e.Lookup(ctx, path, cred, true)
	if err != nil {
		return nil, err
	}
	defer e.Resolver.Release(res.Node)

	md := res.Node.Metadata()
	if err := resolver.CheckAccess(&md, cred, resolver.AccessRead); err != nil {
		return nil, err
	}
	// skip the synthetic "." and ".."
	return e.Resolver.ListDirectory(ctx, res.Node, 2, -1, 0)
}

// Cat copies the contents of the file at path to w.
func (e *Engine) Cat(ctx context.Context, path string, cred types.Credentials, w io.Writer) (int64, error) {
	res, err := e.Lookup(ctx, path, cred, true)
	if err != nil {
		return 0, err
	}
	defer e.Resolver.Release(res.Node)

	md := res.Node.Metadata()
	if err := resolver.CheckAccess(&md, cred, resolver.AccessRead); err != nil {
		return 0, err
	}

	buf := make([]byte, 64*1024)
	var off int64
	for {
		n, err := e.Resolver.Read(ctx, res.Node, buf, off)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return off, werr
			}
			off += int64(n)
		}
		if err != nil {
			return off, err
		}
		if n == 0 {
			return off, nil
		}
	}
}

// Reload drops cached filter verdicts and starts a new per-operation summary
// window, returning the summaries of the window that ended.
func (e *Engine) Reload() map[string]metrics.OperationMetrics {
	e.Predicate.Purge()
	ops := e.Metrics.GetMetrics()
	e.Metrics.ResetMetrics()
	return ops
}

// Close releases the resolver root and every cached handle.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.Resolver.Close()
		e.closeErr = e.Cache.Close()
	})
	return e.closeErr
}

// Adapter mounts an Engine through FUSE and owns its lifecycle.
type Adapter struct {
	rootPath   string
	mountPoint string
	config     *config.Configuration
	logger     *zap.SugaredLogger

	mu      sync.Mutex
	engine  *Engine
	mount   *fuse.MountManager
	watcher *fuse.MountWatcher
	started bool
}

// New validates cfg and rootPath and returns an adapter ready to Start.
func New(ctx context.Context, rootPath, mountPoint string, cfg *config.Configuration) (*Adapter, error) {
	if cfg == nil {
		cfg = config.NewDefault()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	root, err := validateRoot(rootPath)
	if err != nil {
		return nil, err
	}
	if mountPoint == "" {
		return nil, errors.NewError(errors.ErrCodeMountFailed, "mount point is required")
	}

	return &Adapter{
		rootPath:   root,
		mountPoint: mountPoint,
		config:     cfg,
		logger:     utils.NewLogger("adapter"),
	}, nil
}

// Start builds the engine, starts metrics and mounts the filesystem.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return errors.NewError(errors.ErrCodeMountFailed, "adapter already started")
	}

	a.logger.Infow("starting filterfs",
		"root", a.rootPath,
		"mount_point", a.mountPoint,
		"max_nodes", a.config.Cache.MaxNodes,
		"filter", a.config.Filter.Command)

	engine, err := NewEngine(ctx, a.rootPath, a.config)
	if err != nil {
		return err
	}

	if err := engine.Metrics.Start(ctx); err != nil {
		return multierr.Append(err, engine.Close())
	}

	fsys := fuse.NewFileSystem(engine.Resolver, engine.Recorder)
	mount := fuse.NewMountManager(fsys, a.mountPoint, a.config.Mount)
	if err := mount.Mount(ctx); err != nil {
		return multierr.Combine(err, engine.Metrics.Stop(ctx), engine.Close())
	}

	a.engine = engine
	a.mount = mount
	a.watcher = fuse.NewMountWatcher(mount, watchInterval)
	a.watcher.Start()
	a.started = true

	a.logger.Infow("filterfs started", "mount_point", mount.GetMountPoint())
	return nil
}

// Wait blocks until the filesystem is unmounted.
func (a *Adapter) Wait() {
	a.mu.Lock()
	mount := a.mount
	a.mu.Unlock()
	if mount != nil {
		mount.Wait()
	}
}

// Stop unmounts the filesystem, stops metrics and closes the engine. Every
// step runs even when an earlier one fails.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return nil
	}
	a.logger.Infow("stopping filterfs", "mount_point", a.mountPoint)

	a.watcher.Stop()
	var err error
	if a.mount.IsMounted() {
		err = multierr.Append(err, a.mount.Unmount())
	}
	err = multierr.Append(err, a.engine.Metrics.Stop(ctx))
	err = multierr.Append(err, a.engine.Close())

	stats := a.mount.GetStats()
	a.logger.Infow("filterfs stopped",
		"lookups", stats.Lookups,
		"reads", stats.Reads,
		"bytes_read", stats.BytesRead,
		"errors", stats.Errors)

	a.started = false
	return err
}

// Engine returns the running engine, nil before Start.
func (a *Adapter) Engine() *Engine {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.engine
}

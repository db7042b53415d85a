// Package resolver turns paths into cached nodes, applying the visibility
// filter to every component, and lists directories through the same filter.
package resolver

import (
	"context"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/filterfs/filterfs/internal/cache"
	"github.com/filterfs/filterfs/internal/filesystem"
	"github.com/filterfs/filterfs/internal/filter"
	"github.com/filterfs/filterfs/internal/namegraph"
	"github.com/filterfs/filterfs/pkg/errors"
	"github.com/filterfs/filterfs/pkg/types"
	"github.com/filterfs/filterfs/pkg/utils"
)

// Config carries the collaborators of a Resolver.
type Config struct {
	// RootPath is the absolute underlying directory exposed as "/".
	RootPath  string
	Backend   filesystem.Backend
	Predicate *filter.Predicate
	Graph     *namegraph.Graph
	Cache     *cache.NodeCache
	// Creator handles creation requests; nil rejects them.
	Creator  Creator
	Recorder types.MetricsRecorder
}

// Resolver is the path resolution engine.
type Resolver struct {
	rootPath string
	backend  filesystem.Backend
	pred     *filter.Predicate
	graph    *namegraph.Graph
	cache    *cache.NodeCache
	creator  Creator
	root     *cache.Node

	logger   *zap.SugaredLogger
	recorder types.MetricsRecorder
}

// New materializes the root and returns a ready Resolver. The root must be an
// existing directory.
func New(ctx context.Context, cfg Config) (*Resolver, error) {
	if !filepath.IsAbs(cfg.RootPath) {
		return nil, errors.NewError(errors.ErrCodePathInvalid, "root path must be absolute").
			WithContext("path", cfg.RootPath)
	}
	if cfg.Recorder == nil {
		cfg.Recorder = types.NopRecorder{}
	}
	if cfg.Creator == nil {
		cfg.Creator = ReadOnly{}
	}

	r := &Resolver{
		rootPath: filepath.Clean(cfg.RootPath),
		backend:  cfg.Backend,
		pred:     cfg.Predicate,
		graph:    cfg.Graph,
		cache:    cfg.Cache,
		creator:  cfg.Creator,
		logger:   utils.NewLogger("resolver"),
		recorder: cfg.Recorder,
	}

	root, err := r.cache.LookupOrMaterialize(ctx, r.graph.Root(), r.rootPath, r.opener(r.rootPath))
	if err != nil {
		return nil, err
	}
	if md := root.Metadata(); !md.IsDir() {
		r.cache.Release(root)
		return nil, errors.NewError(errors.ErrCodeNotDirectory, "root is not a directory").
			WithContext("path", r.rootPath)
	}
	r.root = root
	return r, nil
}

// Root returns the root node. It stays referenced until Close.
func (r *Resolver) Root() *cache.Node { return r.root }

// RootPath returns the underlying directory exposed as "/".
func (r *Resolver) RootPath() string { return r.rootPath }

// Graph returns the name graph the resolver maintains.
func (r *Resolver) Graph() *namegraph.Graph { return r.graph }

// Cache returns the node cache the resolver fills.
func (r *Resolver) Cache() *cache.NodeCache { return r.cache }

// Close releases the root node.
func (r *Resolver) Close() {
	if r.root != nil {
		r.cache.Release(r.root)
		r.root = nil
	}
}

// Release drops a reference returned by Resolve or Acquire.
func (r *Resolver) Release(n *cache.Node) { r.cache.Release(n) }

// Ref takes an additional reference on a node the caller holds.
func (r *Resolver) Ref(n *cache.Node) { r.cache.Ref(n) }

// underlyingPath maps a name node to its path in the underlying tree.
func (r *Resolver) underlyingPath(nn *namegraph.Node) string {
	p := r.graph.Path(nn)
	switch {
	case p == "/":
		return r.rootPath
	case r.rootPath == "/":
		return p
	}
	return r.rootPath + p
}

// opener opens an identity handle for path and stats it.
func (r *Resolver) opener(path string) cache.Opener {
	return func(ctx context.Context) (filesystem.Handle, *filesystem.Metadata, error) {
		h, err := r.backend.Open(ctx, path, filesystem.OpenPath)
		if err != nil {
			return nil, nil, err
		}
		md, err := r.backend.Stat(ctx, h)
		if err != nil {
			_ = h.Close()
			return nil, nil, err
		}
		return h, md, nil
	}
}

// Acquire returns a referenced node for a name node handed out earlier,
// materializing it again if it was evicted. The filter is not re-applied.
func (r *Resolver) Acquire(ctx context.Context, nn *namegraph.Node) (*cache.Node, error) {
	if n := r.cache.Lookup(nn); n != nil {
		return n, nil
	}
	if !r.graph.Linked(nn) {
		return nil, errors.NewError(errors.ErrCodeNotFound, "name is no longer linked").
			WithComponent("resolver")
	}
	path := r.underlyingPath(nn)
	return r.cache.LookupOrMaterialize(ctx, nn, path, r.opener(path))
}

// Stat returns n's metadata, revalidating it once it is no longer fresh.
func (r *Resolver) Stat(ctx context.Context, n *cache.Node) (filesystem.Metadata, error) {
	if !r.cache.Fresh(n) {
		md, err := r.backend.Stat(ctx, n.Handle())
		if err != nil {
			return filesystem.Metadata{}, err
		}
		r.cache.Refresh(n, md)
	}
	return n.Metadata(), nil
}

// Readlink returns the target of a symlink node.
func (r *Resolver) Readlink(ctx context.Context, n *cache.Node) (string, error) {
	if md := n.Metadata(); !md.IsSymlink() {
		return "", errors.NewError(errors.ErrCodePathInvalid, "not a symbolic link").
			WithContext("path", n.Path())
	}
	return r.backend.Readlink(ctx, n.Handle())
}

// Read reads file contents through the node's lazily opened data handle.
func (r *Resolver) Read(ctx context.Context, n *cache.Node, dest []byte, off int64) (int, error) {
	began := time.Now()
	md := n.Metadata()
	if md.IsDir() {
		return 0, errors.NewError(errors.ErrCodeIsDirectory, "cannot read a directory").
			WithContext("path", n.Path())
	}

	h, err := n.DataHandle(ctx, func(ctx context.Context) (filesystem.Handle, error) {
		h, err := r.backend.Open(ctx, n.Path(), filesystem.OpenRead)
		if err != nil {
			return nil, err
		}
		cur, err := r.backend.Stat(ctx, h)
		if err != nil {
			_ = h.Close()
			return nil, err
		}
		// the path may have been replaced since the node was materialized
		if !cur.SameObject(&md) {
			_ = h.Close()
			return nil, errors.NewError(errors.ErrCodeNotFound, "file replaced underneath").
				WithContext("path", n.Path())
		}
		return h, nil
	})
	if err != nil {
		r.recorder.RecordOperation("read", time.Since(began), err)
		return 0, err
	}

	nread, err := r.backend.ReadAt(ctx, h, dest, off)
	r.recorder.RecordOperation("read", time.Since(began), err)
	return nread, err
}

// Statfs reports statistics of the underlying filesystem.
func (r *Resolver) Statfs(ctx context.Context) (*filesystem.StatfsInfo, error) {
	return r.backend.Statfs(ctx, r.rootPath)
}

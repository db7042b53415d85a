package resolver

import (
	"context"
	"strings"
	"time"

	"github.com/filterfs/filterfs/internal/cache"
	"github.com/filterfs/filterfs/internal/namegraph"
	"github.com/filterfs/filterfs/pkg/errors"
	"github.com/filterfs/filterfs/pkg/types"
	"github.com/filterfs/filterfs/pkg/utils"
)

const (
	// MaxSymlinks bounds symlink expansions within one resolution.
	MaxSymlinks = 12
	// MaxCreateAttempts bounds create-then-resolve rounds within one resolution.
	MaxCreateAttempts = 10
)

// Flags alter how Resolve treats the final component.
type Flags uint32

const (
	// FlagNoFollow returns a trailing symlink itself instead of its target.
	FlagNoFollow Flags = 1 << iota
	// FlagCreate creates a missing final component through the Creator.
	FlagCreate
	// FlagExclusive, with FlagCreate, fails if the final component exists.
	FlagExclusive
)

// Options parameterize a single resolution.
type Options struct {
	Flags Flags
	Cred  types.Credentials
	// ShadowRoot, when set, is the node above which ".." must not walk.
	ShadowRoot *cache.Node
	// CreateMode is passed to the Creator.
	CreateMode uint32
}

// RetryKind says why a resolution must be restarted elsewhere.
type RetryKind int

const (
	// RetryAbsoluteSymlink: an absolute symlink target must be resolved
	// from the caller's root.
	RetryAbsoluteSymlink RetryKind = iota + 1
	// RetryShadowParent: ".." left the shadow root; the remaining path must
	// be resolved from the shadow root's real parent.
	RetryShadowParent
)

func (k RetryKind) String() string {
	switch k {
	case RetryAbsoluteSymlink:
		return "absolute-symlink"
	case RetryShadowParent:
		return "shadow-parent"
	}
	return "unknown"
}

// Retry is the redirection signal returned instead of a node.
type Retry struct {
	Kind RetryKind
	// Path is what remains to be resolved, from the new starting point.
	Path string
}

// Result of a resolution: either Node (referenced, release it) or Retry.
type Result struct {
	Node   *cache.Node
	Access Access
	Retry  *Retry
}

// Err converts a retry outcome into a RetryAcrossBoundary error for callers
// that cannot follow redirections.
func (res *Result) Err() error {
	if res.Retry == nil {
		return nil
	}
	return errors.NewError(errors.ErrCodeRetryAcrossBoundary, "resolution leaves the filesystem").
		WithContext("kind", res.Retry.Kind.String()).
		WithContext("path", res.Retry.Path)
}

// Resolve walks path from start. start stays owned by the caller.
func (r *Resolver) Resolve(ctx context.Context, start *cache.Node, path string, opts Options) (*Result, error) {
	began := time.Now()
	res, err := r.walk(ctx, start, path, opts)
	r.recorder.RecordOperation("resolve", time.Since(began), err)
	if err != nil {
		r.logger.Debugw("resolve failed", "path", path, "err", err)
	}
	return res, err
}

func (r *Resolver) walk(ctx context.Context, start *cache.Node, path string, opts Options) (*Result, error) {
	r.cache.Ref(start)
	dir := start

	rest := utils.TrimLeadingSeparators(path)
	if rest == "" {
		return r.finish(dir, opts.Cred), nil
	}

	var links, creates int
	created := false
	for {
		if err := ctx.Err(); err != nil {
			r.cache.Release(dir)
			return nil, errors.FromSyscall("resolve", path, err)
		}

		name, next, mustBeDir := utils.NextComponent(rest)
		last := next == ""

		switch name {
		case ".":
			if last {
				return r.finish(dir, opts.Cred), nil
			}
			rest = next
			continue

		case "..":
			if err := searchable(dir, opts.Cred); err != nil {
				r.cache.Release(dir)
				return nil, err
			}
			if opts.ShadowRoot != nil && dir.NameNode() == opts.ShadowRoot.NameNode() {
				r.cache.Release(dir)
				return &Result{Retry: &Retry{Kind: RetryShadowParent, Path: next}}, nil
			}
			parent, err := r.parentOf(ctx, dir)
			r.cache.Release(dir)
			if err != nil {
				return nil, err
			}
			dir = parent
			if last {
				return r.finish(dir, opts.Cred), nil
			}
			rest = next
			continue
		}

		if err := searchable(dir, opts.Cred); err != nil {
			r.cache.Release(dir)
			return nil, err
		}
		if err := utils.ValidateName(name); err != nil {
			r.cache.Release(dir)
			return nil, errors.NewError(errors.ErrCodePathInvalid, err.Error()).
				WithContext("name", name)
		}

		child, err := r.lookupChild(ctx, dir, name)
		if err != nil {
			if !last || opts.Flags&FlagCreate == 0 || !errors.IsCode(err, errors.ErrCodeNotFound) {
				r.cache.Release(dir)
				return nil, err
			}
			creates++
			if creates > MaxCreateAttempts {
				r.cache.Release(dir)
				return nil, errors.NewError(errors.ErrCodeResourceExhausted, "entry vanished after creation too often").
					WithContext("name", name)
			}
			err := r.creator.Create(ctx, dir.Path(), name, opts.CreateMode, opts.Cred)
			switch {
			case err == nil:
				created = true
			case errors.IsCode(err, errors.ErrCodeAlreadyExists) && opts.Flags&FlagExclusive == 0:
				// someone else created it first; resolve theirs
			default:
				r.cache.Release(dir)
				return nil, err
			}
			continue
		}

		if last && opts.Flags&(FlagCreate|FlagExclusive) == FlagCreate|FlagExclusive && !created {
			r.cache.Release(child)
			r.cache.Release(dir)
			return nil, errors.NewError(errors.ErrCodeAlreadyExists, "entry exists").
				WithContext("path", child.Path())
		}

		md := child.Metadata()
		if md.IsSymlink() && (!last || mustBeDir || opts.Flags&FlagNoFollow == 0) {
			links++
			if links > MaxSymlinks {
				r.cache.Release(child)
				r.cache.Release(dir)
				return nil, errors.NewError(errors.ErrCodeSymlinkLoop, "too many levels of symbolic links").
					WithContext("path", path)
			}
			target, err := r.backend.Readlink(ctx, child.Handle())
			r.cache.Release(child)
			if err != nil {
				r.cache.Release(dir)
				return nil, err
			}
			if target == "" {
				r.cache.Release(dir)
				return nil, errors.NewError(errors.ErrCodeNotFound, "empty symlink target").
					WithContext("path", child.Path())
			}

			spliced := target
			switch {
			case next != "":
				spliced = utils.JoinPath(target, next)
			case mustBeDir:
				spliced = target + "/"
			}
			if strings.HasPrefix(target, "/") {
				r.cache.Release(dir)
				return &Result{Retry: &Retry{Kind: RetryAbsoluteSymlink, Path: spliced}}, nil
			}
			rest = spliced
			continue
		}

		if md.IsDir() {
			r.cache.Release(dir)
			dir = child
			if last {
				return r.finish(dir, opts.Cred), nil
			}
			rest = next
			continue
		}

		if !last || mustBeDir {
			r.cache.Release(child)
			r.cache.Release(dir)
			return nil, errors.NewError(errors.ErrCodeNotDirectory, "not a directory").
				WithContext("path", child.Path())
		}
		r.cache.Release(dir)
		return r.finish(child, opts.Cred), nil
	}
}

// searchable checks that dir is a directory the caller may walk through.
func searchable(dir *cache.Node, cred types.Credentials) error {
	md := dir.Metadata()
	if !md.IsDir() {
		return errors.NewError(errors.ErrCodeNotDirectory, "not a directory").
			WithContext("path", dir.Path())
	}
	return CheckAccess(&md, cred, AccessExec)
}

func (r *Resolver) finish(n *cache.Node, cred types.Credentials) *Result {
	md := n.Metadata()
	return &Result{Node: n, Access: AccessFor(&md, cred)}
}

// lookupChild filters, probes and materializes one entry of dir. No
// directory lock is held while the filter or the backend runs.
func (r *Resolver) lookupChild(ctx context.Context, dir *cache.Node, name string) (*cache.Node, error) {
	path := utils.JoinPath(dir.Path(), name)

	visible, err := r.pred.Visible(ctx, path)
	if err != nil {
		return nil, err
	}
	if !visible {
		return nil, errors.NewError(errors.ErrCodeNotFound, "no such entry").
			WithContext("path", path)
	}

	md, err := r.backend.Lstat(ctx, path)
	if err != nil {
		return nil, err
	}

	dirNN := dir.NameNode()
	var locks namegraph.Locker
	locks.Lock(dirNN)
	nn := r.graph.Child(dirNN, name)
	n := r.cache.Lookup(nn)
	locks.Unlock(dirNN)
	defer r.graph.Release(nn)

	if n != nil {
		cached := n.Metadata()
		if cached.SameObject(md) {
			r.cache.Refresh(n, md)
			return n, nil
		}
		r.logger.Debugw("entry replaced underneath, dropping cached node", "path", path)
		r.cache.Forget(n)
		r.cache.Release(n)
	}
	return r.cache.LookupOrMaterialize(ctx, nn, path, r.opener(path))
}

// parentOf returns a referenced node for dir's parent. The root is its own
// parent.
func (r *Resolver) parentOf(ctx context.Context, dir *cache.Node) (*cache.Node, error) {
	nn := dir.NameNode()
	if nn == r.graph.Root() {
		r.cache.Ref(dir)
		return dir, nil
	}

	pnn := r.graph.Parent(nn)
	if pnn == nil {
		return nil, errors.NewError(errors.ErrCodeNotFound, "directory no longer linked").
			WithContext("path", dir.Path())
	}
	r.graph.Ref(pnn)
	defer r.graph.Release(pnn)

	path := r.underlyingPath(pnn)
	return r.cache.LookupOrMaterialize(ctx, pnn, path, r.opener(path))
}

package fuse

import (
	"context"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/filterfs/filterfs/internal/cache"
	"github.com/filterfs/filterfs/internal/namegraph"
	"github.com/filterfs/filterfs/internal/resolver"
	"github.com/filterfs/filterfs/pkg/errors"
)

// Node is the kernel-visible inode of one name. Every Node except the root
// holds one reference on its name, dropped when the kernel forgets it.
type Node struct {
	fs.Inode
	fsys *FileSystem
	nn   *namegraph.Node
}

var (
	_ fs.NodeLookuper    = (*Node)(nil)
	_ fs.NodeGetattrer   = (*Node)(nil)
	_ fs.NodeReadlinker  = (*Node)(nil)
	_ fs.NodeReaddirer   = (*Node)(nil)
	_ fs.NodeOpener      = (*Node)(nil)
	_ fs.NodeAccesser    = (*Node)(nil)
	_ fs.NodeStatfser    = (*Node)(nil)
	_ fs.NodeOnForgetter = (*Node)(nil)
	_ fs.NodeCreater     = (*Node)(nil)
	_ fs.NodeMkdirer     = (*Node)(nil)
	_ fs.NodeMknoder     = (*Node)(nil)
	_ fs.NodeUnlinker    = (*Node)(nil)
	_ fs.NodeRmdirer     = (*Node)(nil)
	_ fs.NodeRenamer     = (*Node)(nil)
	_ fs.NodeSymlinker   = (*Node)(nil)
	_ fs.NodeLinker      = (*Node)(nil)
	_ fs.NodeSetattrer   = (*Node)(nil)
)

func (n *Node) acquire(ctx context.Context) (*cache.Node, error) {
	return n.fsys.resolver.Acquire(ctx, n.nn)
}

// Lookup resolves one component below n. A trailing symlink is returned as
// itself so the kernel can readlink it.
func (n *Node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	began := time.Now()
	n.fsys.stats.Lookups.Add(1)

	child, err := n.lookup(ctx, name)
	if err != nil {
		return nil, n.fsys.done("lookup", began, err)
	}
	defer n.fsys.resolver.Release(child)

	md := child.Metadata()
	nn := child.NameNode()
	fillAttr(&out.Attr, &md, nn.ID())

	n.fsys.resolver.Graph().Ref(nn)
	node := &Node{fsys: n.fsys, nn: nn}
	inode := n.NewInode(ctx, node, fs.StableAttr{Mode: md.Type(), Ino: nn.ID()})
	if inode.Operations() != node {
		// the kernel already knows this name and holds a reference for it
		n.fsys.resolver.Graph().Release(nn)
	}
	n.fsys.done("lookup", began, nil)
	return inode, 0
}

func (n *Node) lookup(ctx context.Context, name string) (*cache.Node, error) {
	dir, err := n.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer n.fsys.resolver.Release(dir)

	res, err := n.fsys.resolver.Resolve(ctx, dir, name, resolver.Options{
		Flags: resolver.FlagNoFollow,
		Cred:  credentials(ctx),
	})
	if err != nil {
		return nil, err
	}
	if res.Retry != nil {
		return nil, res.Err()
	}
	return res.Node, nil
}

// Getattr reports attributes, revalidating stale metadata.
func (n *Node) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	began := time.Now()
	n.fsys.stats.Getattrs.Add(1)

	cn, err := n.acquire(ctx)
	if err != nil {
		return n.fsys.done("getattr", began, err)
	}
	defer n.fsys.resolver.Release(cn)

	md, err := n.fsys.resolver.Stat(ctx, cn)
	if err != nil {
		return n.fsys.done("getattr", began, err)
	}
	fillAttr(&out.Attr, &md, n.nn.ID())
	return n.fsys.done("getattr", began, nil)
}

func (n *Node) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	began := time.Now()
	cn, err := n.acquire(ctx)
	if err != nil {
		return nil, n.fsys.done("readlink", began, err)
	}
	defer n.fsys.resolver.Release(cn)

	target, err := n.fsys.resolver.Readlink(ctx, cn)
	if err != nil {
		return nil, n.fsys.done("readlink", began, err)
	}
	n.fsys.done("readlink", began, nil)
	return []byte(target), 0
}

// Readdir returns the whole filtered listing, "." and ".." included.
func (n *Node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	began := time.Now()
	n.fsys.stats.Readdirs.Add(1)

	dir, err := n.acquire(ctx)
	if err != nil {
		return nil, n.fsys.done("list", began, err)
	}
	defer n.fsys.resolver.Release(dir)

	md := dir.Metadata()
	if err := resolver.CheckAccess(&md, credentials(ctx), resolver.AccessRead); err != nil {
		return nil, n.fsys.done("list", began, err)
	}

	entries, err := n.fsys.resolver.ListDirectory(ctx, dir, 0, -1, 0)
	if err != nil {
		return nil, n.fsys.done("list", began, err)
	}
	out := make([]fuse.DirEntry, len(entries))
	for i, e := range entries {
		out[i] = fuse.DirEntry{Name: e.Name, Ino: n.direntIno(e), Mode: e.Type}
	}
	n.fsys.done("list", began, nil)
	return fs.NewListDirStream(out), 0
}

// direntIno reports the inode number Getattr would report for e when its name
// is known to the graph. Names never looked up carry the underlying inode.
func (n *Node) direntIno(e resolver.Entry) uint64 {
	graph := n.fsys.resolver.Graph()
	switch e.Name {
	case ".":
		return n.nn.ID()
	case "..":
		if parent := graph.Parent(n.nn); parent != nil {
			return parent.ID()
		}
		return n.nn.ID()
	}
	if nn := graph.Lookup(n.nn, e.Name); nn != nil {
		return nn.ID()
	}
	return e.Ino
}

// Open opens n for reading. The returned handle keeps the cached node
// referenced until Release.
func (n *Node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	began := time.Now()
	n.fsys.stats.Opens.Add(1)

	if wantsWrite(flags) {
		n.fsys.done("open", began, nil)
		return nil, 0, syscall.EROFS
	}

	cn, err := n.acquire(ctx)
	if err != nil {
		return nil, 0, n.fsys.done("open", began, err)
	}
	md := cn.Metadata()
	switch {
	case md.IsDir():
		err = errors.NewError(errors.ErrCodeIsDirectory, "cannot open a directory for reading").
			WithContext("path", cn.Path())
	case !md.IsRegular():
		err = errors.NewError(errors.ErrCodeNotSupported, "only regular files can be opened").
			WithContext("path", cn.Path())
	default:
		err = resolver.CheckAccess(&md, credentials(ctx), resolver.AccessRead)
	}
	if err != nil {
		n.fsys.resolver.Release(cn)
		return nil, 0, n.fsys.done("open", began, err)
	}

	n.fsys.done("open", began, nil)
	return &FileHandle{fsys: n.fsys, node: cn}, 0, 0
}

// Access checks mask against the caller's rights. Write is never granted.
func (n *Node) Access(ctx context.Context, mask uint32) syscall.Errno {
	began := time.Now()
	want := accessMask(mask)
	if want.Can(resolver.AccessWrite) {
		n.fsys.done("access", began, nil)
		return syscall.EROFS
	}

	cn, err := n.acquire(ctx)
	if err != nil {
		return n.fsys.done("access", began, err)
	}
	defer n.fsys.resolver.Release(cn)

	md := cn.Metadata()
	return n.fsys.done("access", began, resolver.CheckAccess(&md, credentials(ctx), want))
}

func (n *Node) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	began := time.Now()
	info, err := n.fsys.resolver.Statfs(ctx)
	if err != nil {
		return n.fsys.done("statfs", began, err)
	}
	fillStatfs(out, info)
	return n.fsys.done("statfs", began, nil)
}

// OnForget drops the kernel's reference on the name.
func (n *Node) OnForget() {
	if n.nn != n.fsys.resolver.Graph().Root() {
		n.fsys.resolver.Graph().Release(n.nn)
	}
}

// Create goes through the resolver's creation path, which refuses it.
func (n *Node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	began := time.Now()
	dir, err := n.acquire(ctx)
	if err != nil {
		return nil, nil, 0, n.fsys.done("create", began, err)
	}
	defer n.fsys.resolver.Release(dir)

	opts := resolver.Options{
		Flags:      resolver.FlagCreate | resolver.FlagNoFollow,
		Cred:       credentials(ctx),
		CreateMode: mode,
	}
	if flags&syscall.O_EXCL != 0 {
		opts.Flags |= resolver.FlagExclusive
	}
	res, err := n.fsys.resolver.Resolve(ctx, dir, name, opts)
	if err == nil {
		// an existing entry was found; opening it for writing is still refused
		if res.Node != nil {
			n.fsys.resolver.Release(res.Node)
		}
		err = errors.NewError(errors.ErrCodeNotSupported, "filterfs is read-only").WithOperation("create")
	}
	return nil, nil, 0, n.fsys.done("create", began, err)
}

func (n *Node) refuse(op string) syscall.Errno {
	return n.fsys.done(op, time.Now(),
		errors.NewError(errors.ErrCodeNotSupported, "filterfs is read-only").WithOperation(op))
}

func (n *Node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	return nil, n.refuse("mkdir")
}

func (n *Node) Mknod(ctx context.Context, name string, mode uint32, dev uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	return nil, n.refuse("mknod")
}

func (n *Node) Unlink(ctx context.Context, name string) syscall.Errno {
	return n.refuse("unlink")
}

func (n *Node) Rmdir(ctx context.Context, name string) syscall.Errno {
	return n.refuse("rmdir")
}

func (n *Node) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	return n.refuse("rename")
}

func (n *Node) Symlink(ctx context.Context, target, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	return nil, n.refuse("symlink")
}

func (n *Node) Link(ctx context.Context, target fs.InodeEmbedder, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	return nil, n.refuse("link")
}

func (n *Node) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	return n.refuse("setattr")
}

// FileHandle represents an open file handle
type FileHandle struct {
	fsys *FileSystem
	node *cache.Node
}

var (
	_ fs.FileReader   = (*FileHandle)(nil)
	_ fs.FileReleaser = (*FileHandle)(nil)
)

// Read reads data from the file
func (fh *FileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	fh.fsys.stats.Reads.Add(1)
	nread, err := fh.fsys.resolver.Read(ctx, fh.node, dest, off)
	if err != nil {
		fh.fsys.stats.Errors.Add(1)
		return nil, errors.ToErrno(err)
	}
	fh.fsys.stats.BytesRead.Add(int64(nread))
	return fuse.ReadResultData(dest[:nread]), 0
}

// Release releases the file handle
func (fh *FileHandle) Release(ctx context.Context) syscall.Errno {
	fh.fsys.resolver.Release(fh.node)
	return 0
}

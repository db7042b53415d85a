package fuse

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filterfs/filterfs/internal/cache"
	"github.com/filterfs/filterfs/internal/config"
	"github.com/filterfs/filterfs/internal/filesystem"
	"github.com/filterfs/filterfs/internal/filter"
	"github.com/filterfs/filterfs/internal/namegraph"
	"github.com/filterfs/filterfs/internal/resolver"
	"github.com/filterfs/filterfs/pkg/errors"
	"github.com/filterfs/filterfs/pkg/types"
)

type opRecorder struct {
	types.NopRecorder
	mu  sync.Mutex
	ops map[string]int
}

func (r *opRecorder) RecordOperation(op string, _ time.Duration, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ops == nil {
		r.ops = make(map[string]int)
	}
	r.ops[op]++
}

func (r *opRecorder) count(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ops[op]
}

// newTestFS builds the engine over a fixture tree:
//
//	hello.txt  "hello, filterfs"
//	secret.bin (hidden by the filter)
//	sub/
//	link -> hello.txt
func newTestFS(t *testing.T) (*FileSystem, *opRecorder) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "hello.txt"), []byte("hello, filterfs"), 0644))
	require.NoError(t, os.Chmod(filepath.Join(root, "hello.txt"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "secret.bin"), []byte("x"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0755))
	require.NoError(t, os.Symlink("hello.txt", filepath.Join(root, "link")))

	cfg := config.NewDefault()
	cfg.Filter.Command = "case {} in *.bin) exit 1;; esac"
	pred, err := filter.New(cfg.Filter, nil)
	require.NoError(t, err)

	graph := namegraph.New()
	nodes := cache.New(cfg.Cache, graph, nil)
	r, err := resolver.New(context.Background(), resolver.Config{
		RootPath:  root,
		Backend:   filesystem.NewLocal(),
		Predicate: pred,
		Graph:     graph,
		Cache:     nodes,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		r.Close()
		_ = nodes.Close()
	})

	rec := &opRecorder{}
	return NewFileSystem(r, rec), rec
}

// child returns a Node for path the way Lookup would, without a kernel
// bridge.
func child(t *testing.T, fsys *FileSystem, path string) *Node {
	t.Helper()
	res, err := fsys.resolver.Resolve(context.Background(), fsys.resolver.Root(), path, resolver.Options{
		Flags: resolver.FlagNoFollow,
		Cred:  credentials(context.Background()),
	})
	require.NoError(t, err)
	nn := res.Node.NameNode()
	fsys.resolver.Graph().Ref(nn)
	fsys.resolver.Release(res.Node)
	n := &Node{fsys: fsys, nn: nn}
	t.Cleanup(n.OnForget)
	return n
}

func TestGetattr(t *testing.T) {
	fsys, rec := newTestFS(t)
	n := child(t, fsys, "hello.txt")

	var out fuse.AttrOut
	require.Equal(t, syscall.Errno(0), n.Getattr(context.Background(), nil, &out))
	assert.Equal(t, n.nn.ID(), out.Ino)
	assert.Equal(t, uint64(len("hello, filterfs")), out.Size)
	assert.Equal(t, uint32(syscall.S_IFREG|0644), out.Mode)
	assert.Equal(t, uint32(os.Getuid()), out.Uid)
	assert.NotZero(t, out.Mtime)
	assert.Equal(t, 1, rec.count("getattr"))

	root := fsys.Root().(*Node)
	require.Equal(t, syscall.Errno(0), root.Getattr(context.Background(), nil, &out))
	assert.Equal(t, uint64(namegraph.RootID), out.Ino)
	assert.Equal(t, uint32(syscall.S_IFDIR), out.Mode&syscall.S_IFMT)
}

func TestLookupMissingAndFiltered(t *testing.T) {
	fsys, rec := newTestFS(t)
	root := fsys.Root().(*Node)

	var out fuse.EntryOut
	_, errno := root.Lookup(context.Background(), "missing", &out)
	assert.Equal(t, syscall.ENOENT, errno)

	_, errno = root.Lookup(context.Background(), "secret.bin", &out)
	assert.Equal(t, syscall.ENOENT, errno)

	assert.Equal(t, 2, rec.count("lookup"))
	assert.Zero(t, fsys.GetStats().Errors, "ENOENT is not counted as an error")
	assert.Equal(t, int64(2), fsys.GetStats().Lookups)
}

func TestReaddir(t *testing.T) {
	fsys, _ := newTestFS(t)
	root := fsys.Root().(*Node)

	stream, errno := root.Readdir(context.Background())
	require.Equal(t, syscall.Errno(0), errno)
	defer stream.Close()

	var names []string
	modes := make(map[string]uint32)
	for stream.HasNext() {
		e, errno := stream.Next()
		require.Equal(t, syscall.Errno(0), errno)
		names = append(names, e.Name)
		modes[e.Name] = e.Mode
	}
	assert.Equal(t, []string{".", "..", "hello.txt", "link", "sub"}, names)
	assert.Equal(t, uint32(syscall.S_IFDIR), modes["sub"])
	assert.Equal(t, uint32(syscall.S_IFLNK), modes["link"])
}

func TestReaddirInodesMatchGetattr(t *testing.T) {
	fsys, _ := newTestFS(t)
	root := fsys.Root().(*Node)
	hello := child(t, fsys, "hello.txt")
	sub := child(t, fsys, "sub")

	var attr fuse.AttrOut
	require.Equal(t, syscall.Errno(0), hello.Getattr(context.Background(), nil, &attr))

	inos := func(dir *Node) map[string]uint64 {
		stream, errno := dir.Readdir(context.Background())
		require.Equal(t, syscall.Errno(0), errno)
		defer stream.Close()
		out := make(map[string]uint64)
		for stream.HasNext() {
			e, errno := stream.Next()
			require.Equal(t, syscall.Errno(0), errno)
			out[e.Name] = e.Ino
		}
		return out
	}

	top := inos(root)
	assert.Equal(t, attr.Ino, top["hello.txt"])
	assert.Equal(t, sub.nn.ID(), top["sub"])
	assert.Equal(t, uint64(namegraph.RootID), top["."])
	assert.Equal(t, uint64(namegraph.RootID), top[".."])

	nested := inos(sub)
	assert.Equal(t, sub.nn.ID(), nested["."])
	assert.Equal(t, uint64(namegraph.RootID), nested[".."])
}

func TestReadlink(t *testing.T) {
	fsys, _ := newTestFS(t)

	target, errno := child(t, fsys, "link").Readlink(context.Background())
	require.Equal(t, syscall.Errno(0), errno)
	assert.Equal(t, "hello.txt", string(target))

	_, errno = child(t, fsys, "hello.txt").Readlink(context.Background())
	assert.NotEqual(t, syscall.Errno(0), errno)
}

func TestOpenReadRelease(t *testing.T) {
	fsys, _ := newTestFS(t)
	n := child(t, fsys, "hello.txt")
	ctx := context.Background()

	fh, _, errno := n.Open(ctx, syscall.O_RDONLY)
	require.Equal(t, syscall.Errno(0), errno)
	handle := fh.(*FileHandle)

	buf := make([]byte, 64)
	res, errno := handle.Read(ctx, buf, 7)
	require.Equal(t, syscall.Errno(0), errno)
	data, status := res.Bytes(nil)
	require.True(t, status.Ok())
	assert.Equal(t, "filterfs", string(data))

	// the open handle pins the cached node
	assert.Equal(t, 2, fsys.resolver.Cache().Stats().Pinned)
	assert.Equal(t, syscall.Errno(0), handle.Release(ctx))
	assert.Equal(t, 1, fsys.resolver.Cache().Stats().Pinned)

	stats := fsys.GetStats()
	assert.Equal(t, int64(1), stats.Opens)
	assert.Equal(t, int64(1), stats.Reads)
	assert.Equal(t, int64(len("filterfs")), stats.BytesRead)
}

func TestOpenRefusals(t *testing.T) {
	fsys, _ := newTestFS(t)
	ctx := context.Background()
	file := child(t, fsys, "hello.txt")

	for _, flags := range []uint32{syscall.O_WRONLY, syscall.O_RDWR, syscall.O_RDONLY | syscall.O_TRUNC, syscall.O_WRONLY | syscall.O_APPEND} {
		_, _, errno := file.Open(ctx, flags)
		assert.Equal(t, syscall.EROFS, errno, "flags %#x", flags)
	}

	_, _, errno := child(t, fsys, "sub").Open(ctx, syscall.O_RDONLY)
	assert.Equal(t, syscall.EISDIR, errno)

	_, _, errno = child(t, fsys, "link").Open(ctx, syscall.O_RDONLY)
	assert.Equal(t, syscall.ENOTSUP, errno)

	assert.Equal(t, 1, fsys.resolver.Cache().Stats().Pinned, "failed opens must not pin nodes")
}

func TestAccess(t *testing.T) {
	fsys, _ := newTestFS(t)
	ctx := context.Background()
	file := child(t, fsys, "hello.txt")

	assert.Equal(t, syscall.Errno(0), file.Access(ctx, 4))
	assert.Equal(t, syscall.EROFS, file.Access(ctx, 2))
	if os.Geteuid() != 0 {
		assert.Equal(t, syscall.EACCES, file.Access(ctx, 1))
	}
	assert.Equal(t, syscall.Errno(0), child(t, fsys, "sub").Access(ctx, 5))
}

func TestStatfs(t *testing.T) {
	fsys, _ := newTestFS(t)
	var out fuse.StatfsOut
	require.Equal(t, syscall.Errno(0), fsys.Root().(*Node).Statfs(context.Background(), &out))
	assert.NotZero(t, out.Bsize)
}

func TestMutationsAreRefused(t *testing.T) {
	fsys, rec := newTestFS(t)
	root := fsys.Root().(*Node)
	ctx := context.Background()
	var entry fuse.EntryOut

	_, errno := root.Mkdir(ctx, "d", 0755, &entry)
	assert.Equal(t, syscall.ENOTSUP, errno)
	_, errno = root.Mknod(ctx, "p", syscall.S_IFIFO|0644, 0, &entry)
	assert.Equal(t, syscall.ENOTSUP, errno)
	assert.Equal(t, syscall.ENOTSUP, root.Unlink(ctx, "hello.txt"))
	assert.Equal(t, syscall.ENOTSUP, root.Rmdir(ctx, "sub"))
	assert.Equal(t, syscall.ENOTSUP, root.Rename(ctx, "hello.txt", root, "other", 0))
	_, errno = root.Symlink(ctx, "hello.txt", "l2", &entry)
	assert.Equal(t, syscall.ENOTSUP, errno)
	_, errno = root.Link(ctx, root, "h2", &entry)
	assert.Equal(t, syscall.ENOTSUP, errno)
	assert.Equal(t, syscall.ENOTSUP, root.Setattr(ctx, nil, &fuse.SetAttrIn{}, &fuse.AttrOut{}))

	// create of a new name goes through the resolver and is refused there
	_, _, _, errno = root.Create(ctx, "new.txt", syscall.O_WRONLY|syscall.O_CREAT, 0644, &entry)
	assert.Equal(t, syscall.ENOTSUP, errno)
	_, _, _, errno = root.Create(ctx, "hello.txt", syscall.O_WRONLY|syscall.O_CREAT|syscall.O_EXCL, 0644, &entry)
	assert.Equal(t, syscall.EEXIST, errno)
	_, _, _, errno = root.Create(ctx, "hello.txt", syscall.O_WRONLY|syscall.O_CREAT, 0644, &entry)
	assert.Equal(t, syscall.ENOTSUP, errno)

	_, err := os.Stat(filepath.Join(fsys.resolver.RootPath(), "new.txt"))
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, 3, rec.count("create"))
	assert.Equal(t, 1, fsys.resolver.Cache().Stats().Pinned)
}

func TestOnForgetReleasesName(t *testing.T) {
	fsys, _ := newTestFS(t)
	graph := fsys.resolver.Graph()

	res, err := fsys.resolver.Resolve(context.Background(), fsys.resolver.Root(), "sub", resolver.Options{})
	require.NoError(t, err)
	nn := res.Node.NameNode()
	graph.Ref(nn)
	fsys.resolver.Release(res.Node)

	refs := graph.Refs(nn)
	n := &Node{fsys: fsys, nn: nn}
	n.OnForget()
	assert.Equal(t, refs-1, graph.Refs(nn))

	// the root's reference is permanent
	rootRefs := graph.Refs(graph.Root())
	fsys.Root().(*Node).OnForget()
	assert.Equal(t, rootRefs, graph.Refs(graph.Root()))
}

func TestAcquireAfterEvictionKeepsInode(t *testing.T) {
	fsys, _ := newTestFS(t)
	n := child(t, fsys, "hello.txt")

	var before fuse.AttrOut
	require.Equal(t, syscall.Errno(0), n.Getattr(context.Background(), nil, &before))

	cn := fsys.resolver.Graph().Lookup(fsys.resolver.Graph().Root(), "hello.txt")
	require.NotNil(t, cn)
	require.True(t, fsys.resolver.Cache().Resident(cn))
	held, err := fsys.resolver.Acquire(context.Background(), cn)
	require.NoError(t, err)
	fsys.resolver.Cache().Forget(held)
	fsys.resolver.Release(held)
	require.False(t, fsys.resolver.Cache().Resident(cn))

	var after fuse.AttrOut
	require.Equal(t, syscall.Errno(0), n.Getattr(context.Background(), nil, &after))
	assert.Equal(t, before.Ino, after.Ino)
	assert.Equal(t, before.Size, after.Size)
}

func TestFillAttr(t *testing.T) {
	mtime := time.Unix(1700000000, 500)
	md := &filesystem.Metadata{
		Ino:     99,
		Mode:    syscall.S_IFREG | 0640,
		Nlink:   3,
		UID:     1000,
		GID:     100,
		Size:    -1,
		Blocks:  8,
		Blksize: 4096,
		Atime:   mtime,
		Mtime:   mtime,
		Ctime:   mtime,
	}
	var out fuse.Attr
	fillAttr(&out, md, 7)

	assert.Equal(t, uint64(7), out.Ino, "overlay inode, not the underlying one")
	assert.Equal(t, uint32(syscall.S_IFREG|0640), out.Mode)
	assert.Equal(t, uint32(3), out.Nlink)
	assert.Equal(t, uint32(1000), out.Uid)
	assert.Equal(t, uint32(100), out.Gid)
	assert.Zero(t, out.Size)
	assert.Equal(t, uint64(8), out.Blocks)
	assert.Equal(t, uint64(1700000000), out.Mtime)
	assert.Equal(t, uint32(500), out.Mtimensec)
}

func TestHelpers(t *testing.T) {
	tests := []struct {
		flags uint32
		write bool
	}{
		{syscall.O_RDONLY, false},
		{syscall.O_RDONLY | syscall.O_NONBLOCK, false},
		{syscall.O_WRONLY, true},
		{syscall.O_RDWR, true},
		{syscall.O_RDONLY | syscall.O_TRUNC, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.write, wantsWrite(tt.flags), "flags %#x", tt.flags)
	}

	assert.Equal(t, resolver.AccessRead|resolver.AccessExec, accessMask(5))
	assert.Equal(t, resolver.AccessWrite, accessMask(2))
	assert.Equal(t, resolver.Access(0), accessMask(0))

	assert.Equal(t, uint64(0), safeInt64ToUint64(-5))
	assert.Equal(t, uint32(0xFFFFFFFF), safeIntToUint32(1<<40))

	cred := credentials(context.Background())
	assert.Equal(t, uint32(os.Getuid()), cred.UID)
}

func TestDoneMapsErrors(t *testing.T) {
	fsys, rec := newTestFS(t)

	assert.Equal(t, syscall.Errno(0), fsys.done("x", time.Now(), nil))
	assert.Equal(t, syscall.ELOOP, fsys.done("x", time.Now(), errors.NewError(errors.ErrCodeSymlinkLoop, "loop")))
	assert.Equal(t, syscall.EXDEV, fsys.done("x", time.Now(), errors.NewError(errors.ErrCodeRetryAcrossBoundary, "away")))
	assert.Equal(t, 3, rec.count("x"))
	assert.Equal(t, int64(2), fsys.GetStats().Errors)
}

var _ fs.InodeEmbedder = (*Node)(nil)

/*
Package fuse serves the filtered overlay to the kernel through go-fuse.

# Architecture Overview

	┌─────────────────────────────────────────────┐
	│              User Applications              │
	│              (ls, cat, find)                │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│          Kernel VFS + FUSE driver           │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│            FilterFS FUSE Layer              │  ← This Package
	│   Node (one per name)    FileHandle (open)  │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│   resolver → filter, node cache, namegraph  │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│        underlying directory (O_PATH)        │
	└─────────────────────────────────────────────┘

# Nodes and references

A Node wraps one namegraph name. The kernel inode number is the name's id,
so an entry keeps its inode number across cache evictions. Every Node the
kernel learns about through Lookup holds one name reference until OnForget.
Operations acquire the cached node for the name (materializing it again if
it was evicted), use it, and release it before returning. A FileHandle
keeps its cached node referenced until Release, which pins the node's data
handle for the lifetime of the open file.

# Semantics

  - Lookup resolves a single component without following a trailing
    symlink. Names hidden by the filter answer ENOENT.
  - Readdir lists "." and ".." followed by the visible entries. An entry
    whose name the graph already holds carries the same inode number
    Getattr reports; any other entry carries its underlying inode number
    until it is looked up.
  - Open refuses write access with EROFS; Create goes through the resolver's
    creation path and is refused with ENOTSUP, as are Mkdir, Mknod, Unlink,
    Rmdir, Rename, Symlink, Link and Setattr.
  - Access never grants W_OK.

# Mounting

MountManager validates the mount point, mounts read-only with subtype
"filterfs", routes go-fuse's own logging into zap and falls back to a lazy
detach when a normal unmount fails. MountWatcher periodically compares the
manager's view with /proc/self/mounts.

	fsys := fuse.NewFileSystem(res, collector)
	mm := fuse.NewMountManager(fsys, "/mnt/filtered", cfg.Mount)
	if err := mm.Mount(ctx); err != nil {
		return err
	}
	defer mm.Unmount()
	mm.Wait()
*/
package fuse

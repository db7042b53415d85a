package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/filterfs/filterfs/internal/filesystem"
	"github.com/filterfs/filterfs/internal/namegraph"
)

// Node is a materialized underlying object: an identity handle plus cached
// metadata, linked to exactly one name node.
type Node struct {
	nn     *namegraph.Node
	path   string
	handle filesystem.Handle

	// guarded by NodeCache.mu
	refs    int
	elem    *list.Element
	evicted bool

	mdMu    sync.RWMutex
	md      filesystem.Metadata
	fetched time.Time

	// open-if-absent, use
	dataMu sync.Mutex
	data   filesystem.Handle
}

// NameNode returns the name node this object is linked to.
func (n *Node) NameNode() *namegraph.Node { return n.nn }

// Path returns the underlying path the object was materialized from.
func (n *Node) Path() string { return n.path }

// Handle returns the identity handle.
func (n *Node) Handle() filesystem.Handle { return n.handle }

// Metadata returns a copy of the cached metadata.
func (n *Node) Metadata() filesystem.Metadata {
	n.mdMu.RLock()
	defer n.mdMu.RUnlock()
	return n.md
}

// TouchAtime records an access time on the cached metadata.
func (n *Node) TouchAtime(t time.Time) {
	n.mdMu.Lock()
	n.md.Atime = t
	n.mdMu.Unlock()
}

func (n *Node) setMetadata(md *filesystem.Metadata) {
	n.mdMu.Lock()
	n.md = *md
	n.fetched = time.Now()
	n.mdMu.Unlock()
}

func (n *Node) age() time.Duration {
	n.mdMu.RLock()
	defer n.mdMu.RUnlock()
	return time.Since(n.fetched)
}

// DataHandle returns the node's read handle, opening it on first use.
// Concurrent first callers share a single open.
func (n *Node) DataHandle(ctx context.Context, open func(ctx context.Context) (filesystem.Handle, error)) (filesystem.Handle, error) {
	n.dataMu.Lock()
	defer n.dataMu.Unlock()

	if n.data != nil {
		return n.data, nil
	}
	h, err := open(ctx)
	if err != nil {
		return nil, err
	}
	n.data = h
	return h, nil
}

func (n *Node) close() error {
	var err error
	if n.handle != nil {
		err = multierr.Append(err, n.handle.Close())
	}
	n.dataMu.Lock()
	if n.data != nil {
		err = multierr.Append(err, n.data.Close())
		n.data = nil
	}
	n.dataMu.Unlock()
	return err
}

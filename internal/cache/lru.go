package cache

import (
	"container/list"
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/filterfs/filterfs/internal/config"
	"github.com/filterfs/filterfs/internal/filesystem"
	"github.com/filterfs/filterfs/internal/namegraph"
	"github.com/filterfs/filterfs/pkg/errors"
	"github.com/filterfs/filterfs/pkg/types"
	"github.com/filterfs/filterfs/pkg/utils"
)

// a node inserted by one caller may be evicted before a waiter on the same
// flight acquires it; waiters retry this many times
const maxMaterializeAttempts = 8

// Opener materializes the underlying object for a name node.
type Opener func(ctx context.Context) (filesystem.Handle, *filesystem.Metadata, error)

// NodeCache bounds the number of resident materialized nodes. The overlay
// root is held for the life of the resolver and is not counted. Nodes with
// references are never evicted; when every node is pinned the cache
// overflows until references are released.
type NodeCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	graph    *namegraph.Graph
	nodes    map[uint64]*Node
	recency  *list.List // front is most recently used
	unpinned int
	closed   bool

	group singleflight.Group

	hits, misses, evictions uint64

	logger   *zap.SugaredLogger
	recorder types.MetricsRecorder
}

// New creates a node cache. A capacity of zero never evicts.
func New(cfg config.CacheConfig, graph *namegraph.Graph, recorder types.MetricsRecorder) *NodeCache {
	if recorder == nil {
		recorder = types.NopRecorder{}
	}
	return &NodeCache{
		capacity: cfg.MaxNodes,
		ttl:      cfg.MetadataTTL,
		graph:    graph,
		nodes:    make(map[uint64]*Node),
		recency:  list.New(),
		logger:   utils.NewLogger("cache"),
		recorder: recorder,
	}
}

// Lookup returns the resident node for nn with a reference taken, or nil.
func (c *NodeCache) Lookup(nn *namegraph.Node) *Node {
	n := c.acquireResident(nn)
	if n != nil {
		c.mu.Lock()
		c.hits++
		c.mu.Unlock()
		c.recorder.RecordCacheHit()
	}
	return n
}

func (c *NodeCache) acquireResident(nn *namegraph.Node) *Node {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.nodes[nn.ID()]
	if !ok {
		return nil
	}
	c.refLocked(n)
	c.recency.MoveToFront(n.elem)
	return n
}

func (c *NodeCache) refLocked(n *Node) {
	if n.refs == 0 && !n.evicted {
		c.unpinned--
	}
	n.refs++
}

type flight struct {
	node *Node
	once sync.Once
}

// LookupOrMaterialize returns the node for nn, calling open when it is not
// resident. Concurrent callers for the same name share one open, which is
// not interrupted when one of them is canceled. On error nothing is inserted.
func (c *NodeCache) LookupOrMaterialize(ctx context.Context, nn *namegraph.Node, path string, open Opener) (*Node, error) {
	key := strconv.FormatUint(nn.ID(), 10)

	for attempt := 0; attempt < maxMaterializeAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, errors.FromSyscall("open", path, err)
		}
		if n := c.Lookup(nn); n != nil {
			return n, nil
		}

		v, err, _ := c.group.Do(key, func() (interface{}, error) {
			n, err := c.materialize(context.WithoutCancel(ctx), nn, path, open)
			if err != nil {
				return nil, err
			}
			return &flight{node: n}, nil
		})
		if err != nil {
			return nil, err
		}

		// every sharer drops the flight reference; the first one wins
		f := v.(*flight)
		acquired := ctx.Err() == nil && c.acquireIfIndexed(f.node)
		f.once.Do(func() { c.Release(f.node) })
		if acquired {
			return f.node, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, errors.FromSyscall("open", path, err)
		}
	}

	return nil, errors.NewError(errors.ErrCodeResourceExhausted, "node evicted while materializing").
		WithComponent("cache").WithContext("path", path)
}

func (c *NodeCache) acquireIfIndexed(n *Node) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n.evicted {
		return false
	}
	c.refLocked(n)
	return true
}

// materialize opens and inserts a node holding one flight reference.
func (c *NodeCache) materialize(ctx context.Context, nn *namegraph.Node, path string, open Opener) (*Node, error) {
	c.mu.Lock()
	if n, ok := c.nodes[nn.ID()]; ok {
		c.refLocked(n)
		c.mu.Unlock()
		return n, nil
	}
	c.misses++
	c.mu.Unlock()
	c.recorder.RecordCacheMiss()

	h, md, err := open(ctx)
	if err != nil {
		return nil, err
	}
	n := &Node{nn: nn, path: path, handle: h, refs: 1}
	n.setMetadata(md)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = h.Close()
		return nil, errors.NewError(errors.ErrCodeOperationCanceled, "node cache is closed").
			WithComponent("cache")
	}
	c.nodes[nn.ID()] = n
	n.elem = c.recency.PushFront(n)
	c.graph.Attach(nn)
	victims := c.evictLocked()
	resident := len(c.nodes)
	c.mu.Unlock()

	c.closeNodes(victims)
	c.recorder.UpdateResidentNodes(resident)
	c.logger.Debugw("materialized node", "path", path, "resident", resident)
	return n, nil
}

// Ref takes an additional reference on a node the caller already holds.
func (c *NodeCache) Ref(n *Node) {
	c.mu.Lock()
	c.refLocked(n)
	c.mu.Unlock()
}

// Release drops one reference. Unreferenced nodes become eviction
// candidates; unreferenced forgotten nodes are closed.
func (c *NodeCache) Release(n *Node) {
	var victims []*Node

	c.mu.Lock()
	if n.refs <= 0 {
		c.mu.Unlock()
		panic("cache: release of unreferenced node " + n.path)
	}
	n.refs--
	if n.refs == 0 {
		if n.evicted {
			victims = append(victims, n)
		} else {
			c.unpinned++
			victims = c.evictLocked()
		}
	}
	resident := len(c.nodes)
	c.mu.Unlock()

	if len(victims) > 0 {
		c.recorder.UpdateResidentNodes(resident)
	}
	c.closeNodes(victims)
}

// countedLocked is the number of resident nodes held against the capacity.
func (c *NodeCache) countedLocked() int {
	if _, ok := c.nodes[namegraph.RootID]; ok {
		return len(c.nodes) - 1
	}
	return len(c.nodes)
}

// evictLocked removes least recently used unreferenced nodes until the
// resident count fits the capacity or only pinned nodes remain.
func (c *NodeCache) evictLocked() []*Node {
	if c.capacity <= 0 {
		return nil
	}
	var victims []*Node
	for e := c.recency.Back(); e != nil && c.countedLocked() > c.capacity; {
		n := e.Value.(*Node)
		e = e.Prev()
		if n.refs != 0 || n.nn.ID() == namegraph.RootID {
			continue
		}
		c.removeLocked(n)
		c.evictions++
		c.recorder.RecordEviction()
		victims = append(victims, n)
	}
	return victims
}

func (c *NodeCache) removeLocked(n *Node) {
	if n.evicted {
		return
	}
	if cur, ok := c.nodes[n.nn.ID()]; ok && cur == n {
		delete(c.nodes, n.nn.ID())
	}
	if n.elem != nil {
		c.recency.Remove(n.elem)
		n.elem = nil
	}
	if n.refs == 0 {
		c.unpinned--
	}
	n.evicted = true
	c.graph.Detach(n.nn)
}

func (c *NodeCache) closeNodes(nodes []*Node) {
	for _, n := range nodes {
		if err := n.close(); err != nil {
			c.logger.Warnw("failed to close evicted node", "path", n.path, "err", err)
		}
	}
}

// Forget drops n from the index, typically because the underlying object
// changed identity. It is closed once its last reference is released.
func (c *NodeCache) Forget(n *Node) {
	c.mu.Lock()
	wasIdle := n.refs == 0 && !n.evicted
	c.removeLocked(n)
	c.mu.Unlock()

	if wasIdle {
		c.closeNodes([]*Node{n})
	}
}

// Touch marks n as most recently used.
func (c *NodeCache) Touch(n *Node) {
	c.mu.Lock()
	if n.elem != nil {
		c.recency.MoveToFront(n.elem)
	}
	c.mu.Unlock()
}

// Fresh reports whether n's metadata is younger than the metadata TTL.
func (c *NodeCache) Fresh(n *Node) bool {
	return n.age() < c.ttl
}

// Refresh replaces n's metadata and marks it fresh.
func (c *NodeCache) Refresh(n *Node, md *filesystem.Metadata) {
	n.setMetadata(md)
}

// Resident reports whether a node for nn is currently cached.
func (c *NodeCache) Resident(nn *namegraph.Node) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.nodes[nn.ID()]
	return ok
}

// Stats returns a snapshot of cache statistics.
func (c *NodeCache) Stats() types.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := types.CacheStats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Resident:  len(c.nodes),
		Pinned:    len(c.nodes) - c.unpinned,
		Capacity:  c.capacity,
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}
	return stats
}

// Close drops every node. Referenced nodes are closed on their last release.
func (c *NodeCache) Close() error {
	c.mu.Lock()
	c.closed = true
	var idle []*Node
	for e := c.recency.Front(); e != nil; {
		n := e.Value.(*Node)
		e = e.Next()
		if n.refs == 0 {
			idle = append(idle, n)
		}
		c.removeLocked(n)
	}
	c.mu.Unlock()

	var err error
	for _, n := range idle {
		err = multierr.Append(err, n.close())
	}
	return err
}

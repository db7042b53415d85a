// Package namegraph maintains the tree of path components the overlay has
// handed out, independent of whether the objects behind them are cached.
package namegraph

import (
	"strings"
	"sync"
)

// RootID is the id of the root name node.
const RootID uint64 = 1

// Node is one path component. Children are owned by their parent; the
// parent pointer is only used for traversal.
type Node struct {
	id    uint64
	name  string
	depth int

	// guarded by Graph.mu
	parent   *Node
	children map[string]*Node
	refs     int
	resident bool

	// directory lock, taken through a Locker
	mu sync.Mutex
}

func (n *Node) ID() uint64  { return n.id }
func (n *Node) Name() string { return n.name }
func (n *Node) Depth() int   { return n.depth }

// Graph is the process-wide name tree.
type Graph struct {
	mu     sync.Mutex
	root   *Node
	nextID uint64
	count  int
}

// New creates a graph holding only the root.
func New() *Graph {
	root := &Node{id: RootID, refs: 1}
	return &Graph{root: root, nextID: RootID + 1, count: 1}
}

// Root returns the permanently referenced root node.
func (g *Graph) Root() *Node { return g.root }

// Parent returns the parent of n, or nil for the root.
func (g *Graph) Parent(n *Node) *Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	return n.parent
}

// Child returns the child called name, creating it if needed, with one
// reference taken for the caller.
func (g *Graph) Child(parent *Node, name string) *Node {
	g.mu.Lock()
	defer g.mu.Unlock()

	if c, ok := parent.children[name]; ok {
		c.refs++
		return c
	}
	c := &Node{
		id:     g.nextID,
		name:   name,
		depth:  parent.depth + 1,
		parent: parent,
		refs:   1,
	}
	g.nextID++
	if parent.children == nil {
		parent.children = make(map[string]*Node)
	}
	parent.children[name] = c
	g.count++
	return c
}

// Lookup returns the existing child called name without taking a reference.
func (g *Graph) Lookup(parent *Node, name string) *Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	return parent.children[name]
}

// Ref takes an additional reference on n.
func (g *Graph) Ref(n *Node) {
	g.mu.Lock()
	n.refs++
	g.mu.Unlock()
}

// Release drops one reference. Nodes with no references, no children and no
// cached object are unlinked, walking upward as parents become empty.
func (g *Graph) Release(n *Node) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if n.refs <= 0 {
		panic("namegraph: release of unreferenced node " + n.name)
	}
	n.refs--
	g.reclaim(n)
}

func (g *Graph) reclaim(n *Node) {
	for n != g.root && n.refs == 0 && !n.resident && len(n.children) == 0 {
		p := n.parent
		delete(p.children, n.name)
		n.parent = nil
		g.count--
		n = p
	}
}

// Attach marks n as backing a cached object and takes a reference for it.
func (g *Graph) Attach(n *Node) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n.resident = true
	n.refs++
}

// Detach undoes Attach.
func (g *Graph) Detach(n *Node) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !n.resident {
		return
	}
	n.resident = false
	n.refs--
	g.reclaim(n)
}

// Resident reports whether n currently backs a cached object.
func (g *Graph) Resident(n *Node) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return n.resident
}

// Refs returns the current reference count of n.
func (g *Graph) Refs(n *Node) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return n.refs
}

// Linked reports whether n is still reachable from the root.
func (g *Graph) Linked(n *Node) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return n == g.root || n.parent != nil
}

// Path returns the overlay-relative path of n, "/" for the root.
func (g *Graph) Path(n *Node) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if n == g.root {
		return "/"
	}
	parts := make([]string, n.depth)
	for i := n.depth - 1; n != nil && n != g.root; i-- {
		parts[i] = n.name
		n = n.parent
	}
	return "/" + strings.Join(parts, "/")
}

// Len returns the number of linked nodes, the root included.
func (g *Graph) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.count
}

package namegraph

import "fmt"

// Locker takes directory locks for a single resolution. Locks must be taken
// parent before child (strictly increasing depth) and released in reverse;
// any other sequence is a programming error and panics.
type Locker struct {
	held []*Node
}

// Lock acquires the directory lock of n.
func (l *Locker) Lock(n *Node) {
	if k := len(l.held); k > 0 && n.Depth() <= l.held[k-1].Depth() {
		last := l.held[k-1]
		panic(fmt.Sprintf("namegraph: lock order violation: %q (depth %d) after %q (depth %d)",
			n.Name(), n.Depth(), last.Name(), last.Depth()))
	}
	n.mu.Lock()
	l.held = append(l.held, n)
}

// Unlock releases the most recently acquired lock, which must be n's.
func (l *Locker) Unlock(n *Node) {
	k := len(l.held)
	if k == 0 || l.held[k-1] != n {
		panic(fmt.Sprintf("namegraph: out of order unlock of %q", n.name))
	}
	l.held = l.held[:k-1]
	n.mu.Unlock()
}

// UnlockAll releases every held lock, deepest first.
func (l *Locker) UnlockAll() {
	for len(l.held) > 0 {
		l.Unlock(l.held[len(l.held)-1])
	}
}

// Held returns the number of locks currently held.
func (l *Locker) Held() int { return len(l.held) }

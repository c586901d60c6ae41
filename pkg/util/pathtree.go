package util

type (
	// PathTree indexes values by hierarchical string paths. Lookups are
	// exact; Detach removes whole subtrees by path prefix
	PathTree[T any] struct {
		root pathNode[T]
	}

	pathNode[T any] struct {
		children map[string]*pathNode[T]
		value    T
		set      bool
	}
)

// NewPathTree creates an empty hierarchical path index
func NewPathTree[T any]() *PathTree[T] {
	return &PathTree[T]{}
}

// Insert stores a value at the exact path, replacing any previous value
func (t *PathTree[T]) Insert(path []string, v T) {
	n := &t.root
	for _, seg := range path {
		n = n.child(seg, true)
	}
	n.value = v
	n.set = true
}

// Get returns the value stored at the exact path
func (t *PathTree[T]) Get(path []string) (T, bool) {
	n := t.lookup(path)
	if n == nil || !n.set {
		var zero T
		return zero, false
	}
	return n.value, true
}

// Remove clears the value at the exact path, pruning nodes left empty
func (t *PathTree[T]) Remove(path []string) {
	if len(path) == 0 {
		t.root.clear()
		return
	}

	trail := make([]*pathNode[T], 0, len(path))
	n := &t.root
	for _, seg := range path {
		trail = append(trail, n)
		if n = n.child(seg, false); n == nil {
			return
		}
	}
	n.clear()

	for i := len(path) - 1; i >= 0; i-- {
		cur := trail[i].children[path[i]]
		if cur.set || len(cur.children) > 0 {
			break
		}
		delete(trail[i].children, path[i])
	}
}

// Detach removes the subtree at the prefix and returns its values. A nil
// result means no node existed at the prefix
func (t *PathTree[T]) Detach(prefix []string) []T {
	if len(prefix) == 0 {
		vals := collectValues(&t.root, nil)
		t.root = pathNode[T]{}
		return vals
	}

	parent := t.lookup(prefix[:len(prefix)-1])
	if parent == nil {
		return nil
	}
	seg := prefix[len(prefix)-1]
	n := parent.child(seg, false)
	if n == nil {
		return nil
	}
	delete(parent.children, seg)
	return collectValues(n, nil)
}

// DetachWith removes the subtree at the prefix, invoking fn per value
func (t *PathTree[T]) DetachWith(prefix []string, fn func(T)) {
	for _, v := range t.Detach(prefix) {
		fn(v)
	}
}

func (t *PathTree[T]) lookup(path []string) *pathNode[T] {
	n := &t.root
	for _, seg := range path {
		if n = n.child(seg, false); n == nil {
			return nil
		}
	}
	return n
}

func (n *pathNode[T]) child(seg string, create bool) *pathNode[T] {
	if c, ok := n.children[seg]; ok {
		return c
	}
	if !create {
		return nil
	}
	if n.children == nil {
		n.children = map[string]*pathNode[T]{}
	}
	c := &pathNode[T]{}
	n.children[seg] = c
	return c
}

func (n *pathNode[T]) clear() {
	var zero T
	n.value = zero
	n.set = false
}

func collectValues[T any](n *pathNode[T], acc []T) []T {
	if n.set {
		acc = append(acc, n.value)
	}
	for _, c := range n.children {
		acc = collectValues(c, acc)
	}
	return acc
}

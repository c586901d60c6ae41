package util

import (
	"sort"
	"testing"
)

func TestPathTreeInsertAndDetach(t *testing.T) {
	tree := NewPathTree[int]()
	tree.Insert([]string{"wf", "a", "sleep"}, 1)
	tree.Insert([]string{"wf", "a", "timeout"}, 2)
	tree.Insert([]string{"wf", "b", "sleep"}, 3)

	got := tree.Detach([]string{"wf", "a"})
	sort.Ints(got)
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("expected [1 2], got %v", got)
	}

	remaining := tree.Detach([]string{"wf"})
	if len(remaining) != 1 || remaining[0] != 3 {
		t.Errorf("expected [3], got %v", remaining)
	}
}

func TestPathTreeGet(t *testing.T) {
	tree := NewPathTree[int]()
	tree.Insert([]string{"wf", "a"}, 7)

	if v, ok := tree.Get([]string{"wf", "a"}); !ok || v != 7 {
		t.Errorf("expected (7, true), got (%d, %v)", v, ok)
	}
	if _, ok := tree.Get([]string{"wf"}); ok {
		t.Error("intermediate node should not report a value")
	}
	if _, ok := tree.Get([]string{"wf", "b"}); ok {
		t.Error("missing path should not report a value")
	}

	tree.Insert([]string{"wf", "a"}, 9)
	if v, _ := tree.Get([]string{"wf", "a"}); v != 9 {
		t.Errorf("expected replacement value 9, got %d", v)
	}
}

func TestPathTreeRemove(t *testing.T) {
	tree := NewPathTree[string]()
	tree.Insert([]string{"a", "b"}, "x")
	tree.Remove([]string{"a", "b"})

	if vals := tree.Detach([]string{"a"}); len(vals) != 0 {
		t.Errorf("expected no values after remove, got %v", vals)
	}
}

func TestPathTreeRemoveMissing(t *testing.T) {
	tree := NewPathTree[string]()
	tree.Insert([]string{"a"}, "x")
	tree.Remove([]string{"a", "b", "c"})

	if vals := tree.Detach(nil); len(vals) != 1 {
		t.Errorf("expected surviving value, got %v", vals)
	}
}

func TestPathTreeDetachWith(t *testing.T) {
	tree := NewPathTree[int]()
	tree.Insert([]string{"q", "one"}, 1)
	tree.Insert([]string{"q", "two"}, 2)

	sum := 0
	tree.DetachWith([]string{"q"}, func(v int) {
		sum += v
	})
	if sum != 3 {
		t.Errorf("expected detached sum 3, got %d", sum)
	}
}

func TestPathTreeDetachMissingPrefix(t *testing.T) {
	tree := NewPathTree[int]()
	tree.Insert([]string{"a"}, 1)

	if vals := tree.Detach([]string{"z", "y"}); vals != nil {
		t.Errorf("expected nil for missing prefix, got %v", vals)
	}
}

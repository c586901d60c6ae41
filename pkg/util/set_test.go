package util

import (
	"sort"
	"testing"
)

func TestSetZeroValue(t *testing.T) {
	s := Set[string]{}
	if !s.IsEmpty() || s.Len() != 0 {
		t.Errorf("zero-value set should be empty, got length %d", s.Len())
	}

	s.Add("a")
	if s.IsEmpty() {
		t.Error("set should not be empty after Add")
	}
}

func TestSetOfDedup(t *testing.T) {
	s := SetOf("a", "b", "a", "c", "b")
	if s.Len() != 3 {
		t.Errorf("expected 3 distinct members, got %d", s.Len())
	}
	for _, v := range []string{"a", "b", "c"} {
		if !s.Contains(v) {
			t.Errorf("set should contain %q", v)
		}
	}
}

func TestSetAddRemove(t *testing.T) {
	s := SetOf(1, 2)
	s.Add(1)
	if s.Len() != 2 {
		t.Errorf("re-adding a member changed length to %d", s.Len())
	}

	s.Remove(1)
	if s.Contains(1) {
		t.Error("removed member should not be present")
	}
	s.Remove(99)
	if s.Len() != 1 {
		t.Errorf("removing an absent value changed length to %d", s.Len())
	}
}

func TestSetItems(t *testing.T) {
	items := SetOf("y", "x", "z").Items()
	sort.Strings(items)
	want := []string{"x", "y", "z"}
	for i, v := range want {
		if items[i] != v {
			t.Errorf("items[%d] = %q, want %q", i, items[i], v)
		}
	}
}

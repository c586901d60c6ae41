package util

// Set tracks membership of comparable values. The zero-value literal
// Set[T]{} is ready to use
type Set[T comparable] map[T]struct{}

// SetOf builds a set from the given values, discarding duplicates
func SetOf[T comparable](values ...T) Set[T] {
	res := make(Set[T], len(values))
	for _, v := range values {
		res.Add(v)
	}
	return res
}

// Add inserts a value. Adding an existing value is a no-op
func (s Set[T]) Add(v T) {
	s[v] = struct{}{}
}

// Remove deletes a value. Removing an absent value is a no-op
func (s Set[T]) Remove(v T) {
	delete(s, v)
}

// Contains reports membership of v
func (s Set[T]) Contains(v T) bool {
	_, ok := s[v]
	return ok
}

// Items returns the members in unspecified order
func (s Set[T]) Items() []T {
	res := make([]T, 0, len(s))
	for v := range s {
		res = append(res, v)
	}
	return res
}

// Len returns the number of members
func (s Set[T]) Len() int {
	return len(s)
}

// IsEmpty reports whether the set has no members
func (s Set[T]) IsEmpty() bool {
	return len(s) == 0
}

package set

import (
	"errors"
	"sync"
)

// Returned when an added key already exists in the set.
var ErrCollision = errors.New("key already exists")

// Returned when a requested item does not exist in the set.
var ErrMissing = errors.New("item does not exist")

type IterFunc[T Item] func(key string, item T) error

// Set is a keyed collection guarded by a single lock. Every operation,
// reads included, is mutually exclusive with every other one.
type Set[T Item] struct {
	mu     sync.Mutex
	lookup map[string]T
}

// New creates an empty set.
func New[T Item]() *Set[T] {
	return &Set[T]{
		lookup: map[string]T{},
	}
}

// Clear removes all items and returns the number removed.
func (s *Set[T]) Clear() int {
	s.mu.Lock()
	n := len(s.lookup)
	s.lookup = map[string]T{}
	s.mu.Unlock()
	return n
}

// Len returns the size of the set right now.
func (s *Set[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lookup)
}

// In checks if an item exists in this set.
func (s *Set[T]) In(key string) bool {
	s.mu.Lock()
	_, ok := s.lookup[key]
	s.mu.Unlock()
	return ok
}

// Get returns an item with the given key.
func (s *Set[T]) Get(key string) (T, error) {
	s.mu.Lock()
	item, ok := s.lookup[key]
	s.mu.Unlock()

	if !ok {
		var zero T
		return zero, ErrMissing
	}
	return item, nil
}

// Add item to this set if it does not exist already.
func (s *Set[T]) Add(item T) error {
	key := item.Key()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, found := s.lookup[key]; found {
		return ErrCollision
	}
	s.lookup[key] = item
	return nil
}

// Remove item from this set.
func (s *Set[T]) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, found := s.lookup[key]; !found {
		return ErrMissing
	}
	delete(s.lookup, key)
	return nil
}

// Each loops over every item while holding the lock and applies fn to each
// element. fn must not call back into the set.
func (s *Set[T]) Each(fn IterFunc[T]) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, item := range s.lookup {
		if err := fn(key, item); err != nil {
			// Abort early
			return err
		}
	}
	return nil
}

// Items returns a copy of every item. The copy is taken under the lock, so
// it never contains a half-added or half-removed item.
func (s *Set[T]) Items() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := make([]T, 0, len(s.lookup))
	for _, item := range s.lookup {
		r = append(r, item)
	}
	return r
}

// Filter returns a copy of the items for which keep returns true. keep runs
// under the lock and must not call back into the set.
func (s *Set[T]) Filter(keep func(item T) bool) []T {
	r := []T{}
	s.Each(func(_ string, item T) error {
		if keep(item) {
			r = append(r, item)
		}
		return nil
	})
	return r
}

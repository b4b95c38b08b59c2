// Package ds provides the data structures the event-sourcing core is built on:
// an append-only copy-on-write sequence and an ordered set.
package ds

import (
	"encoding/json"
	"fmt"
	"iter"
	"slices"
)

// Set is an ordered set: O(1) membership with insertion-ordered iteration.
// Add mutates the receiver; everything else is read-only.
type Set[T comparable] struct {
	items map[T]struct{}
	order []T
}

// NewSet creates a set holding the given items.
func NewSet[T comparable](items ...T) *Set[T] {
	s := &Set[T]{items: make(map[T]struct{}, len(items)), order: make([]T, 0, len(items))}
	for _, item := range items {
		s.Add(item)
	}
	return s
}

func (s *Set[T]) String() string { return fmt.Sprintf("%v", s.order) }

// Add adds v to the set and reports whether it was not present before.
func (s *Set[T]) Add(v T) bool {
	if s.items == nil {
		s.items = map[T]struct{}{}
	}
	if _, ok := s.items[v]; ok {
		return false
	}
	s.items[v] = struct{}{}
	s.order = append(s.order, v)
	return true
}

func (s *Set[T]) Len() int      { return len(s.order) }
func (s *Set[T]) IsEmpty() bool { return len(s.order) == 0 }

// Contains reports whether v is in the set.
func (s *Set[T]) Contains(v T) bool {
	_, ok := s.items[v]
	return ok
}

// All iterates over the elements in insertion order.
func (s *Set[T]) All() iter.Seq[T] { return slices.Values(s.order) }

// Values returns a copy of the elements in insertion order.
func (s *Set[T]) Values() []T { return slices.Clone(s.order) }

// Copy returns an independent set with the same elements and order.
func (s *Set[T]) Copy() *Set[T] { return NewSet(s.order...) }

// MarshalJSON serializes the set as an ordered JSON array.
func (s *Set[T]) MarshalJSON() ([]byte, error) { return json.Marshal(s.order) }

package selection

import (
	"slices"

	"github.com/samber/lo"
)

// Selection is an immutable snapshot of selected items.
type Selection[T comparable] interface {
	Len() int
	IsEmpty() bool
	Contains(item T) bool
	// Items returns the selected items in selection order.
	Items() []T
}

// Empty selects nothing.
type Empty[T comparable] struct{}

func (Empty[T]) Len() int        { return 0 }
func (Empty[T]) IsEmpty() bool   { return true }
func (Empty[T]) Contains(T) bool { return false }
func (Empty[T]) Items() []T      { return nil }
func (Empty[T]) String() string  { return "[]" }

// KeyFunc identifies an item. Items with equal keys are the same item to a selection,
// even when they are different values, such as two hydrated copies of one remote row.
// Keys must be comparable.
type KeyFunc[T comparable] func(item T) any

// Identity keys an item by its value.
func Identity[T comparable](item T) any { return item }

// ItemSet is an ordered set of selected items.
type ItemSet[T comparable] struct {
	items []T
	key   KeyFunc[T]
	index map[any]struct{}
}

// NewItemSet builds a set from items, dropping duplicates and keeping first occurrences.
func NewItemSet[T comparable](items ...T) *ItemSet[T] {
	return NewItemSetBy(Identity[T], items...)
}

// NewItemSetBy builds a set whose membership is decided by key.
func NewItemSetBy[T comparable](key KeyFunc[T], items ...T) *ItemSet[T] {
	if key == nil {
		key = Identity[T]
	}
	s := &ItemSet[T]{key: key, index: make(map[any]struct{}, len(items))}
	for _, item := range items {
		k := key(item)
		if _, ok := s.index[k]; ok {
			continue
		}
		s.index[k] = struct{}{}
		s.items = append(s.items, item)
	}
	return s
}

func (s *ItemSet[T]) Len() int      { return len(s.items) }
func (s *ItemSet[T]) IsEmpty() bool { return len(s.items) == 0 }

func (s *ItemSet[T]) Contains(item T) bool {
	_, ok := s.index[s.key(item)]
	return ok
}

func (s *ItemSet[T]) Items() []T {
	return slices.Clone(s.items)
}

// Combined is the selection of a base collection plus transient items that are not part of it.
// Base and Extra are disjoint.
type Combined[T comparable] struct {
	Base  Selection[T]
	Extra *ItemSet[T]
}

func (c *Combined[T]) Len() int      { return c.Base.Len() + c.Extra.Len() }
func (c *Combined[T]) IsEmpty() bool { return c.Len() == 0 }

func (c *Combined[T]) Contains(item T) bool {
	return c.Base.Contains(item) || c.Extra.Contains(item)
}

func (c *Combined[T]) Items() []T {
	return append(c.Base.Items(), c.Extra.Items()...)
}

// Equal reports whether both selections contain the same items, regardless of order or variant.
func Equal[T comparable](a, b Selection[T]) bool {
	if a.Len() != b.Len() {
		return false
	}
	return lo.EveryBy(a.Items(), b.Contains)
}

package pageable

import (
	"context"
	"slices"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// Store is the backing collection of an in-memory Collection.
// It is owned by the collection and must only be mutated through its modification ledger.
type Store[T comparable] interface {
	Load(ctx context.Context) ([]T, error)
	Mutable() bool
	// Append fails with ErrDuplicateItem if item is already there.
	Append(ctx context.Context, item T) error
	// Remove removes items by identity.
	Remove(ctx context.Context, items []T) error
}

// SliceStore keeps items in a slice in insertion order.
type SliceStore[T comparable] struct {
	items []T
}

func NewSliceStore[T comparable](items ...T) *SliceStore[T] {
	return &SliceStore[T]{items: slices.Clone(items)}
}

func (s *SliceStore[T]) Load(context.Context) ([]T, error) {
	return slices.Clone(s.items), nil
}

func (s *SliceStore[T]) Mutable() bool { return true }

func (s *SliceStore[T]) Append(_ context.Context, item T) error {
	if lo.Contains(s.items, item) {
		return errors.Wrapf(ErrDuplicateItem, "append %v", item)
	}
	s.items = append(s.items, item)
	return nil
}

func (s *SliceStore[T]) Remove(_ context.Context, items []T) error {
	s.items = lo.Without(s.items, items...)
	return nil
}

func (s *SliceStore[T]) Len() int { return len(s.items) }

type readOnlyStore[T comparable] struct {
	Store[T]
}

// ReadOnly wraps s so that structural changes fail with ErrImmutableStore.
func ReadOnly[T comparable](s Store[T]) Store[T] {
	return readOnlyStore[T]{Store: s}
}

func (readOnlyStore[T]) Mutable() bool { return false }

func (readOnlyStore[T]) Append(_ context.Context, item T) error {
	return errors.Wrapf(ErrImmutableStore, "append %v", item)
}

func (readOnlyStore[T]) Remove(_ context.Context, items []T) error {
	return errors.Wrapf(ErrImmutableStore, "remove %d items", len(items))
}

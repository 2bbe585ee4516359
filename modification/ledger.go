package modification

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/theplant/pageable/event"
	"github.com/theplant/pageable/selection"
)

const (
	// TopicItemAdd carries the added item as New.
	TopicItemAdd event.Topic = "ITEM_ADD"
	// TopicItemUpdate carries ItemUpdate values as Old and New.
	TopicItemUpdate event.Topic = "ITEM_UPDATE"
	// TopicRemoveSelection carries the removed selection as Old.
	TopicRemoveSelection event.Topic = "REMOVE_SELECTION"
)

var (
	// ErrImmutableStore reports a structural change on a store that does not allow it.
	ErrImmutableStore = errors.New("backing store does not allow structural changes")
	// ErrDuplicateItem reports an add of an item the backing store already holds.
	ErrDuplicateItem = errors.New("item is already in the backing store")
)

// Target is the collection side that applies structural changes.
type Target[T comparable] interface {
	Mutable() bool
	// Append fails with ErrDuplicateItem if item is already there.
	Append(ctx context.Context, item T) error
	Remove(ctx context.Context, items []T) error
}

// ItemUpdate is the payload of TopicItemUpdate.
type ItemUpdate[T comparable] struct {
	Item    T
	Updated bool
}

// Modifications is a snapshot of the changes made since the last Clear.
type Modifications[T comparable] struct {
	Added   []T
	Updated []T
	Removed selection.Selection[T]
}

func (m Modifications[T]) IsEmpty() bool {
	return len(m.Added) == 0 && len(m.Updated) == 0 && m.Removed.IsEmpty()
}

type options struct {
	logger *slog.Logger
}

type Option func(*options)

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// Ledger tracks added, updated and removed items apart from the backing store.
// An item is never both added and removed: removing a pending add erases it.
// Items are identified the way the selection handler identifies them.
type Ledger[T comparable] struct {
	target    Target[T]
	selection *selection.Handler[T]
	events    *event.Channel
	logger    *slog.Logger

	added   []T
	updated []T
	removed []T
}

// New creates a ledger that mutates target and notifies on the channel of the selection handler.
func New[T comparable](target Target[T], sel *selection.Handler[T], opts ...Option) *Ledger[T] {
	if target == nil {
		panic("modification target must be set")
	}
	if sel == nil {
		panic("selection handler must be set")
	}
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Ledger[T]{
		target:    target,
		selection: sel,
		events:    sel.Events(),
		logger:    o.logger,
	}
}

func (l *Ledger[T]) Events() *event.Channel { return l.events }

// AddItem appends item to the backing store after veto listeners accepted it.
// Adding an item the store already holds fails with ErrDuplicateItem.
func (l *Ledger[T]) AddItem(ctx context.Context, item T) (bool, error) {
	if !l.target.Mutable() {
		return false, errors.Wrapf(ErrImmutableStore, "add item %v", item)
	}
	if l.IsAdded(item) {
		return false, errors.Wrapf(ErrDuplicateItem, "add item %v", item)
	}
	if err := l.events.FireVetoable(&event.Event{Topic: TopicItemAdd, New: item}); err != nil {
		l.logger.Info("item add vetoed", "item", item, "reason", err)
		return false, nil
	}
	if err := l.target.Append(ctx, item); err != nil {
		return false, errors.Wrapf(err, "add item %v", item)
	}
	l.RegisterAddedItem(item)
	l.events.Fire(&event.Event{Topic: TopicItemAdd, New: item})
	return true, nil
}

// RegisterAddedItem records item as a pending add without touching the backing store.
// Adding back a removed item only revokes its removal.
func (l *Ledger[T]) RegisterAddedItem(item T) {
	if l.contains(l.removed, item) {
		l.removed = l.without(l.removed, item)
		return
	}
	if l.contains(l.added, item) {
		return
	}
	l.added = append(l.added, item)
	l.updated = l.without(l.updated, item)
}

// RegisterUpdatedItem flags or unflags item as updated.
// Pending adds are never flagged since their creation already carries the update.
func (l *Ledger[T]) RegisterUpdatedItem(item T, updated bool) {
	if l.IsAdded(item) {
		return
	}
	was := l.contains(l.updated, item)
	if was == updated {
		return
	}
	if updated {
		l.updated = append(l.updated, item)
	} else {
		l.updated = l.without(l.updated, item)
	}
	l.events.Fire(&event.Event{
		Topic: TopicItemUpdate,
		Old:   ItemUpdate[T]{Item: item, Updated: was},
		New:   ItemUpdate[T]{Item: item, Updated: updated},
	})
}

// RemoveSelectedItems removes the selected items from the backing store.
// An empty selection succeeds without doing anything. A veto leaves store and selection untouched.
func (l *Ledger[T]) RemoveSelectedItems(ctx context.Context) (bool, error) {
	sel, err := l.selection.Selection(ctx)
	if err != nil {
		return false, err
	}
	if sel.IsEmpty() {
		return true, nil
	}
	if !l.target.Mutable() {
		return false, errors.Wrapf(ErrImmutableStore, "remove %d items", sel.Len())
	}
	if err := l.events.FireVetoable(&event.Event{Topic: TopicRemoveSelection, Old: sel}); err != nil {
		l.logger.Info("remove selection vetoed", "count", sel.Len(), "reason", err)
		return false, nil
	}

	items := sel.Items()
	if err := l.target.Remove(ctx, items); err != nil {
		return false, errors.Wrapf(err, "remove %d items", len(items))
	}
	l.selection.ForceClear()
	l.RegisterRemovedItems(items)
	l.events.Fire(&event.Event{Topic: TopicRemoveSelection, Old: sel})
	return true, nil
}

// RegisterRemovedItems records items as removed without touching the backing store.
// Pending adds are erased instead of being recorded.
func (l *Ledger[T]) RegisterRemovedItems(items []T) {
	for _, item := range items {
		l.updated = l.without(l.updated, item)
		if l.IsAdded(item) {
			l.added = l.without(l.added, item)
			continue
		}
		if !l.contains(l.removed, item) {
			l.removed = append(l.removed, item)
		}
	}
}

func (l *Ledger[T]) IsAdded(item T) bool {
	return l.contains(l.added, item)
}

func (l *Ledger[T]) IsUpdated(item T) bool {
	return l.contains(l.updated, item)
}

func (l *Ledger[T]) IsRemoved(item T) bool {
	return l.contains(l.removed, item)
}

func (l *Ledger[T]) contains(items []T, item T) bool {
	key := l.selection.Key(item)
	return lo.ContainsBy(items, func(x T) bool { return l.selection.Key(x) == key })
}

func (l *Ledger[T]) without(items []T, item T) []T {
	key := l.selection.Key(item)
	return lo.Reject(items, func(x T, _ int) bool { return l.selection.Key(x) == key })
}

// Added returns the pending adds in the order they were added.
func (l *Ledger[T]) Added() []T {
	return append([]T(nil), l.added...)
}

// Clear forgets every recorded change, typically after the changes were persisted.
func (l *Ledger[T]) Clear() {
	l.added = nil
	l.updated = nil
	l.removed = nil
}

func (l *Ledger[T]) Modifications() Modifications[T] {
	var removed selection.Selection[T] = selection.Empty[T]{}
	if len(l.removed) > 0 {
		removed = selection.NewItemSetBy(l.selection.Key, l.removed...)
	}
	return Modifications[T]{
		Added:   l.Added(),
		Updated: append([]T(nil), l.updated...),
		Removed: removed,
	}
}

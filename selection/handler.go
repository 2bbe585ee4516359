package selection

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/theplant/pageable/event"
)

type Mode string

const (
	Single Mode = "SINGLE"
	Multi  Mode = "MULTI"
)

// Topic carries selection changes with the old and new Selection as payload.
const Topic event.Topic = "SELECTION"

// ErrUnsupportedMode reports an operation that the select mode does not allow.
var ErrUnsupportedMode = errors.New("operation not supported in select mode")

// ItemsFunc returns the current logical item set that select-all and invert operate on.
type ItemsFunc[T comparable] func(ctx context.Context) ([]T, error)

// EnsureStateFunc is invoked before the selection is returned to enforce domain rules,
// such as keeping at least one item selected.
type EnsureStateFunc[T comparable] func(ctx context.Context, h *Handler[T]) error

type options[T comparable] struct {
	mode        Mode
	events      *event.Channel
	ensureState EnsureStateFunc[T]
	additional  func(item T) bool
	key         KeyFunc[T]
	logger      *slog.Logger
}

type Option[T comparable] func(*options[T])

func WithMode[T comparable](mode Mode) Option[T] {
	return func(o *options[T]) {
		o.mode = mode
	}
}

// WithEvents shares a notification channel with other components of the same collection.
func WithEvents[T comparable](ch *event.Channel) Option[T] {
	return func(o *options[T]) {
		o.events = ch
	}
}

func WithEnsureState[T comparable](fn EnsureStateFunc[T]) Option[T] {
	return func(o *options[T]) {
		o.ensureState = fn
	}
}

// WithAdditional makes the handler keep a Combined selection.
// Items reported by isAdditional are transient items that the base collection does not know.
func WithAdditional[T comparable](isAdditional func(item T) bool) Option[T] {
	return func(o *options[T]) {
		o.additional = isAdditional
	}
}

// WithKey makes the handler compare items by key instead of by value, see KeyFunc.
func WithKey[T comparable](key KeyFunc[T]) Option[T] {
	return func(o *options[T]) {
		o.key = key
	}
}

func WithLogger[T comparable](logger *slog.Logger) Option[T] {
	return func(o *options[T]) {
		o.logger = logger
	}
}

// Handler tracks the selected items of a logical item set.
// Every change follows a two-phase protocol: a vetoable notification with the old and new
// selection, then a commit followed by a plain notification. A vetoed change returns false
// and leaves the selection untouched.
type Handler[T comparable] struct {
	opts      options[T]
	items     ItemsFunc[T]
	selection Selection[T]
	ensuring  bool
}

func New[T comparable](items ItemsFunc[T], opts ...Option[T]) *Handler[T] {
	if items == nil {
		panic("selection items func must be set")
	}
	o := options[T]{
		mode:   Multi,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.mode != Single && o.mode != Multi {
		panic("unknown select mode " + string(o.mode))
	}
	if o.events == nil {
		o.events = event.New()
	}
	if o.key == nil {
		o.key = Identity[T]
	}
	return &Handler[T]{
		opts:      o,
		items:     items,
		selection: Empty[T]{},
	}
}

func (h *Handler[T]) Mode() Mode              { return h.opts.mode }
func (h *Handler[T]) Events() *event.Channel { return h.opts.events }

// Key returns the key the handler identifies item by.
func (h *Handler[T]) Key(item T) any { return h.opts.key(item) }

// Selection returns the current selection after the ensure-state hook ran.
func (h *Handler[T]) Selection(ctx context.Context) (Selection[T], error) {
	if h.opts.ensureState != nil && !h.ensuring {
		h.ensuring = true
		err := h.opts.ensureState(ctx, h)
		h.ensuring = false
		if err != nil {
			return nil, errors.Wrap(err, "ensure selection state")
		}
	}
	return h.selection, nil
}

// Current returns the selection without running the ensure-state hook.
func (h *Handler[T]) Current() Selection[T] {
	return h.selection
}

func (h *Handler[T]) IsSelected(item T) bool {
	return h.selection.Contains(item)
}

// Select selects or deselects one item. In Single mode selecting replaces the prior selection.
func (h *Handler[T]) Select(ctx context.Context, selected bool, item T) (bool, error) {
	return h.SelectItems(ctx, selected, []T{item})
}

// SelectItems selects or deselects several items.
// Selecting more than one item in Single mode is rejected with ErrUnsupportedMode.
func (h *Handler[T]) SelectItems(ctx context.Context, selected bool, items []T) (bool, error) {
	items = lo.UniqBy(items, func(item T) any { return h.opts.key(item) })
	current := h.selection.Items()
	var candidate []T
	switch {
	case !selected:
		candidate = h.without(current, items)
	case h.opts.mode == Single:
		if len(items) > 1 {
			return false, errors.Wrapf(ErrUnsupportedMode, "select %d items in %s mode", len(items), h.opts.mode)
		}
		candidate = items
	default:
		candidate = append(current, h.without(items, current)...)
	}
	return h.change(candidate)
}

// SelectAll selects every item of the item set, or clears the selection.
// Selecting all is only allowed in Multi mode.
func (h *Handler[T]) SelectAll(ctx context.Context, selected bool) (bool, error) {
	if !selected {
		return h.change(nil)
	}
	if h.opts.mode != Multi {
		return false, errors.Wrapf(ErrUnsupportedMode, "select all in %s mode", h.opts.mode)
	}
	all, err := h.items(ctx)
	if err != nil {
		return false, errors.Wrap(err, "load items to select")
	}
	return h.change(all)
}

// Invert selects exactly the items that are not selected.
// In Single mode it is only allowed when at most one item would end up selected.
func (h *Handler[T]) Invert(ctx context.Context) (bool, error) {
	all, err := h.items(ctx)
	if err != nil {
		return false, errors.Wrap(err, "load items to invert")
	}
	candidate := lo.Filter(all, func(item T, _ int) bool {
		return !h.selection.Contains(item)
	})
	if h.opts.mode == Single && len(candidate) > 1 {
		return false, errors.Wrapf(ErrUnsupportedMode, "invert to %d items in %s mode", len(candidate), h.opts.mode)
	}
	return h.change(candidate)
}

// SetSelection replaces the selection.
func (h *Handler[T]) SetSelection(ctx context.Context, sel Selection[T]) (bool, error) {
	if sel == nil {
		sel = Empty[T]{}
	}
	if h.opts.mode == Single && sel.Len() > 1 {
		return false, errors.Wrapf(ErrUnsupportedMode, "set %d items in %s mode", sel.Len(), h.opts.mode)
	}
	return h.change(sel.Items())
}

// ForceClear clears the selection without asking veto listeners.
// It is meant for items that are about to vanish.
func (h *Handler[T]) ForceClear() {
	h.commit(Empty[T]{})
}

// Prune drops selected items that keep rejects, without asking veto listeners.
func (h *Handler[T]) Prune(keep func(item T) bool) {
	if h.selection.IsEmpty() {
		return
	}
	items := h.selection.Items()
	kept := lo.Filter(items, func(item T, _ int) bool { return keep(item) })
	if len(kept) == len(items) {
		return
	}
	h.commit(h.build(kept))
}

func (h *Handler[T]) change(items []T) (bool, error) {
	candidate := h.build(items)
	old := h.selection
	if Equal(old, candidate) {
		return true, nil
	}
	if err := h.opts.events.FireVetoable(&event.Event{Topic: Topic, Old: old, New: candidate}); err != nil {
		if event.IsVeto(err) {
			h.opts.logger.Info("selection change vetoed", "old", old.Len(), "new", candidate.Len(), "reason", err)
			return false, nil
		}
		return false, err
	}
	h.commit(candidate)
	return true, nil
}

func (h *Handler[T]) commit(candidate Selection[T]) {
	old := h.selection
	if Equal(old, candidate) {
		return
	}
	h.selection = candidate
	h.opts.events.Fire(&event.Event{Topic: Topic, Old: old, New: candidate})
}

// without returns the items whose keys are not among the keys of drop.
func (h *Handler[T]) without(items, drop []T) []T {
	keys := lo.SliceToMap(drop, func(item T) (any, struct{}) { return h.opts.key(item), struct{}{} })
	return lo.Reject(items, func(item T, _ int) bool {
		_, ok := keys[h.opts.key(item)]
		return ok
	})
}

func (h *Handler[T]) build(items []T) Selection[T] {
	if len(items) == 0 {
		return Empty[T]{}
	}
	if h.opts.additional == nil {
		return NewItemSetBy(h.opts.key, items...)
	}
	extra, base := lo.FilterReject(items, func(item T, _ int) bool {
		return h.opts.additional(item)
	})
	var baseSel Selection[T] = Empty[T]{}
	if len(base) > 0 {
		baseSel = NewItemSetBy(h.opts.key, base...)
	}
	return &Combined[T]{Base: baseSel, Extra: NewItemSetBy(h.opts.key, extra...)}
}

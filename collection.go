package pageable

import (
	"context"
	"iter"
	"log/slog"
	"slices"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/theplant/pageable/event"
	"github.com/theplant/pageable/filter/memfilter"
	"github.com/theplant/pageable/modification"
	"github.com/theplant/pageable/query"
	"github.com/theplant/pageable/selection"
)

const DefaultPageSize = 20

type options[T comparable] struct {
	pageSize    int
	selectMode  selection.Mode
	registry    *memfilter.Registry
	logger      *slog.Logger
	params      *query.Params
	ensureState selection.EnsureStateFunc[T]
}

type Option[T comparable] func(*options[T])

func WithPageSize[T comparable](pageSize int) Option[T] {
	if pageSize <= 0 {
		panic("pageSize must be greater than 0")
	}
	return func(o *options[T]) {
		o.pageSize = pageSize
	}
}

func WithSelectMode[T comparable](mode selection.Mode) Option[T] {
	return func(o *options[T]) {
		o.selectMode = mode
	}
}

// WithRegistry sets the evaluators used for filtering, memfilter.DefaultRegistry by default.
func WithRegistry[T comparable](registry *memfilter.Registry) Option[T] {
	return func(o *options[T]) {
		o.registry = registry
	}
}

func WithLogger[T comparable](logger *slog.Logger) Option[T] {
	return func(o *options[T]) {
		o.logger = logger
	}
}

// WithParams shares existing query params instead of creating new ones.
func WithParams[T comparable](params *query.Params) Option[T] {
	return func(o *options[T]) {
		o.params = params
	}
}

func WithEnsureSelection[T comparable](fn selection.EnsureStateFunc[T]) Option[T] {
	return func(o *options[T]) {
		o.ensureState = fn
	}
}

// Collection is the in-memory Pageable. It lazily filters and sorts the items of its store
// and keeps the result until the query params change.
type Collection[T comparable] struct {
	store     Store[T]
	params    *query.Params
	evaluator *memfilter.Evaluator
	logger    *slog.Logger
	pageSize  int
	page      int

	view   []T
	cached bool

	selection *selection.Handler[T]
	ledger    *modification.Ledger[T]
}

var _ Pageable[string] = (*Collection[string])(nil)

func New[T comparable](store Store[T], opts ...Option[T]) *Collection[T] {
	if store == nil {
		panic("store must be set")
	}
	o := options[T]{
		pageSize:   DefaultPageSize,
		selectMode: selection.Multi,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.params == nil {
		o.params = query.New()
	}

	c := &Collection[T]{
		store:     store,
		params:    o.params,
		evaluator: memfilter.New(o.registry),
		logger:    o.logger,
		pageSize:  o.pageSize,
		page:      1,
	}

	selOpts := []selection.Option[T]{
		selection.WithMode[T](o.selectMode),
		selection.WithLogger[T](o.logger),
	}
	if o.ensureState != nil {
		selOpts = append(selOpts, selection.WithEnsureState(o.ensureState))
	}
	c.selection = selection.New[T](c.Items, selOpts...)
	c.ledger = modification.New[T](&collectionTarget[T]{c: c}, c.selection, modification.WithLogger(o.logger))

	c.params.OnChange(func(e *event.Event) {
		c.logger.Debug("query params changed", "topic", e.Topic)
		c.ClearCaches()
	})
	return c
}

func (c *Collection[T]) Params() *query.Params                  { return c.params }
func (c *Collection[T]) PageSize() int                          { return c.pageSize }
func (c *Collection[T]) Page() int                              { return c.page }
func (c *Collection[T]) Selection() *selection.Handler[T]       { return c.selection }
func (c *Collection[T]) Modifications() *modification.Ledger[T] { return c.ledger }

func (c *Collection[T]) SetPage(page int) {
	c.page = max(1, page)
}

// ClearCaches drops the computed view. The next read filters and sorts again.
func (c *Collection[T]) ClearCaches() {
	c.view = nil
	c.cached = false
}

func (c *Collection[T]) NumItems(ctx context.Context) (int, error) {
	view, err := c.load(ctx)
	if err != nil {
		return 0, err
	}
	return len(view), nil
}

func (c *Collection[T]) NumPages(ctx context.Context) (int, error) {
	n, err := c.NumItems(ctx)
	if err != nil {
		return 0, err
	}
	return NumPages(n, c.pageSize), nil
}

func (c *Collection[T]) ItemsOnPage(ctx context.Context) ([]T, error) {
	view, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	first, last := PageWindow(c.page, c.pageSize, len(view))
	return ProcessItems(ctx, slices.Clone(view[first:last]))
}

func (c *Collection[T]) Items(ctx context.Context) ([]T, error) {
	view, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	return slices.Clone(view), nil
}

// Iterate returns a sequence over a snapshot of the full view.
func (c *Collection[T]) Iterate(ctx context.Context) (iter.Seq[T], error) {
	items, err := c.Items(ctx)
	if err != nil {
		return nil, err
	}
	return slices.Values(items), nil
}

func (c *Collection[T]) load(ctx context.Context) ([]T, error) {
	if c.cached {
		return c.view, nil
	}

	var view []T
	if c.params.ExecEnabled() {
		items, err := c.store.Load(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "load items")
		}
		expr := c.params.EffectiveFilter()
		view, err = memfilter.Subset(c.evaluator, items, expr)
		if err != nil {
			return nil, errors.Wrap(err, "filter items")
		}
		if err := memfilter.Sort(view, c.params.EffectiveSortOrder()); err != nil {
			return nil, errors.Wrap(err, "sort items")
		}
		c.logger.Debug("computed view", "items", len(items), "matched", len(view), "filter", expr, "order", c.params.EffectiveSortOrder())
	}

	c.view = view
	c.cached = true
	c.page = ClampPage(c.page, c.pageSize, len(view))
	c.pruneSelection()
	return c.view, nil
}

func (c *Collection[T]) pruneSelection() {
	if c.selection.Current().IsEmpty() {
		return
	}
	visible := lo.Keyify(c.view)
	c.selection.Prune(func(item T) bool {
		_, ok := visible[item]
		return ok
	})
}

// collectionTarget applies ledger changes to the store and patches the cached view in place.
type collectionTarget[T comparable] struct {
	c *Collection[T]
}

func (t *collectionTarget[T]) Mutable() bool {
	return t.c.store.Mutable()
}

func (t *collectionTarget[T]) Append(ctx context.Context, item T) error {
	if t.c.cached && lo.Contains(t.c.view, item) {
		return errors.Wrapf(ErrDuplicateItem, "append %v", item)
	}
	if err := t.c.store.Append(ctx, item); err != nil {
		return err
	}
	if t.c.cached {
		t.c.view = append(t.c.view, item)
	}
	return nil
}

func (t *collectionTarget[T]) Remove(ctx context.Context, items []T) error {
	if err := t.c.store.Remove(ctx, items); err != nil {
		return err
	}
	if t.c.cached {
		t.c.view = lo.Without(t.c.view, items...)
		t.c.page = ClampPage(t.c.page, t.c.pageSize, len(t.c.view))
	}
	return nil
}

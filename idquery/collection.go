package idquery

import (
	"context"
	"iter"
	"log/slog"
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/theplant/pageable"
	"github.com/theplant/pageable/event"
	"github.com/theplant/pageable/internal/hook"
	"github.com/theplant/pageable/modification"
	"github.com/theplant/pageable/query"
	"github.com/theplant/pageable/selection"
)

// CountStrategy decides how a Collection learns the number of remote items.
type CountStrategy string

const (
	// SingleQuery fetches every matching id once. The count is the length of the id list
	// and pages are windows of it, so no extra round trip is needed per page.
	SingleQuery CountStrategy = "SINGLE_QUERY"
	// ExtraCountQuery asks the Counter for the count and fetches ids page by page.
	// The count is a hint: the remote set may change between the two calls.
	ExtraCountQuery CountStrategy = "EXTRA_COUNT_QUERY"
)

type options[ID comparable, T comparable] struct {
	pageSize    int
	strategy    CountStrategy
	selectMode  selection.Mode
	ensureState selection.EnsureStateFunc[T]
	params      *query.Params
	logger      *slog.Logger
	hooks       []Hook[ID, T]
	cacheSize   int
	maxResults  int
}

type Option[ID comparable, T comparable] func(*options[ID, T])

func WithPageSize[ID comparable, T comparable](pageSize int) Option[ID, T] {
	if pageSize <= 0 {
		panic("pageSize must be greater than 0")
	}
	return func(o *options[ID, T]) {
		o.pageSize = pageSize
	}
}

// WithCountStrategy overrides the default, which is ExtraCountQuery for services that
// implement Counter and SingleQuery otherwise.
func WithCountStrategy[ID comparable, T comparable](strategy CountStrategy) Option[ID, T] {
	return func(o *options[ID, T]) {
		o.strategy = strategy
	}
}

func WithSelectMode[ID comparable, T comparable](mode selection.Mode) Option[ID, T] {
	return func(o *options[ID, T]) {
		o.selectMode = mode
	}
}

func WithEnsureSelection[ID comparable, T comparable](fn selection.EnsureStateFunc[T]) Option[ID, T] {
	return func(o *options[ID, T]) {
		o.ensureState = fn
	}
}

func WithParams[ID comparable, T comparable](params *query.Params) Option[ID, T] {
	return func(o *options[ID, T]) {
		o.params = params
	}
}

func WithLogger[ID comparable, T comparable](logger *slog.Logger) Option[ID, T] {
	return func(o *options[ID, T]) {
		o.logger = logger
	}
}

// WithHooks wraps the service. The first hook is the outermost one.
func WithHooks[ID comparable, T comparable](hooks ...Hook[ID, T]) Option[ID, T] {
	return func(o *options[ID, T]) {
		o.hooks = append(o.hooks, hooks...)
	}
}

// WithItemCache keeps up to size hydrated items by id, see Cache.
func WithItemCache[ID comparable, T comparable](size int) Option[ID, T] {
	if size <= 0 {
		panic("cache size must be greater than 0")
	}
	return func(o *options[ID, T]) {
		o.cacheSize = size
	}
}

// WithMaxResults guards the service with EnforceMaxResults.
func WithMaxResults[ID comparable, T comparable](maxResults int) Option[ID, T] {
	if maxResults <= 0 {
		panic("maxResults must be greater than 0")
	}
	return func(o *options[ID, T]) {
		o.maxResults = maxResults
	}
}

// Collection is the Pageable over a remote Service. It loads ids first and hydrates only
// the items of the requested page. Items added through the modification ledger are kept
// locally after the remote items until Commit.
//
// Selection and ledger identify remote items by id, so copies hydrated by different
// calls are the same item. Once the ids are invalidated, the next read drops selected
// remote items that left the result.
type Collection[ID comparable, T comparable] struct {
	svc      *ServiceFuncs[ID, T]
	idOf     func(item T) ID
	params   *query.Params
	strategy CountStrategy
	logger   *slog.Logger
	pageSize int
	page     int

	counted     bool
	remoteCount int
	allIDs      []ID
	allLoaded   bool
	pageIDs     []ID
	pageIDsFrom int
	pageLoaded  bool

	pending []T

	selectionStale bool

	selection *selection.Handler[T]
	ledger    *modification.Ledger[T]
}

var _ pageable.Pageable[string] = (*Collection[int, string])(nil)

func New[ID comparable, T comparable](svc Service[ID, T], idOf func(item T) ID, opts ...Option[ID, T]) *Collection[ID, T] {
	if idOf == nil {
		panic("idOf must be set")
	}
	funcs := FuncsOf(svc)

	o := options[ID, T]{
		pageSize:   pageable.DefaultPageSize,
		selectMode: selection.Multi,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.params == nil {
		o.params = query.New()
	}
	if o.strategy == "" {
		o.strategy = lo.Ternary(funcs.CountItems != nil, ExtraCountQuery, SingleQuery)
	}
	if o.strategy != SingleQuery && o.strategy != ExtraCountQuery {
		panic("unknown count strategy " + string(o.strategy))
	}

	hooks := slices.Clone(o.hooks)
	if o.maxResults > 0 {
		hooks = append(hooks, EnforceMaxResults[ID, T](o.maxResults))
	}
	if o.cacheSize > 0 {
		cache, err := lru.New[ID, T](o.cacheSize)
		if err != nil {
			panic(err)
		}
		hooks = append(hooks, Cache(cache, idOf))
	}
	if h := hook.Chain(hooks...); h != nil {
		funcs = h(funcs)
	}

	c := &Collection[ID, T]{
		svc:      funcs,
		idOf:     idOf,
		params:   o.params,
		strategy: o.strategy,
		logger:   o.logger,
		pageSize: o.pageSize,
		page:     1,

		selectionStale: true,
	}

	ensureState := o.ensureState
	c.selection = selection.New[T](c.Items,
		selection.WithMode[T](o.selectMode),
		selection.WithLogger[T](o.logger),
		selection.WithAdditional(c.isPending),
		selection.WithKey[T](c.itemKey),
		selection.WithEnsureState[T](func(ctx context.Context, h *selection.Handler[T]) error {
			if err := c.pruneSelection(ctx); err != nil {
				return err
			}
			if ensureState != nil {
				return ensureState(ctx, h)
			}
			return nil
		}),
	)
	c.ledger = modification.New[T](&remoteTarget[ID, T]{c: c}, c.selection, modification.WithLogger(o.logger))

	c.params.OnChange(func(e *event.Event) {
		c.logger.Debug("query params changed", "topic", e.Topic)
		c.ClearCaches()
	})
	return c
}

func (c *Collection[ID, T]) Params() *query.Params                  { return c.params }
func (c *Collection[ID, T]) PageSize() int                          { return c.pageSize }
func (c *Collection[ID, T]) Page() int                              { return c.page }
func (c *Collection[ID, T]) Strategy() CountStrategy                { return c.strategy }
func (c *Collection[ID, T]) Selection() *selection.Handler[T]       { return c.selection }
func (c *Collection[ID, T]) Modifications() *modification.Ledger[T] { return c.ledger }

func (c *Collection[ID, T]) SetPage(page int) {
	c.page = max(1, page)
}

// ClearCaches forgets the count and the id lists. Hydrated items in an item cache stay.
func (c *Collection[ID, T]) ClearCaches() {
	c.counted = false
	c.remoteCount = 0
	c.allIDs = nil
	c.allLoaded = false
	c.pageIDs = nil
	c.pageLoaded = false
	c.selectionStale = true
}

// Commit is called once the local modifications were persisted remotely. It clears the
// ledger, the pending items and the selection, and reloads from the service on the next read.
func (c *Collection[ID, T]) Commit() {
	c.ledger.Clear()
	c.pending = nil
	c.selection.ForceClear()
	c.ClearCaches()
}

func (c *Collection[ID, T]) isPending(item T) bool {
	return lo.Contains(c.pending, item)
}

type pendingKey[T comparable] struct {
	item T
}

func (c *Collection[ID, T]) itemKey(item T) any {
	if c.isPending(item) {
		return pendingKey[T]{item: item}
	}
	return c.idOf(item)
}

// pruneSelection drops selected remote items whose ids are not in the result any more.
// Pending adds stay selected. It only queries the service after the ids were invalidated.
func (c *Collection[ID, T]) pruneSelection(ctx context.Context) error {
	if !c.selectionStale {
		return nil
	}
	if c.selection.Current().IsEmpty() {
		c.selectionStale = false
		return nil
	}
	var ids []ID
	if c.params.ExecEnabled() {
		var err error
		ids, err = c.loadAllIDs(ctx)
		switch {
		case errors.Is(err, ErrMaxResults):
			c.logger.Info("deselecting remote items that cannot be verified", "reason", err)
		case err != nil:
			return errors.Wrap(err, "verify selection")
		}
	}
	visible := lo.Keyify(ids)
	c.selection.Prune(func(item T) bool {
		if c.isPending(item) {
			return true
		}
		_, ok := visible[c.idOf(item)]
		return ok
	})
	c.selectionStale = false
	return nil
}

func (c *Collection[ID, T]) NumItems(ctx context.Context) (int, error) {
	if !c.params.ExecEnabled() {
		if err := c.pruneSelection(ctx); err != nil {
			return 0, err
		}
		return 0, nil
	}
	n, err := c.count(ctx)
	if err != nil {
		return 0, err
	}
	if err := c.pruneSelection(ctx); err != nil {
		return 0, err
	}
	return n + len(c.pending), nil
}

func (c *Collection[ID, T]) NumPages(ctx context.Context) (int, error) {
	n, err := c.NumItems(ctx)
	if err != nil {
		return 0, err
	}
	return pageable.NumPages(n, c.pageSize), nil
}

func (c *Collection[ID, T]) ItemsOnPage(ctx context.Context) ([]T, error) {
	n, err := c.NumItems(ctx)
	if err != nil {
		return nil, err
	}
	first, last := pageable.PageWindow(c.page, c.pageSize, n)
	if first == last {
		return []T{}, nil
	}

	items := make([]T, 0, last-first)
	remote := c.remoteCount
	if first < remote {
		ids, err := c.loadPageIDs(ctx, first, min(last, remote))
		if err != nil {
			return nil, err
		}
		hydrated, err := c.hydrate(ctx, ids)
		if err != nil {
			return nil, err
		}
		items = append(items, hydrated...)
	}
	if last > remote {
		items = append(items, c.pending[max(first, remote)-remote:last-remote]...)
	}
	return pageable.ProcessItems(ctx, items)
}

// Items hydrates the full view. It scans every remote id, see EnforceMaxResults.
func (c *Collection[ID, T]) Items(ctx context.Context) ([]T, error) {
	if !c.params.ExecEnabled() {
		if err := c.pruneSelection(ctx); err != nil {
			return nil, err
		}
		return []T{}, nil
	}
	ids, err := c.loadAllIDs(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.pruneSelection(ctx); err != nil {
		return nil, err
	}
	items, err := c.hydrate(ctx, ids)
	if err != nil {
		return nil, err
	}
	return append(items, c.pending...), nil
}

func (c *Collection[ID, T]) Iterate(ctx context.Context) (iter.Seq[T], error) {
	items, err := c.Items(ctx)
	if err != nil {
		return nil, err
	}
	return slices.Values(items), nil
}

func (c *Collection[ID, T]) count(ctx context.Context) (int, error) {
	if c.counted {
		return c.remoteCount, nil
	}
	var count int
	switch c.strategy {
	case SingleQuery:
		ids, err := c.loadAllIDs(ctx)
		if err != nil {
			return 0, err
		}
		count = len(ids)
	case ExtraCountQuery:
		if c.svc.CountItems == nil {
			return 0, errors.WithStack(ErrCountNotSupported)
		}
		var err error
		count, err = c.svc.CountItems(ctx, c.params)
		if err != nil {
			return 0, errors.Wrap(err, "count items")
		}
	}
	c.remoteCount = count
	c.counted = true
	c.page = pageable.ClampPage(c.page, c.pageSize, count+len(c.pending))
	c.logger.Debug("counted remote items", "strategy", c.strategy, "count", count)
	return count, nil
}

func (c *Collection[ID, T]) loadAllIDs(ctx context.Context) ([]ID, error) {
	if c.allLoaded {
		return c.allIDs, nil
	}
	ids, err := c.svc.FindIDs(ctx, c.params, 0, Unlimited)
	if err != nil {
		return nil, errors.Wrap(err, "find ids")
	}
	c.allIDs = ids
	c.allLoaded = true
	return ids, nil
}

func (c *Collection[ID, T]) loadPageIDs(ctx context.Context, first, last int) ([]ID, error) {
	if c.pageLoaded && c.pageIDsFrom == first && len(c.pageIDs) >= last-first {
		return c.pageIDs[:last-first], nil
	}
	var ids []ID
	if c.strategy == SingleQuery {
		all, err := c.loadAllIDs(ctx)
		if err != nil {
			return nil, err
		}
		ids = all[min(first, len(all)):min(last, len(all))]
	} else {
		var err error
		ids, err = c.svc.FindIDs(ctx, c.params, first, last-first)
		if err != nil {
			return nil, errors.Wrap(err, "find ids")
		}
	}
	c.pageIDs = ids
	c.pageIDsFrom = first
	c.pageLoaded = true
	return ids, nil
}

// hydrate returns the items of ids in id order, skipping ids the service did not return.
func (c *Collection[ID, T]) hydrate(ctx context.Context, ids []ID) ([]T, error) {
	if len(ids) == 0 {
		return []T{}, nil
	}
	fetched, err := c.svc.GetItems(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get items")
	}
	byID := lo.KeyBy(fetched, c.idOf)
	items := make([]T, 0, len(ids))
	for _, id := range ids {
		if item, ok := byID[id]; ok {
			items = append(items, item)
		}
	}
	return items, nil
}

func (c *Collection[ID, T]) isLoaded(id ID) bool {
	return lo.Contains(c.allIDs, id) || lo.Contains(c.pageIDs, id)
}

// remoteTarget keeps pending adds locally and forwards removals of remote items.
type remoteTarget[ID comparable, T comparable] struct {
	c *Collection[ID, T]
}

func (t *remoteTarget[ID, T]) Mutable() bool { return true }

func (t *remoteTarget[ID, T]) Append(_ context.Context, item T) error {
	if t.c.isPending(item) || t.c.isLoaded(t.c.idOf(item)) {
		return errors.Wrapf(pageable.ErrDuplicateItem, "append %v", item)
	}
	t.c.pending = append(t.c.pending, item)
	return nil
}

func (t *remoteTarget[ID, T]) Remove(ctx context.Context, items []T) error {
	pending, remote := lo.FilterReject(items, func(item T, _ int) bool {
		return t.c.isPending(item)
	})
	if len(remote) > 0 {
		if t.c.svc.RemoveItems == nil {
			return errors.Wrapf(ErrImmutableStore, "remove %d remote items", len(remote))
		}
		ids := lo.Map(remote, func(item T, _ int) ID { return t.c.idOf(item) })
		if err := t.c.svc.RemoveItems(ctx, ids); err != nil {
			return err
		}
		t.c.ClearCaches()
	}
	t.c.pending = lo.Without(t.c.pending, pending...)
	if t.c.counted {
		t.c.page = pageable.ClampPage(t.c.page, t.c.pageSize, t.c.remoteCount+len(t.c.pending))
	}
	return nil
}

// ErrImmutableStore is returned when removing remote items from a service without Remover.
var ErrImmutableStore = pageable.ErrImmutableStore

package idquery_test

import (
	"bytes"
	"context"
	"log/slog"
	"slices"
	"testing"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"

	"github.com/theplant/pageable"
	"github.com/theplant/pageable/attr"
	"github.com/theplant/pageable/filter"
	"github.com/theplant/pageable/filter/memfilter"
	"github.com/theplant/pageable/idquery"
	"github.com/theplant/pageable/order"
	"github.com/theplant/pageable/query"
)

type Product struct {
	ID   int
	Name string
}

var nameAttr = attr.New("Name", attr.TypeString, func(p Product) any { return p.Name })

func productID(p Product) int { return p.ID }

type findCall struct {
	start, pageSize int
}

// remote is an in-memory service that records every call.
type remote struct {
	items   []Product
	finds   []findCall
	gets    [][]int
	counts  int
	removes [][]int
	err     error
}

func newRemote(names ...string) *remote {
	r := &remote{}
	for i, name := range names {
		r.items = append(r.items, Product{ID: i + 1, Name: name})
	}
	return r
}

func (r *remote) matching(params *query.Params) ([]Product, error) {
	matched, err := memfilter.Subset(memfilter.New(nil), r.items, params.EffectiveFilter())
	if err != nil {
		return nil, err
	}
	if err := memfilter.Sort(matched, params.EffectiveSortOrder()); err != nil {
		return nil, err
	}
	return matched, nil
}

func (r *remote) FindIDs(ctx context.Context, params *query.Params, start, pageSize int) ([]int, error) {
	r.finds = append(r.finds, findCall{start, pageSize})
	if r.err != nil {
		return nil, r.err
	}
	matched, err := r.matching(params)
	if err != nil {
		return nil, err
	}
	ids := lo.Map(matched, func(p Product, _ int) int { return p.ID })
	if pageSize == idquery.Unlimited {
		return lo.Slice(ids, start, len(ids)), nil
	}
	return lo.Slice(ids, start, start+pageSize), nil
}

func (r *remote) GetItems(ctx context.Context, ids []int) ([]Product, error) {
	r.gets = append(r.gets, slices.Clone(ids))
	if r.err != nil {
		return nil, r.err
	}
	// reversed on purpose, the collection restores id order
	found := lo.Filter(r.items, func(p Product, _ int) bool { return lo.Contains(ids, p.ID) })
	slices.Reverse(found)
	return found, nil
}

func (r *remote) CountItems(ctx context.Context, params *query.Params) (int, error) {
	r.counts++
	if r.err != nil {
		return 0, r.err
	}
	matched, err := r.matching(params)
	return len(matched), err
}

func (r *remote) RemoveItems(ctx context.Context, ids []int) error {
	r.removes = append(r.removes, slices.Clone(ids))
	r.items = lo.Filter(r.items, func(p Product, _ int) bool { return !lo.Contains(ids, p.ID) })
	return nil
}

// findOnly hides CountItems and RemoveItems.
type findOnly struct {
	r *remote
}

func (f findOnly) FindIDs(ctx context.Context, params *query.Params, start, pageSize int) ([]int, error) {
	return f.r.FindIDs(ctx, params, start, pageSize)
}

func (f findOnly) GetItems(ctx context.Context, ids []int) ([]Product, error) {
	return f.r.GetItems(ctx, ids)
}

func names(items []Product) []string {
	return lo.Map(items, func(p Product, _ int) string { return p.Name })
}

var fruits = []string{"apple", "banana", "blueberry", "cherry", "date"}

func TestDefaultStrategy(t *testing.T) {
	r := newRemote(fruits...)
	require.Equal(t, idquery.ExtraCountQuery, idquery.New[int, Product](r, productID).Strategy())
	require.Equal(t, idquery.SingleQuery, idquery.New[int, Product](findOnly{r}, productID).Strategy())
	require.Panics(t, func() {
		idquery.New[int, Product](r, productID, idquery.WithCountStrategy[int, Product]("BOGUS"))
	})
	require.Panics(t, func() { idquery.New[int, Product](r, nil) })
}

func TestExtraCountQueryPaging(t *testing.T) {
	ctx := context.Background()
	r := newRemote(fruits...)
	c := idquery.New[int, Product](r, productID, idquery.WithPageSize[int, Product](2))

	n, err := c.NumItems(ctx)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	pages, err := c.NumPages(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, pages)
	require.Equal(t, 1, r.counts)

	items, err := c.ItemsOnPage(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"apple", "banana"}, names(items))

	c.SetPage(3)
	items, err = c.ItemsOnPage(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"date"}, names(items))
	require.Equal(t, []findCall{{0, 2}, {4, 1}}, r.finds)
	require.Equal(t, [][]int{{1, 2}, {5}}, r.gets)

	// the page ids are cached
	_, err = c.ItemsOnPage(ctx)
	require.NoError(t, err)
	require.Len(t, r.finds, 2)
	require.Equal(t, 1, r.counts)

	c.SetPage(4)
	items, err = c.ItemsOnPage(ctx)
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestSingleQueryPaging(t *testing.T) {
	ctx := context.Background()
	r := newRemote(fruits...)
	c := idquery.New[int, Product](findOnly{r}, productID, idquery.WithPageSize[int, Product](2))

	var all []string
	for page := 1; page <= 3; page++ {
		c.SetPage(page)
		items, err := c.ItemsOnPage(ctx)
		require.NoError(t, err)
		all = append(all, names(items)...)
	}
	require.Equal(t, fruits, all)
	require.Equal(t, []findCall{{0, idquery.Unlimited}}, r.finds)

	items, err := c.Items(ctx)
	require.NoError(t, err)
	require.Equal(t, fruits, names(items))
	require.Len(t, r.finds, 1)
}

func TestExtraCountQueryWithoutCounter(t *testing.T) {
	ctx := context.Background()
	c := idquery.New[int, Product](findOnly{newRemote(fruits...)}, productID,
		idquery.WithCountStrategy[int, Product](idquery.ExtraCountQuery))

	_, err := c.NumItems(ctx)
	require.ErrorIs(t, err, idquery.ErrCountNotSupported)
}

func TestParamsAreForwardedAndInvalidateCaches(t *testing.T) {
	ctx := context.Background()
	r := newRemote(fruits...)
	c := idquery.New[int, Product](r, productID)

	_, err := c.ItemsOnPage(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, r.counts)

	c.Params().SetFilter(filter.NewCompare(nameAttr, filter.StartsWith, "b"))
	c.Params().SetSortOrder(order.By(order.Desc(nameAttr)))
	items, err := c.ItemsOnPage(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"blueberry", "banana"}, names(items))
	require.Equal(t, 2, r.counts)

	c.Params().SetBaseParam("tenant", "acme")
	_, err = c.NumItems(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, r.counts)

	// setting an equal base param does not refetch
	c.Params().SetBaseParam("tenant", "acme")
	_, err = c.NumItems(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, r.counts)
}

func TestServiceErrorsPropagate(t *testing.T) {
	ctx := context.Background()
	r := newRemote(fruits...)
	r.err = errors.New("unavailable")
	c := idquery.New[int, Product](r, productID)

	_, err := c.NumItems(ctx)
	require.ErrorContains(t, err, "count items: unavailable")

	c = idquery.New[int, Product](findOnly{r}, productID)
	_, err = c.Items(ctx)
	require.ErrorContains(t, err, "find ids: unavailable")
}

func TestMaxResults(t *testing.T) {
	ctx := context.Background()

	testCases := []struct {
		name     string
		svc      idquery.Service[int, Product]
		expected int
	}{
		{"extra count query", newRemote(fruits...), 5},
		{"single query", findOnly{newRemote(fruits...)}, -1},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := idquery.New(tc.svc, productID, idquery.WithMaxResults[int, Product](3))

			_, err := c.NumItems(ctx)
			require.ErrorIs(t, err, idquery.ErrMaxResults)
			var violation *idquery.MaxResultsViolationError
			require.True(t, errors.As(err, &violation))
			require.Equal(t, 3, violation.Max)
			require.Equal(t, tc.expected, violation.Count)

			c.Params().SetFilter(filter.NewCompare(nameAttr, filter.StartsWith, "b"))
			n, err := c.NumItems(ctx)
			require.NoError(t, err)
			require.Equal(t, 2, n)
		})
	}
}

func TestItemCache(t *testing.T) {
	ctx := context.Background()
	r := newRemote(fruits...)
	c := idquery.New[int, Product](r, productID,
		idquery.WithPageSize[int, Product](2),
		idquery.WithItemCache[int, Product](10),
	)

	_, err := c.ItemsOnPage(ctx)
	require.NoError(t, err)
	c.ClearCaches()
	items, err := c.ItemsOnPage(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"apple", "banana"}, names(items))
	require.Len(t, r.gets, 1)

	items, err = c.Items(ctx)
	require.NoError(t, err)
	require.Equal(t, fruits, names(items))
	require.Equal(t, [][]int{{1, 2}, {3, 4, 5}}, r.gets)
}

func TestPendingAddsFollowRemoteItems(t *testing.T) {
	ctx := context.Background()
	r := newRemote(fruits...)
	c := idquery.New[int, Product](r, productID, idquery.WithPageSize[int, Product](2))
	fig := Product{ID: 100, Name: "fig"}

	ok, err := c.Modifications().AddItem(ctx, fig)
	require.NoError(t, err)
	require.True(t, ok)

	n, err := c.NumItems(ctx)
	require.NoError(t, err)
	require.Equal(t, 6, n)

	c.SetPage(3)
	items, err := c.ItemsOnPage(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"date", "fig"}, names(items))

	all, err := c.Items(ctx)
	require.NoError(t, err)
	require.Equal(t, append(slices.Clone(fruits), "fig"), names(all))

	_, err = c.Selection().SelectItems(ctx, true, []Product{fig, r.items[0]})
	require.NoError(t, err)
	current := c.Selection().Current()
	require.Equal(t, 2, current.Len())
	require.True(t, current.Contains(fig))
	require.Equal(t, []string{"apple", "fig"}, names(current.Items()))

	ok, err = c.Modifications().RemoveSelectedItems(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, [][]int{{1}}, r.removes)
	require.Empty(t, c.Modifications().Added())
	require.True(t, c.Modifications().IsRemoved(Product{ID: 1, Name: "apple"}))

	n, err = c.NumItems(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, 2, c.Page())
}

func TestRemoveWithoutRemover(t *testing.T) {
	ctx := context.Background()
	r := newRemote(fruits...)
	c := idquery.New[int, Product](findOnly{r}, productID)

	_, err := c.Selection().Select(ctx, true, r.items[0])
	require.NoError(t, err)
	_, err = c.Modifications().RemoveSelectedItems(ctx)
	require.ErrorIs(t, err, pageable.ErrImmutableStore)
	require.Equal(t, 1, c.Selection().Current().Len())

	// pending adds can still be dropped
	fig := Product{ID: 100, Name: "fig"}
	_, err = c.Modifications().AddItem(ctx, fig)
	require.NoError(t, err)
	_, err = c.Selection().SetSelection(ctx, nil)
	require.NoError(t, err)
	_, err = c.Selection().Select(ctx, true, fig)
	require.NoError(t, err)
	ok, err := c.Modifications().RemoveSelectedItems(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	n, err := c.NumItems(ctx)
	require.NoError(t, err)
	require.Equal(t, 5, n)
}

func TestRemoteExecDisabled(t *testing.T) {
	ctx := context.Background()
	r := newRemote(fruits...)
	c := idquery.New[int, Product](r, productID)
	_, err := c.Modifications().AddItem(ctx, Product{ID: 100, Name: "fig"})
	require.NoError(t, err)

	c.Params().SetExecEnabled(false)
	n, err := c.NumItems(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)
	items, err := c.ItemsOnPage(ctx)
	require.NoError(t, err)
	require.Empty(t, items)
	items, err = c.Items(ctx)
	require.NoError(t, err)
	require.Empty(t, items)
	require.Empty(t, r.finds)
	require.Zero(t, r.counts)
}

func TestCommit(t *testing.T) {
	ctx := context.Background()
	r := newRemote(fruits...)
	c := idquery.New[int, Product](r, productID)
	fig := Product{ID: 6, Name: "fig"}
	_, err := c.Modifications().AddItem(ctx, fig)
	require.NoError(t, err)
	_, err = c.Selection().Select(ctx, true, fig)
	require.NoError(t, err)

	// the add is persisted remotely
	r.items = append(r.items, fig)
	c.Commit()

	require.True(t, c.Modifications().Modifications().IsEmpty())
	require.True(t, c.Selection().Current().IsEmpty())
	n, err := c.NumItems(ctx)
	require.NoError(t, err)
	require.Equal(t, 6, n)
	require.Equal(t, 1, r.counts)
}

func TestComplexityAndLoggingHooks(t *testing.T) {
	ctx := context.Background()
	r := newRemote(fruits...)
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	c := idquery.New[int, Product](r, productID,
		idquery.WithLogger[int, Product](logger),
		idquery.WithHooks(
			idquery.Logging[int, Product](logger),
			idquery.CheckComplexity[int, Product](filter.StrictLimits),
		),
	)

	_, err := c.ItemsOnPage(ctx)
	require.NoError(t, err)
	require.Contains(t, buf.String(), "op=CountItems")
	require.Contains(t, buf.String(), "op=FindIDs")
	require.Contains(t, buf.String(), "op=GetItems")

	c.Params().SetFilter(filter.Or{
		filter.NewCompare(nameAttr, filter.Eq, "apple"),
		filter.NewCompare(nameAttr, filter.Eq, "banana"),
		filter.NewCompare(nameAttr, filter.Eq, "cherry"),
	})
	_, err = c.NumItems(ctx)
	require.ErrorContains(t, err, "Or branches 3 exceeds limit 2")
	require.Contains(t, buf.String(), "remote call failed")
	require.Equal(t, 1, r.counts)
}

// copies hydrates fresh pointers on every call, the way a database driver does.
type copies struct {
	r *remote
}

func (c copies) FindIDs(ctx context.Context, params *query.Params, start, pageSize int) ([]int, error) {
	return c.r.FindIDs(ctx, params, start, pageSize)
}

func (c copies) GetItems(ctx context.Context, ids []int) ([]*Product, error) {
	items, err := c.r.GetItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	return lo.Map(items, func(p Product, _ int) *Product { return &p }), nil
}

func (c copies) CountItems(ctx context.Context, params *query.Params) (int, error) {
	return c.r.CountItems(ctx, params)
}

func (c copies) RemoveItems(ctx context.Context, ids []int) error {
	return c.r.RemoveItems(ctx, ids)
}

func productPtrID(p *Product) int { return p.ID }

func ptrNames(items []*Product) []string {
	return lo.Map(items, func(p *Product, _ int) string { return p.Name })
}

func TestSelectionSurvivesRehydration(t *testing.T) {
	ctx := context.Background()
	r := newRemote(fruits...)
	c := idquery.New[int, *Product](copies{r}, productPtrID, idquery.WithPageSize[int, *Product](2))

	ok, err := c.Selection().SelectAll(ctx, true)
	require.NoError(t, err)
	require.True(t, ok)

	page, err := c.ItemsOnPage(ctx)
	require.NoError(t, err)
	require.True(t, c.Selection().IsSelected(page[0]))

	ok, err = c.Selection().Select(ctx, false, page[0])
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 4, c.Selection().Current().Len())
	require.False(t, c.Selection().IsSelected(page[0]))

	c.SetPage(2)
	page, err = c.ItemsOnPage(ctx)
	require.NoError(t, err)
	require.True(t, c.Selection().IsSelected(page[0]))

	ok, err = c.Selection().Invert(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []string{"apple"}, ptrNames(c.Selection().Current().Items()))

	// a hydrated copy of a loaded item is not a new item
	_, err = c.Modifications().AddItem(ctx, page[0])
	require.ErrorIs(t, err, pageable.ErrDuplicateItem)
	require.Empty(t, c.Modifications().Added())
}

func TestFilteredOutSelectionIsPruned(t *testing.T) {
	ctx := context.Background()
	startsWithB := filter.NewCompare(nameAttr, filter.StartsWith, "b")

	t.Run("on the next read", func(t *testing.T) {
		r := newRemote(fruits...)
		c := idquery.New[int, *Product](copies{r}, productPtrID)
		page, err := c.ItemsOnPage(ctx)
		require.NoError(t, err)
		_, err = c.Selection().SelectItems(ctx, true, page[:2])
		require.NoError(t, err)

		c.Params().SetFilter(startsWithB)
		page, err = c.ItemsOnPage(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{"banana", "blueberry"}, ptrNames(page))
		require.Equal(t, []string{"banana"}, ptrNames(c.Selection().Current().Items()))

		ok, err := c.Modifications().RemoveSelectedItems(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, [][]int{{2}}, r.removes)
		require.True(t, c.Modifications().IsRemoved(&Product{ID: 2}))
	})

	t.Run("before removing", func(t *testing.T) {
		r := newRemote(fruits...)
		c := idquery.New[int, *Product](copies{r}, productPtrID)
		page, err := c.ItemsOnPage(ctx)
		require.NoError(t, err)
		_, err = c.Selection().Select(ctx, true, page[0])
		require.NoError(t, err)

		c.Params().SetFilter(startsWithB)
		ok, err := c.Modifications().RemoveSelectedItems(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		require.Empty(t, r.removes)
		require.True(t, c.Selection().Current().IsEmpty())
	})

	t.Run("pending adds stay selected", func(t *testing.T) {
		r := newRemote(fruits...)
		c := idquery.New[int, *Product](copies{r}, productPtrID)
		fig := &Product{ID: 100, Name: "fig"}
		_, err := c.Modifications().AddItem(ctx, fig)
		require.NoError(t, err)
		page, err := c.ItemsOnPage(ctx)
		require.NoError(t, err)
		_, err = c.Selection().SelectItems(ctx, true, []*Product{page[0], fig})
		require.NoError(t, err)

		c.Params().SetExecEnabled(false)
		_, err = c.NumItems(ctx)
		require.NoError(t, err)
		require.Equal(t, []*Product{fig}, c.Selection().Current().Items())
	})

	t.Run("result too large to verify", func(t *testing.T) {
		r := newRemote(fruits...)
		c := idquery.New[int, *Product](copies{r}, productPtrID, idquery.WithMaxResults[int, *Product](3))
		c.Params().SetFilter(startsWithB)
		page, err := c.ItemsOnPage(ctx)
		require.NoError(t, err)
		_, err = c.Selection().Select(ctx, true, page[0])
		require.NoError(t, err)

		c.Params().SetFilter(nil)
		ok, err := c.Modifications().RemoveSelectedItems(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		require.Empty(t, r.removes)
		require.True(t, c.Selection().Current().IsEmpty())
	})
}

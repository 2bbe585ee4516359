package pageable_test

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/theplant/pageable"
	"github.com/theplant/pageable/attr"
	"github.com/theplant/pageable/event"
	"github.com/theplant/pageable/filter"
	"github.com/theplant/pageable/modification"
	"github.com/theplant/pageable/order"
)

var nameAttr = attr.New("Name", attr.TypeString, func(s string) any { return s })

var letters = []string{"a", "b", "c", "d", "e", "f"}

func newCollection(items ...string) *pageable.Collection[string] {
	return pageable.New[string](pageable.NewSliceStore(items...), pageable.WithPageSize[string](2))
}

func TestScenarioPaging(t *testing.T) {
	ctx := context.Background()
	c := newCollection(letters...)

	items, err := c.ItemsOnPage(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, items)

	c.SetPage(3)
	items, err = c.ItemsOnPage(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"e", "f"}, items)

	c.SetPage(4)
	items, err = c.ItemsOnPage(ctx)
	require.NoError(t, err)
	require.Empty(t, items)

	pages, err := c.NumPages(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, pages)
}

func TestScenarioFilter(t *testing.T) {
	ctx := context.Background()
	c := newCollection(letters...)

	c.Params().SetFilter(filter.NewCompare(nameAttr, filter.StartsWith, "b"))
	items, err := c.Items(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, items)

	c.Params().SetFilter(nil)
	items, err = c.Items(ctx)
	require.NoError(t, err)
	require.Equal(t, letters, items)
}

func TestScenarioSort(t *testing.T) {
	ctx := context.Background()
	c := newCollection("c", "a", "f", "b", "e", "d")

	byName := order.By(order.Asc(nameAttr))
	c.Params().SetSortOrder(byName)
	items, err := c.Items(ctx)
	require.NoError(t, err)
	require.Equal(t, letters, items)

	c.Params().SetSortOrder(byName.Reverse())
	items, err = c.Items(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"f", "e", "d", "c", "b", "a"}, items)

	c.Params().SetSortOrder(nil)
	items, err = c.Items(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"c", "a", "f", "b", "e", "d"}, items)

	c.Params().SetDefaultSortOrder(byName)
	seq, err := c.Iterate(ctx)
	require.NoError(t, err)
	require.Equal(t, letters, slices.Collect(seq))
}

func TestScenarioSelection(t *testing.T) {
	ctx := context.Background()
	c := newCollection(letters...)
	sel := c.Selection()

	ok, err := sel.SelectAll(ctx, true)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 6, sel.Current().Len())

	_, err = sel.Select(ctx, false, "d")
	require.NoError(t, err)
	require.Equal(t, 5, sel.Current().Len())

	_, err = sel.Invert(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"d"}, sel.Current().Items())

	// a vetoed select all leaves the selection unchanged
	sel.Events().OnVeto("SELECTION", func(e *event.Event) error {
		return errors.New("locked")
	})
	ok, err = sel.SelectAll(ctx, true)
	require.NoError(t, err)
	require.False(t, ok)
	current, err := sel.Selection(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"d"}, current.Items())
}

func TestScenarioAdd(t *testing.T) {
	ctx := context.Background()
	c := newCollection(letters...)

	before, err := c.NumItems(ctx)
	require.NoError(t, err)

	ok, err := c.Modifications().AddItem(ctx, "hi")
	require.NoError(t, err)
	require.True(t, ok)

	after, err := c.NumItems(ctx)
	require.NoError(t, err)
	require.Equal(t, before+1, after)
	require.Equal(t, []string{"hi"}, c.Modifications().Modifications().Added)

	_, err = c.Selection().Select(ctx, true, "hi")
	require.NoError(t, err)
	_, err = c.Selection().Select(ctx, false, "hi")
	require.NoError(t, err)
	require.Equal(t, 0, c.Selection().Current().Len())
	require.Equal(t, []string{"hi"}, c.Modifications().Modifications().Added)
}

func TestScenarioRemove(t *testing.T) {
	ctx := context.Background()
	c := newCollection(letters...)
	ledger := c.Modifications()
	ledger.RegisterRemovedItems([]string{"z"})

	var vetos, posts int
	ledger.Events().OnVeto(modification.TopicRemoveSelection, func(e *event.Event) error {
		vetos++
		return nil
	})
	ledger.Events().On(modification.TopicRemoveSelection, func(e *event.Event) {
		posts++
	})

	_, err := c.Selection().SelectItems(ctx, true, []string{"b", "e"})
	require.NoError(t, err)
	ok, err := ledger.RemoveSelectedItems(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	n, err := c.NumItems(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, 3, ledger.Modifications().Removed.Len())
	require.True(t, c.Selection().Current().IsEmpty())
	require.Equal(t, 1, vetos)
	require.Equal(t, 1, posts)

	items, err := c.Items(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "c", "d", "f"}, items)
}

func TestPagingInvariants(t *testing.T) {
	ctx := context.Background()
	for n := 0; n <= 7; n++ {
		for pageSize := 1; pageSize <= 8; pageSize++ {
			t.Run(fmt.Sprintf("n=%d/size=%d", n, pageSize), func(t *testing.T) {
				items := make([]string, n)
				for i := range items {
					items[i] = fmt.Sprintf("item%d", i)
				}
				c := pageable.New[string](pageable.NewSliceStore(items...), pageable.WithPageSize[string](pageSize))

				pages, err := c.NumPages(ctx)
				require.NoError(t, err)

				var all []string
				for page := 1; page <= pages; page++ {
					c.SetPage(page)
					got, err := c.ItemsOnPage(ctx)
					require.NoError(t, err)
					all = append(all, got...)
				}
				require.Equal(t, len(items), len(all))
				if n > 0 {
					require.Equal(t, items, all)
				}

				c.SetPage(pages + 1)
				got, err := c.ItemsOnPage(ctx)
				require.NoError(t, err)
				require.Empty(t, got)
			})
		}
	}
}

func TestExecDisabled(t *testing.T) {
	ctx := context.Background()
	c := newCollection(letters...)
	c.SetPage(2)
	c.Params().SetExecEnabled(false)

	n, err := c.NumItems(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)
	require.Equal(t, 1, c.Page())

	c.Params().SetExecEnabled(true)
	n, err = c.NumItems(ctx)
	require.NoError(t, err)
	require.Equal(t, 6, n)
}

func TestAddDoesNotResort(t *testing.T) {
	ctx := context.Background()
	c := newCollection("b", "c")
	c.Params().SetSortOrder(order.By(order.Asc(nameAttr)))

	_, err := c.Items(ctx)
	require.NoError(t, err)

	_, err = c.Modifications().AddItem(ctx, "a")
	require.NoError(t, err)
	items, err := c.Items(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"b", "c", "a"}, items)

	c.ClearCaches()
	items, err = c.Items(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, items)
}

func TestRemoveClampsPage(t *testing.T) {
	ctx := context.Background()
	c := newCollection(letters...)
	c.SetPage(3)
	_, err := c.ItemsOnPage(ctx)
	require.NoError(t, err)

	_, err = c.Selection().SelectItems(ctx, true, []string{"e", "f"})
	require.NoError(t, err)
	_, err = c.Modifications().RemoveSelectedItems(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, c.Page())

	items, err := c.ItemsOnPage(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"c", "d"}, items)
}

func TestSelectionPrunedByFilter(t *testing.T) {
	ctx := context.Background()
	c := newCollection("apple", "banana", "blueberry")

	_, err := c.Selection().SelectItems(ctx, true, []string{"apple", "banana"})
	require.NoError(t, err)

	c.Params().SetFilter(filter.NewCompare(nameAttr, filter.StartsWith, "b"))
	_, err = c.Items(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"banana"}, c.Selection().Current().Items())
}

func TestAddExistingItem(t *testing.T) {
	ctx := context.Background()

	testCases := []struct {
		name string
		read bool
	}{
		{"before the view is computed", false},
		{"with a cached view", true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := newCollection(letters...)
			if tc.read {
				_, err := c.Items(ctx)
				require.NoError(t, err)
			}

			ok, err := c.Modifications().AddItem(ctx, "a")
			require.ErrorIs(t, err, pageable.ErrDuplicateItem)
			require.False(t, ok)
			require.Empty(t, c.Modifications().Added())

			n, err := c.NumItems(ctx)
			require.NoError(t, err)
			require.Equal(t, 6, n)

			// the committed item is still tracked when it is removed
			_, err = c.Selection().Select(ctx, true, "a")
			require.NoError(t, err)
			_, err = c.Modifications().RemoveSelectedItems(ctx)
			require.NoError(t, err)
			require.True(t, c.Modifications().IsRemoved("a"))
			require.Equal(t, 1, c.Modifications().Modifications().Removed.Len())
		})
	}

	c := newCollection(letters...)
	_, err := c.Modifications().AddItem(ctx, "hi")
	require.NoError(t, err)
	_, err = c.Modifications().AddItem(ctx, "hi")
	require.ErrorIs(t, err, pageable.ErrDuplicateItem)
	require.Equal(t, []string{"hi"}, c.Modifications().Added())
}

func TestReadOnlyStore(t *testing.T) {
	ctx := context.Background()
	c := pageable.New[string](pageable.ReadOnly[string](pageable.NewSliceStore(letters...)))

	_, err := c.Modifications().AddItem(ctx, "x")
	require.ErrorIs(t, err, pageable.ErrImmutableStore)

	_, err = c.Selection().Select(ctx, true, "a")
	require.NoError(t, err)
	_, err = c.Modifications().RemoveSelectedItems(ctx)
	require.ErrorIs(t, err, pageable.ErrImmutableStore)

	n, err := c.NumItems(ctx)
	require.NoError(t, err)
	require.Equal(t, 6, n)
}

func TestItemProcessor(t *testing.T) {
	ctx := pageable.WithItemProcessor(context.Background(), func(ctx context.Context, item string) (string, error) {
		return strings.ToUpper(item), nil
	})
	c := newCollection(letters...)

	items, err := c.ItemsOnPage(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"A", "B"}, items)

	items, err = c.Items(ctx)
	require.NoError(t, err)
	require.Equal(t, letters, items)

	failing := pageable.WithItemProcessor(context.Background(), func(ctx context.Context, item string) (string, error) {
		return "", errors.New("boom")
	})
	_, err = c.ItemsOnPage(failing)
	require.ErrorContains(t, err, "boom")
}

func TestFilterErrorsPropagate(t *testing.T) {
	ctx := context.Background()
	c := newCollection(letters...)
	c.Params().SetFilter(filter.NewCompare(nameAttr, filter.Lt, 1))

	_, err := c.Items(ctx)
	require.ErrorContains(t, err, "filter items")
}

func TestPageMath(t *testing.T) {
	require.Equal(t, 1, pageable.NumPages(0, 10))
	require.Equal(t, 2, pageable.NumPages(11, 10))
	require.Equal(t, 3, pageable.ClampPage(10, 2, 6))
	require.Equal(t, 1, pageable.ClampPage(-1, 2, 6))

	first, last := pageable.PageWindow(2, 4, 6)
	require.Equal(t, []int{4, 6}, []int{first, last})
	first, last = pageable.PageWindow(3, 4, 6)
	require.Equal(t, []int{0, 0}, []int{first, last})

	require.Panics(t, func() { pageable.WithPageSize[string](0) })
}

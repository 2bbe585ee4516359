package pageable

import (
	"context"
	"iter"

	"github.com/theplant/pageable/modification"
	"github.com/theplant/pageable/query"
	"github.com/theplant/pageable/selection"
)

// Pageable is a page navigable view over a filtered and sorted item set.
// Pages are 1-based. Implementations are not safe for concurrent use.
type Pageable[T comparable] interface {
	Params() *query.Params
	PageSize() int
	Page() int
	// SetPage moves to page. A page beyond the last one yields no items.
	SetPage(page int)
	NumPages(ctx context.Context) (int, error)
	NumItems(ctx context.Context) (int, error)
	ItemsOnPage(ctx context.Context) ([]T, error)
	// Items returns the full filtered and sorted view.
	Items(ctx context.Context) ([]T, error)
	Iterate(ctx context.Context) (iter.Seq[T], error)
	Selection() *selection.Handler[T]
	Modifications() *modification.Ledger[T]
	ClearCaches()
}

var (
	// ErrImmutableStore reports a structural change on a read-only backing store.
	ErrImmutableStore = modification.ErrImmutableStore
	// ErrDuplicateItem reports an add of an item the backing store already holds.
	ErrDuplicateItem = modification.ErrDuplicateItem
)

// NumPages returns the number of pages for n items, at least 1.
func NumPages(n, pageSize int) int {
	if n <= 0 {
		return 1
	}
	return (n + pageSize - 1) / pageSize
}

// PageWindow returns the half-open index range [first, last) of page.
// The range is empty for pages beyond the end.
func PageWindow(page, pageSize, n int) (first, last int) {
	first = (page - 1) * pageSize
	last = min(first+pageSize, n)
	if first >= last {
		return 0, 0
	}
	return first, last
}

// ClampPage moves page into [1, NumPages(n, pageSize)].
func ClampPage(page, pageSize, n int) int {
	return max(1, min(page, NumPages(n, pageSize)))
}

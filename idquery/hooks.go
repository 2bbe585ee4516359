package idquery

import (
	"context"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/theplant/pageable/filter"
	"github.com/theplant/pageable/query"
)

// Cache serves GetItems from cache for ids that were hydrated before and only asks next
// for the missing ones. Entries are added only after a successful call and dropped when
// the items are removed. Eviction is up to the LRU; a hit is always the last fetched value.
func Cache[ID comparable, T any](cache *lru.Cache[ID, T], idOf func(item T) ID) Hook[ID, T] {
	if cache == nil {
		panic("cache must be set")
	}
	if idOf == nil {
		panic("idOf must be set")
	}
	return func(next *ServiceFuncs[ID, T]) *ServiceFuncs[ID, T] {
		funcs := next.clone()
		funcs.GetItems = func(ctx context.Context, ids []ID) ([]T, error) {
			found := make(map[ID]T, len(ids))
			var missing []ID
			for _, id := range ids {
				if item, ok := cache.Get(id); ok {
					found[id] = item
				} else {
					missing = append(missing, id)
				}
			}
			if len(missing) > 0 {
				fetched, err := next.GetItems(ctx, missing)
				if err != nil {
					return nil, err
				}
				for _, item := range fetched {
					id := idOf(item)
					cache.Add(id, item)
					found[id] = item
				}
			}
			items := make([]T, 0, len(ids))
			for _, id := range ids {
				if item, ok := found[id]; ok {
					items = append(items, item)
				}
			}
			return items, nil
		}
		if next.RemoveItems != nil {
			funcs.RemoveItems = func(ctx context.Context, ids []ID) error {
				if err := next.RemoveItems(ctx, ids); err != nil {
					return err
				}
				for _, id := range ids {
					cache.Remove(id)
				}
				return nil
			}
		}
		return funcs
	}
}

// EnforceMaxResults raises a *MaxResultsViolationError when a count or an id scan
// would exceed maxResults. Scans ask next for at most maxResults+1 ids.
func EnforceMaxResults[ID comparable, T any](maxResults int) Hook[ID, T] {
	if maxResults <= 0 {
		panic("maxResults must be greater than 0")
	}
	return func(next *ServiceFuncs[ID, T]) *ServiceFuncs[ID, T] {
		funcs := next.clone()
		funcs.FindIDs = func(ctx context.Context, params *query.Params, start, pageSize int) ([]ID, error) {
			if start >= maxResults {
				return nil, errors.WithStack(&MaxResultsViolationError{Max: maxResults, Count: -1})
			}
			limit := maxResults - start
			if pageSize != Unlimited && pageSize <= limit {
				return next.FindIDs(ctx, params, start, pageSize)
			}
			ids, err := next.FindIDs(ctx, params, start, limit+1)
			if err != nil {
				return nil, err
			}
			if len(ids) > limit {
				return nil, errors.WithStack(&MaxResultsViolationError{Max: maxResults, Count: -1})
			}
			return ids, nil
		}
		if next.CountItems != nil {
			funcs.CountItems = func(ctx context.Context, params *query.Params) (int, error) {
				count, err := next.CountItems(ctx, params)
				if err != nil {
					return 0, err
				}
				if count > maxResults {
					return 0, errors.WithStack(&MaxResultsViolationError{Max: maxResults, Count: count})
				}
				return count, nil
			}
		}
		return funcs
	}
}

// CheckComplexity rejects queries whose effective filter exceeds limits before they reach next.
func CheckComplexity[ID comparable, T any](limits *filter.ComplexityLimits) Hook[ID, T] {
	return func(next *ServiceFuncs[ID, T]) *ServiceFuncs[ID, T] {
		if limits == nil {
			return next
		}
		funcs := next.clone()
		funcs.FindIDs = func(ctx context.Context, params *query.Params, start, pageSize int) ([]ID, error) {
			if err := filter.CheckComplexity(params.EffectiveFilter(), limits); err != nil {
				return nil, err
			}
			return next.FindIDs(ctx, params, start, pageSize)
		}
		if next.CountItems != nil {
			funcs.CountItems = func(ctx context.Context, params *query.Params) (int, error) {
				if err := filter.CheckComplexity(params.EffectiveFilter(), limits); err != nil {
					return 0, err
				}
				return next.CountItems(ctx, params)
			}
		}
		return funcs
	}
}

// Logging logs every remote call with its duration at debug level and failures at error level.
func Logging[ID comparable, T any](logger *slog.Logger) Hook[ID, T] {
	if logger == nil {
		logger = slog.Default()
	}
	logCall := func(ctx context.Context, op string, started time.Time, err error, attrs ...any) {
		attrs = append(attrs, "op", op, "duration", time.Since(started))
		if err != nil {
			logger.ErrorContext(ctx, "remote call failed", append(attrs, "error", err)...)
			return
		}
		logger.DebugContext(ctx, "remote call", attrs...)
	}
	return func(next *ServiceFuncs[ID, T]) *ServiceFuncs[ID, T] {
		funcs := next.clone()
		funcs.FindIDs = func(ctx context.Context, params *query.Params, start, pageSize int) ([]ID, error) {
			started := time.Now()
			ids, err := next.FindIDs(ctx, params, start, pageSize)
			logCall(ctx, "FindIDs", started, err, "start", start, "pageSize", pageSize, "ids", len(ids))
			return ids, err
		}
		funcs.GetItems = func(ctx context.Context, ids []ID) ([]T, error) {
			started := time.Now()
			items, err := next.GetItems(ctx, ids)
			logCall(ctx, "GetItems", started, err, "ids", len(ids), "items", len(items))
			return items, err
		}
		if next.CountItems != nil {
			funcs.CountItems = func(ctx context.Context, params *query.Params) (int, error) {
				started := time.Now()
				count, err := next.CountItems(ctx, params)
				logCall(ctx, "CountItems", started, err, "count", count)
				return count, err
			}
		}
		if next.RemoveItems != nil {
			funcs.RemoveItems = func(ctx context.Context, ids []ID) error {
				started := time.Now()
				err := next.RemoveItems(ctx, ids)
				logCall(ctx, "RemoveItems", started, err, "ids", lo.Slice(ids, 0, 10))
				return err
			}
		}
		return funcs
	}
}

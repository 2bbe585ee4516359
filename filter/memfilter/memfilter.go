package memfilter

import (
	"slices"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/theplant/pageable/attr"
	"github.com/theplant/pageable/filter"
	"github.com/theplant/pageable/order"
)

// Evaluator interprets filter expressions against in-memory items.
type Evaluator struct {
	registry *Registry
}

// New returns an evaluator backed by registry, DefaultRegistry when nil.
func New(registry *Registry) *Evaluator {
	if registry == nil {
		registry = DefaultRegistry
	}
	return &Evaluator{registry: registry}
}

// Evaluate reports whether item satisfies expr.
// Ineffective leaves are skipped and a nil expression matches everything.
// Every effective leaf must be registered, even one a short circuit would never reach.
func (e *Evaluator) Evaluate(item any, expr filter.Expression) (bool, error) {
	expr = filter.Simplify(expr)
	if expr == nil {
		return true, nil
	}
	if err := e.Check(expr); err != nil {
		return false, err
	}
	return e.evaluate(item, expr)
}

// Check reports the first effective leaf of expr whose (type, operator) pair is not registered.
func (e *Evaluator) Check(expr filter.Expression) error {
	var err error
	filter.Walk(filter.Simplify(expr), func(x filter.Expression) bool {
		if err != nil {
			return false
		}
		if c, ok := x.(*filter.Compare); ok {
			_, err = e.registry.Lookup(c.Attr.Type(), c.Op)
		}
		return true
	})
	return err
}

func (e *Evaluator) evaluate(item any, expr filter.Expression) (bool, error) {
	switch x := expr.(type) {
	case filter.And:
		for _, child := range x {
			ok, err := e.evaluate(item, child)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case filter.Or:
		for _, child := range x {
			ok, err := e.evaluate(item, child)
			if err != nil || ok {
				return ok, err
			}
		}
		return false, nil
	case filter.Not:
		ok, err := e.evaluate(item, x.Expr)
		if err != nil {
			return false, err
		}
		return !ok, nil
	case *filter.Compare:
		return e.compare(item, x)
	}
	return false, errors.Errorf("unsupported expression %T", expr)
}

func (e *Evaluator) compare(item any, c *filter.Compare) (bool, error) {
	typ := c.Attr.Type()
	fn, err := e.registry.Lookup(typ, c.Op)
	if err != nil {
		return false, err
	}
	arg, err := normalizeArg(typ, c)
	if err != nil {
		return false, err
	}
	value, err := c.Attr.Value(item)
	if err != nil {
		return false, err
	}
	ok, err := fn(c.Op, value, arg)
	if err != nil {
		return false, errors.Wrapf(err, "evaluate %s", c)
	}
	return ok, nil
}

func normalizeArg(typ attr.Type, c *filter.Compare) (any, error) {
	switch {
	case c.Op.ValueNeeded() == filter.ValueNone:
		return nil, nil
	case c.Op.List():
		list, err := attr.NormalizeList(typ, c.Value)
		if err != nil {
			return nil, errors.Wrapf(err, "value of %s", c)
		}
		return list, nil
	}
	v, err := attr.Normalize(typ, c.Value)
	if err != nil {
		return nil, errors.Wrapf(err, "value of %s", c)
	}
	return v, nil
}

// Subset returns the items satisfying expr in their original order.
func Subset[T any](e *Evaluator, items []T, expr filter.Expression) ([]T, error) {
	expr = filter.Simplify(expr)
	if expr == nil {
		return slices.Clone(items), nil
	}
	if err := e.Check(expr); err != nil {
		return nil, err
	}
	result := make([]T, 0, len(items))
	for _, item := range items {
		ok, err := e.evaluate(item, expr)
		if err != nil {
			return nil, err
		}
		if ok {
			result = append(result, item)
		}
	}
	return result, nil
}

// Comparator returns a comparison func for the order, or nil when the order is empty.
// Earlier specs take precedence and descending specs flip the sign.
// It panics when an attribute cannot be resolved; use Sort to get an error instead.
func Comparator[T any](o order.Order) func(a, b T) int {
	if len(o) == 0 {
		return nil
	}
	return func(a, b T) int {
		ka, err := sortKeys(o, a)
		if err != nil {
			panic(err)
		}
		kb, err := sortKeys(o, b)
		if err != nil {
			panic(err)
		}
		c, err := compareKeys(o, ka, kb)
		if err != nil {
			panic(err)
		}
		return c
	}
}

// Sort orders items in place and stably. Each attribute is resolved once per item.
func Sort[T any](items []T, o order.Order) error {
	if len(o) == 0 || len(items) < 2 {
		return nil
	}
	type keyed struct {
		item T
		keys []any
	}
	rows := make([]keyed, len(items))
	for i, item := range items {
		keys, err := sortKeys(o, item)
		if err != nil {
			return err
		}
		rows[i] = keyed{item: item, keys: keys}
	}

	var sortErr error
	slices.SortStableFunc(rows, func(a, b keyed) int {
		c, err := compareKeys(o, a.keys, b.keys)
		if err != nil && sortErr == nil {
			sortErr = err
		}
		return c
	})
	if sortErr != nil {
		return sortErr
	}

	for i, row := range rows {
		items[i] = row.item
	}
	return nil
}

func sortKeys(o order.Order, item any) ([]any, error) {
	keys := make([]any, len(o))
	for i, spec := range o {
		v, err := spec.Attr.Value(item)
		if err != nil {
			return nil, err
		}
		keys[i] = v
	}
	return keys, nil
}

func compareKeys(o order.Order, a, b []any) (int, error) {
	for i, spec := range o {
		c, err := attr.Compare(a[i], b[i])
		if err != nil {
			return 0, errors.Wrapf(err, "sort by %s", spec.Attr.Name())
		}
		if c != 0 {
			return lo.Ternary(spec.Ascending, c, -c), nil
		}
	}
	return 0, nil
}

package filter

import (
	"sort"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/theplant/pageable/attr"
)

// Keys of the map form of an expression.
const (
	KeyAnd          = "And"
	KeyOr           = "Or"
	KeyNot          = "Not"
	KeyFold         = "Fold"
	KeyIgnoreSpaces = "IgnoreSpaces"
)

// ToMap converts an expression to the filter map form:
//
//	{"And": [...], "Or": [...], "Not": {...}, "<attr>": {"<Op>": value, "Fold": true}}
//
// Ineffective compare leaves are left out. It returns nil if there is nothing to filter.
func ToMap(expr Expression) map[string]any {
	expr = Simplify(expr)
	if expr == nil {
		return nil
	}
	return toMap(expr)
}

func toMap(expr Expression) map[string]any {
	switch e := expr.(type) {
	case And:
		return map[string]any{KeyAnd: lo.Map(e, func(child Expression, _ int) any { return toMap(child) })}
	case Or:
		return map[string]any{KeyOr: lo.Map(e, func(child Expression, _ int) any { return toMap(child) })}
	case Not:
		return map[string]any{KeyNot: toMap(e.Expr)}
	case *Compare:
		ops := map[string]any{}
		switch e.Op.Base() {
		case IsNull:
			ops[IsNull.Name()] = true
		case IsNotNull:
			ops[IsNull.Name()] = false
		case IsEmpty:
			ops[IsEmpty.Name()] = true
		case IsNotEmpty:
			ops[IsEmpty.Name()] = false
		default:
			ops[e.Op.Name()] = e.Value
		}
		if e.Op.IgnoresCase() {
			ops[KeyFold] = true
		}
		if e.Op.IgnoresSpaces() {
			ops[KeyIgnoreSpaces] = true
		}
		return map[string]any{e.Attr.Name(): ops}
	}
	return nil
}

// FromMap parses the filter map form back into an expression, resolving field keys against attrs.
// Several keys in one map are combined with And in key order.
func FromMap(m map[string]any, attrs attr.Set) (Expression, error) {
	if m == nil {
		return nil, nil
	}

	keys := lo.Keys(m)
	sort.Strings(keys)

	var parts []Expression
	for _, key := range keys {
		value := m[key]
		if value == nil {
			continue
		}
		switch key {
		case KeyAnd, KeyOr:
			list, ok := value.([]any)
			if !ok {
				return nil, errors.Errorf("logical filter %s should be []any, got %T", key, value)
			}
			children := make([]Expression, 0, len(list))
			for i, item := range list {
				sub, ok := item.(map[string]any)
				if !ok {
					return nil, errors.Errorf("logical filter %s item at index %d should be map[string]any, got %T", key, i, item)
				}
				child, err := FromMap(sub, attrs)
				if err != nil {
					return nil, errors.Wrapf(err, "%s index %d", key, i)
				}
				if child != nil {
					children = append(children, child)
				}
			}
			if len(list) > 0 && len(children) == 0 {
				continue
			}
			if key == KeyAnd {
				parts = append(parts, And(children))
			} else {
				parts = append(parts, Or(children))
			}

		case KeyNot:
			sub, ok := value.(map[string]any)
			if !ok {
				return nil, errors.Errorf("logical filter Not should be map[string]any, got %T", value)
			}
			inner, err := FromMap(sub, attrs)
			if err != nil {
				return nil, errors.Wrap(err, "Not")
			}
			if inner != nil {
				parts = append(parts, Not{Expr: inner})
			}

		default:
			ops, ok := value.(map[string]any)
			if !ok {
				return nil, errors.Errorf("field %s value should be map[string]any, got %T", key, value)
			}
			def, ok := attrs.Get(key)
			if !ok {
				return nil, errors.Errorf("unknown attribute %q", key)
			}
			compares, err := comparesFromMap(def, ops)
			if err != nil {
				return nil, errors.Wrapf(err, "field %s", key)
			}
			parts = append(parts, compares...)
		}
	}

	switch len(parts) {
	case 0:
		return nil, nil
	case 1:
		return parts[0], nil
	}
	return And(parts), nil
}

var negatedPresence = map[Operator]Operator{
	IsNull:     IsNotNull,
	IsNotNull:  IsNull,
	IsEmpty:    IsNotEmpty,
	IsNotEmpty: IsEmpty,
}

func comparesFromMap(def *attr.Definition, ops map[string]any) ([]Expression, error) {
	fold, _ := ops[KeyFold].(bool)
	ignoreSpaces, _ := ops[KeyIgnoreSpaces].(bool)

	names := lo.Without(lo.Keys(ops), KeyFold, KeyIgnoreSpaces)
	sort.Strings(names)

	compares := make([]Expression, 0, len(names))
	for _, name := range names {
		value := ops[name]
		if value == nil {
			continue
		}
		op, ok := OperatorByName(name)
		if !ok {
			return nil, errors.Errorf("unknown operator %s", name)
		}

		var err error
		switch op {
		case IsNull, IsNotNull, IsEmpty, IsNotEmpty:
			flag, ok := value.(bool)
			if !ok {
				return nil, errors.Errorf("operator %s expects bool, got %T", name, value)
			}
			if !flag {
				op = negatedPresence[op]
			}
			value = nil
		default:
			if op.List() {
				value, err = attr.NormalizeList(def.Type(), value)
			} else {
				value, err = attr.Normalize(def.Type(), value)
			}
			if err != nil {
				return nil, errors.Wrapf(err, "operator %s", name)
			}
		}

		compares = append(compares, NewCompare(def, op.IgnoreCase(fold).IgnoreSpaces(ignoreSpaces), value))
	}
	return compares, nil
}

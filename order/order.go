package order

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/theplant/pageable/attr"
)

type Direction string

const (
	DirectionAsc  Direction = "ASC"
	DirectionDesc Direction = "DESC"
)

// Spec sorts by one attribute.
type Spec struct {
	Attr      *attr.Definition
	Ascending bool
}

func Asc(a *attr.Definition) Spec  { return Spec{Attr: a, Ascending: true} }
func Desc(a *attr.Definition) Spec { return Spec{Attr: a, Ascending: false} }

func (s Spec) Direction() Direction {
	return lo.Ternary(s.Ascending, DirectionAsc, DirectionDesc)
}

func (s Spec) String() string {
	return s.Attr.Name() + " " + string(s.Direction())
}

// Order is an ordered list of sort specs; earlier specs take precedence.
// A nil or empty Order means no sorting.
type Order []Spec

// By builds an order from specs.
func By(specs ...Spec) Order {
	return Order(specs)
}

// Reverse returns the same attributes with every direction inverted.
func (o Order) Reverse() Order {
	if o == nil {
		return nil
	}
	return lo.Map(o, func(s Spec, _ int) Spec {
		return Spec{Attr: s.Attr, Ascending: !s.Ascending}
	})
}

// Attributes returns the attributes in precedence order.
func (o Order) Attributes() []*attr.Definition {
	return lo.Map(o, func(s Spec, _ int) *attr.Definition { return s.Attr })
}

// Validate reports an attribute used more than once.
func (o Order) Validate() error {
	dups := lo.FindDuplicatesBy(o, func(s Spec) string {
		return s.Attr.Name()
	})
	if len(dups) > 0 {
		return errors.Errorf("duplicated order by attributes %v", lo.Map(dups, func(s Spec, _ int) string {
			return s.Attr.Name()
		}))
	}
	return nil
}

func (o Order) String() string {
	return strings.Join(lo.Map(o, func(s Spec, _ int) string { return s.String() }), ", ")
}

// Equal compares attribute identity and direction in order.
func Equal(a, b Order) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Attr != b[i].Attr || a[i].Ascending != b[i].Ascending {
			return false
		}
	}
	return true
}

// SameAttributeSet compares the attributes of two orders ignoring direction and precedence.
func SameAttributeSet(a, b Order) bool {
	if len(a) != len(b) {
		return false
	}
	attrsA, attrsB := a.Attributes(), b.Attributes()
	return lo.Every(attrsA, attrsB) && lo.Every(attrsB, attrsA)
}

// AppendPrimary appends specs for attributes that are not already part of the order,
// which keeps the order total when the primary specs form a unique key.
func AppendPrimary(o Order, primary ...Spec) Order {
	if len(primary) == 0 {
		return o
	}
	used := lo.SliceToMap(o, func(s Spec) (*attr.Definition, bool) {
		return s.Attr, true
	})
	result := append(Order{}, o...)
	for _, p := range primary {
		if !used[p.Attr] {
			result = append(result, p)
		}
	}
	return result
}

package filter

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/samber/lo"

	"github.com/theplant/pageable/attr"
)

// Expression is a predicate tree over items.
// The variants are And, Or, Not and *Compare.
type Expression interface {
	isExpression()
	String() string
}

// And is true when every child is true. And{} is true.
type And []Expression

// Or is true when any child is true. Or{} is false.
type Or []Expression

// Not negates its inner expression.
type Not struct {
	Expr Expression
}

// Compare is a leaf comparing an attribute value of the item with Value.
type Compare struct {
	Attr  *attr.Definition
	Op    Operator
	Value any
}

func (And) isExpression()      {}
func (Or) isExpression()       {}
func (Not) isExpression()      {}
func (*Compare) isExpression() {}

// NewCompare creates a compare leaf.
func NewCompare(a *attr.Definition, op Operator, value any) *Compare {
	if a == nil {
		panic("compare attribute must be set")
	}
	return &Compare{Attr: a, Op: op, Value: value}
}

// Effective reports whether the leaf is a real filter condition.
func (c *Compare) Effective() bool {
	return c.Op.IsEffective(c.Value)
}

func (e And) String() string { return joinExprs("And", e) }
func (e Or) String() string  { return joinExprs("Or", e) }

func (e Not) String() string {
	if e.Expr == nil {
		return "Not()"
	}
	return "Not(" + e.Expr.String() + ")"
}

func (c *Compare) String() string {
	if c.Op.ValueNeeded() == ValueNone {
		return fmt.Sprintf("%s %s", c.Attr.Name(), c.Op)
	}
	return fmt.Sprintf("%s %s %v", c.Attr.Name(), c.Op, c.Value)
}

func joinExprs(name string, exprs []Expression) string {
	return name + "(" + strings.Join(lo.Map(exprs, func(e Expression, _ int) string {
		if e == nil {
			return "<nil>"
		}
		return e.String()
	}), ", ") + ")"
}

// Clone copies the tree, including compare leaves and their slice values,
// so that later changes to expr do not show through the copy.
func Clone(expr Expression) Expression {
	switch e := expr.(type) {
	case And:
		return And(cloneAll(e))
	case Or:
		return Or(cloneAll(e))
	case Not:
		return Not{Expr: Clone(e.Expr)}
	case *Compare:
		if e == nil {
			return e
		}
		c := *e
		c.Value = cloneValue(e.Value)
		return &c
	}
	return expr
}

func cloneAll(exprs []Expression) []Expression {
	return lo.Map(exprs, func(x Expression, _ int) Expression { return Clone(x) })
}

func cloneValue(v any) any {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice || rv.IsNil() {
		return v
	}
	cp := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
	reflect.Copy(cp, rv)
	return cp.Interface()
}

// Simplify removes ineffective compare leaves.
// A logical node whose children were all removed is itself removed,
// while a literal And{} or Or{} is kept. It returns nil when nothing filters.
func Simplify(expr Expression) Expression {
	switch e := expr.(type) {
	case nil:
		return nil
	case And:
		children, ok := simplifyChildren(e)
		if !ok {
			return nil
		}
		return And(children)
	case Or:
		children, ok := simplifyChildren(e)
		if !ok {
			return nil
		}
		return Or(children)
	case Not:
		inner := Simplify(e.Expr)
		if inner == nil {
			return nil
		}
		return Not{Expr: inner}
	case *Compare:
		if e == nil || !e.Effective() {
			return nil
		}
		return e
	}
	return expr
}

func simplifyChildren(exprs []Expression) ([]Expression, bool) {
	children := make([]Expression, 0, len(exprs))
	for _, child := range exprs {
		if s := Simplify(child); s != nil {
			children = append(children, s)
		}
	}
	if len(exprs) > 0 && len(children) == 0 {
		return nil, false
	}
	return children, true
}

// Equal compares two expressions structurally.
// Attributes are compared by identity and values deeply.
func Equal(a, b Expression) bool {
	switch ea := a.(type) {
	case nil:
		return b == nil
	case And:
		eb, ok := b.(And)
		return ok && equalChildren(ea, eb)
	case Or:
		eb, ok := b.(Or)
		return ok && equalChildren(ea, eb)
	case Not:
		eb, ok := b.(Not)
		return ok && Equal(ea.Expr, eb.Expr)
	case *Compare:
		eb, ok := b.(*Compare)
		if !ok {
			return false
		}
		if ea == nil || eb == nil {
			return ea == eb
		}
		return ea.Attr == eb.Attr && ea.Op == eb.Op && reflect.DeepEqual(ea.Value, eb.Value)
	}
	return false
}

func equalChildren(a, b []Expression) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

// Walk visits expr depth first. Returning false from fn stops descending into the node.
func Walk(expr Expression, fn func(Expression) bool) {
	if expr == nil || !fn(expr) {
		return
	}
	switch e := expr.(type) {
	case And:
		for _, child := range e {
			Walk(child, fn)
		}
	case Or:
		for _, child := range e {
			Walk(child, fn)
		}
	case Not:
		Walk(e.Expr, fn)
	}
}

// Attributes returns the distinct attributes referenced by expr in visiting order.
func Attributes(expr Expression) []*attr.Definition {
	var defs []*attr.Definition
	Walk(expr, func(e Expression) bool {
		if c, ok := e.(*Compare); ok && c != nil {
			defs = append(defs, c.Attr)
		}
		return true
	})
	return lo.Uniq(defs)
}

package gormfilter

import (
	"cmp"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"

	"github.com/theplant/pageable/attr"
	"github.com/theplant/pageable/filter"
	"github.com/theplant/pageable/order"
)

// Scope adds expr as a where condition. Attribute paths are resolved against the
// schema of the statement model, by field name or column name.
func Scope(expr filter.Expression) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if db == nil {
			return nil
		}
		stmt, err := parseStatement(db)
		if err != nil {
			db.AddError(err)
			return db
		}
		cond, err := Build(stmt, expr)
		if err != nil {
			db.AddError(err)
			return db
		}
		if cond != nil {
			db = db.Where(cond)
		}
		return db
	}
}

// OrderScope adds o as order by clause.
func OrderScope(o order.Order) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if db == nil {
			return nil
		}
		if len(o) == 0 {
			return db
		}
		stmt, err := parseStatement(db)
		if err != nil {
			db.AddError(err)
			return db
		}
		columns, err := BuildOrder(stmt, o)
		if err != nil {
			db.AddError(err)
			return db
		}
		return db.Order(clause.OrderBy{Columns: columns})
	}
}

func parseStatement(db *gorm.DB) (*gorm.Statement, error) {
	model := cmp.Or(db.Statement.Model, db.Statement.Dest)
	if model == nil {
		return nil, errors.New("model is nil")
	}
	stmt := &gorm.Statement{DB: db}
	if err := stmt.Parse(model); err != nil {
		return nil, errors.Wrap(err, "parse schema with db")
	}
	return stmt, nil
}

// never is the condition no row satisfies.
type never struct{}

func (never) Build(builder clause.Builder) {
	builder.WriteString("1 = 0")
}

// Build translates expr into a condition. It returns nil when the expression does not
// filter anything. Null handling follows the in-memory evaluator: negated comparisons,
// including comparisons under Not, also match rows where a nullable column is NULL.
func Build(stmt *gorm.Statement, expr filter.Expression) (clause.Expression, error) {
	return build(stmt, filter.Simplify(expr), false)
}

// build pushes negation down to the leaves so that no comparison is evaluated as NULL under NOT.
func build(stmt *gorm.Statement, expr filter.Expression, negate bool) (clause.Expression, error) {
	switch e := expr.(type) {
	case nil:
		if negate {
			return never{}, nil
		}
		return nil, nil
	case filter.And:
		return buildLogical(stmt, e, !negate, negate)
	case filter.Or:
		return buildLogical(stmt, e, negate, negate)
	case filter.Not:
		return build(stmt, e.Expr, !negate)
	case *filter.Compare:
		return buildCompare(stmt, e, negate)
	}
	return nil, errors.Errorf("unsupported expression %T", expr)
}

// buildLogical joins children with AND when and is set, with OR otherwise.
// A nil condition is true and never is false.
func buildLogical(stmt *gorm.Statement, children []filter.Expression, and, negate bool) (clause.Expression, error) {
	var exprs []clause.Expression
	for _, child := range children {
		sub, err := build(stmt, child, negate)
		if err != nil {
			return nil, err
		}
		_, isNever := sub.(never)
		switch {
		case and && isNever:
			return never{}, nil
		case !and && sub == nil:
			return nil, nil
		case sub != nil && !isNever:
			exprs = append(exprs, sub)
		}
	}
	switch {
	case len(exprs) == 1:
		return exprs[0], nil
	case len(exprs) > 1 && and:
		return clause.And(exprs...), nil
	case len(exprs) > 1:
		return clause.Or(exprs...), nil
	case and:
		return nil, nil
	}
	return never{}, nil
}

var complements = map[string]filter.Operator{
	filter.Eq.Name():         filter.Neq,
	filter.Neq.Name():        filter.Eq,
	filter.In.Name():         filter.NotIn,
	filter.NotIn.Name():      filter.In,
	filter.IsNull.Name():     filter.IsNotNull,
	filter.IsNotNull.Name():  filter.IsNull,
	filter.IsEmpty.Name():    filter.IsNotEmpty,
	filter.IsNotEmpty.Name(): filter.IsEmpty,
}

func lookupField(stmt *gorm.Statement, a *attr.Definition) (*schema.Field, error) {
	field := stmt.Schema.LookUpField(a.Path())
	if field == nil || field.DBName == "" {
		return nil, errors.Errorf("missing field %q in schema %s", a.Path(), stmt.Schema.Name)
	}
	return field, nil
}

func buildCompare(stmt *gorm.Statement, c *filter.Compare, negate bool) (clause.Expression, error) {
	if negate {
		if op, ok := complements[c.Op.Name()]; ok {
			op = op.IgnoreCase(c.Op.IgnoresCase()).IgnoreSpaces(c.Op.IgnoresSpaces())
			return buildCompare(stmt, &filter.Compare{Attr: c.Attr, Op: op, Value: c.Value}, false)
		}
	}
	field, err := lookupField(stmt, c.Attr)
	if err != nil {
		return nil, err
	}
	typ := c.Attr.Type()
	if c.Op.StringMatch() && typ != attr.TypeString {
		return nil, errors.Errorf("operator %s on %s", c.Op.Name(), typ)
	}
	if c.Op.Ordered() && !typ.Ordered() {
		return nil, errors.Errorf("operator %s on %s", c.Op.Name(), typ)
	}

	var column any = clause.Column{Table: stmt.Table, Name: field.DBName}
	if typ == attr.TypeString && (c.Op.IgnoresSpaces() || c.Op.IgnoresCase()) {
		sql := stmt.Quote(column)
		if c.Op.IgnoresSpaces() {
			sql = fmt.Sprintf(`REPLACE(%s, ' ', '')`, sql)
		}
		if c.Op.IgnoresCase() {
			sql = fmt.Sprintf(`LOWER(%s)`, sql)
		}
		column = clause.Expr{SQL: sql}
	}
	nullable := !field.NotNull && !field.PrimaryKey
	orNull := func(expr clause.Expression) clause.Expression {
		if !nullable {
			return expr
		}
		return clause.Or(expr, clause.Eq{Column: column, Value: nil})
	}

	base := c.Op.Base()
	switch base {
	case filter.IsNull:
		return clause.Eq{Column: column, Value: nil}, nil
	case filter.IsNotNull:
		return clause.Neq{Column: column, Value: nil}, nil
	case filter.IsEmpty:
		if typ != attr.TypeString {
			return clause.Eq{Column: column, Value: nil}, nil
		}
		return clause.Or(clause.Eq{Column: column, Value: nil}, clause.Eq{Column: column, Value: ""}), nil
	case filter.IsNotEmpty:
		if typ != attr.TypeString {
			return clause.Neq{Column: column, Value: nil}, nil
		}
		return clause.And(clause.Neq{Column: column, Value: nil}, clause.Neq{Column: column, Value: ""}), nil
	}

	if c.Op.List() {
		list, err := attr.NormalizeList(typ, c.Value)
		if err != nil {
			return nil, errors.Wrapf(err, "value of %s", c)
		}
		list = lo.Map(list, func(v any, _ int) any { return normalizeString(c.Op, v) })
		in := clause.IN{Column: column, Values: list}
		if base == filter.In {
			return in, nil
		}
		return orNull(clause.Not(in)), nil
	}

	value, err := attr.Normalize(typ, c.Value)
	if err != nil {
		return nil, errors.Wrapf(err, "value of %s", c)
	}
	value = normalizeString(c.Op, value)

	switch base {
	case filter.Eq:
		return clause.Eq{Column: column, Value: value}, nil
	case filter.Neq:
		return orNull(clause.Neq{Column: column, Value: value}), nil
	}

	pos, err := buildValueCompare(base, column, value)
	if err != nil {
		return nil, errors.Wrapf(err, "field %q", field.Name)
	}
	if negate {
		return orNull(clause.Not(pos)), nil
	}
	return pos, nil
}

func buildValueCompare(base filter.Operator, column, value any) (clause.Expression, error) {
	switch base {
	case filter.Lt:
		return clause.Lt{Column: column, Value: value}, nil
	case filter.Lte:
		return clause.Lte{Column: column, Value: value}, nil
	case filter.Gt:
		return clause.Gt{Column: column, Value: value}, nil
	case filter.Gte:
		return clause.Gte{Column: column, Value: value}, nil
	case filter.Contains:
		return clause.Like{Column: column, Value: "%" + escapeLike(value.(string)) + "%"}, nil
	case filter.StartsWith:
		return clause.Like{Column: column, Value: escapeLike(value.(string)) + "%"}, nil
	case filter.EndsWith:
		return clause.Like{Column: column, Value: "%" + escapeLike(value.(string))}, nil
	}
	return nil, errors.Errorf("unknown operator %s", base)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func normalizeString(op filter.Operator, v any) any {
	if s, ok := v.(string); ok {
		return op.NormalizeString(s)
	}
	return v
}

// BuildOrder translates o into order by columns. Null placement is left to the database.
func BuildOrder(stmt *gorm.Statement, o order.Order) ([]clause.OrderByColumn, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	columns := make([]clause.OrderByColumn, 0, len(o))
	for _, spec := range o {
		field, err := lookupField(stmt, spec.Attr)
		if err != nil {
			return nil, err
		}
		columns = append(columns, clause.OrderByColumn{
			Column: clause.Column{Table: stmt.Table, Name: field.DBName},
			Desc:   !spec.Ascending,
		})
	}
	return columns, nil
}

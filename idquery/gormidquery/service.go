package gormidquery

import (
	"context"
	"reflect"
	"slices"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"

	"github.com/theplant/pageable/attr"
	"github.com/theplant/pageable/filter/gormfilter"
	"github.com/theplant/pageable/order"
	"github.com/theplant/pageable/query"
)

// BaseParamScope narrows a query by the value of one base param.
type BaseParamScope func(db *gorm.DB, value any) *gorm.DB

type options struct {
	scopes     []func(db *gorm.DB) *gorm.DB
	baseParams map[string]BaseParamScope
}

type Option func(*options)

// WithScopes applies scopes to every query, before the filter.
func WithScopes(scopes ...func(db *gorm.DB) *gorm.DB) Option {
	return func(o *options) {
		o.scopes = append(o.scopes, scopes...)
	}
}

// WithBaseParam registers how the base param key is applied. Unregistered base params are rejected.
func WithBaseParam(key string, scope BaseParamScope) Option {
	return func(o *options) {
		o.baseParams[key] = scope
	}
}

// Service serves ids and items of the model M from a database table.
// Ids are plucked from the primary key, which also breaks ties in the sort order.
type Service[ID comparable, M any] struct {
	db      *gorm.DB
	opts    options
	pk      *schema.Field
	primary order.Spec
}

func New[ID comparable, M any](db *gorm.DB, opts ...Option) *Service[ID, M] {
	if db == nil {
		panic("db must be set")
	}
	o := options{baseParams: map[string]BaseParamScope{}}
	for _, opt := range opts {
		opt(&o)
	}

	stmt := &gorm.Statement{DB: db}
	if err := stmt.Parse(new(M)); err != nil {
		panic(errors.Wrap(err, "parse schema with db"))
	}
	pk := stmt.Schema.PrioritizedPrimaryField
	if pk == nil {
		panic("model " + stmt.Schema.Name + " has no primary key")
	}
	return &Service[ID, M]{
		db:      db,
		opts:    o,
		pk:      pk,
		primary: order.Asc(attr.ByPath(pk.Name, pk.Name, attrType(pk.DataType))),
	}
}

func attrType(t schema.DataType) attr.Type {
	switch t {
	case schema.Int, schema.Uint:
		return attr.TypeInt
	case schema.Float:
		return attr.TypeFloat
	case schema.Bool:
		return attr.TypeBool
	case schema.Time:
		return attr.TypeTime
	}
	return attr.TypeString
}

// IDOf reads the primary key of item.
func (s *Service[ID, M]) IDOf(item *M) ID {
	v, _ := s.pk.ValueOf(context.Background(), reflect.ValueOf(item))
	id, _ := v.(ID)
	return id
}

func (s *Service[ID, M]) model(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Model(new(M)).Scopes(s.opts.scopes...)
}

func (s *Service[ID, M]) query(ctx context.Context, params *query.Params) (*gorm.DB, error) {
	db := s.model(ctx)
	base := params.BaseParams()
	keys := lo.Keys(base)
	slices.Sort(keys)
	for _, key := range keys {
		scope, ok := s.opts.baseParams[key]
		if !ok {
			return nil, errors.Errorf("unsupported base param %q", key)
		}
		db = scope(db, base[key])
	}
	return db.Scopes(gormfilter.Scope(params.EffectiveFilter())), nil
}

func (s *Service[ID, M]) byIDs(ids []ID) clause.Expression {
	return clause.IN{
		Column: clause.Column{Table: clause.CurrentTable, Name: s.pk.DBName},
		Values: lo.ToAnySlice(ids),
	}
}

func (s *Service[ID, M]) FindIDs(ctx context.Context, params *query.Params, start, pageSize int) ([]ID, error) {
	db, err := s.query(ctx, params)
	if err != nil {
		return nil, err
	}
	o := order.AppendPrimary(params.EffectiveSortOrder(), s.primary)
	db = db.Scopes(gormfilter.OrderScope(o)).Offset(start)
	if pageSize >= 0 {
		db = db.Limit(pageSize)
	}
	var ids []ID
	if err := db.Pluck(s.pk.DBName, &ids).Error; err != nil {
		return nil, errors.Wrap(err, "pluck ids")
	}
	return ids, nil
}

func (s *Service[ID, M]) GetItems(ctx context.Context, ids []ID) ([]*M, error) {
	if len(ids) == 0 {
		return []*M{}, nil
	}
	var items []*M
	if err := s.model(ctx).Where(s.byIDs(ids)).Find(&items).Error; err != nil {
		return nil, errors.Wrap(err, "find items")
	}
	return items, nil
}

func (s *Service[ID, M]) CountItems(ctx context.Context, params *query.Params) (int, error) {
	db, err := s.query(ctx, params)
	if err != nil {
		return 0, err
	}
	var count int64
	if err := db.Count(&count).Error; err != nil {
		return 0, errors.Wrap(err, "count items")
	}
	return int(count), nil
}

func (s *Service[ID, M]) RemoveItems(ctx context.Context, ids []ID) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.model(ctx).Where(s.byIDs(ids)).Delete(new(M)).Error; err != nil {
		return errors.Wrap(err, "delete items")
	}
	return nil
}

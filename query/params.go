package query

import (
	"maps"
	"reflect"
	"slices"

	"github.com/theplant/pageable/event"
	"github.com/theplant/pageable/filter"
	"github.com/theplant/pageable/order"
)

const (
	TopicEffectiveSortOrder event.Topic = "EFFECTIVE_SORT_ORDER"
	TopicEffectiveFilter    event.Topic = "EFFECTIVE_FILTER"
	TopicExecEnabled        event.Topic = "EXEC_ENABLED"
	TopicBaseParams         event.Topic = "BASE_PARAMS"
)

// Params holds the mutable query parameters of one collection.
// Setters fire a notification on the events channel only when the effective value changes.
type Params struct {
	sortOrder        order.Order
	defaultSortOrder order.Order
	filter           filter.Expression
	execEnabled      bool
	base             map[string]any
	events           *event.Channel
}

// New returns params with execution enabled and no filter or sort order.
func New() *Params {
	return &Params{
		execEnabled: true,
		base:        map[string]any{},
		events:      event.New(),
	}
}

func (p *Params) Events() *event.Channel { return p.events }

func (p *Params) SortOrder() order.Order        { return slices.Clone(p.sortOrder) }
func (p *Params) DefaultSortOrder() order.Order { return slices.Clone(p.defaultSortOrder) }

// EffectiveSortOrder is the explicit sort order, or the default one when unset.
func (p *Params) EffectiveSortOrder() order.Order {
	if len(p.sortOrder) > 0 {
		return p.sortOrder
	}
	return p.defaultSortOrder
}

// SetSortOrder overrides the sort order with a copy of o. Nil reverts to the default sort order.
func (p *Params) SetSortOrder(o order.Order) {
	p.changeSortOrder(func() { p.sortOrder = slices.Clone(o) })
}

func (p *Params) SetDefaultSortOrder(o order.Order) {
	p.changeSortOrder(func() { p.defaultSortOrder = slices.Clone(o) })
}

func (p *Params) changeSortOrder(set func()) {
	old := p.EffectiveSortOrder()
	set()
	if updated := p.EffectiveSortOrder(); !order.Equal(old, updated) {
		p.events.Fire(&event.Event{Topic: TopicEffectiveSortOrder, Old: old, New: updated})
	}
}

func (p *Params) Filter() filter.Expression { return filter.Clone(p.filter) }

// EffectiveFilter is the filter without ineffective leaves, nil when nothing filters.
func (p *Params) EffectiveFilter() filter.Expression {
	return filter.Simplify(p.filter)
}

// SetFilter replaces the filter with a copy of expr.
func (p *Params) SetFilter(expr filter.Expression) {
	old := p.EffectiveFilter()
	p.filter = filter.Clone(expr)
	if updated := p.EffectiveFilter(); !filter.Equal(old, updated) {
		p.events.Fire(&event.Event{Topic: TopicEffectiveFilter, Old: old, New: updated})
	}
}

// ExecEnabled reports whether queries run at all. A disabled query yields no items.
func (p *Params) ExecEnabled() bool { return p.execEnabled }

func (p *Params) SetExecEnabled(enabled bool) {
	if p.execEnabled == enabled {
		return
	}
	p.execEnabled = enabled
	p.events.Fire(&event.Event{Topic: TopicExecEnabled, Old: !enabled, New: enabled})
}

// BaseParams returns a copy of the free-form parameters passed to remote services.
func (p *Params) BaseParams() map[string]any {
	return maps.Clone(p.base)
}

func (p *Params) BaseParam(key string) (any, bool) {
	v, ok := p.base[key]
	return v, ok
}

func (p *Params) SetBaseParam(key string, value any) {
	old, ok := p.base[key]
	if ok && reflect.DeepEqual(old, value) {
		return
	}
	p.base[key] = value
	p.events.Fire(&event.Event{Topic: TopicBaseParams, Old: old, New: value})
}

func (p *Params) DeleteBaseParam(key string) {
	old, ok := p.base[key]
	if !ok {
		return
	}
	delete(p.base, key)
	p.events.Fire(&event.Event{Topic: TopicBaseParams, Old: old})
}

// OnChange registers fn for every topic that changes the query result.
func (p *Params) OnChange(fn func(e *event.Event)) (unsubscribe func()) {
	unsubscribes := []func(){
		p.events.On(TopicEffectiveSortOrder, fn),
		p.events.On(TopicEffectiveFilter, fn),
		p.events.On(TopicExecEnabled, fn),
		p.events.On(TopicBaseParams, fn),
	}
	return func() {
		for _, u := range unsubscribes {
			u()
		}
	}
}

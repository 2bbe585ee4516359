package idquery

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/theplant/pageable/query"
)

// Unlimited as page size asks FindIDs for every matching id.
const Unlimited = -1

// Service is the remote side of an id paging collection.
// FindIDs filters, sorts and windows on the remote side and returns identifiers only.
// GetItems hydrates a batch of ids; the result may be in any order and may miss ids
// that no longer exist.
type Service[ID comparable, T any] interface {
	FindIDs(ctx context.Context, params *query.Params, start, pageSize int) ([]ID, error)
	GetItems(ctx context.Context, ids []ID) ([]T, error)
}

// Counter is implemented by services that can count matching items in a separate query.
type Counter interface {
	CountItems(ctx context.Context, params *query.Params) (int, error)
}

// Remover is implemented by services that can delete items.
type Remover[ID comparable] interface {
	RemoveItems(ctx context.Context, ids []ID) error
}

// ServiceFuncs is the hookable form of a service. Optional operations are nil when unsupported.
type ServiceFuncs[ID comparable, T any] struct {
	FindIDs     func(ctx context.Context, params *query.Params, start, pageSize int) ([]ID, error)
	GetItems    func(ctx context.Context, ids []ID) ([]T, error)
	CountItems  func(ctx context.Context, params *query.Params) (int, error)
	RemoveItems func(ctx context.Context, ids []ID) error
}

// Hook wraps service funcs, typically calling through to next.
type Hook[ID comparable, T any] = func(next *ServiceFuncs[ID, T]) *ServiceFuncs[ID, T]

// FuncsOf captures svc together with its optional Counter and Remover implementations.
func FuncsOf[ID comparable, T any](svc Service[ID, T]) *ServiceFuncs[ID, T] {
	if svc == nil {
		panic("service must be set")
	}
	funcs := &ServiceFuncs[ID, T]{
		FindIDs:  svc.FindIDs,
		GetItems: svc.GetItems,
	}
	if counter, ok := svc.(Counter); ok {
		funcs.CountItems = counter.CountItems
	}
	if remover, ok := svc.(Remover[ID]); ok {
		funcs.RemoveItems = remover.RemoveItems
	}
	return funcs
}

// clone returns a shallow copy so hooks can replace single funcs.
func (f *ServiceFuncs[ID, T]) clone() *ServiceFuncs[ID, T] {
	c := *f
	return &c
}

var (
	// ErrMaxResults is matched by every *MaxResultsViolationError.
	ErrMaxResults = errors.New("max results exceeded")
	// ErrCountNotSupported reports an extra count query against a service without Counter.
	ErrCountNotSupported = errors.New("service does not support counting")
)

// MaxResultsViolationError reports a count or id scan that would exceed the configured ceiling.
type MaxResultsViolationError struct {
	Max int
	// Count is the number of matching items, or -1 when the scan was cut off at the ceiling.
	Count int
}

func (e *MaxResultsViolationError) Error() string {
	if e.Count < 0 {
		return fmt.Sprintf("more than %d results", e.Max)
	}
	return fmt.Sprintf("%d results exceed the maximum of %d", e.Count, e.Max)
}

func (e *MaxResultsViolationError) Is(target error) bool {
	return target == ErrMaxResults
}

package memfilter

import (
	"maps"
	"strings"

	"github.com/pkg/errors"

	"github.com/theplant/pageable/attr"
	"github.com/theplant/pageable/filter"
)

// ErrEvaluatorNotRegistered reports an operator that has no evaluator for an attribute type.
// It is a configuration error, never a property of the data.
var ErrEvaluatorNotRegistered = errors.New("evaluator not registered")

// Func decides a compare leaf. value is the normalized attribute value of the item, nil when absent.
// arg is the normalized compare value: nil for operators without value, []any for list operators.
type Func func(op filter.Operator, value, arg any) (bool, error)

type registryKey struct {
	typ attr.Type
	op  string
}

// Registry maps (attribute type, operator) pairs to evaluators.
type Registry struct {
	funcs map[registryKey]Func
}

func NewRegistry() *Registry {
	return &Registry{funcs: map[registryKey]Func{}}
}

// Register sets the evaluator of op for typ. Operator modifiers are ignored.
func (r *Registry) Register(typ attr.Type, op filter.Operator, fn Func) *Registry {
	if fn == nil {
		panic("evaluator func must be set")
	}
	r.funcs[registryKey{typ: typ, op: op.Name()}] = fn
	return r
}

func (r *Registry) Lookup(typ attr.Type, op filter.Operator) (Func, error) {
	fn, ok := r.funcs[registryKey{typ: typ, op: op.Name()}]
	if !ok {
		return nil, errors.Wrapf(ErrEvaluatorNotRegistered, "operator %s on %s", op.Name(), typ)
	}
	return fn, nil
}

// Clone returns an independent copy that can be extended without touching the receiver.
func (r *Registry) Clone() *Registry {
	return &Registry{funcs: maps.Clone(r.funcs)}
}

// DefaultRegistry covers every built-in operator for the types where it is meaningful.
// Ordered operators are not registered for booleans and string matching only for strings.
var DefaultRegistry = newDefaultRegistry()

var allTypes = []attr.Type{attr.TypeString, attr.TypeInt, attr.TypeFloat, attr.TypeBool, attr.TypeTime}

func newDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, typ := range allTypes {
		r.Register(typ, filter.Eq, equals).
			Register(typ, filter.Neq, not(equals, true)).
			Register(typ, filter.In, in).
			Register(typ, filter.NotIn, not(in, true)).
			Register(typ, filter.IsNull, isNull).
			Register(typ, filter.IsNotNull, not(isNull, false)).
			Register(typ, filter.IsEmpty, isEmpty).
			Register(typ, filter.IsNotEmpty, not(isEmpty, false))
		if typ.Ordered() {
			r.Register(typ, filter.Lt, ordered(func(c int) bool { return c < 0 })).
				Register(typ, filter.Lte, ordered(func(c int) bool { return c <= 0 })).
				Register(typ, filter.Gt, ordered(func(c int) bool { return c > 0 })).
				Register(typ, filter.Gte, ordered(func(c int) bool { return c >= 0 }))
		}
	}
	r.Register(attr.TypeString, filter.Contains, stringMatch(strings.Contains)).
		Register(attr.TypeString, filter.StartsWith, stringMatch(strings.HasPrefix)).
		Register(attr.TypeString, filter.EndsWith, stringMatch(strings.HasSuffix))
	return r
}

// not negates fn. Absent item values yield nilResult.
func not(fn Func, nilResult bool) Func {
	return func(op filter.Operator, value, arg any) (bool, error) {
		if value == nil {
			return nilResult, nil
		}
		ok, err := fn(op, value, arg)
		return !ok, err
	}
}

func equals(op filter.Operator, value, arg any) (bool, error) {
	if value == nil || arg == nil {
		return false, nil
	}
	c, err := attr.Compare(normalizeString(op, value), normalizeString(op, arg))
	if err != nil {
		return false, err
	}
	return c == 0, nil
}

func in(op filter.Operator, value, arg any) (bool, error) {
	list, ok := arg.([]any)
	if !ok {
		return false, errors.Errorf("operator %s expects a list, got %T", op.Name(), arg)
	}
	for _, v := range list {
		ok, err := equals(op, value, v)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func isNull(_ filter.Operator, value, _ any) (bool, error) {
	return value == nil, nil
}

func isEmpty(op filter.Operator, value, _ any) (bool, error) {
	if value == nil {
		return true, nil
	}
	if s, ok := value.(string); ok {
		return op.NormalizeString(s) == "", nil
	}
	return false, nil
}

func ordered(accept func(c int) bool) Func {
	return func(op filter.Operator, value, arg any) (bool, error) {
		if value == nil || arg == nil {
			return false, nil
		}
		c, err := attr.Compare(normalizeString(op, value), normalizeString(op, arg))
		if err != nil {
			return false, err
		}
		return accept(c), nil
	}
}

func stringMatch(match func(s, sub string) bool) Func {
	return func(op filter.Operator, value, arg any) (bool, error) {
		if value == nil {
			return false, nil
		}
		s, ok := value.(string)
		if !ok {
			return false, errors.Errorf("operator %s expects a string value, got %T", op.Name(), value)
		}
		sub, ok := arg.(string)
		if !ok {
			return false, errors.Errorf("operator %s expects a string argument, got %T", op.Name(), arg)
		}
		return match(op.NormalizeString(s), op.NormalizeString(sub)), nil
	}
}

func normalizeString(op filter.Operator, v any) any {
	if s, ok := v.(string); ok {
		return op.NormalizeString(s)
	}
	return v
}

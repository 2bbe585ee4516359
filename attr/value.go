package attr

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"golang.org/x/exp/constraints"
)

var jsonNumberType = reflect.TypeOf(json.Number(""))

// Normalize converts v into the canonical representation of typ:
// string, int64, float64, bool or time.Time. Nil values and nil pointers become nil.
func Normalize(typ Type, v any) (any, error) {
	if lo.IsNil(v) {
		return nil, nil
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, nil
		}
		rv = rv.Elem()
	}

	switch typ {
	case TypeString:
		if rv.Kind() == reflect.String {
			return rv.String(), nil
		}
		if s, ok := rv.Interface().(fmt.Stringer); ok {
			return s.String(), nil
		}
	case TypeInt:
		if rv.Type() == jsonNumberType {
			n, err := rv.Interface().(json.Number).Int64()
			if err != nil {
				return nil, errors.Wrapf(err, "parse %s as %s", rv.String(), typ)
			}
			return n, nil
		}
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return rv.Int(), nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
			u := rv.Uint()
			if u > math.MaxInt64 {
				return nil, errors.Errorf("%d overflows %s", u, typ)
			}
			return int64(u), nil
		case reflect.Float32, reflect.Float64:
			f := rv.Float()
			if f != math.Trunc(f) {
				break
			}
			// 2^63 is exact as a float64, math.MaxInt64 is not
			if f < -(1<<63) || f >= 1<<63 {
				return nil, errors.Errorf("%g overflows %s", f, typ)
			}
			return int64(f), nil
		}
	case TypeFloat:
		if rv.Type() == jsonNumberType {
			f, err := rv.Interface().(json.Number).Float64()
			if err != nil {
				return nil, errors.Wrapf(err, "parse %s as %s", rv.String(), typ)
			}
			return f, nil
		}
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return float64(rv.Int()), nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return float64(rv.Uint()), nil
		case reflect.Float32, reflect.Float64:
			return rv.Float(), nil
		}
	case TypeBool:
		if rv.Kind() == reflect.Bool {
			return rv.Bool(), nil
		}
	case TypeTime:
		if t, ok := rv.Interface().(time.Time); ok {
			return t, nil
		}
		if rv.Kind() == reflect.String {
			t, err := time.Parse(time.RFC3339Nano, rv.String())
			if err != nil {
				return nil, errors.Wrapf(err, "parse %q as %s", rv.String(), typ)
			}
			return t, nil
		}
	default:
		return nil, errors.Errorf("unknown attribute type %q", typ)
	}
	return nil, errors.Errorf("cannot use %v (%T) as %s value", v, v, typ)
}

// NormalizeList normalizes every element of a slice or array value.
func NormalizeList(typ Type, v any) ([]any, error) {
	if lo.IsNil(v) {
		return nil, nil
	}
	rv := reflect.Indirect(reflect.ValueOf(v))
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, errors.Errorf("expected a list of %s values, got %T", typ, v)
	}
	list := make([]any, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		nv, err := Normalize(typ, rv.Index(i).Interface())
		if err != nil {
			return nil, errors.Wrapf(err, "index %d", i)
		}
		list = append(list, nv)
	}
	return list, nil
}

// Compare orders two normalized values of the same type. Nil sorts before any value.
func Compare(a, b any) (int, error) {
	switch {
	case a == nil && b == nil:
		return 0, nil
	case a == nil:
		return -1, nil
	case b == nil:
		return 1, nil
	}
	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return compareOrdered(av, bv), nil
		}
	case int64:
		switch bv := b.(type) {
		case int64:
			return compareOrdered(av, bv), nil
		case float64:
			return compareOrdered(float64(av), bv), nil
		}
	case float64:
		switch bv := b.(type) {
		case float64:
			return compareOrdered(av, bv), nil
		case int64:
			return compareOrdered(av, float64(bv)), nil
		}
	case bool:
		if bv, ok := b.(bool); ok {
			return compareOrdered(lo.Ternary(av, 1, 0), lo.Ternary(bv, 1, 0)), nil
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv), nil
		}
	}
	return 0, errors.Errorf("cannot compare %v (%T) with %v (%T)", a, a, b, b)
}

func compareOrdered[V constraints.Ordered](a, b V) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

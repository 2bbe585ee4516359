package protofilter

import (
	"reflect"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/theplant/pageable/attr"
	"github.com/theplant/pageable/filter"
)

var jsoniterForMessage = jsoniter.Config{
	UseNumber:              true,
	ValidateJsonRawMessage: true,
}.Froze()

// FromStruct parses a filter carried as google.protobuf.Struct.
// Keys may be camelCase, see filter.NormalizeKeys.
func FromStruct(s *structpb.Struct, attrs attr.Set) (filter.Expression, error) {
	if s == nil {
		return nil, nil
	}
	return fromMap(s.AsMap(), attrs)
}

// FromMessage parses a filter message through its protojson form. Enums arrive as their
// names, timestamps as RFC 3339 strings and 64-bit integers as strings or exact numbers.
func FromMessage(msg proto.Message, attrs attr.Set) (filter.Expression, error) {
	if lo.IsNil(msg) {
		return nil, nil
	}
	data, err := protojson.Marshal(msg)
	if err != nil {
		return nil, errors.Wrap(err, "marshal filter message")
	}
	var m map[string]any
	if err := jsoniterForMessage.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "unmarshal filter message")
	}
	return fromMap(m, attrs)
}

func fromMap(m map[string]any, attrs attr.Set) (filter.Expression, error) {
	m = filter.NormalizeKeys(m, func(key string) bool {
		_, ok := attrs.Get(key)
		return ok
	})
	expr, err := filter.FromMap(m, attrs)
	if err != nil {
		return nil, errors.Wrap(err, "parse filter")
	}
	return expr, nil
}

// ToStruct encodes expr in the filter map form. Times become RFC 3339 strings.
// It returns nil if expr does not filter anything.
func ToStruct(expr filter.Expression) (*structpb.Struct, error) {
	m := filter.ToMap(expr)
	if m == nil {
		return nil, nil
	}
	s, err := structpb.NewStruct(protoValue(m).(map[string]any))
	if err != nil {
		return nil, errors.Wrap(err, "encode filter")
	}
	return s, nil
}

// protoValue converts v into the value types structpb accepts.
func protoValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case map[string]any:
		return lo.MapValues(x, func(item any, _ string) any { return protoValue(item) })
	case []any:
		return lo.Map(x, func(item any, _ int) any { return protoValue(item) })
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		return protoValue(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return v
		}
		list := make([]any, rv.Len())
		for i := range list {
			list[i] = protoValue(rv.Index(i).Interface())
		}
		return list
	}
	return v
}

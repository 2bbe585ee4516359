package attr

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/sunfmin/reflectutils"
	"github.com/tidwall/gjson"
)

// Type tags the value type of an attribute.
type Type string

const (
	TypeString Type = "STRING"
	TypeInt    Type = "INT"
	TypeFloat  Type = "FLOAT"
	TypeBool   Type = "BOOL"
	TypeTime   Type = "TIME"
)

// Ordered reports whether values of the type have a natural ordering usable by Lt/Gt style operators.
func (t Type) Ordered() bool {
	switch t {
	case TypeString, TypeInt, TypeFloat, TypeTime:
		return true
	}
	return false
}

// Resolver extracts the raw value of an attribute from an item.
type Resolver func(item any) (any, error)

// Definition is a named, typed path into an item.
// It is immutable after construction and is identified by its name within a query scope.
type Definition struct {
	name    string
	path    string
	typ     Type
	title   string
	resolve Resolver
}

type Option func(*Definition)

// WithTitle sets a human readable title.
func WithTitle(title string) Option {
	return func(d *Definition) {
		d.title = title
	}
}

// WithPath overrides the access path, which defaults to the name.
// The path is what storage adapters translate to columns.
func WithPath(path string) Option {
	return func(d *Definition) {
		d.path = path
	}
}

// Define creates a definition with a custom resolver.
func Define(name string, typ Type, resolve Resolver, opts ...Option) *Definition {
	if name == "" {
		panic("attribute name must be set")
	}
	if resolve == nil {
		panic("attribute resolver must be set")
	}
	d := &Definition{
		name:    name,
		path:    name,
		typ:     typ,
		resolve: resolve,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// New creates a definition whose value is read by a typed accessor.
func New[T any](name string, typ Type, get func(item T) any, opts ...Option) *Definition {
	if get == nil {
		panic("attribute accessor must be set")
	}
	return Define(name, typ, func(item any) (any, error) {
		v, ok := item.(T)
		if !ok {
			var zero T
			return nil, errors.Errorf("attribute %q expects item of type %T, got %T", name, zero, item)
		}
		return get(v), nil
	}, opts...)
}

// ByPath creates a definition that reads a dotted struct field path such as "Company.Name".
func ByPath(name, path string, typ Type, opts ...Option) *Definition {
	opts = append([]Option{WithPath(path)}, opts...)
	return Define(name, typ, func(item any) (any, error) {
		v, err := reflectutils.Get(item, path)
		if err != nil {
			return nil, errors.Wrapf(err, "get path %q", path)
		}
		return v, nil
	}, opts...)
}

// JSON creates a definition that reads a gjson path from raw JSON items ([]byte, json.RawMessage or string).
func JSON(name, path string, typ Type, opts ...Option) *Definition {
	opts = append([]Option{WithPath(path)}, opts...)
	return Define(name, typ, func(item any) (any, error) {
		var result gjson.Result
		switch v := item.(type) {
		case []byte:
			result = gjson.GetBytes(v, path)
		case json.RawMessage:
			result = gjson.GetBytes(v, path)
		case string:
			result = gjson.Get(v, path)
		default:
			return nil, errors.Errorf("attribute %q expects raw JSON item, got %T", name, item)
		}
		if !result.Exists() || result.Type == gjson.Null {
			return nil, nil
		}
		return result.Value(), nil
	}, opts...)
}

func (d *Definition) Name() string  { return d.name }
func (d *Definition) Path() string  { return d.path }
func (d *Definition) Type() Type    { return d.typ }
func (d *Definition) Title() string { return d.title }

// Raw returns the unnormalized value of the attribute.
func (d *Definition) Raw(item any) (any, error) {
	v, err := d.resolve(item)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve attribute %q", d.name)
	}
	return v, nil
}

// Value returns the attribute value of item normalized to the attribute type.
func (d *Definition) Value(item any) (any, error) {
	v, err := d.Raw(item)
	if err != nil {
		return nil, err
	}
	nv, err := Normalize(d.typ, v)
	if err != nil {
		return nil, errors.Wrapf(err, "attribute %q", d.name)
	}
	return nv, nil
}

func (d *Definition) String() string {
	return d.name
}

// Set indexes definitions by name. Later definitions with the same name win.
type Set map[string]*Definition

func NewSet(defs ...*Definition) Set {
	s := make(Set, len(defs))
	for _, d := range defs {
		s[d.name] = d
	}
	return s
}

func (s Set) Get(name string) (*Definition, bool) {
	d, ok := s[name]
	return d, ok
}

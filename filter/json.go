package filter

import (
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/tidwall/sjson"

	"github.com/theplant/pageable/attr"
)

// TagKey is the tag key used to marshal and unmarshal filter documents.
const TagKey = "~~~filter~~~"

// use struct field name as key and keep numbers exact
var jsoniterForFilter = jsoniter.Config{
	EscapeHTML:             true,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
	UseNumber:              true,
	TagKey:                 TagKey,
}.Froze()

// ToJSON encodes an expression as a JSON filter document in the same shape as ToMap.
func ToJSON(expr Expression) ([]byte, error) {
	expr = Simplify(expr)
	if expr == nil {
		return []byte("null"), nil
	}
	return toJSON(expr)
}

func toJSON(expr Expression) ([]byte, error) {
	switch e := expr.(type) {
	case And:
		return listJSON(KeyAnd, e)
	case Or:
		return listJSON(KeyOr, e)
	case Not:
		inner, err := toJSON(e.Expr)
		if err != nil {
			return nil, err
		}
		return sjson.SetRawBytes([]byte("{}"), KeyNot, inner)
	case *Compare:
		field := escapePath(e.Attr.Name())
		var key string
		var value any
		switch e.Op.Base() {
		case IsNull, IsNotNull:
			key, value = IsNull.Name(), e.Op.Base() == IsNull
		case IsEmpty, IsNotEmpty:
			key, value = IsEmpty.Name(), e.Op.Base() == IsEmpty
		default:
			key, value = e.Op.Name(), e.Value
		}
		doc, err := sjson.SetBytes([]byte("{}"), field+"."+key, value)
		if err != nil {
			return nil, errors.Wrapf(err, "set %s.%s", e.Attr.Name(), key)
		}
		if e.Op.IgnoresCase() {
			if doc, err = sjson.SetBytes(doc, field+"."+KeyFold, true); err != nil {
				return nil, errors.Wrap(err, "set fold")
			}
		}
		if e.Op.IgnoresSpaces() {
			if doc, err = sjson.SetBytes(doc, field+"."+KeyIgnoreSpaces, true); err != nil {
				return nil, errors.Wrap(err, "set ignore spaces")
			}
		}
		return doc, nil
	}
	return nil, errors.Errorf("unsupported expression %T", expr)
}

func listJSON(key string, children []Expression) ([]byte, error) {
	doc, err := sjson.SetRawBytes([]byte("{}"), key, []byte("[]"))
	if err != nil {
		return nil, errors.Wrapf(err, "init %s", key)
	}
	for i, child := range children {
		raw, err := toJSON(child)
		if err != nil {
			return nil, errors.Wrapf(err, "%s index %d", key, i)
		}
		doc, err = sjson.SetRawBytes(doc, key+".-1", raw)
		if err != nil {
			return nil, errors.Wrapf(err, "append %s index %d", key, i)
		}
	}
	return doc, nil
}

var pathEscaper = strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`, "|", `\|`, "#", `\#`, "@", `\@`)

func escapePath(s string) string {
	return pathEscaper.Replace(s)
}

// FromJSON decodes a JSON filter document.
func FromJSON(data []byte, attrs attr.Set) (Expression, error) {
	var m map[string]any
	if err := jsoniterForFilter.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "unmarshal filter")
	}
	return FromMap(m, attrs)
}

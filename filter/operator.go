package filter

import (
	"reflect"
	"strings"
	"unicode"

	"github.com/samber/lo"
)

// ValueNeeded describes whether an operator consumes a compare value.
type ValueNeeded int

const (
	ValueRequired ValueNeeded = iota
	ValueOptional
	ValueNone
)

type operatorKind int

const (
	kindScalar operatorKind = iota
	kindOrdered
	kindList
	kindString
	kindPresence
)

// Operator is one of the closed set of compare operators.
// String operators can be configured with IgnoreCase and IgnoreSpaces,
// which return a copy and leave the receiver unchanged.
type Operator struct {
	name         string
	needed       ValueNeeded
	kind         operatorKind
	ignoreCase   bool
	ignoreSpaces bool
}

var (
	Eq  = Operator{name: "Eq", needed: ValueRequired, kind: kindScalar}
	Neq = Operator{name: "Neq", needed: ValueRequired, kind: kindScalar}
	Lt  = Operator{name: "Lt", needed: ValueRequired, kind: kindOrdered}
	Lte = Operator{name: "Lte", needed: ValueRequired, kind: kindOrdered}
	Gt  = Operator{name: "Gt", needed: ValueRequired, kind: kindOrdered}
	Gte = Operator{name: "Gte", needed: ValueRequired, kind: kindOrdered}

	In    = Operator{name: "In", needed: ValueRequired, kind: kindList}
	NotIn = Operator{name: "NotIn", needed: ValueRequired, kind: kindList}

	IsNull     = Operator{name: "IsNull", needed: ValueNone, kind: kindPresence}
	IsNotNull  = Operator{name: "IsNotNull", needed: ValueNone, kind: kindPresence}
	IsEmpty    = Operator{name: "IsEmpty", needed: ValueNone, kind: kindPresence}
	IsNotEmpty = Operator{name: "IsNotEmpty", needed: ValueNone, kind: kindPresence}

	Contains   = Operator{name: "Contains", needed: ValueRequired, kind: kindString}
	StartsWith = Operator{name: "StartsWith", needed: ValueRequired, kind: kindString}
	EndsWith   = Operator{name: "EndsWith", needed: ValueRequired, kind: kindString}
)

// Operators lists the operators in a stable order.
var Operators = []Operator{
	Eq, Neq, Lt, Lte, Gt, Gte, In, NotIn,
	IsNull, IsNotNull, IsEmpty, IsNotEmpty,
	Contains, StartsWith, EndsWith,
}

// OperatorByName looks up an operator by its stable identifier.
func OperatorByName(name string) (Operator, bool) {
	return lo.Find(Operators, func(op Operator) bool {
		return op.name == name
	})
}

func (o Operator) Name() string             { return o.name }
func (o Operator) ValueNeeded() ValueNeeded { return o.needed }
func (o Operator) IgnoresCase() bool        { return o.ignoreCase }
func (o Operator) IgnoresSpaces() bool      { return o.ignoreSpaces }

// Ordered reports whether the operator relies on the natural ordering of values.
func (o Operator) Ordered() bool { return o.kind == kindOrdered }

// List reports whether the operator takes a collection value.
func (o Operator) List() bool { return o.kind == kindList }

// StringMatch reports whether the operator is a substring style match.
func (o Operator) StringMatch() bool { return o.kind == kindString }

// Base returns the operator without case or space modifiers.
func (o Operator) Base() Operator {
	o.ignoreCase = false
	o.ignoreSpaces = false
	return o
}

func (o Operator) IgnoreCase(v bool) Operator {
	o.ignoreCase = v
	return o
}

func (o Operator) IgnoreSpaces(v bool) Operator {
	o.ignoreSpaces = v
	return o
}

func (o Operator) String() string {
	s := o.name
	if o.ignoreCase {
		s += "[fold]"
	}
	if o.ignoreSpaces {
		s += "[nospace]"
	}
	return s
}

// IsEffective decides whether value turns the operator into a real condition.
func (o Operator) IsEffective(value any) bool {
	switch o.needed {
	case ValueNone, ValueOptional:
		return true
	}
	if lo.IsNil(value) {
		return false
	}
	switch o.kind {
	case kindList:
		rv := reflect.Indirect(reflect.ValueOf(value))
		return (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array) && rv.Len() > 0
	case kindString:
		s, ok := reflect.Indirect(reflect.ValueOf(value)).Interface().(string)
		if !ok {
			return true
		}
		return o.NormalizeString(s) != ""
	}
	return true
}

// NormalizeString applies the case and space modifiers of the operator.
func (o Operator) NormalizeString(s string) string {
	if o.ignoreSpaces {
		s = strings.Map(func(r rune) rune {
			if unicode.IsSpace(r) {
				return -1
			}
			return r
		}, s)
	}
	if o.ignoreCase {
		s = strings.ToLower(s)
	}
	return s
}

package expr

import "strings"

// Kind classifies the value a node produces.
type Kind int

const (
	KindInvalid Kind = iota
	KindBool
	KindString
	KindInt
	KindDecimal
	KindTime
	KindList
	KindEntity
)

var kindNames = map[Kind]string{
	KindInvalid: "invalid",
	KindBool:    "bool",
	KindString:  "string",
	KindInt:     "int",
	KindDecimal: "decimal",
	KindTime:    "datetime",
	KindList:    "list",
	KindEntity:  "entity",
}

func (k Kind) String() string {
	return kindNames[k]
}

// Type describes a node's static type. Entity types are identified by Name;
// list types carry their element type.
type Type struct {
	Kind Kind
	Name string
	Elem *Type
}

var (
	Bool    = Type{Kind: KindBool}
	String  = Type{Kind: KindString}
	Int     = Type{Kind: KindInt}
	Decimal = Type{Kind: KindDecimal}
	Time    = Type{Kind: KindTime}
)

// Entity returns the type of an entity named name.
func Entity(name string) Type {
	return Type{Kind: KindEntity, Name: name}
}

// ListOf returns a list type with the given element type.
func ListOf(elem Type) Type {
	return Type{Kind: KindList, Elem: &elem}
}

// Equal reports structural type equality.
func (t Type) Equal(o Type) bool {
	if t.Kind != o.Kind || t.Name != o.Name {
		return false
	}
	if t.Elem == nil || o.Elem == nil {
		return t.Elem == nil && o.Elem == nil
	}
	return t.Elem.Equal(*o.Elem)
}

// IsScalar reports whether values of t can be compared for equality directly.
func (t Type) IsScalar() bool {
	switch t.Kind {
	case KindBool, KindString, KindInt, KindDecimal, KindTime:
		return true
	}
	return false
}

// IsOrdered reports whether t supports relational operators.
func (t Type) IsOrdered() bool {
	switch t.Kind {
	case KindInt, KindDecimal, KindTime:
		return true
	}
	return false
}

func (t Type) String() string {
	switch t.Kind {
	case KindEntity:
		return t.Name
	case KindList:
		if t.Elem == nil {
			return "[]"
		}
		return "[]" + t.Elem.String()
	default:
		return t.Kind.String()
	}
}

// ParseType parses a declared value type name (string, int, decimal, bool,
// datetime, or []<scalar>).
func ParseType(s string) (Type, bool) {
	s = strings.TrimSpace(strings.ToLower(s))
	if rest, ok := strings.CutPrefix(s, "[]"); ok {
		elem, ok := ParseType(rest)
		if !ok || !elem.IsScalar() {
			return Type{}, false
		}
		return ListOf(elem), true
	}
	switch s {
	case "string", "text":
		return String, true
	case "int", "integer":
		return Int, true
	case "decimal", "float", "numeric":
		return Decimal, true
	case "bool", "boolean":
		return Bool, true
	case "datetime", "date", "time":
		return Time, true
	}
	return Type{}, false
}

// Package expr models compiled rule predicates as an explicit expression tree.
//
// A predicate is a Lambda over one entity parameter whose body combines member
// accesses, constants, binary comparisons and a small set of method calls.
// Trees are immutable once built; transformations (parameter rebinding,
// provider substitutions) go through Rewrite and produce new nodes.
package expr

import (
	"fmt"
	"sync/atomic"
)

// Node is a typed expression tree node. The set of implementations is closed.
type Node interface {
	Type() Type
	node()
}

// Param is a bound variable. Two Params are the same variable only if they are
// the same pointer; Name is for display.
type Param struct {
	Name string
	typ  Type
	id   uint64
}

var paramSeq atomic.Uint64

// NewParam creates a fresh parameter of type t.
func NewParam(name string, t Type) *Param {
	return &Param{Name: name, typ: t, id: paramSeq.Add(1)}
}

func (p *Param) Type() Type { return p.typ }
func (p *Param) node()      {}

// ID returns the parameter's unique sequence number.
func (p *Param) ID() uint64 { return p.id }

// Member reads a named member of Target.
type Member struct {
	Target Node
	Name   string
	typ    Type
}

// NewMember builds Target.Name of type t.
func NewMember(target Node, name string, t Type) *Member {
	return &Member{Target: target, Name: name, typ: t}
}

func (m *Member) Type() Type { return m.typ }
func (m *Member) node()      {}

// Path returns the member names from the innermost parameter outwards in
// source order, and the parameter the chain starts from (nil if the chain
// does not start at a parameter).
func (m *Member) Path() ([]string, *Param) {
	var names []string
	var cur Node = m
	for {
		switch n := cur.(type) {
		case *Member:
			names = append([]string{n.Name}, names...)
			cur = n.Target
		case *Param:
			return names, n
		default:
			return names, nil
		}
	}
}

// Constant is a literal value. Value is nil for null, otherwise bool, string,
// int64, float64, time.Time, or []any for lists.
type Constant struct {
	Value any
	typ   Type
}

// NewConstant builds a literal of type t.
func NewConstant(v any, t Type) *Constant {
	return &Constant{Value: v, typ: t}
}

// True and False are shared boolean literals.
var (
	True  = NewConstant(true, Bool)
	False = NewConstant(false, Bool)
)

func (c *Constant) Type() Type { return c.typ }
func (c *Constant) node()      {}

// BinaryOp enumerates binary operators.
type BinaryOp int

const (
	OpEqual BinaryOp = iota
	OpNotEqual
	OpLessThan
	OpLessThanOrEqual
	OpGreaterThan
	OpGreaterThanOrEqual
	OpAndAlso
	OpOrElse
)

var binaryOpSymbols = map[BinaryOp]string{
	OpEqual:              "==",
	OpNotEqual:           "!=",
	OpLessThan:           "<",
	OpLessThanOrEqual:    "<=",
	OpGreaterThan:        ">",
	OpGreaterThanOrEqual: ">=",
	OpAndAlso:            "&&",
	OpOrElse:             "||",
}

func (op BinaryOp) String() string {
	return binaryOpSymbols[op]
}

// IsLogical reports whether op is AndAlso/OrElse.
func (op BinaryOp) IsLogical() bool {
	return op == OpAndAlso || op == OpOrElse
}

// Binary applies Op to Left and Right. With LiftToNull a comparison involving
// null yields null instead of false.
type Binary struct {
	Op         BinaryOp
	Left       Node
	Right      Node
	LiftToNull bool
}

func (b *Binary) Type() Type { return Bool }
func (b *Binary) node()      {}

// NewBinary validates operand types and builds a binary node.
func NewBinary(op BinaryOp, left, right Node, liftToNull bool) (*Binary, error) {
	lt, rt := left.Type(), right.Type()
	switch {
	case op.IsLogical():
		if lt.Kind != KindBool || rt.Kind != KindBool {
			return nil, fmt.Errorf("%s requires bool operands, got %s and %s", op, lt, rt)
		}
	case op == OpEqual || op == OpNotEqual:
		if !lt.Equal(rt) && !isNullConstant(left) && !isNullConstant(right) {
			return nil, fmt.Errorf("%s operands differ: %s and %s", op, lt, rt)
		}
	default:
		if !lt.IsOrdered() || !lt.Equal(rt) {
			return nil, fmt.Errorf("%s requires matching ordered operands, got %s and %s", op, lt, rt)
		}
	}
	return &Binary{Op: op, Left: left, Right: right, LiftToNull: liftToNull}, nil
}

func isNullConstant(n Node) bool {
	c, ok := n.(*Constant)
	return ok && c.Value == nil
}

// AndAlso and OrElse combine boolean nodes without type checks beyond Kind.
func AndAlso(left, right Node) *Binary {
	return &Binary{Op: OpAndAlso, Left: left, Right: right}
}

func OrElse(left, right Node) *Binary {
	return &Binary{Op: OpOrElse, Left: left, Right: right}
}

// Method enumerates the calls a predicate may contain.
type Method int

const (
	MethodStartsWith Method = iota
	MethodEndsWith
	MethodContains
	MethodToLower
	MethodListContains
	MethodAny
)

var methodNames = map[Method]string{
	MethodStartsWith:   "StartsWith",
	MethodEndsWith:     "EndsWith",
	MethodContains:     "Contains",
	MethodToLower:      "ToLower",
	MethodListContains: "Contains",
	MethodAny:          "Any",
}

func (m Method) String() string {
	return methodNames[m]
}

// StringComparison selects how string calls compare characters.
type StringComparison int

const (
	// Ordinal compares code points exactly.
	Ordinal StringComparison = iota
	// IgnoreCase compares after Unicode lower-casing of both sides.
	IgnoreCase
)

// Call invokes Method on Receiver with Args.
//
//	StartsWith/EndsWith/Contains: string receiver, one string arg, bool result
//	ToLower:                      string receiver, no args, string result
//	ListContains:                 list constant receiver, one element arg, bool result
//	Any:                          list receiver, one Lambda arg over the element type
type Call struct {
	Method     Method
	Receiver   Node
	Args       []Node
	Comparison StringComparison
}

func (c *Call) Type() Type {
	if c.Method == MethodToLower {
		return String
	}
	return Bool
}
func (c *Call) node() {}

// NewStringCall builds a StartsWith/EndsWith/Contains call.
func NewStringCall(m Method, recv, arg Node, cmp StringComparison) (*Call, error) {
	if recv.Type().Kind != KindString || arg.Type().Kind != KindString {
		return nil, fmt.Errorf("%s requires string operands, got %s and %s", m, recv.Type(), arg.Type())
	}
	return &Call{Method: m, Receiver: recv, Args: []Node{arg}, Comparison: cmp}, nil
}

// NewToLower builds recv.ToLower().
func NewToLower(recv Node) *Call {
	return &Call{Method: MethodToLower, Receiver: recv}
}

// NewListContains builds list.Contains(elem).
func NewListContains(list, elem Node) (*Call, error) {
	lt := list.Type()
	if lt.Kind != KindList || lt.Elem == nil || !lt.Elem.Equal(elem.Type()) {
		return nil, fmt.Errorf("Contains requires a list of %s, got %s", elem.Type(), lt)
	}
	return &Call{Method: MethodListContains, Receiver: list, Args: []Node{elem}}, nil
}

// NewAny builds list.Any(predicate).
func NewAny(list Node, pred *Lambda) (*Call, error) {
	lt := list.Type()
	if lt.Kind != KindList || lt.Elem == nil || !lt.Elem.Equal(pred.Param.Type()) {
		return nil, fmt.Errorf("Any requires a list of %s, got %s", pred.Param.Type(), lt)
	}
	return &Call{Method: MethodAny, Receiver: list, Args: []Node{pred}}, nil
}

// Lambda binds Param in Body. Body must be boolean.
type Lambda struct {
	Param *Param
	Body  Node
}

func (l *Lambda) Type() Type { return Bool }
func (l *Lambda) node()      {}

// NewLambda builds a predicate lambda.
func NewLambda(p *Param, body Node) (*Lambda, error) {
	if body.Type().Kind != KindBool {
		return nil, fmt.Errorf("lambda body must be bool, got %s", body.Type())
	}
	return &Lambda{Param: p, Body: body}, nil
}

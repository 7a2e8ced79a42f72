// internal/rules/operators.go
package rules

import (
	"fmt"
	"strings"

	"github.com/solatis/rulefilter/internal/expr"
	"github.com/solatis/rulefilter/internal/types"
)

/*
 * Operator catalogue.
 *
 * Each operator is a pure generator (left, right, liftToNull) -> bool node,
 * selected by name through the catalogue table below.
 *
 * Operators:
 *   - = / !=                       equality on scalars
 *   - < / <= / > / >=              relational on int, decimal, datetime
 *   - IsNull / IsNotNull           null checks, no comparand
 *   - IsEmpty / IsNotEmpty         strings, both null and "" checked explicitly
 *   - StartsWith/EndsWith/Contains case-insensitive call compared to true
 *   - NotContains                  Contains call compared to false
 *   - In / NotIn                   list.Contains(member) compared to true/false
 *   - AllIn / NotAllIn             declared, raise ErrNotImplemented
 *
 * Calls and membership tests are compared against literal true/false instead
 * of being returned bare or wrapped in a logical NOT. Every generated node is
 * then a binary comparison, which remote providers translate reliably.
 */

// Operator enumerates the catalogue.
type Operator int

const (
	OpUnspecified Operator = iota
	OpEqual
	OpNotEqual
	OpLessThan
	OpLessThanOrEqual
	OpGreaterThan
	OpGreaterThanOrEqual
	OpIsNull
	OpIsNotNull
	OpIsEmpty
	OpIsNotEmpty
	OpStartsWith
	OpEndsWith
	OpContains
	OpNotContains
	OpIn
	OpNotIn
	OpAllIn
	OpNotAllIn
)

// operandKind describes the right-hand side an operator expects.
type operandKind int

const (
	operandNone operandKind = iota
	operandScalar
	operandList
)

// Generator builds the boolean node for an operator.
type Generator func(left, right expr.Node, liftToNull bool) (expr.Node, error)

type operatorSpec struct {
	name     string
	operand  operandKind
	accepts  func(expr.Type) bool
	generate Generator
}

var catalogue = map[Operator]operatorSpec{
	OpEqual:              {"=", operandScalar, expr.Type.IsScalar, binary(expr.OpEqual)},
	OpNotEqual:           {"!=", operandScalar, expr.Type.IsScalar, binary(expr.OpNotEqual)},
	OpLessThan:           {"<", operandScalar, expr.Type.IsOrdered, binary(expr.OpLessThan)},
	OpLessThanOrEqual:    {"<=", operandScalar, expr.Type.IsOrdered, binary(expr.OpLessThanOrEqual)},
	OpGreaterThan:        {">", operandScalar, expr.Type.IsOrdered, binary(expr.OpGreaterThan)},
	OpGreaterThanOrEqual: {">=", operandScalar, expr.Type.IsOrdered, binary(expr.OpGreaterThanOrEqual)},
	OpIsNull:             {"IsNull", operandNone, anyType, nullCheck(expr.OpEqual)},
	OpIsNotNull:          {"IsNotNull", operandNone, anyType, nullCheck(expr.OpNotEqual)},
	OpIsEmpty:            {"IsEmpty", operandNone, isString, generateIsEmpty},
	OpIsNotEmpty:         {"IsNotEmpty", operandNone, isString, generateIsNotEmpty},
	OpStartsWith:         {"StartsWith", operandScalar, isString, stringCall(expr.MethodStartsWith, true)},
	OpEndsWith:           {"EndsWith", operandScalar, isString, stringCall(expr.MethodEndsWith, true)},
	OpContains:           {"Contains", operandScalar, isString, stringCall(expr.MethodContains, true)},
	OpNotContains:        {"NotContains", operandScalar, isString, stringCall(expr.MethodContains, false)},
	OpIn:                 {"In", operandList, isSetElement, membership(true)},
	OpNotIn:              {"NotIn", operandList, isSetElement, membership(false)},
	OpAllIn:              {"AllIn", operandList, anyType, notImplemented("AllIn")},
	OpNotAllIn:           {"NotAllIn", operandList, anyType, notImplemented("NotAllIn")},
}

var operatorsByName = func() map[string]Operator {
	m := make(map[string]Operator, len(catalogue))
	for op, spec := range catalogue {
		m[strings.ToLower(spec.name)] = op
	}
	return m
}()

// ParseOperator resolves a persisted operator name (case-insensitive).
func ParseOperator(name string) (Operator, error) {
	op, ok := operatorsByName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return OpUnspecified, fmt.Errorf("%w: %q", types.ErrUnsupportedOperator, name)
	}
	return op, nil
}

func (op Operator) String() string {
	if spec, ok := catalogue[op]; ok {
		return spec.name
	}
	return fmt.Sprintf("Operator(%d)", int(op))
}

// Generate applies the operator to left and right. right is nil for
// operators without a comparand.
func (op Operator) Generate(left, right expr.Node, liftToNull bool) (expr.Node, error) {
	spec, ok := catalogue[op]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrUnsupportedOperator, op)
	}
	return spec.generate(left, right, liftToNull)
}

// Accepts reports whether op is legal for a member of type t.
func (op Operator) Accepts(t expr.Type) bool {
	spec, ok := catalogue[op]
	return ok && spec.accepts(t)
}

func anyType(expr.Type) bool { return true }

func isString(t expr.Type) bool { return t.Kind == expr.KindString }

func isSetElement(t expr.Type) bool {
	return t.Kind == expr.KindString || t.Kind == expr.KindInt || t.Kind == expr.KindDecimal
}

func binary(op expr.BinaryOp) Generator {
	return func(left, right expr.Node, liftToNull bool) (expr.Node, error) {
		return expr.NewBinary(op, left, right, liftToNull)
	}
}

func nullCheck(op expr.BinaryOp) Generator {
	return func(left, _ expr.Node, liftToNull bool) (expr.Node, error) {
		return expr.NewBinary(op, left, expr.NewConstant(nil, left.Type()), liftToNull)
	}
}

// generateIsEmpty checks both branches explicitly: left == null || left == "".
func generateIsEmpty(left, _ expr.Node, liftToNull bool) (expr.Node, error) {
	isNull, err := expr.NewBinary(expr.OpEqual, left, expr.NewConstant(nil, expr.String), liftToNull)
	if err != nil {
		return nil, err
	}
	isBlank, err := expr.NewBinary(expr.OpEqual, left, expr.NewConstant("", expr.String), liftToNull)
	if err != nil {
		return nil, err
	}
	return expr.OrElse(isNull, isBlank), nil
}

// generateIsNotEmpty is left != null && left != "".
func generateIsNotEmpty(left, _ expr.Node, liftToNull bool) (expr.Node, error) {
	notNull, err := expr.NewBinary(expr.OpNotEqual, left, expr.NewConstant(nil, expr.String), liftToNull)
	if err != nil {
		return nil, err
	}
	notBlank, err := expr.NewBinary(expr.OpNotEqual, left, expr.NewConstant("", expr.String), liftToNull)
	if err != nil {
		return nil, err
	}
	return expr.AndAlso(notNull, notBlank), nil
}

func stringCall(m expr.Method, want bool) Generator {
	return func(left, right expr.Node, liftToNull bool) (expr.Node, error) {
		call, err := expr.NewStringCall(m, left, right, expr.IgnoreCase)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrInvalidOperand, err)
		}
		return expr.NewBinary(expr.OpEqual, call, boolConstant(want), liftToNull)
	}
}

// membership builds rightCollection.Contains(left) == want. The right side
// must be a non-null list constant whose elements match the member type.
func membership(want bool) Generator {
	return func(left, right expr.Node, liftToNull bool) (expr.Node, error) {
		c, ok := right.(*expr.Constant)
		if !ok || c.Value == nil || c.Type().Kind != expr.KindList {
			return nil, fmt.Errorf("%w: set operator needs a constant collection, got %s", types.ErrInvalidOperand, describe(right))
		}
		if _, ok := c.Value.([]any); !ok {
			return nil, fmt.Errorf("%w: collection constant holds %T", types.ErrInvalidOperand, c.Value)
		}
		call, err := expr.NewListContains(c, left)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrInvalidOperand, err)
		}
		return expr.NewBinary(expr.OpEqual, call, boolConstant(want), liftToNull)
	}
}

// notImplemented keeps AllIn/NotAllIn in the catalogue without guessing at
// whether "all" quantifies over the rule's list or the member's collection.
func notImplemented(name string) Generator {
	return func(expr.Node, expr.Node, bool) (expr.Node, error) {
		return nil, fmt.Errorf("%w: %s", types.ErrNotImplemented, name)
	}
}

func boolConstant(b bool) *expr.Constant {
	if b {
		return expr.True
	}
	return expr.False
}

func describe(n expr.Node) string {
	if n == nil {
		return "nothing"
	}
	return fmt.Sprintf("%T of %s", n, n.Type())
}

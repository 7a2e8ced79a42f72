// internal/rules/compile.go
package rules

import (
	"fmt"

	"github.com/solatis/rulefilter/internal/expr"
	"github.com/solatis/rulefilter/internal/types"
)

/*
 * Leaf rule compilation.
 *
 * Compiles one non-group types.Rule into a FilterExpression: a lambda over a
 * freshly created parameter of the scope's entity type.
 *
 * Compilation workflow:
 *   1. Resolve the operator name (ErrUnsupportedOperator)
 *   2. Check the operator is legal for the descriptor's value type
 *   3. Parse the raw comparand into the declared type (ErrInvalidComparand);
 *      set operators split it into a typed list constant
 *   4. Bind the member path against the fresh parameter
 *   5. Dispatch to the operator generator at the leaf member
 *
 * Leaves never share parameters. The group compiler folds their bodies and
 * the unifier rebinds them to a single root parameter afterwards.
 *
 * AllIn/NotAllIn fail with ErrNotImplemented before the comparand is parsed,
 * so a malformed value never masks the missing operator.
 */

// FilterExpression is one compiled leaf rule.
type FilterExpression struct {
	Rule       types.Rule
	Descriptor *RuleDescriptor
	Operator   Operator
	Lambda     *expr.Lambda
}

// Body returns the boolean body of the leaf lambda.
func (f *FilterExpression) Body() expr.Node { return f.Lambda.Body }

// CompileRule compiles a leaf rule of a rule set with the given scope.
func CompileRule(rule types.Rule, desc *RuleDescriptor, scope types.Scope) (*FilterExpression, error) {
	f, err := compileRule(rule, desc, scope)
	if err != nil {
		return nil, fmt.Errorf("rule %s (%s %s): %w", rule.ID, rule.RuleType, rule.Operator, err)
	}
	return f, nil
}

func compileRule(rule types.Rule, desc *RuleDescriptor, scope types.Scope) (*FilterExpression, error) {
	if rule.IsGroup() {
		return nil, types.ErrMalformedRule
	}
	if desc.Scope != scope {
		return nil, fmt.Errorf("%w: descriptor scope %s, rule set scope %s", types.ErrScopeMismatch, desc.Scope, scope)
	}

	op, err := ParseOperator(rule.Operator)
	if err != nil {
		return nil, err
	}
	if op == OpAllIn || op == OpNotAllIn {
		_, err := op.Generate(nil, nil, false)
		return nil, err
	}
	if !desc.Allows(op) {
		return nil, fmt.Errorf("%w: %s on %s", types.ErrUnsupportedOperator, op, desc.Type())
	}

	right, err := parseOperand(op, desc.Type(), rule.Value)
	if err != nil {
		return nil, err
	}

	param := expr.NewParam("e", expr.Entity(string(scope)))
	body, err := bindMember(param, string(scope), desc.Segments(), desc.Type(), func(member expr.Node) (expr.Node, error) {
		return op.Generate(member, right, false)
	})
	if err != nil {
		return nil, err
	}
	lambda, err := expr.NewLambda(param, body)
	if err != nil {
		return nil, err
	}

	return &FilterExpression{
		Rule:       rule,
		Descriptor: desc,
		Operator:   op,
		Lambda:     lambda,
	}, nil
}

// parseOperand converts the raw rule value into the right-hand node the
// operator expects. Operators without a comparand get nil.
func parseOperand(op Operator, t expr.Type, raw string) (expr.Node, error) {
	switch catalogue[op].operand {
	case operandScalar:
		return ParseComparand(t, raw)
	case operandList:
		elem := t
		if t.Kind == expr.KindList {
			elem = *t.Elem
		}
		return ParseComparandList(elem, raw)
	}
	return nil, nil
}

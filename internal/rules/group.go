// internal/rules/group.go
package rules

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/solatis/rulefilter/internal/expr"
	"github.com/solatis/rulefilter/internal/types"
)

/*
 * Composite (group) compilation.
 *
 * A rule set compiles to a CompositeFilterExpression whose children are the
 * leaves and nested sub-group composites in DisplayOrder. Group rules are
 * resolved through a RuleSetSource; the engine never reaches a database
 * directly.
 *
 * Folding is a left fold under the set's logical operator:
 *
 *   acc = c0; acc = acc OP c1; ...; acc = acc OP cn
 *
 * An empty composite is the constant true, so a set without rules excludes
 * nothing.
 *
 * Failure is all-or-nothing. A missing sub-group, a cycle (ErrGroupCycle) or
 * nesting beyond MaxGroupDepth (ErrGroupTooDeep) fails the whole set rather
 * than dropping the offending child.
 */

// Expression is a compiled leaf or composite. Body is not yet unified: leaves
// each carry their own root parameter.
type Expression interface {
	Body() expr.Node
}

// CompositeFilterExpression combines child expressions under one operator.
type CompositeFilterExpression struct {
	RuleSetID       types.RuleSetID
	Scope           types.Scope
	LogicalOperator types.LogicalOperator
	Children        []Expression
}

// Body folds the children's bodies.
func (c *CompositeFilterExpression) Body() expr.Node {
	bodies := make([]expr.Node, len(c.Children))
	for i, child := range c.Children {
		bodies[i] = child.Body()
	}
	return Fold(bodies, c.LogicalOperator)
}

// Predicate folds the children and rebinds every root parameter to one fresh
// parameter of the scope's entity type.
func (c *CompositeFilterExpression) Predicate() (*expr.Lambda, error) {
	root := expr.NewParam("e", expr.Entity(string(c.Scope)))
	body, err := UnifyParameters(c.Body(), root)
	if err != nil {
		return nil, err
	}
	return expr.NewLambda(root, body)
}

// Fold combines nodes left to right with op. No nodes fold to true.
func Fold(nodes []expr.Node, op types.LogicalOperator) expr.Node {
	if len(nodes) == 0 {
		return expr.True
	}
	acc := nodes[0]
	for _, n := range nodes[1:] {
		if op == types.LogicalOr {
			acc = expr.OrElse(acc, n)
		} else {
			acc = expr.AndAlso(acc, n)
		}
	}
	return acc
}

// RuleSetSource resolves rule sets, including sub-groups, by ID.
type RuleSetSource interface {
	GetRuleSet(ctx context.Context, id types.RuleSetID) (*types.RuleSet, error)
}

// StaticSource is an in-memory RuleSetSource.
type StaticSource map[types.RuleSetID]*types.RuleSet

// GetRuleSet implements RuleSetSource.
func (s StaticSource) GetRuleSet(_ context.Context, id types.RuleSetID) (*types.RuleSet, error) {
	rs, ok := s[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrRuleSetNotFound, id)
	}
	return rs, nil
}

// ListRuleSets returns the sets ordered by ID.
func (s StaticSource) ListRuleSets(_ context.Context) ([]*types.RuleSet, error) {
	out := make([]*types.RuleSet, 0, len(s))
	for _, rs := range s {
		out = append(out, rs)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// LoadRuleSetsYAML reads a fixture of rule sets:
//
//	rule_sets:
//	  - id: checkout
//	    scope: Cart
//	    logical_operator: AND
//	    rules:
//	      - rule_type: CartTotal
//	        operator: ">="
//	        value: "50"
//
// Rules inherit the enclosing set's ID when rule_set_id is omitted.
func LoadRuleSetsYAML(r io.Reader) (StaticSource, error) {
	var file struct {
		RuleSets []*types.RuleSet `yaml:"rule_sets"`
	}
	if err := yaml.NewDecoder(r).Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode rule sets: %w", err)
	}
	src := make(StaticSource, len(file.RuleSets))
	for _, rs := range file.RuleSets {
		if rs.ID == "" {
			return nil, fmt.Errorf("rule set %q without id", rs.Name)
		}
		if _, dup := src[rs.ID]; dup {
			return nil, fmt.Errorf("duplicate rule set %s", rs.ID)
		}
		for i := range rs.Rules {
			if rs.Rules[i].RuleSetID == "" {
				rs.Rules[i].RuleSetID = rs.ID
			}
		}
		src[rs.ID] = rs
	}
	return src, nil
}

// groupCompiler resolves and compiles a rule set tree.
type groupCompiler struct {
	registry *Registry
	source   RuleSetSource
	visiting map[types.RuleSetID]bool
}

func (g *groupCompiler) compile(ctx context.Context, rs *types.RuleSet, depth int) (*CompositeFilterExpression, error) {
	if depth > types.MaxGroupDepth {
		return nil, fmt.Errorf("%w: %s at depth %d", types.ErrGroupTooDeep, rs.ID, depth)
	}
	if rs.ID != "" {
		if g.visiting[rs.ID] {
			return nil, fmt.Errorf("%w: %s", types.ErrGroupCycle, rs.ID)
		}
		g.visiting[rs.ID] = true
		defer delete(g.visiting, rs.ID)
	}

	comp := &CompositeFilterExpression{
		RuleSetID:       rs.ID,
		Scope:           rs.Scope,
		LogicalOperator: rs.LogicalOperator,
	}
	for _, rule := range rs.OrderedRules() {
		if err := rule.Validate(); err != nil {
			return nil, err
		}
		if rule.IsGroup() {
			child, err := g.compileGroupRule(ctx, rs, rule, depth)
			if err != nil {
				return nil, err
			}
			comp.Children = append(comp.Children, child)
			continue
		}

		desc, err := g.registry.Lookup(rule.RuleType)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", rule.ID, err)
		}
		leaf, err := CompileRule(rule, desc, rs.Scope)
		if err != nil {
			return nil, err
		}
		comp.Children = append(comp.Children, leaf)
	}
	return comp, nil
}

func (g *groupCompiler) compileGroupRule(ctx context.Context, parent *types.RuleSet, rule types.Rule, depth int) (*CompositeFilterExpression, error) {
	if g.source == nil {
		return nil, fmt.Errorf("rule %s: %w: no rule set source for sub-group %s", rule.ID, types.ErrRuleSetNotFound, rule.SubGroupID())
	}
	sub, err := g.source.GetRuleSet(ctx, rule.SubGroupID())
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", rule.ID, err)
	}
	if sub.Scope != parent.Scope {
		return nil, fmt.Errorf("rule %s: %w: sub-group %s has scope %s, parent %s",
			rule.ID, types.ErrScopeMismatch, sub.ID, sub.Scope, parent.Scope)
	}
	return g.compile(ctx, sub, depth+1)
}

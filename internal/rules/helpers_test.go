// internal/rules/helpers_test.go
package rules

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/solatis/rulefilter/internal/provider"
	"github.com/solatis/rulefilter/internal/types"
)

var testEpoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

// leaf builds an unowned leaf rule; newRuleSet assigns ownership and order.
func leaf(ruleType, op, value string) types.Rule {
	return types.Rule{RuleType: ruleType, Operator: op, Value: value}
}

// group builds a rule pointing at sub-group id.
func group(id types.RuleSetID) types.Rule {
	return types.Rule{RuleType: types.GroupRuleType, Value: string(id)}
}

func newRuleSet(id types.RuleSetID, scope types.Scope, op types.LogicalOperator, rules ...types.Rule) *types.RuleSet {
	rs := &types.RuleSet{
		ID:              id,
		Name:            string(id),
		Scope:           scope,
		IsActive:        true,
		LogicalOperator: op,
		CreatedOnUtc:    testEpoch,
		UpdatedOnUtc:    testEpoch,
	}
	for i, r := range rules {
		r.ID = types.RuleID(fmt.Sprintf("%s-r%d", id, i))
		r.RuleSetID = id
		r.DisplayOrder = i
		rs.Rules = append(rs.Rules, r)
	}
	return rs
}

func subGroup(rs *types.RuleSet) *types.RuleSet {
	rs.IsSubGroup = true
	return rs
}

func newTestEngine(sets ...*types.RuleSet) *Engine {
	src := make(StaticSource, len(sets))
	for _, rs := range sets {
		src[rs.ID] = rs
	}
	return NewEngine(DefaultRegistry(), src)
}

func compileMemory(t *testing.T, e *Engine, rs *types.RuleSet) *provider.Predicate {
	t.Helper()
	p, err := e.Compile(context.Background(), rs, provider.MemoryTarget)
	if err != nil {
		t.Fatalf("Compile(%s) error = %v, want nil", rs.ID, err)
	}
	return p
}

func mustMatch(t *testing.T, p *provider.Predicate, entity any) bool {
	t.Helper()
	ok, err := p.Match(entity)
	if err != nil {
		t.Fatalf("Match(%v) error = %v", entity, err)
	}
	return ok
}

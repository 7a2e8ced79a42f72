// internal/rules/evaluate.go
package rules

import (
	"context"
	"fmt"

	"github.com/solatis/rulefilter/internal/provider"
	"github.com/solatis/rulefilter/internal/types"
)

// MatchResult is the outcome for one entity.
type MatchResult struct {
	RuleSetID types.RuleSetID `json:"rule_set_id"`
	Index     int             `json:"index"`
	Matched   bool            `json:"matched"`
}

// Evaluate compiles rule set id for target and applies it to entities.
// A rule set that fails to compile matches nothing: the error is returned
// and no results are produced.
func (e *Engine) Evaluate(ctx context.Context, id types.RuleSetID, target provider.Target, entities []any) ([]MatchResult, error) {
	p, err := e.CompileByID(ctx, id, target)
	if err != nil {
		return nil, err
	}
	return Match(p, id, entities)
}

// Match applies a compiled predicate to entities in order.
func Match(p *provider.Predicate, id types.RuleSetID, entities []any) ([]MatchResult, error) {
	results := make([]MatchResult, len(entities))
	for i, entity := range entities {
		ok, err := p.Match(entity)
		if err != nil {
			return nil, fmt.Errorf("rule set %s, entity %d: %w", id, i, err)
		}
		results[i] = MatchResult{RuleSetID: id, Index: i, Matched: ok}
	}
	return results, nil
}

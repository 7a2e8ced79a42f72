package api

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/solatis/rulefilter/internal/rules"
)

// EvaluateRequest asks for a rule set to be matched against entities.
// Provider selects the target the predicate is compiled for; matching a
// remote target locally proves the rule set translates for it.
type EvaluateRequest struct {
	RuleSetID string `json:"rule_set_id"`
	Provider  string `json:"provider,omitempty"`
	Dialect   string `json:"dialect,omitempty"`
	Entities  []any  `json:"entities"`
}

// EvaluateResponse carries one result per entity, in request order.
type EvaluateResponse struct {
	Results      []rules.MatchResult `json:"results"`
	MatchedCount int                 `json:"matched_count"`
}

// Evaluate compiles the requested rule set and matches every entity.
func (s *RuleService) Evaluate(ctx context.Context, req *EvaluateRequest) (*EvaluateResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: empty request", ErrInvalidRequest)
	}
	id, err := parseID(req.RuleSetID)
	if err != nil {
		return nil, err
	}
	if len(req.Entities) > s.cfg.MaxBatchSize {
		return nil, fmt.Errorf("%w: %d entities exceeds batch limit %d", ErrInvalidRequest, len(req.Entities), s.cfg.MaxBatchSize)
	}
	target, err := s.target(req.Provider, req.Dialect)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	p, err := s.engine.CompileByID(ctx, id, target)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results, err := rules.Match(p, id, req.Entities)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntity, err)
	}

	resp := &EvaluateResponse{Results: results}
	for _, r := range results {
		if r.Matched {
			resp.MatchedCount++
		}
	}

	s.log.WithFields(logrus.Fields{
		"rule_set_id": id,
		"provider":    target.String(),
		"entities":    len(req.Entities),
		"matched":     resp.MatchedCount,
	}).Debug("evaluated rule set")
	return resp, nil
}

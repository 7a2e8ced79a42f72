package api

import (
	"context"
	"fmt"
)

// TranslateRequest asks for the target form of a rule set.
type TranslateRequest struct {
	RuleSetID string `json:"rule_set_id"`
	Provider  string `json:"provider,omitempty"`
	Dialect   string `json:"dialect,omitempty"`
}

// TranslateResponse holds the rendered predicate. Args are the SQL
// placeholder values in order; other providers inline their constants.
type TranslateResponse struct {
	RuleSetID  string `json:"rule_set_id"`
	Provider   string `json:"provider"`
	Expression string `json:"expression"`
	Args       []any  `json:"args,omitempty"`
}

// Translate compiles the requested rule set for a target and renders it.
func (s *RuleService) Translate(ctx context.Context, req *TranslateRequest) (*TranslateResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: empty request", ErrInvalidRequest)
	}
	id, err := parseID(req.RuleSetID)
	if err != nil {
		return nil, err
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

	resp := &TranslateResponse{
		RuleSetID:  string(id),
		Provider:   target.String(),
		Expression: p.String(),
	}
	if p.SQL != nil {
		resp.Args = p.SQL.Args
	}
	return resp, nil
}

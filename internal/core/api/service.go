// Package api provides the rule evaluation service shared by the gRPC and
// HTTP transports.
package api

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/solatis/rulefilter/internal/core/config"
	"github.com/solatis/rulefilter/internal/provider"
	"github.com/solatis/rulefilter/internal/rules"
	"github.com/solatis/rulefilter/internal/types"
)

// RuleSetLister lists the rule sets available for evaluation.
type RuleSetLister interface {
	ListRuleSets(ctx context.Context) ([]*types.RuleSet, error)
}

// RuleService is a thin orchestration layer over the rules engine.
// Transports decode requests, call the service and map its errors.
type RuleService struct {
	engine  *rules.Engine
	lister  RuleSetLister
	cfg     *config.ServerConfig
	dialect string
	log     *logrus.Entry
}

// NewRuleService creates a service. dialect is the SQL dialect used when a
// request asks for the sql provider without naming one.
func NewRuleService(engine *rules.Engine, lister RuleSetLister, cfg *config.ServerConfig, dialect string) (*RuleService, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if lister == nil {
		return nil, fmt.Errorf("lister cannot be nil")
	}
	if cfg == nil {
		return nil, fmt.Errorf("cfg cannot be nil")
	}
	if dialect == "" {
		dialect = provider.DialectSQLite
	}
	return &RuleService{
		engine:  engine,
		lister:  lister,
		cfg:     cfg,
		dialect: dialect,
		log:     logrus.WithField("component", "api"),
	}, nil
}

// RuleSetSummary describes a rule set without its rules.
type RuleSetSummary struct {
	ID                 types.RuleSetID       `json:"id"`
	Name               string                `json:"name"`
	Scope              types.Scope           `json:"scope"`
	IsActive           bool                  `json:"is_active"`
	IsSubGroup         bool                  `json:"is_sub_group"`
	LogicalOperator    types.LogicalOperator `json:"logical_operator"`
	RuleCount          int                   `json:"rule_count"`
	UpdatedOnUtc       string                `json:"updated_on_utc"`
	LastProcessedOnUtc string                `json:"last_processed_on_utc,omitempty"`
}

// ListRuleSets summarizes every stored rule set.
func (s *RuleService) ListRuleSets(ctx context.Context) ([]RuleSetSummary, error) {
	sets, err := s.lister.ListRuleSets(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]RuleSetSummary, 0, len(sets))
	for _, rs := range sets {
		sum := RuleSetSummary{
			ID:              rs.ID,
			Name:            rs.Name,
			Scope:           rs.Scope,
			IsActive:        rs.IsActive,
			IsSubGroup:      rs.IsSubGroup,
			LogicalOperator: rs.LogicalOperator,
			RuleCount:       len(rs.Rules),
			UpdatedOnUtc:    rs.UpdatedOnUtc.UTC().Format(timeFormat),
		}
		if rs.LastProcessedOnUtc != nil {
			sum.LastProcessedOnUtc = rs.LastProcessedOnUtc.UTC().Format(timeFormat)
		}
		out = append(out, sum)
	}
	return out, nil
}

const timeFormat = "2006-01-02T15:04:05.000000Z07:00"

// target resolves the provider and dialect named by a request.
func (s *RuleService) target(providerName, dialect string) (provider.Target, error) {
	kind, err := provider.ParseKind(providerName)
	if err != nil {
		return provider.Target{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	t := provider.Target{Kind: kind}
	if kind == provider.SQL {
		t.Dialect = dialect
		if t.Dialect == "" {
			t.Dialect = s.dialect
		}
		if t.Dialect != provider.DialectSQLite && t.Dialect != provider.DialectPostgres {
			return provider.Target{}, fmt.Errorf("%w: unknown SQL dialect %q", ErrInvalidRequest, dialect)
		}
	}
	return t, nil
}

func parseID(raw string) (types.RuleSetID, error) {
	if raw == "" {
		return "", fmt.Errorf("%w: rule_set_id required", ErrInvalidRequest)
	}
	id, err := types.ParseRuleSetID(raw)
	if err != nil {
		return "", fmt.Errorf("%w: rule_set_id: %v", ErrInvalidRequest, err)
	}
	return id, nil
}

// withTimeout bounds a request by the configured timeout.
func (s *RuleService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.RequestTimeout)
}

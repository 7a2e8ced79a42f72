// Package store persists rule sets in the SQL database.
//
// RuleStore is the rules.RuleSetSource used by the services: it loads rule
// sets with their ordered rules and records compilation stamps. Saving a
// sub-group also bumps UpdatedOnUtc on every rule set that references it,
// directly or through other sub-groups, so cached predicates of the parents
// are recompiled.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/solatis/rulefilter/internal/core/db"
	"github.com/solatis/rulefilter/internal/types"
)

// RuleStore reads and writes rule sets.
type RuleStore struct {
	db      *sqlx.DB
	queries *db.Queries
	now     func() time.Time
}

// New creates a store over database.
func New(database *sqlx.DB, queries *db.Queries) *RuleStore {
	return &RuleStore{db: database, queries: queries, now: time.Now}
}

type ruleSetRow struct {
	ID                 string       `db:"rule_set_id"`
	Name               string       `db:"name"`
	Description        string       `db:"description"`
	Scope              string       `db:"scope"`
	IsActive           bool         `db:"is_active"`
	LogicalOperator    string       `db:"logical_operator"`
	IsSubGroup         bool         `db:"is_sub_group"`
	CreatedOnUtc       time.Time    `db:"created_on_utc"`
	UpdatedOnUtc       time.Time    `db:"updated_on_utc"`
	LastProcessedOnUtc sql.NullTime `db:"last_processed_on_utc"`
}

type ruleRow struct {
	ID           string `db:"rule_id"`
	RuleSetID    string `db:"rule_set_id"`
	RuleType     string `db:"rule_type"`
	Operator     string `db:"rule_operator"`
	Value        string `db:"rule_value"`
	DisplayOrder int    `db:"display_order"`
}

func (r ruleSetRow) toRuleSet() (*types.RuleSet, error) {
	op, err := types.ParseLogicalOperator(r.LogicalOperator)
	if err != nil {
		return nil, fmt.Errorf("rule set %s: %w", r.ID, err)
	}
	rs := &types.RuleSet{
		ID:              types.RuleSetID(r.ID),
		Name:            r.Name,
		Description:     r.Description,
		Scope:           types.Scope(r.Scope),
		IsActive:        r.IsActive,
		LogicalOperator: op,
		IsSubGroup:      r.IsSubGroup,
		CreatedOnUtc:    r.CreatedOnUtc.UTC(),
		UpdatedOnUtc:    r.UpdatedOnUtc.UTC(),
	}
	if r.LastProcessedOnUtc.Valid {
		t := r.LastProcessedOnUtc.Time.UTC()
		rs.LastProcessedOnUtc = &t
	}
	return rs, nil
}

// GetRuleSet loads a rule set and its rules ordered by DisplayOrder.
// Implements rules.RuleSetSource.
func (s *RuleStore) GetRuleSet(ctx context.Context, id types.RuleSetID) (*types.RuleSet, error) {
	var row ruleSetRow
	err := s.queries.Get(ctx, "get-rule-set", &row, string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", types.ErrRuleSetNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load rule set %s: %w", id, err)
	}
	rs, err := row.toRuleSet()
	if err != nil {
		return nil, err
	}
	if err := s.loadRules(ctx, rs); err != nil {
		return nil, err
	}
	return rs, nil
}

// ListRuleSets returns every rule set with its rules, ordered by name.
func (s *RuleStore) ListRuleSets(ctx context.Context) ([]*types.RuleSet, error) {
	var rows []ruleSetRow
	if err := s.queries.Select(ctx, "list-rule-sets", &rows); err != nil {
		return nil, fmt.Errorf("list rule sets: %w", err)
	}
	out := make([]*types.RuleSet, 0, len(rows))
	for _, row := range rows {
		rs, err := row.toRuleSet()
		if err != nil {
			return nil, err
		}
		if err := s.loadRules(ctx, rs); err != nil {
			return nil, err
		}
		out = append(out, rs)
	}
	return out, nil
}

func (s *RuleStore) loadRules(ctx context.Context, rs *types.RuleSet) error {
	var rows []ruleRow
	if err := s.queries.Select(ctx, "list-rules", &rows, string(rs.ID)); err != nil {
		return fmt.Errorf("load rules of %s: %w", rs.ID, err)
	}
	rs.Rules = make([]types.Rule, len(rows))
	for i, r := range rows {
		rs.Rules[i] = types.Rule{
			ID:           types.RuleID(r.ID),
			RuleSetID:    types.RuleSetID(r.RuleSetID),
			RuleType:     r.RuleType,
			Operator:     r.Operator,
			Value:        r.Value,
			DisplayOrder: r.DisplayOrder,
		}
	}
	return nil
}

// SaveRuleSet inserts or replaces rs with its rules in one transaction.
//
// Missing IDs are generated. Rules are validated before anything is written
// and take rs.ID as their owner. UpdatedOnUtc is set to the current time on
// rs and on every ancestor that references rs through group rules.
func (s *RuleStore) SaveRuleSet(ctx context.Context, rs *types.RuleSet) error {
	if rs.ID == "" {
		rs.ID = types.NewRuleSetID()
	}
	if rs.Scope == "" {
		return fmt.Errorf("rule set %s: scope is required", rs.ID)
	}
	for i := range rs.Rules {
		r := &rs.Rules[i]
		if r.ID == "" {
			r.ID = types.NewRuleID()
		}
		r.RuleSetID = rs.ID
		if r.IsGroup() {
			// parents are found by exact match on the stored value
			r.Value = string(r.SubGroupID())
		}
		if err := r.Validate(); err != nil {
			return err
		}
		if r.IsGroup() && r.SubGroupID() == rs.ID {
			return fmt.Errorf("rule %s: %w: %s references itself", r.ID, types.ErrGroupCycle, rs.ID)
		}
	}

	// microseconds survive a postgres round trip, keeping cache stamps stable
	now := s.now().UTC().Truncate(time.Microsecond)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()
	q := s.queries.WithTx(tx)

	var existing ruleSetRow
	err = q.Get(ctx, "get-rule-set", &existing, string(rs.ID))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if rs.CreatedOnUtc.IsZero() {
			rs.CreatedOnUtc = now
		}
		_, err = q.Exec(ctx, "insert-rule-set", string(rs.ID), rs.Name, rs.Description, string(rs.Scope),
			rs.IsActive, rs.LogicalOperator.String(), rs.IsSubGroup, rs.CreatedOnUtc.UTC(), now)
	case err == nil:
		rs.CreatedOnUtc = existing.CreatedOnUtc.UTC()
		_, err = q.Exec(ctx, "update-rule-set", rs.Name, rs.Description, string(rs.Scope),
			rs.IsActive, rs.LogicalOperator.String(), rs.IsSubGroup, now, string(rs.ID))
	}
	if err != nil {
		return fmt.Errorf("save rule set %s: %w", rs.ID, err)
	}

	if _, err := q.Exec(ctx, "delete-rules", string(rs.ID)); err != nil {
		return fmt.Errorf("replace rules of %s: %w", rs.ID, err)
	}
	for _, r := range rs.Rules {
		if _, err := q.Exec(ctx, "insert-rule", string(r.ID), string(rs.ID), r.RuleType, r.Operator, r.Value, r.DisplayOrder); err != nil {
			return fmt.Errorf("insert rule %s: %w", r.ID, err)
		}
	}

	if err := touchAncestors(ctx, q, rs.ID, now); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rule set %s: %w", rs.ID, err)
	}
	rs.UpdatedOnUtc = now
	return nil
}

// touchAncestors bumps UpdatedOnUtc on every rule set that reaches id through
// group rules. Cycles in stored data terminate through the visited set.
func touchAncestors(ctx context.Context, q *db.Queries, id types.RuleSetID, now time.Time) error {
	visited := map[types.RuleSetID]bool{id: true}
	queue := []types.RuleSetID{id}
	for len(queue) > 0 {
		child := queue[0]
		queue = queue[1:]

		var parents []string
		if err := q.Select(ctx, "list-parent-rule-sets", &parents, string(child)); err != nil {
			return fmt.Errorf("find parents of %s: %w", child, err)
		}
		for _, p := range parents {
			pid := types.RuleSetID(p)
			if visited[pid] {
				continue
			}
			visited[pid] = true
			if _, err := q.Exec(ctx, "touch-rule-set", now, p); err != nil {
				return fmt.Errorf("touch rule set %s: %w", p, err)
			}
			queue = append(queue, pid)
		}
	}
	return nil
}

// DeleteRuleSet removes a rule set and its rules. Parents referencing it are
// touched so their next compilation reports the missing sub-group.
func (s *RuleStore) DeleteRuleSet(ctx context.Context, id types.RuleSetID) error {
	now := s.now().UTC().Truncate(time.Microsecond)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()
	q := s.queries.WithTx(tx)

	if err := touchAncestors(ctx, q, id, now); err != nil {
		return err
	}
	if _, err := q.Exec(ctx, "delete-rules", string(id)); err != nil {
		return fmt.Errorf("delete rules of %s: %w", id, err)
	}
	res, err := q.Exec(ctx, "delete-rule-set", string(id))
	if err != nil {
		return fmt.Errorf("delete rule set %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", types.ErrRuleSetNotFound, id)
	}
	return tx.Commit()
}

// MarkProcessed records when rule set id was last compiled. UpdatedOnUtc is
// left unchanged so the stamp does not invalidate cached predicates.
// Implements rules.ProcessedRecorder.
func (s *RuleStore) MarkProcessed(ctx context.Context, id types.RuleSetID, at time.Time) error {
	res, err := s.queries.Exec(ctx, "mark-processed", at.UTC().Truncate(time.Microsecond), string(id))
	if err != nil {
		return fmt.Errorf("mark rule set %s processed: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", types.ErrRuleSetNotFound, id)
	}
	return nil
}

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/solatis/rulefilter/internal/core/db"
	"github.com/solatis/rulefilter/internal/provider"
	"github.com/solatis/rulefilter/internal/rules"
	"github.com/solatis/rulefilter/internal/types"
)

// clock advances one second per call.
type clock struct{ t time.Time }

func (c *clock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestStore(t *testing.T) (*RuleStore, *clock) {
	t.Helper()
	ctx := context.Background()
	database, err := db.Open(ctx, "sqlite://"+filepath.Join(t.TempDir(), "rules.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.MigrateUp(ctx, database))
	queries, err := db.LoadQueries(database)
	require.NoError(t, err)

	s := New(database, queries)
	c := &clock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	s.now = c.now
	return s, c
}

func checkoutSet() *types.RuleSet {
	return &types.RuleSet{
		Name:            "checkout",
		Scope:           "Cart",
		IsActive:        true,
		LogicalOperator: types.LogicalOr,
		Rules: []types.Rule{
			{RuleType: "Country", Operator: "In", Value: "DE, AT", DisplayOrder: 2},
			{RuleType: "CartTotal", Operator: ">=", Value: "50", DisplayOrder: 1},
		},
	}
}

func TestSaveAndGetRuleSet(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	rs := checkoutSet()
	require.NoError(t, s.SaveRuleSet(ctx, rs))
	require.NotEmpty(t, rs.ID)
	_, err := types.ParseRuleSetID(string(rs.ID))
	require.NoError(t, err)

	got, err := s.GetRuleSet(ctx, rs.ID)
	require.NoError(t, err)
	require.Equal(t, "checkout", got.Name)
	require.Equal(t, types.Scope("Cart"), got.Scope)
	require.Equal(t, types.LogicalOr, got.LogicalOperator)
	require.True(t, got.IsActive)
	require.False(t, got.IsSubGroup)
	require.Nil(t, got.LastProcessedOnUtc)
	require.True(t, rs.UpdatedOnUtc.Equal(got.UpdatedOnUtc), "updated %v vs %v", rs.UpdatedOnUtc, got.UpdatedOnUtc)
	require.True(t, rs.CreatedOnUtc.Equal(got.CreatedOnUtc))

	require.Len(t, got.Rules, 2)
	require.Equal(t, "CartTotal", got.Rules[0].RuleType)
	require.Equal(t, "Country", got.Rules[1].RuleType)
	for _, r := range got.Rules {
		require.Equal(t, rs.ID, r.RuleSetID)
		require.NotEmpty(t, r.ID)
	}
}

func TestGetRuleSet_NotFound(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.GetRuleSet(context.Background(), "missing")
	require.ErrorIs(t, err, types.ErrRuleSetNotFound)
}

func TestSaveRuleSet_ReplacesRules(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	rs := checkoutSet()
	require.NoError(t, s.SaveRuleSet(ctx, rs))
	created, firstUpdate := rs.CreatedOnUtc, rs.UpdatedOnUtc

	rs.Rules = []types.Rule{{RuleType: "CouponCode", Operator: "IsNotEmpty"}}
	rs.LogicalOperator = types.LogicalAnd
	require.NoError(t, s.SaveRuleSet(ctx, rs))

	got, err := s.GetRuleSet(ctx, rs.ID)
	require.NoError(t, err)
	require.Len(t, got.Rules, 1)
	require.Equal(t, "CouponCode", got.Rules[0].RuleType)
	require.Equal(t, types.LogicalAnd, got.LogicalOperator)
	require.True(t, created.Equal(got.CreatedOnUtc))
	require.True(t, got.UpdatedOnUtc.After(firstUpdate))
}

func TestSaveRuleSet_RejectsInvalidRules(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	tests := []struct {
		name string
		rule types.Rule
		want error
	}{
		{"leaf without operator", types.Rule{RuleType: "CartTotal"}, types.ErrMalformedRule},
		{"group with operator", types.Rule{RuleType: types.GroupRuleType, Operator: "=", Value: "x"}, types.ErrMalformedRule},
		{"operator too long", types.Rule{RuleType: "CartTotal", Operator: "GreaterThanOrEqualTo!"}, types.ErrOperatorTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs := &types.RuleSet{Name: tt.name, Scope: "Cart", Rules: []types.Rule{tt.rule}}
			require.ErrorIs(t, s.SaveRuleSet(ctx, rs), tt.want)
			_, err := s.GetRuleSet(ctx, rs.ID)
			require.ErrorIs(t, err, types.ErrRuleSetNotFound)
		})
	}

	self := &types.RuleSet{ID: types.NewRuleSetID(), Scope: "Cart"}
	self.Rules = []types.Rule{{RuleType: types.GroupRuleType, Value: string(self.ID)}}
	require.ErrorIs(t, s.SaveRuleSet(ctx, self), types.ErrGroupCycle)
}

func TestSaveRuleSet_TouchesAncestors(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	leaf := &types.RuleSet{Name: "vip", Scope: "Cart", IsSubGroup: true,
		Rules: []types.Rule{{RuleType: "CouponCode", Operator: "=", Value: "VIP"}}}
	require.NoError(t, s.SaveRuleSet(ctx, leaf))
	mid := &types.RuleSet{Name: "mid", Scope: "Cart", IsSubGroup: true,
		Rules: []types.Rule{{RuleType: types.GroupRuleType, Value: " " + string(leaf.ID) + " "}}}
	require.NoError(t, s.SaveRuleSet(ctx, mid))
	top := &types.RuleSet{Name: "top", Scope: "Cart",
		Rules: []types.Rule{{RuleType: types.GroupRuleType, Value: string(mid.ID)}}}
	require.NoError(t, s.SaveRuleSet(ctx, top))
	other := checkoutSet()
	require.NoError(t, s.SaveRuleSet(ctx, other))

	require.NoError(t, s.SaveRuleSet(ctx, leaf))

	for _, id := range []types.RuleSetID{mid.ID, top.ID} {
		got, err := s.GetRuleSet(ctx, id)
		require.NoError(t, err)
		require.True(t, got.UpdatedOnUtc.Equal(leaf.UpdatedOnUtc), "%s updated %v, want %v", got.Name, got.UpdatedOnUtc, leaf.UpdatedOnUtc)
	}
	got, err := s.GetRuleSet(ctx, other.ID)
	require.NoError(t, err)
	require.True(t, got.UpdatedOnUtc.Equal(other.UpdatedOnUtc), "unrelated set touched")
}

func TestMarkProcessed(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	rs := checkoutSet()
	require.NoError(t, s.SaveRuleSet(ctx, rs))

	at := time.Date(2026, 6, 1, 0, 0, 0, 123456789, time.UTC)
	require.NoError(t, s.MarkProcessed(ctx, rs.ID, at))

	got, err := s.GetRuleSet(ctx, rs.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastProcessedOnUtc)
	require.True(t, got.LastProcessedOnUtc.Equal(at.Truncate(time.Microsecond)))
	require.True(t, got.UpdatedOnUtc.Equal(rs.UpdatedOnUtc), "MarkProcessed changed UpdatedOnUtc")

	require.ErrorIs(t, s.MarkProcessed(ctx, "missing", at), types.ErrRuleSetNotFound)
}

func TestDeleteRuleSet(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	sub := &types.RuleSet{Name: "sub", Scope: "Cart", IsSubGroup: true,
		Rules: []types.Rule{{RuleType: "CouponCode", Operator: "IsNull"}}}
	require.NoError(t, s.SaveRuleSet(ctx, sub))
	parent := &types.RuleSet{Name: "parent", Scope: "Cart",
		Rules: []types.Rule{{RuleType: types.GroupRuleType, Value: string(sub.ID)}}}
	require.NoError(t, s.SaveRuleSet(ctx, parent))

	require.NoError(t, s.DeleteRuleSet(ctx, sub.ID))
	_, err := s.GetRuleSet(ctx, sub.ID)
	require.ErrorIs(t, err, types.ErrRuleSetNotFound)

	got, err := s.GetRuleSet(ctx, parent.ID)
	require.NoError(t, err)
	require.True(t, got.UpdatedOnUtc.After(parent.UpdatedOnUtc))

	require.ErrorIs(t, s.DeleteRuleSet(ctx, sub.ID), types.ErrRuleSetNotFound)

	all, err := s.ListRuleSets(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, parent.ID, all[0].ID)
}

func TestStoreBackedEngine(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	vip := &types.RuleSet{Name: "vip", Scope: "Cart", IsSubGroup: true,
		Rules: []types.Rule{{RuleType: "CouponCode", Operator: "=", Value: "VIP"}}}
	require.NoError(t, s.SaveRuleSet(ctx, vip))
	top := &types.RuleSet{Name: "top", Scope: "Cart", LogicalOperator: types.LogicalOr,
		Rules: []types.Rule{
			{RuleType: "CartTotal", Operator: ">=", Value: "50"},
			{RuleType: types.GroupRuleType, Value: string(vip.ID), DisplayOrder: 1},
		}}
	require.NoError(t, s.SaveRuleSet(ctx, top))

	cache, err := rules.NewPredicateCache(8)
	require.NoError(t, err)
	engine := rules.NewEngine(rules.DefaultRegistry(), s, rules.WithCache(cache))

	p, err := engine.CompileByID(ctx, top.ID, provider.MemoryTarget)
	require.NoError(t, err)
	ok, err := p.Match(map[string]any{"CartTotal": 10.0, "CouponCode": "VIP"})
	require.NoError(t, err)
	require.True(t, ok)

	stored, err := s.GetRuleSet(ctx, top.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastProcessedOnUtc, "compilation not stamped")

	// unchanged set is served from the cache
	_, err = engine.CompileByID(ctx, top.ID, provider.MemoryTarget)
	require.NoError(t, err)
	require.EqualValues(t, 1, cache.Compiles())

	// editing the sub-group invalidates the parent's predicate
	vip.Rules[0].Value = "GOLD"
	require.NoError(t, s.SaveRuleSet(ctx, vip))
	p, err = engine.CompileByID(ctx, top.ID, provider.MemoryTarget)
	require.NoError(t, err)
	require.EqualValues(t, 2, cache.Compiles())
	ok, err = p.Match(map[string]any{"CartTotal": 10.0, "CouponCode": "VIP"})
	require.NoError(t, err)
	require.False(t, ok)

	// a sub-group cannot be compiled on its own
	_, err = engine.CompileByID(ctx, vip.ID, provider.MemoryTarget)
	require.ErrorIs(t, err, types.ErrSubGroupRoot)
}

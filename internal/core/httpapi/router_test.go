package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/solatis/rulefilter/internal/core/api"
	"github.com/solatis/rulefilter/internal/core/config"
	"github.com/solatis/rulefilter/internal/rules"
	"github.com/solatis/rulefilter/internal/types"
)

func newTestServer(t *testing.T) (*httptest.Server, types.RuleSetID) {
	t.Helper()
	id := types.NewRuleSetID()
	rs := &types.RuleSet{
		ID:              id,
		Name:            "big carts",
		Scope:           "Cart",
		IsActive:        true,
		LogicalOperator: types.LogicalOr,
		UpdatedOnUtc:    time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		Rules: []types.Rule{
			{ID: types.NewRuleID(), RuleSetID: id, RuleType: "CartTotal", Operator: ">=", Value: "500"},
			{ID: types.NewRuleID(), RuleSetID: id, RuleType: "CartItemCount", Operator: ">", Value: "10", DisplayOrder: 1},
		},
	}
	src := rules.StaticSource{id: rs}
	svc, err := api.NewRuleService(rules.NewEngine(rules.DefaultRegistry(), src), src, &config.DefaultConfig().Server, "postgres")
	require.NoError(t, err)

	srv := httptest.NewServer(NewRouter(svc, nil))
	t.Cleanup(srv.Close)
	return srv, id
}

func decode(t *testing.T, resp *http.Response, dest any) {
	t.Helper()
	defer resp.Body.Close()
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dest))
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	decode(t, resp, &body)
	require.Equal(t, "ok", body["status"])
}

func TestListRuleSets(t *testing.T) {
	srv, id := newTestServer(t)
	resp, err := http.Get(srv.URL + "/v1/rule-sets")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		RuleSets []api.RuleSetSummary `json:"rule_sets"`
	}
	decode(t, resp, &body)
	require.Len(t, body.RuleSets, 1)
	require.Equal(t, id, body.RuleSets[0].ID)
	require.Equal(t, types.LogicalOr, body.RuleSets[0].LogicalOperator)
}

func TestEvaluate(t *testing.T) {
	srv, id := newTestServer(t)

	payload := `{"provider": "jsonlogic", "entities": [
		{"CartTotal": 600, "ItemCount": 1},
		{"CartTotal": 20, "ItemCount": 11},
		{"CartTotal": 20, "ItemCount": 2}
	]}`
	resp, err := http.Post(srv.URL+"/v1/rule-sets/"+string(id)+"/evaluate", "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body api.EvaluateResponse
	decode(t, resp, &body)
	require.Equal(t, 2, body.MatchedCount)
	require.True(t, body.Results[0].Matched)
	require.True(t, body.Results[1].Matched)
	require.False(t, body.Results[2].Matched)
}

func TestEvaluate_Errors(t *testing.T) {
	srv, id := newTestServer(t)

	tests := []struct {
		name string
		path string
		body string
		code int
	}{
		{"bad json", "/v1/rule-sets/" + string(id) + "/evaluate", "{", http.StatusBadRequest},
		{"bad id", "/v1/rule-sets/xyz/evaluate", `{"entities": []}`, http.StatusBadRequest},
		{"unknown set", "/v1/rule-sets/" + string(types.NewRuleSetID()) + "/evaluate", `{"entities": []}`, http.StatusNotFound},
		{"bad entity", "/v1/rule-sets/" + string(id) + "/evaluate", `{"entities": [{"CartTotal": "many"}]}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+tt.path, "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			require.Equal(t, tt.code, resp.StatusCode)
			var body map[string]string
			decode(t, resp, &body)
			require.NotEmpty(t, body["error"])
		})
	}
}

func TestTranslate(t *testing.T) {
	srv, id := newTestServer(t)

	resp, err := http.Get(srv.URL + "/v1/rule-sets/" + string(id) + "/translate?provider=sql")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body api.TranslateResponse
	decode(t, resp, &body)
	require.Equal(t, "sql/postgres", body.Provider)
	require.Equal(t, "(cart_total >= ? OR item_count > ?)", body.Expression)
	require.Equal(t, []any{500.0, 10.0}, body.Args)

	resp, err = http.Get(srv.URL + "/v1/rule-sets/" + string(id) + "/translate?provider=cobol")
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

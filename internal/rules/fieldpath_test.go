// internal/rules/fieldpath_test.go
package rules

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/solatis/rulefilter/internal/expr"
	"github.com/solatis/rulefilter/internal/types"
)

func TestParseMemberPath(t *testing.T) {
	tests := []struct {
		path string
		want []PathSegment
	}{
		{"CartTotal", []PathSegment{{Name: "CartTotal"}}},
		{"BillingAddress.Country", []PathSegment{{Name: "BillingAddress"}, {Name: "Country"}}},
		{"Items[].Sku", []PathSegment{{Name: "Items", Collection: true}, {Name: "Sku"}}},
		{"Orders[].Lines[].Sku", []PathSegment{{Name: "Orders", Collection: true}, {Name: "Lines", Collection: true}, {Name: "Sku"}}},
		{"_private2", []PathSegment{{Name: "_private2"}}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := ParseMemberPath(tt.path)
			if err != nil {
				t.Fatalf("ParseMemberPath() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseMemberPath() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseMemberPath_Errors(t *testing.T) {
	tests := []struct {
		path    string
		wantErr error
	}{
		{"", types.ErrInvalidMemberPath},
		{"A..B", types.ErrInvalidMemberPath},
		{"1st", types.ErrInvalidMemberPath},
		{"A-B", types.ErrInvalidMemberPath},
		{"Items[]", types.ErrInvalidMemberPath},
		{"A[].B[].C[].D", types.ErrTooManyCollections},
		{strings.TrimSuffix(strings.Repeat("A.", types.MaxPathDepth+1), "."), types.ErrPathTooDeep},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if _, err := ParseMemberPath(tt.path); !errors.Is(err, tt.wantErr) {
				t.Errorf("ParseMemberPath(%q) error = %v, want %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestBindMember_NestedCollections(t *testing.T) {
	segs, err := ParseMemberPath("Orders[].Lines[].Sku")
	if err != nil {
		t.Fatalf("ParseMemberPath() error = %v", err)
	}
	root := expr.NewParam("e", expr.Entity("Customer"))
	body, err := bindMember(root, "Customer", segs, expr.String, func(m expr.Node) (expr.Node, error) {
		return expr.NewBinary(expr.OpEqual, m, expr.NewConstant("X", expr.String), false)
	})
	if err != nil {
		t.Fatalf("bindMember() error = %v", err)
	}

	want := `(e.Orders.Any(o => (o.Lines.Any(l => (l.Sku == "X")) == True)) == True)`
	if got := expr.Format(body); got != want {
		t.Errorf("bindMember() = %s, want %s", got, want)
	}

	l, err := expr.NewLambda(root, body)
	if err != nil {
		t.Fatalf("NewLambda() error = %v", err)
	}
	customer := map[string]any{"Orders": []any{
		map[string]any{"Lines": []any{map[string]any{"Sku": "Y"}}},
		map[string]any{"Lines": []any{map[string]any{"Sku": "Y"}, map[string]any{"Sku": "X"}}},
	}}
	ok, err := expr.Evaluate(l, customer)
	if err != nil || !ok {
		t.Errorf("Evaluate() = %v, %v, want true", ok, err)
	}
}

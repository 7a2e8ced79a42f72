// internal/rules/descriptor_test.go
package rules

import (
	"errors"
	"strings"
	"testing"

	"github.com/solatis/rulefilter/internal/expr"
	"github.com/solatis/rulefilter/internal/types"
)

func TestDefaultRegistry_Lookup(t *testing.T) {
	reg := DefaultRegistry()

	d, err := reg.Lookup("carttotal")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if d.Scope != "Cart" || !d.Type().Equal(expr.Decimal) || d.Column != "cart_total" {
		t.Errorf("Lookup(CartTotal) = %+v", d)
	}

	if _, err := reg.Lookup("Weather"); !errors.Is(err, types.ErrUnknownRuleType) {
		t.Errorf("Lookup(Weather) error = %v, want ErrUnknownRuleType", err)
	}

	roles, err := reg.Lookup("CustomerRoles")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if roles.Type().Kind != expr.KindList {
		t.Errorf("CustomerRoles type = %s, want list", roles.Type())
	}
}

func TestRegistry_Columns(t *testing.T) {
	cols := DefaultRegistry().Columns("Customer")
	if cols["BillingAddress.Country"] != "billing_country" {
		t.Errorf("Columns()[BillingAddress.Country] = %q, want billing_country", cols["BillingAddress.Country"])
	}
	if _, ok := cols["Roles"]; ok {
		t.Error("Columns() contains Roles, which has no column")
	}
	if _, ok := cols["CartTotal"]; ok {
		t.Error("Columns(Customer) contains a Cart member")
	}
}

func TestLoadRegistryYAML(t *testing.T) {
	doc := `
descriptors:
  - rule_type: Tier
    scope: Customer
    member: Loyalty.Tier
    value_type: int
    operators: ["=", In]
`
	reg, err := LoadRegistryYAML(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("LoadRegistryYAML() error = %v", err)
	}
	d, err := reg.Lookup("Tier")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if !d.Allows(OpIn) || d.Allows(OpGreaterThan) {
		t.Errorf("allow-list not applied: In=%v >=%v", d.Allows(OpIn), d.Allows(OpGreaterThan))
	}
	if len(d.Segments()) != 2 {
		t.Errorf("Segments() = %v, want 2 segments", d.Segments())
	}
}

func TestLoadRegistryYAML_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"duplicate rule type", `
descriptors:
  - {rule_type: A, scope: Cart, member: X, value_type: int}
  - {rule_type: a, scope: Cart, member: Y, value_type: int}`},
		{"reserved group type", `
descriptors:
  - {rule_type: Group, scope: Cart, member: X, value_type: int}`},
		{"unknown value type", `
descriptors:
  - {rule_type: A, scope: Cart, member: X, value_type: money}`},
		{"malformed path", `
descriptors:
  - {rule_type: A, scope: Cart, member: "X..Y", value_type: int}`},
		{"path ending in collection", `
descriptors:
  - {rule_type: A, scope: Cart, member: "Items[]", value_type: string}`},
		{"illegal operator for type", `
descriptors:
  - {rule_type: A, scope: Cart, member: X, value_type: string, operators: [">"]}`},
		{"unknown operator", `
descriptors:
  - {rule_type: A, scope: Cart, member: X, value_type: string, operators: [Like]}`},
		{"missing scope", `
descriptors:
  - {rule_type: A, member: X, value_type: string}`},
		{"unknown field", `
descriptors:
  - {rule_type: A, scope: Cart, member: X, value_type: string, colum: x}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadRegistryYAML(strings.NewReader(tt.doc)); err == nil {
				t.Error("LoadRegistryYAML() error = nil, want error")
			}
		})
	}
}

func TestLoadRegistryYAML_Empty(t *testing.T) {
	reg, err := LoadRegistryYAML(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadRegistryYAML(empty) error = %v", err)
	}
	if n := len(reg.Descriptors()); n != 0 {
		t.Errorf("Descriptors() = %d, want 0", n)
	}
}

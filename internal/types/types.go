// Package types provides the rule model shared by the rule store, the
// compiler and the transports.
//
// Zero-dependency design: apart from ids.go (uuid) this package uses only the
// standard library, so collaborators that persist or author rules can import
// it without pulling in the compiler.
package types

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// RuleSetID identifies a RuleSet (UUIDv7 string).
type RuleSetID string

// RuleID identifies a Rule (UUIDv7 string).
type RuleID string

// Scope names the kind of entity a rule set applies to (Cart, Customer, Product...).
type Scope string

// LogicalOperator combines the children of a rule set.
type LogicalOperator int

const (
	LogicalAnd LogicalOperator = iota
	LogicalOr
)

// String returns the persisted name of the operator.
func (op LogicalOperator) String() string {
	if op == LogicalOr {
		return "OR"
	}
	return "AND"
}

// ParseLogicalOperator accepts AND/OR in any case.
func ParseLogicalOperator(s string) (LogicalOperator, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "AND", "":
		return LogicalAnd, nil
	case "OR":
		return LogicalOr, nil
	default:
		return LogicalAnd, fmt.Errorf("unknown logical operator %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (op LogicalOperator) MarshalText() ([]byte, error) {
	return []byte(op.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (op *LogicalOperator) UnmarshalText(b []byte) error {
	parsed, err := ParseLogicalOperator(string(b))
	if err != nil {
		return err
	}
	*op = parsed
	return nil
}

// RuleSet is a named, ordered collection of rules combined by one logical operator.
// Sub-group sets only exist as children of another set.
type RuleSet struct {
	ID                 RuleSetID       `json:"id" yaml:"id"`
	Name               string          `json:"name" yaml:"name"`
	Description        string          `json:"description,omitempty" yaml:"description,omitempty"`
	Scope              Scope           `json:"scope" yaml:"scope"`
	IsActive           bool            `json:"is_active" yaml:"is_active"`
	LogicalOperator    LogicalOperator `json:"logical_operator" yaml:"logical_operator"`
	IsSubGroup         bool            `json:"is_sub_group" yaml:"is_sub_group"`
	CreatedOnUtc       time.Time       `json:"created_on_utc" yaml:"created_on_utc"`
	UpdatedOnUtc       time.Time       `json:"updated_on_utc" yaml:"updated_on_utc"`
	LastProcessedOnUtc *time.Time      `json:"last_processed_on_utc,omitempty" yaml:"last_processed_on_utc,omitempty"`
	Rules              []Rule          `json:"rules" yaml:"rules"`
}

// OrderedRules returns the rules sorted by DisplayOrder; equal orders keep
// their original position.
func (rs *RuleSet) OrderedRules() []Rule {
	out := make([]Rule, len(rs.Rules))
	copy(out, rs.Rules)
	sort.SliceStable(out, func(i, j int) bool { return out[i].DisplayOrder < out[j].DisplayOrder })
	return out
}

// GroupRuleType is the reserved RuleType of a rule pointing at a sub-group.
const GroupRuleType = "Group"

// Rule is a leaf comparison or a pointer to a nested sub-group RuleSet.
type Rule struct {
	ID           RuleID    `json:"id" yaml:"id"`
	RuleSetID    RuleSetID `json:"rule_set_id" yaml:"rule_set_id"`
	RuleType     string    `json:"rule_type" yaml:"rule_type"`
	Operator     string    `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value        string    `json:"value,omitempty" yaml:"value,omitempty"`
	DisplayOrder int       `json:"display_order" yaml:"display_order"`
}

// IsGroup reports whether the rule references a sub-group.
func (r Rule) IsGroup() bool {
	return r.RuleType == GroupRuleType
}

// SubGroupID returns the referenced sub-group for group rules.
func (r Rule) SubGroupID() RuleSetID {
	return RuleSetID(strings.TrimSpace(r.Value))
}

// Validate checks the leaf/group invariant and column bounds.
func (r Rule) Validate() error {
	if r.RuleSetID == "" {
		return fmt.Errorf("rule %s: %w", r.ID, ErrMissingRuleSet)
	}
	if len(r.Operator) > MaxOperatorLength {
		return fmt.Errorf("rule %s: %w", r.ID, ErrOperatorTooLong)
	}
	if len(r.Value) > MaxValueLength {
		return fmt.Errorf("rule %s: %w", r.ID, ErrValueTooLong)
	}
	if r.IsGroup() {
		if r.SubGroupID() == "" || r.Operator != "" {
			return fmt.Errorf("rule %s: %w", r.ID, ErrMalformedRule)
		}
		return nil
	}
	if r.RuleType == "" || r.Operator == "" {
		return fmt.Errorf("rule %s: %w", r.ID, ErrMalformedRule)
	}
	return nil
}

// Limits enforced while compiling rule sets.
const (
	// MaxOperatorLength bounds Rule.Operator (persisted column width).
	MaxOperatorLength = 20

	// MaxValueLength bounds Rule.Value (persisted column width).
	MaxValueLength = 400

	// MaxInOperatorValues limits set-membership lists to keep remote IN clauses bounded.
	MaxInOperatorValues = 256

	// MaxGroupDepth limits sub-group nesting.
	MaxGroupDepth = 8

	// MaxPathDepth limits descriptor member paths (Customer.Address.Country is 3).
	MaxPathDepth = 16

	// MaxNestedCollections limits "any element" segments per member path.
	// 2 allows Orders[].Items[].Sku without combinatorial fan-out.
	MaxNestedCollections = 2
)

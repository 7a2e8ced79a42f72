// internal/rules/descriptor.go
package rules

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/solatis/rulefilter/internal/expr"
	"github.com/solatis/rulefilter/internal/types"
)

/*
 * Rule descriptor registry.
 *
 * A descriptor binds a symbolic RuleType ("CartTotal") to the member it
 * compares ("CartTotal" on the Cart scope), the member's declared value type,
 * and optionally the column a SQL provider reads it from.
 *
 * The registry is built once and never mutated afterwards. Lookups take no
 * locks and are safe from any number of goroutines.
 *
 * Build-time validation rejects:
 *   - duplicate rule types (case-insensitive)
 *   - the reserved "Group" rule type
 *   - malformed member paths (see ParseMemberPath)
 *   - unknown value types and column names that are not plain identifiers
 *   - operator allow-lists naming operators outside the catalogue, or
 *     operators illegal for the value type
 */

// RuleDescriptor is the static metadata for one rule type.
type RuleDescriptor struct {
	RuleType   string      `yaml:"rule_type"`
	Scope      types.Scope `yaml:"scope"`
	MemberPath string      `yaml:"member"`
	ValueType  string      `yaml:"value_type"`
	Column     string      `yaml:"column,omitempty"`
	Operators  []string    `yaml:"operators,omitempty"`

	segments  []PathSegment
	valueType expr.Type
	allowed   map[Operator]bool // nil = every legal operator
}

// Type returns the parsed value type.
func (d *RuleDescriptor) Type() expr.Type { return d.valueType }

// Segments returns the parsed member path.
func (d *RuleDescriptor) Segments() []PathSegment { return d.segments }

// Allows reports whether op may be used with this descriptor.
func (d *RuleDescriptor) Allows(op Operator) bool {
	if d.allowed != nil && !d.allowed[op] {
		return false
	}
	return op.Accepts(d.valueType)
}

func (d *RuleDescriptor) prepare() error {
	if strings.TrimSpace(d.RuleType) == "" {
		return fmt.Errorf("descriptor without rule_type")
	}
	if strings.EqualFold(d.RuleType, types.GroupRuleType) {
		return fmt.Errorf("descriptor %s: rule type is reserved", d.RuleType)
	}
	if d.Scope == "" {
		return fmt.Errorf("descriptor %s: missing scope", d.RuleType)
	}
	segs, err := ParseMemberPath(d.MemberPath)
	if err != nil {
		return fmt.Errorf("descriptor %s: %w", d.RuleType, err)
	}
	t, ok := expr.ParseType(d.ValueType)
	if !ok {
		return fmt.Errorf("descriptor %s: unknown value type %q", d.RuleType, d.ValueType)
	}
	if d.Column != "" && !isIdentifier(d.Column) {
		return fmt.Errorf("descriptor %s: invalid column %q", d.RuleType, d.Column)
	}
	d.segments = segs
	d.valueType = t

	if len(d.Operators) > 0 {
		d.allowed = make(map[Operator]bool, len(d.Operators))
		for _, name := range d.Operators {
			op, err := ParseOperator(name)
			if err != nil {
				return fmt.Errorf("descriptor %s: %w", d.RuleType, err)
			}
			if !op.Accepts(t) {
				return fmt.Errorf("descriptor %s: operator %s is not valid for %s", d.RuleType, op, t)
			}
			d.allowed[op] = true
		}
	}
	return nil
}

// Registry resolves rule types to descriptors.
type Registry struct {
	byType map[string]*RuleDescriptor
}

// NewRegistry validates descriptors and builds an immutable registry.
func NewRegistry(descriptors []RuleDescriptor) (*Registry, error) {
	r := &Registry{byType: make(map[string]*RuleDescriptor, len(descriptors))}
	for i := range descriptors {
		d := descriptors[i]
		if err := d.prepare(); err != nil {
			return nil, err
		}
		key := strings.ToLower(d.RuleType)
		if _, dup := r.byType[key]; dup {
			return nil, fmt.Errorf("duplicate descriptor for rule type %s", d.RuleType)
		}
		r.byType[key] = &d
	}
	return r, nil
}

// Lookup returns the descriptor for ruleType.
func (r *Registry) Lookup(ruleType string) (*RuleDescriptor, error) {
	d, ok := r.byType[strings.ToLower(strings.TrimSpace(ruleType))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownRuleType, ruleType)
	}
	return d, nil
}

// Descriptors returns all descriptors sorted by rule type.
func (r *Registry) Descriptors() []*RuleDescriptor {
	out := make([]*RuleDescriptor, 0, len(r.byType))
	for _, d := range r.byType {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RuleType < out[j].RuleType })
	return out
}

// Columns maps member paths of scope to their SQL columns. Descriptors
// without a column are omitted.
func (r *Registry) Columns(scope types.Scope) map[string]string {
	cols := make(map[string]string)
	for _, d := range r.byType {
		if d.Scope == scope && d.Column != "" {
			cols[d.MemberPath] = d.Column
		}
	}
	return cols
}

type catalogueFile struct {
	Descriptors []RuleDescriptor `yaml:"descriptors"`
}

// LoadRegistryYAML reads a descriptor catalogue:
//
//	descriptors:
//	  - rule_type: CartTotal
//	    scope: Cart
//	    member: CartTotal
//	    value_type: decimal
//	    column: cart_total
func LoadRegistryYAML(r io.Reader) (*Registry, error) {
	var file catalogueFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if err == io.EOF {
			return NewRegistry(nil)
		}
		return nil, fmt.Errorf("decode catalogue: %w", err)
	}
	return NewRegistry(file.Descriptors)
}

// LoadRegistryFile reads a catalogue from path.
func LoadRegistryFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadRegistryYAML(f)
}

//go:embed catalogue.yaml
var defaultCatalogue string

// DefaultRegistry returns the built-in catalogue. It panics if the embedded
// catalogue is invalid.
func DefaultRegistry() *Registry {
	r, err := LoadRegistryYAML(strings.NewReader(defaultCatalogue))
	if err != nil {
		panic(fmt.Sprintf("rules: embedded catalogue: %v", err))
	}
	return r
}

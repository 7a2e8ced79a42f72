// Package provider adapts compiled rule predicates to an evaluation target.
//
// The caller declares the target up front: in-memory evaluation runs the
// expression tree directly, remote targets (SQL, CEL, JSONLogic) receive a
// translation. Translation either reproduces the in-memory semantics exactly
// or fails with types.ErrUntranslatableExpression; it never emits a query
// whose answer could differ from local evaluation.
package provider

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/solatis/rulefilter/internal/expr"
	"github.com/solatis/rulefilter/internal/types"
)

// Kind names an evaluation target.
type Kind string

const (
	Memory    Kind = "memory"
	SQL       Kind = "sql"
	CEL       Kind = "cel"
	JSONLogic Kind = "jsonlogic"
)

// ParseKind accepts a target name in any case.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case Memory, SQL, CEL, JSONLogic:
		return k, nil
	case "":
		return Memory, nil
	}
	return "", fmt.Errorf("unknown provider %q", s)
}

// Remote reports whether predicates for k are translated.
func (k Kind) Remote() bool { return k != Memory }

// SQL dialects.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// Target describes where a predicate will run. Columns maps entity member
// paths ("CartTotal", "BillingAddress.Country") to SQL columns and is only
// consulted for SQL targets.
type Target struct {
	Kind    Kind
	Dialect string
	Columns map[string]string
}

// MemoryTarget is the in-memory target.
var MemoryTarget = Target{Kind: Memory}

// String identifies the target, e.g. "sql/postgres".
func (t Target) String() string {
	if t.Kind == SQL {
		return string(t.Kind) + "/" + t.Dialect
	}
	return string(t.Kind)
}

// capabilities of a target's string handling.
type capabilities struct {
	lowerCase bool // target can lower-case a string value
	asciiOnly bool // lower-casing folds ASCII letters only
}

func (t Target) capabilities() capabilities {
	switch t.Kind {
	case SQL:
		// sqlite's lower() folds ASCII only; postgres folds per database
		// collation, which is ASCII-only under "C" and full Unicode under ICU
		return capabilities{lowerCase: true, asciiOnly: true}
	case CEL:
		return capabilities{lowerCase: true, asciiOnly: true}
	case Memory:
		return capabilities{lowerCase: true}
	}
	return capabilities{}
}

// Predicate is a compiled rule set bound to a target. Lambda is the tree
// after provider substitutions; it evaluates identically to the translation.
type Predicate struct {
	Target    Target
	Lambda    *expr.Lambda
	SQL       *SQLQuery
	CEL       *CELProgram
	JSONLogic *JSONLogicRule
}

// Adapt prepares lambda for target.
func Adapt(lambda *expr.Lambda, target Target) (*Predicate, error) {
	p := &Predicate{Target: target, Lambda: lambda}
	if !target.Kind.Remote() {
		return p, nil
	}

	adapted, err := substituteCaseInsensitive(lambda, target.capabilities())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", target, err)
	}
	p.Lambda = adapted

	switch target.Kind {
	case SQL:
		p.SQL, err = TranslateSQL(adapted, target.Dialect, target.Columns)
	case CEL:
		p.CEL, err = TranslateCEL(adapted)
	case JSONLogic:
		p.JSONLogic, err = TranslateJSONLogic(adapted)
	default:
		err = fmt.Errorf("%w: unknown target %q", types.ErrUntranslatableExpression, target.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", target, err)
	}
	return p, nil
}

// Match evaluates the predicate against one entity. SQL predicates are
// evaluated locally through the adapted tree; use SQLQuery.Select to run them
// remotely.
func (p *Predicate) Match(entity any) (bool, error) {
	switch {
	case p.CEL != nil:
		return p.CEL.Match(entity)
	case p.JSONLogic != nil:
		return p.JSONLogic.Match(entity)
	}
	return expr.Evaluate(p.Lambda, entity)
}

// Filter returns the entities that match, preserving order.
func (p *Predicate) Filter(entities []any) ([]any, error) {
	var out []any
	for i, e := range entities {
		ok, err := p.Match(e)
		if err != nil {
			return nil, fmt.Errorf("entity %d: %w", i, err)
		}
		if ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// String renders the target form of the predicate.
func (p *Predicate) String() string {
	switch {
	case p.SQL != nil:
		return p.SQL.String()
	case p.CEL != nil:
		return p.CEL.Source
	case p.JSONLogic != nil:
		return string(p.JSONLogic.Rule)
	}
	return expr.Format(p.Lambda)
}

// normalize converts an arbitrary entity into plain JSON data (maps, slices,
// float64, string, bool, nil) for targets that evaluate over documents.
func normalize(entity any) (any, error) {
	b, err := json.Marshal(entity)
	if err != nil {
		return nil, fmt.Errorf("encode entity: %w", err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode entity: %w", err)
	}
	return out, nil
}

package provider

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/diegoholiveira/jsonlogic/v3"

	"github.com/solatis/rulefilter/internal/expr"
	"github.com/solatis/rulefilter/internal/types"
)

// JSONLogicRule is a predicate rendered as a JSONLogic document. JSONLogic
// has no lower-casing and no dates, so string calls and datetime members are
// rejected during translation.
type JSONLogicRule struct {
	Rule json.RawMessage
}

// TranslateJSONLogic renders l as a JSONLogic rule.
func TranslateJSONLogic(l *expr.Lambda) (*JSONLogicRule, error) {
	t := &jsonLogicTranslator{scope: l.Param}
	doc, err := t.predicate(l.Body)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode jsonlogic: %w", err)
	}
	return &JSONLogicRule{Rule: raw}, nil
}

// Match applies the rule to entity.
func (r *JSONLogicRule) Match(entity any) (bool, error) {
	data, err := json.Marshal(entity)
	if err != nil {
		return false, fmt.Errorf("encode entity: %w", err)
	}
	var out bytes.Buffer
	if err := jsonlogic.Apply(bytes.NewReader(r.Rule), bytes.NewReader(data), &out); err != nil {
		return false, fmt.Errorf("jsonlogic apply: %w", err)
	}
	var result any
	if err := json.Unmarshal(out.Bytes(), &result); err != nil {
		return false, fmt.Errorf("jsonlogic result %q: %w", strings.TrimSpace(out.String()), err)
	}
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("jsonlogic eval: non-boolean result %v", result)
	}
	return b, nil
}

type logic = map[string]any

type jsonLogicTranslator struct {
	scope *expr.Param // parameter "var" paths are relative to
}

func (t *jsonLogicTranslator) predicate(n expr.Node) (any, error) {
	switch v := n.(type) {
	case *expr.Constant:
		if b, ok := v.Value.(bool); ok {
			return b, nil
		}
	case *expr.Binary:
		return t.binary(v)
	case *expr.Call:
		return t.call(v)
	}
	return nil, untranslatable(n)
}

func (t *jsonLogicTranslator) binary(b *expr.Binary) (any, error) {
	if b.Op.IsLogical() {
		l, err := t.predicate(b.Left)
		if err != nil {
			return nil, err
		}
		r, err := t.predicate(b.Right)
		if err != nil {
			return nil, err
		}
		op := "and"
		if b.Op == expr.OpOrElse {
			op = "or"
		}
		return logic{op: []any{l, r}}, nil
	}

	if c, ok := b.Right.(*expr.Constant); ok {
		if want, isBool := c.Value.(bool); isBool {
			if _, isMember := b.Left.(*expr.Member); !isMember {
				inner, err := t.predicate(b.Left)
				if err != nil {
					return nil, err
				}
				if want == (b.Op == expr.OpEqual) {
					return inner, nil
				}
				return logic{"!": []any{inner}}, nil
			}
		}
	}

	m, ok := b.Left.(*expr.Member)
	if !ok {
		return nil, untranslatable(b)
	}
	c, ok := b.Right.(*expr.Constant)
	if !ok {
		return nil, untranslatable(b)
	}
	v, err := t.variable(m, nil)
	if err != nil {
		return nil, err
	}
	if err := checkJSONLogicLiteral(c.Value); err != nil {
		return nil, err
	}

	switch b.Op {
	case expr.OpEqual:
		return logic{"===": []any{v, c.Value}}, nil
	case expr.OpNotEqual:
		return logic{"!==": []any{v, c.Value}}, nil
	}
	if c.Value == nil {
		return false, nil
	}
	return logic{"and": []any{
		logic{"!==": []any{v, nil}},
		logic{b.Op.String(): []any{v, c.Value}},
	}}, nil
}

func (t *jsonLogicTranslator) call(c *expr.Call) (any, error) {
	switch c.Method {
	case expr.MethodListContains:
		list, ok := c.Receiver.(*expr.Constant)
		if !ok {
			return nil, untranslatable(c)
		}
		m, ok := c.Args[0].(*expr.Member)
		if !ok {
			return nil, untranslatable(c)
		}
		v, err := t.variable(m, nil)
		if err != nil {
			return nil, err
		}
		if err := checkJSONLogicLiteral(list.Value); err != nil {
			return nil, err
		}
		items, _ := list.Value.([]any)
		if items == nil {
			items = []any{}
		}
		return logic{"in": []any{v, items}}, nil

	case expr.MethodAny:
		m, ok := c.Receiver.(*expr.Member)
		if !ok {
			return nil, untranslatable(c)
		}
		v, err := t.variable(m, []any{})
		if err != nil {
			return nil, err
		}
		pred := c.Args[0].(*expr.Lambda)
		outer := t.scope
		t.scope = pred.Param
		body, err := t.predicate(pred.Body)
		t.scope = outer
		if err != nil {
			return nil, err
		}
		return logic{"some": []any{v, body}}, nil
	}
	// string calls: JSONLogic cannot lower-case, and ordinal calls never
	// survive adaptation for this target
	return nil, untranslatable(c)
}

// variable renders {"var": "A.B"} relative to the current scope, with a
// default when def is non-nil.
func (t *jsonLogicTranslator) variable(m *expr.Member, def any) (any, error) {
	if m.Type().Kind == expr.KindTime {
		return nil, fmt.Errorf("%w: JSONLogic has no datetime comparison", types.ErrUntranslatableExpression)
	}
	names, param := m.Path()
	if param != t.scope {
		return nil, untranslatable(m)
	}
	path := strings.Join(names, ".")
	if def != nil {
		return logic{"var": []any{path, def}}, nil
	}
	return logic{"var": path}, nil
}

func checkJSONLogicLiteral(v any) error {
	switch x := v.(type) {
	case time.Time:
		return fmt.Errorf("%w: JSONLogic has no datetime literal", types.ErrUntranslatableExpression)
	case []any:
		for _, item := range x {
			if err := checkJSONLogicLiteral(item); err != nil {
				return err
			}
		}
	}
	return nil
}

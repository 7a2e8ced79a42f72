package expr

import (
	"fmt"
	"reflect"
	"strings"
	"time"
)

/*
 * In-memory interpreter.
 *
 * Null semantics (shared with every provider translation):
 *   - reading a member of a null or missing target yields null
 *   - == / != treat null as a distinct value (null == null)
 *   - relational operators on null yield false, or null with LiftToNull
 *   - string calls treat a null receiver as the empty string, so
 *     Contains(e) and NotContains(e) always partition the input
 *   - list Contains of null is false
 *   - a null boolean in && / || or as the final result counts as false
 */

type env map[*Param]any

// Evaluate applies predicate l to entity.
func Evaluate(l *Lambda, entity any) (bool, error) {
	v, err := eval(l.Body, env{l.Param: entity})
	if err != nil {
		return false, err
	}
	b, _ := v.(bool)
	return b, nil
}

func eval(n Node, e env) (any, error) {
	switch v := n.(type) {
	case *Constant:
		return v.Value, nil
	case *Param:
		val, ok := e[v]
		if !ok {
			return nil, fmt.Errorf("unbound parameter %s#%d", v.Name, v.id)
		}
		return val, nil
	case *Member:
		target, err := eval(v.Target, e)
		if err != nil {
			return nil, err
		}
		raw, err := readMember(target, v.Name)
		if err != nil {
			return nil, err
		}
		return Coerce(raw, v.typ)
	case *Binary:
		return evalBinary(v, e)
	case *Call:
		return evalCall(v, e)
	case *Lambda:
		return nil, fmt.Errorf("lambda outside of a call")
	default:
		return nil, fmt.Errorf("unknown node %T", n)
	}
}

// readMember resolves name on a map or struct target. Missing keys and null
// targets yield nil.
func readMember(target any, name string) (any, error) {
	if target == nil {
		return nil, nil
	}
	if m, ok := target.(map[string]any); ok {
		return m[name], nil
	}
	rv := reflect.ValueOf(target)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, nil
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Struct:
		f := rv.FieldByName(name)
		if !f.IsValid() || !f.CanInterface() {
			return nil, fmt.Errorf("%s has no member %s", rv.Type(), name)
		}
		return f.Interface(), nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		val := rv.MapIndex(reflect.ValueOf(name).Convert(rv.Type().Key()))
		if !val.IsValid() {
			return nil, nil
		}
		return val.Interface(), nil
	}
	return nil, fmt.Errorf("cannot read member %s of %s", name, rv.Type())
}

func evalBinary(b *Binary, e env) (any, error) {
	left, err := eval(b.Left, e)
	if err != nil {
		return nil, err
	}
	switch b.Op {
	case OpAndAlso:
		if lb, _ := left.(bool); !lb {
			return false, nil
		}
		right, err := eval(b.Right, e)
		if err != nil {
			return nil, err
		}
		rb, _ := right.(bool)
		return rb, nil
	case OpOrElse:
		if lb, _ := left.(bool); lb {
			return true, nil
		}
		right, err := eval(b.Right, e)
		if err != nil {
			return nil, err
		}
		rb, _ := right.(bool)
		return rb, nil
	}

	right, err := eval(b.Right, e)
	if err != nil {
		return nil, err
	}
	if left == nil || right == nil {
		if b.LiftToNull {
			return nil, nil
		}
		switch b.Op {
		case OpEqual:
			return left == nil && right == nil, nil
		case OpNotEqual:
			return !(left == nil && right == nil), nil
		default:
			return false, nil
		}
	}

	switch b.Op {
	case OpEqual:
		return valuesEqual(left, right), nil
	case OpNotEqual:
		return !valuesEqual(left, right), nil
	}
	c, ok := compareOrdered(left, right)
	if !ok {
		return nil, fmt.Errorf("cannot order %T and %T", left, right)
	}
	switch b.Op {
	case OpLessThan:
		return c < 0, nil
	case OpLessThanOrEqual:
		return c <= 0, nil
	case OpGreaterThan:
		return c > 0, nil
	case OpGreaterThanOrEqual:
		return c >= 0, nil
	}
	return nil, fmt.Errorf("unknown binary operator %d", b.Op)
}

func evalCall(c *Call, e env) (any, error) {
	recv, err := eval(c.Receiver, e)
	if err != nil {
		return nil, err
	}
	switch c.Method {
	case MethodToLower:
		if recv == nil {
			return nil, nil
		}
		return strings.ToLower(recv.(string)), nil
	case MethodStartsWith, MethodEndsWith, MethodContains:
		arg, err := eval(c.Args[0], e)
		if err != nil {
			return nil, err
		}
		s, _ := recv.(string)
		sub, _ := arg.(string)
		if c.Comparison == IgnoreCase {
			s, sub = strings.ToLower(s), strings.ToLower(sub)
		}
		switch c.Method {
		case MethodStartsWith:
			return strings.HasPrefix(s, sub), nil
		case MethodEndsWith:
			return strings.HasSuffix(s, sub), nil
		default:
			return strings.Contains(s, sub), nil
		}
	case MethodListContains:
		arg, err := eval(c.Args[0], e)
		if err != nil {
			return nil, err
		}
		list, _ := recv.([]any)
		if arg == nil {
			return false, nil
		}
		for _, item := range list {
			if item != nil && valuesEqual(item, arg) {
				return true, nil
			}
		}
		return false, nil
	case MethodAny:
		pred := c.Args[0].(*Lambda)
		list, _ := recv.([]any)
		for _, item := range list {
			inner := make(env, len(e)+1)
			for k, v := range e {
				inner[k] = v
			}
			inner[pred.Param] = item
			v, err := eval(pred.Body, inner)
			if err != nil {
				return nil, err
			}
			if b, _ := v.(bool); b {
				return true, nil
			}
		}
		return false, nil
	}
	return nil, fmt.Errorf("unknown method %d", c.Method)
}

// valuesEqual compares canonical values; numbers compare across int64/float64.
func valuesEqual(a, b any) bool {
	if na, nb, ok := asNumbers(a, b); ok {
		return na == nb
	}
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	return a == b
}

// compareOrdered performs a three-way comparison of numbers or times.
func compareOrdered(a, b any) (int, bool) {
	if na, nb, ok := asNumbers(a, b); ok {
		switch {
		case na < nb:
			return -1, true
		case na > nb:
			return 1, true
		}
		return 0, true
	}
	ta, ok1 := a.(time.Time)
	tb, ok2 := b.(time.Time)
	if !ok1 || !ok2 {
		return 0, false
	}
	return ta.Compare(tb), true
}

func asNumbers(a, b any) (float64, float64, bool) {
	na, oka := toFloat64(a)
	nb, okb := toFloat64(b)
	return na, nb, oka && okb
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}

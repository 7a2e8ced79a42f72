package expr

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/solatis/rulefilter/internal/types"
)

/*
 * Runtime coercion of entity member values.
 *
 * Entities arrive as decoded JSON (map[string]any, float64 numbers, RFC3339
 * strings) or as Go structs. Member nodes carry the descriptor's declared
 * type, and every value read from an entity is coerced to it before it meets
 * an operator, so comparisons only ever see canonical representations:
 *
 *   string   -> string
 *   int      -> int64     (integral numbers, numeric strings)
 *   decimal  -> float64   (numbers, numeric strings)
 *   bool     -> bool      (strict: no "true"/1 coercion)
 *   datetime -> time.Time (time.Time, RFC3339 or YYYY-MM-DD strings)
 *   list     -> []any     (elements coerced to the element type)
 *
 * nil stays nil; null handling is an operator concern.
 */

// Coerce converts a runtime value to the canonical representation of t.
// Returns ErrCoercionFailed (wrapped) for impossible conversions.
func Coerce(value any, t Type) (any, error) {
	if value == nil {
		return nil, nil
	}
	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, nil
		}
		rv = rv.Elem()
	}
	value = rv.Interface()

	switch t.Kind {
	case KindString:
		return coerceString(value)
	case KindInt:
		return coerceInt(value)
	case KindDecimal:
		return coerceDecimal(value)
	case KindBool:
		if b, ok := value.(bool); ok {
			return b, nil
		}
	case KindTime:
		return coerceTime(value)
	case KindList:
		return coerceList(rv, t)
	case KindEntity:
		return value, nil
	}
	return nil, fmt.Errorf("%w: %T to %s", types.ErrCoercionFailed, value, t)
}

func coerceString(value any) (any, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	case fmt.Stringer:
		return v.String(), nil
	}
	return nil, fmt.Errorf("%w: %T to string", types.ErrCoercionFailed, value)
}

func coerceInt(value any) (any, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case float64:
		if v == float64(int64(v)) {
			return int64(v), nil
		}
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, nil
		}
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return n, nil
		}
	}
	return nil, fmt.Errorf("%w: %T to int", types.ErrCoercionFailed, value)
}

func coerceDecimal(value any) (any, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f, nil
		}
	case string:
		// Whitespace-only strings are not valid numbers
		s := strings.TrimSpace(v)
		if s != "" {
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return f, nil
			}
		}
	default:
		if n, err := coerceInt(value); err == nil {
			return float64(n.(int64)), nil
		}
	}
	return nil, fmt.Errorf("%w: %T to decimal", types.ErrCoercionFailed, value)
}

func coerceTime(value any) (any, error) {
	switch v := value.(type) {
	case time.Time:
		return v.UTC(), nil
	case string:
		if t, err := ParseTime(v); err == nil {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: %T to datetime", types.ErrCoercionFailed, value)
}

// ParseTime accepts RFC3339 timestamps and plain dates, normalized to UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(time.DateOnly, s)
}

func coerceList(rv reflect.Value, t Type) (any, error) {
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("%w: %s to %s", types.ErrCoercionFailed, rv.Type(), t)
	}
	out := make([]any, rv.Len())
	for i := range out {
		elem, err := Coerce(rv.Index(i).Interface(), *t.Elem)
		if err != nil {
			return nil, err
		}
		out[i] = elem
	}
	return out, nil
}

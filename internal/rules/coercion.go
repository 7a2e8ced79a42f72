package rules

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/solatis/rulefilter/internal/expr"
	"github.com/solatis/rulefilter/internal/types"
)

/*
 * Comparand parsing.
 *
 * Rule.Value is persisted as a string. Before operator dispatch it is parsed
 * into the descriptor's declared type so the generated tree only contains
 * typed constants:
 *
 *   string   -> pass-through (no trimming, whitespace may be significant)
 *   int      -> int64, trimmed
 *   decimal  -> float64, trimmed; invariant culture ("12.5", never "12,5")
 *   bool     -> strconv.ParseBool, trimmed
 *   datetime -> RFC3339 or YYYY-MM-DD, normalized to UTC
 *
 * Set operators split the raw value on commas; every element is trimmed and
 * parsed with the element type. Empty elements are rejected rather than
 * silently dropped.
 */

// ParseComparand converts raw into a constant of type t.
func ParseComparand(t expr.Type, raw string) (*expr.Constant, error) {
	v, err := parseScalar(t, raw)
	if err != nil {
		return nil, err
	}
	return expr.NewConstant(v, t), nil
}

// ParseComparandList converts a comma-delimited raw value into a list
// constant whose elements have type elem.
func ParseComparandList(elem expr.Type, raw string) (*expr.Constant, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("%w: empty list", types.ErrInvalidComparand)
	}
	parts := strings.Split(raw, ",")
	if len(parts) > types.MaxInOperatorValues {
		return nil, types.ErrTooManyInValues
	}
	values := make([]any, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fmt.Errorf("%w: empty list element in %q", types.ErrInvalidComparand, raw)
		}
		v, err := parseScalar(elem, part)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return expr.NewConstant(values, expr.ListOf(elem)), nil
}

func parseScalar(t expr.Type, raw string) (any, error) {
	switch t.Kind {
	case expr.KindString:
		return raw, nil
	case expr.KindInt:
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an integer", types.ErrInvalidComparand, raw)
		}
		return n, nil
	case expr.KindDecimal:
		s := strings.TrimSpace(raw)
		if s == "" {
			return nil, fmt.Errorf("%w: empty decimal", types.ErrInvalidComparand)
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%w: %q is not a decimal", types.ErrInvalidComparand, raw)
		}
		return f, nil
	case expr.KindBool:
		b, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a boolean", types.ErrInvalidComparand, raw)
		}
		return b, nil
	case expr.KindTime:
		ts, err := expr.ParseTime(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a date", types.ErrInvalidComparand, raw)
		}
		return ts, nil
	}
	return nil, fmt.Errorf("%w: cannot parse into %s", types.ErrInvalidComparand, t)
}

package provider

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/solatis/rulefilter/internal/expr"
	"github.com/solatis/rulefilter/internal/types"
)

// substituteCaseInsensitive replaces every case-insensitive string call with
// an ordinal call on ToLower(receiver) and a lower-cased constant comparand.
//
// Targets that cannot lower-case fail. ASCII-only targets also fail on
// non-ASCII comparands. Their translation of ToLower first applies
// asciiFolds to the receiver, which leaves ASCII text matching
// strings.ToLower byte for byte; non-ASCII bytes never match an ASCII
// comparand either way.
func substituteCaseInsensitive(l *expr.Lambda, caps capabilities) (*expr.Lambda, error) {
	out, err := expr.Rewrite(l, func(n expr.Node) (expr.Node, error) {
		call, ok := n.(*expr.Call)
		if !ok || call.Comparison != expr.IgnoreCase {
			return n, nil
		}
		if !caps.lowerCase {
			return nil, fmt.Errorf("%w: case-insensitive %s", types.ErrUntranslatableExpression, call.Method)
		}
		arg, ok := call.Args[0].(*expr.Constant)
		if !ok {
			return nil, fmt.Errorf("%w: %s comparand is not a constant", types.ErrUntranslatableExpression, call.Method)
		}
		s, ok := arg.Value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s comparand is null", types.ErrUntranslatableExpression, call.Method)
		}
		if caps.asciiOnly && !isASCII(s) {
			return nil, fmt.Errorf("%w: %s with non-ASCII comparand %q", types.ErrUntranslatableExpression, call.Method, s)
		}
		return expr.NewStringCall(call.Method, expr.NewToLower(call.Receiver),
			expr.NewConstant(strings.ToLower(s), expr.String), expr.Ordinal)
	})
	if err != nil {
		return nil, err
	}
	return out.(*expr.Lambda), nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

type runeFold struct{ from, to rune }

// asciiFolds lists the non-ASCII runes that unicode.ToLower maps into ASCII,
// ordered by source rune.
var asciiFolds = func() []runeFold {
	var out []runeFold
	for _, cr := range unicode.CaseRanges {
		for r := rune(cr.Lo); r <= rune(cr.Hi); r++ {
			if r < utf8.RuneSelf {
				continue
			}
			if l := unicode.ToLower(r); l < utf8.RuneSelf {
				out = append(out, runeFold{from: r, to: l})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].from < out[j].from })
	return out
}()

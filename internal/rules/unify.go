package rules

import "github.com/solatis/rulefilter/internal/expr"

// UnifyParameters rewrites every parameter of n whose type equals root's type
// to root itself. Parameters of other types (collection element lambdas) are
// left untouched.
func UnifyParameters(n expr.Node, root *expr.Param) (expr.Node, error) {
	return expr.Rewrite(n, func(n expr.Node) (expr.Node, error) {
		if p, ok := n.(*expr.Param); ok && p != root && p.Type().Equal(root.Type()) {
			return root, nil
		}
		return n, nil
	})
}

// RootParams returns the distinct parameters of n typed like root.
func RootParams(n expr.Node, root expr.Type) []*expr.Param {
	var out []*expr.Param
	for _, p := range expr.Params(n) {
		if p.Type().Equal(root) {
			out = append(out, p)
		}
	}
	return out
}

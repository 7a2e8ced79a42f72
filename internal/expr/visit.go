package expr

import "fmt"

// Walk visits n depth-first in pre-order. Returning false from fn skips the
// node's children.
func Walk(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	switch v := n.(type) {
	case *Member:
		Walk(v.Target, fn)
	case *Binary:
		Walk(v.Left, fn)
		Walk(v.Right, fn)
	case *Call:
		Walk(v.Receiver, fn)
		for _, a := range v.Args {
			Walk(a, fn)
		}
	case *Lambda:
		Walk(v.Param, fn)
		Walk(v.Body, fn)
	}
}

// RewriteFunc maps a node whose children have already been rewritten to its
// replacement. Returning the node unchanged keeps it.
type RewriteFunc func(Node) (Node, error)

// Rewrite rebuilds n bottom-up, applying fn to every node after its children.
// Unchanged subtrees are shared with the input.
func Rewrite(n Node, fn RewriteFunc) (Node, error) {
	switch v := n.(type) {
	case *Param, *Constant:
		return fn(n)
	case *Member:
		target, err := Rewrite(v.Target, fn)
		if err != nil {
			return nil, err
		}
		if target != v.Target {
			v = &Member{Target: target, Name: v.Name, typ: v.typ}
		}
		return fn(v)
	case *Binary:
		left, err := Rewrite(v.Left, fn)
		if err != nil {
			return nil, err
		}
		right, err := Rewrite(v.Right, fn)
		if err != nil {
			return nil, err
		}
		if left != v.Left || right != v.Right {
			v = &Binary{Op: v.Op, Left: left, Right: right, LiftToNull: v.LiftToNull}
		}
		return fn(v)
	case *Call:
		recv, err := Rewrite(v.Receiver, fn)
		if err != nil {
			return nil, err
		}
		changed := recv != v.Receiver
		args := make([]Node, len(v.Args))
		for i, a := range v.Args {
			if args[i], err = Rewrite(a, fn); err != nil {
				return nil, err
			}
			changed = changed || args[i] != a
		}
		if changed {
			v = &Call{Method: v.Method, Receiver: recv, Args: args, Comparison: v.Comparison}
		}
		return fn(v)
	case *Lambda:
		p, err := Rewrite(v.Param, fn)
		if err != nil {
			return nil, err
		}
		param, ok := p.(*Param)
		if !ok {
			return nil, fmt.Errorf("lambda parameter rewritten to %T", p)
		}
		body, err := Rewrite(v.Body, fn)
		if err != nil {
			return nil, err
		}
		if param != v.Param || body != v.Body {
			v = &Lambda{Param: param, Body: body}
		}
		return fn(v)
	case nil:
		return nil, fmt.Errorf("nil node")
	default:
		return nil, fmt.Errorf("unknown node %T", n)
	}
}

// Params returns the distinct parameters referenced in n, in first-seen order.
func Params(n Node) []*Param {
	seen := make(map[*Param]bool)
	var out []*Param
	Walk(n, func(c Node) bool {
		if p, ok := c.(*Param); ok && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
		return true
	})
	return out
}

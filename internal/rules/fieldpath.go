// internal/rules/fieldpath.go
package rules

import (
	"fmt"
	"strings"

	"github.com/solatis/rulefilter/internal/expr"
	"github.com/solatis/rulefilter/internal/types"
)

/*
 * Member path binding.
 *
 * Descriptor member paths are dotted names resolved against the entity under
 * test ("CartTotal", "Customer.BillingAddress.Country"). A segment suffixed
 * with [] is a collection of nested entities evaluated with ANY semantics:
 * "Items[].Sku" matches when at least one item's Sku satisfies the operator.
 *
 * Each collection segment opens a lambda over the element type with its own
 * parameter. Those parameters are never rewritten by parameter unification
 * because their type differs from the root entity type.
 *
 * Limits mirror the compiled-tree budget: MaxPathDepth segments and at most
 * MaxNestedCollections collection segments, validated when the registry is built.
 */

// PathSegment is one component of a member path.
type PathSegment struct {
	Name       string
	Collection bool // true = any element of the collection
}

// ParseMemberPath splits and validates a dotted member path.
func ParseMemberPath(path string) ([]PathSegment, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: empty", types.ErrInvalidMemberPath)
	}
	parts := strings.Split(path, ".")
	if len(parts) > types.MaxPathDepth {
		return nil, types.ErrPathTooDeep
	}
	segs := make([]PathSegment, 0, len(parts))
	collections := 0
	for _, part := range parts {
		name, isColl := strings.CutSuffix(strings.TrimSpace(part), "[]")
		if !isIdentifier(name) {
			return nil, fmt.Errorf("%w: %q", types.ErrInvalidMemberPath, path)
		}
		if isColl {
			collections++
		}
		segs = append(segs, PathSegment{Name: name, Collection: isColl})
	}
	if collections > types.MaxNestedCollections {
		return nil, types.ErrTooManyCollections
	}
	if segs[len(segs)-1].Collection {
		// The leaf is compared by an operator, it cannot itself be iterated
		return nil, fmt.Errorf("%w: %q ends in a collection", types.ErrInvalidMemberPath, path)
	}
	return segs, nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		letter := c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
		digit := c >= '0' && c <= '9'
		if !letter && !(digit && i > 0) {
			return false
		}
	}
	return true
}

// LeafBuilder produces the boolean node for the resolved leaf member.
type LeafBuilder func(member expr.Node) (expr.Node, error)

// bindMember builds the member access chain for segs starting at param and
// hands the leaf member to build. Collection segments wrap the remainder in
// an Any call over a fresh element parameter.
func bindMember(param *expr.Param, typeName string, segs []PathSegment, leafType expr.Type, build LeafBuilder) (expr.Node, error) {
	var cur expr.Node = param
	for i, seg := range segs {
		typeName += "." + seg.Name
		if i == len(segs)-1 {
			return build(expr.NewMember(cur, seg.Name, leafType))
		}
		if !seg.Collection {
			cur = expr.NewMember(cur, seg.Name, expr.Entity(typeName))
			continue
		}

		elemName := typeName + "[]"
		list := expr.NewMember(cur, seg.Name, expr.ListOf(expr.Entity(elemName)))
		item := expr.NewParam(strings.ToLower(seg.Name[:1]), expr.Entity(elemName))
		body, err := bindMember(item, elemName, segs[i+1:], leafType, build)
		if err != nil {
			return nil, err
		}
		pred, err := expr.NewLambda(item, body)
		if err != nil {
			return nil, err
		}
		call, err := expr.NewAny(list, pred)
		if err != nil {
			return nil, err
		}
		return expr.NewBinary(expr.OpEqual, call, expr.True, false)
	}
	return nil, fmt.Errorf("%w: empty", types.ErrInvalidMemberPath)
}

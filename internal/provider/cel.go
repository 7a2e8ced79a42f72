package provider

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/ext"

	"github.com/solatis/rulefilter/internal/expr"
	"github.com/solatis/rulefilter/internal/types"
)

/*
 * CEL translation.
 *
 * The entity is bound to the dynamic variable "e". Entities are normalized
 * to JSON documents before evaluation, so members are maps, lists, numbers
 * (double), strings and bools. Datetime members are rewritten to RFC3339 in
 * the normalized document (plain dates included, as expr.ParseTime reads
 * them) and wrapped in timestamp().
 *
 * Member reads are guarded so a missing or null link yields null instead of
 * an evaluation error:
 *
 *   e.A.B -> ((has(e.A) && e.A != null && has(e.A.B) && e.A.B != null) ? e.A.B : null)
 *
 * String receivers use "" as the fallback. Relational comparisons are guarded
 * with "!= null" because CEL has no ordering over null.
 */

var celEnv = func() *cel.Env {
	env, err := cel.NewEnv(
		cel.Variable("e", cel.DynType),
		ext.Strings(),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		panic(fmt.Sprintf("provider: cel environment: %v", err))
	}
	return env
}()

// CELProgram is a compiled CEL predicate.
type CELProgram struct {
	Source  string
	program cel.Program
	times   [][]string // datetime member paths, elemStep marks list elements
}

// TranslateCEL renders l as CEL source and compiles it.
func TranslateCEL(l *expr.Lambda) (*CELProgram, error) {
	t := &celTranslator{
		names:    map[*expr.Param]string{l.Param: "e"},
		prefixes: map[*expr.Param][]string{},
	}
	src, err := t.predicate(l.Body)
	if err != nil {
		return nil, err
	}
	ast, iss := celEnv.Compile(src)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("%w: cel compile %q: %v", types.ErrUntranslatableExpression, src, iss.Err())
	}
	prg, err := celEnv.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("cel program: %w", err)
	}
	return &CELProgram{Source: src, program: prg, times: t.times}, nil
}

// Match evaluates the program against entity.
func (p *CELProgram) Match(entity any) (bool, error) {
	data, err := normalize(entity)
	if err != nil {
		return false, err
	}
	for _, path := range p.times {
		data = canonicalTimes(data, path)
	}
	out, _, err := p.program.Eval(map[string]any{"e": data})
	if err != nil {
		return false, fmt.Errorf("cel eval: %w", err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("cel eval: non-boolean result %v", out.Value())
	}
	return b, nil
}

type celTranslator struct {
	names    map[*expr.Param]string
	prefixes map[*expr.Param][]string
	times    [][]string
	depth    int
}

func (t *celTranslator) predicate(n expr.Node) (string, error) {
	switch v := n.(type) {
	case *expr.Constant:
		if b, ok := v.Value.(bool); ok {
			return strconv.FormatBool(b), nil
		}
	case *expr.Binary:
		return t.binary(v)
	case *expr.Call:
		return t.call(v)
	}
	return "", untranslatable(n)
}

func (t *celTranslator) binary(b *expr.Binary) (string, error) {
	if b.Op.IsLogical() {
		l, err := t.predicate(b.Left)
		if err != nil {
			return "", err
		}
		r, err := t.predicate(b.Right)
		if err != nil {
			return "", err
		}
		return "(" + l + " " + b.Op.String() + " " + r + ")", nil
	}

	if c, ok := b.Right.(*expr.Constant); ok {
		if want, isBool := c.Value.(bool); isBool {
			if _, isMember := b.Left.(*expr.Member); !isMember {
				inner, err := t.predicate(b.Left)
				if err != nil {
					return "", err
				}
				if want == (b.Op == expr.OpEqual) {
					return inner, nil
				}
				return "!" + inner, nil
			}
		}
	}

	m, ok := b.Left.(*expr.Member)
	if !ok {
		return "", untranslatable(b)
	}
	c, ok := b.Right.(*expr.Constant)
	if !ok {
		return "", untranslatable(b)
	}
	val, err := t.member(m, "null")
	if err != nil {
		return "", err
	}
	if c.Value == nil {
		switch b.Op {
		case expr.OpEqual:
			return "(" + val + " == null)", nil
		case expr.OpNotEqual:
			return "(" + val + " != null)", nil
		}
		return "false", nil
	}

	lit, err := celLiteral(c.Value)
	if err != nil {
		return "", err
	}
	operand := val
	if m.Type().Kind == expr.KindTime {
		t.recordTime(m)
		operand = "timestamp(" + val + ")"
	}
	cmp := operand + " " + b.Op.String() + " " + lit
	switch b.Op {
	case expr.OpEqual:
		if m.Type().Kind == expr.KindTime {
			return "(" + val + " != null && " + cmp + ")", nil
		}
		return "(" + cmp + ")", nil
	case expr.OpNotEqual:
		if m.Type().Kind == expr.KindTime {
			return "(" + val + " == null || " + cmp + ")", nil
		}
		return "(" + cmp + ")", nil
	default:
		return "(" + val + " != null && " + cmp + ")", nil
	}
}

func (t *celTranslator) call(c *expr.Call) (string, error) {
	switch c.Method {
	case expr.MethodStartsWith, expr.MethodEndsWith, expr.MethodContains:
		if c.Comparison != expr.Ordinal {
			return "", fmt.Errorf("%w: case-insensitive %s", types.ErrUntranslatableExpression, c.Method)
		}
		recv, err := t.stringValue(c.Receiver)
		if err != nil {
			return "", err
		}
		arg, ok := c.Args[0].(*expr.Constant)
		if !ok {
			return "", untranslatable(c)
		}
		s, ok := arg.Value.(string)
		if !ok {
			return "", untranslatable(c)
		}
		fn := map[expr.Method]string{
			expr.MethodStartsWith: "startsWith",
			expr.MethodEndsWith:   "endsWith",
			expr.MethodContains:   "contains",
		}[c.Method]
		return fmt.Sprintf("%s.%s(%s)", recv, fn, strconv.Quote(s)), nil

	case expr.MethodListContains:
		list, ok := c.Receiver.(*expr.Constant)
		if !ok {
			return "", untranslatable(c)
		}
		m, ok := c.Args[0].(*expr.Member)
		if !ok {
			return "", untranslatable(c)
		}
		val, err := t.member(m, "null")
		if err != nil {
			return "", err
		}
		lit, err := celLiteral(list.Value)
		if err != nil {
			return "", err
		}
		return "(" + val + " in " + lit + ")", nil

	case expr.MethodAny:
		m, ok := c.Receiver.(*expr.Member)
		if !ok {
			return "", untranslatable(c)
		}
		list, err := t.member(m, "[]")
		if err != nil {
			return "", err
		}
		pred := c.Args[0].(*expr.Lambda)
		t.prefixes[pred.Param] = append(t.memberPath(m), elemStep)
		t.depth++
		name := fmt.Sprintf("x%d", t.depth)
		t.names[pred.Param] = name
		body, err := t.predicate(pred.Body)
		t.depth--
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s.exists(%s, %s)", list, name, body), nil
	}
	return "", untranslatable(c)
}

func (t *celTranslator) stringValue(n expr.Node) (string, error) {
	switch v := n.(type) {
	case *expr.Member:
		return t.member(v, `""`)
	case *expr.Call:
		if v.Method == expr.MethodToLower {
			inner, err := t.stringValue(v.Receiver)
			if err != nil {
				return "", err
			}
			for _, f := range asciiFolds {
				inner += fmt.Sprintf(".replace(%s, %s)", strconv.QuoteToASCII(string(f.from)), strconv.Quote(string(f.to)))
			}
			return inner + ".lowerAscii()", nil
		}
	}
	return "", untranslatable(n)
}

// member renders a guarded read of m, yielding fallback when any link of the
// chain is missing or null.
func (t *celTranslator) member(m *expr.Member, fallback string) (string, error) {
	names, param := m.Path()
	root, ok := t.names[param]
	if param == nil || !ok {
		return "", untranslatable(m)
	}
	guards := make([]string, 0, 2*len(names))
	path := root
	for _, name := range names {
		path += "." + name
		guards = append(guards, "has("+path+")", path+" != null")
	}
	return fmt.Sprintf("((%s) ? %s : %s)", strings.Join(guards, " && "), path, fallback), nil
}

const elemStep = "[]"

// memberPath locates m in the normalized entity document.
func (t *celTranslator) memberPath(m *expr.Member) []string {
	names, param := m.Path()
	prefix := t.prefixes[param]
	path := make([]string, 0, len(prefix)+len(names))
	return append(append(path, prefix...), names...)
}

func (t *celTranslator) recordTime(m *expr.Member) {
	t.times = append(t.times, t.memberPath(m))
}

// canonicalTimes rewrites the strings at path to RFC3339 so CEL's timestamp()
// reads every form the in-memory coercion accepts. Unparseable values are
// left for timestamp() to reject.
func canonicalTimes(v any, path []string) any {
	if len(path) == 0 {
		if s, ok := v.(string); ok {
			if ts, err := expr.ParseTime(s); err == nil {
				return ts.UTC().Format(time.RFC3339Nano)
			}
		}
		return v
	}
	switch x := v.(type) {
	case []any:
		if path[0] == elemStep {
			for i := range x {
				x[i] = canonicalTimes(x[i], path[1:])
			}
		}
	case map[string]any:
		if child, ok := x[path[0]]; ok {
			x[path[0]] = canonicalTimes(child, path[1:])
		}
	}
	return v
}

func celLiteral(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "null", nil
	case bool:
		return strconv.FormatBool(x), nil
	case string:
		return strconv.Quote(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		s := strconv.FormatFloat(x, 'f', -1, 64)
		if !strings.Contains(s, ".") {
			s += ".0"
		}
		return s, nil
	case time.Time:
		return fmt.Sprintf("timestamp(%q)", x.UTC().Format(time.RFC3339Nano)), nil
	case []any:
		items := make([]string, len(x))
		for i, item := range x {
			lit, err := celLiteral(item)
			if err != nil {
				return "", err
			}
			items[i] = lit
		}
		return "[" + strings.Join(items, ", ") + "]", nil
	}
	return "", fmt.Errorf("%w: literal %T", types.ErrUntranslatableExpression, v)
}

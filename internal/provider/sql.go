package provider

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jmoiron/sqlx"

	"github.com/solatis/rulefilter/internal/expr"
	"github.com/solatis/rulefilter/internal/types"
)

/*
 * SQL translation.
 *
 * Produces a WHERE clause with '?' placeholders; SQLQuery.Select rebinds them
 * for the connection's driver. Null handling is made explicit so a row
 * matches remotely exactly when the entity matches in memory:
 *
 *   m == null        -> m IS NULL
 *   m != c           -> (m IS NULL OR m <> ?)     null differs from every value
 *   m <op> c         -> m <op> ?                  NULL filters the row out
 *   s.StartsWith(c)  -> COALESCE(s, '') ...       null receiver reads as ""
 *   list.Contains(m) -> (m IS NOT NULL AND m IN (...))
 *   call == false    -> NOT (call)                call is never NULL
 *
 * sqlite has no datetime type. Datetime members are compared through
 * julianday() on both sides, which accepts any ISO-8601 text the column
 * holds (fractional seconds, offsets, plain dates) and resolves to the
 * millisecond; comparands finer than that are rejected. Postgres compares
 * timestamps natively at microsecond resolution.
 *
 * ToLower only folds ASCII on either dialect. Receivers first have every
 * non-ASCII rune whose lower case is ASCII (the Kelvin sign, dotted capital
 * I) replaced by that lower case, so an ASCII comparand sees the same text
 * as strings.ToLower would produce.
 *
 * Nothing in a translated tree negates a nullable expression, so three-valued
 * logic in AND/OR only ever collapses NULL to "no match".
 *
 * Members must map to a column; collection members (Any) are not translated.
 */

// SQLQuery is a translated WHERE clause.
type SQLQuery struct {
	Dialect string
	Where   string
	Args    []any
}

func (q *SQLQuery) String() string {
	return q.Where
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Select runs SELECT * FROM table WHERE <clause> into dest.
func (q *SQLQuery) Select(ctx context.Context, db *sqlx.DB, table string, dest any) error {
	if !identifierPattern.MatchString(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	query := db.Rebind(fmt.Sprintf("SELECT * FROM %s WHERE %s", table, q.Where))
	return db.SelectContext(ctx, dest, query, q.Args...)
}

// Count runs SELECT COUNT(*) FROM table WHERE <clause>.
func (q *SQLQuery) Count(ctx context.Context, db *sqlx.DB, table string) (int, error) {
	if !identifierPattern.MatchString(table) {
		return 0, fmt.Errorf("invalid table name %q", table)
	}
	var n int
	query := db.Rebind(fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", table, q.Where))
	err := db.GetContext(ctx, &n, query, q.Args...)
	return n, err
}

// TranslateSQL renders l as a WHERE clause for dialect.
func TranslateSQL(l *expr.Lambda, dialect string, columns map[string]string) (*SQLQuery, error) {
	if dialect != DialectSQLite && dialect != DialectPostgres {
		return nil, fmt.Errorf("%w: unknown SQL dialect %q", types.ErrUntranslatableExpression, dialect)
	}
	t := &sqlTranslator{dialect: dialect, root: l.Param, columns: columns}
	where, err := t.predicate(l.Body)
	if err != nil {
		return nil, err
	}
	return &SQLQuery{Dialect: dialect, Where: where, Args: t.args}, nil
}

const (
	sqlTrue  = "(1 = 1)"
	sqlFalse = "(1 = 0)"
)

type sqlTranslator struct {
	dialect string
	root    *expr.Param
	columns map[string]string
	args    []any
}

func (t *sqlTranslator) bind(v any) string {
	if ts, ok := v.(time.Time); ok && t.dialect == DialectSQLite {
		v = ts.UTC().Format(sqliteTimeLayout)
	}
	t.args = append(t.args, v)
	return "?"
}

const sqliteTimeLayout = "2006-01-02 15:04:05.000"

// timeResolution is the finest datetime step the dialect compares exactly.
func (t *sqlTranslator) timeResolution() time.Duration {
	if t.dialect == DialectSQLite {
		return time.Millisecond
	}
	return time.Microsecond
}

// comparison renders col <op> value. Datetime values are checked against
// the dialect's resolution and, on sqlite, normalized through julianday().
func (t *sqlTranslator) comparison(m *expr.Member, col, op string, value any) (string, error) {
	ts, ok := value.(time.Time)
	if !ok {
		return fmt.Sprintf("%s %s %s", col, op, t.bind(value)), nil
	}
	if res := t.timeResolution(); !ts.Truncate(res).Equal(ts) {
		return "", fmt.Errorf("%w: %s comparand %s is finer than %s", types.ErrUntranslatableExpression,
			expr.Format(m), ts.Format(time.RFC3339Nano), res)
	}
	if t.dialect == DialectSQLite {
		return fmt.Sprintf("julianday(%s) %s julianday(%s)", col, op, t.bind(ts)), nil
	}
	return fmt.Sprintf("%s %s %s", col, op, t.bind(ts)), nil
}

// predicate renders a boolean node.
func (t *sqlTranslator) predicate(n expr.Node) (string, error) {
	switch v := n.(type) {
	case *expr.Constant:
		if b, ok := v.Value.(bool); ok {
			if b {
				return sqlTrue, nil
			}
			return sqlFalse, nil
		}
	case *expr.Binary:
		return t.binary(v)
	case *expr.Call:
		return t.call(v)
	case *expr.Member:
		col, err := t.column(v)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s = %s", col, t.bind(true)), nil
	}
	return "", untranslatable(n)
}

func (t *sqlTranslator) binary(b *expr.Binary) (string, error) {
	if b.Op.IsLogical() {
		l, err := t.predicate(b.Left)
		if err != nil {
			return "", err
		}
		r, err := t.predicate(b.Right)
		if err != nil {
			return "", err
		}
		join := " AND "
		if b.Op == expr.OpOrElse {
			join = " OR "
		}
		return "(" + l + join + r + ")", nil
	}

	// call == true / call == false
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
				return "NOT " + inner, nil
			}
		}
	}

	m, ok := b.Left.(*expr.Member)
	if !ok {
		return "", untranslatable(b)
	}
	col, err := t.column(m)
	if err != nil {
		return "", err
	}
	c, ok := b.Right.(*expr.Constant)
	if !ok {
		return "", untranslatable(b)
	}

	if c.Value == nil {
		switch b.Op {
		case expr.OpEqual:
			return col + " IS NULL", nil
		case expr.OpNotEqual:
			return col + " IS NOT NULL", nil
		}
		// relational against null never matches
		return sqlFalse, nil
	}

	switch b.Op {
	case expr.OpEqual:
		return t.comparison(m, col, "=", c.Value)
	case expr.OpNotEqual:
		cmp, err := t.comparison(m, col, "<>", c.Value)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s IS NULL OR %s)", col, cmp), nil
	default:
		return t.comparison(m, col, b.Op.String(), c.Value)
	}
}

func (t *sqlTranslator) call(c *expr.Call) (string, error) {
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
		if s == "" {
			return sqlTrue, nil
		}
		return t.stringCall(c.Method, recv, s), nil

	case expr.MethodListContains:
		list, ok := c.Receiver.(*expr.Constant)
		if !ok {
			return "", untranslatable(c)
		}
		m, ok := c.Args[0].(*expr.Member)
		if !ok {
			return "", untranslatable(c)
		}
		col, err := t.column(m)
		if err != nil {
			return "", err
		}
		items, _ := list.Value.([]any)
		if len(items) == 0 {
			return sqlFalse, nil
		}
		holders := make([]string, len(items))
		for i, item := range items {
			holders[i] = t.bind(item)
		}
		return fmt.Sprintf("(%s IS NOT NULL AND %s IN (%s))", col, col, strings.Join(holders, ", ")), nil
	}
	return "", untranslatable(c)
}

func (t *sqlTranslator) stringCall(m expr.Method, recv, s string) string {
	switch m {
	case expr.MethodStartsWith:
		if t.dialect == DialectPostgres {
			return fmt.Sprintf("(strpos(%s, %s) = 1)", recv, t.bind(s))
		}
		return fmt.Sprintf("(instr(%s, %s) = 1)", recv, t.bind(s))
	case expr.MethodEndsWith:
		n := utf8.RuneCountInString(s)
		if t.dialect == DialectPostgres {
			return fmt.Sprintf("(right(%s, %s) = %s)", recv, t.bind(n), t.bind(s))
		}
		return fmt.Sprintf("(substr(%s, -%s) = %s)", recv, t.bind(n), t.bind(s))
	default:
		if t.dialect == DialectPostgres {
			return fmt.Sprintf("(strpos(%s, %s) > 0)", recv, t.bind(s))
		}
		return fmt.Sprintf("(instr(%s, %s) > 0)", recv, t.bind(s))
	}
}

// stringValue renders a string receiver with null read as "".
func (t *sqlTranslator) stringValue(n expr.Node) (string, error) {
	switch v := n.(type) {
	case *expr.Member:
		col, err := t.column(v)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("COALESCE(%s, '')", col), nil
	case *expr.Call:
		if v.Method == expr.MethodToLower {
			inner, err := t.stringValue(v.Receiver)
			if err != nil {
				return "", err
			}
			for _, f := range asciiFolds {
				inner = fmt.Sprintf("REPLACE(%s, %s, %s)", inner, t.bind(string(f.from)), t.bind(string(f.to)))
			}
			return "LOWER(" + inner + ")", nil
		}
	}
	return "", untranslatable(n)
}

// column resolves a member chain rooted at the lambda parameter.
func (t *sqlTranslator) column(m *expr.Member) (string, error) {
	names, param := m.Path()
	if param != t.root {
		return "", fmt.Errorf("%w: member %s is not on the root entity", types.ErrUntranslatableExpression, strings.Join(names, "."))
	}
	path := strings.Join(names, ".")
	col, ok := t.columns[path]
	if !ok {
		return "", fmt.Errorf("%w: no column for member %s", types.ErrUntranslatableExpression, path)
	}
	return col, nil
}

func untranslatable(n expr.Node) error {
	return fmt.Errorf("%w: %s", types.ErrUntranslatableExpression, expr.Format(n))
}

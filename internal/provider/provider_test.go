package provider

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/solatis/rulefilter/internal/expr"
	"github.com/solatis/rulefilter/internal/types"
)

func cartParam() *expr.Param { return expr.NewParam("e", expr.Entity("Cart")) }

func mustLambda(t *testing.T, p *expr.Param, body expr.Node, err error) *expr.Lambda {
	t.Helper()
	if err != nil {
		t.Fatalf("build body: %v", err)
	}
	l, err := expr.NewLambda(p, body)
	if err != nil {
		t.Fatalf("NewLambda() error = %v", err)
	}
	return l
}

// startsWith builds e.Country.StartsWith(s, IgnoreCase) == True.
func startsWith(t *testing.T, s string) *expr.Lambda {
	p := cartParam()
	call, err := expr.NewStringCall(expr.MethodStartsWith, expr.NewMember(p, "Country", expr.String), expr.NewConstant(s, expr.String), expr.IgnoreCase)
	if err != nil {
		t.Fatalf("NewStringCall() error = %v", err)
	}
	body, err := expr.NewBinary(expr.OpEqual, call, expr.True, false)
	return mustLambda(t, p, body, err)
}

// dateAt builds e.CreatedOnUtc > ts.
func dateAt(t *testing.T, ts time.Time) *expr.Lambda {
	p := cartParam()
	body, err := expr.NewBinary(expr.OpGreaterThan, expr.NewMember(p, "CreatedOnUtc", expr.Time), expr.NewConstant(ts, expr.Time), false)
	return mustLambda(t, p, body, err)
}

var cartColumns = map[string]string{"Country": "country", "CartTotal": "cart_total", "CreatedOnUtc": "created_on_utc"}

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{"": Memory, "SQL": SQL, " cel ": CEL, "JsonLogic": JSONLogic} {
		got, err := ParseKind(in)
		if err != nil || got != want {
			t.Errorf("ParseKind(%q) = %v, %v, want %v", in, got, err, want)
		}
	}
	if _, err := ParseKind("linq"); err == nil {
		t.Error("ParseKind(linq) error = nil, want error")
	}
}

func TestAdapt_MemoryKeepsTree(t *testing.T) {
	l := startsWith(t, "De")
	p, err := Adapt(l, MemoryTarget)
	if err != nil {
		t.Fatalf("Adapt() error = %v", err)
	}
	if p.Lambda != l {
		t.Error("Adapt(memory) rewrote the predicate")
	}
	ok, err := p.Match(map[string]any{"Country": "deutschland"})
	if err != nil || !ok {
		t.Errorf("Match() = %v, %v, want true", ok, err)
	}
}

func TestPredicate_FilterKeepsOrder(t *testing.T) {
	entities := []any{
		map[string]any{"Country": "Denmark"},
		map[string]any{"Country": "France"},
		map[string]any{"Country": nil},
		map[string]any{"Country": "deutschland"},
	}
	for _, target := range []Target{MemoryTarget, {Kind: CEL}} {
		p, err := Adapt(startsWith(t, "DE"), target)
		if err != nil {
			t.Fatalf("Adapt(%s) error = %v", target, err)
		}
		got, err := p.Filter(entities)
		if err != nil {
			t.Fatalf("Filter(%s) error = %v", target, err)
		}
		if len(got) != 2 || got[0].(map[string]any)["Country"] != "Denmark" || got[1].(map[string]any)["Country"] != "deutschland" {
			t.Errorf("Filter(%s) = %v, want Denmark, deutschland", target, got)
		}
	}
}

func TestAdapt_SubstitutesCaseInsensitiveCalls(t *testing.T) {
	p, err := Adapt(startsWith(t, "De"), Target{Kind: SQL, Dialect: DialectSQLite, Columns: cartColumns})
	if err != nil {
		t.Fatalf("Adapt() error = %v", err)
	}
	want := `e => (e.Country.ToLower().StartsWith("de") == True)`
	if got := expr.Format(p.Lambda); got != want {
		t.Errorf("adapted = %s, want %s", got, want)
	}
	if got := p.String(); got != "(instr(LOWER(REPLACE(REPLACE(COALESCE(country, ''), ?, ?), ?, ?)), ?) = 1)" {
		t.Errorf("SQL = %s", got)
	}
	if n := len(p.SQL.Args); n != 5 || p.SQL.Args[n-1] != "de" {
		t.Errorf("SQL args = %v, want folds then de", p.SQL.Args)
	}

	// adapted tree still evaluates like the original
	for _, country := range []string{"DEU", "deu", "Austria", "\u212Aenya"} {
		got, err := p.Match(map[string]any{"Country": country})
		want := strings.HasPrefix(strings.ToLower(country), "de")
		if err != nil || got != want {
			t.Errorf("Match(%s) = %v, %v, want %v", country, got, err, want)
		}
	}
}

func TestAdapt_Untranslatable(t *testing.T) {
	dateLambda := dateAt(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	q := cartParam()
	total := expr.NewMember(q, "Unmapped", expr.Decimal)
	unmappedBody, unmappedErr := expr.NewBinary(expr.OpLessThan, total, expr.NewConstant(1.0, expr.Decimal), false)
	unmapped := mustLambda(t, q, unmappedBody, unmappedErr)

	r := cartParam()
	item := expr.NewParam("i", expr.Entity("Cart.Items[]"))
	sku, skuErr := expr.NewBinary(expr.OpEqual, expr.NewMember(item, "Sku", expr.String), expr.NewConstant("A", expr.String), false)
	if skuErr != nil {
		t.Fatal(skuErr)
	}
	pred, _ := expr.NewLambda(item, sku)
	anyCall, anyErr := expr.NewAny(expr.NewMember(r, "Items", expr.ListOf(expr.Entity("Cart.Items[]"))), pred)
	if anyErr != nil {
		t.Fatal(anyErr)
	}
	anyBody, anyBinErr := expr.NewBinary(expr.OpEqual, anyCall, expr.True, false)
	anyLambda := mustLambda(t, r, anyBody, anyBinErr)

	sqlite := Target{Kind: SQL, Dialect: DialectSQLite, Columns: cartColumns}
	tests := []struct {
		name   string
		lambda *expr.Lambda
		target Target
	}{
		{"non-ASCII comparand on sqlite", startsWith(t, "Ös"), sqlite},
		{"non-ASCII comparand on CEL", startsWith(t, "Ös"), Target{Kind: CEL}},
		{"non-ASCII comparand on postgres", startsWith(t, "Ös"), Target{Kind: SQL, Dialect: DialectPostgres, Columns: cartColumns}},
		{"sub-millisecond datetime on sqlite", dateAt(t, time.Date(2026, 1, 1, 0, 0, 0, 500, time.UTC)), sqlite},
		{"sub-microsecond datetime on postgres", dateAt(t, time.Date(2026, 1, 1, 0, 0, 0, 1500, time.UTC)), Target{Kind: SQL, Dialect: DialectPostgres, Columns: cartColumns}},
		{"lower-casing on JSONLogic", startsWith(t, "de"), Target{Kind: JSONLogic}},
		{"datetime on JSONLogic", dateLambda, Target{Kind: JSONLogic}},
		{"member without column", unmapped, sqlite},
		{"collection on SQL", anyLambda, sqlite},
		{"unknown dialect", dateLambda, Target{Kind: SQL, Dialect: "oracle", Columns: cartColumns}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Adapt(tt.lambda, tt.target); !errors.Is(err, types.ErrUntranslatableExpression) {
				t.Errorf("Adapt() error = %v, want ErrUntranslatableExpression", err)
			}
		})
	}

	// postgres keeps microseconds
	if _, err := Adapt(dateAt(t, time.Date(2026, 1, 1, 0, 0, 0, 1000, time.UTC)), Target{Kind: SQL, Dialect: DialectPostgres, Columns: cartColumns}); err != nil {
		t.Errorf("Adapt(postgres, microseconds) error = %v, want nil", err)
	}
	// collections translate for CEL and JSONLogic
	for _, k := range []Kind{CEL, JSONLogic} {
		if _, err := Adapt(anyLambda, Target{Kind: k}); err != nil {
			t.Errorf("Adapt(%s, Any) error = %v", k, err)
		}
	}
}

func TestTranslateSQL_Shapes(t *testing.T) {
	p := cartParam()
	country := expr.NewMember(p, "Country", expr.String)
	total := expr.NewMember(p, "CartTotal", expr.Decimal)

	ne, _ := expr.NewBinary(expr.OpNotEqual, country, expr.NewConstant("DE", expr.String), false)
	isNull, _ := expr.NewBinary(expr.OpEqual, total, expr.NewConstant(nil, expr.Decimal), false)
	list := expr.NewConstant([]any{"DE", "AT"}, expr.ListOf(expr.String))
	in, _ := expr.NewListContains(list, country)
	notIn, _ := expr.NewBinary(expr.OpEqual, in, expr.False, false)
	empty := expr.NewConstant([]any{}, expr.ListOf(expr.String))
	inEmpty, _ := expr.NewListContains(empty, country)
	inEmptyTrue, _ := expr.NewBinary(expr.OpEqual, inEmpty, expr.True, false)
	endsWith, _ := expr.NewStringCall(expr.MethodEndsWith, country, expr.NewConstant("ße", expr.String), expr.Ordinal)
	endsWithTrue, _ := expr.NewBinary(expr.OpEqual, endsWith, expr.True, false)
	lowered, _ := expr.NewStringCall(expr.MethodStartsWith, expr.NewToLower(country), expr.NewConstant("k", expr.String), expr.Ordinal)
	loweredTrue, _ := expr.NewBinary(expr.OpEqual, lowered, expr.True, false)
	created := expr.NewMember(p, "CreatedOnUtc", expr.Time)
	at := expr.NewConstant(time.Date(2026, 1, 1, 0, 0, 0, 500_000_000, time.UTC), expr.Time)
	after, _ := expr.NewBinary(expr.OpGreaterThan, created, at, false)
	notAt, _ := expr.NewBinary(expr.OpNotEqual, created, at, false)

	tests := []struct {
		name     string
		body     expr.Node
		dialect  string
		want     string
		wantArgs []any
	}{
		{"not equal keeps nulls", ne, DialectSQLite, "(country IS NULL OR country <> ?)", []any{"DE"}},
		{"null check", isNull, DialectSQLite, "cart_total IS NULL", nil},
		{"not in", notIn, DialectSQLite, "NOT (country IS NOT NULL AND country IN (?, ?))", []any{"DE", "AT"}},
		{"in empty list", inEmptyTrue, DialectSQLite, "(1 = 0)", nil},
		{"ends with counts runes", endsWithTrue, DialectSQLite, "(substr(COALESCE(country, ''), -?) = ?)", []any{2, "ße"}},
		{"ends with postgres", endsWithTrue, DialectPostgres, "(right(COALESCE(country, ''), ?) = ?)", []any{2, "ße"}},
		{"logical", expr.OrElse(ne, isNull), DialectPostgres, "((country IS NULL OR country <> ?) OR cart_total IS NULL)", []any{"DE"}},
		{"constant true", expr.True, DialectSQLite, "(1 = 1)", nil},
		{"lower folds to ASCII first", loweredTrue, DialectSQLite,
			"(instr(LOWER(REPLACE(REPLACE(COALESCE(country, ''), ?, ?), ?, ?)), ?) = 1)", []any{"\u0130", "i", "\u212a", "k", "k"}},
		{"datetime through julianday", after, DialectSQLite, "julianday(created_on_utc) > julianday(?)", []any{"2026-01-01 00:00:00.500"}},
		{"datetime not equal", notAt, DialectSQLite, "(created_on_utc IS NULL OR julianday(created_on_utc) <> julianday(?))", []any{"2026-01-01 00:00:00.500"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := expr.NewLambda(p, tt.body)
			if err != nil {
				t.Fatalf("NewLambda() error = %v", err)
			}
			q, err := TranslateSQL(l, tt.dialect, cartColumns)
			if err != nil {
				t.Fatalf("TranslateSQL() error = %v", err)
			}
			if q.Where != tt.want {
				t.Errorf("Where = %s, want %s", q.Where, tt.want)
			}
			if len(q.Args) != len(tt.wantArgs) {
				t.Fatalf("Args = %v, want %v", q.Args, tt.wantArgs)
			}
			for i := range q.Args {
				if q.Args[i] != tt.wantArgs[i] {
					t.Errorf("Args[%d] = %#v, want %#v", i, q.Args[i], tt.wantArgs[i])
				}
			}
		})
	}
}

func TestTranslateCEL_Source(t *testing.T) {
	p, err := Adapt(startsWith(t, "De"), Target{Kind: CEL})
	if err != nil {
		t.Fatalf("Adapt() error = %v", err)
	}
	want := `((has(e.Country) && e.Country != null) ? e.Country : "").replace("\u0130", "i").replace("\u212a", "k").lowerAscii().startsWith("de")`
	if p.CEL.Source != want {
		t.Errorf("Source = %s, want %s", p.CEL.Source, want)
	}
	for entity, want := range map[string]bool{"DEU": true, "Austria": false, "": false} {
		got, err := p.Match(map[string]any{"Country": entity})
		if err != nil || got != want {
			t.Errorf("Match(%q) = %v, %v, want %v", entity, got, err, want)
		}
	}
	if got, err := p.Match(map[string]any{}); err != nil || got {
		t.Errorf("Match(missing) = %v, %v, want false", got, err)
	}
}

func TestASCIIFolds(t *testing.T) {
	want := []runeFold{{from: '\u0130', to: 'i'}, {from: '\u212A', to: 'k'}}
	if len(asciiFolds) != len(want) {
		t.Fatalf("asciiFolds = %q, want %q", asciiFolds, want)
	}
	for i := range want {
		if asciiFolds[i] != want[i] {
			t.Errorf("asciiFolds[%d] = %q, want %q", i, asciiFolds[i], want[i])
		}
	}
	for _, f := range asciiFolds {
		if got := strings.ToLower(string(f.from)); got != string(f.to) {
			t.Errorf("strings.ToLower(%q) = %q, want %q", f.from, got, f.to)
		}
	}
}

func TestCELMatch_CanonicalDatetimes(t *testing.T) {
	p, err := Adapt(dateAt(t, time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)), Target{Kind: CEL})
	if err != nil {
		t.Fatalf("Adapt() error = %v", err)
	}
	for value, want := range map[string]bool{
		"2026-01-01":                true,
		"2025-12-31":                false,
		"2025-12-31T00:00:00.001Z":  true,
		"2025-12-31T00:30:00+01:00": false,
	} {
		got, err := p.Match(map[string]any{"CreatedOnUtc": value})
		if err != nil || got != want {
			t.Errorf("Match(%q) = %v, %v, want %v", value, got, err, want)
		}
	}
}

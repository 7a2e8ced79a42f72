package expr

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Format renders n in a compact C#-like notation for logs and diagnostics,
// e.g. `c => ((c.CartTotal >= 50) && (c.Country.Contains(...) == True))`.
func Format(n Node) string {
	var sb strings.Builder
	format(&sb, n)
	return sb.String()
}

func format(sb *strings.Builder, n Node) {
	switch v := n.(type) {
	case *Param:
		sb.WriteString(v.Name)
	case *Member:
		format(sb, v.Target)
		sb.WriteByte('.')
		sb.WriteString(v.Name)
	case *Constant:
		sb.WriteString(FormatValue(v.Value))
	case *Binary:
		sb.WriteByte('(')
		format(sb, v.Left)
		fmt.Fprintf(sb, " %s ", v.Op)
		format(sb, v.Right)
		sb.WriteByte(')')
	case *Call:
		format(sb, v.Receiver)
		fmt.Fprintf(sb, ".%s(", v.Method)
		for i, a := range v.Args {
			if i > 0 {
				sb.WriteString(", ")
			}
			format(sb, a)
		}
		if v.Comparison == IgnoreCase {
			sb.WriteString(", IgnoreCase")
		}
		sb.WriteByte(')')
	case *Lambda:
		sb.WriteString(v.Param.Name)
		sb.WriteString(" => ")
		format(sb, v.Body)
	default:
		fmt.Fprintf(sb, "<%T>", n)
	}
}

// FormatValue renders a canonical constant value.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case bool:
		if x {
			return "True"
		}
		return "False"
	case string:
		return strconv.Quote(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case time.Time:
		return x.Format(time.RFC3339)
	case []any:
		parts := make([]string, len(x))
		for i, item := range x {
			parts[i] = FormatValue(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return fmt.Sprintf("%v", x)
	}
}

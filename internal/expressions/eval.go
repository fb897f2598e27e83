package expressions

import (
	"reflect"
	"strconv"
	"strings"
)

// Context is the data visible to the restricted expression dialect. All
// fields may be nil; lookups against nil scopes resolve to Missing.
type Context struct {
	JSON    any                       // current main input ($json)
	Inputs  map[string]any            // named input ports ($input.port)
	Config  map[string]any            // node configuration ($config)
	Trigger map[string]any            // trigger envelope ($trigger)
	Nodes   map[string]map[string]any // upstream outputs ($node["id"].port)
}

// EvaluateBoolean evaluates a user-authored condition. The dialect supports
// `||` and `&&` at the lowest precedence (parenthesized groups are honored
// first), a single comparison operator per atom, and falls back to the
// truthiness of the whole expression. It is total: malformed input yields
// false, never an error.
func EvaluateBoolean(expr string, ctx *Context) bool {
	s := stripOuterParens(strings.TrimSpace(expr))
	if s == "" {
		return false
	}

	if parts := splitTopLevel(s, "||"); len(parts) > 1 {
		result := false
		for _, p := range parts {
			// Operands are pure, so evaluating all of them is observably
			// identical to short-circuiting.
			if EvaluateBoolean(p, ctx) {
				result = true
			}
		}
		return result
	}

	if parts := splitTopLevel(s, "&&"); len(parts) > 1 {
		result := true
		for _, p := range parts {
			if !EvaluateBoolean(p, ctx) {
				result = false
			}
		}
		return result
	}

	if left, op, right, ok := splitComparison(s); ok {
		return compare(EvaluateExpression(left, ctx), op, EvaluateExpression(right, ctx))
	}

	return Truthy(EvaluateExpression(s, ctx))
}

// EvaluateExpression evaluates a single term: a quoted string, a boolean or
// null keyword, a number, a function call, or a sigil-prefixed context path.
// Anything else is returned as a raw string. Total by construction.
func EvaluateExpression(expr string, ctx *Context) any {
	s := stripOuterParens(strings.TrimSpace(expr))
	if s == "" {
		return Missing
	}

	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}

	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	case "null", "none":
		return nil
	}

	if isNumericLiteral(s) {
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return n
		}
	}

	if name, args, ok := parseCall(s); ok {
		return callFunction(name, args, ctx)
	}

	if strings.HasPrefix(s, "$") {
		return resolveContextPath(s, ctx)
	}

	return s
}

// resolveContextPath resolves $json, $input, $config, $trigger and
// $node["id"] references.
func resolveContextPath(s string, ctx *Context) any {
	if ctx == nil {
		return Missing
	}

	switch {
	case s == "$json":
		if ctx.JSON == nil {
			return Missing
		}
		return ctx.JSON
	case strings.HasPrefix(s, "$json."):
		return ResolvePath(ctx.JSON, s[len("$json."):])
	case s == "$input":
		if ctx.Inputs == nil {
			return Missing
		}
		return ctx.Inputs
	case strings.HasPrefix(s, "$input."):
		return ResolvePath(mapToAny(ctx.Inputs), s[len("$input."):])
	case s == "$config":
		if ctx.Config == nil {
			return Missing
		}
		return ctx.Config
	case strings.HasPrefix(s, "$config."):
		return ResolvePath(mapToAny(ctx.Config), s[len("$config."):])
	case s == "$trigger":
		if ctx.Trigger == nil {
			return Missing
		}
		return ctx.Trigger
	case strings.HasPrefix(s, "$trigger."):
		return ResolvePath(mapToAny(ctx.Trigger), s[len("$trigger."):])
	case strings.HasPrefix(s, "$node"):
		return resolveNodeRef(s[len("$node"):], ctx)
	}
	return Missing
}

// resolveNodeRef handles the remainder after "$node": either ["id"].rest or
// .id.rest. The first path segment after the id is the output port.
func resolveNodeRef(rest string, ctx *Context) any {
	if ctx.Nodes == nil {
		return Missing
	}

	var nodeID, path string
	switch {
	case strings.HasPrefix(rest, "["):
		end := strings.Index(rest, "]")
		if end < 0 {
			return Missing
		}
		nodeID = strings.Trim(rest[1:end], `"'`)
		path = strings.TrimPrefix(rest[end+1:], ".")
	case strings.HasPrefix(rest, "."):
		parts := strings.SplitN(rest[1:], ".", 2)
		nodeID = parts[0]
		if len(parts) == 2 {
			path = parts[1]
		}
	default:
		return Missing
	}

	ports, ok := ctx.Nodes[nodeID]
	if !ok {
		return Missing
	}
	return ResolvePath(mapToAny(ports), path)
}

// --- Comparison ---

// comparators in match order: longest first so === is not read as ==.
var comparators = []string{"===", "!==", "==", "!=", ">=", "<=", ">", "<"}

// splitComparison finds the first top-level comparison operator.
func splitComparison(s string) (left, op, right string, ok bool) {
	depth := 0
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '(', '[':
			depth++
		case ')', ']':
			depth--
		}
		if depth != 0 || quote != 0 {
			continue
		}
		for _, cand := range comparators {
			if strings.HasPrefix(s[i:], cand) {
				return strings.TrimSpace(s[:i]), cand, strings.TrimSpace(s[i+len(cand):]), true
			}
		}
	}
	return "", "", "", false
}

// compare applies one comparison operator. Missing operands are treated as
// null for (in)equality and force false for ordering operators.
func compare(a any, op string, b any) bool {
	if IsMissing(a) {
		a = nil
	}
	if IsMissing(b) {
		b = nil
	}

	switch op {
	case "==":
		return looseEqual(a, b)
	case "!=":
		return !looseEqual(a, b)
	case "===":
		return strictEqual(a, b)
	case "!==":
		return !strictEqual(a, b)
	}

	// Ordering: a missing/null operand never orders.
	if a == nil || b == nil {
		return false
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch op {
		case ">":
			return af > bf
		case "<":
			return af < bf
		case ">=":
			return af >= bf
		case "<=":
			return af <= bf
		}
		return false
	}
	as, aIsStr := a.(string)
	bs, bIsStr := b.(string)
	if aIsStr && bIsStr {
		switch op {
		case ">":
			return as > bs
		case "<":
			return as < bs
		case ">=":
			return as >= bs
		case "<=":
			return as <= bs
		}
	}
	return false
}

// looseEqual compares with numeric coercion: "5" == 5 holds.
func looseEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
	}
	if ab, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			return ab == bb
		}
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return as == bs
		}
	}
	return reflect.DeepEqual(a, b)
}

// strictEqual compares without cross-type coercion.
func strictEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	an, aNum := pureFloat(a)
	bn, bNum := pureFloat(b)
	if aNum != bNum {
		return false
	}
	if aNum {
		return an == bn
	}
	if reflect.TypeOf(a) != reflect.TypeOf(b) {
		return false
	}
	return reflect.DeepEqual(a, b)
}

// --- Truthiness and coercion ---

// Truthy reports the dialect's truthiness: nil, Missing, false, zero, empty
// string/slice/map are false; everything else is true.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case missingType:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	if f, ok := pureFloat(v); ok {
		return f != 0
	}
	return true
}

// ToNumber coerces numbers and numeric strings for callers outside the
// dialect, with the dialect's own coercion rules.
func ToNumber(v any) (float64, bool) {
	return toFloat(v)
}

// toFloat coerces numbers and numeric strings.
func toFloat(v any) (float64, bool) {
	if f, ok := pureFloat(v); ok {
		return f, true
	}
	if s, ok := v.(string); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// pureFloat converts native numeric types only.
func pureFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// --- Lexical helpers ---

// splitTopLevel splits on an operator occurring outside quotes, parentheses
// and brackets. Returns a single-element slice when the operator is absent.
func splitTopLevel(s, op string) []string {
	var parts []string
	depth := 0
	var quote byte
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '(', '[':
			depth++
		case ')', ']':
			depth--
		}
		if depth == 0 && quote == 0 && strings.HasPrefix(s[i:], op) {
			parts = append(parts, strings.TrimSpace(s[start:i]))
			start = i + len(op)
			i += len(op) - 1
		}
	}
	parts = append(parts, strings.TrimSpace(s[start:]))
	return parts
}

// stripOuterParens removes parentheses that wrap the entire expression.
func stripOuterParens(s string) string {
	for len(s) >= 2 && s[0] == '(' && s[len(s)-1] == ')' {
		depth := 0
		wraps := true
		for i := 0; i < len(s); i++ {
			switch s[i] {
			case '(':
				depth++
			case ')':
				depth--
			}
			if depth == 0 && i < len(s)-1 {
				wraps = false
				break
			}
		}
		if !wraps {
			return s
		}
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}

// isNumericLiteral guards ParseFloat against words like "Inf" and "NaN".
func isNumericLiteral(s string) bool {
	c := s[0]
	if c == '-' || c == '+' {
		if len(s) == 1 {
			return false
		}
		c = s[1]
	}
	return (c >= '0' && c <= '9') || c == '.'
}

// parseCall recognizes name(arg, ...) with a valid identifier name and a
// closing paren ending the string.
func parseCall(s string) (name string, args []string, ok bool) {
	open := strings.IndexByte(s, '(')
	if open <= 0 || s[len(s)-1] != ')' {
		return "", nil, false
	}
	name = s[:open]
	for i, r := range name {
		alpha := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '_'
		if !alpha && (i == 0 || r < '0' || r > '9') {
			return "", nil, false
		}
	}
	inner := s[open+1 : len(s)-1]
	if strings.TrimSpace(inner) == "" {
		return name, nil, true
	}
	args = splitTopLevel(inner, ",")
	return name, args, true
}

func mapToAny(m map[string]any) any {
	if m == nil {
		return nil
	}
	return m
}

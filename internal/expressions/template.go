package expressions

import (
	"encoding/json"
	"strconv"
	"strings"
)

// RenderTemplate replaces every {{ expr }} in text with the string form of
// the evaluated expression. Missing values render as the empty string, so
// rendering is idempotent once no {{ }} markers remain.
func RenderTemplate(text string, ctx *Context) string {
	if !strings.Contains(text, "{{") {
		return text
	}

	var out strings.Builder
	out.Grow(len(text))

	i := 0
	for i < len(text) {
		open := strings.Index(text[i:], "{{")
		if open == -1 {
			out.WriteString(text[i:])
			break
		}
		out.WriteString(text[i : i+open])
		start := i + open + 2

		close := strings.Index(text[start:], "}}")
		if close == -1 {
			// Unclosed marker: emit verbatim rather than fault.
			out.WriteString(text[i+open:])
			break
		}
		close += start

		expr := strings.TrimSpace(text[start:close])
		out.WriteString(Stringify(EvaluateExpression(expr, ctx)))
		i = close + 2
	}

	return out.String()
}

// RenderStructure applies RenderTemplate recursively through nested maps and
// slices. Non-string leaves pass through untouched; the input is never
// mutated.
func RenderStructure(v any, ctx *Context) any {
	switch t := v.(type) {
	case string:
		return RenderTemplate(t, ctx)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = RenderStructure(val, ctx)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = RenderStructure(val, ctx)
		}
		return out
	default:
		return v
	}
}

// Stringify renders a value for template substitution. Missing and nil are
// empty, whole numbers drop the decimal point, and composites JSON-encode.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case missingType:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	if f, ok := pureFloat(v); ok {
		return Stringify(f)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

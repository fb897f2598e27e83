package expressions

import (
	"regexp"
	"strings"
	"sync"
	"time"
)

// callFunction dispatches a builtin function call. Builtins are pure and
// total: a type mismatch yields a safe default instead of an error, because
// these run inside the hot path of every flow-control node and must never
// crash a workflow on malformed user input.
func callFunction(name string, rawArgs []string, ctx *Context) any {
	args := make([]any, len(rawArgs))
	for i, raw := range rawArgs {
		args[i] = EvaluateExpression(raw, ctx)
	}

	switch strings.ToLower(name) {
	case "not":
		return !Truthy(arg(args, 0))
	case "and":
		for _, a := range args {
			if !Truthy(a) {
				return false
			}
		}
		return len(args) > 0
	case "or":
		for _, a := range args {
			if Truthy(a) {
				return true
			}
		}
		return false
	case "now":
		return time.Now().UTC().Format(time.RFC3339)
	case "len":
		return float64(lengthOf(arg(args, 0)))
	case "contains":
		return containsValue(arg(args, 0), arg(args, 1))
	case "startswith":
		return strings.HasPrefix(Stringify(arg(args, 0)), Stringify(arg(args, 1)))
	case "endswith":
		return strings.HasSuffix(Stringify(arg(args, 0)), Stringify(arg(args, 1)))
	case "lower":
		return strings.ToLower(Stringify(arg(args, 0)))
	case "upper":
		return strings.ToUpper(Stringify(arg(args, 0)))
	case "tonumber":
		if f, ok := toFloat(arg(args, 0)); ok {
			return f
		}
		return float64(0)
	case "if":
		if Truthy(arg(args, 0)) {
			return arg(args, 1)
		}
		return arg(args, 2)
	case "clamp":
		return clamp(args)
	case "add":
		return arith(args, func(a, b float64) float64 { return a + b })
	case "sub":
		return arith(args, func(a, b float64) float64 { return a - b })
	case "mul":
		return arith(args, func(a, b float64) float64 { return a * b })
	case "div":
		return arith(args, func(a, b float64) float64 {
			if b == 0 {
				b = 1
			}
			return a / b
		})
	case "mod":
		return arith(args, func(a, b float64) float64 {
			if b == 0 {
				b = 1
			}
			return float64(int64(a) % int64(b))
		})
	case "regex":
		return regexMatch(args)
	case "coalesce":
		for _, a := range args {
			if a != nil && !IsMissing(a) && Stringify(a) != "" {
				return a
			}
		}
		return nil
	}
	// Unknown function: total evaluation, not an error.
	return Missing
}

func arg(args []any, i int) any {
	if i < 0 || i >= len(args) {
		return Missing
	}
	return args[i]
}

func lengthOf(v any) int {
	switch t := v.(type) {
	case string:
		return len(t)
	case []any:
		return len(t)
	case map[string]any:
		return len(t)
	}
	return 0
}

func containsValue(haystack, needle any) bool {
	switch h := haystack.(type) {
	case string:
		return strings.Contains(h, Stringify(needle))
	case []any:
		for _, item := range h {
			if looseEqual(item, needle) {
				return true
			}
		}
		return false
	case map[string]any:
		_, ok := h[Stringify(needle)]
		return ok
	}
	return false
}

func clamp(args []any) any {
	v, vok := toFloat(arg(args, 0))
	lo, lok := toFloat(arg(args, 1))
	hi, hok := toFloat(arg(args, 2))
	if !vok {
		return float64(0)
	}
	if lok && v < lo {
		v = lo
	}
	if hok && v > hi {
		v = hi
	}
	return v
}

// arith folds a binary operation over the numeric coercion of the arguments.
// Non-numeric arguments coerce to zero.
func arith(args []any, op func(a, b float64) float64) any {
	if len(args) == 0 {
		return float64(0)
	}
	acc, _ := toFloat(args[0])
	for _, a := range args[1:] {
		f, _ := toFloat(a)
		acc = op(acc, f)
	}
	return acc
}

// regexCache keeps compiled patterns; user-authored expressions repeat across
// activations.
var regexCache = newRegexCache()

type regexStore struct {
	mu       sync.RWMutex
	patterns map[string]*regexp.Regexp
}

func newRegexCache() *regexStore {
	return &regexStore{
		patterns: make(map[string]*regexp.Regexp),
	}
}

func (c *regexStore) get(pattern string) (*regexp.Regexp, error) {
	c.mu.RLock()
	if re, ok := c.patterns[pattern]; ok {
		c.mu.RUnlock()
		return re, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if re, ok := c.patterns[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	c.patterns[pattern] = re
	return re, nil
}

func regexMatch(args []any) bool {
	str := Stringify(arg(args, 0))
	pattern := Stringify(arg(args, 1))
	if pattern == "" {
		return false
	}
	if Truthy(arg(args, 2)) {
		pattern = "(?i)" + pattern
	}
	re, err := regexCache.get(pattern)
	if err != nil {
		// Invalid user pattern: no match, never a fault.
		return false
	}
	return re.MatchString(str)
}

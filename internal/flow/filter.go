package flow

import (
	"context"
	"sort"

	"github.com/rendis/nodeflow/internal/expressions"
	"github.com/rendis/nodeflow/internal/runner"
	"github.com/rendis/nodeflow/pkg/schema"
)

// Filter routes the input to main when the predicate holds, otherwise to
// filtered. Exactly one of the two ports carries data on every activation.
type Filter struct {
	flowKind
	ev *Evaluator
}

// NewFilter creates the FILTER runner.
func NewFilter(ev *Evaluator) *Filter {
	return &Filter{flowKind: flowKind{subtype: schema.FlowSubtypeFilter}, ev: ev}
}

func (r *Filter) Execute(ctx context.Context, ec *runner.ExecutionContext) (*runner.Result, error) {
	expr := configString(ec.Config(), "filter_expression", "condition_expression", "condition")
	input := ec.MainInput()

	if r.ev.Bool(ctx, ec, expr) {
		return &runner.Result{Ports: schema.Ports{schema.PortMain: input}}, nil
	}

	filtered := input
	if filtered == nil {
		filtered = map[string]any{}
	}
	return &runner.Result{Ports: schema.Ports{schema.PortFiltered: filtered}}, nil
}

// Sort orders a list ascending by an optional dot-path key. The list is
// either the input itself or the value under its "items" key; anything else
// passes through unchanged. The input list is never mutated.
type Sort struct {
	flowKind
}

// NewSort creates the SORT runner.
func NewSort() *Sort {
	return &Sort{flowKind: flowKind{subtype: schema.FlowSubtypeSort}}
}

func (r *Sort) Execute(_ context.Context, ec *runner.ExecutionContext) (*runner.Result, error) {
	config := ec.Config()
	key := configString(config, "sort_key", "key")
	descending := configBool(config, "descending")
	input := ec.MainInput()

	switch t := input.(type) {
	case []any:
		return runner.MainResult(sortList(t, key, descending)), nil
	case map[string]any:
		if items, ok := t["items"].([]any); ok {
			out := make(map[string]any, len(t))
			for k, v := range t {
				out[k] = v
			}
			out["items"] = sortList(items, key, descending)
			return runner.MainResult(out), nil
		}
	}
	return runner.MainResult(input), nil
}

func sortList(items []any, key string, descending bool) []any {
	out := make([]any, len(items))
	copy(out, items)

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if key != "" {
			a = expressions.ResolvePath(a, key)
			b = expressions.ResolvePath(b, key)
		}
		less := lessValue(a, b)
		if descending {
			return lessValue(b, a)
		}
		return less
	})
	return out
}

// lessValue orders numbers before strings; missing values sort last.
func lessValue(a, b any) bool {
	aMissing := a == nil || expressions.IsMissing(a)
	bMissing := b == nil || expressions.IsMissing(b)
	if aMissing || bMissing {
		return !aMissing && bMissing
	}

	af, aNum := expressions.ToNumber(a)
	bf, bNum := expressions.ToNumber(b)
	switch {
	case aNum && bNum:
		return af < bf
	case aNum:
		return true
	case bNum:
		return false
	}
	return expressions.Stringify(a) < expressions.Stringify(b)
}

package flow

import (
	"context"

	"github.com/rendis/nodeflow/internal/expressions"
	"github.com/rendis/nodeflow/internal/runner"
	"github.com/rendis/nodeflow/pkg/schema"
)

// defaultMaxIterations bounds every loop kind when the node does not set
// max_iterations. Termination is guaranteed even for a while condition that
// never turns false.
const defaultMaxIterations = 100

// Loop aggregates synchronously over one of three iteration kinds:
//
//   - for_range: start/end/step numeric range
//   - for_each:  array at a dot-path into the input
//   - while:     a re-evaluated boolean condition
//
// Per-iteration records go out on the iteration port; a summary with
// total_iterations and loop_completed merges into the original payload on
// completed and main.
type Loop struct {
	flowKind
	ev *Evaluator
}

// NewLoop creates the LOOP runner.
func NewLoop(ev *Evaluator) *Loop {
	return &Loop{flowKind: flowKind{subtype: schema.FlowSubtypeLoop}, ev: ev}
}

func (r *Loop) Execute(ctx context.Context, ec *runner.ExecutionContext) (*runner.Result, error) {
	config := ec.Config()
	input := ec.MainInput()

	maxIter := defaultMaxIterations
	if n, ok := configNumber(config, "max_iterations"); ok && n > 0 {
		maxIter = int(n)
	}

	var records []any
	completed := true

	switch loopType(config) {
	case "for_range":
		records, completed = r.runRange(config, maxIter)
	case "while":
		records, completed = r.runWhile(ctx, ec, config, maxIter)
	default:
		records, completed = r.runForEach(config, input, maxIter)
	}

	summary := mergeSummary(input, map[string]any{
		"total_iterations": float64(len(records)),
		"loop_completed":   completed,
	})
	return &runner.Result{Ports: schema.Ports{
		schema.PortIteration: records,
		schema.PortCompleted: summary,
		schema.PortMain:      summary,
	}}, nil
}

// loopType picks the iteration kind: explicit loop_type wins, otherwise the
// present config keys decide.
func loopType(config map[string]any) string {
	if t := configString(config, "loop_type"); t != "" {
		return t
	}
	if configString(config, "while_condition") != "" {
		return "while"
	}
	if _, ok := configNumber(config, "end"); ok {
		return "for_range"
	}
	return "for_each"
}

func (r *Loop) runRange(config map[string]any, maxIter int) ([]any, bool) {
	start, _ := configNumber(config, "start")
	end, _ := configNumber(config, "end")
	step, ok := configNumber(config, "step")
	if !ok || step == 0 {
		step = 1
	}
	if step < 0 {
		step = -step
	}
	if start > end {
		step = -step
	}

	var records []any
	v := start
	for (step > 0 && v < end) || (step < 0 && v > end) {
		if len(records) >= maxIter {
			return records, false
		}
		records = append(records, map[string]any{
			"index": float64(len(records)),
			"value": v,
		})
		v += step
	}
	return records, true
}

func (r *Loop) runForEach(config map[string]any, input any, maxIter int) ([]any, bool) {
	path := configString(config, "items_path", "items_key")
	items := normalizeList(input, path)

	var records []any
	for i, item := range items {
		if len(records) >= maxIter {
			return records, false
		}
		records = append(records, map[string]any{
			"index": float64(i),
			"item":  item,
		})
	}
	return records, true
}

func (r *Loop) runWhile(ctx context.Context, ec *runner.ExecutionContext, config map[string]any, maxIter int) ([]any, bool) {
	expr := configString(config, "while_condition", "condition_expression", "condition")

	var records []any
	for r.ev.Bool(ctx, ec, expr) {
		if len(records) >= maxIter {
			return records, false
		}
		records = append(records, map[string]any{
			"index": float64(len(records)),
		})
	}
	return records, true
}

// mergeSummary merges the loop summary into a mapping payload, or wraps a
// non-mapping payload under "input". The original input is never mutated.
func mergeSummary(input any, summary map[string]any) map[string]any {
	out := make(map[string]any)
	if m, ok := input.(map[string]any); ok {
		for k, v := range m {
			out[k] = v
		}
	} else if input != nil {
		out["input"] = input
	}
	for k, v := range summary {
		out[k] = v
	}
	return out
}

// ForEach normalizes a list-like input and emits it on iteration and main
// for downstream fan-out. Scalars wrap into a one-element list.
type ForEach struct {
	flowKind
}

// NewForEach creates the FOR_EACH runner.
func NewForEach() *ForEach {
	return &ForEach{flowKind: flowKind{subtype: schema.FlowSubtypeForEach}}
}

func (r *ForEach) Execute(_ context.Context, ec *runner.ExecutionContext) (*runner.Result, error) {
	path := configString(ec.Config(), "items_path", "items_key")
	items := normalizeList(ec.MainInput(), path)
	return &runner.Result{Ports: schema.Ports{
		schema.PortIteration: items,
		schema.PortMain:      items,
	}}, nil
}

// normalizeList extracts a list from the input: the value at path when set,
// the input itself when already a list, the "items" key of a mapping, a
// one-element list for scalars, and empty for nil.
func normalizeList(input any, path string) []any {
	v := input
	if path != "" {
		v = expressions.ResolvePath(input, path)
	}

	switch t := v.(type) {
	case []any:
		return t
	case map[string]any:
		if items, ok := t["items"].([]any); ok {
			return items
		}
		return []any{t}
	case nil:
		return []any{}
	}
	if expressions.IsMissing(v) {
		return []any{}
	}
	return []any{v}
}

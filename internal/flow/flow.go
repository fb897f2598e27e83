// Package flow implements the flow-control runners: branching, merging,
// filtering, iteration, and the pause-based suspension primitives.
package flow

import (
	"context"
	"log/slog"

	"github.com/rendis/nodeflow/internal/expressions"
	"github.com/rendis/nodeflow/internal/runner"
	"github.com/rendis/nodeflow/pkg/schema"
)

// Evaluator evaluates node-configured expressions. The restricted dialect is
// the default; a node may opt into a pluggable engine with config key
// "engine" ("cel", "jq", "expr"). Engine failures fall back to the dialect so
// a bad expression degrades instead of crashing the workflow.
type Evaluator struct {
	engines map[string]expressions.Engine
	logger  *slog.Logger
}

// NewEvaluator creates an evaluator. engines may be nil or partial; only the
// dialect is guaranteed.
func NewEvaluator(engines map[string]expressions.Engine, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{engines: engines, logger: logger}
}

// Bool evaluates a condition. Conditions go through the boolean dialect so
// comparisons and `&&`/`||` chains work; engine results reduce by truthiness.
func (e *Evaluator) Bool(ctx context.Context, ec *runner.ExecutionContext, expr string) bool {
	if expr == "" {
		return false
	}
	if out, ok := e.engineValue(ctx, ec, expr); ok {
		return expressions.Truthy(out)
	}
	return expressions.EvaluateBoolean(expr, ec.ExprContext())
}

// Value evaluates an expression to its raw value (a single term in the
// dialect; SWITCH uses this to extract the value it matches cases against).
func (e *Evaluator) Value(ctx context.Context, ec *runner.ExecutionContext, expr string) any {
	if expr == "" {
		return expressions.Missing
	}
	if out, ok := e.engineValue(ctx, ec, expr); ok {
		return out
	}
	return expressions.EvaluateExpression(expr, ec.ExprContext())
}

// engineValue runs the node's opted-in engine, if any. ok is false when no
// engine applies or it failed, meaning the dialect should take over.
func (e *Evaluator) engineValue(ctx context.Context, ec *runner.ExecutionContext, expr string) (any, bool) {
	name, _ := ec.Config()["engine"].(string)
	if name == "" {
		return nil, false
	}
	eng, found := e.engines[name]
	if !found {
		e.logger.Warn("unknown expression engine, using dialect",
			slog.String("engine", name),
			slog.String("node_id", ec.Node.ID))
		return nil, false
	}
	out, err := eng.Evaluate(ctx, expr, expressions.ScopeData(ec.ExprContext()))
	if err != nil {
		e.logger.Warn("engine evaluation failed, falling back to dialect",
			slog.String("engine", name),
			slog.String("node_id", ec.Node.ID),
			slog.String("error", err.Error()))
		return nil, false
	}
	return out, true
}

// RegisterAll registers every flow-control runner against the registry.
func RegisterAll(reg *runner.Registry, ev *Evaluator) error {
	runners := []runner.Runner{
		NewIf(ev),
		NewSwitch(ev),
		NewMerge(),
		NewSplit(),
		NewFilter(ev),
		NewSort(),
		NewLoop(ev),
		NewForEach(),
		NewDelay(),
		NewWait(ev),
		NewTimeout(ev),
	}
	for _, rn := range runners {
		if err := reg.Register(rn); err != nil {
			return err
		}
	}
	return nil
}

// configString reads a string config value trying keys in order.
func configString(config map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := config[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// configBool reads a truthy config value.
func configBool(config map[string]any, key string) bool {
	v, ok := config[key]
	return ok && expressions.Truthy(v)
}

// configNumber reads a numeric config value trying keys in order.
func configNumber(config map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := config[k]; ok {
			if f, ok := expressions.ToNumber(v); ok {
				return f, true
			}
		}
	}
	return 0, false
}

// flowKind embeds the constant (type, subtype) identity of a flow runner.
type flowKind struct {
	subtype string
}

func (k flowKind) Type() schema.NodeType { return schema.NodeTypeFlow }
func (k flowKind) Subtype() string       { return k.subtype }

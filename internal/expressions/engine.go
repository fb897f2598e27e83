package expressions

import "context"

// Engine evaluates expressions selected by node configuration when the
// built-in dialect is not enough. Three implementations: CEL (conditions),
// GoJQ (data extraction), Expr (logic).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// ScopeData flattens a Context into the variable environment shared by all
// pluggable engines: json, input, config, trigger, node.
func ScopeData(ec *Context) map[string]any {
	data := map[string]any{
		"json":    map[string]any{},
		"input":   map[string]any{},
		"config":  map[string]any{},
		"trigger": map[string]any{},
		"node":    map[string]any{},
	}
	if ec == nil {
		return data
	}
	if m, ok := ec.JSON.(map[string]any); ok && m != nil {
		data["json"] = m
	}
	if ec.Inputs != nil {
		data["input"] = ec.Inputs
	}
	if ec.Config != nil {
		data["config"] = ec.Config
	}
	if ec.Trigger != nil {
		data["trigger"] = ec.Trigger
	}
	if len(ec.Nodes) > 0 {
		nodes := make(map[string]any, len(ec.Nodes))
		for id, ports := range ec.Nodes {
			nodes[id] = ports
		}
		data["node"] = nodes
	}
	return data
}

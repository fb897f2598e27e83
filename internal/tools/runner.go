package tools

import (
	"context"

	"github.com/rendis/nodeflow/internal/expressions"
	"github.com/rendis/nodeflow/internal/runner"
	"github.com/rendis/nodeflow/pkg/schema"
)

// toolRunner executes a TOOL node directly, outside any agent loop: the
// configured tool is invoked once with the rendered arguments.
type toolRunner struct {
	subtype string
	service *Service
}

func (r *toolRunner) Type() schema.NodeType { return schema.NodeTypeTool }
func (r *toolRunner) Subtype() string       { return r.subtype }

func (r *toolRunner) Execute(ctx context.Context, ec *runner.ExecutionContext) (*runner.Result, error) {
	cfg := ec.Config()

	name, _ := cfg["tool_name"].(string)
	if name == "" {
		name, _ = cfg["function"].(string)
	}
	if name == "" {
		return runner.ErrorResult("tool_call",
			schema.NewError(schema.ErrCodeValidation, "tool node requires a tool_name")), nil
	}

	args := r.arguments(ec)
	out, err := r.service.Invoke(ctx, ec.Node, name, args)
	if err != nil {
		ec.Log().Warn("tool invocation failed", "tool", name, "node", ec.Node.ID, "error", err)
		return runner.ErrorResult("tool_call", err), nil
	}
	return runner.MainResult(out), nil
}

// arguments resolves the call arguments: templated config arguments win,
// otherwise the main input payload is used when it is a mapping.
func (r *toolRunner) arguments(ec *runner.ExecutionContext) map[string]any {
	if raw, ok := ec.Config()["arguments"].(map[string]any); ok {
		rendered := expressions.RenderStructure(raw, ec.ExprContext())
		if m, ok := rendered.(map[string]any); ok {
			return m
		}
	}
	if m, ok := ec.MainInput().(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// RegisterAll registers the tool runners for every tool subtype.
func RegisterAll(reg *runner.Registry, service *Service) error {
	for _, subtype := range []string{
		schema.ToolSubtypeMCP,
		schema.ToolSubtypeHTTP,
		schema.ToolSubtypeFunction,
	} {
		if err := reg.Register(&toolRunner{subtype: subtype, service: service}); err != nil {
			return err
		}
	}
	return nil
}

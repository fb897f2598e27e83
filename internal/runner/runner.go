package runner

import (
	"context"
	"log/slog"

	"github.com/rendis/nodeflow/internal/expressions"
	"github.com/rendis/nodeflow/pkg/schema"
)

// Runner is an executable unit of work for one node kind. Implementations are
// registered by (type, subtype) and must be safe for concurrent use.
type Runner interface {
	Type() schema.NodeType
	Subtype() string
	Execute(ctx context.Context, ec *ExecutionContext) (*Result, error)
}

// ExecutionContext is the data provided to a runner at execution time.
// Metadata is mutable and survives pause/resume cycles, which is how loop
// counters and accumulated iteration state persist across activations.
type ExecutionContext struct {
	Node        *schema.Node
	Inputs      map[string]any
	Trigger     *schema.Trigger
	NodeOutputs map[string]map[string]any
	ExecutionID string
	UserID      string
	Metadata    map[string]any
	Logger      *slog.Logger
}

// Result is the outcome of one node activation. Ports carries the routable
// outputs; a non-nil Pause suspends the activation instead of completing it.
type Result struct {
	Ports schema.Ports
	Pause *schema.PauseSignal
}

// MainInput returns the primary input payload, or nil when absent.
func (ec *ExecutionContext) MainInput() any {
	if ec == nil || ec.Inputs == nil {
		return nil
	}
	return ec.Inputs[schema.PortMain]
}

// Config returns the node configuration map, never nil.
func (ec *ExecutionContext) Config() map[string]any {
	if ec == nil || ec.Node == nil || ec.Node.Config == nil {
		return map[string]any{}
	}
	return ec.Node.Config
}

// ExprContext builds the evaluation scope for the expression dialect and the
// pluggable engines: $json, $input, $config, $trigger, $node.
func (ec *ExecutionContext) ExprContext() *expressions.Context {
	if ec == nil {
		return &expressions.Context{}
	}
	ctx := &expressions.Context{
		JSON:   ec.MainInput(),
		Inputs: ec.Inputs,
		Config: ec.Config(),
		Nodes:  ec.NodeOutputs,
	}
	if ec.Trigger != nil {
		ctx.Trigger = map[string]any{
			"type":      ec.Trigger.Type,
			"data":      ec.Trigger.Data,
			"user_id":   ec.Trigger.UserID,
			"timestamp": ec.Trigger.Timestamp,
		}
	}
	return ctx
}

// Log returns the context logger, or the default logger when unset.
func (ec *ExecutionContext) Log() *slog.Logger {
	if ec == nil || ec.Logger == nil {
		return slog.Default()
	}
	return ec.Logger
}

// Meta reads a metadata key, returning ok=false when metadata is unset.
func (ec *ExecutionContext) Meta(key string) (any, bool) {
	if ec == nil || ec.Metadata == nil {
		return nil, false
	}
	v, ok := ec.Metadata[key]
	return v, ok
}

// SetMeta writes a metadata key, allocating the map on first use.
func (ec *ExecutionContext) SetMeta(key string, value any) {
	if ec == nil {
		return
	}
	if ec.Metadata == nil {
		ec.Metadata = make(map[string]any)
	}
	ec.Metadata[key] = value
}

// MainResult wraps a single payload as the conventional main-port result.
func MainResult(data any) *Result {
	return &Result{Ports: schema.Ports{schema.PortMain: data}}
}

// ErrorResult routes a failure to the error port with the standard payload.
func ErrorResult(operation string, err error) *Result {
	return &Result{Ports: schema.Ports{schema.PortError: schema.ErrorPayload(operation, err)}}
}

// PausedResult wraps a pause signal with no routable output yet.
func PausedResult(signal *schema.PauseSignal) *Result {
	return &Result{Pause: signal}
}

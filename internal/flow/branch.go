package flow

import (
	"context"

	"github.com/rendis/nodeflow/internal/expressions"
	"github.com/rendis/nodeflow/internal/runner"
	"github.com/rendis/nodeflow/pkg/schema"
)

// If evaluates one boolean condition and routes the unchanged input to
// exactly one of the true/false ports. main always carries the input too, so
// downstream nodes that do not care about the branch keep receiving data.
type If struct {
	flowKind
	ev *Evaluator
}

// NewIf creates the IF runner.
func NewIf(ev *Evaluator) *If {
	return &If{flowKind: flowKind{subtype: schema.FlowSubtypeIf}, ev: ev}
}

func (r *If) Execute(ctx context.Context, ec *runner.ExecutionContext) (*runner.Result, error) {
	expr := configString(ec.Config(), "condition_expression", "condition")
	input := ec.MainInput()

	ports := schema.Ports{schema.PortMain: input}
	if r.ev.Bool(ctx, ec, expr) {
		ports[schema.PortTrue] = input
	} else {
		ports[schema.PortFalse] = input
	}
	return &runner.Result{Ports: ports}, nil
}

// Switch evaluates one expression and routes the input to every case port
// whose declared value equals the result. Cases are configured as
// [{value, case_id}]; no match routes to the default port.
type Switch struct {
	flowKind
	ev *Evaluator
}

// NewSwitch creates the SWITCH runner.
func NewSwitch(ev *Evaluator) *Switch {
	return &Switch{flowKind: flowKind{subtype: schema.FlowSubtypeSwitch}, ev: ev}
}

func (r *Switch) Execute(ctx context.Context, ec *runner.ExecutionContext) (*runner.Result, error) {
	config := ec.Config()
	expr := configString(config, "switch_expression", "expression")
	input := ec.MainInput()

	value := r.ev.Value(ctx, ec, expr)

	ports := schema.Ports{schema.PortMain: input}
	matched := false
	if cases, ok := config["cases"].([]any); ok {
		for _, c := range cases {
			cm, ok := c.(map[string]any)
			if !ok {
				continue
			}
			port, _ := cm["case_id"].(string)
			if port == "" {
				continue
			}
			if looseMatch(value, cm["value"]) {
				ports[port] = input
				matched = true
			}
		}
	}

	if !matched {
		defaultPort := configString(config, "default_case")
		if defaultPort == "" {
			defaultPort = schema.PortDefault
		}
		ports[defaultPort] = input
	}
	return &runner.Result{Ports: ports}, nil
}

// looseMatch compares a switch result against a declared case value with the
// dialect's loose equality (numbers and numeric strings compare equal).
func looseMatch(got, declared any) bool {
	if gf, ok := expressions.ToNumber(got); ok {
		if df, ok := expressions.ToNumber(declared); ok {
			return gf == df
		}
	}
	return expressions.Stringify(got) == expressions.Stringify(declared)
}

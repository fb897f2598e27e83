package flow

import (
	"context"

	"github.com/rendis/nodeflow/internal/runner"
	"github.com/rendis/nodeflow/pkg/schema"
)

// Delay requests suspension for a fixed duration. It never blocks: the pause
// signal asks the scheduler to park the node and resume it on main with the
// unchanged payload after the delay.
type Delay struct {
	flowKind
}

// NewDelay creates the DELAY runner.
func NewDelay() *Delay {
	return &Delay{flowKind: flowKind{subtype: schema.FlowSubtypeDelay}}
}

func (r *Delay) Execute(_ context.Context, ec *runner.ExecutionContext) (*runner.Result, error) {
	delayMs := durationMs(ec.Config(), "delay_ms", "delay_seconds", "duration_seconds")
	if delayMs <= 0 {
		// Zero delay resumes immediately; no reason to involve the timer.
		return runner.MainResult(ec.MainInput()), nil
	}

	return runner.PausedResult(&schema.PauseSignal{
		Reason:     schema.PauseReasonDelay,
		ResumePort: schema.PortMain,
		DelayMs:    delayMs,
		Payload:    ec.MainInput(),
	}), nil
}

// Wait suspends until resumed externally. It short-circuits without pausing
// when a cancel_signal input is present (cancelled port), when a
// trigger_event input is present, or when the wait_condition already holds
// (completed port). An optional timeout bounds the suspension.
type Wait struct {
	flowKind
	ev *Evaluator
}

// NewWait creates the WAIT runner.
func NewWait(ev *Evaluator) *Wait {
	return &Wait{flowKind: flowKind{subtype: schema.FlowSubtypeWait}, ev: ev}
}

func (r *Wait) Execute(ctx context.Context, ec *runner.ExecutionContext) (*runner.Result, error) {
	input := ec.MainInput()

	if cancel, ok := ec.Inputs["cancel_signal"]; ok {
		return &runner.Result{Ports: schema.Ports{schema.PortCancelled: cancel}}, nil
	}
	if event, ok := ec.Inputs["trigger_event"]; ok {
		return &runner.Result{Ports: schema.Ports{schema.PortCompleted: event}}, nil
	}
	if expr := configString(ec.Config(), "wait_condition", "condition_expression"); expr != "" {
		if r.ev.Bool(ctx, ec, expr) {
			return &runner.Result{Ports: schema.Ports{schema.PortCompleted: input}}, nil
		}
	}

	signal := &schema.PauseSignal{
		Reason:     schema.PauseReasonWait,
		ResumePort: schema.PortCompleted,
		Payload:    input,
	}
	if timeoutMs := durationMs(ec.Config(), "timeout_ms", "timeout_seconds", "duration_seconds"); timeoutMs > 0 {
		signal.TimeoutMs = timeoutMs
	}
	return runner.PausedResult(signal), nil
}

// Timeout wraps downstream work in a deadline. A true bypass condition
// completes immediately (or fires the timeout port when immediate_timeout is
// set); otherwise the node pauses with the same contract as WAIT, keyed to
// the configured timeout.
type Timeout struct {
	flowKind
	ev *Evaluator
}

// NewTimeout creates the TIMEOUT runner.
func NewTimeout(ev *Evaluator) *Timeout {
	return &Timeout{flowKind: flowKind{subtype: schema.FlowSubtypeTimeout}, ev: ev}
}

func (r *Timeout) Execute(ctx context.Context, ec *runner.ExecutionContext) (*runner.Result, error) {
	config := ec.Config()
	input := ec.MainInput()

	if expr := configString(config, "bypass_condition", "condition_expression"); expr != "" {
		if r.ev.Bool(ctx, ec, expr) {
			port := schema.PortCompleted
			if configBool(config, "immediate_timeout") {
				port = schema.PortTimeout
			}
			return &runner.Result{Ports: schema.Ports{port: input}}, nil
		}
	}

	return runner.PausedResult(&schema.PauseSignal{
		Reason:     schema.PauseReasonTimer,
		ResumePort: schema.PortCompleted,
		TimeoutMs:  durationMs(config, "timeout_ms", "timeout_seconds", "duration_seconds"),
		Payload:    input,
	}), nil
}

// durationMs reads a duration from config: the first key is milliseconds,
// the remaining keys are seconds.
func durationMs(config map[string]any, msKey string, secondKeys ...string) int64 {
	if v, ok := configNumber(config, msKey); ok {
		return int64(v)
	}
	for _, k := range secondKeys {
		if v, ok := configNumber(config, k); ok {
			return int64(v * 1000)
		}
	}
	return 0
}

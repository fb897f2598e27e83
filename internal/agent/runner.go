package agent

import (
	"context"

	"github.com/rendis/nodeflow/internal/adapter"
	"github.com/rendis/nodeflow/internal/runner"
	"github.com/rendis/nodeflow/pkg/schema"
)

// providerService maps agent subtypes to the credential-store service name.
var providerService = map[string]string{
	schema.AgentSubtypeOpenAI:    "openai",
	schema.AgentSubtypeAnthropic: "anthropic",
	schema.AgentSubtypeGoogle:    "google",
}

// agentRunner executes an AI_AGENT node: resolve credentials, run the
// orchestrator with the subtype's model adapter, shape the output ports.
type agentRunner struct {
	subtype      string
	model        ModelAdapter
	orchestrator *Orchestrator
	resolver     adapter.CredentialResolver
}

func (r *agentRunner) Type() schema.NodeType { return schema.NodeTypeAIAgent }
func (r *agentRunner) Subtype() string       { return r.subtype }

func (r *agentRunner) Execute(ctx context.Context, ec *runner.ExecutionContext) (*runner.Result, error) {
	creds, err := r.credentials(ctx, ec)
	if err != nil {
		return runner.ErrorResult("agent_call", err), nil
	}

	outcome, err := r.orchestrator.Run(ctx, ec, r.model, creds)
	if err != nil {
		ec.Log().Warn("agent execution failed", "node", ec.Node.ID, "provider", r.model.Name(), "error", err)
		return runner.ErrorResult("agent_call", err), nil
	}

	functionCalls := make([]any, 0, len(outcome.FunctionCalls))
	for _, record := range outcome.FunctionCalls {
		functionCalls = append(functionCalls, map[string]any{
			"iteration": record.Iteration,
			"node_id":   record.NodeID,
			"name":      record.Name,
			"arguments": record.Arguments,
			"result":    record.Result,
			"error":     record.Error,
		})
	}

	return runner.MainResult(map[string]any{
		"content":        outcome.Content,
		"finish_reason":  outcome.FinishReason,
		"function_calls": functionCalls,
		"token_usage": map[string]any{
			"input_tokens":  outcome.Usage.InputTokens,
			"output_tokens": outcome.Usage.OutputTokens,
			"total_tokens":  outcome.Usage.Total(),
		},
	}), nil
}

// credentials resolves the provider API key: the stored credential for the
// user, overridable by an api_key in node config.
func (r *agentRunner) credentials(ctx context.Context, ec *runner.ExecutionContext) (adapter.Credentials, error) {
	creds := adapter.Credentials{}
	if r.resolver != nil {
		stored, err := r.resolver(ctx, ec.UserID, providerService[r.subtype])
		if err == nil {
			for k, v := range stored {
				creds[k] = v
			}
		}
	}
	if key, ok := ec.Config()["api_key"].(string); ok && key != "" {
		creds["api_key"] = key
	}
	return creds, nil
}

// RegisterAll registers one agent runner per model provider.
func RegisterAll(reg *runner.Registry, orchestrator *Orchestrator, resolver adapter.CredentialResolver, models map[string]ModelAdapter) error {
	for subtype, model := range models {
		if err := reg.Register(&agentRunner{
			subtype:      subtype,
			model:        model,
			orchestrator: orchestrator,
			resolver:     resolver,
		}); err != nil {
			return err
		}
	}
	return nil
}

// DefaultModels builds the standard provider set.
func DefaultModels() map[string]ModelAdapter {
	return map[string]ModelAdapter{
		schema.AgentSubtypeOpenAI:    NewOpenAIAdapter(nil, nil),
		schema.AgentSubtypeAnthropic: NewAnthropicAdapter(nil, nil),
		schema.AgentSubtypeGoogle:    NewGoogleAdapter(nil),
	}
}

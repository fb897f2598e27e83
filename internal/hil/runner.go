package hil

import (
	"context"
	"strings"

	"github.com/rendis/nodeflow/internal/expressions"
	"github.com/rendis/nodeflow/internal/runner"
	"github.com/rendis/nodeflow/pkg/schema"
)

const defaultTimeoutSeconds = 3600

// requestKeys are the config keys copied into the interaction's request
// payload, after template rendering.
var requestKeys = []string{
	"title", "description", "options", "input_fields",
	"timeout_action", "default_response", "escalation_channel",
}

// hilRunner suspends an execution pending a human response on one channel.
type hilRunner struct {
	subtype string
	svc     *Service
}

func (r *hilRunner) Type() schema.NodeType { return schema.NodeTypeHumanInLoop }
func (r *hilRunner) Subtype() string       { return r.subtype }

func (r *hilRunner) Execute(ctx context.Context, ec *runner.ExecutionContext) (*runner.Result, error) {
	cfg := ec.Config()

	interactionType, _ := cfg["interaction_type"].(string)
	if interactionType == "" {
		interactionType = "approval"
	}

	timeoutSeconds := int64(defaultTimeoutSeconds)
	if v, ok := cfg["timeout_seconds"]; ok {
		if f, ok := expressions.ToNumber(v); ok {
			timeoutSeconds = int64(f)
		}
	}

	payload := map[string]any{}
	for _, key := range requestKeys {
		if v, ok := cfg[key]; ok {
			payload[key] = expressions.RenderStructure(v, ec.ExprContext())
		}
	}
	if input, ok := ec.MainInput().(map[string]any); ok {
		payload["input"] = input
	}

	workflowID, _ := cfg["workflow_id"].(string)
	_, signal, err := r.svc.CreateInteraction(ctx, CreateRequest{
		WorkflowID:      workflowID,
		ExecutionID:     ec.ExecutionID,
		NodeID:          ec.Node.ID,
		UserID:          ec.UserID,
		InteractionType: interactionType,
		ChannelType:     strings.ToLower(r.subtype),
		RequestPayload:  payload,
		TimeoutSeconds:  timeoutSeconds,
	})
	if err != nil {
		return runner.ErrorResult("create_interaction", err), nil
	}
	return runner.PausedResult(signal), nil
}

// RegisterAll registers the human-in-the-loop runner for every channel
// subtype.
func RegisterAll(reg *runner.Registry, svc *Service) error {
	for _, subtype := range []string{
		schema.HILSubtypeSlack,
		schema.HILSubtypeEmail,
		schema.HILSubtypeWebhook,
		schema.HILSubtypeInApp,
	} {
		if err := reg.Register(&hilRunner{subtype: subtype, svc: svc}); err != nil {
			return err
		}
	}
	return nil
}

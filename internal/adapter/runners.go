package adapter

import (
	"context"
	"strings"

	"github.com/rendis/nodeflow/internal/expressions"
	"github.com/rendis/nodeflow/internal/runner"
	"github.com/rendis/nodeflow/pkg/schema"
)

// CredentialResolver fetches the stored credential for a user and service.
// Implemented outside the engine (OAuth/token storage is not core); a nil
// resolver means node-level credentials only.
type CredentialResolver func(ctx context.Context, userID, service string) (Credentials, error)

// ExternalRunner executes one EXTERNAL_ACTION subtype by delegating to the
// adapter registered under the subtype's service name. Node config:
// operation, parameters (templated), and optionally credentials.
type ExternalRunner struct {
	subtype  string
	service  string
	adapters *Registry
	resolver CredentialResolver
}

// NewExternalRunners creates one runner per external action subtype, all
// sharing the adapter registry.
func NewExternalRunners(adapters *Registry, resolver CredentialResolver) []runner.Runner {
	subtypes := []string{
		schema.ExternalSubtypeSlack,
		schema.ExternalSubtypeGitHub,
		schema.ExternalSubtypeNotion,
		schema.ExternalSubtypeGoogleCalendar,
		schema.ExternalSubtypeDiscord,
		schema.ExternalSubtypeEmail,
		schema.ExternalSubtypeFirecrawl,
		schema.ExternalSubtypeHTTP,
	}
	runners := make([]runner.Runner, 0, len(subtypes))
	for _, st := range subtypes {
		runners = append(runners, &ExternalRunner{
			subtype:  st,
			service:  strings.ToLower(st),
			adapters: adapters,
			resolver: resolver,
		})
	}
	return runners
}

func (r *ExternalRunner) Type() schema.NodeType { return schema.NodeTypeExternalAction }
func (r *ExternalRunner) Subtype() string       { return r.subtype }

func (r *ExternalRunner) Execute(ctx context.Context, ec *runner.ExecutionContext) (*runner.Result, error) {
	config := ec.Config()
	operation, _ := config["operation"].(string)
	if operation == "" {
		operation = "request"
	}

	a, err := r.adapters.Get(r.service)
	if err != nil {
		// Fall back to the generic HTTP adapter for plain REST services.
		if a, err = r.adapters.Get("http"); err != nil {
			return runner.ErrorResult(r.service+"."+operation, err), nil
		}
	}

	params := renderParams(config["parameters"], ec)
	creds, outcomeErr := r.credentials(ctx, ec, config)
	if outcomeErr != nil {
		return outcomeResult(r.service+"."+operation, outcomeErr, ec), nil
	}

	outcome := a.Execute(ctx, operation, params, creds)
	return outcomeResult(r.service+"."+operation, outcome, ec), nil
}

// credentials merges resolver-provided credentials with node-level overrides.
func (r *ExternalRunner) credentials(ctx context.Context, ec *runner.ExecutionContext, config map[string]any) (Credentials, *Outcome) {
	creds := Credentials{}
	if r.resolver != nil && ec.UserID != "" {
		resolved, err := r.resolver(ctx, ec.UserID, r.service)
		if err != nil {
			return nil, FailAuth("no connected " + r.service + " account, connect it first")
		}
		for k, v := range resolved {
			creds[k] = v
		}
	}
	if raw, ok := config["credentials"].(map[string]any); ok {
		for k, v := range raw {
			if s, ok := v.(string); ok {
				creds[k] = s
			}
		}
	}
	return creds, nil
}

// outcomeResult maps an adapter outcome onto node ports: data on main for
// success, a structured payload on error otherwise. Credentials never appear
// in either.
func outcomeResult(operation string, outcome *Outcome, ec *runner.ExecutionContext) *runner.Result {
	if outcome.Success {
		ec.SetMeta("status_code", outcome.StatusCode)
		return runner.MainResult(outcome.Data)
	}

	payload := map[string]any{
		"operation":   operation,
		"message":     outcome.Error,
		"status_code": outcome.StatusCode,
		"code":        schema.ErrCodeExecution,
	}
	switch {
	case outcome.StatusCode == 401 || outcome.StatusCode == 403:
		payload["code"] = schema.ErrCodeAuthentication
	case outcome.StatusCode == 429:
		payload["code"] = schema.ErrCodeRateLimit
	case outcome.StatusCode == 504:
		payload["code"] = schema.ErrCodeTimeout
	}
	return &runner.Result{Ports: schema.Ports{schema.PortError: payload}}
}

// renderParams resolves {{ }} templates inside the configured parameters.
func renderParams(raw any, ec *runner.ExecutionContext) map[string]any {
	rendered := expressions.RenderStructure(raw, ec.ExprContext())
	if m, ok := rendered.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// ActionRunner executes the built-in ACTION subtypes.
type ActionRunner struct {
	subtype  string
	adapters *Registry
	engines  map[string]expressions.Engine
}

// NewActionRunners creates the HTTP_REQUEST, TRANSFORM and RUN_CODE runners.
func NewActionRunners(adapters *Registry, engines map[string]expressions.Engine) []runner.Runner {
	return []runner.Runner{
		&ActionRunner{subtype: schema.ActionSubtypeHTTPRequest, adapters: adapters, engines: engines},
		&ActionRunner{subtype: schema.ActionSubtypeTransform, adapters: adapters, engines: engines},
		&ActionRunner{subtype: schema.ActionSubtypeRunCode, adapters: adapters, engines: engines},
	}
}

func (r *ActionRunner) Type() schema.NodeType { return schema.NodeTypeAction }
func (r *ActionRunner) Subtype() string       { return r.subtype }

func (r *ActionRunner) Execute(ctx context.Context, ec *runner.ExecutionContext) (*runner.Result, error) {
	switch r.subtype {
	case schema.ActionSubtypeHTTPRequest:
		return r.httpRequest(ctx, ec), nil
	case schema.ActionSubtypeTransform:
		return r.transform(ec), nil
	case schema.ActionSubtypeRunCode:
		return r.runCode(ctx, ec), nil
	}
	return runner.MainResult(ec.MainInput()), nil
}

func (r *ActionRunner) httpRequest(ctx context.Context, ec *runner.ExecutionContext) *runner.Result {
	a, err := r.adapters.Get("http")
	if err != nil {
		return runner.ErrorResult("action.http_request", err)
	}

	params := renderParams(ec.Config()["parameters"], ec)
	if len(params) == 0 {
		// Flat config style: url/method/body live directly in node config.
		params = renderParams(ec.Config(), ec)
	}
	return outcomeResult("action.http_request", a.Execute(ctx, "request", params, nil), ec)
}

// transform renders the configured output template against the input scope.
// With no template the input passes through unchanged.
func (r *ActionRunner) transform(ec *runner.ExecutionContext) *runner.Result {
	config := ec.Config()
	template, ok := config["output"]
	if !ok {
		template, ok = config["template"]
	}
	if !ok {
		return runner.MainResult(ec.MainInput())
	}
	return runner.MainResult(expressions.RenderStructure(template, ec.ExprContext()))
}

// runCode evaluates a sandboxed script through a pluggable engine (jq by
// default). There is no arbitrary code execution here on purpose.
func (r *ActionRunner) runCode(ctx context.Context, ec *runner.ExecutionContext) *runner.Result {
	config := ec.Config()
	script, _ := config["script"].(string)
	if script == "" {
		return runner.ErrorResult("action.run_code",
			schema.NewError(schema.ErrCodeValidation, "run_code: missing required config 'script'"))
	}

	engineName, _ := config["engine"].(string)
	if engineName == "" {
		engineName = "jq"
	}
	eng, ok := r.engines[engineName]
	if !ok {
		return runner.ErrorResult("action.run_code",
			schema.NewErrorf(schema.ErrCodeValidation, "run_code: unknown engine %q", engineName))
	}

	out, err := eng.Evaluate(ctx, script, expressions.ScopeData(ec.ExprContext()))
	if err != nil {
		return runner.ErrorResult("action.run_code", err)
	}
	return runner.MainResult(out)
}

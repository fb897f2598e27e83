package tools

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/rendis/nodeflow/internal/adapter"
	"github.com/rendis/nodeflow/pkg/schema"
)

// Service is the single entry point for tool discovery and invocation across
// every tool-node subtype. The agent orchestrator and the TOOL runner both
// sit on top of it.
type Service struct {
	catalog   *Catalog
	functions *FunctionRegistry
	adapters  *adapter.Registry
	validator *Validator
	logger    *slog.Logger
}

// NewService wires the tool sources together. Any source may be nil; nodes
// of the corresponding subtype then fail discovery with a clear error.
func NewService(catalog *Catalog, functions *FunctionRegistry, adapters *adapter.Registry, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		catalog:   catalog,
		functions: functions,
		adapters:  adapters,
		validator: NewValidator(),
		logger:    logger,
	}
}

// Discover returns the tool definitions a tool node offers.
func (s *Service) Discover(ctx context.Context, node *schema.Node) ([]Definition, error) {
	if node == nil || node.Type != schema.NodeTypeTool {
		return nil, schema.NewError(schema.ErrCodeValidation, "discovery requires a tool node")
	}

	switch node.Subtype {
	case schema.ToolSubtypeMCP:
		if s.catalog == nil {
			return nil, schema.NewError(schema.ErrCodeInvalidState, "no mcp catalog configured")
		}
		return s.catalog.Tools(ctx, mcpConfigFromNode(node), node.ID)

	case schema.ToolSubtypeHTTP:
		def, err := definitionFromConfig(node.Config, node.ID)
		if err != nil {
			return nil, err
		}
		return []Definition{*def}, nil

	case schema.ToolSubtypeFunction:
		if s.functions == nil {
			return nil, schema.NewError(schema.ErrCodeInvalidState, "no function registry configured")
		}
		if name, ok := node.Config["function"].(string); ok && name != "" {
			def, _, err := s.functions.Lookup(name)
			if err != nil {
				return nil, err
			}
			def.NodeID = node.ID
			return []Definition{def}, nil
		}
		defs := s.functions.Definitions()
		for i := range defs {
			defs[i].NodeID = node.ID
		}
		return defs, nil

	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown tool subtype %q", node.Subtype)
	}
}

// Invoke runs one named tool through the node that offers it, validating the
// arguments against the discovered parameter schema first.
func (s *Service) Invoke(ctx context.Context, node *schema.Node, name string, args map[string]any) (any, error) {
	defs, err := s.Discover(ctx, node)
	if err != nil {
		return nil, err
	}

	var def *Definition
	for i := range defs {
		if defs[i].Name == name {
			def = &defs[i]
			break
		}
	}
	if def == nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "tool %q not offered by node %q", name, node.ID)
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := s.validator.ValidateArgs(args, def.Parameters); err != nil {
		return nil, err
	}

	switch node.Subtype {
	case schema.ToolSubtypeMCP:
		return s.catalog.Call(ctx, mcpConfigFromNode(node), name, args)
	case schema.ToolSubtypeHTTP:
		return s.invokeHTTP(ctx, node, args)
	case schema.ToolSubtypeFunction:
		_, handler, err := s.functions.Lookup(name)
		if err != nil {
			return nil, err
		}
		out, err := handler(ctx, args)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeToolExecution, "function tool %q failed", name).WithCause(err)
		}
		return out, nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown tool subtype %q", node.Subtype)
	}
}

// invokeHTTP drives a declarative HTTP tool through the adapter layer. The
// tool-call arguments become the request body.
func (s *Service) invokeHTTP(ctx context.Context, node *schema.Node, args map[string]any) (any, error) {
	if s.adapters == nil {
		return nil, schema.NewError(schema.ErrCodeInvalidState, "no adapter registry configured")
	}
	a, err := s.adapters.Get("http")
	if err != nil {
		return nil, err
	}

	url, _ := node.Config["url"].(string)
	if url == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "http tool node requires a url")
	}
	method, _ := node.Config["method"].(string)
	if method == "" {
		method = http.MethodPost
	}
	params := map[string]any{
		"url":    url,
		"method": method,
		"body":   args,
	}
	if headers, ok := node.Config["headers"].(map[string]any); ok {
		params["headers"] = headers
	}

	var creds adapter.Credentials
	if raw, ok := node.Config["credentials"].(map[string]any); ok {
		creds = make(adapter.Credentials, len(raw))
		for k, v := range raw {
			if str, ok := v.(string); ok {
				creds[k] = str
			}
		}
	}

	outcome := a.Execute(ctx, "request", params, creds)
	if !outcome.Success {
		return nil, schema.NewErrorf(schema.ErrCodeToolExecution, "http tool call failed with status %d: %s", outcome.StatusCode, outcome.Error)
	}
	return outcome.Data, nil
}

// mcpConfigFromNode extracts the server connection settings from node config.
func mcpConfigFromNode(node *schema.Node) MCPServerConfig {
	cfg := MCPServerConfig{Transport: "http"}
	if v, ok := node.Config["server_name"].(string); ok {
		cfg.Name = v
	}
	if v, ok := node.Config["transport"].(string); ok && v != "" {
		cfg.Transport = v
	}
	if v, ok := node.Config["server_url"].(string); ok {
		cfg.URL = v
	}
	if v, ok := node.Config["command"].(string); ok {
		cfg.Command = v
	}
	cfg.Args = stringSlice(node.Config["args"])
	cfg.Env = stringSlice(node.Config["env"])
	return cfg
}

func stringSlice(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

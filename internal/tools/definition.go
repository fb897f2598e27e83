// Package tools provides tool discovery and invocation for TOOL nodes: MCP
// servers, declarative HTTP tools, and in-process function tools all surface
// through one Definition shape that the agent orchestrator can translate into
// a model's native function-calling format.
package tools

import "github.com/rendis/nodeflow/pkg/schema"

// Definition describes one callable tool: its name, a human-readable
// description, and a JSON Schema for its parameters.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	// NodeID is the tool node the definition was discovered from. The
	// orchestrator prefers it when several nodes offer the same tool name.
	NodeID string `json:"node_id,omitempty"`
}

// emptyObjectSchema is the parameter schema for tools that take no arguments.
func emptyObjectSchema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

func definitionFromConfig(cfg map[string]any, nodeID string) (*Definition, error) {
	name, _ := cfg["tool_name"].(string)
	if name == "" {
		name, _ = cfg["name"].(string)
	}
	if name == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "tool node requires a tool_name")
	}

	def := &Definition{Name: name, NodeID: nodeID}
	if desc, ok := cfg["description"].(string); ok {
		def.Description = desc
	}
	if params, ok := cfg["parameters"].(map[string]any); ok {
		def.Parameters = params
	} else {
		def.Parameters = emptyObjectSchema()
	}
	return def, nil
}

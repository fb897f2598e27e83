package tools

import (
	"context"
	"sort"
	"sync"

	"github.com/rendis/nodeflow/pkg/schema"
)

// FunctionHandler is an in-process tool implementation.
type FunctionHandler func(ctx context.Context, args map[string]any) (any, error)

// FunctionRegistry holds process-local tools registered at startup. FUNCTION
// subtype tool nodes resolve against it by name.
type FunctionRegistry struct {
	mu        sync.RWMutex
	functions map[string]functionTool
}

type functionTool struct {
	def     Definition
	handler FunctionHandler
}

// NewFunctionRegistry creates an empty FunctionRegistry.
func NewFunctionRegistry() *FunctionRegistry {
	return &FunctionRegistry{functions: make(map[string]functionTool)}
}

// Register adds a function tool. Returns an error on duplicate name.
func (r *FunctionRegistry) Register(def Definition, handler FunctionHandler) error {
	if def.Name == "" {
		return schema.NewError(schema.ErrCodeValidation, "function tool name is empty")
	}
	if handler == nil {
		return schema.NewError(schema.ErrCodeValidation, "function tool handler is nil")
	}
	if def.Parameters == nil {
		def.Parameters = emptyObjectSchema()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.functions[def.Name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "function tool %q already registered", def.Name)
	}
	r.functions[def.Name] = functionTool{def: def, handler: handler}
	return nil
}

// Definitions lists registered tools sorted by name.
func (r *FunctionRegistry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Definition, 0, len(r.functions))
	for _, ft := range r.functions {
		out = append(out, ft.def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup finds a tool by name.
func (r *FunctionRegistry) Lookup(name string) (Definition, FunctionHandler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ft, ok := r.functions[name]
	if !ok {
		return Definition{}, nil, schema.NewErrorf(schema.ErrCodeNotFound, "function tool %q not registered", name)
	}
	return ft.def, ft.handler, nil
}

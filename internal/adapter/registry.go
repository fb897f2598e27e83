package adapter

import (
	"sort"
	"strings"
	"sync"

	"github.com/rendis/nodeflow/pkg/schema"
)

// Registry is the thread-safe lookup of integration adapters by name.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
	}
}

// Register adds an adapter. Returns an error on duplicate name.
func (r *Registry) Register(a Adapter) error {
	if a == nil {
		return schema.NewError(schema.ErrCodeValidation, "adapter is nil")
	}
	name := strings.ToLower(a.Name())
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "adapter name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.adapters[name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "adapter %q already registered", name)
	}
	r.adapters[name] = a
	return nil
}

// Get retrieves an adapter by name (case-insensitive).
func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[strings.ToLower(name)]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "adapter %q not registered", name)
	}
	return a, nil
}

// Names lists registered adapter names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

package runner

import (
	"log/slog"
	"sync"

	"github.com/rendis/nodeflow/pkg/schema"
)

type kindKey struct {
	nodeType schema.NodeType
	subtype  string
}

// Registry is the thread-safe dispatch table mapping (type, subtype) to a
// Runner. Subtype validity is enforced at registration and resolution; a
// valid kind with no registered runner resolves to the passthrough runner so
// partially deployed workflows degrade to data forwarding instead of failing.
type Registry struct {
	mu      sync.RWMutex
	runners map[kindKey]Runner
	logger  *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		runners: make(map[kindKey]Runner),
		logger:  logger,
	}
}

// Register adds a runner to the registry. Returns an error on an unknown
// subtype or a duplicate registration.
func (r *Registry) Register(rn Runner) error {
	if rn == nil {
		return schema.NewError(schema.ErrCodeValidation, "runner is nil")
	}
	key := kindKey{nodeType: rn.Type(), subtype: rn.Subtype()}
	if err := schema.ValidateNode(&schema.Node{ID: "-", Type: key.nodeType, Subtype: key.subtype}); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.runners[key]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict,
			"runner for %s/%s already registered", key.nodeType, key.subtype)
	}

	r.runners[key] = rn
	return nil
}

// Resolve returns the runner for a node. The node must pass subtype
// validation; a valid kind without a registered runner falls back to
// passthrough, logged once per resolution so the gap is visible.
func (r *Registry) Resolve(node *schema.Node) (Runner, error) {
	if err := schema.ValidateNode(node); err != nil {
		return nil, err
	}

	r.mu.RLock()
	rn, ok := r.runners[kindKey{nodeType: node.Type, subtype: node.Subtype}]
	r.mu.RUnlock()

	if ok {
		return rn, nil
	}

	r.logger.Warn("no runner registered, using passthrough",
		slog.String("node_id", node.ID),
		slog.String("type", string(node.Type)),
		slog.String("subtype", node.Subtype))
	return &Passthrough{nodeType: node.Type, subtype: node.Subtype}, nil
}

// Has checks whether a concrete runner is registered for a kind.
func (r *Registry) Has(nodeType schema.NodeType, subtype string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.runners[kindKey{nodeType: nodeType, subtype: subtype}]
	return ok
}

// Count returns the number of registered runners.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.runners)
}

package flow

import (
	"context"
	"sort"
	"strings"

	"github.com/rendis/nodeflow/internal/expressions"
	"github.com/rendis/nodeflow/internal/runner"
	"github.com/rendis/nodeflow/pkg/schema"
)

// Merge is the fan-in runner: every non-internal input port's value is
// collected into one ordered list on the merged port. Ports are visited in
// sorted name order so the result is deterministic regardless of map
// iteration. The element count lands in execution metadata.
type Merge struct {
	flowKind
}

// NewMerge creates the MERGE runner.
func NewMerge() *Merge {
	return &Merge{flowKind: flowKind{subtype: schema.FlowSubtypeMerge}}
}

func (r *Merge) Execute(_ context.Context, ec *runner.ExecutionContext) (*runner.Result, error) {
	names := make([]string, 0, len(ec.Inputs))
	for name := range ec.Inputs {
		if internalPort(name) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	merged := make([]any, 0, len(names))
	for _, name := range names {
		merged = append(merged, ec.Inputs[name])
	}

	ec.SetMeta("merged_count", len(merged))
	return &runner.Result{Ports: schema.Ports{schema.PortMerged: merged}}, nil
}

// internalPort reports whether a port name belongs to engine plumbing rather
// than user data: the error port and underscore-prefixed ports.
func internalPort(name string) bool {
	return name == schema.PortError || strings.HasPrefix(name, "_")
}

// Split is the fan-out runner. Two rule styles, checked in order:
//
//   - "paths": map of output port to a dot-path; a truthy value at the path
//     routes the whole input to that port.
//   - "keys": map of output port to a key; the value under that key in a
//     mapping input is routed to the port.
//
// When no rule fires the input passes through on main.
type Split struct {
	flowKind
}

// NewSplit creates the SPLIT runner.
func NewSplit() *Split {
	return &Split{flowKind: flowKind{subtype: schema.FlowSubtypeSplit}}
}

func (r *Split) Execute(_ context.Context, ec *runner.ExecutionContext) (*runner.Result, error) {
	config := ec.Config()
	input := ec.MainInput()
	ports := schema.Ports{}

	if paths, ok := config["paths"].(map[string]any); ok {
		for port, p := range paths {
			path, _ := p.(string)
			if path == "" {
				continue
			}
			if expressions.Truthy(expressions.ResolvePath(input, path)) {
				ports[port] = input
			}
		}
	}

	if keys, ok := config["keys"].(map[string]any); ok {
		if m, isMap := input.(map[string]any); isMap {
			for port, k := range keys {
				key, _ := k.(string)
				if key == "" {
					continue
				}
				if v, present := m[key]; present {
					ports[port] = v
				}
			}
		}
	}

	if len(ports) == 0 {
		ports[schema.PortMain] = input
	}
	return &runner.Result{Ports: ports}, nil
}

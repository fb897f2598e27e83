package runner

import (
	"context"

	"github.com/rendis/nodeflow/pkg/schema"
)

// Passthrough forwards the main input unchanged. It backs every valid kind
// that has no concrete runner registered, so routing downstream of an
// unimplemented node keeps working.
type Passthrough struct {
	nodeType schema.NodeType
	subtype  string
}

// NewPassthrough creates a passthrough runner for an arbitrary kind.
func NewPassthrough(nodeType schema.NodeType, subtype string) *Passthrough {
	return &Passthrough{nodeType: nodeType, subtype: subtype}
}

func (p *Passthrough) Type() schema.NodeType { return p.nodeType }
func (p *Passthrough) Subtype() string       { return p.subtype }

func (p *Passthrough) Execute(_ context.Context, ec *ExecutionContext) (*Result, error) {
	return MainResult(ec.MainInput()), nil
}

var _ Runner = (*Passthrough)(nil)

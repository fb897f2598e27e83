package runner

import (
	"context"
	"testing"

	"github.com/rendis/nodeflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRunner struct {
	nodeType schema.NodeType
	subtype  string
	result   *Result
	err      error
}

func (s *stubRunner) Type() schema.NodeType { return s.nodeType }
func (s *stubRunner) Subtype() string       { return s.subtype }
func (s *stubRunner) Execute(context.Context, *ExecutionContext) (*Result, error) {
	return s.result, s.err
}

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry(nil)

	ifRunner := &stubRunner{nodeType: schema.NodeTypeFlow, subtype: schema.FlowSubtypeIf}
	require.NoError(t, r.Register(ifRunner))
	assert.True(t, r.Has(schema.NodeTypeFlow, schema.FlowSubtypeIf))
	assert.Equal(t, 1, r.Count())

	t.Run("duplicate", func(t *testing.T) {
		err := r.Register(&stubRunner{nodeType: schema.NodeTypeFlow, subtype: schema.FlowSubtypeIf})
		require.Error(t, err)
		var fe *schema.FlowError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, schema.ErrCodeConflict, fe.Code)
	})

	t.Run("nil runner", func(t *testing.T) {
		require.Error(t, r.Register(nil))
	})

	t.Run("unknown subtype", func(t *testing.T) {
		err := r.Register(&stubRunner{nodeType: schema.NodeTypeFlow, subtype: "GOTO"})
		require.Error(t, err)
		var fe *schema.FlowError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, schema.ErrCodeValidation, fe.Code)
	})
}

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry(nil)
	want := &stubRunner{nodeType: schema.NodeTypeFlow, subtype: schema.FlowSubtypeSwitch}
	require.NoError(t, r.Register(want))

	t.Run("registered kind", func(t *testing.T) {
		got, err := r.Resolve(&schema.Node{ID: "n1", Type: schema.NodeTypeFlow, Subtype: schema.FlowSubtypeSwitch})
		require.NoError(t, err)
		assert.Same(t, want, got)
	})

	t.Run("valid kind without runner falls back to passthrough", func(t *testing.T) {
		got, err := r.Resolve(&schema.Node{ID: "n2", Type: schema.NodeTypeFlow, Subtype: schema.FlowSubtypeMerge})
		require.NoError(t, err)
		_, isPassthrough := got.(*Passthrough)
		assert.True(t, isPassthrough)
	})

	t.Run("unknown subtype is rejected", func(t *testing.T) {
		_, err := r.Resolve(&schema.Node{ID: "n3", Type: schema.NodeTypeFlow, Subtype: "TELEPORT"})
		require.Error(t, err)
	})
}

func TestPassthroughEchoesMainInput(t *testing.T) {
	p := NewPassthrough(schema.NodeTypeAction, schema.ActionSubtypeTransform)

	input := map[string]any{"k": "v"}
	res, err := p.Execute(context.Background(), &ExecutionContext{
		Node:   &schema.Node{ID: "n1", Type: schema.NodeTypeAction, Subtype: schema.ActionSubtypeTransform},
		Inputs: map[string]any{schema.PortMain: input},
	})
	require.NoError(t, err)
	require.Nil(t, res.Pause)
	assert.Equal(t, input, res.Ports[schema.PortMain])
}

func TestExecutionContextHelpers(t *testing.T) {
	ec := &ExecutionContext{
		Node: &schema.Node{
			ID:      "n1",
			Type:    schema.NodeTypeFlow,
			Subtype: schema.FlowSubtypeIf,
			Config:  map[string]any{"condition": "$json.ok"},
		},
		Inputs:  map[string]any{schema.PortMain: map[string]any{"ok": true}},
		Trigger: &schema.Trigger{Type: "webhook", UserID: "u1"},
	}

	assert.Equal(t, map[string]any{"ok": true}, ec.MainInput())
	assert.Equal(t, "$json.ok", ec.Config()["condition"])

	ctx := ec.ExprContext()
	assert.Equal(t, "webhook", ctx.Trigger["type"])
	assert.Equal(t, "u1", ctx.Trigger["user_id"])

	_, ok := ec.Meta("counter")
	assert.False(t, ok)
	ec.SetMeta("counter", 3)
	v, ok := ec.Meta("counter")
	require.True(t, ok)
	assert.Equal(t, 3, v)

	var nilEC *ExecutionContext
	assert.Nil(t, nilEC.MainInput())
	assert.NotNil(t, nilEC.Config())
	assert.NotNil(t, nilEC.ExprContext())
}

package flow

import (
	"context"
	"testing"

	"github.com/rendis/nodeflow/internal/runner"
	"github.com/rendis/nodeflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flowEC(subtype string, config map[string]any, input any) *runner.ExecutionContext {
	return &runner.ExecutionContext{
		Node: &schema.Node{
			ID:      "node-under-test",
			Type:    schema.NodeTypeFlow,
			Subtype: subtype,
			Config:  config,
		},
		Inputs:      map[string]any{schema.PortMain: input},
		ExecutionID: "exec-1",
	}
}

func testEvaluator() *Evaluator {
	return NewEvaluator(nil, nil)
}

func TestIfRoutesExactlyOneBranch(t *testing.T) {
	r := NewIf(testEvaluator())

	tests := []struct {
		name      string
		condition string
		input     any
		wantPort  string
		otherPort string
	}{
		{"true branch", "$json.age >= 18", map[string]any{"age": float64(30)}, schema.PortTrue, schema.PortFalse},
		{"false branch", "$json.age >= 18", map[string]any{"age": float64(12)}, schema.PortFalse, schema.PortTrue},
		{"missing field is false", "$json.nope", map[string]any{}, schema.PortFalse, schema.PortTrue},
		{"empty condition is false", "", map[string]any{"age": float64(30)}, schema.PortFalse, schema.PortTrue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := r.Execute(context.Background(), flowEC(schema.FlowSubtypeIf,
				map[string]any{"condition_expression": tt.condition}, tt.input))
			require.NoError(t, err)
			require.Nil(t, res.Pause)

			assert.True(t, res.Ports.Has(tt.wantPort))
			assert.False(t, res.Ports.Has(tt.otherPort))
			assert.Equal(t, tt.input, res.Ports[schema.PortMain], "main always carries the input")
			assert.Equal(t, tt.input, res.Ports[tt.wantPort])
		})
	}
}

func TestSwitchRoutesMatchingCase(t *testing.T) {
	r := NewSwitch(testEvaluator())
	config := map[string]any{
		"switch_expression": "$json.kind",
		"cases": []any{
			map[string]any{"value": "a", "case_id": "A"},
			map[string]any{"value": "b", "case_id": "B"},
		},
		"default_case": "default",
	}

	t.Run("case match", func(t *testing.T) {
		input := map[string]any{"kind": "b"}
		res, err := r.Execute(context.Background(), flowEC(schema.FlowSubtypeSwitch, config, input))
		require.NoError(t, err)

		assert.True(t, res.Ports.Has("B"))
		assert.True(t, res.Ports.Has(schema.PortMain))
		assert.False(t, res.Ports.Has("A"))
		assert.False(t, res.Ports.Has(schema.PortDefault))
		assert.Equal(t, input, res.Ports["B"])
	})

	t.Run("no match routes to default", func(t *testing.T) {
		res, err := r.Execute(context.Background(), flowEC(schema.FlowSubtypeSwitch, config,
			map[string]any{"kind": "z"}))
		require.NoError(t, err)

		assert.True(t, res.Ports.Has(schema.PortDefault))
		assert.False(t, res.Ports.Has("A"))
		assert.False(t, res.Ports.Has("B"))
	})

	t.Run("numeric values match loosely", func(t *testing.T) {
		res, err := r.Execute(context.Background(), flowEC(schema.FlowSubtypeSwitch, map[string]any{
			"switch_expression": "$json.n",
			"cases": []any{
				map[string]any{"value": "5", "case_id": "FIVE"},
			},
		}, map[string]any{"n": float64(5)}))
		require.NoError(t, err)
		assert.True(t, res.Ports.Has("FIVE"))
	})

	t.Run("multiple equal cases all fire", func(t *testing.T) {
		res, err := r.Execute(context.Background(), flowEC(schema.FlowSubtypeSwitch, map[string]any{
			"switch_expression": "$json.kind",
			"cases": []any{
				map[string]any{"value": "a", "case_id": "A1"},
				map[string]any{"value": "a", "case_id": "A2"},
			},
		}, map[string]any{"kind": "a"}))
		require.NoError(t, err)
		assert.True(t, res.Ports.Has("A1"))
		assert.True(t, res.Ports.Has("A2"))
	})
}

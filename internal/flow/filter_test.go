package flow

import (
	"context"
	"testing"

	"github.com/rendis/nodeflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Exactly one of main/filtered carries data on every activation.
func TestFilterExactlyOnePort(t *testing.T) {
	r := NewFilter(testEvaluator())

	tests := []struct {
		name      string
		predicate string
		input     any
		wantMain  bool
	}{
		{"predicate holds", "$json.score >= 5", map[string]any{"score": float64(9)}, true},
		{"predicate fails", "$json.score >= 5", map[string]any{"score": float64(2)}, false},
		{"missing field", "$json.nope", map[string]any{}, false},
		{"empty predicate", "", map[string]any{"score": float64(9)}, false},
		{"nil input", "$json.score >= 5", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := r.Execute(context.Background(), flowEC(schema.FlowSubtypeFilter,
				map[string]any{"filter_expression": tt.predicate}, tt.input))
			require.NoError(t, err)

			assert.Equal(t, tt.wantMain, res.Ports.Has(schema.PortMain))
			assert.Equal(t, !tt.wantMain, res.Ports.Has(schema.PortFiltered))
			assert.Len(t, res.Ports, 1)

			if !tt.wantMain {
				assert.NotNil(t, res.Ports[schema.PortFiltered], "filtered value is never null")
			}
		})
	}
}

func TestSortTopLevelList(t *testing.T) {
	r := NewSort()
	input := []any{float64(3), float64(1), float64(2)}

	res, err := r.Execute(context.Background(), flowEC(schema.FlowSubtypeSort, map[string]any{}, input))
	require.NoError(t, err)
	assert.Equal(t, []any{float64(1), float64(2), float64(3)}, res.Ports[schema.PortMain])

	// Input untouched.
	assert.Equal(t, []any{float64(3), float64(1), float64(2)}, input)
}

func TestSortByKeyPath(t *testing.T) {
	r := NewSort()
	items := []any{
		map[string]any{"user": map[string]any{"age": float64(40)}},
		map[string]any{"user": map[string]any{"age": float64(25)}},
		map[string]any{"user": map[string]any{}},
	}

	res, err := r.Execute(context.Background(), flowEC(schema.FlowSubtypeSort,
		map[string]any{"sort_key": "user.age"}, items))
	require.NoError(t, err)

	out := res.Ports[schema.PortMain].([]any)
	assert.Equal(t, float64(25), out[0].(map[string]any)["user"].(map[string]any)["age"])
	assert.Equal(t, float64(40), out[1].(map[string]any)["user"].(map[string]any)["age"])
	// Missing keys sort last.
	assert.NotContains(t, out[2].(map[string]any)["user"], "age")
}

func TestSortDescending(t *testing.T) {
	r := NewSort()
	res, err := r.Execute(context.Background(), flowEC(schema.FlowSubtypeSort,
		map[string]any{"descending": true}, []any{"b", "c", "a"}))
	require.NoError(t, err)
	assert.Equal(t, []any{"c", "b", "a"}, res.Ports[schema.PortMain])
}

func TestSortItemsKey(t *testing.T) {
	r := NewSort()
	input := map[string]any{
		"items": []any{float64(2), float64(1)},
		"extra": "kept",
	}

	res, err := r.Execute(context.Background(), flowEC(schema.FlowSubtypeSort, map[string]any{}, input))
	require.NoError(t, err)

	out := res.Ports[schema.PortMain].(map[string]any)
	assert.Equal(t, []any{float64(1), float64(2)}, out["items"])
	assert.Equal(t, "kept", out["extra"])
	assert.Equal(t, []any{float64(2), float64(1)}, input["items"], "input untouched")
}

func TestSortNonListPassesThrough(t *testing.T) {
	r := NewSort()
	res, err := r.Execute(context.Background(), flowEC(schema.FlowSubtypeSort, map[string]any{}, "scalar"))
	require.NoError(t, err)
	assert.Equal(t, "scalar", res.Ports[schema.PortMain])
}

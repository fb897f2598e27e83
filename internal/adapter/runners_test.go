package adapter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rendis/nodeflow/internal/expressions"
	"github.com/rendis/nodeflow/internal/runner"
	"github.com/rendis/nodeflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubAdapter records the call and returns a canned outcome.
type stubAdapter struct {
	name    string
	outcome *Outcome

	gotOperation string
	gotParams    map[string]any
	gotCreds     Credentials
}

func (s *stubAdapter) Name() string         { return s.name }
func (s *stubAdapter) Operations() []string { return []string{"send"} }
func (s *stubAdapter) Execute(_ context.Context, operation string, params map[string]any, creds Credentials) *Outcome {
	s.gotOperation = operation
	s.gotParams = params
	s.gotCreds = creds
	return s.outcome
}

func externalEC(subtype string, config map[string]any, input any) *runner.ExecutionContext {
	return &runner.ExecutionContext{
		Node: &schema.Node{
			ID:      "ext-1",
			Type:    schema.NodeTypeExternalAction,
			Subtype: subtype,
			Config:  config,
		},
		Inputs:      map[string]any{schema.PortMain: input},
		ExecutionID: "exec-1",
		UserID:      "user-1",
	}
}

func findRunner(t *testing.T, runners []runner.Runner, subtype string) runner.Runner {
	t.Helper()
	for _, r := range runners {
		if r.Subtype() == subtype {
			return r
		}
	}
	t.Fatalf("no runner for subtype %s", subtype)
	return nil
}

func TestExternalRunnerDelegatesToAdapter(t *testing.T) {
	reg := NewRegistry()
	stub := &stubAdapter{
		name:    "slack",
		outcome: Succeed(map[string]any{"ts": "123"}, http.StatusOK),
	}
	require.NoError(t, reg.Register(stub))

	runners := NewExternalRunners(reg, nil)
	slack := findRunner(t, runners, schema.ExternalSubtypeSlack)

	ec := externalEC(schema.ExternalSubtypeSlack, map[string]any{
		"operation": "send",
		"parameters": map[string]any{
			"channel": "#ops",
			"text":    "deploy {{ $json.version }} done",
		},
		"credentials": map[string]any{"token": "xoxb-1"},
	}, map[string]any{"version": "1.4.0"})

	res, err := slack.Execute(context.Background(), ec)
	require.NoError(t, err)

	assert.Equal(t, "send", stub.gotOperation)
	assert.Equal(t, "deploy 1.4.0 done", stub.gotParams["text"], "parameters are templated")
	assert.Equal(t, "xoxb-1", stub.gotCreds["token"])
	assert.Equal(t, map[string]any{"ts": "123"}, res.Ports[schema.PortMain])
}

func TestExternalRunnerCredentialResolver(t *testing.T) {
	reg := NewRegistry()
	stub := &stubAdapter{name: "github", outcome: Succeed(nil, http.StatusOK)}
	require.NoError(t, reg.Register(stub))

	resolver := func(_ context.Context, userID, service string) (Credentials, error) {
		assert.Equal(t, "user-1", userID)
		assert.Equal(t, "github", service)
		return Credentials{"token": "gh-token"}, nil
	}

	gh := findRunner(t, NewExternalRunners(reg, resolver), schema.ExternalSubtypeGitHub)
	_, err := gh.Execute(context.Background(), externalEC(schema.ExternalSubtypeGitHub,
		map[string]any{"operation": "send"}, nil))
	require.NoError(t, err)
	assert.Equal(t, "gh-token", stub.gotCreds["token"])
}

func TestExternalRunnerFailureRoutesToErrorPort(t *testing.T) {
	reg := NewRegistry()
	stub := &stubAdapter{name: "notion", outcome: FailAuth("no connected notion account")}
	require.NoError(t, reg.Register(stub))

	notion := findRunner(t, NewExternalRunners(reg, nil), schema.ExternalSubtypeNotion)
	res, err := notion.Execute(context.Background(), externalEC(schema.ExternalSubtypeNotion,
		map[string]any{"operation": "send"}, nil))
	require.NoError(t, err, "adapter failures never fail the node")

	require.True(t, res.Ports.Has(schema.PortError))
	payload := res.Ports[schema.PortError].(map[string]any)
	assert.Equal(t, schema.ErrCodeAuthentication, payload["code"])
	assert.Equal(t, "notion.send", payload["operation"])
	assert.False(t, res.Ports.Has(schema.PortMain))
}

func TestExternalRunnerFallsBackToHTTPAdapter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"sent":true}`))
	}))
	defer srv.Close()

	reg := NewRegistry()
	require.NoError(t, reg.Register(NewHTTPAdapter(HTTPConfig{})))

	discord := findRunner(t, NewExternalRunners(reg, nil), schema.ExternalSubtypeDiscord)
	res, err := discord.Execute(context.Background(), externalEC(schema.ExternalSubtypeDiscord,
		map[string]any{
			"operation":  "post",
			"parameters": map[string]any{"url": srv.URL},
		}, nil))
	require.NoError(t, err)

	data := res.Ports[schema.PortMain].(map[string]any)
	assert.Equal(t, map[string]any{"sent": true}, data["body"])
}

func TestActionTransform(t *testing.T) {
	runners := NewActionRunners(NewRegistry(), nil)
	transform := findRunner(t, runners, schema.ActionSubtypeTransform)

	ec := &runner.ExecutionContext{
		Node: &schema.Node{
			ID:      "a1",
			Type:    schema.NodeTypeAction,
			Subtype: schema.ActionSubtypeTransform,
			Config: map[string]any{
				"output": map[string]any{
					"greeting": "hello {{ $json.name }}",
					"upper":    "{{ upper($json.name) }}",
				},
			},
		},
		Inputs: map[string]any{schema.PortMain: map[string]any{"name": "ada"}},
	}

	res, err := transform.Execute(context.Background(), ec)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"greeting": "hello ada",
		"upper":    "ADA",
	}, res.Ports[schema.PortMain])
}

func TestActionTransformWithoutTemplatePassesThrough(t *testing.T) {
	transform := findRunner(t, NewActionRunners(NewRegistry(), nil), schema.ActionSubtypeTransform)
	ec := &runner.ExecutionContext{
		Node:   &schema.Node{ID: "a1", Type: schema.NodeTypeAction, Subtype: schema.ActionSubtypeTransform},
		Inputs: map[string]any{schema.PortMain: "payload"},
	}

	res, err := transform.Execute(context.Background(), ec)
	require.NoError(t, err)
	assert.Equal(t, "payload", res.Ports[schema.PortMain])
}

func TestActionRunCode(t *testing.T) {
	engines := map[string]expressions.Engine{
		"jq": expressions.NewGoJQEngine(),
	}
	runCode := findRunner(t, NewActionRunners(NewRegistry(), engines), schema.ActionSubtypeRunCode)

	ec := &runner.ExecutionContext{
		Node: &schema.Node{
			ID:      "a2",
			Type:    schema.NodeTypeAction,
			Subtype: schema.ActionSubtypeRunCode,
			Config:  map[string]any{"script": ".json.values | add"},
		},
		Inputs: map[string]any{schema.PortMain: map[string]any{
			"values": []any{float64(1), float64(2), float64(3)},
		}},
	}

	res, err := runCode.Execute(context.Background(), ec)
	require.NoError(t, err)
	assert.EqualValues(t, 6, res.Ports[schema.PortMain])
}

func TestActionRunCodeValidation(t *testing.T) {
	runCode := findRunner(t, NewActionRunners(NewRegistry(), nil), schema.ActionSubtypeRunCode)

	t.Run("missing script", func(t *testing.T) {
		ec := &runner.ExecutionContext{
			Node:   &schema.Node{ID: "a", Type: schema.NodeTypeAction, Subtype: schema.ActionSubtypeRunCode},
			Inputs: map[string]any{},
		}
		res, err := runCode.Execute(context.Background(), ec)
		require.NoError(t, err)
		require.True(t, res.Ports.Has(schema.PortError))
		payload := res.Ports[schema.PortError].(map[string]any)
		assert.Equal(t, schema.ErrCodeValidation, payload["code"])
	})

	t.Run("unknown engine", func(t *testing.T) {
		ec := &runner.ExecutionContext{
			Node: &schema.Node{
				ID: "a", Type: schema.NodeTypeAction, Subtype: schema.ActionSubtypeRunCode,
				Config: map[string]any{"script": ".", "engine": "lua"},
			},
			Inputs: map[string]any{},
		}
		res, err := runCode.Execute(context.Background(), ec)
		require.NoError(t, err)
		assert.True(t, res.Ports.Has(schema.PortError))
	})
}

package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/rendis/nodeflow/internal/adapter"
	"github.com/rendis/nodeflow/internal/tools"
	"github.com/rendis/nodeflow/pkg/schema"
)

func TestOpenAIAdapterRoundTrip(t *testing.T) {
	var captured openAIRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "chatcmpl-1",
			"choices": []map[string]any{{
				"message": map[string]any{
					"role":    "assistant",
					"content": "",
					"tool_calls": []map[string]any{{
						"id":   "call_9",
						"type": "function",
						"function": map[string]any{
							"name":      "lookup",
							"arguments": `{"id":"42"}`,
						},
					}},
				},
				"finish_reason": "tool_calls",
			}},
			"usage": map[string]any{"prompt_tokens": 11, "completion_tokens": 6},
		})
	}))
	defer server.Close()

	a := NewOpenAIAdapter(server.Client(), nil)
	a.endpoint = server.URL

	temp := 0.2
	reply, err := a.Generate(context.Background(), &Request{
		Model:       "gpt-4o-mini",
		System:      "be brief",
		Temperature: &temp,
		Messages:    []Message{{Role: RoleUser, Content: "find 42"}},
		Tools:       []tools.Definition{{Name: "lookup", Description: "Look up a record"}},
	}, adapter.Credentials{"api_key": "sk-test"})
	require.NoError(t, err)

	// Request wire shape.
	require.Len(t, captured.Messages, 2)
	assert.Equal(t, "system", captured.Messages[0].Role)
	assert.Equal(t, "user", captured.Messages[1].Role)
	require.Len(t, captured.Tools, 1)
	assert.Equal(t, "function", captured.Tools[0].Type)
	assert.Equal(t, "lookup", captured.Tools[0].Function.Name)
	require.NotNil(t, captured.Temperature)

	// Reply decoding.
	require.Len(t, reply.ToolCalls, 1)
	assert.Equal(t, "call_9", reply.ToolCalls[0].ID)
	assert.Equal(t, map[string]any{"id": "42"}, reply.ToolCalls[0].Arguments)
	assert.Equal(t, 11, reply.Usage.InputTokens)
	assert.Equal(t, 6, reply.Usage.OutputTokens)
}

func TestOpenAIAdapterReasoningModelDropsTemperature(t *testing.T) {
	a := NewOpenAIAdapter(nil, nil)
	temp := 0.9
	wire := a.formatRequest(&Request{Model: "o1-mini", Temperature: &temp})
	assert.Nil(t, wire.Temperature)

	wire = a.formatRequest(&Request{Model: "gpt-4o-mini", Temperature: &temp})
	require.NotNil(t, wire.Temperature)
	assert.Equal(t, 0.9, *wire.Temperature)
}

func TestOpenAIAdapterMissingKey(t *testing.T) {
	a := NewOpenAIAdapter(nil, nil)
	_, err := a.Generate(context.Background(), &Request{}, nil)
	require.Error(t, err)
	var ferr *schema.FlowError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, schema.ErrCodeAuthentication, ferr.Code)
}

func TestOpenAIAdapterAuthRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid key"}}`))
	}))
	defer server.Close()

	a := NewOpenAIAdapter(server.Client(), nil)
	a.endpoint = server.URL

	_, err := a.Generate(context.Background(), &Request{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	}, adapter.Credentials{"api_key": "sk-bad"})
	require.Error(t, err)
	var ferr *schema.FlowError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, schema.ErrCodeAuthentication, ferr.Code)
	// The key itself never appears in the error.
	assert.NotContains(t, err.Error(), "sk-bad")
}

func TestAnthropicAdapterRoundTrip(t *testing.T) {
	var captured anthropicRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sk-ant", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": "checking"},
				{"type": "tool_use", "id": "toolu_1", "name": "lookup", "input": map[string]any{"id": "42"}},
			},
			"stop_reason": "tool_use",
			"usage":       map[string]any{"input_tokens": 20, "output_tokens": 9},
		})
	}))
	defer server.Close()

	a := NewAnthropicAdapter(server.Client(), nil)
	a.endpoint = server.URL

	reply, err := a.Generate(context.Background(), &Request{
		System: "be brief",
		Messages: []Message{
			{Role: RoleUser, Content: "find 42"},
			{Role: RoleAssistant, Content: "on it", ToolCalls: []ToolCall{{ID: "toolu_0", Name: "lookup", Arguments: map[string]any{"id": "41"}}}},
			{Role: RoleTool, Content: `{"found":false}`, ToolCallID: "toolu_0", ToolName: "lookup"},
		},
		Tools: []tools.Definition{{Name: "lookup"}},
	}, adapter.Credentials{"api_key": "sk-ant"})
	require.NoError(t, err)

	// System travels top-level; tool results as user tool_result blocks.
	assert.Equal(t, "be brief", captured.System)
	require.Len(t, captured.Messages, 3)
	assert.Equal(t, "assistant", captured.Messages[1].Role)
	require.Len(t, captured.Messages[1].Content, 2)
	assert.Equal(t, "tool_use", captured.Messages[1].Content[1].Type)
	assert.Equal(t, "user", captured.Messages[2].Role)
	assert.Equal(t, "tool_result", captured.Messages[2].Content[0].Type)
	assert.Equal(t, "toolu_0", captured.Messages[2].Content[0].ToolUseID)

	assert.Equal(t, "checking", reply.Content)
	require.Len(t, reply.ToolCalls, 1)
	assert.Equal(t, "toolu_1", reply.ToolCalls[0].ID)
	assert.Equal(t, 20, reply.Usage.InputTokens)
}

func TestAnthropicAdapterClampsTemperature(t *testing.T) {
	a := NewAnthropicAdapter(nil, nil)
	temp := 1.7
	wire := a.formatRequest(&Request{Temperature: &temp})
	require.NotNil(t, wire.Temperature)
	assert.Equal(t, 1.0, *wire.Temperature)
}

func TestGoogleAdapterWireConversion(t *testing.T) {
	a := NewGoogleAdapter(nil)

	contents := a.formatRequest(&Request{Messages: []Message{
		{Role: RoleUser, Content: "find 42"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c1", Name: "lookup", Arguments: map[string]any{"id": "42"}}}},
		{Role: RoleTool, Content: `{"found":true}`, ToolCallID: "c1", ToolName: "lookup"},
	}})
	require.Len(t, contents, 3)
	assert.Equal(t, "user", contents[0].Role)
	assert.Equal(t, "model", contents[1].Role)
	require.NotNil(t, contents[1].Parts[0].FunctionCall)
	require.NotNil(t, contents[2].Parts[0].FunctionResponse)
	assert.Equal(t, map[string]any{"found": true}, contents[2].Parts[0].FunctionResponse.Response)

	reply, err := a.parseReply(&genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "done"},
				{FunctionCall: &genai.FunctionCall{Name: "lookup", Args: map[string]any{"id": "42"}}},
			}},
			FinishReason: genai.FinishReasonStop,
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, "done", reply.Content)
	require.Len(t, reply.ToolCalls, 1)
	assert.Equal(t, "lookup", reply.ToolCalls[0].Name)
}

func TestSchemaToGenAI(t *testing.T) {
	out := schemaToGenAI(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id":   map[string]any{"type": "string", "description": "record id"},
			"tags": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		"required": []any{"id"},
	})

	assert.Equal(t, genai.TypeObject, out.Type)
	require.Contains(t, out.Properties, "id")
	assert.Equal(t, genai.TypeString, out.Properties["id"].Type)
	assert.Equal(t, genai.TypeArray, out.Properties["tags"].Type)
	assert.Equal(t, genai.TypeString, out.Properties["tags"].Items.Type)
	assert.Equal(t, []string{"id"}, out.Required)
}

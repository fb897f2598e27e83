package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rendis/nodeflow/internal/adapter"
	"github.com/rendis/nodeflow/internal/tools"
	"github.com/rendis/nodeflow/pkg/schema"
)

const (
	openAIDefaultEndpoint = "https://api.openai.com/v1/chat/completions"
	openAIDefaultModel    = "gpt-4o-mini"
)

var openAIDefaultClient = &http.Client{Timeout: 120 * time.Second}

// openAIReasoningModel reports whether the model only accepts default
// sampling parameters. Requests for these models are normalized with a
// logged override instead of failing.
func openAIReasoningModel(model string) bool {
	return strings.HasPrefix(model, "o1") ||
		strings.HasPrefix(model, "o3") ||
		strings.HasPrefix(model, "gpt-5")
}

// OpenAIAdapter speaks the chat completions wire format.
type OpenAIAdapter struct {
	client   *http.Client
	endpoint string
	logger   *slog.Logger
}

// NewOpenAIAdapter creates an adapter against the public endpoint. A nil
// client uses the package default.
func NewOpenAIAdapter(client *http.Client, logger *slog.Logger) *OpenAIAdapter {
	if client == nil {
		client = openAIDefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIAdapter{client: client, endpoint: openAIDefaultEndpoint, logger: logger}
}

func (a *OpenAIAdapter) Name() string { return "openai" }

// --- wire types ---

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Tools       []openAITool    `json:"tools,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_completion_tokens,omitempty"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openAITool struct {
	Type     string         `json:"type"`
	Function openAIFunction `json:"function"`
}

type openAIFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type openAIToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openAIFunctionCall `json:"function"`
}

type openAIFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAIResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// --- adapter ---

func (a *OpenAIAdapter) Generate(ctx context.Context, req *Request, creds adapter.Credentials) (*Reply, error) {
	apiKey := creds["api_key"]
	if apiKey == "" {
		return nil, schema.NewError(schema.ErrCodeAuthentication,
			"missing OpenAI API key: connect your OpenAI account")
	}

	wire := a.formatRequest(req)
	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("marshal openai request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeTimeout, "openai request failed").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, providerStatusError("openai", resp)
	}

	var result openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode openai response: %w", err)
	}
	return a.parseReply(&result)
}

// formatRequest builds the wire request, normalizing model quirks.
func (a *OpenAIAdapter) formatRequest(req *Request) *openAIRequest {
	model := req.Model
	if model == "" {
		model = openAIDefaultModel
	}

	wire := &openAIRequest{
		Model:       model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if openAIReasoningModel(model) && req.Temperature != nil {
		a.logger.Warn("model only supports default temperature, overriding",
			"model", model, "requested", *req.Temperature)
		wire.Temperature = nil
	}

	if req.System != "" {
		wire.Messages = append(wire.Messages, openAIMessage{Role: "system", Content: req.System})
	}
	for _, msg := range req.Messages {
		m := openAIMessage{Role: string(msg.Role), Content: msg.Content}
		for _, call := range msg.ToolCalls {
			args, _ := json.Marshal(call.Arguments)
			m.ToolCalls = append(m.ToolCalls, openAIToolCall{
				ID:   call.ID,
				Type: "function",
				Function: openAIFunctionCall{
					Name:      call.Name,
					Arguments: string(args),
				},
			})
		}
		if msg.Role == RoleTool {
			m.ToolCallID = msg.ToolCallID
		}
		wire.Messages = append(wire.Messages, m)
	}

	wire.Tools = a.formatTools(req.Tools)
	return wire
}

func (a *OpenAIAdapter) formatTools(defs []tools.Definition) []openAITool {
	out := make([]openAITool, 0, len(defs))
	for _, def := range defs {
		out = append(out, openAITool{
			Type: "function",
			Function: openAIFunction{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			},
		})
	}
	return out
}

func (a *OpenAIAdapter) parseReply(result *openAIResponse) (*Reply, error) {
	if len(result.Choices) == 0 {
		return nil, schema.NewError(schema.ErrCodeExecution, "empty response from openai api")
	}
	choice := result.Choices[0]

	reply := &Reply{
		Content:    choice.Message.Content,
		StopReason: choice.FinishReason,
		Usage: Usage{
			InputTokens:  result.Usage.PromptTokens,
			OutputTokens: result.Usage.CompletionTokens,
		},
	}
	for _, call := range choice.Message.ToolCalls {
		var args map[string]any
		if call.Function.Arguments != "" {
			_ = json.Unmarshal([]byte(call.Function.Arguments), &args)
		}
		reply.ToolCalls = append(reply.ToolCalls, ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: args,
		})
	}
	return reply, nil
}

// providerStatusError converts a non-200 provider response to the matching
// error code. The response body is included for diagnostics; credentials
// never appear in it.
func providerStatusError(provider string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	detail := strings.TrimSpace(string(raw))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return schema.NewErrorf(schema.ErrCodeAuthentication,
			"%s rejected the credentials: connect your %s account", provider, provider).
			WithDetails(map[string]any{"status_code": resp.StatusCode})
	case resp.StatusCode == http.StatusTooManyRequests:
		return schema.NewErrorf(schema.ErrCodeRateLimit, "%s rate limit exceeded", provider).
			WithDetails(map[string]any{
				"status_code": resp.StatusCode,
				"retry_after": resp.Header.Get("Retry-After"),
			})
	case resp.StatusCode >= 500:
		return schema.NewErrorf(schema.ErrCodeExecution, "%s server error: %s", provider, detail).
			WithDetails(map[string]any{"status_code": resp.StatusCode})
	default:
		return schema.NewErrorf(schema.ErrCodeExecution, "%s returned status %d: %s", provider, resp.StatusCode, detail).
			WithDetails(map[string]any{"status_code": resp.StatusCode})
	}
}

package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/rendis/nodeflow/internal/adapter"
	"github.com/rendis/nodeflow/internal/tools"
	"github.com/rendis/nodeflow/pkg/schema"
)

const (
	anthropicDefaultEndpoint = "https://api.anthropic.com/v1/messages"
	anthropicDefaultModel    = "claude-sonnet-4-20250514"
	anthropicVersion         = "2023-06-01"
	anthropicDefaultTokens   = 4096
)

var anthropicDefaultClient = &http.Client{Timeout: 120 * time.Second}

// AnthropicAdapter speaks the messages API wire format.
type AnthropicAdapter struct {
	client   *http.Client
	endpoint string
	logger   *slog.Logger
}

// NewAnthropicAdapter creates an adapter against the public endpoint.
func NewAnthropicAdapter(client *http.Client, logger *slog.Logger) *AnthropicAdapter {
	if client == nil {
		client = anthropicDefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AnthropicAdapter{client: client, endpoint: anthropicDefaultEndpoint, logger: logger}
}

func (a *AnthropicAdapter) Name() string { return "anthropic" }

// --- wire types ---

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

// anthropicBlock is one content block: text, tool_use or tool_result.
type anthropicBlock struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   string         `json:"content,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicResponse struct {
	Content    []anthropicBlock `json:"content"`
	StopReason string           `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// --- adapter ---

func (a *AnthropicAdapter) Generate(ctx context.Context, req *Request, creds adapter.Credentials) (*Reply, error) {
	apiKey := creds["api_key"]
	if apiKey == "" {
		return nil, schema.NewError(schema.ErrCodeAuthentication,
			"missing Anthropic API key: connect your Anthropic account")
	}

	wire := a.formatRequest(req)
	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("marshal anthropic request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeTimeout, "anthropic request failed").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, providerStatusError("anthropic", resp)
	}

	var result anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode anthropic response: %w", err)
	}
	return a.parseReply(&result), nil
}

func (a *AnthropicAdapter) formatRequest(req *Request) *anthropicRequest {
	model := req.Model
	if model == "" {
		model = anthropicDefaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultTokens
	}

	wire := &anthropicRequest{
		Model:       model,
		System:      req.System,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		Tools:       a.formatTools(req.Tools),
	}
	// The messages API caps temperature at 1.0.
	if req.Temperature != nil && *req.Temperature > 1.0 {
		a.logger.Warn("temperature above the supported maximum, clamping",
			"model", model, "requested", *req.Temperature)
		clamped := 1.0
		wire.Temperature = &clamped
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleTool:
			// Tool results travel as user messages with tool_result blocks.
			wire.Messages = append(wire.Messages, anthropicMessage{
				Role: "user",
				Content: []anthropicBlock{{
					Type:      "tool_result",
					ToolUseID: msg.ToolCallID,
					Content:   msg.Content,
				}},
			})
		case RoleAssistant:
			var blocks []anthropicBlock
			if msg.Content != "" {
				blocks = append(blocks, anthropicBlock{Type: "text", Text: msg.Content})
			}
			for _, call := range msg.ToolCalls {
				blocks = append(blocks, anthropicBlock{
					Type:  "tool_use",
					ID:    call.ID,
					Name:  call.Name,
					Input: call.Arguments,
				})
			}
			wire.Messages = append(wire.Messages, anthropicMessage{Role: "assistant", Content: blocks})
		default:
			wire.Messages = append(wire.Messages, anthropicMessage{
				Role:    "user",
				Content: []anthropicBlock{{Type: "text", Text: msg.Content}},
			})
		}
	}
	return wire
}

func (a *AnthropicAdapter) formatTools(defs []tools.Definition) []anthropicTool {
	out := make([]anthropicTool, 0, len(defs))
	for _, def := range defs {
		params := def.Parameters
		if params == nil {
			params = map[string]any{"type": "object"}
		}
		out = append(out, anthropicTool{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: params,
		})
	}
	return out
}

func (a *AnthropicAdapter) parseReply(result *anthropicResponse) *Reply {
	reply := &Reply{
		StopReason: result.StopReason,
		Usage: Usage{
			InputTokens:  result.Usage.InputTokens,
			OutputTokens: result.Usage.OutputTokens,
		},
	}
	for _, block := range result.Content {
		switch block.Type {
		case "text":
			reply.Content += block.Text
		case "tool_use":
			reply.ToolCalls = append(reply.ToolCalls, ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: block.Input,
			})
		}
	}
	return reply
}

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"google.golang.org/genai"

	"github.com/rendis/nodeflow/internal/adapter"
	"github.com/rendis/nodeflow/internal/tools"
	"github.com/rendis/nodeflow/pkg/schema"
)

const googleDefaultModel = "gemini-2.0-flash"

// GoogleAdapter drives Gemini through the genai SDK. Clients are cached per
// API key because the SDK binds credentials at construction.
type GoogleAdapter struct {
	mu      sync.Mutex
	clients map[string]*genai.Client
	logger  *slog.Logger
}

// NewGoogleAdapter creates an adapter for the Gemini API.
func NewGoogleAdapter(logger *slog.Logger) *GoogleAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &GoogleAdapter{clients: make(map[string]*genai.Client), logger: logger}
}

func (a *GoogleAdapter) Name() string { return "google" }

func (a *GoogleAdapter) client(ctx context.Context, apiKey string) (*genai.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if c, ok := a.clients[apiKey]; ok {
		return c, nil
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("create google genai client: %w", err)
	}
	a.clients[apiKey] = c
	return c, nil
}

func (a *GoogleAdapter) Generate(ctx context.Context, req *Request, creds adapter.Credentials) (*Reply, error) {
	apiKey := creds["api_key"]
	if apiKey == "" {
		return nil, schema.NewError(schema.ErrCodeAuthentication,
			"missing Google API key: connect your Google account")
	}

	client, err := a.client(ctx, apiKey)
	if err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = googleDefaultModel
	}

	contents := a.formatRequest(req)
	config := a.generateConfig(req)

	resp, err := client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, a.convertError(err)
	}
	return a.parseReply(resp)
}

// formatRequest converts the neutral conversation into genai contents.
// Gemini knows two roles: "user" and "model"; tool results travel as user
// contents carrying a FunctionResponse part.
func (a *GoogleAdapter) formatRequest(req *Request) []*genai.Content {
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleAssistant:
			content := &genai.Content{Role: "model"}
			if msg.Content != "" {
				content.Parts = append(content.Parts, genai.NewPartFromText(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						ID:   call.ID,
						Name: call.Name,
						Args: call.Arguments,
					},
				})
			}
			contents = append(contents, content)
		case RoleTool:
			contents = append(contents, &genai.Content{
				Role: "user",
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{
						ID:       msg.ToolCallID,
						Name:     msg.ToolName,
						Response: functionResponseMap(msg.Content),
					},
				}},
			})
		default:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []*genai.Part{genai.NewPartFromText(msg.Content)},
			})
		}
	}
	return contents
}

func (a *GoogleAdapter) generateConfig(req *Request) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{genai.NewPartFromText(req.System)},
		}
	}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		// Gemini caps temperature at 2.0.
		if t > 2.0 {
			a.logger.Warn("temperature above the supported maximum, clamping",
				"requested", *req.Temperature)
			t = 2.0
		}
		config.Temperature = &t
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}

	if declarations := a.formatTools(req.Tools); len(declarations) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: declarations}}
		config.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{
				Mode: genai.FunctionCallingConfigModeAuto,
			},
		}
	}
	return config
}

func (a *GoogleAdapter) formatTools(defs []tools.Definition) []*genai.FunctionDeclaration {
	out := make([]*genai.FunctionDeclaration, 0, len(defs))
	for _, def := range defs {
		out = append(out, &genai.FunctionDeclaration{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  schemaToGenAI(def.Parameters),
		})
	}
	return out
}

func (a *GoogleAdapter) parseReply(resp *genai.GenerateContentResponse) (*Reply, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "empty response from google genai")
	}
	candidate := resp.Candidates[0]

	reply := &Reply{StopReason: strings.ToLower(string(candidate.FinishReason))}
	for _, part := range candidate.Content.Parts {
		switch {
		case part.FunctionCall != nil:
			reply.ToolCalls = append(reply.ToolCalls, ToolCall{
				ID:        part.FunctionCall.ID,
				Name:      part.FunctionCall.Name,
				Arguments: part.FunctionCall.Args,
			})
		case part.Text != "":
			reply.Content += part.Text
		}
	}
	if resp.UsageMetadata != nil {
		reply.Usage = Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return reply, nil
}

func (a *GoogleAdapter) convertError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "API key") || strings.Contains(msg, "401") || strings.Contains(msg, "403"):
		return schema.NewError(schema.ErrCodeAuthentication,
			"google rejected the credentials: connect your Google account").WithCause(err)
	case strings.Contains(msg, "429"):
		return schema.NewError(schema.ErrCodeRateLimit, "google rate limit exceeded").WithCause(err)
	default:
		return schema.NewError(schema.ErrCodeExecution, "google genai call failed").WithCause(err)
	}
}

// functionResponseMap wraps a tool result string for the FunctionResponse
// part, preserving structured results when the content is JSON.
func functionResponseMap(content string) map[string]any {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "{") {
		var m map[string]any
		if err := json.Unmarshal([]byte(trimmed), &m); err == nil {
			return m
		}
	}
	return map[string]any{"result": content}
}

// schemaToGenAI converts a JSON Schema map into the SDK's schema type.
// Unknown constructs degrade to a permissive object schema.
func schemaToGenAI(params map[string]any) *genai.Schema {
	if len(params) == 0 {
		return &genai.Schema{Type: genai.TypeObject}
	}

	out := &genai.Schema{Type: genaiType(params["type"])}
	if desc, ok := params["description"].(string); ok {
		out.Description = desc
	}
	if props, ok := params["properties"].(map[string]any); ok {
		out.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			if propMap, ok := raw.(map[string]any); ok {
				out.Properties[name] = schemaToGenAI(propMap)
			}
		}
	}
	if items, ok := params["items"].(map[string]any); ok {
		out.Items = schemaToGenAI(items)
	}
	if required, ok := params["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				out.Required = append(out.Required, s)
			}
		}
	}
	if enum, ok := params["enum"].([]any); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				out.Enum = append(out.Enum, s)
			}
		}
	}
	return out
}

func genaiType(v any) genai.Type {
	t, _ := v.(string)
	switch strings.ToLower(t) {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	default:
		return genai.TypeObject
	}
}

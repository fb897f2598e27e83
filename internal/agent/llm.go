// Package agent implements the multi-turn tool-calling loop for AI-agent
// nodes. One orchestrator drives every model family; providers supply only
// wire-format translation behind the ModelAdapter interface.
package agent

import (
	"context"

	"github.com/rendis/nodeflow/internal/adapter"
	"github.com/rendis/nodeflow/internal/tools"
)

// Role tags a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is one function invocation requested by the model.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Message is one conversation turn in provider-neutral form.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// ToolCalls is set on assistant turns that request tool executions.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	// ToolCallID and ToolName are set on tool-result turns.
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
}

// Request is one model call: the accumulated conversation plus generation
// parameters. Temperature is a pointer so providers can distinguish "unset"
// from zero.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	Tools       []tools.Definition
	Temperature *float64
	MaxTokens   int
}

// Usage accumulates token counts across the loop's model calls.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add folds another call's usage into the total.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Total returns the combined token count.
func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }

// Reply is a model's response in provider-neutral form. An empty ToolCalls
// slice marks the loop's terminal state.
type Reply struct {
	Content    string
	ToolCalls  []ToolCall
	Usage      Usage
	StopReason string
}

// ModelAdapter translates between the neutral Request/Reply shapes and one
// provider's wire format. Implementations hold no conversation state; the
// orchestrator owns the loop.
type ModelAdapter interface {
	Name() string
	Generate(ctx context.Context, req *Request, creds adapter.Credentials) (*Reply, error)
}

package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/nodeflow/internal/adapter"
	"github.com/rendis/nodeflow/internal/expressions"
	"github.com/rendis/nodeflow/internal/runner"
	"github.com/rendis/nodeflow/internal/tools"
	"github.com/rendis/nodeflow/pkg/schema"
)

const (
	defaultMaxIterations  = 5
	defaultPerCallTimeout = 120 * time.Second
)

// promptFields are the common input keys checked, in order, when the node
// config carries no explicit user_prompt.
var promptFields = []string{"user_prompt", "prompt", "message", "text", "query", "input", "content"}

// NodeSource resolves attached node IDs to their definitions.
type NodeSource interface {
	Node(id string) (*schema.Node, bool)
}

// CallRecord is one entry in the tool-call trace returned with the final
// response.
type CallRecord struct {
	Iteration int            `json:"iteration"`
	NodeID    string         `json:"node_id,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Result    any            `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Outcome is the final product of one agent activation.
type Outcome struct {
	// Content is the JSON-parsed final reply when it parses, the raw string
	// otherwise.
	Content       any
	Raw           string
	FunctionCalls []CallRecord
	Usage         Usage
	// FinishReason is "stop" for a natural terminal reply and
	// "max_iterations" when the loop hit its bound.
	FinishReason string
}

// Orchestrator runs the bounded multi-turn tool-calling loop. One instance
// serves every model family; the ModelAdapter passed to Run supplies the
// wire format.
type Orchestrator struct {
	tools          *tools.Service
	memory         *Memory
	nodes          NodeSource
	logger         *slog.Logger
	perCallTimeout time.Duration
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithPerCallTimeout bounds each model round-trip, independent of the
// iteration cap.
func WithPerCallTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.perCallTimeout = d }
}

// NewOrchestrator wires the loop's collaborators. memory and nodes may be
// nil; the corresponding steps are then skipped.
func NewOrchestrator(toolSvc *tools.Service, memory *Memory, nodes NodeSource, logger *slog.Logger, opts ...OrchestratorOption) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		tools:          toolSvc,
		memory:         memory,
		nodes:          nodes,
		logger:         logger,
		perCallTimeout: defaultPerCallTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes the loop for one agent node activation.
func (o *Orchestrator) Run(ctx context.Context, ec *runner.ExecutionContext, model ModelAdapter, creds adapter.Credentials) (*Outcome, error) {
	cfg := ec.Config()
	prompt := o.extractPrompt(ec)

	memoryNodes, toolNodes := o.attachedNodes(ec.Node)

	// Prior conversation is loaded before the first model call.
	var history []Message
	for _, memNode := range memoryNodes {
		msgs, err := o.memory.Load(ctx, memNode, ec.ExecutionID)
		if err != nil {
			o.logger.Warn("failed to load conversation memory", "node", memNode.ID, "error", err)
			continue
		}
		history = append(history, msgs...)
	}

	defs, owners := o.discoverTools(ctx, toolNodes)

	req := &Request{
		Model:     configStr(cfg, "model"),
		System:    o.systemPrompt(ec, len(history) > 0),
		Tools:     defs,
		MaxTokens: int(configNum(cfg, "max_tokens")),
	}
	if t, ok := cfg["temperature"]; ok {
		if f, ok := expressions.ToNumber(t); ok {
			req.Temperature = &f
		}
	}
	req.Messages = append(req.Messages, history...)
	req.Messages = append(req.Messages, Message{Role: RoleUser, Content: prompt})

	maxIterations := defaultMaxIterations
	if n := int(configNum(cfg, "max_iterations")); n > 0 {
		maxIterations = n
	}

	outcome := &Outcome{FinishReason: "max_iterations"}
	for iteration := 1; iteration <= maxIterations; iteration++ {
		reply, err := o.callModel(ctx, model, req, creds)
		if err != nil {
			return nil, err
		}
		outcome.Usage.Add(reply.Usage)
		outcome.Raw = reply.Content

		if len(reply.ToolCalls) == 0 {
			outcome.FinishReason = "stop"
			break
		}

		// Record the assistant turn including its tool-call requests, then
		// feed every result back as a tool-role message.
		req.Messages = append(req.Messages, Message{
			Role:      RoleAssistant,
			Content:   reply.Content,
			ToolCalls: reply.ToolCalls,
		})
		for _, call := range reply.ToolCalls {
			record := o.executeToolCall(ctx, call, owners, iteration)
			outcome.FunctionCalls = append(outcome.FunctionCalls, record)

			content := expressions.Stringify(record.Result)
			if record.Error != "" {
				payload, _ := json.Marshal(map[string]any{"error": record.Error})
				content = string(payload)
			}
			req.Messages = append(req.Messages, Message{
				Role:       RoleTool,
				Content:    content,
				ToolCallID: call.ID,
				ToolName:   call.Name,
			})
		}
	}

	if outcome.FinishReason == "max_iterations" {
		o.logger.Warn("agent loop reached its iteration cap",
			"node", ec.Node.ID, "max_iterations", maxIterations)
	}
	outcome.Content = parseContent(outcome.Raw)

	// The response exists at this point; memory write failures only log.
	for _, memNode := range memoryNodes {
		if err := o.memory.Persist(ctx, memNode, ec.ExecutionID, prompt, outcome.Raw); err != nil {
			o.logger.Warn("failed to persist conversation memory", "node", memNode.ID, "error", err)
		}
	}
	return outcome, nil
}

func (o *Orchestrator) callModel(ctx context.Context, model ModelAdapter, req *Request, creds adapter.Credentials) (*Reply, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.perCallTimeout)
	defer cancel()

	reply, err := model.Generate(callCtx, req, creds)
	if err != nil {
		return nil, err
	}
	// Some providers omit tool-call IDs; the loop needs them to correlate
	// results.
	for i := range reply.ToolCalls {
		if reply.ToolCalls[i].ID == "" {
			reply.ToolCalls[i].ID = "call_" + uuid.NewString()
		}
	}
	return reply, nil
}

// executeToolCall runs one requested tool and converts any failure into a
// structured record instead of a node failure.
func (o *Orchestrator) executeToolCall(ctx context.Context, call ToolCall, owners map[string]*schema.Node, iteration int) CallRecord {
	record := CallRecord{Iteration: iteration, Name: call.Name, Arguments: call.Arguments}

	owner, ok := owners[call.Name]
	if !ok {
		record.Error = "tool " + call.Name + " is not offered by any attached tool node"
		return record
	}
	record.NodeID = owner.ID

	result, err := o.tools.Invoke(ctx, owner, call.Name, call.Arguments)
	if err != nil {
		o.logger.Warn("tool call failed inside agent loop", "tool", call.Name, "error", err)
		record.Error = err.Error()
		return record
	}
	record.Result = result
	return record
}

// extractPrompt finds the user prompt: explicit config beats common input
// fields beats the trigger payload.
func (o *Orchestrator) extractPrompt(ec *runner.ExecutionContext) string {
	cfg := ec.Config()
	if raw, ok := cfg["user_prompt"].(string); ok && raw != "" {
		return expressions.RenderTemplate(raw, ec.ExprContext())
	}

	if input, ok := ec.MainInput().(map[string]any); ok {
		for _, field := range promptFields {
			if v, ok := input[field].(string); ok && v != "" {
				return v
			}
		}
	}
	if ec.Trigger != nil {
		data := ec.Trigger.Data
		for _, field := range promptFields {
			if v, ok := data[field].(string); ok && v != "" {
				return v
			}
		}
	}
	if input := ec.MainInput(); input != nil {
		return expressions.Stringify(input)
	}
	return ""
}

func (o *Orchestrator) systemPrompt(ec *runner.ExecutionContext, hasHistory bool) string {
	system := configStr(ec.Config(), "system_prompt")
	if system != "" {
		system = expressions.RenderTemplate(system, ec.ExprContext())
	}
	if hasHistory {
		note := "Prior conversation context from earlier turns is included in the message history."
		if system == "" {
			return note
		}
		return system + "\n\n" + note
	}
	return system
}

// attachedNodes splits the agent's attached node IDs into memory and tool
// nodes, dropping IDs the source cannot resolve.
func (o *Orchestrator) attachedNodes(node *schema.Node) (memory, tool []*schema.Node) {
	if o.nodes == nil || node == nil {
		return nil, nil
	}
	for _, id := range node.AttachedNodeIDs {
		attached, ok := o.nodes.Node(id)
		if !ok {
			o.logger.Warn("attached node not found", "agent", node.ID, "attached", id)
			continue
		}
		switch attached.Type {
		case schema.NodeTypeMemory:
			if o.memory != nil {
				memory = append(memory, attached)
			}
		case schema.NodeTypeTool:
			tool = append(tool, attached)
		}
	}
	return memory, tool
}

// discoverTools collects definitions from every attached tool node. The
// first node offering a name owns it.
func (o *Orchestrator) discoverTools(ctx context.Context, toolNodes []*schema.Node) ([]tools.Definition, map[string]*schema.Node) {
	var defs []tools.Definition
	owners := make(map[string]*schema.Node)

	for _, node := range toolNodes {
		discovered, err := o.tools.Discover(ctx, node)
		if err != nil {
			o.logger.Warn("tool discovery failed", "node", node.ID, "error", err)
			continue
		}
		for _, def := range discovered {
			if _, taken := owners[def.Name]; taken {
				continue
			}
			owners[def.Name] = node
			defs = append(defs, def)
		}
	}
	return defs, owners
}

// parseContent attempts a JSON parse of the final reply, falling back to the
// raw string.
func parseContent(raw string) any {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var v any
		if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
			return v
		}
	}
	return raw
}

func configStr(cfg map[string]any, key string) string {
	v, _ := cfg[key].(string)
	return v
}

func configNum(cfg map[string]any, key string) float64 {
	if v, ok := cfg[key]; ok {
		if f, ok := expressions.ToNumber(v); ok {
			return f
		}
	}
	return 0
}

package agent

import (
	"context"

	"github.com/rendis/nodeflow/internal/runner"
	"github.com/rendis/nodeflow/pkg/schema"
)

// memoryRunner executes a MEMORY node standalone: load returns the session
// history, store persists an exchange from the input payload.
type memoryRunner struct {
	subtype string
	memory  *Memory
}

func (r *memoryRunner) Type() schema.NodeType { return schema.NodeTypeMemory }
func (r *memoryRunner) Subtype() string       { return r.subtype }

func (r *memoryRunner) Execute(ctx context.Context, ec *runner.ExecutionContext) (*runner.Result, error) {
	operation, _ := ec.Config()["operation"].(string)

	switch operation {
	case "store", "append":
		input, ok := ec.MainInput().(map[string]any)
		if !ok {
			return runner.ErrorResult("memory_store",
				schema.NewError(schema.ErrCodeValidation, "memory store requires a mapping input")), nil
		}
		userPrompt, _ := input["user_prompt"].(string)
		reply, _ := input["assistant_reply"].(string)
		if err := r.memory.Persist(ctx, ec.Node, ec.ExecutionID, userPrompt, reply); err != nil {
			return runner.ErrorResult("memory_store", err), nil
		}
		return runner.MainResult(map[string]any{"stored": true}), nil

	default: // load
		msgs, err := r.memory.Load(ctx, ec.Node, ec.ExecutionID)
		if err != nil {
			return runner.ErrorResult("memory_load", err), nil
		}
		out := make([]any, 0, len(msgs))
		for _, msg := range msgs {
			out = append(out, map[string]any{
				"role":    string(msg.Role),
				"content": msg.Content,
			})
		}
		return runner.MainResult(map[string]any{"messages": out}), nil
	}
}

// RegisterMemoryRunners registers the memory runner for every memory subtype.
func RegisterMemoryRunners(reg *runner.Registry, memory *Memory) error {
	for _, subtype := range []string{
		schema.MemorySubtypeConversationBuffer,
		schema.MemorySubtypeVectorDatabase,
		schema.MemorySubtypeKeyValue,
	} {
		if err := reg.Register(&memoryRunner{subtype: subtype, memory: memory}); err != nil {
			return err
		}
	}
	return nil
}

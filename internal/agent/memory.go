package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/pkg/schema"
)

const defaultMemoryWindow = 50

// Memory loads and persists agent conversation history through the Store,
// with a write strategy selected by the memory node's subtype.
type Memory struct {
	store  store.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewMemory creates a Memory layer over the given store.
func NewMemory(st store.Store, logger *slog.Logger) *Memory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Memory{store: st, logger: logger, now: time.Now}
}

// sessionKey picks the conversation session for a memory node: an explicit
// session_id in config wins, otherwise history is scoped to the execution.
func sessionKey(node *schema.Node, executionID string) string {
	if node != nil {
		if sid, ok := node.Config["session_id"].(string); ok && sid != "" {
			return sid
		}
	}
	return executionID
}

// Load returns prior conversation turns for the session, oldest first.
func (m *Memory) Load(ctx context.Context, node *schema.Node, executionID string) ([]Message, error) {
	limit := defaultMemoryWindow
	if node != nil {
		if w, ok := node.Config["window"].(float64); ok && w > 0 {
			limit = int(w)
		}
	}

	records, err := m.store.ListMessages(ctx, sessionKey(node, executionID), limit)
	if err != nil {
		return nil, err
	}

	out := make([]Message, 0, len(records))
	for _, rec := range records {
		role := Role(rec.Role)
		switch role {
		case RoleUser, RoleAssistant, RoleSystem:
			out = append(out, Message{Role: role, Content: rec.Content})
		default:
			// Non-conversational records (vector documents, generic
			// exchanges) are not replayed into the message list.
		}
	}
	return out, nil
}

// Persist writes the completed exchange using the subtype's strategy.
// Failures are logged by the caller and never fail the node: the response
// has already been produced.
func (m *Memory) Persist(ctx context.Context, node *schema.Node, executionID, userPrompt, assistantReply string) error {
	session := sessionKey(node, executionID)
	now := m.now().UTC()

	var msgs []*store.Message
	switch node.Subtype {
	case schema.MemorySubtypeConversationBuffer:
		msgs = []*store.Message{
			{
				ID:        uuid.NewString(),
				SessionID: session,
				Role:      string(RoleUser),
				Content:   userPrompt,
				CreatedAt: now,
			},
			{
				ID:        uuid.NewString(),
				SessionID: session,
				Role:      string(RoleAssistant),
				Content:   assistantReply,
				CreatedAt: now.Add(time.Millisecond),
			},
		}
	case schema.MemorySubtypeVectorDatabase:
		msgs = []*store.Message{{
			ID:        uuid.NewString(),
			SessionID: session,
			Role:      "document",
			Content:   fmt.Sprintf("User: %s\nAssistant: %s", userPrompt, assistantReply),
			Metadata: map[string]any{
				"type":         "vector_document",
				"execution_id": executionID,
				"node_id":      node.ID,
			},
			CreatedAt: now,
		}}
	default:
		msgs = []*store.Message{{
			ID:        uuid.NewString(),
			SessionID: session,
			Role:      "exchange",
			Content:   assistantReply,
			Metadata: map[string]any{
				"user_prompt":  userPrompt,
				"execution_id": executionID,
				"node_id":      node.ID,
				"subtype":      node.Subtype,
			},
			CreatedAt: now,
		}}
	}

	return m.store.AppendMessages(ctx, msgs)
}

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rendis/nodeflow/pkg/schema"
)

// MemoryStore is the in-process Store used by tests and single-node
// deployments without a database file.
type MemoryStore struct {
	mu           sync.RWMutex
	interactions map[string]*Interaction
	messages     map[string][]*Message
	secrets      map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		interactions: make(map[string]*Interaction),
		messages:     make(map[string][]*Message),
		secrets:      make(map[string][]byte),
	}
}

func (m *MemoryStore) CreateInteraction(_ context.Context, in *Interaction) error {
	if in == nil || in.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "interaction id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.interactions[in.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "interaction %q already exists", in.ID)
	}
	cp := *in
	m.interactions[in.ID] = &cp
	return nil
}

func (m *MemoryStore) GetInteraction(_ context.Context, id string) (*Interaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	in, ok := m.interactions[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "interaction %q not found", id)
	}
	cp := *in
	return &cp, nil
}

func (m *MemoryStore) ListInteractions(_ context.Context, filter InteractionFilter) ([]*Interaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Interaction
	for _, in := range m.interactions {
		if !matches(in, filter) {
			continue
		}
		cp := *in
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func matches(in *Interaction, f InteractionFilter) bool {
	if f.Status != "" && in.Status != f.Status {
		return false
	}
	if f.UserID != "" && in.UserID != f.UserID {
		return false
	}
	if f.ChannelType != "" && in.ChannelType != f.ChannelType {
		return false
	}
	if f.ExecutionID != "" && in.ExecutionID != f.ExecutionID {
		return false
	}
	if !f.DueBefore.IsZero() && in.TimeoutAt.After(f.DueBefore) {
		return false
	}
	if f.WarningSent != nil && in.WarningSent != *f.WarningSent {
		return false
	}
	return true
}

func (m *MemoryStore) TransitionInteraction(_ context.Context, id string, to InteractionStatus, res *Resolution) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	in, ok := m.interactions[id]
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeNotFound, "interaction %q not found", id)
	}
	if in.Status != StatusPending {
		return false, nil
	}

	in.Status = to
	in.UpdatedAt = time.Now().UTC()
	if res != nil {
		in.ResponsePayload = res.ResponsePayload
		in.ResolvedBy = res.ResolvedBy
		at := res.At
		if at.IsZero() {
			at = in.UpdatedAt
		}
		in.ResolvedAt = &at
	}
	return true, nil
}

func (m *MemoryStore) MarkWarningSent(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	in, ok := m.interactions[id]
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeNotFound, "interaction %q not found", id)
	}
	if in.Status != StatusPending || in.WarningSent {
		return false, nil
	}
	in.WarningSent = true
	in.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *MemoryStore) MarkEscalated(_ context.Context, id string, newTimeoutAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	in, ok := m.interactions[id]
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeNotFound, "interaction %q not found", id)
	}
	if in.Status != StatusPending || in.Escalated {
		return false, nil
	}
	now := time.Now().UTC()
	in.Escalated = true
	in.EscalatedAt = &now
	in.TimeoutAt = newTimeoutAt
	in.WarningSent = false
	in.UpdatedAt = now
	return true, nil
}

func (m *MemoryStore) AppendMessages(_ context.Context, msgs []*Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, msg := range msgs {
		if msg == nil || msg.SessionID == "" {
			return schema.NewError(schema.ErrCodeValidation, "message session id is required")
		}
		cp := *msg
		m.messages[msg.SessionID] = append(m.messages[msg.SessionID], &cp)
	}
	return nil
}

func (m *MemoryStore) ListMessages(_ context.Context, sessionID string, limit int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.messages[sessionID]
	start := 0
	if limit > 0 && len(msgs) > limit {
		start = len(msgs) - limit
	}

	out := make([]*Message, 0, len(msgs)-start)
	for _, msg := range msgs[start:] {
		cp := *msg
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) StoreSecret(_ context.Context, key string, value []byte) error {
	if key == "" {
		return schema.NewError(schema.ErrCodeValidation, "secret key is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryStore) GetSecret(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.secrets[key]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "secret %q not found", key)
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryStore) DeleteSecret(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.secrets, key)
	return nil
}

func (m *MemoryStore) ListSecrets(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.secrets))
	for k := range m.secrets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryStore) Migrate(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)

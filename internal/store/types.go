package store

import "time"

// InteractionStatus is the lifecycle state of a human interaction.
// pending is the only non-terminal state.
type InteractionStatus string

const (
	StatusPending   InteractionStatus = "pending"
	StatusResolved  InteractionStatus = "resolved"
	StatusTimeout   InteractionStatus = "timeout"
	StatusEscalated InteractionStatus = "escalated"
)

// Interaction is a durable human-in-the-loop record. Never deleted; the
// table is the audit trail of every approval and input request.
type Interaction struct {
	ID              string            `json:"id"`
	WorkflowID      string            `json:"workflow_id"`
	ExecutionID     string            `json:"execution_id"`
	NodeID          string            `json:"node_id"`
	UserID          string            `json:"user_id"`
	Status          InteractionStatus `json:"status"`
	InteractionType string            `json:"interaction_type"`
	ChannelType     string            `json:"channel_type"`
	RequestPayload  map[string]any    `json:"request_payload,omitempty"`
	ResponsePayload map[string]any    `json:"response_payload,omitempty"`
	ResolvedBy      string            `json:"resolved_by,omitempty"`
	TimeoutSeconds  int64             `json:"timeout_seconds"`
	TimeoutAt       time.Time         `json:"timeout_at"`
	WarningSent     bool              `json:"warning_sent"`
	// Escalated marks an interaction whose timeout fired once with an
	// escalation action: it stays pending with a fresh timeout window, and
	// the next expiry is terminal.
	Escalated   bool       `json:"escalated"`
	EscalatedAt *time.Time `json:"escalated_at,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	ResolvedAt      *time.Time        `json:"resolved_at,omitempty"`
}

// InteractionFilter narrows interaction listings. Zero values mean no
// constraint.
type InteractionFilter struct {
	Status      InteractionStatus
	UserID      string
	ChannelType string
	ExecutionID string
	// DueBefore matches interactions whose timeout_at is at or before the
	// given instant.
	DueBefore time.Time
	// WarningSent filters on the warning flag when non-nil.
	WarningSent *bool
	Limit       int
}

// Resolution carries the terminal data of an interaction transition.
type Resolution struct {
	ResponsePayload map[string]any
	ResolvedBy      string
	At              time.Time
}

// Message is one persisted conversation turn for an agent session.
type Message struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	ToolName  string         `json:"tool_name,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

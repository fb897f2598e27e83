// Package events provides pub/sub for execution and interaction lifecycle
// events, consumed by the SSE API and any in-process observer.
package events

import (
	"context"
	"time"
)

// Event types published by the engine.
const (
	TypeInteractionCreated   = "interaction.created"
	TypeInteractionResolved  = "interaction.resolved"
	TypeInteractionWarning   = "interaction.warning"
	TypeInteractionTimeout   = "interaction.timeout"
	TypeInteractionEscalated = "interaction.escalated"
	TypeExecutionResumed     = "execution.resumed"
)

// Event is a real-time event emitted during workflow execution.
type Event struct {
	ExecutionID   string    `json:"execution_id,omitempty"`
	NodeID        string    `json:"node_id,omitempty"`
	InteractionID string    `json:"interaction_id,omitempty"`
	Type          string    `json:"type"`
	Payload       any       `json:"payload,omitempty"`
	At            time.Time `json:"at,omitempty"`
}

// Filter specifies which events a subscriber wants to receive. Zero-value
// fields match everything; a set field must match exactly. InteractionID
// narrows to one pending interaction, which is how approval UIs watch for
// their resolution.
type Filter struct {
	ExecutionID   string   `json:"execution_id,omitempty"`
	InteractionID string   `json:"interaction_id,omitempty"`
	Types         []string `json:"types,omitempty"`
}

// Matches reports whether the event passes the filter.
func (f Filter) Matches(e Event) bool {
	if f.ExecutionID != "" && f.ExecutionID != e.ExecutionID {
		return false
	}
	if f.InteractionID != "" && f.InteractionID != e.InteractionID {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if t == e.Type {
			return true
		}
	}
	return false
}

// Hub provides pub/sub for real-time events.
type Hub interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(ctx context.Context, filter Filter) (<-chan Event, func(), error)
}

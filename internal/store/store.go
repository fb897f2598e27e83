package store

import (
	"context"
	"time"
)

// Store defines the persistence layer contract for interactions, agent
// conversation memory and vault secrets. All implementations must be safe
// for concurrent use; interaction transitions are compare-and-swap on
// status so overlapping monitor runs stay idempotent.
type Store interface {
	// Interactions
	CreateInteraction(ctx context.Context, in *Interaction) error
	GetInteraction(ctx context.Context, id string) (*Interaction, error)
	ListInteractions(ctx context.Context, filter InteractionFilter) ([]*Interaction, error)
	// TransitionInteraction moves an interaction from StatusPending to the
	// given terminal status. Returns false without error when the
	// interaction is no longer pending.
	TransitionInteraction(ctx context.Context, id string, to InteractionStatus, res *Resolution) (bool, error)
	// MarkWarningSent flips the warning flag. Returns false when the
	// interaction is not pending or already warned.
	MarkWarningSent(ctx context.Context, id string) (bool, error)
	// MarkEscalated opens a fresh timeout window on a pending interaction
	// and flags it escalated. Returns false when the interaction is not
	// pending or was already escalated once.
	MarkEscalated(ctx context.Context, id string, newTimeoutAt time.Time) (bool, error)

	// Conversation memory
	AppendMessages(ctx context.Context, msgs []*Message) error
	ListMessages(ctx context.Context, sessionID string, limit int) ([]*Message, error)

	// Vault secrets. Values arrive already encrypted; the store never sees
	// plaintext.
	StoreSecret(ctx context.Context, key string, value []byte) error
	GetSecret(ctx context.Context, key string) ([]byte, error)
	DeleteSecret(ctx context.Context, key string) error
	ListSecrets(ctx context.Context) ([]string, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Close() error
}

// Package hil implements the human-in-the-loop subsystem: durable
// interaction records, the background timeout/warning monitor, and the
// relevance classifier that matches inbound channel events to pending
// interactions.
package hil

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/nodeflow/internal/adapter"
	"github.com/rendis/nodeflow/internal/events"
	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/internal/timer"
	"github.com/rendis/nodeflow/pkg/schema"
)

const (
	// Timeout bounds in seconds.
	minTimeoutSeconds = 60
	maxTimeoutSeconds = 86400

	// relevanceThreshold is the score at or above which an inbound message
	// resolves an interaction.
	relevanceThreshold = 0.7
)

var interactionTypes = map[string]bool{
	"approval":  true,
	"input":     true,
	"selection": true,
	"review":    true,
}

var channelTypes = map[string]bool{
	"slack":   true,
	"email":   true,
	"webhook": true,
	"in_app":  true,
}

// Resumer wakes a suspended execution on the given port with a payload.
// Provided by the embedding scheduler.
type Resumer func(ctx context.Context, executionID, nodeID, port string, payload map[string]any) error

// CreateRequest carries everything needed to open an interaction.
type CreateRequest struct {
	WorkflowID      string
	ExecutionID     string
	NodeID          string
	UserID          string
	InteractionType string
	ChannelType     string
	RequestPayload  map[string]any
	TimeoutSeconds  int64
}

// Service owns the interaction lifecycle. Terminal transitions go through
// the store's compare-and-swap so overlapping monitor runs stay idempotent.
type Service struct {
	store      store.Store
	timers     *timer.Service
	adapters   *adapter.Registry
	resumer    Resumer
	classifier *Classifier
	hub        events.Hub
	logger     *slog.Logger
	now        func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithClassifier sets the relevance classifier used for inbound matching.
func WithClassifier(c *Classifier) ServiceOption {
	return func(s *Service) { s.classifier = c }
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// WithEventHub publishes interaction lifecycle events to the hub.
func WithEventHub(hub events.Hub) ServiceOption {
	return func(s *Service) { s.hub = hub }
}

// NewService wires the interaction lifecycle. timers, adapters and resumer
// may be nil in reduced deployments; the corresponding side effects are
// skipped with a log line.
func NewService(st store.Store, timers *timer.Service, adapters *adapter.Registry, resumer Resumer, opts ...ServiceOption) *Service {
	s := &Service{
		store:    st,
		timers:   timers,
		adapters: adapters,
		resumer:  resumer,
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.classifier == nil {
		s.classifier = NewClassifier(nil, nil, WithClassifierClock(s.now))
	}
	return s
}

// CreateInteraction validates and persists a new pending interaction,
// schedules its timeout timer, and sends the request notification. The
// caller suspends the owning node with the returned pause signal.
func (s *Service) CreateInteraction(ctx context.Context, req CreateRequest) (*store.Interaction, *schema.PauseSignal, error) {
	if err := s.validate(req); err != nil {
		return nil, nil, err
	}

	now := s.now()
	in := &store.Interaction{
		ID:              uuid.NewString(),
		WorkflowID:      req.WorkflowID,
		ExecutionID:     req.ExecutionID,
		NodeID:          req.NodeID,
		UserID:          req.UserID,
		Status:          store.StatusPending,
		InteractionType: req.InteractionType,
		ChannelType:     req.ChannelType,
		RequestPayload:  req.RequestPayload,
		TimeoutSeconds:  req.TimeoutSeconds,
		TimeoutAt:       now.Add(time.Duration(req.TimeoutSeconds) * time.Second),
		WarningSent:     false,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.CreateInteraction(ctx, in); err != nil {
		return nil, nil, err
	}

	signal := &schema.PauseSignal{
		Reason:        schema.PauseReasonHuman,
		ResumePort:    schema.PortCompleted,
		TimeoutMs:     req.TimeoutSeconds * 1000,
		InteractionID: in.ID,
	}
	if s.timers != nil {
		if _, _, err := s.timers.SchedulePause(ctx, req.ExecutionID, req.NodeID, signal); err != nil {
			s.logger.Error("failed to schedule interaction timeout", "interaction", in.ID, "error", err)
		}
	}

	s.notify(ctx, in, "request", s.requestMessage(in))
	s.publish(ctx, in, events.TypeInteractionCreated, nil)
	return in, signal, nil
}

// ResolveInteraction applies a human response: the first resolution wins,
// the execution resumes on the completed port with the response data.
func (s *Service) ResolveInteraction(ctx context.Context, id string, responseData map[string]any, resolvedBy string) (*store.Interaction, error) {
	ok, err := s.store.TransitionInteraction(ctx, id, store.StatusResolved, &store.Resolution{
		ResponsePayload: responseData,
		ResolvedBy:      resolvedBy,
		At:              s.now(),
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidState, "interaction %q is no longer pending", id)
	}

	in, err := s.store.GetInteraction(ctx, id)
	if err != nil {
		return nil, err
	}

	// The pending timeout is obsolete once a human responded.
	if s.timers != nil {
		if _, err := s.timers.Cancel(ctx, in.ExecutionID, in.NodeID); err != nil {
			s.logger.Warn("failed to cancel interaction timer", "interaction", id, "error", err)
		}
	}
	s.resume(ctx, in, schema.PortCompleted, map[string]any{
		"status":         "resolved",
		"interaction_id": in.ID,
		"response":       responseData,
		"resolved_by":    resolvedBy,
	})
	s.publish(ctx, in, events.TypeInteractionResolved, map[string]any{"resolved_by": resolvedBy})
	return in, nil
}

// HandleInbound matches an inbound channel event against the pending
// interactions for its user/channel and resolves the best match when the
// relevance score clears the threshold. Returns the resolved interaction,
// or nil when the event was filtered.
func (s *Service) HandleInbound(ctx context.Context, event InboundEvent) (*store.Interaction, *Verdict, error) {
	pending, err := s.store.ListInteractions(ctx, store.InteractionFilter{Status: store.StatusPending})
	if err != nil {
		return nil, nil, err
	}
	if len(pending) == 0 {
		return nil, nil, nil
	}

	var (
		best        *store.Interaction
		bestVerdict *Verdict
	)
	for _, in := range pending {
		verdict := s.classifier.Classify(ctx, in, event)
		if bestVerdict == nil || verdict.Score > bestVerdict.Score {
			best = in
			bestVerdict = verdict
		}
	}

	if bestVerdict == nil || bestVerdict.Score < relevanceThreshold {
		s.logger.Debug("inbound event filtered", "score", scoreOrZero(bestVerdict))
		return nil, bestVerdict, nil
	}

	resolved, err := s.ResolveInteraction(ctx, best.ID, event.Payload, event.Sender)
	if err != nil {
		return nil, bestVerdict, err
	}
	return resolved, bestVerdict, nil
}

func scoreOrZero(v *Verdict) float64 {
	if v == nil {
		return 0
	}
	return v.Score
}

func (s *Service) validate(req CreateRequest) error {
	if req.ExecutionID == "" || req.NodeID == "" {
		return schema.NewError(schema.ErrCodeValidation, "interaction requires execution and node identifiers")
	}
	if !interactionTypes[req.InteractionType] {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"invalid interaction_type %q: must be approval, input, selection or review", req.InteractionType)
	}
	if !channelTypes[req.ChannelType] {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"invalid channel %q: must be slack, email, webhook or in_app", req.ChannelType)
	}
	if req.TimeoutSeconds < minTimeoutSeconds || req.TimeoutSeconds > maxTimeoutSeconds {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"timeout_seconds must be between %d and %d", minTimeoutSeconds, maxTimeoutSeconds)
	}

	switch req.InteractionType {
	case "input":
		if !hasListField(req.RequestPayload, "input_fields") {
			return schema.NewError(schema.ErrCodeValidation, "input interactions require input_fields definitions")
		}
	case "selection":
		if !hasListField(req.RequestPayload, "options") {
			return schema.NewError(schema.ErrCodeValidation, "selection interactions require options")
		}
	}
	return nil
}

func hasListField(payload map[string]any, key string) bool {
	if payload == nil {
		return false
	}
	list, ok := payload[key].([]any)
	return ok && len(list) > 0
}

// notify sends a notification through the interaction's channel adapter.
// Notification failures never fail the lifecycle operation.
func (s *Service) notify(ctx context.Context, in *store.Interaction, kind, message string) {
	s.notifyChannel(ctx, in, in.ChannelType, kind, message)
}

func (s *Service) notifyChannel(ctx context.Context, in *store.Interaction, channel, kind, message string) {
	if s.adapters == nil {
		return
	}
	a, err := s.adapters.Get(channel)
	if err != nil {
		s.logger.Warn("no adapter for interaction channel", "channel", channel, "interaction", in.ID)
		return
	}

	outcome := a.Execute(ctx, "notify", map[string]any{
		"interaction_id":   in.ID,
		"interaction_type": in.InteractionType,
		"kind":             kind,
		"message":          message,
		"user_id":          in.UserID,
		"payload":          in.RequestPayload,
	}, nil)
	if !outcome.Success {
		s.logger.Warn("interaction notification failed",
			"interaction", in.ID, "channel", channel, "kind", kind, "status", outcome.StatusCode)
	}
}

func (s *Service) requestMessage(in *store.Interaction) string {
	if title, ok := in.RequestPayload["title"].(string); ok && title != "" {
		return title
	}
	return "A workflow is waiting for your " + in.InteractionType
}

// publish emits a lifecycle event; a nil hub means no observers.
func (s *Service) publish(ctx context.Context, in *store.Interaction, eventType string, payload map[string]any) {
	if s.hub == nil {
		return
	}
	if err := s.hub.Publish(ctx, events.Event{
		ExecutionID:   in.ExecutionID,
		NodeID:        in.NodeID,
		InteractionID: in.ID,
		Type:          eventType,
		Payload:       payload,
		At:            s.now(),
	}); err != nil {
		s.logger.Warn("failed to publish interaction event", "interaction", in.ID, "type", eventType, "error", err)
	}
}

func (s *Service) resume(ctx context.Context, in *store.Interaction, port string, payload map[string]any) {
	if s.resumer == nil {
		s.logger.Warn("no resumer configured, execution stays suspended",
			"interaction", in.ID, "execution", in.ExecutionID)
		return
	}
	if err := s.resumer(ctx, in.ExecutionID, in.NodeID, port, payload); err != nil {
		s.logger.Error("failed to resume execution",
			"interaction", in.ID, "execution", in.ExecutionID, "port", port, "error", err)
	}
}

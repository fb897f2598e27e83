package hil

import (
	"context"
	"log/slog"
	"time"

	"github.com/rendis/nodeflow/internal/events"
	"github.com/rendis/nodeflow/internal/logging"
	"github.com/rendis/nodeflow/internal/runner"
	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/pkg/schema"
)

const (
	defaultMonitorInterval  = time.Minute
	defaultWarningThreshold = 5 * time.Minute
	defaultMonitorWorkers   = 4
)

// Monitor is the background loop over pending interactions: it times out
// overdue ones and warns on those approaching their deadline. Every action
// is guarded by a store compare-and-swap, so overlapping runs are safe.
type Monitor struct {
	svc              *Service
	interval         time.Duration
	warningThreshold time.Duration
	workers          int
	pool             *runner.WorkerPool
	logger           *slog.Logger
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithInterval sets the poll interval.
func WithInterval(d time.Duration) MonitorOption {
	return func(m *Monitor) { m.interval = d }
}

// WithWarningThreshold sets how close to the deadline warnings fire.
func WithWarningThreshold(d time.Duration) MonitorOption {
	return func(m *Monitor) { m.warningThreshold = d }
}

// WithWorkers sets the number of concurrent interaction handlers.
func WithWorkers(n int) MonitorOption {
	return func(m *Monitor) { m.workers = n }
}

// NewMonitor creates a Monitor over the given Service.
func NewMonitor(svc *Service, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		svc:              svc,
		interval:         defaultMonitorInterval,
		warningThreshold: defaultWarningThreshold,
		workers:          defaultMonitorWorkers,
		logger:           svc.logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.pool = runner.NewWorkerPool(m.workers, m.logger)
	return m
}

// Run polls until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	defer m.pool.Shutdown()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.RunOnce(ctx); err != nil {
				m.logger.Error("interaction monitor pass failed", "error", err)
			}
		}
	}
}

// RunOnce performs a single monitor pass: expiries first, then warnings.
func (m *Monitor) RunOnce(ctx context.Context) error {
	now := m.svc.now()

	overdue, err := m.svc.store.ListInteractions(ctx, store.InteractionFilter{
		Status:    store.StatusPending,
		DueBefore: now,
	})
	if err != nil {
		return err
	}
	pass := m.pool.Pass()
	for _, in := range overdue {
		in := in
		if err := pass.Submit(ctx, func(ctx context.Context) error {
			m.handleExpiry(ctx, in)
			return nil
		}); err != nil {
			pass.Wait()
			return err
		}
	}
	pass.Wait()

	return m.sendWarnings(ctx, now)
}

// handleExpiry applies the interaction's timeout action. The status
// transition claims the interaction; losing the race means another worker
// already handled it.
func (m *Monitor) handleExpiry(ctx context.Context, in *store.Interaction) {
	ctx = logging.WithInteractionID(logging.WithExecutionID(ctx, in.ExecutionID), in.ID)

	action, _ := in.RequestPayload["timeout_action"].(string)
	if action == "" {
		action = "fail"
	}

	// First expiry of an escalating interaction opens a fresh window
	// instead of terminating.
	if action == "escalate" && !in.Escalated {
		newDeadline := m.svc.now().Add(time.Duration(in.TimeoutSeconds) * time.Second)
		claimed, err := m.svc.store.MarkEscalated(ctx, in.ID, newDeadline)
		if err != nil {
			m.logger.ErrorContext(ctx, "failed to escalate interaction", "error", err)
			return
		}
		if !claimed {
			return
		}
		channel := in.ChannelType
		if esc, ok := in.RequestPayload["escalation_channel"].(string); ok && esc != "" {
			channel = esc
		}
		m.svc.notifyChannel(ctx, in, channel, "escalation",
			"An interaction went unanswered and has been escalated")
		m.svc.publish(ctx, in, events.TypeInteractionEscalated, map[string]any{"channel": channel})
		m.logger.InfoContext(ctx, "interaction escalated", "channel", channel)
		return
	}

	target := store.StatusTimeout
	if in.Escalated {
		target = store.StatusEscalated
	}
	claimed, err := m.svc.store.TransitionInteraction(ctx, in.ID, target, nil)
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to time out interaction", "error", err)
		return
	}
	if !claimed {
		return
	}

	if m.svc.timers != nil {
		if _, err := m.svc.timers.Cancel(ctx, in.ExecutionID, in.NodeID); err != nil {
			m.logger.WarnContext(ctx, "failed to cancel interaction timer", "error", err)
		}
	}
	m.svc.notify(ctx, in, "timeout", "An interaction timed out without a response")
	m.svc.publish(ctx, in, events.TypeInteractionTimeout, map[string]any{"action": action})
	m.resumeAfterTimeout(ctx, in, action)
	m.logger.InfoContext(ctx, "interaction timed out", "status", string(target), "action", action)
}

func (m *Monitor) resumeAfterTimeout(ctx context.Context, in *store.Interaction, action string) {
	switch action {
	case "continue", "escalate":
		m.svc.resume(ctx, in, schema.PortTimeout, map[string]any{
			"status":         "timeout",
			"interaction_id": in.ID,
		})
	case "default_response":
		response, _ := in.RequestPayload["default_response"].(map[string]any)
		m.svc.resume(ctx, in, schema.PortCompleted, map[string]any{
			"status":         "timeout",
			"interaction_id": in.ID,
			"response":       response,
		})
	default: // fail
		m.svc.resume(ctx, in, schema.PortError, schema.ErrorPayload("human_interaction",
			schema.NewErrorf(schema.ErrCodeTimeout, "interaction %s timed out without a response", in.ID)))
	}
}

// sendWarnings notifies on pending interactions entering the warning window.
// MarkWarningSent claims the warning, so it fires exactly once.
func (m *Monitor) sendWarnings(ctx context.Context, now time.Time) error {
	unwarned := false
	approaching, err := m.svc.store.ListInteractions(ctx, store.InteractionFilter{
		Status:      store.StatusPending,
		DueBefore:   now.Add(m.warningThreshold),
		WarningSent: &unwarned,
	})
	if err != nil {
		return err
	}

	for _, in := range approaching {
		claimed, err := m.svc.store.MarkWarningSent(ctx, in.ID)
		if err != nil {
			m.logger.Error("failed to mark warning", "interaction", in.ID, "error", err)
			continue
		}
		if !claimed {
			continue
		}
		m.svc.notify(ctx, in, "warning", "An interaction is about to time out")
		m.svc.publish(ctx, in, events.TypeInteractionWarning, nil)
	}
	return nil
}

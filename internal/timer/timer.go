// Package timer provides the schedule backing delayed and resumable node
// execution: an ordered set of due-time entries, polled by the execution
// scheduler to know when to re-invoke a suspended node.
package timer

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/rendis/nodeflow/pkg/schema"
)

// Entry is one scheduled wake-up. At-least-once delivery is acceptable;
// resume handlers must be idempotent per execution+node.
type Entry struct {
	ID          string             `json:"id"`
	ExecutionID string             `json:"execution_id"`
	NodeID      string             `json:"node_id"`
	Reason      schema.PauseReason `json:"reason"`
	ResumePort  string             `json:"resume_port"`
	DueAt       time.Time          `json:"due_at"`
}

// Schedule is the ordered storage behind the service. Implementations must
// support concurrent writers; DrainDue removes what it returns so an entry is
// delivered at most once per poll.
type Schedule interface {
	Insert(ctx context.Context, entry Entry) error
	DrainDue(ctx context.Context, now time.Time) ([]Entry, error)
	Cancel(ctx context.Context, executionID, nodeID string) (int, error)
	Len(ctx context.Context) (int, error)
}

// Service is the timer clock for suspended executions. The wall clock is
// injectable so tests can drive time explicitly.
type Service struct {
	schedule Schedule
	parser   cron.Parser
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService creates a timer service over the given schedule.
func NewService(schedule Schedule, opts ...Option) *Service {
	s := &Service{
		schedule: schedule,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		now:      func() time.Time { return time.Now().UTC() },
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule inserts a wake-up delayMs milliseconds from now and returns the
// due time.
func (s *Service) Schedule(ctx context.Context, executionID, nodeID string, delayMs int64, reason schema.PauseReason, port string) (time.Time, error) {
	if executionID == "" || nodeID == "" {
		return time.Time{}, schema.NewError(schema.ErrCodeValidation, "execution id and node id are required")
	}
	if delayMs < 0 {
		delayMs = 0
	}
	if port == "" {
		port = schema.PortMain
	}

	dueAt := s.now().Add(time.Duration(delayMs) * time.Millisecond)
	entry := Entry{
		ID:          uuid.NewString(),
		ExecutionID: executionID,
		NodeID:      nodeID,
		Reason:      reason,
		ResumePort:  port,
		DueAt:       dueAt,
	}
	if err := s.schedule.Insert(ctx, entry); err != nil {
		return time.Time{}, err
	}

	s.logger.Debug("timer scheduled",
		slog.String("execution_id", executionID),
		slog.String("node_id", nodeID),
		slog.String("reason", string(reason)),
		slog.Time("due_at", dueAt))
	return dueAt, nil
}

// SchedulePause inserts the wake-up a pause signal asks for. Pure waits with
// no deadline create no entry.
func (s *Service) SchedulePause(ctx context.Context, executionID, nodeID string, signal *schema.PauseSignal) (time.Time, bool, error) {
	if signal == nil {
		return time.Time{}, false, schema.NewError(schema.ErrCodeValidation, "pause signal is nil")
	}

	var delayMs int64
	switch {
	case signal.DelayMs > 0:
		delayMs = signal.DelayMs
	case signal.TimeoutMs > 0:
		delayMs = signal.TimeoutMs
	default:
		return time.Time{}, false, nil
	}

	port := signal.ResumePort
	if signal.TimeoutMs > 0 && signal.DelayMs == 0 {
		// A deadline firing means the wait timed out, not completed.
		port = schema.PortTimeout
	}

	dueAt, err := s.Schedule(ctx, executionID, nodeID, delayMs, signal.Reason, port)
	return dueAt, err == nil, err
}

// ScheduleCron inserts a wake-up at the next firing of a cron expression and
// returns the due time.
func (s *Service) ScheduleCron(ctx context.Context, executionID, nodeID, cronExpr string, port string) (time.Time, error) {
	sched, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, schema.NewErrorf(schema.ErrCodeValidation,
			"invalid cron expression %q: %s", cronExpr, err.Error()).WithCause(err)
	}

	next := sched.Next(s.now())
	delayMs := next.Sub(s.now()).Milliseconds()
	return s.Schedule(ctx, executionID, nodeID, delayMs, schema.PauseReasonTimer, port)
}

// PollDue atomically drains every entry whose due time has passed. Safe to
// call from multiple workers; each entry lands in at most one poll result.
func (s *Service) PollDue(ctx context.Context) ([]Entry, error) {
	return s.schedule.DrainDue(ctx, s.now())
}

// Cancel removes pending entries for an execution's node, returning how many
// were dropped. Used when a wait resolves before its deadline.
func (s *Service) Cancel(ctx context.Context, executionID, nodeID string) (int, error) {
	return s.schedule.Cancel(ctx, executionID, nodeID)
}

// Pending returns the number of scheduled entries.
func (s *Service) Pending(ctx context.Context) (int, error) {
	return s.schedule.Len(ctx)
}

package hil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/pkg/schema"
)

func TestMonitorTimesOutOverdueInteraction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	monitor := NewMonitor(f.svc, WithWarningThreshold(10*time.Second))

	req := approvalRequest(60)
	in, _, err := f.svc.CreateInteraction(ctx, req)
	require.NoError(t, err)

	// Before the deadline nothing happens.
	f.advance(30 * time.Second)
	require.NoError(t, monitor.RunOnce(ctx))
	got, err := f.store.GetInteraction(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, got.Status)
	assert.Equal(t, 0, f.slack.count("timeout"))

	// Past the deadline the interaction times out with exactly one
	// notification, and timeout_action=continue resumes with a
	// non-error payload.
	f.advance(31 * time.Second)
	require.NoError(t, monitor.RunOnce(ctx))

	got, err = f.store.GetInteraction(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusTimeout, got.Status)
	assert.Equal(t, 1, f.slack.count("timeout"))

	resumes := f.resumes.all()
	require.Len(t, resumes, 1)
	assert.Equal(t, schema.PortTimeout, resumes[0].port)
	assert.Equal(t, "timeout", resumes[0].payload["status"])
	assert.NotContains(t, resumes[0].payload, "error")

	// Overlapping runs are idempotent.
	require.NoError(t, monitor.RunOnce(ctx))
	assert.Equal(t, 1, f.slack.count("timeout"))
	assert.Len(t, f.resumes.all(), 1)
}

func TestMonitorTimeoutActionFail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	monitor := NewMonitor(f.svc, WithWarningThreshold(time.Second))

	req := approvalRequest(60)
	req.RequestPayload = map[string]any{"title": "Approve?", "timeout_action": "fail"}
	_, _, err := f.svc.CreateInteraction(ctx, req)
	require.NoError(t, err)

	f.advance(2 * time.Minute)
	require.NoError(t, monitor.RunOnce(ctx))

	resumes := f.resumes.all()
	require.Len(t, resumes, 1)
	assert.Equal(t, schema.PortError, resumes[0].port)
	assert.Equal(t, schema.ErrCodeTimeout, resumes[0].payload["code"])
}

func TestMonitorTimeoutActionDefaultResponse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	monitor := NewMonitor(f.svc, WithWarningThreshold(time.Second))

	req := approvalRequest(60)
	req.RequestPayload = map[string]any{
		"timeout_action":   "default_response",
		"default_response": map[string]any{"approved": false},
	}
	_, _, err := f.svc.CreateInteraction(ctx, req)
	require.NoError(t, err)

	f.advance(2 * time.Minute)
	require.NoError(t, monitor.RunOnce(ctx))

	resumes := f.resumes.all()
	require.Len(t, resumes, 1)
	assert.Equal(t, schema.PortCompleted, resumes[0].port)
	response, _ := resumes[0].payload["response"].(map[string]any)
	assert.Equal(t, false, response["approved"])
}

func TestMonitorWarningFiresOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	monitor := NewMonitor(f.svc, WithWarningThreshold(5*time.Minute))

	_, _, err := f.svc.CreateInteraction(ctx, approvalRequest(600))
	require.NoError(t, err)

	// Outside the warning window: nothing.
	require.NoError(t, monitor.RunOnce(ctx))
	assert.Equal(t, 0, f.slack.count("warning"))

	// Inside the window: exactly one warning, idempotent across runs.
	f.advance(6 * time.Minute)
	require.NoError(t, monitor.RunOnce(ctx))
	require.NoError(t, monitor.RunOnce(ctx))
	assert.Equal(t, 1, f.slack.count("warning"))
}

func TestMonitorEscalationOpensFreshWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	monitor := NewMonitor(f.svc, WithWarningThreshold(time.Second))

	req := approvalRequest(60)
	req.RequestPayload = map[string]any{
		"timeout_action":     "escalate",
		"escalation_channel": "slack",
	}
	in, _, err := f.svc.CreateInteraction(ctx, req)
	require.NoError(t, err)

	// First expiry escalates instead of terminating.
	f.advance(61 * time.Second)
	require.NoError(t, monitor.RunOnce(ctx))

	got, err := f.store.GetInteraction(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, got.Status)
	assert.True(t, got.Escalated)
	assert.Equal(t, f.now.Add(60*time.Second), got.TimeoutAt)
	assert.Equal(t, 1, f.slack.count("escalation"))
	assert.Empty(t, f.resumes.all())

	// The fresh window can still be resolved.
	f.advance(30 * time.Second)
	require.NoError(t, monitor.RunOnce(ctx))
	got, err = f.store.GetInteraction(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, got.Status)

	// Second expiry is terminal with the escalated status.
	f.advance(31 * time.Second)
	require.NoError(t, monitor.RunOnce(ctx))

	got, err = f.store.GetInteraction(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusEscalated, got.Status)
	resumes := f.resumes.all()
	require.Len(t, resumes, 1)
	assert.Equal(t, schema.PortTimeout, resumes[0].port)
}

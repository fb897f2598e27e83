package hil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/nodeflow/internal/adapter"
	"github.com/rendis/nodeflow/internal/agent"
	"github.com/rendis/nodeflow/internal/store"
)

// stubClassifierModel returns a canned reply or error.
type stubClassifierModel struct {
	reply *agent.Reply
	err   error
	calls int
}

func (s *stubClassifierModel) Name() string { return "stub" }

func (s *stubClassifierModel) Generate(_ context.Context, _ *agent.Request, _ adapter.Credentials) (*agent.Reply, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.reply, nil
}

var classifierEpoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func pendingApproval(createdAt time.Time) *store.Interaction {
	return &store.Interaction{
		ID:              "hil-1",
		ExecutionID:     "exec-1",
		NodeID:          "node-1",
		UserID:          "user-1",
		InteractionType: "approval",
		ChannelType:     "slack",
		Status:          store.StatusPending,
		RequestPayload:  map[string]any{"title": "Deploy to production?"},
		CreatedAt:       createdAt,
	}
}

func heuristicOnly(now time.Time) *Classifier {
	return NewClassifier(nil, nil, WithClassifierClock(func() time.Time { return now }))
}

func TestHeuristicComponentScores(t *testing.T) {
	ctx := context.Background()
	c := heuristicOnly(classifierEpoch)

	cases := []struct {
		name  string
		in    *store.Interaction
		event InboundEvent
		score float64
	}{
		{
			name:  "channel match plus recency",
			in:    pendingApproval(classifierEpoch),
			event: InboundEvent{Channel: "slack", Sender: "someone-else", Text: "hi"},
			score: 0.3 + 0.2,
		},
		{
			name:  "sender match plus recency",
			in:    pendingApproval(classifierEpoch),
			event: InboundEvent{Channel: "email", Sender: "user-1", Text: "hi"},
			score: 0.3 + 0.2,
		},
		{
			name:  "recency decays linearly",
			in:    pendingApproval(classifierEpoch.Add(-30 * time.Minute)),
			event: InboundEvent{Channel: "slack", Sender: "user-1", Text: "hi"},
			score: 0.3 + 0.3 + 0.1,
		},
		{
			name:  "stale interaction loses recency",
			in:    pendingApproval(classifierEpoch.Add(-2 * time.Hour)),
			event: InboundEvent{Channel: "slack", Sender: "user-1", Text: "hi"},
			score: 0.3 + 0.3,
		},
		{
			name:  "nothing matches",
			in:    pendingApproval(classifierEpoch.Add(-2 * time.Hour)),
			event: InboundEvent{Channel: "email", Sender: "stranger", Text: "newsletter"},
			score: 0,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := c.Classify(ctx, tc.in, tc.event)
			assert.InDelta(t, tc.score, v.Score, 1e-9)
		})
	}
}

func TestHeuristicKeywordOverlap(t *testing.T) {
	ctx := context.Background()
	c := heuristicOnly(classifierEpoch)

	in := pendingApproval(classifierEpoch)
	in.InteractionType = "selection"
	in.RequestPayload = map[string]any{
		"options": []any{"staging", "production"},
	}

	// Both options named: full keyword weight on top of channel, sender
	// and recency.
	v := c.Classify(ctx, in, InboundEvent{
		Channel: "slack",
		Sender:  "user-1",
		Text:    "Production, not staging!",
	})
	assert.InDelta(t, 0.3+0.3+0.2+0.2, v.Score, 1e-9)
	assert.Equal(t, "relevant", v.Classification)
}

func TestClassificationBands(t *testing.T) {
	assert.Equal(t, "relevant", classificationFor(0.7))
	assert.Equal(t, "relevant", classificationFor(0.95))
	assert.Equal(t, "uncertain", classificationFor(0.4))
	assert.Equal(t, "uncertain", classificationFor(0.69))
	assert.Equal(t, "filtered", classificationFor(0.39))
	assert.Equal(t, "filtered", classificationFor(0))
}

func TestClassifierPrefersAIVerdict(t *testing.T) {
	ctx := context.Background()
	model := &stubClassifierModel{reply: &agent.Reply{
		Content: `{"score": 0.92, "reasoning": "direct approval of the named deploy", "classification": "relevant"}`,
	}}
	c := NewClassifier(model, nil, WithClassifierClock(func() time.Time { return classifierEpoch }))

	v := c.Classify(ctx, pendingApproval(classifierEpoch), InboundEvent{
		Channel: "slack",
		Sender:  "user-1",
		Text:    "yes, approve the deploy",
	})
	assert.Equal(t, 1, model.calls)
	assert.InDelta(t, 0.92, v.Score, 1e-9)
	assert.Equal(t, "relevant", v.Classification)
}

func TestClassifierStripsLeadingProse(t *testing.T) {
	ctx := context.Background()
	model := &stubClassifierModel{reply: &agent.Reply{
		Content: `Sure, here is my assessment: {"score": 0.1, "reasoning": "unrelated chatter"}`,
	}}
	c := NewClassifier(model, nil, WithClassifierClock(func() time.Time { return classifierEpoch }))

	v := c.Classify(ctx, pendingApproval(classifierEpoch), InboundEvent{Channel: "email"})
	assert.InDelta(t, 0.1, v.Score, 1e-9)
	// Missing classification is derived from the score.
	assert.Equal(t, "filtered", v.Classification)
}

func TestClassifierFallsBackOnModelError(t *testing.T) {
	ctx := context.Background()
	model := &stubClassifierModel{err: errors.New("provider unavailable")}
	c := NewClassifier(model, nil, WithClassifierClock(func() time.Time { return classifierEpoch }))

	v := c.Classify(ctx, pendingApproval(classifierEpoch), InboundEvent{
		Channel: "slack",
		Sender:  "user-1",
	})
	require.NotNil(t, v)
	// Heuristic verdict: channel + sender + full recency.
	assert.InDelta(t, 0.3+0.3+0.2, v.Score, 1e-9)
	assert.Contains(t, v.Reasoning, "heuristic")
}

func TestClassifierFallsBackOnUnparsableOutput(t *testing.T) {
	ctx := context.Background()

	for _, content := range []string{
		"I cannot answer that.",
		`{"score": 7, "reasoning": "out of range"}`,
	} {
		model := &stubClassifierModel{reply: &agent.Reply{Content: content}}
		c := NewClassifier(model, nil, WithClassifierClock(func() time.Time { return classifierEpoch }))

		v := c.Classify(ctx, pendingApproval(classifierEpoch), InboundEvent{Channel: "slack"})
		require.NotNil(t, v)
		assert.Contains(t, v.Reasoning, "heuristic")
	}
}

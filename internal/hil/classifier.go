package hil

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/rendis/nodeflow/internal/adapter"
	"github.com/rendis/nodeflow/internal/agent"
	"github.com/rendis/nodeflow/internal/store"
)

// InboundEvent is a channel-specific message envelope normalized to the
// fields the classifier scores on. Missing fields contribute zero, never
// a fault.
type InboundEvent struct {
	Channel   string         `json:"channel"`
	ChannelID string         `json:"channel_id,omitempty"`
	Sender    string         `json:"sender,omitempty"`
	Text      string         `json:"text,omitempty"`
	Timestamp time.Time      `json:"timestamp,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Verdict is the classifier's output for one (interaction, event) pair.
type Verdict struct {
	Score          float64 `json:"score"`
	Reasoning      string  `json:"reasoning"`
	Classification string  `json:"classification"` // relevant, filtered or uncertain
}

// disagreementLimit is how far the AI score may drift from the heuristic
// before the pair is logged for review.
const disagreementLimit = 0.4

// Classifier scores how likely an inbound event answers a pending
// interaction. It prefers an AI verdict and falls back to a deterministic
// heuristic whenever the model call fails or returns unparsable output.
type Classifier struct {
	model  agent.ModelAdapter
	creds  adapter.Credentials
	logger *slog.Logger
	now    func() time.Time
}

// ClassifierOption configures a Classifier.
type ClassifierOption func(*Classifier)

// WithClassifierClock overrides the time source, for tests.
func WithClassifierClock(now func() time.Time) ClassifierOption {
	return func(c *Classifier) { c.now = now }
}

// WithClassifierLogger sets the classifier logger.
func WithClassifierLogger(logger *slog.Logger) ClassifierOption {
	return func(c *Classifier) { c.logger = logger }
}

// NewClassifier creates a Classifier. A nil model means heuristic-only.
func NewClassifier(model agent.ModelAdapter, creds adapter.Credentials, opts ...ClassifierOption) *Classifier {
	c := &Classifier{
		model:  model,
		creds:  creds,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify scores the event against the interaction. Never returns an
// error: every failure path degrades to the heuristic verdict.
func (c *Classifier) Classify(ctx context.Context, in *store.Interaction, event InboundEvent) *Verdict {
	heuristic := c.heuristic(in, event)
	if c.model == nil {
		return heuristic
	}

	verdict, err := c.aiVerdict(ctx, in, event)
	if err != nil {
		c.logger.Warn("relevance model call failed, using heuristic",
			"interaction", in.ID, "error", err)
		return heuristic
	}

	if math.Abs(verdict.Score-heuristic.Score) > disagreementLimit {
		c.logger.Warn("relevance classifier disagreement",
			"interaction", in.ID,
			"ai_score", verdict.Score,
			"heuristic_score", heuristic.Score)
	}
	return verdict
}

func (c *Classifier) aiVerdict(ctx context.Context, in *store.Interaction, event InboundEvent) (*Verdict, error) {
	interactionJSON, _ := json.Marshal(map[string]any{
		"interaction_type": in.InteractionType,
		"channel_type":     in.ChannelType,
		"user_id":          in.UserID,
		"request_payload":  in.RequestPayload,
		"created_at":       in.CreatedAt,
	})
	eventJSON, _ := json.Marshal(event)

	prompt := fmt.Sprintf(`A workflow is waiting for a human response. Decide whether the inbound message answers it.

Pending interaction:
%s

Inbound message:
%s

Respond with only a JSON object: {"score": <0..1>, "reasoning": "<one sentence>", "classification": "relevant"|"filtered"|"uncertain"}`,
		interactionJSON, eventJSON)

	reply, err := c.model.Generate(ctx, &agent.Request{
		System:   "You match inbound messages to pending human-in-the-loop interactions. Output strict JSON.",
		Messages: []agent.Message{{Role: agent.RoleUser, Content: prompt}},
	}, c.creds)
	if err != nil {
		return nil, err
	}

	var verdict Verdict
	content := strings.TrimSpace(reply.Content)
	if idx := strings.Index(content, "{"); idx > 0 {
		content = content[idx:]
	}
	if err := json.Unmarshal([]byte(content), &verdict); err != nil {
		return nil, fmt.Errorf("unparsable verdict %q: %w", reply.Content, err)
	}
	if verdict.Score < 0 || verdict.Score > 1 {
		return nil, fmt.Errorf("verdict score %v out of range", verdict.Score)
	}
	if verdict.Classification == "" {
		verdict.Classification = classificationFor(verdict.Score)
	}
	return &verdict, nil
}

// heuristic is the deterministic fallback: weighted channel match, user
// match, recency decay and keyword overlap.
func (c *Classifier) heuristic(in *store.Interaction, event InboundEvent) *Verdict {
	var score float64
	var parts []string

	if event.Channel != "" && strings.EqualFold(event.Channel, in.ChannelType) {
		score += 0.3
		parts = append(parts, "channel match")
	}
	if event.Sender != "" && in.UserID != "" && strings.EqualFold(event.Sender, in.UserID) {
		score += 0.3
		parts = append(parts, "sender match")
	}

	// Fresh interactions are more likely targets; contribution decays to
	// zero over an hour.
	age := c.now().Sub(in.CreatedAt)
	if age < 0 {
		age = 0
	}
	recency := 1.0 - float64(age)/float64(time.Hour)
	if recency > 0 {
		score += 0.2 * recency
		parts = append(parts, "recent interaction")
	}

	if overlap := keywordOverlap(in, event.Text); overlap > 0 {
		score += 0.2 * overlap
		parts = append(parts, "keyword overlap")
	}

	if score > 1 {
		score = 1
	}
	reasoning := "no heuristic signals matched"
	if len(parts) > 0 {
		reasoning = "heuristic: " + strings.Join(parts, ", ")
	}
	return &Verdict{
		Score:          score,
		Reasoning:      reasoning,
		Classification: classificationFor(score),
	}
}

func classificationFor(score float64) string {
	switch {
	case score >= relevanceThreshold:
		return "relevant"
	case score >= 0.4:
		return "uncertain"
	default:
		return "filtered"
	}
}

// keywordOverlap measures how much of the expected response vocabulary the
// event text covers, in [0,1].
func keywordOverlap(in *store.Interaction, text string) float64 {
	if text == "" {
		return 0
	}
	words := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		words[strings.Trim(w, ".,!?:;\"'")] = true
	}

	expected := expectedKeywords(in)
	if len(expected) == 0 {
		return 0
	}
	hits := 0
	for _, kw := range expected {
		if words[kw] {
			hits++
		}
	}
	return float64(hits) / float64(len(expected))
}

// expectedKeywords derives the vocabulary a response to this interaction
// would plausibly use.
func expectedKeywords(in *store.Interaction) []string {
	var out []string
	switch in.InteractionType {
	case "approval", "review":
		out = append(out, "yes", "no", "approve", "approved", "reject", "rejected", "deny", "lgtm")
	}
	if options, ok := in.RequestPayload["options"].([]any); ok {
		for _, opt := range options {
			if s, ok := opt.(string); ok {
				out = append(out, strings.ToLower(s))
			}
		}
	}
	if title, ok := in.RequestPayload["title"].(string); ok {
		for _, w := range strings.Fields(strings.ToLower(title)) {
			if len(w) > 3 {
				out = append(out, w)
			}
		}
	}
	return out
}

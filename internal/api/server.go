// Package api exposes the HTTP surface for human-in-the-loop interactions:
// listing and resolving pending interactions, the inbound channel webhook,
// and the SSE event stream.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/rendis/nodeflow/internal/events"
	"github.com/rendis/nodeflow/internal/hil"
	"github.com/rendis/nodeflow/internal/logging"
	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/pkg/schema"
)

// Deps holds the dependencies for the API server.
type Deps struct {
	HIL    *hil.Service
	Store  store.Store
	Hub    events.Hub
	Logger *slog.Logger
}

// Server serves the interaction API.
type Server struct {
	deps Deps
}

// NewServer creates a Server.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Server{deps: deps}
}

// Handler returns the HTTP handler for the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("GET /api/interactions", s.handleListInteractions)
	mux.HandleFunc("GET /api/interactions/{id}", s.handleGetInteraction)
	mux.HandleFunc("POST /api/interactions/{id}/resolve", s.handleResolveInteraction)

	// Channel webhooks deliver inbound human responses.
	mux.HandleFunc("POST /api/inbound/{channel}", s.handleInbound)

	// SSE stream of lifecycle events.
	mux.HandleFunc("GET /sse/events", s.handleSSE)

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListInteractions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.InteractionFilter{
		Status:      store.InteractionStatus(q.Get("status")),
		UserID:      q.Get("user_id"),
		ExecutionID: q.Get("execution_id"),
		ChannelType: q.Get("channel"),
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Limit = n
		}
	}

	list, err := s.deps.Store.ListInteractions(r.Context(), filter)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	if list == nil {
		list = []*store.Interaction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"interactions": list})
}

func (s *Server) handleGetInteraction(w http.ResponseWriter, r *http.Request) {
	in, err := s.deps.Store.GetInteraction(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, in)
}

func (s *Server) handleResolveInteraction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx := logging.WithInteractionID(r.Context(), id)

	var body struct {
		Response   map[string]any `json:"response"`
		ResolvedBy string         `json:"resolved_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if body.ResolvedBy == "" {
		body.ResolvedBy = "api"
	}

	in, err := s.deps.HIL.ResolveInteraction(ctx, id, body.Response, body.ResolvedBy)
	if err != nil {
		writeFlowError(w, err)
		return
	}

	s.deps.Logger.InfoContext(ctx, "interaction resolved via api", "resolved_by", body.ResolvedBy)
	writeJSON(w, http.StatusOK, map[string]any{
		"interaction_id": in.ID,
		"status":         in.Status,
		"resolved_by":    in.ResolvedBy,
	})
}

func (s *Server) handleInbound(w http.ResponseWriter, r *http.Request) {
	channel := r.PathValue("channel")

	var body struct {
		ChannelID string         `json:"channel_id"`
		Sender    string         `json:"sender"`
		Text      string         `json:"text"`
		Timestamp time.Time      `json:"timestamp"`
		Payload   map[string]any `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if body.Timestamp.IsZero() {
		body.Timestamp = time.Now().UTC()
	}

	resolved, verdict, err := s.deps.HIL.HandleInbound(r.Context(), hil.InboundEvent{
		Channel:   channel,
		ChannelID: body.ChannelID,
		Sender:    body.Sender,
		Text:      body.Text,
		Timestamp: body.Timestamp,
		Payload:   body.Payload,
	})
	if err != nil {
		writeFlowError(w, err)
		return
	}

	out := map[string]any{"matched": resolved != nil}
	if verdict != nil {
		out["score"] = verdict.Score
		out["classification"] = verdict.Classification
	}
	if resolved != nil {
		out["interaction_id"] = resolved.ID
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeFlowError maps structured engine errors onto HTTP statuses.
func writeFlowError(w http.ResponseWriter, err error) {
	var ferr *schema.FlowError
	if !errors.As(err, &ferr) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	status := http.StatusInternalServerError
	switch ferr.Code {
	case schema.ErrCodeValidation:
		status = http.StatusBadRequest
	case schema.ErrCodeNotFound:
		status = http.StatusNotFound
	case schema.ErrCodeConflict, schema.ErrCodeInvalidState:
		status = http.StatusConflict
	case schema.ErrCodeAuthentication:
		status = http.StatusUnauthorized
	case schema.ErrCodeRateLimit:
		status = http.StatusTooManyRequests
	}
	writeJSON(w, status, map[string]string{"error": ferr.Message, "code": ferr.Code})
}

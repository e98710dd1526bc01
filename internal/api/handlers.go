package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/SupportPipe/internal/flow"
	"github.com/BTreeMap/SupportPipe/internal/models"
	"github.com/google/uuid"
)

// MessageRequest is the body of POST /messages.
type MessageRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Text           string `json:"text"`
}

// MessageResult is the result payload of POST /messages.
type MessageResult struct {
	ConversationID string     `json:"conversation_id"`
	Reply          flow.Reply `json:"reply"`
}

// FeedbackRequest is the body of POST /feedback.
type FeedbackRequest struct {
	ConversationID string `json:"conversation_id"`
	Verdict        string `json:"verdict"`
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

func (s *Server) messagesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req MessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		slog.Warn("Server.messagesHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
		slog.Debug("Server.messagesHandler: generated conversation id", "conversationID", req.ConversationID)
	}

	reply, err := s.conversations.Handle(r.Context(), req.ConversationID, req.Text)
	result := MessageResult{ConversationID: req.ConversationID, Reply: reply}
	if err != nil {
		slog.Error("Server.messagesHandler: handle failed", "error", err, "conversationID", req.ConversationID)
		writeReplyFailure(w, err, result)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(result))
}

func (s *Server) conversationHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	switch r.Method {
	case http.MethodGet:
		state, err := s.conversations.State(r.Context(), id)
		if err != nil {
			slog.Error("Server.conversationHandler: state lookup failed", "error", err, "conversationID", id)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load conversation"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(state))
	case http.MethodDelete:
		if err := s.conversations.Reset(r.Context(), id); err != nil {
			slog.Error("Server.conversationHandler: reset failed", "error", err, "conversationID", id)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to reset conversation"))
			return
		}
		if s.opts.OnReset != nil {
			s.opts.OnReset(id)
		}
		slog.Info("Server.conversationHandler: conversation reset", "conversationID", id)
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Conversation reset", nil))
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodDelete)
	}
}

func (s *Server) feedbackHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.postFeedback(w, r)
	case http.MethodGet:
		s.listFeedback(w, r)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (s *Server) postFeedback(w http.ResponseWriter, r *http.Request) {
	var req FeedbackRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.ConversationID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(models.ErrEmptyConversationID.Error()))
		return
	}
	verdict, err := models.ParseVerdict(req.Verdict)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	switch err := s.conversations.Feedback(r.Context(), req.ConversationID, verdict); {
	case errors.Is(err, flow.ErrNothingToRate):
		writeJSONResponse(w, http.StatusConflict, models.Error(err.Error()))
	case err != nil:
		slog.Error("Server.postFeedback: feedback failed", "error", err, "conversationID", req.ConversationID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to record feedback"))
	default:
		writeJSONResponse(w, http.StatusOK, models.Recorded("Feedback recorded"))
	}
}

func (s *Server) listFeedback(w http.ResponseWriter, r *http.Request) {
	if s.opts.Feedback == nil {
		writeJSONResponse(w, http.StatusNotImplemented, models.Error("Feedback storage not configured"))
		return
	}
	limit := DefaultFeedbackLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid limit"))
			return
		}
		limit = n
	}
	records, err := s.opts.Feedback.ListFeedback(r.Context(), limit)
	if err != nil {
		slog.Error("Server.listFeedback: list failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list feedback"))
		return
	}
	if records == nil {
		records = []models.Feedback{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(records))
}

// healthHandler provides a health check endpoint for monitoring and load balancing.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	healthData := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if s.opts.Counter != nil {
		healthData["conversations"] = s.opts.Counter()
	}
	statusCode := http.StatusOK
	if s.opts.Feedback != nil {
		if _, err := s.opts.Feedback.ListFeedback(ctx, 1); err != nil {
			slog.Warn("Health check: feedback storage unavailable", "error", err)
			healthData["status"] = "degraded"
			healthData["error"] = "Feedback storage unavailable"
			statusCode = http.StatusServiceUnavailable
		}
	}
	writeJSONResponse(w, statusCode, healthData)
}

package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/librarian-ai/librarian/internal/session"
	"github.com/librarian-ai/librarian/internal/stream"
	"github.com/librarian-ai/librarian/internal/turn"
)

// maxChatBodyBytes caps the chat request body size.
const maxChatBodyBytes = 1 << 20 // 1 MB

// chatHandler serves the streaming chat endpoint.
type chatHandler struct {
	orchestrator *turn.Orchestrator
	logger       *slog.Logger
}

// chatRequest is the POST /api/v1/chat/stream body.
type chatRequest struct {
	SessionID string            `json:"sessionId"`
	Message   string            `json:"message"`
	Requester session.Requester `json:"requester"`
}

// stream runs one turn and relays its events as SSE.
//
// Precondition failures (unknown session, busy session, bad request)
// are returned as plain JSON with an appropriate status code. Once the
// turn has started, the response is committed to text/event-stream and
// any further failure arrives as an in-stream error event.
func (h *chatHandler) stream(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	body := io.LimitReader(r.Body, maxChatBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "request body must be JSON", h.logger)
		return
	}

	sessionID, err := uuid.Parse(req.SessionID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_session_id", "sessionId must be a UUID", h.logger)
		return
	}

	requester := req.Requester
	if requester.Type == "" {
		requester.Type = session.RequesterHuman
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.logger.Error("response writer does not support flushing")
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "streaming not supported", h.logger)
		return
	}

	events, err := h.orchestrator.Run(r.Context(), sessionID, req.Message, requester)
	if err != nil {
		h.writeRunError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	enc := stream.NewEncoder(w)
	for ev := range events {
		if err := enc.Encode(ev); err != nil {
			// Client gone. The orchestrator notices via r.Context();
			// drain the channel so the turn goroutine can finish.
			h.logger.Debug("client disconnected mid-stream",
				"session_id", sessionID, "error", err)
			for range events { //nolint:revive // drain
			}
			return
		}
	}
}

func (h *chatHandler) writeRunError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, turn.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, "empty_message", "message is required", h.logger)
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, "session_not_found", "session does not exist", h.logger)
	case errors.Is(err, session.ErrTurnInProgress):
		writeError(w, http.StatusConflict, "turn_in_progress", "a turn is already running on this session", h.logger)
	default:
		h.logger.Error("starting turn", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", h.logger)
	}
}
